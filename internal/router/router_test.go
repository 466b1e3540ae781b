package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"liveclass/internal/protocol"
	"liveclass/internal/session"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

type fakeSender struct {
	mu     sync.Mutex
	events []types.Event
	closed bool
}

func (f *fakeSender) Send(event types.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeSender) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) ofType(eventType string) []types.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Event
	for _, ev := range f.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// errorCodes lists the codes of all error events received
func (f *fakeSender) errorCodes() []string {
	var codes []string
	for _, ev := range f.ofType(protocol.EventError) {
		codes = append(codes, ev.Payload.(protocol.ErrorPayload).Code)
	}
	return codes
}

// fakeVerifier accepts tokens of the form "userID:role"
type fakeVerifier struct{}

func (fakeVerifier) Verify(token string) (types.Identity, error) {
	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 {
		return types.Identity{}, interfaces.ErrTokenInvalid
	}
	role, err := types.ParseRole(parts[1])
	if err != nil {
		return types.Identity{}, interfaces.ErrTokenInvalid
	}
	return types.Identity{UserID: parts[0], Name: "Name " + parts[0], Role: role}, nil
}

type fakeStore struct {
	mu   sync.Mutex
	data map[string]json.RawMessage
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]json.RawMessage)}
}

func (s *fakeStore) SaveWorkspace(ctx context.Context, code, userID string, data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[code+"/"+userID] = data
	return nil
}

func (s *fakeStore) LoadWorkspace(ctx context.Context, code, userID string) (*types.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[code+"/"+userID]
	if !ok {
		return nil, interfaces.ErrWorkspaceNotFound
	}
	return &types.Workspace{SessionCode: code, UserID: userID, Data: data}, nil
}

func (s *fakeStore) HealthCheck(ctx context.Context) error { return nil }
func (s *fakeStore) Close() error                          { return nil }

type fakeArchive struct {
	mu       sync.Mutex
	messages map[string][]types.ChatMessage // code/roomID -> messages
	fail     error
}

func (a *fakeArchive) ArchiveChatMessage(ctx context.Context, code, roomID string, msg types.ChatMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return a.fail
	}
	if a.messages == nil {
		a.messages = make(map[string][]types.ChatMessage)
	}
	a.messages[code+"/"+roomID] = append(a.messages[code+"/"+roomID], msg)
	return nil
}

func (a *fakeArchive) GetChatHistory(ctx context.Context, code, roomID string, limit int) ([]types.ChatMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]types.ChatMessage(nil), a.messages[code+"/"+roomID]...), nil
}

type fakeTerminals struct {
	mu     sync.Mutex
	sinks  map[types.TerminalKey]interfaces.TerminalSink
	input  []string
	killed []types.TerminalKey
}

func newFakeTerminals() *fakeTerminals {
	return &fakeTerminals{sinks: make(map[types.TerminalKey]interfaces.TerminalSink)}
}

func (f *fakeTerminals) CreateTerminal(ctx context.Context, key types.TerminalKey, size types.TerminalSize, sink interfaces.TerminalSink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sinks[key]; ok {
		return interfaces.ErrTerminalExists
	}
	f.sinks[key] = sink
	return nil
}

func (f *fakeTerminals) WriteToTerminal(key types.TerminalKey, data []byte) error {
	f.mu.Lock()
	sink, ok := f.sinks[key]
	if ok {
		f.input = append(f.input, string(data))
	}
	f.mu.Unlock()
	if !ok {
		return interfaces.ErrTerminalNotFound
	}
	sink.TerminalOutput(key, data)
	return nil
}

func (f *fakeTerminals) ResizeTerminal(key types.TerminalKey, size types.TerminalSize) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sinks[key]; !ok {
		return interfaces.ErrTerminalNotFound
	}
	return nil
}

func (f *fakeTerminals) KillTerminal(key types.TerminalKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sinks[key]; !ok {
		return interfaces.ErrTerminalNotFound
	}
	delete(f.sinks, key)
	f.killed = append(f.killed, key)
	return nil
}

func (f *fakeTerminals) ExecuteCommand(ctx context.Context, key types.TerminalKey, command string) (*types.ExecResult, error) {
	return &types.ExecResult{Stdout: "ran " + command}, nil
}

func (f *fakeTerminals) SyncFiles(ctx context.Context, key types.TerminalKey, files []types.WorkspaceFile) error {
	return nil
}

type harness struct {
	router    *Router
	registry  *session.Registry
	store     *fakeStore
	archive   *fakeArchive
	terminals *fakeTerminals
}

func newHarness(t *testing.T, chatLimit int) *harness {
	t.Helper()
	registry := session.NewRegistry(session.DefaultOptions())
	h := &harness{
		registry:  registry,
		store:     newFakeStore(),
		archive:   &fakeArchive{},
		terminals: newFakeTerminals(),
	}
	h.router = NewRouter(session.NewPresence(registry), fakeVerifier{}, Options{
		Store:         h.store,
		Archive:       h.archive,
		Terminals:     h.terminals,
		ChatRateLimit: chatLimit,
		StoreTimeout:  time.Second,
	})
	return h
}

func (h *harness) connect(id string) (*session.Participant, *fakeSender) {
	sender := &fakeSender{}
	return session.NewParticipant(id, sender), sender
}

// frame sends a raw JSON message through the router
func (h *harness) frame(p *session.Participant, msgType string, payload interface{}) {
	env := map[string]interface{}{"type": msgType}
	if payload != nil {
		env["payload"] = payload
	}
	data, _ := json.Marshal(env)
	h.router.HandleFrame(context.Background(), p, data)
}

func (h *harness) join(t *testing.T, p *session.Participant, token, code string) {
	t.Helper()
	h.frame(p, protocol.TypeJoinSession, map[string]string{"sessionCode": code, "authToken": token})
	if p.SessionCode() == "" {
		t.Fatalf("join with %s failed", token)
	}
}

func TestJoinErrors(t *testing.T) {
	h := newHarness(t, 0)
	p, send := h.connect("c1")

	h.frame(p, protocol.TypeJoinSession, map[string]string{"sessionCode": "ABC-123", "authToken": "bogus"})
	h.frame(p, protocol.TypeJoinSession, map[string]string{"sessionCode": "ABC-123"})
	h.frame(p, protocol.TypeJoinSession, map[string]string{"sessionCode": "ABC-123", "authToken": "s1:student"})

	want := []string{protocol.CodeAuthInvalid, protocol.CodeAuthInvalid, protocol.CodeSessionNotFound}
	if got := send.errorCodes(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected codes %v, got %v", want, got)
	}
}

func TestProtocolViolationsReportedToSenderOnly(t *testing.T) {
	h := newHarness(t, 0)
	teacher, tSend := h.connect("c-t")
	student, sSend := h.connect("c-s")
	h.join(t, teacher, "t1:teacher", "ABC-123")
	h.join(t, student, "s1:student", "ABC-123")

	h.router.HandleFrame(context.Background(), student, []byte("{not json"))
	h.frame(student, "draw-picture", nil)
	h.frame(student, protocol.TypeCodeChange, map[string]string{"content": "x"})

	want := []string{protocol.CodeMalformed, protocol.CodeUnknownType, protocol.CodeInvalidPayload}
	if got := sSend.errorCodes(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected codes %v, got %v", want, got)
	}
	if len(tSend.ofType(protocol.EventError)) != 0 || len(tSend.ofType(protocol.EventCodeUpdate)) != 0 {
		t.Error("violations must not reach other participants")
	}
}

func TestNotInSessionRejected(t *testing.T) {
	h := newHarness(t, 0)
	p, send := h.connect("c1")

	h.frame(p, protocol.TypeCodeChange, map[string]string{"fileId": "f", "content": "x"})
	h.frame(p, protocol.TypeCallJoin, nil)
	h.frame(p, protocol.TypeLeaveSession, nil)

	want := []string{protocol.CodeNotInSession, protocol.CodeNotInSession}
	if got := send.errorCodes(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected codes %v, got %v", want, got)
	}
}

func TestChatRateLimitAndArchive(t *testing.T) {
	h := newHarness(t, 2)
	teacher, tSend := h.connect("c-t")
	h.join(t, teacher, "t1:teacher", "ABC-123")

	for i := 0; i < 3; i++ {
		h.frame(teacher, protocol.TypeChatMessage, map[string]string{"content": fmt.Sprintf("hi %d", i)})
	}
	h.router.Wait()

	if got := len(tSend.ofType(protocol.EventChatMessage)); got != 2 {
		t.Errorf("expected 2 echoed messages, got %d", got)
	}
	if got := tSend.errorCodes(); len(got) != 1 || got[0] != protocol.CodeRateLimited {
		t.Errorf("expected one rate_limited rejection, got %v", got)
	}
	room, _ := h.registry.Room("ABC-123")
	history, _ := h.archive.GetChatHistory(context.Background(), "ABC-123", room.RoomID(), 10)
	if len(history) != 2 {
		t.Errorf("expected 2 archived messages under the live room, got %d", len(history))
	}
}

func TestChatArchiveFollowsRoomIncarnation(t *testing.T) {
	h := newHarness(t, 0)
	first, _ := h.connect("c-1")
	h.join(t, first, "t1:teacher", "ABC-123")
	h.frame(first, protocol.TypeChatMessage, map[string]string{"content": "first class"})
	old, _ := h.registry.Room("ABC-123")
	h.frame(first, protocol.TypeLeaveSession, nil)
	h.router.Wait()

	second, _ := h.connect("c-2")
	h.join(t, second, "t2:teacher", "ABC-123")
	h.frame(second, protocol.TypeChatMessage, map[string]string{"content": "second class"})
	h.router.Wait()

	fresh, _ := h.registry.Room("ABC-123")
	if fresh == old || fresh.RoomID() == old.RoomID() {
		t.Fatal("re-created code should get a new room id")
	}
	history, _ := h.archive.GetChatHistory(context.Background(), "ABC-123", fresh.RoomID(), 10)
	if len(history) != 1 || history[0].Content != "second class" || history[0].ID != 1 {
		t.Errorf("expected only the second class's chat, got %+v", history)
	}
}

func TestArchiveFailureIsWrapped(t *testing.T) {
	h := newHarness(t, 0)
	h.archive.fail = errors.New("disk full")
	err := h.router.archiveChat("ABC-123", "room-1", types.ChatMessage{ID: 1, Content: "hi"})
	if !errors.Is(err, ErrArchiveFailed) {
		t.Errorf("expected ErrArchiveFailed, got %v", err)
	}
}

func TestSignalToDepartedPeerIsSilent(t *testing.T) {
	h := newHarness(t, 0)
	teacher, _ := h.connect("c-t")
	s1, _ := h.connect("c-s1")
	s2, s2Send := h.connect("c-s2")
	h.join(t, teacher, "t1:teacher", "XYZ-987")
	h.join(t, s1, "s1:student", "XYZ-987")
	h.join(t, s2, "s2:student", "XYZ-987")
	h.frame(s1, protocol.TypeCallJoin, nil)
	h.frame(s2, protocol.TypeCallJoin, nil)

	h.router.Disconnect(s1)
	h.router.Disconnect(s1)

	h.frame(s2, protocol.TypeWebRTCICE, map[string]interface{}{
		"targetConnectionId": "c-s1",
		"payload":            map[string]string{"candidate": "x"},
	})
	if codes := s2Send.errorCodes(); len(codes) != 0 {
		t.Errorf("dropped signal should not produce errors, got %v", codes)
	}
	if got := len(s2Send.ofType(protocol.EventCallUserLeft)); got != 1 {
		t.Errorf("expected exactly one call-user-left, got %d", got)
	}
}

func TestWorkspaceAccess(t *testing.T) {
	h := newHarness(t, 0)
	teacher, tSend := h.connect("c-t")
	s1, s1Send := h.connect("c-s1")
	s2, _ := h.connect("c-s2")
	h.join(t, teacher, "t1:teacher", "ABC-123")
	h.join(t, s1, "s1:student", "ABC-123")
	h.join(t, s2, "s2:student", "ABC-123")

	h.frame(teacher, protocol.TypeWorkspaceSave, map[string]interface{}{"data": map[string]string{"main.py": "print(1)"}})
	h.frame(s2, protocol.TypeWorkspaceSave, map[string]interface{}{"data": map[string]string{"a.py": "x"}})
	if len(tSend.ofType(protocol.EventWorkspaceSaved)) != 1 {
		t.Fatal("teacher expected workspace-saved")
	}

	h.frame(s1, protocol.TypeWorkspaceLoad, map[string]string{"userId": "t1"})
	loaded := s1Send.ofType(protocol.EventWorkspaceLoaded)
	if len(loaded) != 1 || loaded[0].Payload.(protocol.WorkspaceLoaded).UserID != "t1" {
		t.Fatalf("student should load the teacher workspace, got %+v", loaded)
	}

	h.frame(s1, protocol.TypeWorkspaceLoad, map[string]string{"userId": "s2"})
	h.frame(s1, protocol.TypeWorkspaceLoad, nil)
	want := []string{protocol.CodeForbidden, protocol.CodeNotFound}
	if got := s1Send.errorCodes(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected codes %v, got %v", want, got)
	}

	h.frame(teacher, protocol.TypeWorkspaceLoad, map[string]string{"userId": "s2"})
	if len(tSend.ofType(protocol.EventWorkspaceLoaded)) != 1 {
		t.Error("room teacher should load a student workspace")
	}
}

func TestTerminalLifecycle(t *testing.T) {
	h := newHarness(t, 0)
	teacher, _ := h.connect("c-t")
	s1, s1Send := h.connect("c-s1")
	h.join(t, teacher, "t1:teacher", "ABC-123")
	h.join(t, s1, "s1:student", "ABC-123")

	h.frame(s1, protocol.TypeTerminalCreate, map[string]interface{}{"size": map[string]int{"cols": 80, "rows": 24}})
	h.frame(s1, protocol.TypeTerminalCreate, nil)
	h.frame(s1, protocol.TypeTerminalInput, map[string]string{"data": "ls\n"})
	h.frame(s1, protocol.TypeTerminalExec, map[string]string{"command": "python main.py"})
	h.router.Wait()

	if len(s1Send.ofType(protocol.EventTerminalCreated)) != 1 {
		t.Error("expected terminal-created")
	}
	if got := s1Send.errorCodes(); len(got) != 1 || got[0] != protocol.CodeForbidden {
		t.Errorf("second create should be forbidden, got %v", got)
	}
	out := s1Send.ofType(protocol.EventTerminalOutput)
	if len(out) != 1 || out[0].Payload.(protocol.TerminalOutput).Data != "ls\n" {
		t.Errorf("expected echoed terminal output, got %+v", out)
	}
	results := s1Send.ofType(protocol.EventTerminalExecResult)
	if len(results) != 1 || results[0].Payload.(protocol.TerminalExecResult).Stdout != "ran python main.py" {
		t.Errorf("unexpected exec result: %+v", results)
	}

	h.frame(s1, protocol.TypeLeaveSession, nil)
	if len(s1Send.ofType(protocol.EventSessionLeft)) != 1 {
		t.Error("expected session-left confirmation")
	}
	h.terminals.mu.Lock()
	killed := len(h.terminals.killed)
	h.terminals.mu.Unlock()
	if killed != 1 {
		t.Errorf("terminal should be killed on leave, killed=%d", killed)
	}
}

func TestTerminalsDisabled(t *testing.T) {
	registry := session.NewRegistry(session.DefaultOptions())
	r := NewRouter(session.NewPresence(registry), fakeVerifier{}, Options{})
	sender := &fakeSender{}
	p := session.NewParticipant("c-t", sender)
	r.Dispatch(context.Background(), p, protocol.JoinSession{SessionCode: "ABC-123", AuthToken: "t1:teacher"})
	r.Dispatch(context.Background(), p, protocol.TerminalKill{})
	r.Dispatch(context.Background(), p, protocol.WorkspaceLoad{})

	want := []string{protocol.CodeUnavailable, protocol.CodeUnavailable}
	if got := sender.errorCodes(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected codes %v, got %v", want, got)
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&protocol.Error{Code: protocol.CodeMalformed, Err: protocol.ErrMalformed}, protocol.CodeMalformed},
		{session.ErrAuthInvalid, protocol.CodeAuthInvalid},
		{fmt.Errorf("wrapped: %w", interfaces.ErrTokenInvalid), protocol.CodeAuthInvalid},
		{session.ErrSessionNotFound, protocol.CodeSessionNotFound},
		{session.ErrNotInSession, protocol.CodeNotInSession},
		{session.ErrNotInCall, protocol.CodeNotInCall},
		{ErrRateLimitExceeded, protocol.CodeRateLimited},
		{ErrForbidden, protocol.CodeForbidden},
		{interfaces.ErrWorkspaceNotFound, protocol.CodeNotFound},
		{session.ErrRoomUnavailable, protocol.CodeUnavailable},
		{session.ErrEmptyMessage, protocol.CodeInvalidPayload},
		{fmt.Errorf("sync: %w", interfaces.ErrInvalidTerminalIO), protocol.CodeInvalidPayload},
		{interfaces.ErrTerminalNotFound, protocol.CodeNotFound},
		{protocol.ErrUnknownType, protocol.CodeUnknownType},
		{errors.New("disk on fire"), protocol.CodeInternal},
	}
	for _, tt := range tests {
		if got := errorCode(tt.err); got != tt.want {
			t.Errorf("errorCode(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
