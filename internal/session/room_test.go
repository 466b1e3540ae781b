package session

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"liveclass/internal/protocol"
	"liveclass/pkg/types"
)

func TestCodeChangeScopedToRoom(t *testing.T) {
	f := newFixture(t)
	a, _ := newTestParticipant(t, "c-a", "a", types.RoleTeacher)
	b, bSend := newTestParticipant(t, "c-b", "b", types.RoleStudent)
	other, otherSend := newTestParticipant(t, "c-o", "o", types.RoleTeacher)

	f.join(t, a, "ABC-123")
	f.join(t, b, "ABC-123")
	f.join(t, other, "DEF-456")
	otherSend.reset()

	pos := types.Position{Line: 1, Column: 2}
	err := f.room(t, "ABC-123").ApplyCodeChange(a, protocol.CodeChange{FileID: "main.py", Content: "print(1)", CursorPosition: &pos})
	if err != nil {
		t.Fatalf("ApplyCodeChange failed: %v", err)
	}

	updates := bSend.ofType(protocol.EventCodeUpdate)
	if len(updates) != 1 {
		t.Fatalf("expected 1 code-update for b, got %d", len(updates))
	}
	cu := updates[0].Payload.(protocol.CodeUpdate)
	if cu.FileID != "main.py" || cu.Content != "print(1)" || cu.UserID != "a" || cu.CursorPosition == nil {
		t.Errorf("unexpected code-update: %+v", cu)
	}
	if otherSend.count() != 0 {
		t.Errorf("participant in another room received %d events", otherSend.count())
	}
	if a.CurrentFileID() != "main.py" {
		t.Errorf("expected current file main.py, got %q", a.CurrentFileID())
	}
}

func TestOperationsRejectNonMembers(t *testing.T) {
	f := newFixture(t)
	teacher, tSend := newTestParticipant(t, "c-t", "t1", types.RoleTeacher)
	outsider, _ := newTestParticipant(t, "c-x", "x", types.RoleStudent)
	f.join(t, teacher, "ABC-123")
	room := f.room(t, "ABC-123")
	tSend.reset()

	ops := map[string]func() error{
		"code":   func() error { return room.ApplyCodeChange(outsider, protocol.CodeChange{FileID: "f"}) },
		"cursor": func() error { return room.UpdateCursor(outsider, protocol.CursorMove{FileID: "f"}) },
		"chat": func() error {
			_, err := room.PostChatMessage(outsider, "hi")
			return err
		},
		"typing": func() error { return room.SetTyping(outsider, true) },
		"file":   func() error { return room.NotifyFileOp(outsider, types.FileOp{Kind: types.FileDeleted, FileID: "f"}) },
		"call":   func() error { return room.CallJoin(outsider) },
		"media":  func() error { return room.ToggleMedia(outsider, types.MediaAudio, false) },
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, ErrNotInSession) {
			t.Errorf("%s: expected ErrNotInSession, got %v", name, err)
		}
	}
	if tSend.count() != 0 {
		t.Errorf("rejected operations broadcast %d events", tSend.count())
	}
}

func TestChatEchoAndMonotonicIDs(t *testing.T) {
	f := newFixture(t)
	teacher, tSend := newTestParticipant(t, "c-t", "t1", types.RoleTeacher)
	student, sSend := newTestParticipant(t, "c-s", "s1", types.RoleStudent)
	f.join(t, teacher, "ABC-123")
	f.join(t, student, "ABC-123")
	room := f.room(t, "ABC-123")

	var lastID int64
	for i := 0; i < 5; i++ {
		msg, err := room.PostChatMessage(student, fmt.Sprintf("message %d", i))
		if err != nil {
			t.Fatalf("PostChatMessage failed: %v", err)
		}
		if msg.ID <= lastID {
			t.Errorf("message id %d not greater than %d", msg.ID, lastID)
		}
		lastID = msg.ID
	}

	if got := len(sSend.ofType(protocol.EventChatMessage)); got != 5 {
		t.Errorf("sender expected 5 echoes, got %d", got)
	}
	if got := len(tSend.ofType(protocol.EventChatMessage)); got != 5 {
		t.Errorf("teacher expected 5 messages, got %d", got)
	}

	history := room.ChatHistory()
	if len(history) != 3 {
		t.Fatalf("expected history bounded to 3, got %d", len(history))
	}
	if history[0].Content != "message 2" || history[2].Content != "message 4" {
		t.Errorf("oldest messages should be evicted, got %q..%q", history[0].Content, history[2].Content)
	}
	if history[0].Sender.Role != types.RoleStudent {
		t.Errorf("expected sender role student, got %s", history[0].Sender.Role)
	}

	late, lateSend := newTestParticipant(t, "c-l", "late", types.RoleStudent)
	f.join(t, late, "ABC-123")
	joined := lateSend.ofType(protocol.EventSessionJoined)[0].Payload.(*protocol.SessionJoined)
	if len(joined.ChatHistory) != 3 {
		t.Errorf("late joiner expected 3 history messages, got %d", len(joined.ChatHistory))
	}
}

func TestChatRejectsInvalidContent(t *testing.T) {
	f := newFixture(t)
	teacher, tSend := newTestParticipant(t, "c-t", "t1", types.RoleTeacher)
	f.join(t, teacher, "ABC-123")
	room := f.room(t, "ABC-123")
	tSend.reset()

	if _, err := room.PostChatMessage(teacher, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := room.PostChatMessage(teacher, strings.Repeat("x", 51)); !errors.Is(err, ErrMessageTooLong) {
		t.Errorf("expected ErrMessageTooLong, got %v", err)
	}
	if tSend.count() != 0 || len(room.ChatHistory()) != 0 {
		t.Error("rejected chat must not be stored or broadcast")
	}
}

func TestTypingIndicators(t *testing.T) {
	f := newFixture(t)
	teacher, tSend := newTestParticipant(t, "c-t", "t1", types.RoleTeacher)
	student, sSend := newTestParticipant(t, "c-s", "s1", types.RoleStudent)
	f.join(t, teacher, "ABC-123")
	f.join(t, student, "ABC-123")
	room := f.room(t, "ABC-123")
	tSend.reset()

	_ = room.SetTyping(student, true)
	_ = room.SetTyping(student, true)
	if got := len(tSend.ofType(protocol.EventUserTyping)); got != 2 {
		t.Errorf("expected every typing-start relayed, got %d", got)
	}
	if len(sSend.ofType(protocol.EventUserTyping)) != 0 {
		t.Error("typist must not receive its own indicator")
	}

	_ = room.SetTyping(student, false)
	_ = room.SetTyping(student, false)
	if got := len(tSend.ofType(protocol.EventUserStoppedTyping)); got != 2 {
		t.Errorf("expected every typing-stop relayed, got %d", got)
	}
	room.mu.Lock()
	_, stillTyping := room.typing["s1"]
	room.mu.Unlock()
	if stillTyping {
		t.Error("typing flag should be cleared")
	}

	// A stop with no preceding start is still relayed
	tSend.reset()
	_ = room.SetTyping(student, false)
	if got := len(tSend.ofType(protocol.EventUserStoppedTyping)); got != 1 {
		t.Errorf("expected stray typing-stop relayed, got %d", got)
	}
}

func TestTypingExpires(t *testing.T) {
	f := newFixture(t)
	teacher, tSend := newTestParticipant(t, "c-t", "t1", types.RoleTeacher)
	student, _ := newTestParticipant(t, "c-s", "s1", types.RoleStudent)
	f.join(t, teacher, "ABC-123")
	f.join(t, student, "ABC-123")
	room := f.room(t, "ABC-123")
	_ = room.SetTyping(student, true)

	if n := f.registry.ExpireTyping(f.clock.Now()); n != 0 {
		t.Errorf("fresh typing flag expired early: %d", n)
	}

	f.clock.Advance(6 * time.Second)
	if n := f.registry.ExpireTyping(f.clock.Now()); n != 1 {
		t.Errorf("expected 1 expired flag, got %d", n)
	}
	if len(room.TypingUsers()) != 0 {
		t.Error("typing set should be empty after expiry")
	}
	stopped := tSend.ofType(protocol.EventUserStoppedTyping)
	if len(stopped) != 1 || stopped[0].Payload.(protocol.TypingNotice).UserID != "s1" {
		t.Errorf("expected user-stopped-typing for s1, got %+v", stopped)
	}
}

func TestCursorsPersistUntilLeave(t *testing.T) {
	f := newFixture(t)
	teacher, _ := newTestParticipant(t, "c-t", "t1", types.RoleTeacher)
	student, _ := newTestParticipant(t, "c-s", "s1", types.RoleStudent)
	f.join(t, teacher, "ABC-123")
	f.join(t, student, "ABC-123")
	room := f.room(t, "ABC-123")

	sel := &types.Selection{Start: types.Position{Line: 1}, End: types.Position{Line: 2}}
	_ = room.UpdateCursor(student, protocol.CursorMove{FileID: "f1", Position: types.Position{Line: 1}, Selection: sel})
	f.clock.Advance(time.Hour)
	f.registry.ExpireTyping(f.clock.Now())

	cursors := room.Cursors()
	if len(cursors) != 1 || cursors[0].UserID != "s1" || cursors[0].Selection == nil {
		t.Fatalf("cursor should survive idle time, got %+v", cursors)
	}

	late, lateSend := newTestParticipant(t, "c-l", "late", types.RoleStudent)
	f.join(t, late, "ABC-123")
	joined := lateSend.ofType(protocol.EventSessionJoined)[0].Payload.(*protocol.SessionJoined)
	if len(joined.Cursors) != 1 {
		t.Errorf("snapshot expected 1 cursor, got %d", len(joined.Cursors))
	}
}

func TestFileOpsRelayed(t *testing.T) {
	f := newFixture(t)
	teacher, _ := newTestParticipant(t, "c-t", "t1", types.RoleTeacher)
	student, sSend := newTestParticipant(t, "c-s", "s1", types.RoleStudent)
	f.join(t, teacher, "ABC-123")
	f.join(t, student, "ABC-123")
	room := f.room(t, "ABC-123")

	ops := []types.FileOp{
		{Kind: types.FileCreated, FileID: "f1", Path: "src/a.py"},
		{Kind: types.FileRenamed, FileID: "f1", Path: "src/b.py", OldPath: "src/a.py"},
		{Kind: types.FileDeleted, FileID: "f1"},
	}
	for _, op := range ops {
		if err := room.NotifyFileOp(teacher, op); err != nil {
			t.Fatalf("NotifyFileOp failed: %v", err)
		}
	}

	for _, eventType := range []string{protocol.TypeFileCreated, protocol.TypeFileRenamed, protocol.TypeFileDeleted} {
		events := sSend.ofType(eventType)
		if len(events) != 1 {
			t.Errorf("expected 1 %s, got %d", eventType, len(events))
			continue
		}
		if events[0].Payload.(protocol.FileOpNotice).UserID != "t1" {
			t.Errorf("%s should carry the sender", eventType)
		}
	}
}

func TestSlowReceiverDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	teacher, _ := newTestParticipant(t, "c-t", "t1", types.RoleTeacher)
	slow, slowSend := newTestParticipant(t, "c-slow", "slow", types.RoleStudent)
	fast, fastSend := newTestParticipant(t, "c-fast", "fast", types.RoleStudent)
	f.join(t, teacher, "ABC-123")
	f.join(t, slow, "ABC-123")
	f.join(t, fast, "ABC-123")

	slowSend.mu.Lock()
	slowSend.fail = true
	slowSend.mu.Unlock()

	if err := f.room(t, "ABC-123").ApplyCodeChange(teacher, protocol.CodeChange{FileID: "f", Content: "x"}); err != nil {
		t.Fatalf("ApplyCodeChange failed: %v", err)
	}
	if len(fastSend.ofType(protocol.EventCodeUpdate)) != 1 {
		t.Error("healthy receiver should still get the update")
	}
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t)
	teacher, _ := newTestParticipant(t, "c-t", "t1", types.RoleTeacher)
	f.join(t, teacher, "ABC-123")
	room := f.room(t, "ABC-123")
	_, _ = room.PostChatMessage(teacher, "hello")
	_ = room.CallJoin(teacher)

	info := room.Snapshot()
	if info.Code != "ABC-123" || info.TeacherUserID != "t1" {
		t.Errorf("unexpected snapshot identity: %+v", info)
	}
	if len(info.Participants) != 1 || len(info.CallMembers) != 1 || info.ChatMessageCount != 1 {
		t.Errorf("unexpected snapshot counts: %+v", info)
	}
	if !info.Participants[0].InCall {
		t.Error("participant should be marked in call")
	}
}

func TestSendToUserFollowsCurrentConnection(t *testing.T) {
	f := newFixture(t)
	teacher, _ := newTestParticipant(t, "c-t", "t1", types.RoleTeacher)
	old, oldSend := newTestParticipant(t, "c-old", "s1", types.RoleStudent)
	fresh, freshSend := newTestParticipant(t, "c-new", "s1", types.RoleStudent)
	f.join(t, teacher, "ABC-123")
	f.join(t, old, "ABC-123")
	f.join(t, fresh, "ABC-123")
	room := f.room(t, "ABC-123")
	oldSend.reset()

	ev := protocol.NewEvent(protocol.EventTerminalOutput, protocol.TerminalOutput{Data: "ok"})
	if !room.SendToUser("s1", ev) {
		t.Fatal("SendToUser should find s1")
	}
	if len(freshSend.ofType(protocol.EventTerminalOutput)) != 1 || oldSend.count() != 0 {
		t.Error("event should go to the newest connection only")
	}
	if room.SendToUser("ghost", ev) {
		t.Error("SendToUser should report false for absent users")
	}
}

func TestHasUserAndWorkspaceAccess(t *testing.T) {
	f := newFixture(t)
	teacher, _ := newTestParticipant(t, "c-t", "t1", types.RoleTeacher)
	s1, _ := newTestParticipant(t, "c-1", "s1", types.RoleStudent)
	f.join(t, teacher, "ABC-123")
	f.join(t, s1, "ABC-123")
	room := f.room(t, "ABC-123")

	if !room.HasUser("s1") || room.HasUser("s2") {
		t.Errorf("HasUser: s1=%v s2=%v", room.HasUser("s1"), room.HasUser("s2"))
	}

	tests := []struct {
		requester, target string
		want              bool
	}{
		{"s1", "s1", true},
		{"s1", "t1", true},
		{"s1", "s2", false},
		{"t1", "s2", true},
		{"t1", "t1", true},
	}
	for _, tt := range tests {
		if got := room.CanLoadWorkspace(tt.requester, tt.target); got != tt.want {
			t.Errorf("CanLoadWorkspace(%s, %s) = %v, want %v", tt.requester, tt.target, got, tt.want)
		}
	}
}

func TestBroadcastSharesOneEncoding(t *testing.T) {
	f := newFixture(t)
	teacher, _ := newTestParticipant(t, "c-t", "t1", types.RoleTeacher)
	f.join(t, teacher, "ABC-123")
	var senders []*fakeSender
	for i := 0; i < 3; i++ {
		p, send := newTestParticipant(t, fmt.Sprintf("c-%d", i), fmt.Sprintf("s%d", i), types.RoleStudent)
		f.join(t, p, "ABC-123")
		senders = append(senders, send)
	}

	content := strings.Repeat("x", 1<<16)
	if err := f.room(t, "ABC-123").ApplyCodeChange(teacher, protocol.CodeChange{FileID: "main.py", Content: content}); err != nil {
		t.Fatalf("ApplyCodeChange failed: %v", err)
	}

	var first []byte
	for i, send := range senders {
		updates := send.ofType(protocol.EventCodeUpdate)
		if len(updates) != 1 {
			t.Fatalf("receiver %d got %d code-updates", i, len(updates))
		}
		data, err := updates[0].Encode()
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if first == nil {
			first = data
		} else if &data[0] != &first[0] {
			t.Errorf("receiver %d got a separately encoded frame", i)
		}
	}
}
