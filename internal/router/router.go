package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"liveclass/internal/protocol"
	"liveclass/internal/session"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Options configures the router's collaborators. Nil collaborators disable
// the features that need them.
type Options struct {
	Store         interfaces.WorkspaceStore
	Archive       interfaces.ChatArchive
	Terminals     interfaces.TerminalService
	ChatRateLimit int
	StoreTimeout  time.Duration
}

// Router dispatches decoded client messages to the session layer and the
// external collaborators.
// ARCHITECTURAL DISCOVERY: Room state changes and fan-out happen inside the
// session package under the room lock; everything that does I/O (verifier,
// store, archive, terminals) runs here, after the room lock is released.
type Router struct {
	presence     *session.Presence
	verifier     interfaces.TokenVerifier
	store        interfaces.WorkspaceStore
	archive      interfaces.ChatArchive
	terminals    interfaces.TerminalService
	rateLimiter  *RateLimiter
	storeTimeout time.Duration

	background sync.WaitGroup
}

func NewRouter(presence *session.Presence, verifier interfaces.TokenVerifier, opts Options) *Router {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	return &Router{
		presence:     presence,
		verifier:     verifier,
		store:        opts.Store,
		archive:      opts.Archive,
		terminals:    opts.Terminals,
		rateLimiter:  NewRateLimiter(opts.ChatRateLimit, time.Minute),
		storeTimeout: opts.StoreTimeout,
	}
}

// RateLimiter exposes the chat limiter so the janitor can prune it.
func (r *Router) RateLimiter() *RateLimiter {
	return r.rateLimiter
}

// Wait blocks until background archive writes and command executions finish.
func (r *Router) Wait() {
	r.background.Wait()
}

// HandleFrame decodes one raw websocket frame and dispatches it. Decode
// failures are reported to the sender only.
func (r *Router) HandleFrame(ctx context.Context, p *session.Participant, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		requestType := ""
		var perr *protocol.Error
		if errors.As(err, &perr) {
			requestType = perr.RequestType
		}
		r.reject(p, requestType, err)
		return
	}
	r.Dispatch(ctx, p, msg)
}

// Dispatch routes one inbound message. Failures become an error event for the
// sender; a signal to a peer that already left is dropped silently.
func (r *Router) Dispatch(ctx context.Context, p *session.Participant, msg protocol.Inbound) {
	err := r.route(ctx, p, msg)
	if err == nil || errors.Is(err, session.ErrRecipientGone) {
		return
	}
	r.reject(p, msg.MessageType(), err)
}

func (r *Router) route(ctx context.Context, p *session.Participant, msg protocol.Inbound) error {
	switch m := msg.(type) {
	case protocol.JoinSession:
		return r.handleJoin(p, m)
	case protocol.LeaveSession:
		r.handleLeave(p)
		return nil
	}

	room, err := r.currentRoom(p)
	if err != nil {
		return err
	}

	switch m := msg.(type) {
	case protocol.CodeChange:
		return room.ApplyCodeChange(p, m)
	case protocol.CursorMove:
		return room.UpdateCursor(p, m)
	case protocol.ChatSend:
		return r.handleChat(room, p, m)
	case protocol.Typing:
		return room.SetTyping(p, m.Active)
	case protocol.FileOperation:
		return room.NotifyFileOp(p, m.Op)
	case protocol.CallJoin:
		return room.CallJoin(p)
	case protocol.CallLeave:
		return room.CallLeave(p)
	case protocol.Signal:
		return room.RelaySignal(p, m.Kind, m.TargetConnectionID, m.Payload)
	case protocol.MediaToggle:
		return room.ToggleMedia(p, m.Kind, m.Enabled)
	case protocol.ScreenShare:
		return room.ToggleScreenShare(p, m.Enabled)
	case protocol.WorkspaceSave:
		return r.handleWorkspaceSave(ctx, room, p, m)
	case protocol.WorkspaceLoad:
		return r.handleWorkspaceLoad(ctx, room, p, m)
	case protocol.TerminalCreate, protocol.TerminalInput, protocol.TerminalResize,
		protocol.TerminalKill, protocol.TerminalExec, protocol.TerminalSync:
		return r.handleTerminal(ctx, room, p, m)
	default:
		return protocol.ErrUnknownType
	}
}

// currentRoom resolves the room the sender is joined to.
func (r *Router) currentRoom(p *session.Participant) (*session.Room, error) {
	code := p.SessionCode()
	if code == "" {
		return nil, session.ErrNotInSession
	}
	room, ok := r.presence.Registry().Room(code)
	if !ok {
		return nil, session.ErrNotInSession
	}
	return room, nil
}

func (r *Router) handleJoin(p *session.Participant, m protocol.JoinSession) error {
	identity, err := r.verifier.Verify(m.AuthToken)
	if err != nil {
		log.Printf("Token rejected: connection=%s: %v", p.ID(), err)
		return session.ErrAuthInvalid
	}
	if err := p.SetIdentity(identity); err != nil {
		return err
	}
	_, err = r.presence.Join(p, m.SessionCode)
	return err
}

func (r *Router) handleLeave(p *session.Participant) {
	code, left := r.presence.Leave(p)
	if !left {
		return
	}
	r.killTerminal(code, p.UserID())
	if err := p.Send(protocol.NewEvent(protocol.EventSessionLeft, protocol.SessionLeft{SessionCode: code})); err != nil {
		log.Printf("Failed to confirm leave: connection=%s: %v", p.ID(), err)
	}
}

// Disconnect runs the transport-drop cleanup for p. Safe to call more than once.
func (r *Router) Disconnect(p *session.Participant) {
	code, left := r.presence.Disconnect(p)
	if left {
		r.killTerminal(code, p.UserID())
	}
}

func (r *Router) handleChat(room *session.Room, p *session.Participant, m protocol.ChatSend) error {
	if !r.rateLimiter.Allow(p.UserID()) {
		return ErrRateLimitExceeded
	}
	msg, err := room.PostChatMessage(p, m.Content)
	if err != nil {
		return err
	}
	if r.archive == nil {
		return nil
	}

	code, roomID := room.Code(), room.RoomID()
	r.background.Add(1)
	go func() {
		defer r.background.Done()
		if err := r.archiveChat(code, roomID, msg); err != nil {
			log.Printf("Failed to archive chat message: room=%s id=%d: %v", code, msg.ID, err)
		}
	}()
	return nil
}

func (r *Router) archiveChat(code, roomID string, msg types.ChatMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.storeTimeout)
	defer cancel()
	if err := r.archive.ArchiveChatMessage(ctx, code, roomID, msg); err != nil {
		return fmt.Errorf("%w: %w", ErrArchiveFailed, err)
	}
	return nil
}

func (r *Router) handleWorkspaceSave(ctx context.Context, room *session.Room, p *session.Participant, m protocol.WorkspaceSave) error {
	if r.store == nil {
		return ErrStoreUnavailable
	}
	if !room.Contains(p) {
		return session.ErrNotInSession
	}

	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()
	if err := r.store.SaveWorkspace(ctx, room.Code(), p.UserID(), m.Data); err != nil {
		log.Printf("Workspace save failed: room=%s user=%s: %v", room.Code(), p.UserID(), err)
		return err
	}

	return p.Send(protocol.NewEvent(protocol.EventWorkspaceSaved, protocol.WorkspaceSaved{
		SessionCode: room.Code(),
		SavedAt:     time.Now(),
	}))
}

// handleWorkspaceLoad serves the caller's own workspace or the room teacher's.
// The room teacher may load any member's workspace.
func (r *Router) handleWorkspaceLoad(ctx context.Context, room *session.Room, p *session.Participant, m protocol.WorkspaceLoad) error {
	if r.store == nil {
		return ErrStoreUnavailable
	}
	if !room.Contains(p) {
		return session.ErrNotInSession
	}

	target := m.UserID
	if target == "" {
		target = p.UserID()
	}
	if !room.CanLoadWorkspace(p.UserID(), target) {
		return ErrForbidden
	}

	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()
	ws, err := r.store.LoadWorkspace(ctx, room.Code(), target)
	if err != nil {
		if !errors.Is(err, interfaces.ErrWorkspaceNotFound) {
			log.Printf("Workspace load failed: room=%s user=%s target=%s: %v", room.Code(), p.UserID(), target, err)
		}
		return err
	}

	return p.Send(protocol.NewEvent(protocol.EventWorkspaceLoaded, protocol.WorkspaceLoaded{
		UserID:    ws.UserID,
		Data:      ws.Data,
		UpdatedAt: ws.UpdatedAt,
	}))
}

// errorCode maps an error onto the stable wire code reported to clients.
func errorCode(err error) string {
	var perr *protocol.Error
	switch {
	case errors.As(err, &perr):
		return perr.Code
	case errors.Is(err, protocol.ErrUnknownType):
		return protocol.CodeUnknownType
	case errors.Is(err, session.ErrAuthInvalid), errors.Is(err, interfaces.ErrTokenInvalid):
		return protocol.CodeAuthInvalid
	case errors.Is(err, session.ErrSessionNotFound):
		return protocol.CodeSessionNotFound
	case errors.Is(err, session.ErrNotInSession):
		return protocol.CodeNotInSession
	case errors.Is(err, session.ErrNotInCall):
		return protocol.CodeNotInCall
	case errors.Is(err, ErrRateLimitExceeded):
		return protocol.CodeRateLimited
	case errors.Is(err, ErrForbidden), errors.Is(err, session.ErrIdentityLocked),
		errors.Is(err, interfaces.ErrTerminalExists):
		return protocol.CodeForbidden
	case errors.Is(err, interfaces.ErrWorkspaceNotFound), errors.Is(err, interfaces.ErrTerminalNotFound):
		return protocol.CodeNotFound
	case errors.Is(err, session.ErrRoomUnavailable), errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrTerminalsDisabled), errors.Is(err, context.DeadlineExceeded):
		return protocol.CodeUnavailable
	case errors.Is(err, session.ErrEmptyMessage), errors.Is(err, session.ErrMessageTooLong),
		errors.Is(err, session.ErrSelfSignal), errors.Is(err, interfaces.ErrInvalidTerminalIO),
		errors.Is(err, types.ErrInvalidSessionCode), errors.Is(err, types.ErrInvalidMediaKind):
		return protocol.CodeInvalidPayload
	default:
		return protocol.CodeInternal
	}
}

// reject reports a failure to the offending connection only.
func (r *Router) reject(p *session.Participant, requestType string, err error) {
	code := errorCode(err)
	message := err.Error()
	if code == protocol.CodeInternal {
		message = "internal error"
	}
	log.Printf("Rejected message: type=%s connection=%s user=%s code=%s: %v", requestType, p.ID(), p.UserID(), code, err)
	if sendErr := p.Send(protocol.NewErrorEvent(code, message, requestType)); sendErr != nil {
		log.Printf("Failed to deliver rejection: connection=%s: %v", p.ID(), sendErr)
	}
}
