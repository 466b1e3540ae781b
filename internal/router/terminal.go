package router

import (
	"context"
	"errors"
	"log"

	"liveclass/internal/protocol"
	"liveclass/internal/session"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// roomSink streams terminal output to whichever connection currently holds
// the terminal's user in its room.
type roomSink struct {
	registry *session.Registry
}

func (s roomSink) TerminalOutput(key types.TerminalKey, data []byte) {
	s.send(key, protocol.NewEvent(protocol.EventTerminalOutput, protocol.TerminalOutput{Data: string(data)}))
}

func (s roomSink) TerminalExit(key types.TerminalKey, exitCode int) {
	s.send(key, protocol.NewEvent(protocol.EventTerminalExit, protocol.TerminalExit{ExitCode: exitCode}))
}

func (s roomSink) send(key types.TerminalKey, event types.Event) {
	room, ok := s.registry.Room(key.SessionCode)
	if !ok || !room.SendToUser(key.UserID, event) {
		log.Printf("Dropped terminal event: type=%s room=%s user=%s", event.Type, key.SessionCode, key.UserID)
	}
}

func (r *Router) handleTerminal(ctx context.Context, room *session.Room, p *session.Participant, msg protocol.Inbound) error {
	if r.terminals == nil {
		return ErrTerminalsDisabled
	}
	if !room.Contains(p) {
		return session.ErrNotInSession
	}
	key := types.TerminalKey{SessionCode: room.Code(), UserID: p.UserID()}

	switch m := msg.(type) {
	case protocol.TerminalCreate:
		sink := roomSink{registry: r.presence.Registry()}
		if err := r.terminals.CreateTerminal(ctx, key, m.Size, sink); err != nil {
			return err
		}
		log.Printf("Terminal created: room=%s user=%s", key.SessionCode, key.UserID)
		return p.Send(protocol.NewEvent(protocol.EventTerminalCreated, nil))

	case protocol.TerminalInput:
		return r.terminals.WriteToTerminal(key, []byte(m.Data))

	case protocol.TerminalResize:
		return r.terminals.ResizeTerminal(key, m.Size)

	case protocol.TerminalKill:
		return r.terminals.KillTerminal(key)

	case protocol.TerminalExec:
		// Commands may run for seconds; keep the read loop free.
		r.background.Add(1)
		go func() {
			defer r.background.Done()
			result, err := r.terminals.ExecuteCommand(ctx, key, m.Command)
			if err != nil {
				r.reject(p, m.MessageType(), err)
				return
			}
			if err := p.Send(protocol.NewEvent(protocol.EventTerminalExecResult, protocol.TerminalExecResult{
				Command:    m.Command,
				ExecResult: *result,
			})); err != nil {
				log.Printf("Failed to deliver exec result: connection=%s: %v", p.ID(), err)
			}
		}()
		return nil

	case protocol.TerminalSync:
		ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
		defer cancel()
		if err := r.terminals.SyncFiles(ctx, key, m.Files); err != nil {
			return err
		}
		return p.Send(protocol.NewEvent(protocol.EventTerminalSynced, nil))
	}
	return protocol.ErrUnknownType
}

// killTerminal stops the user's terminal after they left the room.
func (r *Router) killTerminal(code, userID string) {
	if r.terminals == nil || code == "" {
		return
	}
	err := r.terminals.KillTerminal(types.TerminalKey{SessionCode: code, UserID: userID})
	if err != nil && !errors.Is(err, interfaces.ErrTerminalNotFound) {
		log.Printf("Failed to kill terminal: room=%s user=%s: %v", code, userID, err)
	}
}
