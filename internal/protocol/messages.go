package protocol

import (
	"bytes"
	"encoding/json"
	"strings"

	"liveclass/pkg/types"
)

// Envelope is the JSON frame carried on the websocket in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound is the closed set of client-to-server messages. Only types in this
// package implement it; the router handles it with a single type switch.
type Inbound interface {
	MessageType() string
	isInbound()
}

type JoinSession struct {
	SessionCode string `json:"sessionCode"`
	AuthToken   string `json:"authToken"`
}

type LeaveSession struct{}

type CodeChange struct {
	FileID         string          `json:"fileId"`
	Content        string          `json:"content"`
	CursorPosition *types.Position `json:"cursorPosition,omitempty"`
}

type CursorMove struct {
	FileID    string           `json:"fileId"`
	Position  types.Position   `json:"position"`
	Selection *types.Selection `json:"selection,omitempty"`
}

type ChatSend struct {
	Content string `json:"content"`
}

// Typing carries both typing-start (Active) and typing-stop.
type Typing struct {
	Active bool `json:"-"`
}

// FileOperation carries file-created, file-deleted and file-renamed; Op.Kind
// is derived from the message type, not from the payload.
type FileOperation struct {
	Op types.FileOp
}

type CallJoin struct{}

type CallLeave struct{}

// Signal is a webrtc-offer, webrtc-answer or webrtc-ice-candidate. Payload is
// never interpreted.
type Signal struct {
	Kind               SignalKind      `json:"-"`
	TargetConnectionID string          `json:"targetConnectionId"`
	Payload            json.RawMessage `json:"payload"`
}

type MediaToggle struct {
	Kind    types.MediaKind `json:"kind"`
	Enabled bool            `json:"enabled"`
}

type ScreenShare struct {
	Enabled bool `json:"enabled"`
}

type WorkspaceSave struct {
	Data json.RawMessage `json:"data"`
}

// WorkspaceLoad loads the caller's own workspace when UserID is empty.
type WorkspaceLoad struct {
	UserID string `json:"userId,omitempty"`
}

type TerminalCreate struct {
	Size types.TerminalSize `json:"size"`
}

type TerminalInput struct {
	Data string `json:"data"`
}

type TerminalResize struct {
	Size types.TerminalSize `json:"size"`
}

type TerminalKill struct{}

type TerminalExec struct {
	Command string `json:"command"`
}

type TerminalSync struct {
	Files []types.WorkspaceFile `json:"files"`
}

func (JoinSession) MessageType() string    { return TypeJoinSession }
func (LeaveSession) MessageType() string   { return TypeLeaveSession }
func (CodeChange) MessageType() string     { return TypeCodeChange }
func (CursorMove) MessageType() string     { return TypeCursorMove }
func (ChatSend) MessageType() string       { return TypeChatMessage }
func (CallJoin) MessageType() string       { return TypeCallJoin }
func (CallLeave) MessageType() string      { return TypeCallLeave }
func (MediaToggle) MessageType() string    { return TypeCallMediaToggle }
func (ScreenShare) MessageType() string    { return TypeCallScreenShare }
func (WorkspaceSave) MessageType() string  { return TypeWorkspaceSave }
func (WorkspaceLoad) MessageType() string  { return TypeWorkspaceLoad }
func (TerminalCreate) MessageType() string { return TypeTerminalCreate }
func (TerminalInput) MessageType() string  { return TypeTerminalInput }
func (TerminalResize) MessageType() string { return TypeTerminalResize }
func (TerminalKill) MessageType() string   { return TypeTerminalKill }
func (TerminalExec) MessageType() string   { return TypeTerminalExec }
func (TerminalSync) MessageType() string   { return TypeTerminalSync }

func (t Typing) MessageType() string {
	if t.Active {
		return TypeTypingStart
	}
	return TypeTypingStop
}

func (f FileOperation) MessageType() string {
	switch f.Op.Kind {
	case types.FileCreated:
		return TypeFileCreated
	case types.FileDeleted:
		return TypeFileDeleted
	default:
		return TypeFileRenamed
	}
}

func (s Signal) MessageType() string { return s.Kind.EventType() }

func (JoinSession) isInbound()    {}
func (LeaveSession) isInbound()   {}
func (CodeChange) isInbound()     {}
func (CursorMove) isInbound()     {}
func (ChatSend) isInbound()       {}
func (Typing) isInbound()         {}
func (FileOperation) isInbound()  {}
func (CallJoin) isInbound()       {}
func (CallLeave) isInbound()      {}
func (Signal) isInbound()         {}
func (MediaToggle) isInbound()    {}
func (ScreenShare) isInbound()    {}
func (WorkspaceSave) isInbound()  {}
func (WorkspaceLoad) isInbound()  {}
func (TerminalCreate) isInbound() {}
func (TerminalInput) isInbound()  {}
func (TerminalResize) isInbound() {}
func (TerminalKill) isInbound()   {}
func (TerminalExec) isInbound()   {}
func (TerminalSync) isInbound()   {}

// Decode parses one websocket frame into a validated inbound message.
// Every failure is an *Error carrying a wire code for the sender.
func Decode(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &Error{Code: CodeMalformed, Err: ErrMalformed}
	}
	if env.Type == "" {
		return nil, &Error{Code: CodeMalformed, Err: ErrMalformed}
	}

	var msg Inbound
	var err error
	switch env.Type {
	case TypeJoinSession:
		var m JoinSession
		if err = unmarshalPayload(env, &m); err == nil {
			m.SessionCode = types.NormalizeSessionCode(m.SessionCode)
			msg = m
		}
	case TypeLeaveSession:
		msg = LeaveSession{}
	case TypeCodeChange:
		var m CodeChange
		err = unmarshalPayload(env, &m)
		msg = m
	case TypeCursorMove:
		var m CursorMove
		err = unmarshalPayload(env, &m)
		msg = m
	case TypeChatMessage:
		var m ChatSend
		err = unmarshalPayload(env, &m)
		msg = m
	case TypeTypingStart:
		msg = Typing{Active: true}
	case TypeTypingStop:
		msg = Typing{Active: false}
	case TypeFileCreated, TypeFileDeleted, TypeFileRenamed:
		var op types.FileOp
		if err = unmarshalPayload(env, &op); err == nil {
			op.Kind = fileOpKind(env.Type)
			msg = FileOperation{Op: op}
		}
	case TypeCallJoin:
		msg = CallJoin{}
	case TypeCallLeave:
		msg = CallLeave{}
	case TypeWebRTCOffer, TypeWebRTCAnswer, TypeWebRTCICE:
		var m Signal
		if err = unmarshalPayload(env, &m); err == nil {
			m.Kind = signalKind(env.Type)
			msg = m
		}
	case TypeCallMediaToggle:
		var m MediaToggle
		err = unmarshalPayload(env, &m)
		msg = m
	case TypeCallScreenShare:
		var m ScreenShare
		err = unmarshalPayload(env, &m)
		msg = m
	case TypeWorkspaceSave:
		var m WorkspaceSave
		err = unmarshalPayload(env, &m)
		msg = m
	case TypeWorkspaceLoad:
		var m WorkspaceLoad
		err = unmarshalPayload(env, &m)
		msg = m
	case TypeTerminalCreate:
		var m TerminalCreate
		err = unmarshalPayload(env, &m)
		msg = m
	case TypeTerminalInput:
		var m TerminalInput
		err = unmarshalPayload(env, &m)
		msg = m
	case TypeTerminalResize:
		var m TerminalResize
		err = unmarshalPayload(env, &m)
		msg = m
	case TypeTerminalKill:
		msg = TerminalKill{}
	case TypeTerminalExec:
		var m TerminalExec
		err = unmarshalPayload(env, &m)
		msg = m
	case TypeTerminalSync:
		var m TerminalSync
		err = unmarshalPayload(env, &m)
		msg = m
	default:
		return nil, &Error{Code: CodeUnknownType, RequestType: env.Type, Err: ErrUnknownType}
	}
	if err != nil {
		return nil, &Error{Code: CodeMalformed, RequestType: env.Type, Err: ErrMalformed}
	}

	if perr := Validate(msg); perr != nil {
		return nil, perr
	}
	return msg, nil
}

// unmarshalPayload accepts a missing payload as the zero value so validation
// reports the missing field instead of a generic parse error.
func unmarshalPayload(env Envelope, v interface{}) error {
	payload := bytes.TrimSpace(env.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return nil
	}
	return json.Unmarshal(payload, v)
}

// Validate checks required fields of an inbound message.
func Validate(msg Inbound) *Error {
	switch m := msg.(type) {
	case JoinSession:
		if m.AuthToken == "" {
			return &Error{Code: CodeAuthInvalid, RequestType: m.MessageType(), Err: ErrMissingToken}
		}
		if !types.IsValidSessionCode(m.SessionCode) {
			return invalid(m.MessageType(), "%v", types.ErrInvalidSessionCode)
		}
	case CodeChange:
		if m.FileID == "" {
			return invalid(m.MessageType(), "fileId is required")
		}
		if m.CursorPosition != nil && !validPosition(*m.CursorPosition) {
			return invalid(m.MessageType(), "cursorPosition must be non-negative")
		}
	case CursorMove:
		if m.FileID == "" {
			return invalid(m.MessageType(), "fileId is required")
		}
		if !validPosition(m.Position) {
			return invalid(m.MessageType(), "position must be non-negative")
		}
		if m.Selection != nil && (!validPosition(m.Selection.Start) || !validPosition(m.Selection.End)) {
			return invalid(m.MessageType(), "selection must be non-negative")
		}
	case FileOperation:
		if err := m.Op.Validate(); err != nil {
			return invalid(m.MessageType(), "%v", err)
		}
	case Signal:
		if m.TargetConnectionID == "" {
			return invalid(m.MessageType(), "targetConnectionId is required")
		}
		if len(bytes.TrimSpace(m.Payload)) == 0 {
			return invalid(m.MessageType(), "payload is required")
		}
	case MediaToggle:
		if !types.IsValidMediaKind(m.Kind) {
			return invalid(m.MessageType(), "%v", types.ErrInvalidMediaKind)
		}
	case WorkspaceSave:
		if len(bytes.TrimSpace(m.Data)) == 0 {
			return invalid(m.MessageType(), "data is required")
		}
	case WorkspaceLoad:
		if m.UserID != "" && !types.IsValidUserID(m.UserID) {
			return invalid(m.MessageType(), "%v", types.ErrInvalidUserID)
		}
	case TerminalCreate:
		if !validSize(m.Size, true) {
			return invalid(m.MessageType(), "size must be positive")
		}
	case TerminalResize:
		if !validSize(m.Size, false) {
			return invalid(m.MessageType(), "size must be positive")
		}
	case TerminalExec:
		if strings.TrimSpace(m.Command) == "" {
			return invalid(m.MessageType(), "command is required")
		}
	case TerminalSync:
		if len(m.Files) == 0 {
			return invalid(m.MessageType(), "files is required")
		}
		for _, f := range m.Files {
			if f.Path == "" {
				return invalid(m.MessageType(), "file path is required")
			}
		}
	}
	return nil
}

func validPosition(p types.Position) bool {
	return p.Line >= 0 && p.Column >= 0
}

// validSize allows a zero size on create (service default) but not on resize.
func validSize(s types.TerminalSize, allowZero bool) bool {
	if allowZero && s.Cols == 0 && s.Rows == 0 {
		return true
	}
	return s.Cols > 0 && s.Rows > 0 && s.Cols <= 1000 && s.Rows <= 1000
}

func fileOpKind(msgType string) types.FileOpKind {
	switch msgType {
	case TypeFileCreated:
		return types.FileCreated
	case TypeFileDeleted:
		return types.FileDeleted
	default:
		return types.FileRenamed
	}
}

func signalKind(msgType string) SignalKind {
	switch msgType {
	case TypeWebRTCOffer:
		return SignalOffer
	case TypeWebRTCAnswer:
		return SignalAnswer
	default:
		return SignalICECandidate
	}
}
