package protocol

import (
	"encoding/json"
	"time"

	"liveclass/pkg/types"
)

// SessionJoined is sent only to the joining connection. Participants lists
// the other roster members; Self describes the joiner.
type SessionJoined struct {
	SessionCode   string                  `json:"sessionCode"`
	TeacherUserID string                  `json:"teacherUserId"`
	Self          types.ParticipantInfo   `json:"self"`
	Participants  []types.ParticipantInfo `json:"participants"`
	ChatHistory   []types.ChatMessage     `json:"chatHistory"`
	Cursors       []types.Cursor          `json:"cursors"`
	CallMembers   []types.CallMember      `json:"callMembers"`
}

type SessionLeft struct {
	SessionCode string `json:"sessionCode"`
	Reason      string `json:"reason,omitempty"`
}

// PresenceChange is the payload of user-joined and user-left. Participants is
// the roster after the change.
type PresenceChange struct {
	User         types.ParticipantInfo   `json:"user"`
	Participants []types.ParticipantInfo `json:"participants"`
}

type CodeUpdate struct {
	FileID         string          `json:"fileId"`
	Content        string          `json:"content"`
	UserID         string          `json:"userId"`
	UserName       string          `json:"userName"`
	CursorPosition *types.Position `json:"cursorPosition,omitempty"`
}

type CursorUpdate struct {
	UserID    string           `json:"userId"`
	UserName  string           `json:"userName"`
	FileID    string           `json:"fileId"`
	Position  types.Position   `json:"position"`
	Selection *types.Selection `json:"selection,omitempty"`
}

type TypingNotice struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type FileOpNotice struct {
	types.FileOp
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type CallJoined struct {
	Members []types.CallMember `json:"members"`
}

type CallUserJoined struct {
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	ConnectionID string `json:"connectionId"`
}

type CallUserLeft struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}

type SignalRelay struct {
	FromUserID       string          `json:"fromUserId"`
	FromUserName     string          `json:"fromUserName"`
	FromConnectionID string          `json:"fromConnectionId"`
	Payload          json.RawMessage `json:"payload"`
}

type MediaToggleNotice struct {
	ConnectionID string          `json:"connectionId"`
	UserID       string          `json:"userId"`
	Kind         types.MediaKind `json:"kind"`
	Enabled      bool            `json:"enabled"`
}

type ScreenShareNotice struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Enabled      bool   `json:"enabled"`
}

type WorkspaceSaved struct {
	SessionCode string    `json:"sessionCode"`
	SavedAt     time.Time `json:"savedAt"`
}

type WorkspaceLoaded struct {
	UserID    string          `json:"userId"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type TerminalOutput struct {
	Data string `json:"data"`
}

type TerminalExit struct {
	ExitCode int `json:"exitCode"`
}

type TerminalExecResult struct {
	Command string `json:"command"`
	types.ExecResult
}

type ErrorPayload struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	RequestType string `json:"requestType,omitempty"`
}

// NewEvent pairs an event type with its payload.
func NewEvent(eventType string, payload interface{}) types.Event {
	return types.Event{Type: eventType, Payload: payload}
}

// NewErrorEvent builds the rejection sent back to an offending connection.
func NewErrorEvent(code, message, requestType string) types.Event {
	return types.Event{
		Type: EventError,
		Payload: ErrorPayload{
			Code:        code,
			Message:     message,
			RequestType: requestType,
		},
	}
}
