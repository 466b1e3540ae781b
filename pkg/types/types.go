package types

import (
	"encoding/json"
	"sync"
	"time"
)

// Role identifies what a participant is allowed to do in a session.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Identity is the verified identity behind a connection.
// FUNCTIONAL DISCOVERY: Identity is produced only by a token verifier, never
// taken from client-supplied fields, so role checks can trust it.
type Identity struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
}

// IsTeacher reports whether the identity may create sessions.
func (i Identity) IsTeacher() bool {
	return i.Role == RoleTeacher
}

// Position is a zero-based line/column location inside a file.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"col"`
}

// Selection is a text range. Start == End means no selection.
type Selection struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Cursor is the last known cursor of one user.
type Cursor struct {
	UserID    string     `json:"userId"`
	UserName  string     `json:"userName"`
	FileID    string     `json:"fileId"`
	Position  Position   `json:"position"`
	Selection *Selection `json:"selection,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// ChatSender is the public profile attached to a chat message.
type ChatSender struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
}

// ChatMessage is one entry of a room's chat log.
type ChatMessage struct {
	ID        int64      `json:"id"`
	Sender    ChatSender `json:"sender"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
}

// FileOpKind enumerates the file-tree operations relayed between members.
type FileOpKind string

const (
	FileCreated FileOpKind = "created"
	FileDeleted FileOpKind = "deleted"
	FileRenamed FileOpKind = "renamed"
)

// FileOp describes a file-tree operation. The server does not validate the
// tree; it only checks the descriptor is well formed.
type FileOp struct {
	Kind     FileOpKind `json:"kind"`
	FileID   string     `json:"fileId"`
	Path     string     `json:"path,omitempty"`
	OldPath  string     `json:"oldPath,omitempty"`
	IsFolder bool       `json:"isFolder,omitempty"`
	Content  *string    `json:"content,omitempty"`
}

// MediaKind is a toggleable call track.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// CallMember is one entry of a room's call roster.
type CallMember struct {
	UserID          string    `json:"userId"`
	UserName        string    `json:"userName"`
	ConnectionID    string    `json:"connectionId"`
	AudioEnabled    bool      `json:"audioEnabled"`
	VideoEnabled    bool      `json:"videoEnabled"`
	IsScreenSharing bool      `json:"isScreenSharing"`
	JoinedAt        time.Time `json:"joinedAt"`
}

// ParticipantInfo is the public, transport-free view of a participant.
type ParticipantInfo struct {
	ConnectionID  string    `json:"connectionId"`
	UserID        string    `json:"userId"`
	Name          string    `json:"name"`
	Role          Role      `json:"role"`
	CurrentFileID string    `json:"currentFileId,omitempty"`
	InCall        bool      `json:"inCall"`
	JoinedAt      time.Time `json:"joinedAt"`
}

// RoomInfo summarizes a room for the HTTP API.
type RoomInfo struct {
	Code             string            `json:"code"`
	RoomID           string            `json:"roomId"`
	TeacherUserID    string            `json:"teacherUserId"`
	CreatedAt        time.Time         `json:"createdAt"`
	Participants     []ParticipantInfo `json:"participants"`
	CallMembers      []CallMember      `json:"callMembers"`
	ChatMessageCount int               `json:"chatMessageCount"`
}

// Event is one outbound server-to-client message.
// ARCHITECTURAL DISCOVERY: Payload stays an interface so every component can
// hand its own payload struct to a connection without a shared registry.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`

	frame *encodedFrame
}

type encodedFrame struct {
	once sync.Once
	data []byte
	err  error
}

// Shared returns a copy of e whose wire encoding is computed once and reused
// by every copy, so a broadcast marshals a large payload a single time.
func (e Event) Shared() Event {
	if e.frame == nil {
		e.frame = &encodedFrame{}
	}
	return e
}

// Encode returns the wire form of e. Shared events return the same bytes to
// every caller; they must not be modified.
func (e Event) Encode() ([]byte, error) {
	plain := Event{Type: e.Type, Payload: e.Payload}
	if e.frame == nil {
		return json.Marshal(plain)
	}
	e.frame.once.Do(func() {
		e.frame.data, e.frame.err = json.Marshal(plain)
	})
	return e.frame.data, e.frame.err
}

// WorkspaceFile is one file pushed into a terminal working directory.
type WorkspaceFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Workspace is an opaque snapshot of a user's files owned by the client.
type Workspace struct {
	SessionCode string          `json:"sessionCode"`
	UserID      string          `json:"userId"`
	Data        json.RawMessage `json:"data"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// TerminalKey addresses one user's terminal inside one session.
type TerminalKey struct {
	SessionCode string
	UserID      string
}

// TerminalSize is a terminal's character grid.
type TerminalSize struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// ExecResult is the outcome of a one-shot command.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
	Duration int64  `json:"durationMs"`
	TimedOut bool   `json:"timedOut,omitempty"`
}
