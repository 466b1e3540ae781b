package interfaces

import (
	"context"
	"encoding/json"

	"liveclass/pkg/types"
)

// WorkspaceStore durably saves workspace snapshots. Implementations must be
// safe for concurrent use; callers never hold a room lock while calling them.
type WorkspaceStore interface {
	SaveWorkspace(ctx context.Context, sessionCode, userID string, data json.RawMessage) error

	// LoadWorkspace returns ErrWorkspaceNotFound when nothing was saved yet.
	LoadWorkspace(ctx context.Context, sessionCode, userID string) (*types.Workspace, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// ChatArchive keeps chat beyond the bounded in-room history. Messages are
// scoped to one room incarnation (roomID): message ids restart when a code is
// reused, and a new class must not see the previous one's chat.
type ChatArchive interface {
	ArchiveChatMessage(ctx context.Context, sessionCode, roomID string, message types.ChatMessage) error
	GetChatHistory(ctx context.Context, sessionCode, roomID string, limit int) ([]types.ChatMessage, error)
}
