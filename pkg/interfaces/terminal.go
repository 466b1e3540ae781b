package interfaces

import (
	"context"

	"liveclass/pkg/types"
)

// TerminalSink receives asynchronous terminal output for one key.
type TerminalSink interface {
	TerminalOutput(key types.TerminalKey, data []byte)
	TerminalExit(key types.TerminalKey, exitCode int)
}

// TerminalService is the sandboxed per-user shell collaborator.
// FUNCTIONAL DISCOVERY: Every call is keyed by (sessionCode, userID) so one
// user's shell can never be reached from another session.
type TerminalService interface {
	CreateTerminal(ctx context.Context, key types.TerminalKey, size types.TerminalSize, sink TerminalSink) error
	WriteToTerminal(key types.TerminalKey, data []byte) error
	ResizeTerminal(key types.TerminalKey, size types.TerminalSize) error
	KillTerminal(key types.TerminalKey) error
	ExecuteCommand(ctx context.Context, key types.TerminalKey, command string) (*types.ExecResult, error)
	SyncFiles(ctx context.Context, key types.TerminalKey, files []types.WorkspaceFile) error
}
