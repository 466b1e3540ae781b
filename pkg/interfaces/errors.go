package interfaces

import "errors"

// Common collaborator errors used across components
var (
	ErrWorkspaceNotFound = errors.New("workspace not found")
	ErrTokenInvalid      = errors.New("auth token invalid")
	ErrTerminalNotFound  = errors.New("terminal not found")
	ErrTerminalExists    = errors.New("terminal already running")
	ErrInvalidTerminalIO = errors.New("invalid terminal request")
)
