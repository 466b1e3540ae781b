package session

import "errors"

// Session coordination errors
var (
	ErrAuthInvalid     = errors.New("identity is missing or invalid")
	ErrSessionNotFound = errors.New("session not found")
	ErrNotInSession    = errors.New("connection is not in this session")
	ErrNotInCall       = errors.New("connection is not in the call")
	ErrRecipientGone   = errors.New("signaling recipient is no longer in the call")
	ErrSelfSignal      = errors.New("cannot signal own connection")
	ErrEmptyMessage    = errors.New("chat message cannot be empty")
	ErrMessageTooLong  = errors.New("chat message exceeds maximum length")
	ErrIdentityLocked  = errors.New("identity cannot change while in a session")
	ErrRoomUnavailable = errors.New("room is being torn down, retry the join")
	errRoomClosed      = errors.New("room closed")
)
