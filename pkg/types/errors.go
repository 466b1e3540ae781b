package types

import "errors"

// Validation errors shared by the protocol and API layers.
var (
	ErrInvalidUserID      = errors.New("user ID must be 1-64 characters, alphanumeric + underscore/hyphen/dot only")
	ErrInvalidSessionCode = errors.New("session code must be 3-32 characters, alphanumeric + hyphen only")
	ErrInvalidRole        = errors.New("role must be 'teacher' or 'student'")
	ErrInvalidDisplayName = errors.New("display name must be 1-100 characters")
	ErrInvalidFileOp      = errors.New("invalid file operation")
	ErrInvalidMediaKind   = errors.New("media kind must be 'audio' or 'video'")
)
