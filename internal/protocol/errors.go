package protocol

import (
	"errors"
	"fmt"
)

// Wire error codes reported to the offending connection only.
const (
	CodeMalformed       = "malformed"
	CodeUnknownType     = "unknown_type"
	CodeInvalidPayload  = "invalid_payload"
	CodeAuthInvalid     = "auth_invalid"
	CodeSessionNotFound = "session_not_found"
	CodeNotInSession    = "not_in_session"
	CodeNotInCall       = "not_in_call"
	CodeRateLimited     = "rate_limited"
	CodeForbidden       = "forbidden"
	CodeNotFound        = "not_found"
	CodeUnavailable     = "unavailable"
	CodeInternal        = "internal"
)

var (
	ErrMalformed      = errors.New("malformed message")
	ErrUnknownType    = errors.New("unknown message type")
	ErrInvalidPayload = errors.New("invalid message payload")
	ErrMissingToken   = errors.New("missing auth token")
)

// Error is a decode/validation failure tied to the request type that caused it.
type Error struct {
	Code        string
	RequestType string
	Err         error
}

func (e *Error) Error() string {
	if e.RequestType == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Code, e.RequestType, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func invalid(requestType string, format string, args ...interface{}) *Error {
	return &Error{
		Code:        CodeInvalidPayload,
		RequestType: requestType,
		Err:         fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...)),
	}
}
