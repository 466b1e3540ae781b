package router

import "errors"

// Router-level rejections
var (
	ErrRateLimitExceeded = errors.New("chat rate limit exceeded")
	ErrForbidden         = errors.New("not allowed to access this resource")
	ErrStoreUnavailable  = errors.New("workspace store is not configured")
	ErrArchiveFailed     = errors.New("chat archive write failed")
	ErrTerminalsDisabled = errors.New("terminal service is not enabled")
)
