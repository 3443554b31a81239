package oauth

import (
	"errors"
	"fmt"
)

// ErrRefreshTokenInvalid is returned when the provider rejects the
// refresh token (HTTP 400). The condition is permanent: the token
// cannot self-heal and the user must run the device flow again.
var ErrRefreshTokenInvalid = errors.New("refresh token expired or invalid, please re-authenticate")

// ErrTokenNotAvailable is returned when no token exists anywhere
// (never authenticated, or deleted). User-actionable, not transient.
var ErrTokenNotAvailable = errors.New("no valid token found, please authenticate first")

// ProtocolError is a malformed or unexpected upstream response: a
// non-2xx status outside the recognized device-flow error codes, or a
// 2xx body missing required fields.
type ProtocolError struct {
	// Op is the operation that failed ("device authorization", "refresh").
	Op string

	// StatusCode is the HTTP status, 0 when the response shape (not the
	// status) was the problem.
	StatusCode int

	// Message is the upstream error text or a description of what was
	// missing.
	Message string
}

func (e *ProtocolError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("qwen oauth %s failed (%d): %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("qwen oauth %s failed: %s", e.Op, e.Message)
}
