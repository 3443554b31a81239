package session

import (
	"time"

	"qwenauth/internal/oauth"
)

// Status is the lifecycle state of an OAuth session.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusExpired Status = "expired"
)

// Session is one in-flight device-authorization attempt held
// server-side, so a web client can drive the flow with short-lived
// polling requests without ever holding the code verifier.
//
// Sessions are owned exclusively by the Manager and mutated only
// through its methods.
type Session struct {
	// SessionID is the opaque id handed to the web client.
	SessionID string

	// DeviceCode is the provider's polling handle; it uniquely
	// identifies the session in the device-code index.
	DeviceCode string

	// CodeVerifier and CodeChallenge are the PKCE pair for this
	// attempt. The verifier never leaves the server.
	CodeVerifier  string
	CodeChallenge string

	// UserCode and the verification URIs are shown to the user.
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string

	// ExpiresAt is the device code's absolute expiry in epoch
	// milliseconds.
	ExpiresAt int64

	// Interval is the current polling cadence in seconds; slow_down
	// hints only ever increase it, capped at 10s.
	Interval int

	CreatedAt time.Time
	Status    Status

	// Token is set on success, Error on failure.
	Token *oauth.Token
	Error string

	// Client polling bookkeeping, independent of upstream polling.
	LastPollAt time.Time
	PollCount  int
}

// IsExpired reports whether the device code's expiry has passed.
func (s *Session) IsExpired() bool {
	return time.Now().UnixMilli() > s.ExpiresAt
}

// CanPoll reports whether at least minInterval has elapsed since the
// client's last poll. First polls are always allowed. Enforced by the
// HTTP layer to keep an impatient client from hammering the provider.
func (s *Session) CanPoll(minInterval time.Duration) bool {
	if s.LastPollAt.IsZero() {
		return true
	}
	return time.Since(s.LastPollAt) >= minInterval
}
