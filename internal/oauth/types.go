package oauth

import "time"

// Token is a Qwen OAuth token pair with its absolute expiry.
//
// Tokens are replaced whole on refresh, never mutated in place, so a
// reader always observes a consistent pair.
type Token struct {
	// AccessToken is the bearer token used for chat completion calls.
	AccessToken string `json:"access_token"`

	// RefreshToken is used to obtain new access tokens.
	RefreshToken string `json:"refresh_token"`

	// ExpiresAt is the absolute expiry of the access token in epoch
	// milliseconds, computed locally at receipt time.
	ExpiresAt int64 `json:"expires_at"`

	// ResourceURL is an optional API endpoint override returned by the
	// provider alongside the token.
	ResourceURL string `json:"resource_url,omitempty"`
}

// Expired reports whether the access token's expiry has passed.
func (t *Token) Expired() bool {
	return nowMillis() >= t.ExpiresAt
}

// ExpiresIn returns the remaining lifetime of the access token.
// Negative when already expired.
func (t *Token) ExpiresIn() time.Duration {
	return time.Duration(t.ExpiresAt-nowMillis()) * time.Millisecond
}

// DeviceAuthorization is the provider's response to a device-code
// request. It is immutable; the device code expires ExpiresIn seconds
// after creation.
type DeviceAuthorization struct {
	// DeviceCode is the opaque polling handle. Treat as a secret.
	DeviceCode string `json:"device_code"`

	// UserCode is the short code the user enters on the verification page.
	UserCode string `json:"user_code"`

	// VerificationURI is the page where the user approves access.
	VerificationURI string `json:"verification_uri"`

	// VerificationURIComplete is the verification page with the user
	// code pre-filled (optional).
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`

	// ExpiresIn is the device code lifetime in seconds.
	ExpiresIn int `json:"expires_in"`

	// Interval is the provider-suggested polling cadence in seconds
	// (0 when the provider gave no hint).
	Interval int `json:"interval,omitempty"`
}

// PollResult is the outcome of a single device-token poll. It is a
// closed set: PollPending, PollSuccess, or PollError. Pending and Error
// are normal control flow during polling, not failures of the call.
type PollResult interface {
	pollResult()
}

// PollPending means the user has not finished authorizing yet.
type PollPending struct {
	// SlowDown is set when the provider asked for a longer poll interval.
	SlowDown bool
}

// PollSuccess carries the freshly issued token.
type PollSuccess struct {
	Token *Token
}

// PollError is a terminal polling outcome (e.g. access_denied).
type PollError struct {
	Message string
}

func (PollPending) pollResult() {}
func (PollSuccess) pollResult() {}
func (PollError) pollResult()   {}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
