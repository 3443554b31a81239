// Package oauth implements the Qwen OAuth 2.0 device-code flow.
//
// The flow is the RFC 8628 device grant protected by PKCE (RFC 7636):
//
//  1. GeneratePKCE produces a code verifier and S256 challenge.
//  2. Client.RequestDeviceCode obtains a device code, user code and
//     verification URL from the Qwen portal.
//  3. The user approves access in a browser while the caller polls
//     Client.PollDeviceToken with the device code and verifier.
//  4. A granted poll yields a Token; Client.RefreshAccessToken keeps it
//     fresh afterwards.
//
// PollDeviceToken returns a PollResult sum type rather than errors:
// authorization_pending and slow_down are frequent, expected outcomes of
// a healthy flow. Only malformed responses (ProtocolError) and rejected
// refresh tokens (ErrRefreshTokenInvalid) are Go errors.
//
// Client.Login drives the whole flow interactively for CLI use. The
// transport client performs no retries itself; polling loops and the
// token manager own retry policy.
//
// Device codes are polling handles and must be treated as secrets:
// they are never logged in full anywhere in this package.
package oauth
