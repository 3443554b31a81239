// Package logging provides a thin slog-based logger shared by all
// subsystems. Log calls carry a subsystem tag ("OAuth", "TokenManager",
// "Session", ...) so output from the background loops can be told apart.
//
// Secrets discipline: device codes, access tokens, refresh tokens and
// session ids must never appear in full in log output. Use TruncateSecret
// when a prefix is useful for correlation.
package logging
