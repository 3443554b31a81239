// Package session tracks server-side device-authorization attempts.
//
// Each browser-driven login gets a Session identified by a random
// session id, with a secondary index by provider device code. Sessions
// expire with the underlying device code; a background sweep removes
// stale and long-finished entries and shuts itself down when nothing is
// left to watch.
package session
