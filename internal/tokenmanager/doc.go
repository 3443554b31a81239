// Package tokenmanager owns the lifecycle of the single current Qwen
// OAuth token: load on demand, synchronous refresh when a caller finds
// it expired, and a background loop that refreshes it five minutes
// before expiry.
//
// Concurrency contract: refreshes are single-flight. N concurrent
// callers that observe an expired token cause exactly one upstream
// refresh, and all of them receive its result. At most one background
// loop runs per Manager, and Shutdown waits for its actual termination
// before returning.
package tokenmanager
