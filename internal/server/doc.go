// Package server exposes the device-authorization flow to browsers.
//
// A frontend POSTs to /api/qwen/oauth/device-code to start a session,
// shows the user the verification URI, and polls
// /api/qwen/oauth/status?device_code=... until the session resolves.
// The server mediates all provider traffic so the client id and PKCE
// verifier never reach the browser.
package server
