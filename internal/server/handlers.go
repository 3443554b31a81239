package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"qwenauth/internal/oauth"
	"qwenauth/internal/session"
	"qwenauth/pkg/logging"
)

// minClientPollInterval is the floor between two status polls from the
// same browser session. Over-polling clients are told to back off
// without the upstream provider being contacted.
const minClientPollInterval = time.Second

// OAuthClient is the slice of the provider client the HTTP layer uses.
// Satisfied by *oauth.Client.
type OAuthClient interface {
	RequestDeviceCode(ctx context.Context, codeChallenge string) (*oauth.DeviceAuthorization, error)
	PollDeviceToken(ctx context.Context, deviceCode, codeVerifier string) (oauth.PollResult, error)
}

// TokenSink receives the token once a browser flow completes, so the
// rest of the process picks it up immediately. Satisfied by
// *tokenmanager.Manager.
type TokenSink interface {
	SetToken(ctx context.Context, token *oauth.Token) error
}

type handler struct {
	client   OAuthClient
	sessions *session.Manager
	sink     TokenSink
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("Server", err, "Failed to encode response")
	}
}

// handleDeviceCode starts a new device-authorization session.
func (h *handler) handleDeviceCode(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.CreateSession(r.Context(), h.client)
	if err != nil {
		logging.Error("Server", err, "Device code request failed")
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error": "Failed to obtain device code from provider",
		})
		return
	}

	// expires_in is recomputed from the absolute expiry so the client
	// sees the remaining window, not the provider's original value.
	expiresIn := (s.ExpiresAt - time.Now().UnixMilli()) / 1000

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":                s.SessionID,
		"device_code":               s.DeviceCode,
		"user_code":                 s.UserCode,
		"verification_uri":          s.VerificationURI,
		"verification_uri_complete": s.VerificationURIComplete,
		"expires_in":                expiresIn,
		"interval":                  s.Interval,
	})
}

// handleStatus reports the state of a session looked up by device code,
// re-polling the provider when the session is still pending.
func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	deviceCode := r.URL.Query().Get("device_code")
	if deviceCode == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "Missing device_code parameter",
		})
		return
	}

	// BeginPoll works under the manager's lock: it marks expiry,
	// enforces the client poll interval, records the poll, and hands
	// back a snapshot. The live session is never read here.
	view := h.sessions.BeginPoll(deviceCode, minClientPollInterval)
	if view == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": "Unknown device code",
		})
		return
	}

	if view.Status == session.StatusExpired {
		h.sessions.MarkError(view.SessionID, "Device code expired")
		writeJSON(w, http.StatusRequestTimeout, map[string]any{
			"status": "expired",
			"error":  "Device code expired. Please start over.",
		})
		return
	}

	// Over-polling clients get a pending answer without an upstream
	// round trip.
	if view.Throttled {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "pending",
			"retry_after": 2000,
		})
		return
	}

	switch view.Status {
	case session.StatusSuccess:
		h.writeSuccess(w, view.Token)
		return
	case session.StatusError:
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "error",
			"error":  view.Error,
		})
		return
	}

	result, err := h.client.PollDeviceToken(r.Context(), view.DeviceCode, view.CodeVerifier)
	if err != nil {
		logging.Error("Server", err, "Upstream poll failed for session %s",
			logging.TruncateSecret(view.SessionID))
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error": "Provider poll failed",
		})
		return
	}

	switch res := result.(type) {
	case oauth.PollSuccess:
		h.sessions.MarkSuccess(view.SessionID, res.Token)
		if h.sink != nil {
			if err := h.sink.SetToken(r.Context(), res.Token); err != nil {
				logging.Warn("Server", "Failed to hand token to manager: %v", err)
			}
		}
		h.writeSuccess(w, res.Token)
	case oauth.PollError:
		h.sessions.MarkError(view.SessionID, res.Message)
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "error",
			"error":  res.Message,
		})
	case oauth.PollPending:
		body := map[string]any{"status": "pending"}
		if res.SlowDown {
			interval := h.sessions.MarkSlowDown(view.SessionID)
			if interval == 0 {
				interval = 5
			}
			body["retry_after"] = interval * 1000
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func (h *handler) writeSuccess(w http.ResponseWriter, token *oauth.Token) {
	body := map[string]any{
		"status": "success",
	}
	if token != nil {
		body["token"] = token
	}
	writeJSON(w, http.StatusOK, body)
}
