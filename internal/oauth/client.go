package oauth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"qwenauth/pkg/logging"
)

// Qwen OAuth endpoints and public client identity.
const (
	// DefaultBaseURL is the Qwen portal serving the OAuth endpoints.
	DefaultBaseURL = "https://chat.qwen.ai"

	deviceCodePath = "/api/v1/oauth2/device/code"
	tokenPath      = "/api/v1/oauth2/token"

	// DefaultClientID is the well-known public Qwen client id,
	// overridable via configuration.
	DefaultClientID = "f0304373b74a44d2b584a3fb70ca9e56"

	// Scope requested during device authorization.
	Scope = "openid profile email model.completion"

	// deviceCodeGrantType is the device-code grant URN (RFC 8628).
	deviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"

	// userAgent is a realistic browser User-Agent; the portal gates
	// some endpoints on it.
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	// requestTimeout is generous because device-flow endpoints are
	// infrequent, low-volume calls where tolerating a slow provider
	// beats spurious failures.
	requestTimeout = 30 * time.Second
)

// Client performs the three HTTP operations of the Qwen device-code
// flow: request a device code, poll for the token, refresh the token.
// It is stateless and safe for concurrent use.
type Client struct {
	clientID   string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a transport client. Empty clientID or baseURL fall
// back to the Qwen defaults; baseURL is overridable mainly for tests.
func NewClient(clientID, baseURL string) *Client {
	if clientID == "" {
		clientID = DefaultClientID
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		clientID:   clientID,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// RequestDeviceCode starts a device authorization with the given PKCE
// challenge.
//
// Providers can return malformed 200s, so a success status with an
// incomplete payload is still a *ProtocolError.
func (c *Client) RequestDeviceCode(ctx context.Context, codeChallenge string) (*DeviceAuthorization, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("scope", Scope)
	form.Set("code_challenge", codeChallenge)
	form.Set("code_challenge_method", "S256")

	status, body, err := c.postForm(ctx, c.baseURL+deviceCodePath, form, true)
	if err != nil {
		return nil, err
	}

	if status < 200 || status >= 300 {
		return nil, &ProtocolError{Op: "device authorization", StatusCode: status, Message: string(body)}
	}

	var auth DeviceAuthorization
	if err := json.Unmarshal(body, &auth); err != nil {
		return nil, &ProtocolError{Op: "device authorization", Message: "invalid JSON response: " + err.Error()}
	}

	if auth.DeviceCode == "" || auth.UserCode == "" || auth.VerificationURI == "" || auth.ExpiresIn == 0 {
		msg := "missing required fields in response"
		var errBody struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &errBody) == nil && errBody.Error != "" {
			msg = errBody.Error
		}
		return nil, &ProtocolError{Op: "device authorization", Message: "incomplete payload: " + msg}
	}

	logging.Debug("OAuth", "Device authorization issued: user_code=%s expires_in=%ds interval=%ds",
		auth.UserCode, auth.ExpiresIn, auth.Interval)

	return &auth, nil
}

// tokenResponse is the provider's token endpoint payload, shared by
// polling and refresh.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	ResourceURL  string `json:"resource_url"`
}

// oauthErrorBody is a standard OAuth error response.
type oauthErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// PollDeviceToken performs one poll of the token endpoint for the given
// device code. Pending and terminal-error outcomes are values, not
// errors; only transport failures return a non-nil error.
func (c *Client) PollDeviceToken(ctx context.Context, deviceCode, codeVerifier string) (PollResult, error) {
	form := url.Values{}
	form.Set("grant_type", deviceCodeGrantType)
	form.Set("client_id", c.clientID)
	form.Set("device_code", deviceCode)
	form.Set("code_verifier", codeVerifier)

	status, body, err := c.postForm(ctx, c.baseURL+tokenPath, form, false)
	if err != nil {
		return nil, err
	}

	if status < 200 || status >= 300 {
		var errBody oauthErrorBody
		if json.Unmarshal(body, &errBody) != nil {
			return PollError{Message: string(body)}, nil
		}

		switch errBody.Error {
		case "authorization_pending":
			return PollPending{SlowDown: false}, nil
		case "slow_down":
			return PollPending{SlowDown: true}, nil
		}

		msg := errBody.ErrorDescription
		if msg == "" {
			msg = errBody.Error
		}
		if msg == "" {
			msg = string(body)
		}
		return PollError{Message: msg}, nil
	}

	var payload tokenResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return PollError{Message: "Incomplete token payload"}, nil
	}
	if payload.AccessToken == "" || payload.RefreshToken == "" || payload.ExpiresIn == 0 {
		return PollError{Message: "Incomplete token payload"}, nil
	}

	// expires_at is computed relative to local receipt time; a
	// server-provided absolute timestamp cannot be trusted across
	// skewed clocks.
	return PollSuccess{Token: &Token{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    nowMillis() + int64(payload.ExpiresIn)*1000,
		ResourceURL:  payload.ResourceURL,
	}}, nil
}

// RefreshAccessToken exchanges a refresh token for a new token pair.
//
// HTTP 400 means the refresh token itself was rejected and returns
// ErrRefreshTokenInvalid; that condition is permanent and must not be
// retried. If the provider omits refresh_token in the response, the
// input token is carried over unchanged.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*Token, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.clientID)

	status, body, err := c.postForm(ctx, c.baseURL+tokenPath, form, false)
	if err != nil {
		return nil, err
	}

	if status == http.StatusBadRequest {
		return nil, ErrRefreshTokenInvalid
	}
	if status < 200 || status >= 300 {
		return nil, &ProtocolError{Op: "refresh", StatusCode: status, Message: string(body)}
	}

	var payload tokenResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ProtocolError{Op: "refresh", Message: "invalid JSON response: " + err.Error()}
	}
	if payload.AccessToken == "" || payload.ExpiresIn == 0 {
		return nil, &ProtocolError{Op: "refresh", Message: "response missing access token"}
	}

	newRefresh := payload.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}

	logging.Debug("OAuth", "Access token refreshed (expires_in=%ds)", payload.ExpiresIn)

	return &Token{
		AccessToken:  payload.AccessToken,
		RefreshToken: newRefresh,
		ExpiresAt:    nowMillis() + int64(payload.ExpiresIn)*1000,
		ResourceURL:  payload.ResourceURL,
	}, nil
}

// postForm issues a form-encoded POST and returns the status and body.
// Only transport-level failures produce an error; status interpretation
// is the caller's job.
func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values, withRequestID bool) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, err
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if withRequestID {
		req.Header.Set("x-request-id", uuid.NewString())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}

	return resp.StatusCode, body, nil
}
