package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"qwenauth/internal/oauth"
	"qwenauth/pkg/logging"
)

const (
	// sweepInterval is the period of the stale-session sweep.
	defaultSweepInterval = 5 * time.Minute

	// expiredGrace is how long past its own expiry a session is kept
	// so a late-polling client still gets a proper "expired" answer.
	expiredGrace = 5 * time.Minute

	// terminalRetention is how long terminal (success/error) sessions
	// are kept after creation.
	terminalRetention = time.Hour

	// maxInterval caps slow-down adjustments, in seconds.
	maxInterval = 10
)

// Manager is the server-side registry of in-flight device-authorization
// attempts, keyed by session id with a secondary device-code index.
// A single lock guards both maps; per-session concurrency is low, so
// coarse locking is an acceptable tradeoff.
type Manager struct {
	mu              sync.Mutex
	sessions        map[string]*Session // session id -> session
	deviceToSession map[string]string   // device code -> session id

	sweepInterval time.Duration
	sweepStop     chan struct{}
	sweepDone     chan struct{}
}

// NewManager creates an empty session manager. The sweep loop starts
// lazily with the first session.
func NewManager() *Manager {
	return &Manager{
		sessions:        make(map[string]*Session),
		deviceToSession: make(map[string]string),
		sweepInterval:   defaultSweepInterval,
	}
}

// DeviceAuthorizer is the slice of the OAuth client the session manager
// needs. Satisfied by *oauth.Client.
type DeviceAuthorizer interface {
	RequestDeviceCode(ctx context.Context, codeChallenge string) (*oauth.DeviceAuthorization, error)
}

// CreateSession starts a new device-authorization attempt: it generates
// a fresh PKCE pair, requests a device code from the provider, and
// registers the resulting session in both maps.
func (m *Manager) CreateSession(ctx context.Context, client DeviceAuthorizer) (*Session, error) {
	verifier, challenge, err := oauth.GeneratePKCE()
	if err != nil {
		return nil, err
	}

	device, err := client.RequestDeviceCode(ctx, challenge)
	if err != nil {
		return nil, err
	}

	s := &Session{
		SessionID:               uuid.NewString(),
		DeviceCode:              device.DeviceCode,
		CodeVerifier:            verifier,
		CodeChallenge:           challenge,
		UserCode:                device.UserCode,
		VerificationURI:         device.VerificationURI,
		VerificationURIComplete: device.VerificationURIComplete,
		ExpiresAt:               time.Now().UnixMilli() + int64(device.ExpiresIn)*1000,
		Interval:                device.Interval,
		CreatedAt:               time.Now(),
		Status:                  StatusPending,
	}

	m.mu.Lock()
	m.sessions[s.SessionID] = s
	m.deviceToSession[s.DeviceCode] = s.SessionID
	m.mu.Unlock()

	logging.Info("Session", "Created OAuth session %s, user_code=%s",
		logging.TruncateSecret(s.SessionID), s.UserCode)

	m.ensureSweepLoop()
	return s, nil
}

// GetSession looks a session up by id. An expired session is marked
// expired as a side effect of the read; removal stays the sweep's job.
func (m *Manager) GetSession(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[sessionID]
	if s != nil && s.IsExpired() {
		s.Status = StatusExpired
	}
	return s
}

// GetSessionByDeviceCode looks a session up via the device-code index,
// with the same lazy expiry marking as GetSession.
func (m *Manager) GetSessionByDeviceCode(deviceCode string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessionID, ok := m.deviceToSession[deviceCode]
	if !ok {
		return nil
	}
	s := m.sessions[sessionID]
	if s != nil && s.IsExpired() {
		s.Status = StatusExpired
	}
	return s
}

// PollView is a point-in-time snapshot of one session, taken under the
// manager's lock. HTTP handlers work from the snapshot instead of the
// live *Session, so concurrent polls for the same device code never
// read fields another request is mutating.
type PollView struct {
	SessionID    string
	DeviceCode   string
	CodeVerifier string
	Status       Status
	Error        string
	Token        *oauth.Token
	Interval     int

	// Throttled reports that the poll arrived before the minimum
	// client interval elapsed; the poll was not recorded.
	Throttled bool
}

// BeginPoll atomically performs the read side of a status poll: look
// the session up by device code, mark it expired when its device code
// has lapsed, enforce the minimum client poll interval, and record the
// poll. Returns nil for an unknown device code.
func (m *Manager) BeginPoll(deviceCode string, minInterval time.Duration) *PollView {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessionID, ok := m.deviceToSession[deviceCode]
	if !ok {
		return nil
	}
	s := m.sessions[sessionID]
	if s == nil {
		return nil
	}

	if s.IsExpired() {
		s.Status = StatusExpired
	}

	view := &PollView{
		SessionID:    s.SessionID,
		DeviceCode:   s.DeviceCode,
		CodeVerifier: s.CodeVerifier,
		Status:       s.Status,
		Error:        s.Error,
		Token:        s.Token,
		Interval:     s.Interval,
	}

	if s.Status == StatusExpired {
		return view
	}
	if !s.CanPoll(minInterval) {
		view.Throttled = true
		return view
	}

	s.LastPollAt = time.Now()
	s.PollCount++
	return view
}

// UpdatePoll records a client poll: last-poll timestamp and counter.
// Tracked independently of whether the upstream provider was re-polled.
func (m *Manager) UpdatePoll(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s := m.sessions[sessionID]; s != nil {
		s.LastPollAt = time.Now()
		s.PollCount++
	}
}

// MarkSuccess records the token on the session. A missing session is a
// no-op; a present one is overwritten unconditionally.
func (m *Manager) MarkSuccess(sessionID string, token *oauth.Token) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s := m.sessions[sessionID]; s != nil {
		s.Status = StatusSuccess
		s.Token = token
		logging.Info("Session", "Session %s authenticated", logging.TruncateSecret(sessionID))
	}
}

// MarkError records a terminal error on the session.
func (m *Manager) MarkError(sessionID, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s := m.sessions[sessionID]; s != nil {
		s.Status = StatusError
		s.Error = message
		logging.Warn("Session", "Session %s failed: %s", logging.TruncateSecret(sessionID), message)
	}
}

// MarkSlowDown raises the session's polling interval by 1.5x, capped at
// 10 seconds. The interval never decreases, and sessions without a
// provider interval hint are left untouched. Returns the resulting
// interval in seconds (0 for a missing session or one without an
// interval), so callers never read the live field afterwards.
func (m *Manager) MarkSlowDown(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[sessionID]
	if s == nil || s.Interval == 0 {
		return 0
	}
	next := s.Interval * 3 / 2
	if next > maxInterval {
		next = maxInterval
	}
	if next > s.Interval {
		s.Interval = next
	}
	logging.Info("Session", "Session %s poll interval adjusted to %ds",
		logging.TruncateSecret(sessionID), s.Interval)
	return s.Interval
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ensureSweepLoop starts the sweep loop if none is running. The loop
// terminates itself once the map drains, so this is called on every
// session creation.
func (m *Manager) ensureSweepLoop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sweepDone != nil {
		select {
		case <-m.sweepDone:
			// previous sweep exited
		default:
			return
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	m.sweepStop = stop
	m.sweepDone = done
	go m.sweepLoop(stop, done)
}

// sweepLoop periodically removes stale sessions. It exits when the map
// becomes empty and is restarted lazily by the next CreateSession.
func (m *Manager) sweepLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if m.sweep() == 0 {
				return
			}
		case <-stop:
			return
		}
	}
}

// sweep removes sessions more than five minutes past their own expiry,
// and terminal sessions older than an hour. Returns the number of
// sessions remaining.
func (m *Manager) sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UnixMilli()
	for sessionID, s := range m.sessions {
		stale := s.ExpiresAt+expiredGrace.Milliseconds() < now
		terminal := (s.Status == StatusSuccess || s.Status == StatusError) &&
			time.Since(s.CreatedAt) > terminalRetention

		if stale || terminal {
			delete(m.sessions, sessionID)
			delete(m.deviceToSession, s.DeviceCode)
			logging.Info("Session", "Swept stale session %s", logging.TruncateSecret(sessionID))
		}
	}
	return len(m.sessions)
}

// Shutdown stops the sweep loop, waits for it to finish (bounded by
// ctx), and clears both maps. Idempotent.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	stop := m.sweepStop
	done := m.sweepDone
	m.sweepStop = nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	m.sessions = make(map[string]*Session)
	m.deviceToSession = make(map[string]string)
	m.mu.Unlock()

	logging.Info("Session", "OAuth session manager shut down")
	return nil
}
