package tokenmanager

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"qwenauth/internal/oauth"
	"qwenauth/internal/tokenstore"
	"qwenauth/pkg/logging"
)

const (
	// refreshMargin is how long before expiry the background loop
	// refreshes the token.
	defaultRefreshMargin = 5 * time.Minute

	// fallbackWait is used when the refresh point is already in the
	// past, e.g. after the process slept through it.
	defaultFallbackWait = 60 * time.Second

	// retryBackoff is the pause after a transient refresh failure.
	defaultRetryBackoff = 60 * time.Second
)

// Refresher performs upstream token refreshes. *oauth.Client satisfies it.
type Refresher interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (*oauth.Token, error)
}

// Manager owns the single current OAuth token for one token store. It
// loads the token on demand, refreshes it synchronously when a caller
// finds it expired, and keeps it fresh with a background loop that
// refreshes five minutes before expiry.
//
// Construct one Manager per logical token store and pass it explicitly;
// the single-flight refresh and the at-most-one background loop are
// guaranteed per instance.
type Manager struct {
	refresher Refresher
	store     tokenstore.Store

	mu    sync.Mutex
	token *oauth.Token
	group singleflight.Group

	loopStop chan struct{}
	loopDone chan struct{}
	closed   bool

	// halted is set when the loop terminated on an invalid refresh
	// token. Until a new token arrives via SetToken, the loop must not
	// be re-armed: the stored refresh token is known-bad and every
	// further upstream call would fail the same way.
	halted bool

	// Loop timing, overridable in tests.
	refreshMargin time.Duration
	fallbackWait  time.Duration
	retryBackoff  time.Duration
}

// New creates a Manager. The token is not loaded until the first
// GetAccessToken call.
func New(refresher Refresher, store tokenstore.Store) *Manager {
	return &Manager{
		refresher:     refresher,
		store:         store,
		refreshMargin: defaultRefreshMargin,
		fallbackWait:  defaultFallbackWait,
		retryBackoff:  defaultRetryBackoff,
	}
}

// GetAccessToken returns the current access token, loading it from the
// store on first use and refreshing it synchronously if it has already
// expired; a known-expired token is never handed out. May block on a
// refresh round-trip.
//
// Returns oauth.ErrTokenNotAvailable when no token exists anywhere;
// the user must run the device flow first.
func (m *Manager) GetAccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()

	if token == nil {
		loaded, err := m.store.Load(ctx)
		if err != nil {
			return "", err
		}
		if loaded == nil {
			return "", oauth.ErrTokenNotAvailable
		}

		m.mu.Lock()
		if m.token == nil {
			m.token = loaded
		}
		token = m.token
		m.mu.Unlock()
	}

	if token.Expired() {
		refreshed, err := m.refresh(ctx, false)
		if err != nil {
			return "", err
		}
		token = refreshed
	}

	m.ensureRefreshLoop()
	return token.AccessToken, nil
}

// SetToken installs a freshly obtained token (e.g. after an interactive
// login), persists it, and starts the refresh loop.
func (m *Manager) SetToken(ctx context.Context, token *oauth.Token) error {
	m.mu.Lock()
	m.token = token
	// A fresh authorization supersedes a halt caused by the previous
	// refresh token.
	m.halted = false
	m.mu.Unlock()

	if err := m.store.Save(ctx, token); err != nil {
		return err
	}

	m.ensureRefreshLoop()
	return nil
}

// Token returns the in-memory token, or nil when none is loaded.
func (m *Manager) Token() *oauth.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Clear drops the in-memory token and deletes the persisted record.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.token = nil
	m.mu.Unlock()

	return m.store.Delete(ctx)
}

// refresh performs one single-flight refresh: however many callers
// arrive concurrently, the upstream refresh endpoint is hit exactly
// once and all callers share the result. Unless force is set, a caller
// that joins after a completed refresh sees the now-valid token and
// skips the upstream call entirely.
func (m *Manager) refresh(ctx context.Context, force bool) (*oauth.Token, error) {
	result, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		m.mu.Lock()
		current := m.token
		m.mu.Unlock()

		if current == nil {
			return nil, oauth.ErrTokenNotAvailable
		}
		if !force && !current.Expired() {
			return current, nil
		}

		newToken, err := m.refresher.RefreshAccessToken(ctx, current.RefreshToken)
		if err != nil {
			return nil, err
		}

		// Replace the whole token; readers see old or new, never a mix.
		m.mu.Lock()
		m.token = newToken
		m.mu.Unlock()

		if err := m.store.Save(ctx, newToken); err != nil {
			// The refreshed token is valid even if persisting it
			// failed; the next refresh will try to save again.
			logging.Warn("TokenManager", "Failed to persist refreshed token: %v", err)
		}

		return newToken, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*oauth.Token), nil
}

// ensureRefreshLoop starts the background loop if it is not already
// running. Safe to call repeatedly; a second loop is never created.
func (m *Manager) ensureRefreshLoop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.halted {
		return
	}
	if m.loopDone != nil {
		select {
		case <-m.loopDone:
			// previous loop finished, a new one may start
		default:
			return
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	m.loopStop = stop
	m.loopDone = done
	go m.refreshLoop(stop, done)

	logging.Info("TokenManager", "Token auto-refresh loop started")
}

// refreshLoop refreshes the token shortly before each expiry until
// stopped. Transient errors are retried after a backoff; a rejected
// refresh token terminates the loop permanently, since only a fresh
// user authorization can recover from it.
func (m *Manager) refreshLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		m.mu.Lock()
		token := m.token
		m.mu.Unlock()
		if token == nil {
			return
		}

		refreshAt := time.UnixMilli(token.ExpiresAt).Add(-m.refreshMargin)
		wait := time.Until(refreshAt)
		if wait <= 0 {
			wait = m.fallbackWait
		}

		if !sleepInterruptible(wait, stop) {
			return
		}

		_, err := m.refresh(context.Background(), true)
		switch {
		case err == nil:
			logging.Info("TokenManager", "Token auto-refresh successful")
		case errors.Is(err, oauth.ErrRefreshTokenInvalid):
			m.mu.Lock()
			m.halted = true
			m.mu.Unlock()
			logging.Error("TokenManager", err, "Refresh token invalid, stopping auto-refresh")
			return
		default:
			logging.Warn("TokenManager", "Token refresh failed: %v, retrying in %v", err, m.retryBackoff)
			if !sleepInterruptible(m.retryBackoff, stop) {
				return
			}
		}
	}
}

// sleepInterruptible waits for d or until stop closes. Returns false
// when interrupted.
func sleepInterruptible(d time.Duration, stop <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	}
}

// Shutdown signals the background loop to stop and waits for it to
// finish, bounded by ctx. After Shutdown returns (nil), no further
// refreshes will happen. Idempotent.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		if m.loopStop != nil {
			close(m.loopStop)
		}
	}
	done := m.loopDone
	m.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	logging.Info("TokenManager", "Token manager shut down")
	return nil
}
