package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qwenauth/internal/oauth"
)

type fakeAuthorizer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeAuthorizer) RequestDeviceCode(ctx context.Context, codeChallenge string) (*oauth.DeviceAuthorization, error) {
	n := f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &oauth.DeviceAuthorization{
		DeviceCode:              fmt.Sprintf("device-%d", n),
		UserCode:                fmt.Sprintf("USER-%d", n),
		VerificationURI:         "https://chat.qwen.ai/authorize",
		VerificationURIComplete: "https://chat.qwen.ai/authorize?user_code=USER",
		ExpiresIn:               600,
		Interval:                2,
	}, nil
}

func TestCreateSessionRegistersBothIndexes(t *testing.T) {
	m := NewManager()
	defer m.Shutdown(context.Background())

	s, err := m.CreateSession(context.Background(), &fakeAuthorizer{})
	require.NoError(t, err)
	require.NotEmpty(t, s.SessionID)
	assert.Equal(t, StatusPending, s.Status)
	assert.NotEmpty(t, s.CodeVerifier)
	assert.Greater(t, s.ExpiresAt, time.Now().UnixMilli())

	assert.Same(t, s, m.GetSession(s.SessionID))
	assert.Same(t, s, m.GetSessionByDeviceCode(s.DeviceCode))
}

func TestCreateSessionPropagatesProviderError(t *testing.T) {
	m := NewManager()
	defer m.Shutdown(context.Background())

	_, err := m.CreateSession(context.Background(), &fakeAuthorizer{err: fmt.Errorf("upstream down")})
	require.Error(t, err)
	assert.Equal(t, 0, m.Count())
}

func TestGetSessionUnknown(t *testing.T) {
	m := NewManager()
	assert.Nil(t, m.GetSession("missing"))
	assert.Nil(t, m.GetSessionByDeviceCode("missing"))
}

func TestLazyExpiryMarking(t *testing.T) {
	m := NewManager()
	defer m.Shutdown(context.Background())

	s, err := m.CreateSession(context.Background(), &fakeAuthorizer{})
	require.NoError(t, err)

	s.ExpiresAt = time.Now().UnixMilli() - 1000

	got := m.GetSession(s.SessionID)
	require.NotNil(t, got)
	assert.Equal(t, StatusExpired, got.Status)

	// The device-code index marks expiry the same way.
	s.Status = StatusPending
	got = m.GetSessionByDeviceCode(s.DeviceCode)
	require.NotNil(t, got)
	assert.Equal(t, StatusExpired, got.Status)
}

func TestUpdatePoll(t *testing.T) {
	m := NewManager()
	defer m.Shutdown(context.Background())

	s, err := m.CreateSession(context.Background(), &fakeAuthorizer{})
	require.NoError(t, err)
	require.True(t, s.LastPollAt.IsZero())

	m.UpdatePoll(s.SessionID)
	m.UpdatePoll(s.SessionID)
	assert.Equal(t, 2, s.PollCount)
	assert.False(t, s.LastPollAt.IsZero())

	// Unknown sessions are ignored.
	m.UpdatePoll("missing")
}

func TestCanPoll(t *testing.T) {
	s := &Session{}
	assert.True(t, s.CanPoll(time.Second), "first poll is always allowed")

	s.LastPollAt = time.Now()
	assert.False(t, s.CanPoll(time.Second))

	s.LastPollAt = time.Now().Add(-2 * time.Second)
	assert.True(t, s.CanPoll(time.Second))
}

func TestMarkSuccessAndError(t *testing.T) {
	m := NewManager()
	defer m.Shutdown(context.Background())

	s, err := m.CreateSession(context.Background(), &fakeAuthorizer{})
	require.NoError(t, err)

	token := &oauth.Token{AccessToken: "at", RefreshToken: "rt", ExpiresAt: time.Now().UnixMilli() + 3600_000}
	m.MarkSuccess(s.SessionID, token)
	assert.Equal(t, StatusSuccess, s.Status)
	assert.Same(t, token, s.Token)

	m.MarkError(s.SessionID, "access_denied")
	assert.Equal(t, StatusError, s.Status)
	assert.Equal(t, "access_denied", s.Error)

	// Missing sessions are a no-op, not a panic.
	m.MarkSuccess("missing", token)
	m.MarkError("missing", "boom")
}

func TestMarkSlowDownCapsAndNeverDecreases(t *testing.T) {
	m := NewManager()
	defer m.Shutdown(context.Background())

	s, err := m.CreateSession(context.Background(), &fakeAuthorizer{})
	require.NoError(t, err)
	require.Equal(t, 2, s.Interval)

	assert.Equal(t, 3, m.MarkSlowDown(s.SessionID))
	assert.Equal(t, 4, m.MarkSlowDown(s.SessionID))

	last := 0
	for i := 0; i < 10; i++ {
		last = m.MarkSlowDown(s.SessionID)
	}
	assert.Equal(t, 10, last)
	assert.Equal(t, 10, s.Interval)

	// Sessions without an interval hint stay untouched.
	s.Interval = 0
	assert.Equal(t, 0, m.MarkSlowDown(s.SessionID))

	// Unknown sessions report no interval.
	assert.Equal(t, 0, m.MarkSlowDown("missing"))
}

func TestBeginPoll(t *testing.T) {
	m := NewManager()
	defer m.Shutdown(context.Background())

	s, err := m.CreateSession(context.Background(), &fakeAuthorizer{})
	require.NoError(t, err)

	assert.Nil(t, m.BeginPoll("missing", time.Second))

	// First poll passes the gate and is recorded.
	view := m.BeginPoll(s.DeviceCode, time.Second)
	require.NotNil(t, view)
	assert.Equal(t, s.SessionID, view.SessionID)
	assert.Equal(t, s.CodeVerifier, view.CodeVerifier)
	assert.Equal(t, StatusPending, view.Status)
	assert.False(t, view.Throttled)
	assert.Equal(t, 1, s.PollCount)

	// An immediate second poll is throttled and not recorded.
	view = m.BeginPoll(s.DeviceCode, time.Second)
	require.NotNil(t, view)
	assert.True(t, view.Throttled)
	assert.Equal(t, 1, s.PollCount)
}

func TestBeginPollExpiredSession(t *testing.T) {
	m := NewManager()
	defer m.Shutdown(context.Background())

	s, err := m.CreateSession(context.Background(), &fakeAuthorizer{})
	require.NoError(t, err)
	s.ExpiresAt = time.Now().Add(-time.Minute).UnixMilli()

	view := m.BeginPoll(s.DeviceCode, time.Second)
	require.NotNil(t, view)
	assert.Equal(t, StatusExpired, view.Status)
	assert.False(t, view.Throttled)
	// Expiry short-circuits before the poll is recorded.
	assert.Equal(t, 0, s.PollCount)
}

func TestBeginPollTerminalSnapshot(t *testing.T) {
	m := NewManager()
	defer m.Shutdown(context.Background())

	s, err := m.CreateSession(context.Background(), &fakeAuthorizer{})
	require.NoError(t, err)

	token := &oauth.Token{AccessToken: "at", RefreshToken: "rt", ExpiresAt: time.Now().UnixMilli() + 3600_000}
	m.MarkSuccess(s.SessionID, token)

	view := m.BeginPoll(s.DeviceCode, 0)
	require.NotNil(t, view)
	assert.Equal(t, StatusSuccess, view.Status)
	assert.Same(t, token, view.Token)

	m.MarkError(s.SessionID, "access_denied")
	view = m.BeginPoll(s.DeviceCode, 0)
	require.NotNil(t, view)
	assert.Equal(t, StatusError, view.Status)
	assert.Equal(t, "access_denied", view.Error)
}

func TestBeginPollConcurrentWithMutations(t *testing.T) {
	m := NewManager()
	defer m.Shutdown(context.Background())

	s, err := m.CreateSession(context.Background(), &fakeAuthorizer{})
	require.NoError(t, err)

	// Concurrent polls and mutations for one device code must all go
	// through the manager's lock; the race detector flags any path that
	// reads live session fields outside it.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.BeginPoll(s.DeviceCode, 0)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.UpdatePoll(s.SessionID)
				m.MarkSlowDown(s.SessionID)
			}
		}()
	}
	wg.Wait()

	view := m.BeginPoll(s.DeviceCode, 0)
	require.NotNil(t, view)
	assert.Equal(t, 10, view.Interval)
}

func TestSweepRemovesStaleAndTerminal(t *testing.T) {
	m := NewManager()
	m.sweepInterval = 10 * time.Millisecond
	defer m.Shutdown(context.Background())

	stale, err := m.CreateSession(context.Background(), &fakeAuthorizer{})
	require.NoError(t, err)
	finished, err := m.CreateSession(context.Background(), &fakeAuthorizer{})
	require.NoError(t, err)
	live, err := m.CreateSession(context.Background(), &fakeAuthorizer{})
	require.NoError(t, err)

	// Well past expiry plus grace.
	stale.ExpiresAt = time.Now().Add(-10 * time.Minute).UnixMilli()

	// Terminal and past the retention window.
	finished.Status = StatusSuccess
	finished.CreatedAt = time.Now().Add(-2 * time.Hour)

	require.Eventually(t, func() bool {
		return m.Count() == 1
	}, time.Second, 5*time.Millisecond)

	assert.Nil(t, m.GetSession(stale.SessionID))
	assert.Nil(t, m.GetSessionByDeviceCode(stale.DeviceCode))
	assert.Nil(t, m.GetSession(finished.SessionID))
	assert.Nil(t, m.GetSessionByDeviceCode(finished.DeviceCode))
	assert.NotNil(t, m.GetSession(live.SessionID))
}

func TestSweepSelfTerminatesAndRestarts(t *testing.T) {
	m := NewManager()
	m.sweepInterval = 10 * time.Millisecond
	defer m.Shutdown(context.Background())

	s, err := m.CreateSession(context.Background(), &fakeAuthorizer{})
	require.NoError(t, err)

	s.ExpiresAt = time.Now().Add(-10 * time.Minute).UnixMilli()

	require.Eventually(t, func() bool {
		return m.Count() == 0
	}, time.Second, 5*time.Millisecond)

	m.mu.Lock()
	done := m.sweepDone
	m.mu.Unlock()
	require.NotNil(t, done)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep loop did not exit after draining")
	}

	// A new session restarts the sweep with a fresh done channel.
	_, err = m.CreateSession(context.Background(), &fakeAuthorizer{})
	require.NoError(t, err)

	m.mu.Lock()
	restarted := m.sweepDone
	m.mu.Unlock()
	assert.NotEqual(t, done, restarted)
}

func TestShutdownClearsState(t *testing.T) {
	m := NewManager()

	s, err := m.CreateSession(context.Background(), &fakeAuthorizer{})
	require.NoError(t, err)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Nil(t, m.GetSession(s.SessionID))
	assert.Equal(t, 0, m.Count())

	// Idempotent.
	require.NoError(t, m.Shutdown(context.Background()))
}
