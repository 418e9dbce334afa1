package engine

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// trackKey identifies one user's play session on one track.
type trackKey struct {
	User    common.Address
	TrackID string
}

// trackSession is the per-(user, track) dedupe state for the current play
// session. Cleared on track change or restart.
type trackSession struct {
	playStartedAt time.Time
	lastAttemptAt time.Time
	invested      bool
	inFlight      bool
}

// SessionTracker owns the per-track play-session state that enforces
// at-most-one successful investment per session and mutual exclusion
// between concurrent attempts. All state is process-local and guarded by
// a single mutex.
type SessionTracker struct {
	mu       sync.Mutex
	sessions map[trackKey]*trackSession
	now      func() time.Time
}

// NewSessionTracker creates an empty tracker. The clock is injectable so
// tests can simulate elapsed time.
func NewSessionTracker(now func() time.Time) *SessionTracker {
	if now == nil {
		now = time.Now
	}
	return &SessionTracker{
		sessions: make(map[trackKey]*trackSession),
		now:      now,
	}
}

// Observe registers a playback signal for the track and returns the session
// state snapshot. A first signal for a track starts a new session. When the
// reported position has fallen back to restartThreshold or below on a track
// that has been playing longer than that, the session is treated as a
// restart and all flags reset.
func (t *SessionTracker) Observe(user common.Address, trackID string, position time.Duration, restartThreshold time.Duration) (playStartedAt, lastAttemptAt time.Time, invested, inFlight bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := trackKey{User: user, TrackID: trackID}
	now := t.now()

	session, ok := t.sessions[key]
	if !ok {
		session = &trackSession{playStartedAt: now}
		t.sessions[key] = session
	} else if position <= restartThreshold && now.Sub(session.playStartedAt) > restartThreshold {
		// Loop or seek back to the start: a fresh session begins.
		session.playStartedAt = now
		session.lastAttemptAt = time.Time{}
		session.invested = false
	}

	return session.playStartedAt, session.lastAttemptAt, session.invested, session.inFlight
}

// TryAcquire atomically claims the in-flight slot for the track. It returns
// false if an attempt is already running, which is what prevents two
// near-simultaneous signals from both starting an executor call.
func (t *SessionTracker) TryAcquire(user common.Address, trackID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, ok := t.sessions[trackKey{User: user, TrackID: trackID}]
	if !ok || session.inFlight || session.invested {
		return false
	}
	session.inFlight = true
	session.lastAttemptAt = t.now()
	return true
}

// Release clears the in-flight flag after an attempt finishes, recording a
// success permanently for this session.
func (t *SessionTracker) Release(user common.Address, trackID string, succeeded bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, ok := t.sessions[trackKey{User: user, TrackID: trackID}]
	if !ok {
		return
	}
	session.inFlight = false
	if succeeded {
		session.invested = true
	}
}

// Forget drops the session for a track, typically when the user moves to a
// different track.
func (t *SessionTracker) Forget(user common.Address, trackID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, trackKey{User: user, TrackID: trackID})
}

// ForgetUser drops all sessions belonging to the user.
func (t *SessionTracker) ForgetUser(user common.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.sessions {
		if key.User == user {
			delete(t.sessions, key)
		}
	}
}
