// Package tunerlock arbitrates exclusive use of the single RTL-SDR tuner between
// clients identified by an opaque client id (the X-Client-ID header).
//
// There is at most one session. A session is renewed by its owner, released by its
// owner, reclaimed by anyone once it has been idle longer than the timeout, and can be
// taken over early with force. Expiry is checked lazily on access.
package tunerlock

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/models"
)

// DefaultTimeout is how long a session may sit idle before another client may claim it.
const DefaultTimeout = 300 * time.Second

// ConflictError is returned by Acquire when another client holds a fresh session.
type ConflictError struct {
	Owner string
	Idle  time.Duration
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("Tuner is in use by %s (idle %ds). Use force=true to take over.",
		e.Owner, int(e.Idle.Seconds()))
}

// Outcome says how Acquire resolved. It is used for metrics and logging.
type Outcome string

const (
	OutcomeNew      Outcome = "new"
	OutcomeRenewed  Outcome = "renewed"
	OutcomeExpired  Outcome = "expired"
	OutcomeTakeover Outcome = "takeover"
	OutcomeConflict Outcome = "conflict"
)

type session struct {
	id           string
	clientID     string
	mode         models.RadioMode
	startedAt    time.Time
	lastActivity time.Time
}

// Lock is the process-wide tuner lock. The zero value is not usable; call New.
type Lock struct {
	mu      sync.Mutex
	current *session
	timeout time.Duration
	now     func() time.Time
	newID   func() string

	// OnAcquire, if set, is called with the outcome of every Acquire (under the lock).
	OnAcquire func(Outcome)
}

// Option configures a Lock.
type Option func(*Lock)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(l *Lock) { l.timeout = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Lock) { l.now = now }
}

// New creates an unlocked Lock.
func New(opts ...Option) *Lock {
	l := &Lock{
		timeout: DefaultTimeout,
		now:     time.Now,
		newID:   func() string { return uuid.New().String()[:8] },
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Timeout returns the idle timeout.
func (l *Lock) Timeout() time.Duration { return l.timeout }

func (l *Lock) expired(s *session, now time.Time) bool {
	return now.Sub(s.lastActivity) > l.timeout
}

// Acquire claims the tuner for clientID. A renewal by the current owner returns the
// existing session id. A fresh session held by someone else yields a *ConflictError
// unless force is set.
func (l *Lock) Acquire(clientID string, mode models.RadioMode, force bool) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	outcome := OutcomeNew

	if s := l.current; s != nil {
		switch {
		case s.clientID == clientID:
			s.lastActivity = now
			s.mode = mode
			slog.Debug("tunerlock: session renewed", "client", clientID, "session", s.id)
			l.report(OutcomeRenewed)
			return s.id, nil
		case l.expired(s, now):
			slog.Info("tunerlock: session expired, reassigning",
				"previous", s.clientID, "client", clientID)
			outcome = OutcomeExpired
		case force:
			slog.Warn("tunerlock: force takeover", "previous", s.clientID, "client", clientID)
			outcome = OutcomeTakeover
		default:
			err := &ConflictError{Owner: s.clientID, Idle: now.Sub(s.lastActivity)}
			slog.Info("tunerlock: acquire denied", "client", clientID, "owner", s.clientID)
			l.report(OutcomeConflict)
			return "", err
		}
	}

	s := &session{
		id:           l.newID(),
		clientID:     clientID,
		mode:         mode,
		startedAt:    now,
		lastActivity: now,
	}
	l.current = s
	slog.Info("tunerlock: session acquired", "session", s.id, "client", clientID, "mode", mode)
	l.report(outcome)
	return s.id, nil
}

func (l *Lock) report(o Outcome) {
	if l.OnAcquire != nil {
		l.OnAcquire(o)
	}
}

// Release drops the session held by clientID. It succeeds when there is no session.
// It fails without side effects when clientID is not the owner or when a non-empty
// sessionID does not match.
func (l *Lock) Release(clientID, sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.current
	if s == nil {
		return true
	}
	if s.clientID != clientID {
		slog.Warn("tunerlock: release denied, not owner", "client", clientID, "owner", s.clientID)
		return false
	}
	if sessionID != "" && s.id != sessionID {
		slog.Warn("tunerlock: release denied, session mismatch", "client", clientID)
		return false
	}
	slog.Info("tunerlock: session released", "session", s.id, "client", clientID)
	l.current = nil
	return true
}

// Touch renews the idle timer without changing the mode. Only the owner may touch.
func (l *Lock) Touch(clientID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.current
	if s == nil || s.clientID != clientID {
		return false
	}
	s.lastActivity = l.now()
	return true
}

// Verify reports whether clientID owns a live session, matching sessionID when given.
func (l *Lock) Verify(clientID, sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.current
	if s == nil || s.clientID != clientID {
		return false
	}
	if sessionID != "" && s.id != sessionID {
		return false
	}
	return !l.expired(s, l.now())
}

// Status returns a descriptive snapshot.
func (l *Lock) Status() models.LockStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.current
	if s == nil {
		return models.LockStatus{Locked: false, Mode: models.ModeIdle}
	}
	now := l.now()
	expired := l.expired(s, now)
	return models.LockStatus{
		Locked: !expired,
		Mode:   s.mode,
		Session: &models.LockSession{
			SessionID:    s.id,
			ClientID:     s.clientID,
			StartedAt:    s.startedAt,
			LastActivity: s.lastActivity,
			AgeSeconds:   now.Sub(s.startedAt).Seconds(),
			IdleSeconds:  now.Sub(s.lastActivity).Seconds(),
			Expired:      expired,
		},
	}
}
