package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	// ErrSessionNotStarted is returned when sign-ins arrive before Start.
	ErrSessionNotStarted = errors.New("auth: session manager not started")
	// ErrSessionClosed is returned once the manager has been closed.
	ErrSessionClosed = errors.New("auth: session manager closed")
	// ErrAnonymousSessionRequired is returned when a sign-in carries no usable anonymous session.
	ErrAnonymousSessionRequired = errors.New("auth: anonymous session required")
)

// StateChange announces that the shopper behind an anonymous session signed in as UserID.
type StateChange struct {
	AnonymousID string
	UserID      string
	At          time.Time
}

// Listener receives state changes. Listeners run synchronously on the publishing goroutine
// and must hand long work off themselves.
type Listener func(ctx context.Context, change StateChange)

// SessionManager is the process-wide registry of authentication-state listeners.
// Subscriptions are explicit: each Subscribe returns the function that removes it.
type SessionManager struct {
	verifier TokenVerifier
	timeout  time.Duration
	clock    func() time.Time

	mu        sync.RWMutex
	listeners map[uint64]Listener
	nextID    uint64
	started   bool
	closed    bool
}

// SessionOption customises SessionManager behaviour.
type SessionOption func(*SessionManager)

// WithSessionClock overrides the clock used to stamp state changes.
func WithSessionClock(clock func() time.Time) SessionOption {
	return func(m *SessionManager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithSessionVerifyTimeout bounds token verification during SignIn.
func WithSessionVerifyTimeout(d time.Duration) SessionOption {
	return func(m *SessionManager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// NewSessionManager constructs a manager that verifies sign-ins with verifier.
func NewSessionManager(verifier TokenVerifier, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		verifier:  verifier,
		timeout:   defaultVerifyTimeout,
		clock:     time.Now,
		listeners: make(map[uint64]Listener),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Subscribe registers listener and returns its disposer. Calling the disposer more than once is harmless.
func (m *SessionManager) Subscribe(listener Listener) (unsubscribe func()) {
	if m == nil || listener == nil {
		return func() {}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return func() {}
	}
	id := m.nextID
	m.nextID++
	m.listeners[id] = listener
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// Start begins accepting sign-ins.
func (m *SessionManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrSessionClosed
	}
	m.started = true
	return nil
}

// Close drops every listener and rejects further sign-ins.
func (m *SessionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.listeners = make(map[uint64]Listener)
}

// Listeners reports the number of active subscriptions.
func (m *SessionManager) Listeners() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners)
}

// SignIn verifies idToken and announces the anonymous-to-user transition to every listener.
func (m *SessionManager) SignIn(ctx context.Context, anonymousID, idToken string) (StateChange, error) {
	if err := m.ready(); err != nil {
		return StateChange{}, err
	}
	anonymousID, ok := anonymousSession(anonymousID)
	if !ok {
		return StateChange{}, ErrAnonymousSessionRequired
	}
	if m.verifier == nil {
		return StateChange{}, ErrTokenInvalid
	}
	uid, err := verifiedUserID(ctx, m.verifier, strings.TrimSpace(idToken), m.timeout)
	if err != nil {
		return StateChange{}, err
	}

	change := StateChange{AnonymousID: anonymousID, UserID: uid, At: m.clock().UTC()}
	if err := m.Publish(ctx, change); err != nil {
		return StateChange{}, err
	}
	return change, nil
}

// Publish delivers change to a snapshot of the current listeners.
func (m *SessionManager) Publish(ctx context.Context, change StateChange) error {
	if err := m.ready(); err != nil {
		return err
	}

	m.mu.RLock()
	snapshot := make([]Listener, 0, len(m.listeners))
	for _, listener := range m.listeners {
		snapshot = append(snapshot, listener)
	}
	m.mu.RUnlock()

	for _, listener := range snapshot {
		listener(ctx, change)
	}
	return nil
}

func (m *SessionManager) ready() error {
	if m == nil {
		return ErrSessionNotStarted
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrSessionClosed
	}
	if !m.started {
		return ErrSessionNotStarted
	}
	return nil
}
