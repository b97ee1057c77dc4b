package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
)

func TestSessionManagerPublishesToSubscribers(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "user-7"}}
	manager := NewSessionManager(verifier, WithSessionClock(func() time.Time { return now }))
	if err := manager.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	var (
		mu       sync.Mutex
		received []StateChange
	)
	unsubscribe := manager.Subscribe(func(_ context.Context, change StateChange) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, change)
	})
	defer unsubscribe()

	change, err := manager.SignIn(context.Background(), "anon-1", "token")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	want := StateChange{AnonymousID: "anon-1", UserID: "user-7", At: now}
	if change != want {
		t.Fatalf("unexpected change %+v", change)
	}
	if len(received) != 1 || received[0] != want {
		t.Fatalf("expected listener to receive %+v, got %+v", want, received)
	}
}

func TestSessionManagerUnsubscribeStopsDelivery(t *testing.T) {
	manager := NewSessionManager(&stubTokenVerifier{token: &firebaseauth.Token{UID: "u"}})
	if err := manager.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	calls := 0
	unsubscribe := manager.Subscribe(func(context.Context, StateChange) { calls++ })
	if manager.Listeners() != 1 {
		t.Fatalf("expected one listener")
	}
	unsubscribe()
	unsubscribe()
	if manager.Listeners() != 0 {
		t.Fatalf("expected listener removed")
	}

	if _, err := manager.SignIn(context.Background(), "anon", "token"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no deliveries after unsubscribe, got %d", calls)
	}
}

func TestSessionManagerLifecycle(t *testing.T) {
	manager := NewSessionManager(&stubTokenVerifier{token: &firebaseauth.Token{UID: "u"}})

	if _, err := manager.SignIn(context.Background(), "anon", "token"); !errors.Is(err, ErrSessionNotStarted) {
		t.Fatalf("expected ErrSessionNotStarted, got %v", err)
	}
	if err := manager.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	manager.Subscribe(func(context.Context, StateChange) {})
	manager.Close()

	if manager.Listeners() != 0 {
		t.Fatalf("expected close to drop listeners")
	}
	if err := manager.Publish(context.Background(), StateChange{UserID: "u"}); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if err := manager.Start(); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected restart to fail, got %v", err)
	}
}

func TestSessionManagerRejectsBadSignIns(t *testing.T) {
	verifier := &stubTokenVerifier{err: ErrTokenExpired}
	manager := NewSessionManager(verifier)
	if err := manager.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	delivered := false
	manager.Subscribe(func(context.Context, StateChange) { delivered = true })

	if _, err := manager.SignIn(context.Background(), "", "token"); !errors.Is(err, ErrAnonymousSessionRequired) {
		t.Fatalf("expected ErrAnonymousSessionRequired, got %v", err)
	}
	if _, err := manager.SignIn(context.Background(), "anon", "token"); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if delivered {
		t.Fatalf("failed sign-ins must not be published")
	}
}
