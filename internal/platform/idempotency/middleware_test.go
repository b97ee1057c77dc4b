package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/iryastone/storefront/internal/domain"
	"github.com/iryastone/storefront/internal/platform/auth"
	"github.com/iryastone/storefront/internal/platform/localstore"
)

var fixedTime = time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)

func newLocalStore() (*LocalStore, *localstore.Memory) {
	kv := localstore.NewMemory()
	return NewLocalStore(kv, localstore.Keyspace{Prefix: "irya"}), kv
}

func ownerRequest(owner domain.Owner, body, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req.WithContext(auth.WithOwner(req.Context(), owner))
}

func TestMiddlewareWithoutKeyPassesThrough(t *testing.T) {
	store, kv := newLocalStore()
	calls := 0
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, ownerRequest(domain.Anonymous("anon-1"), `{"productId":"kota-1"}`, ""))
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected both requests to reach the handler, got %d", calls)
	}
	if kv.Len() != 0 {
		t.Fatalf("expected no records without a key, got %d", kv.Len())
	}
}

func TestMiddlewareRequiredKey(t *testing.T) {
	store, _ := newLocalStore()
	handler := Middleware(store, WithRequiredKey())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked when the key is missing")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, ownerRequest(domain.Anonymous("anon-1"), `{}`, ""))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	store, _ := newLocalStore()
	calls := 0
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"quantity":2}`))
	}))

	owner := domain.Anonymous("anon-1")
	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, ownerRequest(owner, `{"productId":"kota-1","quantity":2}`, "retry-1"))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, ownerRequest(owner, `{"productId":"kota-1","quantity":2}`, "retry-1"))

	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
	if rr2.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", rr2.Code)
	}
	if rr2.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replay header")
	}
	if rr2.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected replayed content type, got %q", rr2.Header().Get("Content-Type"))
	}
	if rr2.Body.String() != rr1.Body.String() {
		t.Fatalf("expected body %s, got %s", rr1.Body.String(), rr2.Body.String())
	}
}

func TestMiddlewareScopesKeysPerOwner(t *testing.T) {
	store, _ := newLocalStore()
	calls := 0
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), ownerRequest(domain.Anonymous("anon-1"), `{}`, "shared"))
	handler.ServeHTTP(httptest.NewRecorder(), ownerRequest(domain.Authenticated("user-1"), `{}`, "shared"))
	if calls != 2 {
		t.Fatalf("expected distinct owners not to share keys, got %d calls", calls)
	}
}

func TestMiddlewareConflictingFingerprint(t *testing.T) {
	store, _ := newLocalStore()
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	owner := domain.Anonymous("anon-1")

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, ownerRequest(owner, `{"quantity":1}`, "same-key"))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, ownerRequest(owner, `{"quantity":5}`, "same-key"))
	if rr2.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr2.Code)
	}
	assertErrorResponse(t, rr2.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddlewarePendingReservation(t *testing.T) {
	store, _ := newLocalStore()
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked while the key is pending")
	}))

	owner := domain.Anonymous("anon-1")
	req := ownerRequest(owner, `{"quantity":1}`, "pending-key")
	body, err := readAndReplayBody(req)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	identity := extractRequester(req.Context())
	if _, err := store.Reserve(req.Context(), scopedKey("pending-key", identity), requestFingerprint(req, body, identity), fixedTime, time.Hour); err != nil {
		t.Fatalf("seed reservation: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddlewareServerErrorsAreNotCached(t *testing.T) {
	store, kv := newLocalStore()
	calls := 0
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	owner := domain.Anonymous("anon-1")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, ownerRequest(owner, `{}`, "flaky"))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if kv.Len() != 0 {
		t.Fatalf("expected reservation released, got %d keys", kv.Len())
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, ownerRequest(owner, `{}`, "flaky"))
	if rr.Code != http.StatusCreated || calls != 2 {
		t.Fatalf("expected retry to run, got %d after %d calls", rr.Code, calls)
	}
}

func TestMiddlewarePanicReleasesReservation(t *testing.T) {
	store, kv := newLocalStore()
	calls := 0
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			panic("boom")
		}
		w.WriteHeader(http.StatusCreated)
	}))
	owner := domain.Anonymous("anon-1")

	func() {
		defer func() {
			if rec := recover(); rec != "boom" {
				t.Fatalf("expected the panic to propagate, got %v", rec)
			}
		}()
		handler.ServeHTTP(httptest.NewRecorder(), ownerRequest(owner, `{}`, "panicky"))
	}()
	if kv.Len() != 0 {
		t.Fatalf("expected reservation released, got %d keys", kv.Len())
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, ownerRequest(owner, `{}`, "panicky"))
	if rr.Code != http.StatusCreated || calls != 2 {
		t.Fatalf("expected retry to run, got %d after %d calls", rr.Code, calls)
	}
}

func TestMiddlewareSaveFailureReleasesReservation(t *testing.T) {
	store := &stubStore{failSave: true}
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, ownerRequest(domain.Anonymous("anon-1"), `{}`, "fail-key"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected the handler response to be delivered, got %d", rr.Code)
	}
	if !store.released {
		t.Fatalf("expected reservation to be released")
	}
}

func TestMiddlewareRejectsOversizedBody(t *testing.T) {
	store, kv := newLocalStore()
	handler := Middleware(store)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run for an oversized body")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, ownerRequest(domain.Anonymous("anon-1"), string(bytes.Repeat([]byte("a"), maxBodyBytes+1)), "big"))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
	if kv.Len() != 0 {
		t.Fatalf("expected no reservation, got %d keys", kv.Len())
	}
}

func TestMiddlewareStoreUnavailable(t *testing.T) {
	store := &stubStore{reserveErr: localstore.ErrUnavailable}
	handler := Middleware(store)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run when the store is down")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, ownerRequest(domain.Anonymous("anon-1"), `{}`, "k"))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "session_store_unavailable")
}

func TestLocalStoreExpiredRecordIsReplaced(t *testing.T) {
	store, _ := newLocalStore()
	ctx := context.Background()
	if err := store.SaveResponse(ctx, "k|anonymous:anon-1", "fp-1", Response{Status: http.StatusCreated}, fixedTime, time.Minute); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}
	reservation, err := store.Reserve(ctx, "k|anonymous:anon-1", "fp-2", fixedTime.Add(2*time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if reservation.State != ReservationStateNew || reservation.Record.Fingerprint != "fp-2" {
		t.Fatalf("expected a fresh reservation, got %+v", reservation)
	}
}

type stubStore struct {
	failSave   bool
	reserveErr error
	released   bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	if s.reserveErr != nil {
		return Reservation{}, s.reserveErr
	}
	return Reservation{State: ReservationStateNew}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failSave {
		return errors.New("save failed")
	}
	return nil
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func assertErrorResponse(t *testing.T, payload []byte, expected string) {
	t.Helper()

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}
