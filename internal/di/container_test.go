package di

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/shopspring/decimal"

	"github.com/iryastone/storefront/internal/handlers"
	"github.com/iryastone/storefront/internal/platform/auth"
	"github.com/iryastone/storefront/internal/platform/config"
	"github.com/iryastone/storefront/internal/platform/localstore"
)

type stubVerifier struct{}

func (stubVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	if idToken != "good-token" {
		return nil, auth.ErrTokenInvalid
	}
	return &firebaseauth.Token{UID: "user-1"}, nil
}

func testConfig() config.Config {
	return config.Config{
		Redis: config.RedisConfig{Prefix: "irya"},
		Pricing: config.PricingConfig{
			Currency:    "GBP",
			VATRate:     decimal.RequireFromString("0.20"),
			DepositRate: decimal.RequireFromString("0.30"),
		},
		Sync:    config.SyncConfig{LineTimeout: time.Second, JobTimeout: 5 * time.Second},
		Catalog: config.CatalogConfig{FeaturedLimit: 4},
	}
}

func TestNewContainerRequiresLocalStore(t *testing.T) {
	if _, err := NewContainer(testConfig(), Infrastructure{}); err == nil {
		t.Fatalf("expected error without a local store")
	}
}

func TestContainerServesAnonymousCartAndRetainsItOnFailedSync(t *testing.T) {
	kv := localstore.NewMemory()
	container, err := NewContainer(testConfig(), Infrastructure{
		Local:    kv,
		Verifier: stubVerifier{},
	})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if err := container.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := container.Close(ctx); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	if container.Sessions.Listeners() != 1 {
		t.Fatalf("expected login sync subscribed, got %d listeners", container.Sessions.Listeners())
	}

	router := container.Router(handlers.NewHealthHandlers())

	add := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"productId":"sandstone-1","quantity":2}`))
	add.Header.Set(auth.AnonymousSessionHeader, "anon-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, add)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	totals := httptest.NewRequest(http.MethodGet, "/api/v1/cart/totals", nil)
	totals.Header.Set(auth.AnonymousSessionHeader, "anon-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, totals)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var totalsBody struct {
		Totals struct {
			Total struct {
				Display string `json:"display"`
			} `json:"total"`
		} `json:"totals"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &totalsBody); err != nil {
		t.Fatalf("decode totals: %v", err)
	}
	if totalsBody.Totals.Total.Display != "£68.40" {
		t.Fatalf("expected £68.40 total, got %q", totalsBody.Totals.Total.Display)
	}

	// Without a remote store every line fails and stays in the session.
	login := httptest.NewRequest(http.MethodPost, "/api/v1/session/login?wait=true", strings.NewReader(`{"idToken":"good-token","anonymousSession":"anon-1"}`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, login)
	if rr.Code != http.StatusMultiStatus {
		t.Fatalf("expected 207, got %d: %s", rr.Code, rr.Body.String())
	}

	count := httptest.NewRequest(http.MethodGet, "/api/v1/cart/count", nil)
	count.Header.Set(auth.AnonymousSessionHeader, "anon-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, count)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var countBody struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &countBody); err != nil {
		t.Fatalf("decode count: %v", err)
	}
	if countBody.Count != 2 {
		t.Fatalf("expected anonymous count 2 after failed sync, got %d", countBody.Count)
	}
}

func TestContainerServesFallbackCatalog(t *testing.T) {
	container, err := NewContainer(testConfig(), Infrastructure{Local: localstore.NewMemory(), Verifier: stubVerifier{}})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	router := container.Router(nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/products/featured", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Products []struct {
			ID string `json:"id"`
		} `json:"products"`
		Fallback bool `json:"fallback"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Fallback || len(body.Products) != 4 {
		t.Fatalf("expected 4 fallback products, got %+v", body)
	}
}

func TestContainerReplaysRetriedAddToCart(t *testing.T) {
	container, err := NewContainer(testConfig(), Infrastructure{Local: localstore.NewMemory(), Verifier: stubVerifier{}})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	router := container.Router(nil)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"productId":"kota-1","quantity":2}`))
		req.Header.Set(auth.AnonymousSessionHeader, "anon-2")
		req.Header.Set("Idempotency-Key", "add-kota")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201, got %d", i+1, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart/count", nil)
	req.Header.Set(auth.AnonymousSessionHeader, "anon-2")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode count: %v", err)
	}
	if body.Count != 2 {
		t.Fatalf("expected the retried add to be replayed, got count %d", body.Count)
	}
}
