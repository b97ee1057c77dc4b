package localstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/iryastone/storefront/internal/platform/config"
)

func TestKeyspace(t *testing.T) {
	keys := Keyspace{Prefix: "irya"}
	if got := keys.CartKey("sess-1"); got != "irya:cart:sess-1" {
		t.Fatalf("unexpected cart key %q", got)
	}
	if got := keys.WishlistKey(" sess-1 "); got != "irya:wishlist:sess-1" {
		t.Fatalf("unexpected wishlist key %q", got)
	}
	if got := (Keyspace{}).CartCountKey("sess-1"); got != "irya:cart-count:sess-1" {
		t.Fatalf("expected default prefix, got %q", got)
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	if _, ok, err := store.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := store.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, ok, err := store.Get(ctx, "k")
	if err != nil || !ok || value != "v" {
		t.Fatalf("unexpected get result %q ok=%v err=%v", value, ok, err)
	}
	if err := store.Remove(ctx, "k"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.Remove(ctx, "k"); err != nil {
		t.Fatalf("second remove should succeed: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store")
	}
}

func newTestRedis(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, ttl), mr
}

func TestRedisRoundTripAppliesTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedis(t, time.Hour)

	if _, ok, err := store.Get(ctx, "irya:cart:s1"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := store.Set(ctx, "irya:cart:s1", `[{"id":"a"}]`); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ttl := mr.TTL("irya:cart:s1"); ttl != time.Hour {
		t.Fatalf("expected ttl 1h, got %s", ttl)
	}
	value, ok, err := store.Get(ctx, "irya:cart:s1")
	if err != nil || !ok || value != `[{"id":"a"}]` {
		t.Fatalf("unexpected get result %q ok=%v err=%v", value, ok, err)
	}

	mr.FastForward(2 * time.Hour)
	if _, ok, _ := store.Get(ctx, "irya:cart:s1"); ok {
		t.Fatalf("expected key to expire")
	}

	if err := store.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Remove(ctx, "k"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if mr.Exists("k") {
		t.Fatalf("expected key removed")
	}
}

func TestRedisFailuresAreUnavailable(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedis(t, 0)
	mr.Close()

	if _, _, err := store.Get(ctx, "k"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on get, got %v", err)
	}
	if err := store.Set(ctx, "k", "v"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on set, got %v", err)
	}
	if err := store.Ping(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on ping, got %v", err)
	}
}

func TestDialFromConfig(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := Dial(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr() + "/0", TTL: time.Minute})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Set(context.Background(), "k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, _ := mr.Get("k"); got != "v" {
		t.Fatalf("expected value in miniredis, got %q", got)
	}

	if _, err := Dial(context.Background(), config.RedisConfig{}); err == nil {
		t.Fatalf("expected error without endpoint")
	}
}
