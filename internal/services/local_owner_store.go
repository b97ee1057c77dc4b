package services

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/iryastone/storefront/internal/domain"
	"github.com/iryastone/storefront/internal/platform/localstore"
)

// LocalOwnerStoreDeps wires the session key/value store for anonymous owners.
type LocalOwnerStoreDeps struct {
	Store       localstore.Store
	Keys        localstore.Keyspace
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

// LocalOwnerStore keeps an anonymous session's cart and wishlist as JSON lists.
// Reads and writes are whole-list; the store assumes a single writer per session.
type LocalOwnerStore struct {
	kv        localstore.Store
	cartKey   string
	wishKey   string
	countKey  string
	sessionID string
	now       func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewLocalOwnerStores returns a factory binding the deps to a session id.
func NewLocalOwnerStores(deps LocalOwnerStoreDeps) func(sessionID string) *LocalOwnerStore {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	keys := deps.Keys
	return func(sessionID string) *LocalOwnerStore {
		sid := strings.TrimSpace(sessionID)
		return &LocalOwnerStore{
			kv:        deps.Store,
			cartKey:   keys.CartKey(sid),
			wishKey:   keys.WishlistKey(sid),
			countKey:  keys.CartCountKey(sid),
			sessionID: sid,
			now:       func() time.Time { return clock().UTC() },
			newID:     idGen,
			logger:    logger,
		}
	}
}

func (s *LocalOwnerStore) Kind() StoreKind { return domain.StoreLocal }

func (s *LocalOwnerStore) FindLine(ctx context.Context, productID string) (CartLine, bool, error) {
	lines, err := s.ListLines(ctx)
	if err != nil {
		return CartLine{}, false, err
	}
	for _, line := range lines {
		if line.ProductID == productID {
			return line, true, nil
		}
	}
	return CartLine{}, false, nil
}

func (s *LocalOwnerStore) GetLine(ctx context.Context, lineID string) (CartLine, error) {
	lines, err := s.ListLines(ctx)
	if err != nil {
		return CartLine{}, err
	}
	for _, line := range lines {
		if line.ID == lineID {
			return line, nil
		}
	}
	return CartLine{}, fmt.Errorf("%w: %s", errStoreLineNotFound, lineID)
}

func (s *LocalOwnerStore) InsertLine(ctx context.Context, line CartLine) (CartLine, error) {
	lines, err := s.ListLines(ctx)
	if err != nil {
		return CartLine{}, err
	}
	now := s.now()
	if strings.TrimSpace(line.ID) == "" {
		line.ID = s.newID()
	}
	line.AddedAt = now
	line.UpdatedAt = now
	lines = append(lines, line)
	if err := s.writeLines(ctx, lines); err != nil {
		return CartLine{}, err
	}
	return line, nil
}

func (s *LocalOwnerStore) UpdateLineQuantity(ctx context.Context, lineID string, quantity int) error {
	lines, err := s.ListLines(ctx)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(lines, func(line CartLine) bool { return line.ID == lineID })
	if idx < 0 {
		return fmt.Errorf("%w: %s", errStoreLineNotFound, lineID)
	}
	lines[idx].Quantity = quantity
	lines[idx].UpdatedAt = s.now()
	return s.writeLines(ctx, lines)
}

// ListLines returns the stored lines. Unreadable JSON is treated as an empty cart.
func (s *LocalOwnerStore) ListLines(ctx context.Context) ([]CartLine, error) {
	raw, ok, err := s.kv.Get(ctx, s.cartKey)
	if err != nil {
		return nil, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return []CartLine{}, nil
	}
	var lines []CartLine
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		s.logger(ctx, "cart.local_decode_failed", map[string]any{
			"sessionId": s.sessionID,
			"error":     err.Error(),
		})
		return []CartLine{}, nil
	}
	if lines == nil {
		lines = []CartLine{}
	}
	return lines, nil
}

func (s *LocalOwnerStore) DeleteLine(ctx context.Context, lineID string) error {
	lines, err := s.ListLines(ctx)
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(lines, func(line CartLine) bool { return line.ID == lineID })
	return s.writeLines(ctx, kept)
}

func (s *LocalOwnerStore) ClearLines(ctx context.Context) error {
	if err := s.kv.Remove(ctx, s.cartKey); err != nil {
		return err
	}
	return s.kv.Remove(ctx, s.countKey)
}

// RetainLines rewrites the cart keeping only the listed line ids.
func (s *LocalOwnerStore) RetainLines(ctx context.Context, lineIDs []string) error {
	lines, err := s.ListLines(ctx)
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(lines, func(line CartLine) bool { return !slices.Contains(lineIDs, line.ID) })
	return s.writeLines(ctx, kept)
}

// CountItems reads the cached count, recomputing it from the lines when absent or unreadable.
func (s *LocalOwnerStore) CountItems(ctx context.Context) (int, error) {
	raw, ok, err := s.kv.Get(ctx, s.countKey)
	if err != nil {
		return 0, err
	}
	if ok {
		if count, convErr := strconv.Atoi(strings.TrimSpace(raw)); convErr == nil && count >= 0 {
			return count, nil
		}
	}
	lines, err := s.ListLines(ctx)
	if err != nil {
		return 0, err
	}
	return sumQuantities(lines), nil
}

func (s *LocalOwnerStore) FindWishlistEntry(ctx context.Context, productID string) (WishlistEntry, bool, error) {
	entries, err := s.ListWishlist(ctx)
	if err != nil {
		return WishlistEntry{}, false, err
	}
	for _, entry := range entries {
		if entry.ProductID == productID {
			return entry, true, nil
		}
	}
	return WishlistEntry{}, false, nil
}

func (s *LocalOwnerStore) InsertWishlistEntry(ctx context.Context, productID string) (WishlistEntry, error) {
	entries, err := s.ListWishlist(ctx)
	if err != nil {
		return WishlistEntry{}, err
	}
	entry := WishlistEntry{ID: s.newID(), ProductID: productID, AddedAt: s.now()}
	entries = append(entries, entry)
	if err := s.writeWishlist(ctx, entries); err != nil {
		return WishlistEntry{}, err
	}
	return entry, nil
}

func (s *LocalOwnerStore) ListWishlist(ctx context.Context) ([]WishlistEntry, error) {
	raw, ok, err := s.kv.Get(ctx, s.wishKey)
	if err != nil {
		return nil, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return []WishlistEntry{}, nil
	}
	var entries []WishlistEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		s.logger(ctx, "wishlist.local_decode_failed", map[string]any{
			"sessionId": s.sessionID,
			"error":     err.Error(),
		})
		return []WishlistEntry{}, nil
	}
	if entries == nil {
		entries = []WishlistEntry{}
	}
	return entries, nil
}

func (s *LocalOwnerStore) DeleteWishlistEntry(ctx context.Context, productID string) error {
	entries, err := s.ListWishlist(ctx)
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(entries, func(entry WishlistEntry) bool { return entry.ProductID == productID })
	return s.writeWishlist(ctx, kept)
}

func (s *LocalOwnerStore) ClearWishlist(ctx context.Context) error {
	return s.kv.Remove(ctx, s.wishKey)
}

// RetainWishlist rewrites the wishlist keeping only the listed product ids.
func (s *LocalOwnerStore) RetainWishlist(ctx context.Context, productIDs []string) error {
	entries, err := s.ListWishlist(ctx)
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(entries, func(entry WishlistEntry) bool { return !slices.Contains(productIDs, entry.ProductID) })
	return s.writeWishlist(ctx, kept)
}

// writeLines persists the cart and refreshes the cached count. An empty cart removes both keys.
func (s *LocalOwnerStore) writeLines(ctx context.Context, lines []CartLine) error {
	if len(lines) == 0 {
		return s.ClearLines(ctx)
	}
	payload, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("encode local cart: %w", err)
	}
	if err := s.kv.Set(ctx, s.cartKey, string(payload)); err != nil {
		return err
	}
	return s.kv.Set(ctx, s.countKey, strconv.Itoa(sumQuantities(lines)))
}

func (s *LocalOwnerStore) writeWishlist(ctx context.Context, entries []WishlistEntry) error {
	if len(entries) == 0 {
		return s.ClearWishlist(ctx)
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode local wishlist: %w", err)
	}
	return s.kv.Set(ctx, s.wishKey, string(payload))
}
