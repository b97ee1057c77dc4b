package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iryastone/storefront/internal/domain"
	"github.com/iryastone/storefront/internal/platform/localstore"
)

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type repositoryErrorStub struct {
	notFound    bool
	conflict    bool
	unavailable bool
	msg         string
}

func (e *repositoryErrorStub) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return "repository error"
}

func (e *repositoryErrorStub) IsNotFound() bool    { return e.notFound }
func (e *repositoryErrorStub) IsConflict() bool    { return e.conflict }
func (e *repositoryErrorStub) IsUnavailable() bool { return e.unavailable }

// memoryCartLines is an in-memory CartLineRepository with failure and pause hooks.
type memoryCartLines struct {
	mu    sync.Mutex
	lines map[string]remoteLine
	seq   int

	// findBarrier, when set, holds every FindByProduct call until all participants have looked up.
	findBarrier *sync.WaitGroup
	failInsert  func(productID string) error
	failUpdate  func(lineID string) error
	blockInsert func(ctx context.Context, productID string) error
	listErr     error
	calls       int
}

type remoteLine struct {
	userID string
	line   domain.CartLine
}

func newMemoryCartLines() *memoryCartLines {
	return &memoryCartLines{lines: make(map[string]remoteLine)}
}

func (m *memoryCartLines) seed(userID string, line domain.CartLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[line.ID] = remoteLine{userID: userID, line: line}
}

func (m *memoryCartLines) FindByProduct(ctx context.Context, userID, productID string) (domain.CartLine, bool, error) {
	m.mu.Lock()
	m.calls++
	var (
		found domain.CartLine
		ok    bool
	)
	for _, stored := range m.lines {
		if stored.userID == userID && stored.line.ProductID == productID {
			found, ok = stored.line, true
			break
		}
	}
	barrier := m.findBarrier
	m.mu.Unlock()

	if barrier != nil {
		barrier.Done()
		barrier.Wait()
	}
	return found, ok, nil
}

func (m *memoryCartLines) Get(ctx context.Context, userID, lineID string) (domain.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	stored, ok := m.lines[lineID]
	if !ok || stored.userID != userID {
		return domain.CartLine{}, &repositoryErrorStub{notFound: true}
	}
	return stored.line, nil
}

func (m *memoryCartLines) Insert(ctx context.Context, userID string, line domain.CartLine) (domain.CartLine, error) {
	if m.blockInsert != nil {
		if err := m.blockInsert(ctx, line.ProductID); err != nil {
			return domain.CartLine{}, err
		}
	}
	if m.failInsert != nil {
		if err := m.failInsert(line.ProductID); err != nil {
			return domain.CartLine{}, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.seq++
	line.ID = fmt.Sprintf("remote-%d", m.seq)
	m.lines[line.ID] = remoteLine{userID: userID, line: line}
	return line, nil
}

func (m *memoryCartLines) UpdateQuantity(ctx context.Context, userID, lineID string, quantity int) error {
	if m.failUpdate != nil {
		if err := m.failUpdate(lineID); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	stored, ok := m.lines[lineID]
	if !ok || stored.userID != userID {
		return &repositoryErrorStub{notFound: true}
	}
	stored.line.Quantity = quantity
	stored.line.UpdatedAt = testNow
	m.lines[lineID] = stored
	return nil
}

func (m *memoryCartLines) List(ctx context.Context, userID string) ([]domain.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	lines := make([]domain.CartLine, 0)
	for _, stored := range m.lines {
		if stored.userID == userID {
			lines = append(lines, stored.line)
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return lines, nil
}

func (m *memoryCartLines) Delete(ctx context.Context, userID, lineID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if stored, ok := m.lines[lineID]; ok && stored.userID == userID {
		delete(m.lines, lineID)
	}
	return nil
}

func (m *memoryCartLines) DeleteAll(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	removed := 0
	for id, stored := range m.lines {
		if stored.userID == userID {
			delete(m.lines, id)
			removed++
		}
	}
	return removed, nil
}

func (m *memoryCartLines) forUser(userID string) []domain.CartLine {
	lines, _ := m.List(context.Background(), userID)
	return lines
}

func (m *memoryCartLines) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// memoryWishlist is an in-memory WishlistRepository.
type memoryWishlist struct {
	mu         sync.Mutex
	entries    map[string][]domain.WishlistEntry
	seq        int
	failInsert func(productID string) error
}

func newMemoryWishlist() *memoryWishlist {
	return &memoryWishlist{entries: make(map[string][]domain.WishlistEntry)}
}

func (m *memoryWishlist) Find(ctx context.Context, userID, productID string) (domain.WishlistEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.entries[userID] {
		if entry.ProductID == productID {
			return entry, true, nil
		}
	}
	return domain.WishlistEntry{}, false, nil
}

func (m *memoryWishlist) Insert(ctx context.Context, userID, productID string) (domain.WishlistEntry, error) {
	if m.failInsert != nil {
		if err := m.failInsert(productID); err != nil {
			return domain.WishlistEntry{}, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	entry := domain.WishlistEntry{ID: fmt.Sprintf("wish-%d", m.seq), ProductID: productID, AddedAt: testNow}
	m.entries[userID] = append(m.entries[userID], entry)
	return entry, nil
}

func (m *memoryWishlist) List(ctx context.Context, userID string) ([]domain.WishlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.WishlistEntry{}, m.entries[userID]...), nil
}

func (m *memoryWishlist) Delete(ctx context.Context, userID, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[userID][:0]
	for _, entry := range m.entries[userID] {
		if entry.ProductID != productID {
			kept = append(kept, entry)
		}
	}
	m.entries[userID] = kept
	return nil
}

func (m *memoryWishlist) DeleteAll(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := len(m.entries[userID])
	delete(m.entries, userID)
	return removed, nil
}

type stubSnapshots struct {
	snapshots map[string]domain.ProductSnapshot
	err       error
	calls     int
}

func (s *stubSnapshots) Snapshot(ctx context.Context, productID string) (domain.ProductSnapshot, error) {
	s.calls++
	if s.err != nil {
		return domain.ProductSnapshot{}, s.err
	}
	snapshot, ok := s.snapshots[productID]
	if !ok {
		return domain.ProductSnapshot{}, ErrCartNotFound
	}
	return snapshot, nil
}

type cartFixture struct {
	kv       *localstore.Memory
	lines    *memoryCartLines
	wishlist *memoryWishlist
	stores   OwnerStores
	service  CartService
	events   *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) record(_ context.Context, event string, _ map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == event {
			return true
		}
	}
	return false
}

func newCartFixture(t *testing.T, catalog snapshotSource) *cartFixture {
	t.Helper()
	fixture := &cartFixture{
		kv:       localstore.NewMemory(),
		lines:    newMemoryCartLines(),
		wishlist: newMemoryWishlist(),
		events:   &eventLog{},
	}
	seq := 0
	fixture.stores = OwnerStores{
		Local: NewLocalOwnerStores(LocalOwnerStoreDeps{
			Store: fixture.kv,
			Keys:  localstore.Keyspace{Prefix: "irya"},
			Clock: func() time.Time { return testNow },
			IDGenerator: func() string {
				seq++
				return fmt.Sprintf("local-%d", seq)
			},
			Logger: fixture.events.record,
		}),
		Remote: NewRemoteOwnerStores(fixture.lines, fixture.wishlist),
	}
	svc, err := NewCartService(CartServiceDeps{
		Stores:      fixture.stores,
		Catalog:     catalog,
		Clock:       func() time.Time { return testNow },
		VATRate:     decimal.RequireFromString("0.20"),
		DepositRate: decimal.RequireFromString("0.30"),
		Logger:      fixture.events.record,
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	fixture.service = svc
	return fixture
}

func snapshotOf(productID, price string) *domain.ProductSnapshot {
	return &domain.ProductSnapshot{
		ProductID: productID,
		Name:      productID,
		UnitPrice: decimal.RequireFromString(price),
	}
}
