package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	errCartStoresRequired = errors.New("cart service: owner stores are required")
	errCartClockRequired  = errors.New("cart service: clock is required")
)

// snapshotSource supplies denormalised product data for cart lines.
type snapshotSource interface {
	Snapshot(ctx context.Context, productID string) (ProductSnapshot, error)
}

// CartServiceDeps wires the owner stores, catalog and pricing for cart operations.
type CartServiceDeps struct {
	Stores      OwnerStores
	Catalog     snapshotSource
	Clock       func() time.Time
	VATRate     decimal.Decimal
	DepositRate decimal.Decimal
	Logger      func(context.Context, string, map[string]any)
}

type cartService struct {
	stores      OwnerStores
	catalog     snapshotSource
	now         func() time.Time
	vatRate     decimal.Decimal
	depositRate decimal.Decimal
	logger      func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Stores.Local == nil && deps.Stores.Remote == nil {
		return nil, errCartStoresRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &cartService{
		stores:      deps.Stores,
		catalog:     deps.Catalog,
		now:         func() time.Time { return deps.Clock().UTC() },
		vatRate:     deps.VATRate,
		depositRate: deps.DepositRate,
		logger:      logger,
	}, nil
}

// AddToCart merges into the owner's existing line for the product or inserts a new one.
// The lookup and the write are separate round trips; two concurrent adds for the
// same owner and product can both miss the lookup and insert duplicate lines.
func (s *cartService) AddToCart(ctx context.Context, owner Owner, cmd AddToCartCommand) (AddToCartResult, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if !owner.Valid() || productID == "" || cmd.Quantity <= 0 {
		return AddToCartResult{}, ErrCartInvalidInput
	}
	if cmd.Quantity > MaxLineQuantity {
		return AddToCartResult{}, ErrQuantityLimit
	}
	snapshot, err := normaliseSnapshot(productID, cmd.Snapshot)
	if err != nil {
		return AddToCartResult{}, err
	}

	store, err := s.stores.For(owner)
	if err != nil {
		return AddToCartResult{}, err
	}

	existing, found, err := store.FindLine(ctx, productID)
	if err != nil {
		return AddToCartResult{}, translateStoreError(err)
	}
	if found {
		// Compared by subtraction so an oversized stored quantity cannot overflow the sum.
		if existing.Quantity > MaxLineQuantity-cmd.Quantity {
			return AddToCartResult{}, ErrQuantityLimit
		}
		quantity := existing.Quantity + cmd.Quantity
		if err := store.UpdateLineQuantity(ctx, existing.ID, quantity); err != nil {
			return AddToCartResult{}, translateStoreError(err)
		}
		s.logger(ctx, "cart.line_merged", map[string]any{
			"owner":     owner.String(),
			"lineId":    existing.ID,
			"productId": productID,
			"quantity":  quantity,
		})
		return AddToCartResult{LineID: existing.ID, Store: store.Kind(), Quantity: quantity, Merged: true}, nil
	}

	if snapshot == nil {
		snapshot = s.lookupSnapshot(ctx, owner, productID)
	}
	now := s.now()
	inserted, err := store.InsertLine(ctx, CartLine{
		ProductID: productID,
		Quantity:  cmd.Quantity,
		Product:   snapshot,
		AddedAt:   now,
		UpdatedAt: now,
	})
	if err != nil {
		return AddToCartResult{}, translateStoreError(err)
	}
	s.logger(ctx, "cart.line_added", map[string]any{
		"owner":     owner.String(),
		"lineId":    inserted.ID,
		"productId": productID,
		"quantity":  cmd.Quantity,
	})
	return AddToCartResult{LineID: inserted.ID, Store: store.Kind(), Quantity: cmd.Quantity}, nil
}

// GetCartItems lists the owner's lines. Signed-in owners get missing snapshots filled from the catalog.
func (s *cartService) GetCartItems(ctx context.Context, owner Owner) (CartView, error) {
	if !owner.Valid() {
		return CartView{}, ErrCartInvalidInput
	}
	store, err := s.stores.For(owner)
	if err != nil {
		return CartView{}, err
	}
	lines, err := store.ListLines(ctx)
	if err != nil {
		return CartView{}, translateStoreError(err)
	}
	if owner.IsAuthenticated() {
		for i := range lines {
			if lines[i].Product != nil {
				continue
			}
			lines[i].Product = s.lookupSnapshot(ctx, owner, lines[i].ProductID)
		}
	}
	return CartView{Store: store.Kind(), Lines: lines}, nil
}

func (s *cartService) UpdateQuantity(ctx context.Context, owner Owner, lineID string, quantity int) error {
	id := strings.TrimSpace(lineID)
	if !owner.Valid() || id == "" || quantity <= 0 {
		return ErrCartInvalidInput
	}
	if quantity > MaxLineQuantity {
		return ErrQuantityLimit
	}
	store, err := s.stores.For(owner)
	if err != nil {
		return err
	}
	if err := store.UpdateLineQuantity(ctx, id, quantity); err != nil {
		return translateStoreError(err)
	}
	s.logger(ctx, "cart.quantity_updated", map[string]any{
		"owner":    owner.String(),
		"lineId":   id,
		"quantity": quantity,
	})
	return nil
}

func (s *cartService) RemoveLine(ctx context.Context, owner Owner, lineID string) error {
	id := strings.TrimSpace(lineID)
	if !owner.Valid() || id == "" {
		return ErrCartInvalidInput
	}
	store, err := s.stores.For(owner)
	if err != nil {
		return err
	}
	if err := store.DeleteLine(ctx, id); err != nil {
		return translateStoreError(err)
	}
	return nil
}

func (s *cartService) ClearCart(ctx context.Context, owner Owner) error {
	if !owner.Valid() {
		return ErrCartInvalidInput
	}
	store, err := s.stores.For(owner)
	if err != nil {
		return err
	}
	if err := store.ClearLines(ctx); err != nil {
		return translateStoreError(err)
	}
	s.logger(ctx, "cart.cleared", map[string]any{"owner": owner.String()})
	return nil
}

// AddToWishlist saves the product once per owner. Like AddToCart it checks then
// inserts without a lock, so concurrent adds may race into duplicates.
func (s *cartService) AddToWishlist(ctx context.Context, owner Owner, productID string) (WishlistResult, error) {
	pid := strings.TrimSpace(productID)
	if !owner.Valid() || pid == "" {
		return WishlistResult{}, ErrCartInvalidInput
	}
	store, err := s.stores.For(owner)
	if err != nil {
		return WishlistResult{}, err
	}
	existing, found, err := store.FindWishlistEntry(ctx, pid)
	if err != nil {
		return WishlistResult{}, translateStoreError(err)
	}
	if found {
		return WishlistResult{EntryID: existing.ID, Store: store.Kind()}, nil
	}
	entry, err := store.InsertWishlistEntry(ctx, pid)
	if err != nil {
		return WishlistResult{}, translateStoreError(err)
	}
	s.logger(ctx, "wishlist.entry_added", map[string]any{
		"owner":     owner.String(),
		"productId": pid,
	})
	return WishlistResult{EntryID: entry.ID, Store: store.Kind(), Created: true}, nil
}

func (s *cartService) RemoveFromWishlist(ctx context.Context, owner Owner, productID string) error {
	pid := strings.TrimSpace(productID)
	if !owner.Valid() || pid == "" {
		return ErrCartInvalidInput
	}
	store, err := s.stores.For(owner)
	if err != nil {
		return err
	}
	return translateStoreError(store.DeleteWishlistEntry(ctx, pid))
}

func (s *cartService) GetWishlist(ctx context.Context, owner Owner) (WishlistView, error) {
	if !owner.Valid() {
		return WishlistView{}, ErrCartInvalidInput
	}
	store, err := s.stores.For(owner)
	if err != nil {
		return WishlistView{}, err
	}
	entries, err := store.ListWishlist(ctx)
	if err != nil {
		return WishlistView{}, translateStoreError(err)
	}
	return WishlistView{Store: store.Kind(), Entries: entries}, nil
}

func (s *cartService) CartCount(ctx context.Context, owner Owner) (int, error) {
	if !owner.Valid() {
		return 0, ErrCartInvalidInput
	}
	store, err := s.stores.For(owner)
	if err != nil {
		return 0, err
	}
	count, err := store.CountItems(ctx)
	if err != nil {
		return 0, translateStoreError(err)
	}
	return count, nil
}

func (s *cartService) Totals(ctx context.Context, owner Owner) (CartTotals, error) {
	view, err := s.GetCartItems(ctx, owner)
	if err != nil {
		return CartTotals{}, err
	}
	return ComputeTotals(view.Lines, s.vatRate, s.depositRate), nil
}

func (s *cartService) lookupSnapshot(ctx context.Context, owner Owner, productID string) *ProductSnapshot {
	if s.catalog == nil {
		return nil
	}
	snapshot, err := s.catalog.Snapshot(ctx, productID)
	if err != nil {
		s.logger(ctx, "cart.snapshot_lookup_failed", map[string]any{
			"owner":     owner.String(),
			"productId": productID,
			"error":     err.Error(),
		})
		return nil
	}
	return &snapshot
}

func normaliseSnapshot(productID string, snapshot *ProductSnapshot) (*ProductSnapshot, error) {
	if snapshot == nil {
		return nil, nil
	}
	copied := *snapshot
	copied.ProductID = strings.TrimSpace(copied.ProductID)
	if copied.ProductID == "" {
		copied.ProductID = productID
	}
	if copied.ProductID != productID || copied.UnitPrice.IsNegative() {
		return nil, ErrCartInvalidInput
	}
	// Prices are whole pence so local and remote snapshots total the same.
	if !copied.UnitPrice.Equal(copied.UnitPrice.Round(2)) {
		return nil, ErrCartInvalidInput
	}
	copied.Name = strings.TrimSpace(copied.Name)
	return &copied, nil
}

