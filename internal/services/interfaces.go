package services

import (
	"context"
	"time"

	"github.com/iryastone/storefront/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Owner           = domain.Owner
	CartLine        = domain.CartLine
	WishlistEntry   = domain.WishlistEntry
	ProductSnapshot = domain.ProductSnapshot
	Product         = domain.Product
	CartTotals      = domain.CartTotals
	MigrationResult = domain.MigrationResult
	StoreKind       = domain.StoreKind
)

// CartService reconciles cart and wishlist state for anonymous and signed-in owners.
type CartService interface {
	AddToCart(ctx context.Context, owner Owner, cmd AddToCartCommand) (AddToCartResult, error)
	GetCartItems(ctx context.Context, owner Owner) (CartView, error)
	UpdateQuantity(ctx context.Context, owner Owner, lineID string, quantity int) error
	RemoveLine(ctx context.Context, owner Owner, lineID string) error
	ClearCart(ctx context.Context, owner Owner) error
	AddToWishlist(ctx context.Context, owner Owner, productID string) (WishlistResult, error)
	RemoveFromWishlist(ctx context.Context, owner Owner, productID string) error
	GetWishlist(ctx context.Context, owner Owner) (WishlistView, error)
	CartCount(ctx context.Context, owner Owner) (int, error)
	Totals(ctx context.Context, owner Owner) (CartTotals, error)
}

// MigrationService moves an anonymous session's cart and wishlist to a signed-in user.
type MigrationService interface {
	MigrateOnLogin(ctx context.Context, anonymousID, userID string) (MigrationResult, error)
}

// CatalogService reads products for storefront listings and cart line snapshots.
type CatalogService interface {
	Featured(ctx context.Context, limit int) (FeaturedProducts, error)
	Snapshot(ctx context.Context, productID string) (ProductSnapshot, error)
}

// AddToCartCommand carries the inputs of a single add. Snapshot is optional.
type AddToCartCommand struct {
	ProductID string
	Quantity  int
	Snapshot  *ProductSnapshot
}

// AddToCartResult reports the line written and the store that holds it.
type AddToCartResult struct {
	LineID   string
	Store    StoreKind
	Quantity int
	Merged   bool
}

// CartView is an owner's cart with its source store identified.
type CartView struct {
	Store StoreKind
	Lines []CartLine
}

// WishlistResult reports the entry for a product after an idempotent add.
type WishlistResult struct {
	EntryID string
	Store   StoreKind
	Created bool
}

// WishlistView is an owner's wishlist with its source store identified.
type WishlistView struct {
	Store   StoreKind
	Entries []WishlistEntry
}

// FeaturedProducts is the storefront's featured listing. Fallback is set when the built-in list was served.
type FeaturedProducts struct {
	Products []Product
	Fallback bool
}

// SyncStatus is the observable state of a login sync job.
type SyncStatus string

const (
	SyncPending  SyncStatus = "pending"
	SyncRunning  SyncStatus = "running"
	SyncComplete SyncStatus = "complete"
	SyncPartial  SyncStatus = "partial"
	SyncFailed   SyncStatus = "failed"
)

// SyncOutcomeMessage is published when a login sync job finishes.
type SyncOutcomeMessage struct {
	JobID          string     `json:"jobId"`
	UserID         string     `json:"userId"`
	AnonymousID    string     `json:"anonymousId"`
	Status         SyncStatus `json:"status"`
	CartMigrated   int        `json:"cartMigrated"`
	CartFailed     int        `json:"cartFailed"`
	WishlistMoved  int        `json:"wishlistMoved"`
	WishlistFailed int        `json:"wishlistFailed"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"startedAt"`
	FinishedAt     time.Time  `json:"finishedAt"`
}

// SyncOutcomePublisher forwards finished sync outcomes to downstream consumers.
type SyncOutcomePublisher interface {
	PublishSyncOutcome(ctx context.Context, message SyncOutcomeMessage) (string, error)
}
