package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OwnerKind distinguishes anonymous sessions from signed-in users.
type OwnerKind int

const (
	// OwnerAnonymous identifies a browser session without a signed-in user.
	OwnerAnonymous OwnerKind = iota
	// OwnerAuthenticated identifies a Firebase user.
	OwnerAuthenticated
)

// String renders the kind for logs and payloads.
func (k OwnerKind) String() string {
	switch k {
	case OwnerAuthenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

// Owner identifies whose cart and wishlist an operation targets.
type Owner struct {
	Kind OwnerKind
	ID   string
}

// Anonymous returns the owner context for an anonymous session.
func Anonymous(sessionID string) Owner {
	return Owner{Kind: OwnerAnonymous, ID: strings.TrimSpace(sessionID)}
}

// Authenticated returns the owner context for a signed-in user.
func Authenticated(userID string) Owner {
	return Owner{Kind: OwnerAuthenticated, ID: strings.TrimSpace(userID)}
}

// IsAuthenticated reports whether the owner is a signed-in user.
func (o Owner) IsAuthenticated() bool {
	return o.Kind == OwnerAuthenticated
}

// Valid reports whether the owner carries a usable identifier.
func (o Owner) Valid() bool {
	return strings.TrimSpace(o.ID) != ""
}

// String renders "kind:id" for logging.
func (o Owner) String() string {
	return o.Kind.String() + ":" + o.ID
}

// StoreKind names the backing store an owner's data lives in.
type StoreKind string

const (
	// StoreLocal is the session-scoped key-value store.
	StoreLocal StoreKind = "local"
	// StoreRemote is the hosted document database.
	StoreRemote StoreKind = "remote"
)

// ProductSnapshot is the denormalised product data stored alongside a cart line.
type ProductSnapshot struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Category  string          `json:"category,omitempty"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	ImageURL  string          `json:"imageUrl,omitempty"`
}

// CartLine is one product's desired quantity for one owner.
type CartLine struct {
	ID        string           `json:"id"`
	ProductID string           `json:"productId"`
	Quantity  int              `json:"quantity"`
	Product   *ProductSnapshot `json:"product,omitempty"`
	AddedAt   time.Time        `json:"addedAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// WishlistEntry records a product saved for later.
type WishlistEntry struct {
	ID        string    `json:"id"`
	ProductID string    `json:"productId"`
	AddedAt   time.Time `json:"addedAt"`
}

// CartTotals is the derived price breakdown of a cart.
type CartTotals struct {
	Subtotal      decimal.Decimal
	VAT           decimal.Decimal
	Total         decimal.Decimal
	Deposit       decimal.Decimal
	Balance       decimal.Decimal
	VATRate       decimal.Decimal
	DepositRate   decimal.Decimal
	Lines         int
	Items         int
	UnpricedLines int
}

// Product is a catalog entry as read from the products collection.
type Product struct {
	ID          string
	Name        string
	Category    string
	Description string
	ImageURL    string
	Price       decimal.Decimal
	Featured    bool
}

// Snapshot captures the fields denormalised onto cart lines.
func (p Product) Snapshot() ProductSnapshot {
	return ProductSnapshot{
		ProductID: p.ID,
		Name:      p.Name,
		Category:  p.Category,
		UnitPrice: p.Price,
		ImageURL:  p.ImageURL,
	}
}

// MigratedItem records an anonymous item that now lives in the remote store.
type MigratedItem struct {
	LocalID   string
	RemoteID  string
	ProductID string
	Quantity  int
}

// FailedItem records an anonymous item left behind for a later retry.
type FailedItem struct {
	LocalID   string
	ProductID string
	Quantity  int
	Reason    string
}

// MigrationResult enumerates what moved and what stayed during a login migration.
type MigrationResult struct {
	AnonymousID    string
	UserID         string
	CartMigrated   []MigratedItem
	CartFailed     []FailedItem
	WishlistMoved  []MigratedItem
	WishlistFailed []FailedItem
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Complete reports whether every item migrated.
func (r MigrationResult) Complete() bool {
	return len(r.CartFailed) == 0 && len(r.WishlistFailed) == 0
}

// Failures returns the total number of items left behind.
func (r MigrationResult) Failures() int {
	return len(r.CartFailed) + len(r.WishlistFailed)
}
