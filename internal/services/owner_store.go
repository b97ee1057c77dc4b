package services

import (
	"context"

	"github.com/iryastone/storefront/internal/domain"
)

// OwnerStore is the cart and wishlist persistence bound to a single owner.
// The variant is chosen once per call from the owner's kind; callers never
// branch on anonymous versus authenticated themselves.
type OwnerStore interface {
	Kind() StoreKind

	// FindLine returns the owner's line for productID, reporting whether one exists.
	FindLine(ctx context.Context, productID string) (CartLine, bool, error)
	// GetLine returns errStoreLineNotFound when the owner has no such line.
	GetLine(ctx context.Context, lineID string) (CartLine, error)
	InsertLine(ctx context.Context, line CartLine) (CartLine, error)
	// UpdateLineQuantity returns errStoreLineNotFound when the owner has no such line.
	UpdateLineQuantity(ctx context.Context, lineID string, quantity int) error
	ListLines(ctx context.Context) ([]CartLine, error)
	DeleteLine(ctx context.Context, lineID string) error
	ClearLines(ctx context.Context) error
	// CountItems returns the sum of line quantities.
	CountItems(ctx context.Context) (int, error)

	FindWishlistEntry(ctx context.Context, productID string) (WishlistEntry, bool, error)
	InsertWishlistEntry(ctx context.Context, productID string) (WishlistEntry, error)
	ListWishlist(ctx context.Context) ([]WishlistEntry, error)
	DeleteWishlistEntry(ctx context.Context, productID string) error
	ClearWishlist(ctx context.Context) error
}

// OwnerStores selects the store variant for an owner.
type OwnerStores struct {
	Local  func(sessionID string) *LocalOwnerStore
	Remote func(userID string) *RemoteOwnerStore
}

// For returns the store holding the owner's data.
func (s OwnerStores) For(owner Owner) (OwnerStore, error) {
	switch owner.Kind {
	case domain.OwnerAuthenticated:
		if s.Remote == nil {
			return nil, ErrCartUnavailable
		}
		return s.Remote(owner.ID), nil
	default:
		if s.Local == nil {
			return nil, ErrLocalStoreUnavailable
		}
		return s.Local(owner.ID), nil
	}
}

func sumQuantities(lines []CartLine) int {
	total := 0
	for _, line := range lines {
		total += line.Quantity
	}
	return total
}
