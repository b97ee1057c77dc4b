package repositories

import (
	"context"

	"github.com/iryastone/storefront/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CartLineRepository persists authenticated cart lines, one document per line.
// Lookups by line id return a RepositoryError with IsNotFound when the line is
// absent or belongs to another user.
type CartLineRepository interface {
	// FindByProduct returns the user's line for productID, reporting whether one exists.
	FindByProduct(ctx context.Context, userID, productID string) (domain.CartLine, bool, error)
	Get(ctx context.Context, userID, lineID string) (domain.CartLine, error)
	// Insert stores a new line with server-assigned timestamps and returns it with its id.
	Insert(ctx context.Context, userID string, line domain.CartLine) (domain.CartLine, error)
	// UpdateQuantity overwrites the quantity and refreshes updatedAt.
	UpdateQuantity(ctx context.Context, userID, lineID string, quantity int) error
	List(ctx context.Context, userID string) ([]domain.CartLine, error)
	// Delete removes the line. Deleting an absent line succeeds.
	Delete(ctx context.Context, userID, lineID string) error
	// DeleteAll removes every line the user owns and returns how many were removed.
	DeleteAll(ctx context.Context, userID string) (int, error)
}

// WishlistRepository persists authenticated wishlist entries.
type WishlistRepository interface {
	Find(ctx context.Context, userID, productID string) (domain.WishlistEntry, bool, error)
	Insert(ctx context.Context, userID, productID string) (domain.WishlistEntry, error)
	List(ctx context.Context, userID string) ([]domain.WishlistEntry, error)
	// Delete removes every entry for productID. Deleting an absent entry succeeds.
	Delete(ctx context.Context, userID, productID string) error
	DeleteAll(ctx context.Context, userID string) (int, error)
}

// ProductRepository reads the storefront catalog.
type ProductRepository interface {
	// Get returns a RepositoryError with IsNotFound when the product does not exist.
	Get(ctx context.Context, productID string) (domain.Product, error)
	ListFeatured(ctx context.Context, limit int) ([]domain.Product, error)
}

// HealthRepository probes backing services for readiness reporting.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
