package auth

import (
	"context"

	"github.com/iryastone/storefront/internal/domain"
)

type contextKey string

const ownerContextKey contextKey = "github.com/iryastone/storefront/internal/platform/auth/owner"

// WithOwner stores the resolved cart owner within the context for downstream handlers.
func WithOwner(ctx context.Context, owner domain.Owner) context.Context {
	return context.WithValue(ctx, ownerContextKey, owner)
}

// OwnerFromContext retrieves the owner previously stored in context.
func OwnerFromContext(ctx context.Context) (domain.Owner, bool) {
	owner, ok := ctx.Value(ownerContextKey).(domain.Owner)
	if !ok || !owner.Valid() {
		return domain.Owner{}, false
	}
	return owner, true
}
