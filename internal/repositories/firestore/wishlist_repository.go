package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/iryastone/storefront/internal/domain"
	pfirestore "github.com/iryastone/storefront/internal/platform/firestore"
	"github.com/iryastone/storefront/internal/repositories"
)

const wishlistCollection = "wishlist"

// WishlistRepository persists authenticated wishlist entries in a flat collection keyed by userId.
type WishlistRepository struct {
	entries *pfirestore.Collection[wishlistDocument]
	now     func() time.Time
}

type wishlistDocument struct {
	UserID    string    `firestore:"userId"`
	ProductID string    `firestore:"productId"`
	AddedAt   time.Time `firestore:"addedAt,serverTimestamp"`
}

var _ repositories.WishlistRepository = (*WishlistRepository)(nil)

// NewWishlistRepository constructs a Firestore-backed wishlist repository.
func NewWishlistRepository(provider *pfirestore.Provider) (*WishlistRepository, error) {
	if provider == nil {
		return nil, errors.New("wishlist repository requires firestore provider")
	}
	return &WishlistRepository{
		entries: pfirestore.NewCollection[wishlistDocument](provider, wishlistCollection, nil, nil),
		now:     time.Now,
	}, nil
}

// Find returns the user's entry for productID.
func (r *WishlistRepository) Find(ctx context.Context, userID, productID string) (domain.WishlistEntry, bool, error) {
	doc, found, err := r.entries.First(ctx, byUserAndProduct(userID, productID))
	if err != nil || !found {
		return domain.WishlistEntry{}, false, err
	}
	return decodeWishlistEntry(doc), true, nil
}

// Insert adds an entry without checking for duplicates.
func (r *WishlistRepository) Insert(ctx context.Context, userID, productID string) (domain.WishlistEntry, error) {
	productID = strings.TrimSpace(productID)
	id, err := r.entries.Create(ctx, wishlistDocument{UserID: userID, ProductID: productID})
	if err != nil {
		return domain.WishlistEntry{}, err
	}
	return domain.WishlistEntry{ID: id, ProductID: productID, AddedAt: r.now().UTC()}, nil
}

// List returns the user's entries, oldest first.
func (r *WishlistRepository) List(ctx context.Context, userID string) ([]domain.WishlistEntry, error) {
	docs, err := r.entries.Query(ctx, pfirestore.Where(pfirestore.Equal("userId", userID)))
	if err != nil {
		return nil, err
	}
	entries := make([]domain.WishlistEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, decodeWishlistEntry(doc))
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].AddedAt.Before(entries[j].AddedAt)
	})
	return entries, nil
}

// Delete removes every entry the user holds for productID, including racing duplicates.
func (r *WishlistRepository) Delete(ctx context.Context, userID, productID string) error {
	docs, err := r.entries.Query(ctx, byUserAndProduct(userID, productID))
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	return r.entries.DeleteAll(ctx, ids)
}

// DeleteAll removes every entry the user owns.
func (r *WishlistRepository) DeleteAll(ctx context.Context, userID string) (int, error) {
	docs, err := r.entries.Query(ctx, pfirestore.Where(pfirestore.Equal("userId", userID)))
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	if err := r.entries.DeleteAll(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func byUserAndProduct(userID, productID string) pfirestore.QueryBuilder {
	return pfirestore.Where(
		pfirestore.Equal("userId", userID),
		pfirestore.Equal("productId", strings.TrimSpace(productID)),
	)
}

func decodeWishlistEntry(doc pfirestore.Document[wishlistDocument]) domain.WishlistEntry {
	addedAt := doc.Data.AddedAt.UTC()
	if addedAt.IsZero() {
		addedAt = doc.CreateTime.UTC()
	}
	return domain.WishlistEntry{ID: doc.ID, ProductID: doc.Data.ProductID, AddedAt: addedAt}
}
