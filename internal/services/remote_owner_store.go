package services

import (
	"context"
	"fmt"

	"github.com/iryastone/storefront/internal/domain"
	"github.com/iryastone/storefront/internal/repositories"
)

// RemoteOwnerStore adapts the Firestore repositories to a signed-in user's OwnerStore.
type RemoteOwnerStore struct {
	lines    repositories.CartLineRepository
	wishlist repositories.WishlistRepository
	userID   string
}

// NewRemoteOwnerStores returns a factory binding the repositories to a user id.
func NewRemoteOwnerStores(lines repositories.CartLineRepository, wishlist repositories.WishlistRepository) func(userID string) *RemoteOwnerStore {
	return func(userID string) *RemoteOwnerStore {
		return &RemoteOwnerStore{lines: lines, wishlist: wishlist, userID: userID}
	}
}

func (s *RemoteOwnerStore) Kind() StoreKind { return domain.StoreRemote }

func (s *RemoteOwnerStore) FindLine(ctx context.Context, productID string) (CartLine, bool, error) {
	return s.lines.FindByProduct(ctx, s.userID, productID)
}

func (s *RemoteOwnerStore) GetLine(ctx context.Context, lineID string) (CartLine, error) {
	line, err := s.lines.Get(ctx, s.userID, lineID)
	if err != nil {
		return CartLine{}, remoteLineError(err, lineID)
	}
	return line, nil
}

func (s *RemoteOwnerStore) InsertLine(ctx context.Context, line CartLine) (CartLine, error) {
	return s.lines.Insert(ctx, s.userID, line)
}

func (s *RemoteOwnerStore) UpdateLineQuantity(ctx context.Context, lineID string, quantity int) error {
	if err := s.lines.UpdateQuantity(ctx, s.userID, lineID, quantity); err != nil {
		return remoteLineError(err, lineID)
	}
	return nil
}

func (s *RemoteOwnerStore) ListLines(ctx context.Context) ([]CartLine, error) {
	return s.lines.List(ctx, s.userID)
}

func (s *RemoteOwnerStore) DeleteLine(ctx context.Context, lineID string) error {
	return s.lines.Delete(ctx, s.userID, lineID)
}

func (s *RemoteOwnerStore) ClearLines(ctx context.Context) error {
	_, err := s.lines.DeleteAll(ctx, s.userID)
	return err
}

func (s *RemoteOwnerStore) CountItems(ctx context.Context) (int, error) {
	lines, err := s.ListLines(ctx)
	if err != nil {
		return 0, err
	}
	return sumQuantities(lines), nil
}

func (s *RemoteOwnerStore) FindWishlistEntry(ctx context.Context, productID string) (WishlistEntry, bool, error) {
	return s.wishlist.Find(ctx, s.userID, productID)
}

func (s *RemoteOwnerStore) InsertWishlistEntry(ctx context.Context, productID string) (WishlistEntry, error) {
	return s.wishlist.Insert(ctx, s.userID, productID)
}

func (s *RemoteOwnerStore) ListWishlist(ctx context.Context) ([]WishlistEntry, error) {
	return s.wishlist.List(ctx, s.userID)
}

func (s *RemoteOwnerStore) DeleteWishlistEntry(ctx context.Context, productID string) error {
	return s.wishlist.Delete(ctx, s.userID, productID)
}

func (s *RemoteOwnerStore) ClearWishlist(ctx context.Context) error {
	_, err := s.wishlist.DeleteAll(ctx, s.userID)
	return err
}

func remoteLineError(err error, lineID string) error {
	if isRepoNotFound(err) {
		return fmt.Errorf("%w: %s", errStoreLineNotFound, lineID)
	}
	return err
}
