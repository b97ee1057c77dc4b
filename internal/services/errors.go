package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/iryastone/storefront/internal/platform/localstore"
	"github.com/iryastone/storefront/internal/repositories"
)

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input. It is returned before any store is touched.
	ErrCartInvalidInput = errors.New("cart service: invalid input")
	// ErrCartNotFound indicates the line or entry does not exist for the owner.
	ErrCartNotFound = errors.New("cart service: not found")
	// ErrCartUnavailable indicates the remote store could not be reached or refused the request.
	ErrCartUnavailable = errors.New("cart service: unavailable")
	// ErrLocalStoreUnavailable indicates the session key/value store failed.
	ErrLocalStoreUnavailable = errors.New("cart service: local store unavailable")
	// ErrPartialMigration indicates some items stayed behind during a login migration.
	ErrPartialMigration = errors.New("cart service: partial migration")
	// ErrQuantityLimit indicates a line would exceed MaxLineQuantity. It matches ErrCartInvalidInput.
	ErrQuantityLimit = fmt.Errorf("%w: line quantity exceeds %d", ErrCartInvalidInput, MaxLineQuantity)
)

// MaxLineQuantity caps the quantity a single cart line may hold.
const MaxLineQuantity = 999

// errStoreLineNotFound is returned by owner stores for absent lines so both variants report identically.
var errStoreLineNotFound = errors.New("owner store: line not found")

// PartialMigrationError carries the result of a migration that left items in the anonymous store.
type PartialMigrationError struct {
	Result MigrationResult
}

func (e *PartialMigrationError) Error() string {
	return fmt.Sprintf("%s: %d of %d items left for retry",
		ErrPartialMigration.Error(),
		e.Result.Failures(),
		e.Result.Failures()+len(e.Result.CartMigrated)+len(e.Result.WishlistMoved),
	)
}

func (e *PartialMigrationError) Unwrap() error {
	return ErrPartialMigration
}

// translateStoreError maps owner-store failures onto the service error taxonomy, keeping the cause in the chain.
func translateStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCartInvalidInput), errors.Is(err, ErrCartNotFound),
		errors.Is(err, ErrCartUnavailable), errors.Is(err, ErrLocalStoreUnavailable):
		return err
	case errors.Is(err, errStoreLineNotFound):
		return ErrCartNotFound
	case errors.Is(err, localstore.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrLocalStoreUnavailable, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return ErrCartNotFound
	}
	return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

const maxReasonBytes = 200

// errorReason trims err to at most maxReasonBytes without splitting a UTF-8 sequence.
func errorReason(err error) string {
	if err == nil {
		return ""
	}
	reason := strings.TrimSpace(err.Error())
	if len(reason) <= maxReasonBytes {
		return reason
	}
	cut := maxReasonBytes
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
