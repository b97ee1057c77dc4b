package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/iryastone/storefront/internal/domain"
)

const (
	migrationInstrumentation = "github.com/iryastone/storefront/internal/services"
	defaultLineTimeout       = 10 * time.Second
)

var (
	errMigratorCartRequired  = errors.New("migrator: cart service is required")
	errMigratorLocalRequired = errors.New("migrator: local store factory is required")
)

// cartWriter is the subset of CartService migration replays anonymous items through.
type cartWriter interface {
	AddToCart(ctx context.Context, owner Owner, cmd AddToCartCommand) (AddToCartResult, error)
	AddToWishlist(ctx context.Context, owner Owner, productID string) (WishlistResult, error)
}

// MigratorDeps wires the collaborators of MigrateOnLogin.
type MigratorDeps struct {
	Cart        cartWriter
	Local       func(sessionID string) *LocalOwnerStore
	LineTimeout time.Duration
	Clock       func() time.Time
	Logger      func(context.Context, string, map[string]any)
	Tracer      trace.Tracer
	Meter       metric.Meter
}

// Migrator moves an anonymous session's cart and wishlist into the signed-in user's remote store.
type Migrator struct {
	cart        cartWriter
	local       func(sessionID string) *LocalOwnerStore
	lineTimeout time.Duration
	now         func() time.Time
	logger      func(context.Context, string, map[string]any)
	tracer      trace.Tracer
	items       metric.Int64Counter
}

// NewMigrator constructs a Migrator enforcing dependency validation.
func NewMigrator(deps MigratorDeps) (*Migrator, error) {
	if deps.Cart == nil {
		return nil, errMigratorCartRequired
	}
	if deps.Local == nil {
		return nil, errMigratorLocalRequired
	}
	timeout := deps.LineTimeout
	if timeout <= 0 {
		timeout = defaultLineTimeout
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(migrationInstrumentation)
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(migrationInstrumentation)
	}
	items, err := meter.Int64Counter(
		"cart.migration.items",
		metric.WithDescription("Anonymous items processed during login migration by kind and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("migrator: register metric: %w", err)
	}
	return &Migrator{
		cart:        deps.Cart,
		local:       deps.Local,
		lineTimeout: timeout,
		now:         func() time.Time { return clock().UTC() },
		logger:      logger,
		tracer:      tracer,
		items:       items,
	}, nil
}

// MigrateOnLogin replays every anonymous cart line and wishlist entry against the
// user's remote store, one at a time. Items confirmed in the remote store are
// removed from the session; failed items stay behind for a retry and the call
// returns a *PartialMigrationError alongside the result.
func (m *Migrator) MigrateOnLogin(ctx context.Context, anonymousID, userID string) (MigrationResult, error) {
	anonID := strings.TrimSpace(anonymousID)
	uid := strings.TrimSpace(userID)
	if anonID == "" || uid == "" {
		return MigrationResult{}, ErrCartInvalidInput
	}

	ctx, span := m.tracer.Start(ctx, "services.MigrateOnLogin", trace.WithAttributes(
		attribute.String("cart.user_id", uid),
	))
	defer span.End()

	result := MigrationResult{AnonymousID: anonID, UserID: uid, StartedAt: m.now()}
	local := m.local(anonID)
	owner := domain.Authenticated(uid)

	if err := m.migrateCart(ctx, local, owner, &result); err != nil {
		return m.finish(ctx, span, result, err)
	}
	if err := m.migrateWishlist(ctx, local, owner, &result); err != nil {
		return m.finish(ctx, span, result, err)
	}
	if !result.Complete() {
		return m.finish(ctx, span, result, &PartialMigrationError{Result: result})
	}
	return m.finish(ctx, span, result, nil)
}

func (m *Migrator) migrateCart(ctx context.Context, local *LocalOwnerStore, owner Owner, result *MigrationResult) error {
	lines, err := local.ListLines(ctx)
	if err != nil {
		return translateStoreError(err)
	}
	if len(lines) == 0 {
		return nil
	}

	failedIDs := make([]string, 0)
	for _, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" || line.Quantity <= 0 {
			m.logger(ctx, "migration.line_discarded", map[string]any{
				"userId":   owner.ID,
				"lineId":   line.ID,
				"quantity": line.Quantity,
			})
			m.record(ctx, "cart", "discarded")
			continue
		}

		added, err := m.addLine(ctx, owner, line)
		if err != nil {
			result.CartFailed = append(result.CartFailed, domain.FailedItem{
				LocalID:   line.ID,
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				Reason:    errorReason(err),
			})
			failedIDs = append(failedIDs, line.ID)
			m.logger(ctx, "migration.line_failed", map[string]any{
				"userId":    owner.ID,
				"lineId":    line.ID,
				"productId": line.ProductID,
				"error":     err.Error(),
			})
			m.record(ctx, "cart", "failed")
			continue
		}
		result.CartMigrated = append(result.CartMigrated, domain.MigratedItem{
			LocalID:   line.ID,
			RemoteID:  added.LineID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
		})
		m.record(ctx, "cart", "migrated")
	}

	if len(failedIDs) == 0 {
		err = local.ClearLines(ctx)
	} else {
		err = local.RetainLines(ctx, failedIDs)
	}
	if err != nil {
		return fmt.Errorf("migrator: prune anonymous cart: %w", translateStoreError(err))
	}
	return nil
}

func (m *Migrator) migrateWishlist(ctx context.Context, local *LocalOwnerStore, owner Owner, result *MigrationResult) error {
	entries, err := local.ListWishlist(ctx)
	if err != nil {
		return translateStoreError(err)
	}
	if len(entries) == 0 {
		return nil
	}

	failed := make([]string, 0)
	for _, entry := range entries {
		if strings.TrimSpace(entry.ProductID) == "" {
			m.record(ctx, "wishlist", "discarded")
			continue
		}
		added, err := m.addWishlistEntry(ctx, owner, entry.ProductID)
		if err != nil {
			result.WishlistFailed = append(result.WishlistFailed, domain.FailedItem{
				LocalID:   entry.ID,
				ProductID: entry.ProductID,
				Reason:    errorReason(err),
			})
			failed = append(failed, entry.ProductID)
			m.logger(ctx, "migration.wishlist_failed", map[string]any{
				"userId":    owner.ID,
				"productId": entry.ProductID,
				"error":     err.Error(),
			})
			m.record(ctx, "wishlist", "failed")
			continue
		}
		result.WishlistMoved = append(result.WishlistMoved, domain.MigratedItem{
			LocalID:   entry.ID,
			RemoteID:  added.EntryID,
			ProductID: entry.ProductID,
		})
		m.record(ctx, "wishlist", "migrated")
	}

	if len(failed) == 0 {
		err = local.ClearWishlist(ctx)
	} else {
		err = local.RetainWishlist(ctx, failed)
	}
	if err != nil {
		return fmt.Errorf("migrator: prune anonymous wishlist: %w", translateStoreError(err))
	}
	return nil
}

func (m *Migrator) addLine(ctx context.Context, owner Owner, line CartLine) (AddToCartResult, error) {
	lineCtx, cancel := context.WithTimeout(ctx, m.lineTimeout)
	defer cancel()
	return m.cart.AddToCart(lineCtx, owner, AddToCartCommand{
		ProductID: line.ProductID,
		Quantity:  line.Quantity,
		Snapshot:  line.Product,
	})
}

func (m *Migrator) addWishlistEntry(ctx context.Context, owner Owner, productID string) (WishlistResult, error) {
	entryCtx, cancel := context.WithTimeout(ctx, m.lineTimeout)
	defer cancel()
	return m.cart.AddToWishlist(entryCtx, owner, productID)
}

func (m *Migrator) record(ctx context.Context, kind, outcome string) {
	m.items.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

func (m *Migrator) finish(ctx context.Context, span trace.Span, result MigrationResult, err error) (MigrationResult, error) {
	result.FinishedAt = m.now()
	span.SetAttributes(
		attribute.Int("cart.migrated", len(result.CartMigrated)),
		attribute.Int("cart.failed", len(result.CartFailed)),
		attribute.Int("wishlist.migrated", len(result.WishlistMoved)),
		attribute.Int("wishlist.failed", len(result.WishlistFailed)),
	)
	fields := map[string]any{
		"userId":         result.UserID,
		"cartMigrated":   len(result.CartMigrated),
		"cartFailed":     len(result.CartFailed),
		"wishlistMoved":  len(result.WishlistMoved),
		"wishlistFailed": len(result.WishlistFailed),
	}
	var partial *PartialMigrationError
	switch {
	case err == nil:
		m.logger(ctx, "migration.completed", fields)
	case errors.As(err, &partial):
		partial.Result = result
		span.SetStatus(codes.Error, "partial migration")
		m.logger(ctx, "migration.partial", fields)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		fields["error"] = err.Error()
		m.logger(ctx, "migration.failed", fields)
	}
	return result, err
}
