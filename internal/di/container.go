package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/iryastone/storefront/internal/handlers"
	"github.com/iryastone/storefront/internal/platform/auth"
	"github.com/iryastone/storefront/internal/platform/config"
	"github.com/iryastone/storefront/internal/platform/idempotency"
	"github.com/iryastone/storefront/internal/platform/localstore"
	"github.com/iryastone/storefront/internal/platform/observability"
	"github.com/iryastone/storefront/internal/repositories"
	"github.com/iryastone/storefront/internal/services"
)

// Repositories groups the persistence adapters for signed-in users. Any of them may be nil:
// a nil cart or wishlist repository makes authenticated operations report unavailable, and a
// nil product repository serves the built-in catalog.
type Repositories struct {
	CartLines repositories.CartLineRepository
	Wishlist  repositories.WishlistRepository
	Products  repositories.ProductRepository
}

// Infrastructure carries the clients created by the entrypoint.
type Infrastructure struct {
	Repositories Repositories
	Local        localstore.Store
	Verifier     auth.TokenVerifier
	Publisher    services.SyncOutcomePublisher
	Logger       *zap.Logger
	Clock        func() time.Time
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Cart      services.CartService
	Catalog   services.CatalogService
	Migration services.MigrationService
	LoginSync *services.LoginSync
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config   config.Config
	Sessions *auth.SessionManager
	Owners   *auth.OwnerResolver
	Services Services

	replays idempotency.Store
}

// NewContainer constructs the runtime dependencies. Production wiring passes Firestore and
// Redis backed adapters while tests supply in-memory ones.
func NewContainer(cfg config.Config, infra Infrastructure) (*Container, error) {
	if infra.Local == nil {
		return nil, errors.New("di: local session store is required")
	}
	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sessions := auth.NewSessionManager(infra.Verifier, auth.WithSessionClock(clock))
	owners := auth.NewOwnerResolver(infra.Verifier)

	svc, err := buildServices(cfg, infra, sessions, clock, logger)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:   cfg,
		Sessions: sessions,
		Owners:   owners,
		Services: svc,
		replays:  idempotency.NewLocalStore(infra.Local, localstore.Keyspace{Prefix: cfg.Redis.Prefix}),
	}, nil
}

func buildServices(cfg config.Config, infra Infrastructure, sessions *auth.SessionManager, clock func() time.Time, logger *zap.Logger) (Services, error) {
	var svc Services

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products:     infra.Repositories.Products,
		DefaultLimit: cfg.Catalog.FeaturedLimit,
		Logger:       observability.EventLogger(logger.Named("catalog")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	local := services.NewLocalOwnerStores(services.LocalOwnerStoreDeps{
		Store:  infra.Local,
		Keys:   localstore.Keyspace{Prefix: cfg.Redis.Prefix},
		Clock:  clock,
		Logger: observability.EventLogger(logger.Named("localstore")),
	})
	stores := services.OwnerStores{Local: local}
	if infra.Repositories.CartLines != nil && infra.Repositories.Wishlist != nil {
		stores.Remote = services.NewRemoteOwnerStores(infra.Repositories.CartLines, infra.Repositories.Wishlist)
	}

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Stores:      stores,
		Catalog:     catalogSvc,
		Clock:       clock,
		VATRate:     cfg.Pricing.VATRate,
		DepositRate: cfg.Pricing.DepositRate,
		Logger:      observability.EventLogger(logger.Named("cart")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	migrator, err := services.NewMigrator(services.MigratorDeps{
		Cart:        cartSvc,
		Local:       local,
		LineTimeout: cfg.Sync.LineTimeout,
		Clock:       clock,
		Logger:      observability.EventLogger(logger.Named("migration")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build migrator: %w", err)
	}
	svc.Migration = migrator

	loginSync, err := services.NewLoginSync(services.LoginSyncDeps{
		Migrator:   migrator,
		Sessions:   sessions,
		Publisher:  infra.Publisher,
		JobTimeout: cfg.Sync.JobTimeout,
		Clock:      clock,
		Logger:     observability.EventLogger(logger.Named("sync")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build login sync: %w", err)
	}
	svc.LoginSync = loginSync

	return svc, nil
}

// Start opens the auth registry and subscribes the login sync task to it.
func (c *Container) Start() error {
	if err := c.Sessions.Start(); err != nil {
		return fmt.Errorf("start session manager: %w", err)
	}
	c.Services.LoginSync.Start()
	return nil
}

// Close unsubscribes the login sync task, waits for running jobs, and closes the registry.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	err := c.Services.LoginSync.Stop(ctx)
	c.Sessions.Close()
	return err
}

// Router mounts every storefront route. Owner resolution applies to cart and wishlist routes
// and to the session sync endpoints. Cart and wishlist writes carrying an Idempotency-Key are
// replayed rather than applied twice.
func (c *Container) Router(health *handlers.HealthHandlers, middlewares ...func(http.Handler) http.Handler) chi.Router {
	resolve := c.Owners.ResolveOwner()
	cart := handlers.NewCartHandlers(c.Services.Cart, c.Config.Pricing.Currency)
	catalog := handlers.NewCatalogHandlers(c.Services.Catalog, c.Config.Pricing.Currency)
	session := handlers.NewSessionHandlers(c.Sessions, c.Services.LoginSync, resolve)

	return handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithOwnerMiddlewares(resolve, idempotency.Middleware(c.replays)),
		handlers.WithHealthHandlers(health),
		handlers.WithCartRoutes(cart.Routes),
		handlers.WithWishlistRoutes(cart.WishlistRoutes),
		handlers.WithProductRoutes(catalog.Routes),
		handlers.WithSessionRoutes(session.Routes),
	)
}
