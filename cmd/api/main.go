package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/iryastone/storefront/internal/di"
	"github.com/iryastone/storefront/internal/handlers"
	"github.com/iryastone/storefront/internal/platform/auth"
	"github.com/iryastone/storefront/internal/platform/config"
	pfirestore "github.com/iryastone/storefront/internal/platform/firestore"
	"github.com/iryastone/storefront/internal/platform/jobs"
	"github.com/iryastone/storefront/internal/platform/localstore"
	"github.com/iryastone/storefront/internal/platform/observability"
	"github.com/iryastone/storefront/internal/platform/secrets"
	"github.com/iryastone/storefront/internal/repositories"
	firestoreRepo "github.com/iryastone/storefront/internal/repositories/firestore"
	"github.com/iryastone/storefront/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := secrets.NewFetcher(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(secretProjectFromEnv()),
	)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Fatal("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithDialTimeout(cfg.Firestore.DialTimeout))
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	cartLineRepo, err := firestoreRepo.NewCartLineRepository(firestoreProvider, pfirestore.WithTxTimeout(cfg.Sync.LineTimeout))
	if err != nil {
		logger.Fatal("failed to initialise cart line repository", zap.Error(err))
	}
	wishlistRepo, err := firestoreRepo.NewWishlistRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise wishlist repository", zap.Error(err))
	}
	productRepo, err := firestoreRepo.NewProductRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise product repository", zap.Error(err))
	}

	local, redisStore := openLocalStore(ctx, logger.Named("localstore"), cfg.Redis)
	if redisStore != nil {
		defer func() {
			if err := redisStore.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
	}

	var publisher services.SyncOutcomePublisher
	var outcomeTopic *pubsub.Topic
	if topicName := strings.TrimSpace(cfg.Sync.OutcomeTopic); topicName != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		outcomeTopic = pubsubClient.Topic(topicName)
		syncPublisher, err := jobs.NewPubSubSyncPublisher(outcomeTopic)
		if err != nil {
			logger.Fatal("failed to initialise sync outcome publisher", zap.Error(err))
		}
		defer syncPublisher.Stop()
		publisher = syncPublisher
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}

	container, err := di.NewContainer(cfg, di.Infrastructure{
		Repositories: di.Repositories{
			CartLines: cartLineRepo,
			Wishlist:  wishlistRepo,
			Products:  productRepo,
		},
		Local:     local,
		Verifier:  firebaseVerifier,
		Publisher: publisher,
		Logger:    logger,
		Clock:     time.Now,
	})
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	if err := container.Start(); err != nil {
		logger.Fatal("failed to start container", zap.Error(err))
	}

	healthOpts := []handlers.HealthOption{
		handlers.WithHealthBuildInfo(buildInfoFromEnv(cfg, startedAt)),
	}
	if reporter, err := newHealthReporter(firestoreClient, redisStore, outcomeTopic); err != nil {
		logger.Warn("health: dependency reporter init failed", zap.Error(err))
	} else {
		healthOpts = append(healthOpts, handlers.WithHealthReporter(reporter))
	}

	router := container.Router(
		handlers.NewHealthHandlers(healthOpts...),
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.RecoveryMiddleware(),
		observability.RequestLoggerMiddleware(),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("login sync jobs still running at shutdown", zap.Error(err))
	}
}

// openLocalStore connects to Redis when configured and otherwise keeps anonymous
// sessions in process. The returned *localstore.Redis is nil in the latter case.
func openLocalStore(ctx context.Context, logger *zap.Logger, cfg config.RedisConfig) (localstore.Store, *localstore.Redis) {
	if !cfg.Enabled() {
		logger.Warn("redis not configured; anonymous sessions are kept in memory")
		return localstore.NewMemory(), nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	store, err := localstore.Dial(dialCtx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	return store, store
}

func secretProjectFromEnv() string {
	for _, key := range []string{"STORE_SECRETS_PROJECT_ID", "STORE_FIREBASE_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"} {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}

func buildInfoFromEnv(cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(os.Getenv("STORE_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("STORE_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newHealthReporter(client *firestore.Client, redisStore *localstore.Redis, topic *pubsub.Topic) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 3)
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := c.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if redisStore != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: time.Second,
			Check:   redisStore.Ping,
		})
	}
	if topic != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "pubsub",
			Timeout:  time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				exists, err := topic.Exists(ctx)
				if err != nil {
					if st, ok := status.FromError(err); ok && st.Code() == codes.PermissionDenied {
						return nil
					}
					return err
				}
				if !exists {
					return errors.New("outcome topic does not exist")
				}
				return nil
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}
