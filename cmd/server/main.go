package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prudhvinik1/hnnp-cloud/internal/config"
	"github.com/prudhvinik1/hnnp-cloud/internal/database"
	"github.com/prudhvinik1/hnnp-cloud/internal/handlers"
	"github.com/prudhvinik1/hnnp-cloud/internal/logging"
	"github.com/prudhvinik1/hnnp-cloud/internal/repositories"
	"github.com/prudhvinik1/hnnp-cloud/internal/services"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type stores struct {
	receivers  repositories.ReceiverRepository
	deviceKeys repositories.DeviceKeyRepository
	links      repositories.LinkRepository
	events     repositories.PresenceEventRepository
	endpoints  repositories.WebhookEndpointRepository
	sessions   repositories.PresenceSessionRepository
	queue      repositories.WebhookQueue
	closers    []func()
}

func main() {
	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, "hnnp-cloud")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
	logger.Info("server stopped gracefully")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range st.closers {
			c()
		}
	}()

	if cfg.DeviceIDSalt == "" {
		logger.Warn("DEVICE_ID_SALT is not set; presence reports will be rejected")
	}

	metrics := services.NewMetrics()
	locker := services.NewDeviceLocker(0)
	dispatcher := services.NewWebhookDispatcher(st.queue, st.endpoints, services.DispatcherConfig{
		DefaultURL:   cfg.WebhookURL,
		MasterSecret: cfg.WebhookSecret,
		MaxAttempts:  cfg.WebhookMaxAttempts,
		TickInterval: cfg.WebhookTickInterval,
		Concurrency:  cfg.WebhookConcurrency,
		Timeout:      cfg.WebhookTimeout,
	}, logger.Named("webhooks"), metrics)

	presence := services.NewPresenceService(st.receivers, st.deviceKeys, st.links, st.events, st.sessions,
		dispatcher, locker, services.NewPresenceConfig(cfg), logger.Named("presence"), metrics)
	links := services.NewLinkService(st.links, st.sessions, st.deviceKeys, dispatcher, locker,
		cfg.RegistrationSigningKey, logger.Named("links"))

	server := &http.Server{
		Addr: fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: handlers.NewRouter(handlers.RouterDeps{
			Presence:   presence,
			Links:      links,
			Dispatcher: dispatcher,
			Metrics:    metrics,
			Logger:     logger.Named("http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("starting server", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStores picks Postgres for durable records and Redis for sessions and
// the webhook queue, falling back to in-memory stores for anything that is
// not configured.
func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	st := &stores{}

	if cfg.DatabaseURL != "" {
		pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		st.closers = append(st.closers, pool.Close)
		if err := database.Migrate(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, err
		}
		st.receivers = repositories.NewPostgresReceiverRepository(pool)
		st.deviceKeys = repositories.NewPostgresDeviceKeyRepository(pool)
		st.links = repositories.NewPostgresLinkRepository(pool)
		st.events = repositories.NewPostgresPresenceEventRepository(pool)
		st.endpoints = repositories.NewPostgresWebhookEndpointRepository(pool)
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory stores")
		receivers := repositories.NewMemoryReceiverRepository()
		if cfg.ReceiverOrgID != "" && cfg.ReceiverID != "" && cfg.ReceiverSecret != "" {
			receivers.Put(cfg.ReceiverOrgID, cfg.ReceiverID, cfg.ReceiverSecret)
			logger.Info("static receiver configured",
				zap.String("org_id", cfg.ReceiverOrgID),
				zap.String("receiver_id", cfg.ReceiverID),
			)
		}
		st.receivers = receivers
		st.deviceKeys = repositories.NewMemoryDeviceKeyRepository()
		st.links = repositories.NewMemoryLinkRepository()
		st.events = repositories.NewMemoryPresenceEventRepository()
		st.endpoints = repositories.NewMemoryWebhookEndpointRepository()
	}

	if cfg.RedisURL != "" {
		client, err := database.NewRedisClient(ctx, cfg.RedisURL, logger)
		if err != nil {
			for _, c := range st.closers {
				c()
			}
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		st.closers = append(st.closers, func() { client.Close() })
		st.sessions = repositories.NewRedisSessionRepository(client)
		st.queue = repositories.NewRedisWebhookQueue(client)
	} else {
		logger.Warn("REDIS_URL not set; sessions and webhook queue are in-memory")
		st.sessions = repositories.NewMemorySessionRepository()
		st.queue = repositories.NewMemoryWebhookQueue()
	}
	return st, nil
}
