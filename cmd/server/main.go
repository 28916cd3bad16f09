package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"posledger/internal/cache"
	"posledger/internal/config"
	"posledger/internal/feed"
	"posledger/internal/httpapi"
	"posledger/internal/logging"
	"posledger/internal/metrics"
	"posledger/internal/service"
	"posledger/internal/store"
	"posledger/internal/store/memory"
	mongostore "posledger/internal/store/mongo"
	pgstore "posledger/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.New(cfg.LogLevel, cfg.Env)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid security configuration")
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(runCtx, 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 3)
	hub := feed.NewHub(logger)

	repo, watch, closeRepo, err := openRepository(startCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("repository unavailable; refusing to start with in-memory fallback")
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	var publisher feed.Publisher = hub
	var salesCache cache.SalesCache = cache.NoopSalesCache{}
	var revocations cache.RevocationStore = cache.NewMemoryRevocations()
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedisSalesCache(client)
		if err := redisCache.Ping(startCtx); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, using in-process cache and feed")
			_ = client.Close()
		} else {
			salesCache = redisCache
			revocations = cache.NewRedisRevocations(client)
			bridge := feed.NewRedisBridge(client, hub, logger)
			publisher = bridge
			go func() {
				if err := bridge.Run(runCtx); err != nil {
					logger.Error().Err(err).Msg("redis feed relay stopped")
				}
			}()
			closers = append(closers, client.Close)
			logger.Info().Str("addr", cfg.RedisAddr).Msg("cache: redis")
		}
	} else {
		logger.Info().Msg("cache: in-process")
	}

	if watch != nil {
		go func() {
			err := watch(runCtx, func(collection string) {
				hub.Publish(runCtx, feed.Event{Collection: collection, At: time.Now()})
			})
			if err != nil {
				logger.Error().Err(err).Msg("change stream stopped")
			}
		}()
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	svc := service.New(repo, service.Options{
		Cache:    salesCache,
		Feed:     publisher,
		Metrics:  m,
		Location: cfg.Location(),
		CacheTTL: cfg.SalesCacheTTL(),
		Logger:   &logger,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.TokenTTL(), repo, revocations)
	api := httpapi.New(svc, auth, hub, m, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Address()).Str("backend", cfg.StoreBackend).Msg("posledger listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-runCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error().Err(err).Msg("close error")
		}
	}

	logger.Info().Msg("server stopped")
}

// watchFunc follows backend-side changes made outside this process.
type watchFunc func(ctx context.Context, emit func(collection string)) error

func openRepository(ctx context.Context, cfg config.Config, logger zerolog.Logger) (store.Repository, watchFunc, func() error, error) {
	switch cfg.StoreBackend {
	case "postgres":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Msg("repository: postgres")
		return pg, nil, pg.Close, nil
	case "mongo":
		mg, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info().Str("database", cfg.MongoDatabase).Msg("repository: mongo")
		closeFn := func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return mg.Close(ctx)
		}
		return mg, mg.WatchChanges, closeFn, nil
	default:
		logger.Info().Msg("repository: in-memory")
		return memory.NewSeeded(), nil, nil, nil
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.IsProduction() && cfg.AllowedOrigin == "*" {
		return fmt.Errorf("ALLOWED_ORIGIN must name a concrete origin in production")
	}
	if cfg.IsProduction() && cfg.StoreBackend == "memory" {
		return fmt.Errorf("an in-memory store cannot run in production; set DATABASE_URL or MONGO_URI")
	}
	return nil
}
