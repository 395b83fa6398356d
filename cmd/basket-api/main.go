package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreadwing5/Restore/internal/cache"
	"github.com/dreadwing5/Restore/internal/catalog"
	"github.com/dreadwing5/Restore/internal/config"
	"github.com/dreadwing5/Restore/internal/events"
	h "github.com/dreadwing5/Restore/internal/http"
	"github.com/dreadwing5/Restore/internal/identity"
	"github.com/dreadwing5/Restore/internal/logger"
	"github.com/dreadwing5/Restore/internal/repository"
	"github.com/dreadwing5/Restore/internal/store"
	"github.com/dreadwing5/Restore/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const serviceVersion = "1.0.0"

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.New(cfg.ServiceName, cfg.LogLevel, cfg.LogPretty)
	ctx := context.Background()

	if cfg.OTelEnabled {
		shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, cfg.ServiceName, serviceVersion)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init tracer provider")
		}
		defer shutdownTracer(context.Background())
	} else {
		telemetry.InstallPropagator()
	}

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(cfg.ServiceName, serviceVersion)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init meter provider")
	}
	defer shutdownMeter(context.Background())

	repo, closeRepo := setupRepository(ctx, cfg, log)
	defer closeRepo()

	basketCache, closeCache := setupCache(ctx, cfg, log)
	defer closeCache()

	products, err := catalog.NewSQLiteCatalog(cfg.CatalogDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open catalog")
	}
	defer products.Close()
	if err := products.RunMigrations(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate catalog")
	}
	log.Info().Str("path", cfg.CatalogDBPath).Msg("catalog ready")

	var publisher events.Publisher = events.NoopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing basket events")
	}
	defer publisher.Close()

	baskets, err := store.New(repo, basketCache, products, publisher, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create basket store")
	}

	resolver := identity.NewResolver(baskets, log)
	basketHandler := h.NewBasketHandler(baskets, resolver, h.NewCookieChannel(cfg.CookieSecure), cfg.RequestTimeout, log)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: h.NewRouter(h.RouterConfig{
			Basket:         basketHandler,
			Metrics:        metricsHandler,
			Logger:         log,
			RequestTimeout: cfg.RequestTimeout,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("basket api starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited")
}

func setupRepository(ctx context.Context, cfg *config.Config, log zerolog.Logger) (repository.BasketRepository, func()) {
	if cfg.StorageBackend == config.StorageMemory {
		repo := repository.NewMemoryRepository(cfg.BasketTTL)
		stop := make(chan struct{})
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if n := repo.Expire(); n > 0 {
						log.Info().Int("count", n).Msg("expired idle baskets")
					}
				case <-stop:
					return
				}
			}
		}()
		log.Info().Msg("using in-memory basket storage")
		return repo, func() { close(stop) }
	}

	db, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MongoDB")
	}
	repo := repository.NewMongoRepository(db, cfg.BasketTTL)
	if err := repo.CreateIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to create basket indexes")
	}
	log.Info().Str("db", cfg.MongoDBName).Msg("connected to MongoDB")

	return repo, func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.Client().Disconnect(disconnectCtx); err != nil {
			log.Error().Err(err).Msg("mongo disconnect failed")
		}
	}
}

func setupCache(ctx context.Context, cfg *config.Config, log zerolog.Logger) (cache.BasketCache, func()) {
	if cfg.RedisAddr == "" {
		log.Info().Msg("redis not configured, basket cache disabled")
		return cache.NoopCache{}, func() {}
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("redis ping succeeded")

	return cache.NewRedisCache(redisClient), func() { _ = redisClient.Close() }
}
