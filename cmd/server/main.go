package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/maneesh/quotadrive/internal/auth"
	"github.com/maneesh/quotadrive/internal/config"
	"github.com/maneesh/quotadrive/internal/file"
	"github.com/maneesh/quotadrive/internal/folder"
	"github.com/maneesh/quotadrive/internal/handlers"
	"github.com/maneesh/quotadrive/internal/logger"
	"github.com/maneesh/quotadrive/internal/storage"
	"github.com/maneesh/quotadrive/internal/storage/memstore"
	"github.com/maneesh/quotadrive/internal/subscription"
	"github.com/maneesh/quotadrive/internal/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Init("info", false)
		logger.Log.Fatal().Err(err).Msg("failed to load config")
	}

	logger.Init(cfg.LogLevel, cfg.LogPretty)
	logger.Log.Info().
		Str("service", cfg.ServiceName).
		Str("version", tracing.Version).
		Str("port", cfg.ServicePort).
		Msg("starting quotadrive service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry tracing
	shutdownTracer, err := tracing.InitTracer(ctx, cfg.TracingEnabled, cfg.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("failed to initialize tracer")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Log.Error().Err(err).Msg("error shutting down tracer")
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open metadata store")
	}
	defer store.Close()

	blobs, err := openBlobs(cfg)
	if err != nil {
		logger.Log.Fatal().Err(err).Str("driver", cfg.BlobDriver).Msg("failed to open byte store")
	}

	cache, closeCache := openCache(cfg)
	defer closeCache()

	authenticator, err := newAuthenticator(ctx, cfg)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("failed to initialize authenticator")
	}

	catalog := subscription.NewService(store)
	router := handlers.NewRouter(handlers.Deps{
		ServiceName:    cfg.ServiceName,
		Auth:           authenticator,
		AdminRole:      cfg.AdminRole,
		MaxUploadBytes: cfg.GetMaxUploadBytes(),
		Folders:        folder.NewTree(store, blobs, cache),
		Files:          file.NewRegistry(store, blobs, cache),
		Packages:       catalog,
		Subscriptions:  catalog,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:              ":" + cfg.ServicePort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Log.Info().Msg("server exited")
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Log.Warn().Msg("using in-memory metadata store; data is lost on exit")
		return memstore.New(), nil
	}

	if cfg.DBMigrate {
		if err := storage.Migrate(cfg.GetMigrateURL()); err != nil {
			return nil, err
		}
		logger.Log.Info().Msg("database migrations applied")
	}

	store, err := storage.NewMySQLStore(cfg.GetDSN(), cfg.DBMaxConns, cfg.DBIdleConns)
	if err != nil {
		return nil, err
	}
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, err
	}
	logger.Log.Info().Str("host", cfg.DBHost).Str("database", cfg.DBDatabase).Msg("metadata store connected")
	return store, nil
}

func openBlobs(cfg *config.Config) (storage.ByteStore, error) {
	if cfg.BlobDriver == config.DriverMemory {
		logger.Log.Warn().Msg("using in-memory byte store; payloads are lost on exit")
		return memstore.NewBlobs(), nil
	}

	client, err := storage.NewMinioClient(
		cfg.MinIOEndpoint,
		cfg.MinIOAccessKey,
		cfg.MinIOSecretKey,
		cfg.MinIOBucketName,
		cfg.MinIOUseSSL,
		cfg.GetPartSizeBytes(),
	)
	if err != nil {
		return nil, err
	}
	logger.Log.Info().Str("endpoint", cfg.MinIOEndpoint).Str("bucket", cfg.MinIOBucketName).Msg("byte store connected")
	return client, nil
}

// openCache prefers Redis and falls back to an in-process LRU when Redis is
// disabled or unreachable.
func openCache(cfg *config.Config) (storage.FileCache, func()) {
	if cfg.RedisEnabled {
		client, err := storage.NewRedisClient(cfg.GetRedisAddr(), cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL)
		if err == nil {
			logger.Log.Info().Str("addr", cfg.GetRedisAddr()).Msg("file cache connected to redis")
			return client, func() { client.Close() }
		}
		logger.Log.Warn().Err(err).Msg("redis unavailable, using in-process file cache")
	}
	return storage.NewLRUCache(cfg.CacheSize, cfg.CacheTTL), func() {}
}

func newAuthenticator(ctx context.Context, cfg *config.Config) (*auth.Authenticator, error) {
	if cfg.JWTSecret != "" {
		return auth.NewHMAC([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTLeeway), nil
	}
	return auth.NewJWKS(ctx, cfg.JWKSURL, cfg.JWTIssuer, cfg.JWTLeeway)
}
