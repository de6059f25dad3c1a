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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/nemonet1337/tireshop-ledger/internal/config"
	"github.com/nemonet1337/tireshop-ledger/pkg/blob"
	"github.com/nemonet1337/tireshop-ledger/pkg/cache"
	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
	"github.com/nemonet1337/tireshop-ledger/pkg/inventory"
	"github.com/nemonet1337/tireshop-ledger/pkg/inventory/storage"
	"github.com/nemonet1337/tireshop-ledger/pkg/reconcile"
	"github.com/nemonet1337/tireshop-ledger/pkg/report"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("ignoring .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config: ", err)
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatal("init logger: ", err)
	}
	defer logger.Sync()

	if cfg.Auth.JWTSecret == "" {
		logger.Fatal("JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewPostgreSQLStorage(cfg.DSN(), logger)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c, closeCache, err := newCache(ctx, cfg, logger, reg)
	if err != nil {
		logger.Fatal("cache init failed", zap.Error(err))
	}
	defer closeCache()

	blobs, closeBlobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}
	defer closeBlobs()

	clock := identity.SystemClock{}
	manager := inventory.NewManager(store, logger, cfg.ManagerConfig(),
		inventory.WithCache(c),
		inventory.WithBlobStore(blobs),
		inventory.WithClock(clock),
		inventory.WithRegisterer(reg),
	)
	if err := manager.Bootstrap(ctx); err != nil {
		logger.Fatal("bootstrap failed", zap.Error(err))
	}

	reports := report.NewService(manager, logger, reg)
	recon := reconcile.NewService(manager, reports, logger)
	tokens := identity.NewTokenResolver(cfg.Auth.JWTSecret, clock)
	handlers := NewHandlers(manager, reports, recon, tokens, cfg.Auth.TokenTTL, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      setupRouter(handlers, reg, cfg.API.EnableCORS, cfg.API.EnableMetrics),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}

	go func() {
		logger.Info("api server starting", zap.Int("port", cfg.API.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("server stopped")
}

// newCache builds the configured cache backend.
func newCache(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*cache.Cache, func(), error) {
	if cfg.Cache.Backend != "redis" {
		return cache.New(cache.NewMemoryStore(time.Now), logger, reg), func() {}, nil
	}
	rdb, err := cache.NewRedisClient(ctx, cfg.RedisOptions())
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("redis close failed", zap.Error(err))
		}
	}
	logger.Info("redis cache enabled", zap.String("addr", cfg.Redis.Addr))
	return cache.New(cache.NewRedisStore(rdb, cfg.Redis.Namespace), logger, reg), closeFn, nil
}

// newBlobStore builds the configured photo store.
func newBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, func(), error) {
	if cfg.Blob.Backend != "gcs" {
		return blob.NewMemoryStore(cfg.Blob.PublicBaseURL), func() {}, nil
	}
	gcs, err := blob.NewGCSStore(ctx, cfg.Blob.Bucket, cfg.Blob.CredentialsJSON)
	if err != nil {
		return nil, nil, err
	}
	return gcs, func() { _ = gcs.Close() }, nil
}
