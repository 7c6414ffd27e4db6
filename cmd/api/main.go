package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "kiln/configs"
	"kiln/pkg/api"
	"kiln/pkg/auth"
	"kiln/pkg/engine"
	"kiln/pkg/logger"
	"kiln/pkg/observability"
	"kiln/pkg/storage"
	"kiln/pkg/storage/postgres"
	"kiln/pkg/storage/redis"
)

func main() {
	cfg := config.LoadConfig()

	if _, err := logger.Init(logger.DefaultConfig("kiln-api")); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("starting up")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Tracing
	tracingCfg := observability.DefaultConfig("kiln-api")
	tracingCfg.Endpoint = cfg.TracingEndpoint
	tracingCfg.Enabled = cfg.TracingEnabled
	tracer, err := observability.Init(ctx, tracingCfg)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}
	defer tracer.Shutdown(context.Background())

	// Content store
	store, janitor, err := buildStore(cfg)
	if err != nil {
		logger.Fatal("failed to initialize content store", zap.Error(err))
	}
	if janitor != nil {
		janitor.Start()
		defer janitor.Stop()
	}
	logger.Info("content store ready", zap.String("backend", cfg.StoreBackend))

	// Action cache (optional)
	var cache storage.ActionCache
	if cfg.RedisAddr != "" {
		rc, err := redis.NewRedisActionCache(cfg.RedisAddr)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rc.Close()
		cache = rc
		logger.Info("action cache connected", zap.String("addr", cfg.RedisAddr))
	}

	// Run history (optional)
	var runs storage.RunStore
	if cfg.DBHost != "" {
		connStr := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)
		rs, err := postgres.NewPostgresRunStore(connStr)
		if err != nil {
			logger.Fatal("failed to initialize run store", zap.Error(err))
		}
		defer rs.Close()
		runs = rs
		logger.Info("run store connected", zap.String("host", cfg.DBHost))
	}

	eng := engine.New(engine.Config{
		Store:          store,
		Cache:          cache,
		Runs:           runs,
		RemoteEndpoint: cfg.RemoteEndpoint,
	})
	logger.Info("engine ready", zap.String("run_id", eng.RunID().String()))

	server := api.NewServer(api.Config{
		Port:   cfg.APIPort,
		Engine: eng,
		JWT: auth.NewJWTService(auth.JWTConfig{
			SecretKey: cfg.JWTSecret,
			Issuer:    "kiln",
		}),
	})

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}()
	logger.Info("server started", zap.String("port", cfg.APIPort))

	sig := <-sigChan
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// buildStore constructs the configured content store backend and, for the
// local backend, its janitor.
func buildStore(cfg *config.Config) (storage.ContentStore, *storage.Janitor, error) {
	switch cfg.StoreBackend {
	case "memory":
		return storage.NewMemoryContentStore(), nil, nil
	case "local":
		store, err := storage.NewLocalContentStore(cfg.StoreDir)
		if err != nil {
			return nil, nil, err
		}
		janitor, err := storage.NewJanitor(store.Root(), cfg.JanitorSpec, cfg.JanitorRetention)
		if err != nil {
			return nil, nil, err
		}
		return store, janitor, nil
	case "s3":
		store, err := storage.NewS3ContentStore(storage.S3ContentStoreConfig{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			LocalCacheDir:   cfg.S3CacheDir,
		})
		return store, nil, err
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
