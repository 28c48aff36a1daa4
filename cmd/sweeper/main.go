// The sweeper drains the reconciliation log: remote resources whose deletion
// failed during an API operation are retried here until the provider confirms
// they are gone. It runs alongside the api server and is safe to restart at
// any time.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classmind/internal/config"
	"classmind/internal/reconcile"
	"classmind/internal/util"
	"classmind/pkg/provider"
	"classmind/pkg/storage"
	"classmind/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	util.InitLogger(cfg.LogLevel)

	entityStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}
	gateway := provider.NewOpenAIClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.ProviderModel, provider.OpenAIOptions{
		CallTimeout: time.Duration(cfg.RemoteTimeoutSeconds) * time.Second,
	})

	sweeper, err := reconcile.New(reconcile.Config{
		Store:     entityStore,
		Gateway:   gateway,
		Objects:   objects,
		Interval:  time.Duration(cfg.SweepIntervalSeconds) * time.Second,
		BatchSize: cfg.SweepBatchSize,
	})
	if err != nil {
		log.Fatalf("failed to init sweeper: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("sweeper running", "interval_seconds", cfg.SweepIntervalSeconds)
	if err := sweeper.Run(ctx); err != nil && err != context.Canceled {
		slog.Error("sweeper stopped", "err", err)
	}
}
