package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"classmind/internal/app"
	"classmind/internal/config"
	"classmind/internal/ratelimit"
	"classmind/internal/server"
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

	logger := util.InitLogger(cfg.LogLevel)

	entityStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	sessionTTL := time.Duration(cfg.SessionTTLMinutes) * time.Minute
	var sessions store.SessionStore
	if cfg.RedisAddr != "" {
		sessions = store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, sessionTTL)
	} else {
		sessions = store.NewJWTSessionStore(cfg.JWTSecret, sessionTTL)
	}

	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}

	gateway := provider.NewOpenAIClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.ProviderModel, provider.OpenAIOptions{
		CallTimeout: time.Duration(cfg.RemoteTimeoutSeconds) * time.Second,
	})

	appCore, err := app.New(app.Config{
		Store:              entityStore,
		Sessions:           sessions,
		Objects:            objects,
		Gateway:            gateway,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		AllowedExtensions:  cfg.AllowedExtensions,
		MaxMessageLength:   cfg.MaxMessageLength,
		MaxThreadMessages:  cfg.MaxThreadMessages,
		RemoteRetryMax:     cfg.RemoteRetryMax,
		RemoteRetryBackoff: time.Duration(cfg.RemoteRetryBackoffMS) * time.Millisecond,
		RemoteCallTimeout:  time.Duration(cfg.RemoteTimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" {
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "classmind:ratelimit", cfg.RateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}
	proxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		Limiter:        limiter,
		Proxies:        proxies,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("api server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
