package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"page-mirror/internal/api"
	"page-mirror/internal/config"
	"page-mirror/internal/db"
	"page-mirror/internal/logging"
	"page-mirror/internal/platform"
	"page-mirror/internal/redis"
	"page-mirror/internal/storage"
	"page-mirror/internal/sync"
	"page-mirror/internal/vault"
	"page-mirror/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.ForService(cfg.LogLevel, "page-mirror-api")
	logger.Info("starting_api", "http_addr", cfg.HTTPAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbConn, err := db.New(ctx, cfg.DBDSN)
	if err != nil {
		logger.Error("db_connect_failed", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	redisClient, err := redis.New(cfg.RedisDSN)
	if err != nil {
		logger.Error("redis_connect_failed", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	if len(cfg.EncryptionKey) != 32 {
		logger.Error("encryption_key_missing", "hint", "set ENCRYPTION_KEY (base64, 32 bytes)")
		os.Exit(1)
	}

	store := db.NewStore(dbConn, logger)
	credStore, err := vault.NewStore(logger, dbConn, cfg.EncryptionKey)
	if err != nil {
		logger.Error("vault_init_failed", "error", err)
		os.Exit(1)
	}
	tracker := vault.NewTracker(logger, dbConn, credStore)

	objectStore := buildObjectStore(cfg, logger)
	pipeline := storage.NewPipeline(logger, objectStore, cfg.R2Bucket, storage.PipelineOptions{
		URLMode:    cfg.CoverURLMode,
		SignedTTL:  cfg.SignedURLTTL,
		Thumbnails: cfg.R2Bucket != "",
	})

	client := platform.NewClient(logger, cfg.PlatformAPIBase)

	orch := sync.NewOrchestrator(logger, client, credStore, tracker, store, pipeline, sync.OrchestratorConfig{
		DaysBack:         cfg.SyncDaysBack,
		TokenWarningDays: cfg.TokenWarningDays,
	})
	reconciler := webhook.NewReconciler(logger, client, credStore, pipeline, store, cfg.SyncDaysBack)

	srv := api.NewServer(logger, dbConn, store, redisClient, orch, reconciler, cfg)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_listen_failed", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("api_started", "addr", cfg.HTTPAddr)

	// graceful shutdown
	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting_down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_shutdown_failed", "error", err)
	} else {
		logger.Info("http_server_stopped")
	}

	if err := redisClient.Close(); err != nil {
		logger.Warn("redis_close_error", "error", err)
	}
	dbConn.Close()

	logger.Info("api_stopped")
}

func buildObjectStore(cfg config.Config, logger *slog.Logger) storage.ObjectStore {
	if cfg.R2Endpoint != "" && cfg.R2Bucket != "" && cfg.R2KeysRaw != "" {
		var r2Keys map[string]string
		if err := json.Unmarshal([]byte(cfg.R2KeysRaw), &r2Keys); err == nil {
			s3Client, err := storage.NewS3Client(storage.S3Config{
				Endpoint:        cfg.R2Endpoint,
				AccessKeyID:     r2Keys["access_key_id"],
				SecretAccessKey: r2Keys["secret_access_key"],
				PublicURL:       r2Keys["public_url"],
				Region:          "auto",
			})
			if err == nil {
				logger.Info("using_s3_storage", "endpoint", cfg.R2Endpoint)
				return s3Client
			}
		}
	}

	logger.Info("using_storage_simulator")
	return storage.NewSimulator(cfg.R2Endpoint)
}
