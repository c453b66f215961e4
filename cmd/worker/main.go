package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"page-mirror/internal/config"
	"page-mirror/internal/db"
	"page-mirror/internal/logging"
	"page-mirror/internal/platform"
	"page-mirror/internal/storage"
	"page-mirror/internal/sync"
	"page-mirror/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.ForService(cfg.LogLevel, "page-mirror-worker")
	logger.Info("starting_worker", "sync_interval", cfg.SyncInterval.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// connect to PostgreSQL (with retry, the worker often boots before it)
	var dbConn *db.DB
	for i := 0; i < 5; i++ {
		dbConn, err = db.New(ctx, cfg.DBDSN)
		if err == nil {
			break
		}
		logger.Warn("db_connect_retry", "attempt", i+1, "error", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		logger.Error("db_connect_failed", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()

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
	scheduler := sync.NewScheduler(logger, orch, cfg.SyncInterval)

	go scheduler.Start(ctx)
	logger.Info("worker_started")

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting_down")
	cancel()
	dbConn.Close()
	logger.Info("worker_stopped")
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
