// Command backend is the main entrypoint for the clip-forge API and
// background workers. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts background work: VOD catalog discovery, the live chat recorder
//     when credentials are configured, and the job queue with the
//     analyze/extract/upload processors.
//   - Exposes an HTTP server with health, status, metrics, and the VOD/job
//     endpoints.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/clip-forge/backend/chat"
	"github.com/onnwee/clip-forge/backend/config"
	"github.com/onnwee/clip-forge/backend/db"
	"github.com/onnwee/clip-forge/backend/jobs"
	"github.com/onnwee/clip-forge/backend/media"
	"github.com/onnwee/clip-forge/backend/pipeline"
	"github.com/onnwee/clip-forge/backend/server"
	"github.com/onnwee/clip-forge/backend/storage"
	"github.com/onnwee/clip-forge/backend/telemetry"
	"github.com/onnwee/clip-forge/backend/twitchapi"
	"github.com/onnwee/clip-forge/backend/vod"
)

func main() {
	// Load .env file if present (local dev convenience; production relies on real env)
	_ = godotenv.Load("backend/.env")

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("clip-forge", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Dual migration approach: versioned migrations first, embedded SQL as
	// the fallback for deployments without the migrations directory.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, falling back to embedded SQL",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Helix client for VOD discovery, shared by the catalog job.
	helix := &twitchapi.HelixClient{
		AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
		ClientID:       cfg.TwitchClientID,
	}
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		catalog := &vod.Catalog{DB: database, Helix: helix, Channel: cfg.TwitchChannel}
		go catalog.StartDiscoveryJob(ctx)
	} else {
		slog.Info("twitch api creds not set; vod discovery disabled")
	}

	// Live chat recorder when a session VOD is pinned via env.
	if vodID := os.Getenv("CHAT_VOD_ID"); vodID != "" {
		start := time.Now().UTC()
		if s := os.Getenv("CHAT_VOD_START"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				start = t
			}
		}
		go chat.StartRecorder(ctx, database, *cfg, vodID, start)
	}

	// Object store is optional; without it upload jobs fail and clips stay
	// extracted on disk.
	var store pipeline.ObjectStore
	if err := cfg.ValidateStorageReady(); err == nil {
		s, err := storage.New(ctx, storage.Options{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
			PublicURL: cfg.S3PublicURL,
		})
		if err != nil {
			slog.Error("object storage init failed", slog.Any("err", err))
			os.Exit(1)
		}
		store = s
	} else {
		slog.Warn("object storage not configured; uploads will fail", slog.Any("err", err))
	}

	queue := jobs.New(database, jobs.Options{
		PollInterval:     cfg.QueuePollInterval,
		MaxAttempts:      cfg.QueueMaxAttempts,
		Workers:          cfg.QueueWorkers,
		ProcessorTimeout: cfg.ProcessorTimeout,
	})
	transcoder := &media.Runner{}
	queue.Register(jobs.TypeAnalyzeVOD, &pipeline.Analyzer{
		DB:          database,
		Transcripts: &chat.Transcripts{DB: database},
		Resolver:    &vod.Resolver{DB: database},
		Queue:       queue,
	})
	queue.Register(jobs.TypeExtractClip, &pipeline.Extractor{
		DB:         database,
		Transcoder: transcoder,
		Queue:      queue,
		DataDir:    cfg.DataDir,
	})
	if store != nil {
		queue.Register(jobs.TypeUploadClip, &pipeline.Uploader{
			DB:         database,
			Store:      store,
			Transcoder: transcoder,
		})
	}
	queue.Start(ctx)
	defer queue.Stop()

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	if err := server.Start(ctx, database, queue, addr); err != nil {
		os.Exit(1)
	}
}

// setupLogging configures slog from LOG_LEVEL and LOG_FORMAT. Defaults:
// level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))
}
