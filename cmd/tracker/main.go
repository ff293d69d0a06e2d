package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/qepting91/price-tracker/internal/cache"
	"github.com/qepting91/price-tracker/internal/collector"
	"github.com/qepting91/price-tracker/internal/config"
	"github.com/qepting91/price-tracker/internal/dashboard"
	"github.com/qepting91/price-tracker/internal/ingest"
	"github.com/qepting91/price-tracker/internal/pipeline"
	"github.com/qepting91/price-tracker/internal/scheduler"
	"github.com/qepting91/price-tracker/internal/storage"
)

func main() {
	configPath := flag.String("config", "tracker.toml", "path to the TOML config file")
	once := flag.Bool("once", false, "run a single ingestion pass and exit")
	clean := flag.Bool("clean", false, "drop invalid and duplicate history rows and exit")
	flag.Parse()

	// 1. Setup
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "err", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 2. Storage
	history, err := storage.Open(cfg.Storage.HistoryPath, logger)
	if err != nil {
		logger.Error("Failed to open history", "path", cfg.Storage.HistoryPath, "err", err)
		os.Exit(1)
	}

	if *clean {
		removed, err := history.CleanupInvalid()
		if err != nil {
			logger.Error("Cleanup failed", "err", err)
			os.Exit(1)
		}
		logger.Info("Cleanup complete", "removed", removed, "records", history.Len())
		return
	}

	// 3. Initialize Client (Using Factory)
	fetcher, err := collector.NewFetcher(collector.Options{
		Mode:       cfg.Collector.Mode,
		UserAgent:  cfg.Collector.UserAgent,
		APIKey:     cfg.Collector.APIKey,
		APIHost:    cfg.Collector.APIHost,
		APIBaseURL: cfg.Collector.APIBaseURL,
		Timeout:    cfg.FetchTimeout(),
	})
	if err != nil {
		logger.Error("Failed to initialize collector", "err", err)
		os.Exit(1)
	}
	logger.Info("Collector initialized", "mode", cfg.Collector.Mode)

	// 4. Publishers
	var publishers pipeline.Publishers
	var writerWg sync.WaitGroup
	var changeLog *storage.ChangeLog
	if cfg.Storage.ChangeLogPath != "" {
		changeLog = storage.NewChangeLog(cfg.Storage.ChangeLogPath, logger)
		writerWg.Add(1)
		go changeLog.Start(&writerWg)
		publishers = append(publishers, changeLog)
	}
	if cfg.Redis.Addr != "" {
		changeCache := cache.NewChangeCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.RedisTTL())
		defer changeCache.Close()
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := changeCache.Ping(pingCtx); err != nil {
			logger.Warn("Redis unreachable, publishing will be retried each run", "addr", cfg.Redis.Addr, "err", err)
		}
		pingCancel()
		publishers = append(publishers, changeCache)
	}

	pipe := pipeline.New(pipeline.Config{
		Workers:      cfg.Pipeline.Workers,
		FetchTimeout: cfg.FetchTimeout(),
		Window:       cfg.Window(),
	}, ingest.Registry{Path: cfg.Storage.RegistryPath, Logger: logger}, fetcher, history, publishers, logger)

	closeChangeLog := func() {
		if changeLog != nil {
			changeLog.Close()
			writerWg.Wait()
		}
	}

	if *once {
		_, err := pipe.Run(ctx)
		closeChangeLog()
		if err != nil {
			logger.Error("Ingestion failed", "err", err)
			os.Exit(1)
		}
		return
	}

	// 5. Scheduler
	sched, err := scheduler.New(cfg.Schedule.Cadence, pipe, logger,
		scheduler.WithResolution(cfg.Resolution()),
		scheduler.WithContext(ctx),
	)
	if err != nil {
		logger.Error("Invalid schedule", "err", err)
		os.Exit(1)
	}
	var schedWg sync.WaitGroup
	schedWg.Add(1)
	go func() {
		defer schedWg.Done()
		sched.Run(ctx)
	}()
	if cfg.Schedule.AutoStart {
		sched.Start()
	}

	// 6. Run Dashboard
	server := dashboard.NewServer(history, pipe, sched, logger)
	logger.Info("Starting Dashboard", "port", cfg.Server.Port)
	if err := server.ListenAndServe(ctx, cfg.Server.Port); err != nil {
		logger.Error("Dashboard failed", "err", err)
		cancel()
	}

	// 7. Graceful Shutdown
	<-ctx.Done()
	logger.Info("Shutdown signal received")
	schedWg.Wait()
	closeChangeLog()
	logger.Info("Tracker stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
