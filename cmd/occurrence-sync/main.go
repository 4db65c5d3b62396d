package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"paytrack/internal/cache"
	"paytrack/internal/cli"
	"paytrack/internal/config"
	applog "paytrack/internal/log"
	"paytrack/internal/sheets"
	gsheet "paytrack/internal/sheets/google"
	sheetsmem "paytrack/internal/sheets/memory"
	"paytrack/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	logger.Info("Starting occurrence-sync")

	cfg := cli.LoadAndValidateConfig(logger)
	result := cli.InitBackend(context.Background(), logger, cfg)
	defer func() {
		if err := result.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", "error", err)
		}
	}()

	writer, err := newWriter(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize occurrence sink", "error", err, "sink", cfg.SyncSink)
		os.Exit(1)
	}

	// Remembers mirrored occurrence IDs across redeliveries
	seen := cache.NewLRUCache[string](10000, 24*time.Hour)
	caches := cache.NewManager(logger)
	caches.Register(seen)
	caches.StartCleanup(10 * time.Minute)
	defer caches.Stop()

	syncWorker := worker.NewSyncWorker(writer, seen)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	logger.Info("Performing startup backfill...")
	if _, err := syncWorker.Backfill(ctx, result.Backend); err != nil {
		// Don't exit - continue with normal operation
		logger.Error("Startup backfill failed", "error", err)
	}

	if result.AMQP == nil {
		logger.Error("AMQP is required to consume occurrence events; set AMQP_URL")
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := result.AMQP.ConsumeOccurrenceEvents(gctx, cfg.AMQPEventsQueue, syncWorker.HandleOccurrencesGenerated)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Periodic backfill for events lost while the broker was unreachable
	g.Go(func() error {
		ticker := time.NewTicker(cfg.GenerationInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := syncWorker.Backfill(gctx, result.Backend); err != nil && gctx.Err() == nil {
					logger.Error("Periodic backfill failed", "error", err)
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Error("Occurrence-sync stopped with error", "error", err)
		_ = result.Cleanup()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Occurrence-sync shutdown complete")
}

func newWriter(cfg *config.Config, logger *slog.Logger) (sheets.OccurrenceWriter, error) {
	switch cfg.SyncSink {
	case "sheets":
		client, err := gsheet.NewFromEnv(context.Background())
		if err != nil {
			return nil, err
		}
		logger.Info("Google Sheets client initialized",
			"spreadsheet_id", cfg.GoogleSpreadsheetID,
			"sheet", cfg.GoogleSheetName)
		return client, nil
	case "memory":
		return sheetsmem.New(), nil
	default:
		return sheetsmem.NewLogWriter(applog.ForComponent(applog.ComponentSheets).Logger), nil
	}
}
