package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"paytrack/internal/amqp"
	"paytrack/internal/cli"
	apphttp "paytrack/internal/http"
	"paytrack/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	logger.Info("Starting recurring-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	result := cli.InitBackend(context.Background(), logger, cfg)
	defer func() {
		if err := result.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", "error", err)
		}
	}()

	// One gate for every trigger source in this process
	processor, err := cli.NewProcessor(cfg, result, services.NewGate())
	if err != nil {
		logger.Error("Failed to configure generator", "error", err)
		os.Exit(1)
	}

	scheduler := services.NewScheduler(processor, services.SchedulerConfig{
		Interval:   cfg.GenerationInterval,
		RunOnStart: true,
	})

	server := apphttp.NewServer(":"+cfg.Port, processor,
		apphttp.WithOccurrenceLister(result.Backend),
		apphttp.WithReadiness(result.Backend))

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", "error", err)
		}
		if err := scheduler.Stop(shutdownCtx); err != nil {
			logger.Warn("Scheduler stop failed", "error", err)
		}
	})

	logger.Info("Recurring generator configured",
		"interval", cfg.GenerationInterval,
		"horizon_months", cfg.GenerationHorizonMonths,
		"overflow", cfg.OverflowPolicy,
		"timezone", cfg.Timezone,
		"backend", cfg.DataBackend,
		"events", result.AMQP != nil)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scheduler.Start(gctx)
	})

	g.Go(func() error {
		logger.Info("HTTP trigger listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if result.AMQP != nil && cfg.AMQPTriggerQueue != "" {
		g.Go(func() error {
			err := result.AMQP.ConsumeGenerationRequests(gctx, cfg.AMQPTriggerQueue,
				func(ctx context.Context, msg *amqp.GenerationRequestMessage) error {
					report := processor.Generate(ctx, msg.UserID)
					logger.InfoContext(ctx, "Generation request handled",
						"user_id", msg.UserID,
						"inserted", report.Inserted,
						"skipped", string(report.Skipped))
					return nil
				})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		logger.Info("AMQP disabled - generation runs on schedule and over HTTP only")
	}

	if err := g.Wait(); err != nil {
		logger.Error("Recurring-worker stopped with error", "error", err)
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = scheduler.Stop(stopCtx)
		cancel()
		_ = result.Cleanup()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Recurring-worker shutdown complete")
}
