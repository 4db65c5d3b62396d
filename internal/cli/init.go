// Package cli provides the paytrack command tree and the initialization
// helpers shared by cmd/paytrack, cmd/recurring-worker and cmd/occurrence-sync.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"paytrack/internal/backend"
	"paytrack/internal/config"
	applog "paytrack/internal/log"
	"paytrack/internal/schedule"
	"paytrack/internal/services"
)

// SetupLogger initializes structured logging at the level named by LOG_LEVEL
// and sets it as the default logger.
func SetupLogger() *slog.Logger {
	cfg := applog.DefaultConfig()
	cfg.Level = applog.ParseLevel(os.Getenv("LOG_LEVEL"))
	cfg.Component = applog.ComponentApp
	logger := applog.New(cfg)
	applog.SetDefault(logger)
	return logger.Logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadConfig loads configuration from the environment and validates it.
func LoadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadAndValidateConfig is LoadConfig for entry points: it exits the process
// on validation failure.
func LoadAndValidateConfig(logger *slog.Logger) *config.Config {
	cfg, err := LoadConfig()
	if err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

// OpenBackend creates the storage gateway, plus the event bus when
// AMQP_URL is set.
func OpenBackend(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*backend.BackendResult, error) {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	return backend.NewFactory(logger).CreateBackend(ctx, bcfg)
}

// InitBackend is OpenBackend for entry points: it exits the process on
// failure.
func InitBackend(ctx context.Context, logger *slog.Logger, cfg *config.Config) *backend.BackendResult {
	result, err := OpenBackend(ctx, logger, cfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	return result
}

// ProcessorConfig maps the application config onto the generator settings.
func ProcessorConfig(cfg *config.Config) (services.ProcessorConfig, error) {
	pc := services.DefaultProcessorConfig()

	policy, err := schedule.ParseOverflowPolicy(cfg.OverflowPolicy)
	if err != nil {
		return pc, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return pc, err
	}

	pc.HorizonMonths = cfg.GenerationHorizonMonths
	pc.Overflow = policy
	pc.Location = loc
	pc.LeaseTTL = cfg.LeaseTTL
	return pc, nil
}

// NewProcessor wires a RecurringProcessor to an opened backend.
func NewProcessor(cfg *config.Config, result *backend.BackendResult, gate services.Gate) (*services.RecurringProcessor, error) {
	pc, err := ProcessorConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("processor config: %w", err)
	}
	return services.NewRecurringProcessor(result.Backend, gate, result.Notifier, pc), nil
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when cleanup has finished or timed out.
func GracefulShutdown(logger *slog.Logger, timeout time.Duration, cleanup func()) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup()
			}
			close(finished)
		}()

		select {
		case <-finished:
			logger.Info("Shutdown complete")
		case <-time.After(timeout):
			logger.Warn("Shutdown timeout reached")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup ran.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
