package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"paytrack/internal/adapters"
	"paytrack/internal/amqp"
	"paytrack/internal/storage"
	"paytrack/internal/storage/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		gateway Backend
		err     error
	)
	switch config.Type {
	case SQLiteBackend:
		gateway, err = f.createSQLiteBackend(config)
	case MemoryBackend:
		gateway = f.createMemoryBackend()
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	result := &BackendResult{Backend: gateway}
	f.attachAMQP(ctx, config, result)

	result.Cleanup = func() error {
		var errs []error
		if result.AMQP != nil {
			errs = append(errs, result.AMQP.Close())
		}
		errs = append(errs, gateway.Close())
		return errors.Join(errs...)
	}

	return result, nil
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (Backend, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	return repo, nil
}

func (f *DefaultFactory) createMemoryBackend() Backend {
	f.logger.Info("Initialized memory backend")
	return memory.New()
}

// attachAMQP connects the optional event bus. A broker that cannot be reached
// leaves the backend usable without events.
func (f *DefaultFactory) attachAMQP(_ context.Context, config Config, result *BackendResult) {
	if config.AMQPURL == "" {
		return
	}

	queues := []string{config.AMQPEventsQueue}
	if config.AMQPTriggerQueue != "" {
		queues = append(queues, config.AMQPTriggerQueue)
	}

	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, queues...)
	if err != nil {
		f.logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
		return
	}

	result.AMQP = client
	result.Notifier = adapters.NewAMQPNotifier(client, config.AMQPEventsQueue)
	f.logger.Info("Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"queues", queues)
}
