package backend

import (
	"context"

	"paytrack/internal/amqp"
	"paytrack/internal/core"
	"paytrack/internal/services"
)

// Backend is the storage gateway together with the operator operations the
// CLI needs.
type Backend interface {
	services.Gateway
	services.UserLister
	services.LeaseStore

	InsertDefinition(ctx context.Context, def core.PaymentDefinition) error
	ListOccurrences(ctx context.Context, userID string) ([]core.Occurrence, error)
	Ping(ctx context.Context) error
	Close() error
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function
type BackendResult struct {
	Backend Backend
	// AMQP is nil when no broker is configured or it was unreachable.
	AMQP *amqp.Client
	// Notifier publishes generated occurrences; nil without AMQP.
	Notifier services.Notifier
	Cleanup  CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Optional event bus
	AMQPURL          string
	AMQPExchange     string
	AMQPTriggerQueue string
	AMQPEventsQueue  string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
