package services

import (
	"context"
	"time"

	"paytrack/internal/core"
)

// Ports for the persistence and notification adapters used by the generator.
type (
	// Gateway is the storage the generation pass reads rules from and writes
	// occurrences and cursors to.
	Gateway interface {
		// ListDefinitions returns every recurring definition owned by userID.
		ListDefinitions(ctx context.Context, userID string) ([]core.PaymentDefinition, error)
		// ListOccurrenceDates returns due dates already stored for the
		// definition on or after the given date.
		ListOccurrenceDates(ctx context.Context, definitionID string, onOrAfter core.Date) ([]core.Date, error)
		// InsertOccurrences stores rows as one batch and returns the rows it
		// stored. A (definition, due date) pair that already exists is skipped
		// rather than reported.
		InsertOccurrences(ctx context.Context, rows []core.Occurrence) ([]core.Occurrence, error)
		// UpdateDefinitionCursor moves last_generated_date forward. It never
		// moves it back.
		UpdateDefinitionCursor(ctx context.Context, definitionID string, date core.Date) error
	}

	// UserLister enumerates users owning at least one definition.
	UserLister interface {
		ListUserIDs(ctx context.Context) ([]string, error)
	}

	// LeaseStore provides a per-user lock shared between processes.
	LeaseStore interface {
		AcquireLease(ctx context.Context, userID, holder string, ttl time.Duration, now time.Time) (bool, error)
		ReleaseLease(ctx context.Context, userID, holder string) error
	}

	// Notifier is told about occurrences once they are stored.
	Notifier interface {
		OccurrencesGenerated(ctx context.Context, userID, definitionID string, rows []core.Occurrence) error
	}
)
