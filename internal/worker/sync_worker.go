package worker

import (
	"context"
	"fmt"
	"log/slog"

	"paytrack/internal/amqp"
	"paytrack/internal/cache"
	"paytrack/internal/core"
	"paytrack/internal/sheets"
)

// OccurrenceSource is the read side of the storage gateway used for the
// startup backfill.
type OccurrenceSource interface {
	ListUserIDs(ctx context.Context) ([]string, error)
	ListOccurrences(ctx context.Context, userID string) ([]core.Occurrence, error)
}

// SyncWorker mirrors generated occurrences into a sheet. Occurrence IDs
// already written are remembered in seen, so broker redeliveries and the
// backfill do not hit the sheet twice.
type SyncWorker struct {
	writer sheets.OccurrenceWriter
	seen   cache.Cache[string]
}

func NewSyncWorker(writer sheets.OccurrenceWriter, seen cache.Cache[string]) *SyncWorker {
	return &SyncWorker{writer: writer, seen: seen}
}

// HandleOccurrencesGenerated processes a single occurrence event from AMQP.
// A write failure is returned so the message gets requeued; rows written
// before the failure are skipped on redelivery.
func (w *SyncWorker) HandleOccurrencesGenerated(ctx context.Context, msg *amqp.OccurrencesGeneratedMessage) error {
	slog.InfoContext(ctx, "Processing occurrence event",
		"user_id", msg.UserID,
		"definition_id", msg.DefinitionID,
		"count", len(msg.Occurrences))

	written, skipped := 0, 0
	for _, o := range msg.ToOccurrences() {
		ok, err := w.mirror(ctx, o)
		if err != nil {
			return fmt.Errorf("mirror occurrence %s: %w", o.ID, err)
		}
		if ok {
			written++
		} else {
			skipped++
		}
	}

	slog.InfoContext(ctx, "Occurrence event mirrored",
		"definition_id", msg.DefinitionID,
		"written", written,
		"skipped", skipped)
	return nil
}

// Backfill mirrors every stored occurrence not yet seen by this worker. It
// recovers events lost while the worker was down. Per-row failures are
// logged and counted, not returned.
func (w *SyncWorker) Backfill(ctx context.Context, source OccurrenceSource) (int, error) {
	users, err := source.ListUserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users for backfill: %w", err)
	}

	synced, failed := 0, 0
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return synced, err
		}

		rows, err := source.ListOccurrences(ctx, userID)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to list occurrences for backfill", "user_id", userID, "error", err)
			failed++
			continue
		}

		for _, o := range rows {
			ok, err := w.mirror(ctx, o)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to mirror occurrence during backfill",
					"occurrence_id", o.ID, "error", err)
				failed++
				continue
			}
			if ok {
				synced++
			}
		}
	}

	slog.InfoContext(ctx, "Backfill completed",
		"users", len(users),
		"synced", synced,
		"errors", failed)
	return synced, nil
}

// mirror writes o unless it was written before. It reports whether a write
// happened.
func (w *SyncWorker) mirror(ctx context.Context, o core.Occurrence) (bool, error) {
	if ref, ok := w.seen.Get(o.ID); ok {
		slog.DebugContext(ctx, "Occurrence already mirrored", "occurrence_id", o.ID, "row_ref", ref)
		return false, nil
	}

	ref, err := w.writer.Append(ctx, o)
	if err != nil {
		return false, err
	}
	w.seen.Set(o.ID, ref)

	slog.DebugContext(ctx, "Occurrence mirrored", "occurrence_id", o.ID, "row_ref", ref)
	return true, nil
}
