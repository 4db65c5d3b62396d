package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"paytrack/internal/core"
	ports "paytrack/internal/sheets"
)

var (
	_ ports.OccurrenceWriter = (*Store)(nil)
	_ ports.OccurrenceWriter = (*LogWriter)(nil)
)

// Store keeps mirrored occurrences in memory. Writing the same occurrence
// ID twice returns the original row reference.
type Store struct {
	mu    sync.Mutex
	items []core.Occurrence
	refs  map[string]string
}

func New() *Store {
	return &Store{refs: map[string]string{}}
}

// Append stores the occurrence and returns a synthetic row reference.
func (s *Store) Append(_ context.Context, o core.Occurrence) (string, error) {
	if err := o.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref, ok := s.refs[o.ID]; ok {
		return ref, nil
	}
	s.items = append(s.items, o)
	ref := fmt.Sprintf("mem:%d", len(s.items))
	s.refs[o.ID] = ref
	return ref, nil
}

// Items returns a copy of everything written so far, in write order.
func (s *Store) Items() []core.Occurrence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Occurrence(nil), s.items...)
}

// LogWriter only logs occurrences. It is the default sink when no
// spreadsheet is configured.
type LogWriter struct {
	logger *slog.Logger
	mu     sync.Mutex
	n      int
}

func NewLogWriter(logger *slog.Logger) *LogWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Append(ctx context.Context, o core.Occurrence) (string, error) {
	if err := o.Validate(); err != nil {
		return "", err
	}
	w.mu.Lock()
	w.n++
	ref := fmt.Sprintf("log:%d", w.n)
	w.mu.Unlock()

	defID := ""
	if o.DefinitionID != nil {
		defID = *o.DefinitionID
	}
	w.logger.InfoContext(ctx, "Occurrence",
		"occurrence_id", o.ID,
		"definition_id", defID,
		"user_id", o.UserID,
		"title", o.Title,
		"amount", core.FormatAmount(o.Amount),
		"due_date", o.DueDate.String(),
		"status", string(o.Status),
		"row_ref", ref)
	return ref, nil
}
