package sheets

import (
	"context"

	"paytrack/internal/core"
)

// Ports for outbound adapters.
type (
	// OccurrenceWriter mirrors a generated occurrence to an external sheet.
	// Writing the same occurrence twice must not create a second row.
	OccurrenceWriter interface {
		Append(ctx context.Context, o core.Occurrence) (rowRef string, err error)
	}
)
