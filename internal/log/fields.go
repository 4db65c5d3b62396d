package log

import "sort"

// Common field names for structured logging
const (
	FieldComponent    = "component"
	FieldRequestID    = "request_id"
	FieldClientIP     = "client_ip"
	FieldMethod       = "method"
	FieldPath         = "path"
	FieldStatusCode   = "status_code"
	FieldDuration     = "duration_ms"
	FieldError        = "error"
	FieldOperation    = "operation"
	FieldUserID       = "user_id"
	FieldDefinitionID = "definition_id"
	FieldRecurrence   = "recurrence_type"
	FieldDueDate      = "due_date"
	FieldCursor       = "last_generated_date"
	FieldCandidates   = "candidates"
	FieldInserted     = "inserted"
	FieldToday        = "today"
	FieldHorizon      = "horizon"
	FieldOccurrenceID = "occurrence_id"
	FieldSheetsRef    = "sheets_ref"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentGenerator = "generator"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentCLI       = "cli"
	ComponentTrace     = "trace"
	ComponentBackend   = "backend"
)

// Operations defines standard operation names
const (
	OpList     = "list"
	OpInsert   = "insert"
	OpUpdate   = "update"
	OpPlan     = "plan"
	OpLease    = "lease"
	OpPublish  = "publish"
	OpConsume  = "consume"
	OpAppend   = "append"
	OpValidate = "validate"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithRequestID adds request ID field
func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithDefinition adds the fields identifying a recurring definition
func (f LogFields) WithDefinition(userID, definitionID, recurrence string) LogFields {
	f[FieldUserID] = userID
	f[FieldDefinitionID] = definitionID
	f[FieldRecurrence] = recurrence
	return f
}

// ToSlice converts LogFields to a slice for slog, ordered by key so output
// is stable.
func (f LogFields) ToSlice() []any {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	slice := make([]any, 0, len(f)*2)
	for _, k := range keys {
		slice = append(slice, k, f[k])
	}
	return slice
}
