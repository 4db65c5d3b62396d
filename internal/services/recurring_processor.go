package services

import (
	"context"
	"fmt"
	"os"
	"time"

	"paytrack/internal/core"
	applog "paytrack/internal/log"
	"paytrack/internal/schedule"
)

// SkipReason explains why a pass for a user did not run.
type SkipReason string

const (
	// SkipGateBusy means another pass was already running in this process.
	SkipGateBusy SkipReason = "gate_busy"
	// SkipLeaseHeld means another process holds the user's lease.
	SkipLeaseHeld SkipReason = "lease_held"
	// SkipLeaseError means the lease could not be checked.
	SkipLeaseError SkipReason = "lease_error"
)

// GenerationReport summarizes a single pass for one user. Failures are
// recorded here and logged; they are never returned to the trigger.
type GenerationReport struct {
	UserID            string     `json:"user_id"`
	Today             core.Date  `json:"today"`
	Skipped           SkipReason `json:"skipped,omitempty"`
	Aborted           bool       `json:"aborted,omitempty"`
	Definitions       int        `json:"definitions"`
	Inserted          int        `json:"inserted"`
	CursorsAdvanced   int        `json:"cursors_advanced"`
	FailedDefinitions []string   `json:"failed_definitions,omitempty"`
}

// Ran reports whether the pass got past the gate and the lease.
func (r GenerationReport) Ran() bool {
	return r.Skipped == ""
}

// ProcessorConfig configures a RecurringProcessor.
type ProcessorConfig struct {
	HorizonMonths int
	Overflow      schedule.OverflowPolicy
	// Location decides which calendar day "today" is.
	Location *time.Location
	LeaseTTL time.Duration
	// Holder identifies this process when it takes a lease.
	Holder string
	Now    func() time.Time
}

// DefaultProcessorConfig returns sensible defaults
func DefaultProcessorConfig() ProcessorConfig {
	host, _ := os.Hostname()
	return ProcessorConfig{
		HorizonMonths: schedule.DefaultHorizonMonths,
		Overflow:      schedule.Clamp,
		Location:      time.UTC,
		LeaseTTL:      5 * time.Minute,
		Holder:        fmt.Sprintf("%s-%d", host, os.Getpid()),
		Now:           time.Now,
	}
}

// RecurringProcessor materializes upcoming occurrences of recurring payment
// definitions and advances their cursors.
type RecurringProcessor struct {
	gateway  Gateway
	gate     Gate
	notifier Notifier
	planner  schedule.Planner
	config   ProcessorConfig
	logger   *applog.Logger
}

// NewRecurringProcessor creates a processor. A nil gate gets a private one;
// a nil notifier disables event publishing.
func NewRecurringProcessor(gateway Gateway, gate Gate, notifier Notifier, config ProcessorConfig) *RecurringProcessor {
	defaults := DefaultProcessorConfig()
	if config.Location == nil {
		config.Location = defaults.Location
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = defaults.LeaseTTL
	}
	if config.Holder == "" {
		config.Holder = defaults.Holder
	}
	if gate == nil {
		gate = NewGate()
	}

	return &RecurringProcessor{
		gateway:  gateway,
		gate:     gate,
		notifier: notifier,
		planner:  schedule.NewPlanner(config.Overflow, config.HorizonMonths),
		config:   config,
		logger:   applog.ForComponent(applog.ComponentGenerator),
	}
}

// Today returns the current calendar day in the configured location.
func (p *RecurringProcessor) Today() core.Date {
	return core.Today(p.config.Now(), p.config.Location)
}

// Preview returns the due dates a pass run on today would consider for def,
// before anything already stored is filtered out.
func (p *RecurringProcessor) Preview(def core.PaymentDefinition, today core.Date) []core.Date {
	return p.planner.Plan(def, today).Candidates
}

// Generate runs one generation pass for userID. A pass already in progress
// makes this call a no-op.
func (p *RecurringProcessor) Generate(ctx context.Context, userID string) GenerationReport {
	report := GenerationReport{UserID: userID}

	release, ok := p.gate.TryAcquire()
	if !ok {
		report.Skipped = SkipGateBusy
		p.logger.DebugContext(ctx, "Generation already running, skipping", applog.FieldUserID, userID)
		return report
	}
	defer release()

	now := p.config.Now()
	if leases, ok := p.gateway.(LeaseStore); ok {
		acquired, err := leases.AcquireLease(ctx, userID, p.config.Holder, p.config.LeaseTTL, now)
		if err != nil {
			report.Skipped = SkipLeaseError
			p.logger.LogError(ctx, "Failed to acquire generation lease", err, applog.OpLease,
				applog.NewFields().WithDefinition(userID, "", ""))
			return report
		}
		if !acquired {
			report.Skipped = SkipLeaseHeld
			p.logger.InfoContext(ctx, "Generation lease held elsewhere, skipping", applog.FieldUserID, userID)
			return report
		}
		defer func() {
			if err := leases.ReleaseLease(context.WithoutCancel(ctx), userID, p.config.Holder); err != nil {
				p.logger.WarnContext(ctx, "Failed to release generation lease",
					applog.FieldUserID, userID,
					applog.FieldError, err)
			}
		}()
	}

	today := core.Today(now, p.config.Location)
	report.Today = today

	defs, err := p.gateway.ListDefinitions(ctx, userID)
	if err != nil {
		report.Aborted = true
		p.logger.LogError(ctx, "Failed to list recurring definitions", err, applog.OpList,
			applog.NewFields().WithDefinition(userID, "", ""))
		return report
	}
	report.Definitions = len(defs)

	for _, def := range defs {
		if ctx.Err() != nil {
			report.Aborted = true
			p.logger.WarnContext(ctx, "Generation interrupted",
				applog.FieldUserID, userID,
				applog.FieldError, ctx.Err())
			break
		}

		inserted, advanced, err := p.processDefinition(ctx, def, today, now)
		report.Inserted += inserted
		if advanced {
			report.CursorsAdvanced++
		}
		if err != nil {
			report.FailedDefinitions = append(report.FailedDefinitions, def.ID)
		}
	}

	p.logger.InfoContext(ctx, "Generation pass complete",
		applog.FieldUserID, userID,
		applog.FieldToday, today.String(),
		"definitions", report.Definitions,
		applog.FieldInserted, report.Inserted,
		"cursors_advanced", report.CursorsAdvanced,
		"failed", len(report.FailedDefinitions))

	return report
}

// GenerateAll runs a pass for every user known to the gateway, one after
// the other.
func (p *RecurringProcessor) GenerateAll(ctx context.Context) ([]GenerationReport, error) {
	lister, ok := p.gateway.(UserLister)
	if !ok {
		return nil, fmt.Errorf("gateway %T cannot list users", p.gateway)
	}

	userIDs, err := lister.ListUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	reports := make([]GenerationReport, 0, len(userIDs))
	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		reports = append(reports, p.Generate(ctx, userID))
	}
	return reports, nil
}

// processDefinition handles one rule. The cursor is only written after the
// insert succeeded, so a failed insert is retried on the next pass.
func (p *RecurringProcessor) processDefinition(ctx context.Context, def core.PaymentDefinition, today core.Date, now time.Time) (int, bool, error) {
	fields := func() applog.LogFields {
		return applog.NewFields().WithDefinition(def.UserID, def.ID, string(def.RecurrenceType))
	}

	if err := def.ValidateRule(); err != nil {
		p.logger.WarnContext(ctx, "Skipping invalid recurring definition", fields().WithError(err).ToSlice()...)
		return 0, false, err
	}

	plan := p.planner.Plan(def, today)
	last, ok := plan.LastConsidered()
	if !ok {
		p.logger.DebugContext(ctx, "No due dates inside window",
			fields().WithOperation(applog.OpPlan).ToSlice()...)
		return 0, false, nil
	}

	existing, err := p.gateway.ListOccurrenceDates(ctx, def.ID, today)
	if err != nil {
		p.logger.LogError(ctx, "Failed to list existing occurrences", err, applog.OpList, fields())
		return 0, false, err
	}

	missing := schedule.FilterExisting(plan.Candidates, existing)
	inserted := 0
	if len(missing) > 0 {
		rows := make([]core.Occurrence, 0, len(missing))
		for _, due := range missing {
			rows = append(rows, core.NewOccurrence(def, due, now))
		}

		stored, err := p.gateway.InsertOccurrences(ctx, rows)
		if err != nil {
			p.logger.LogError(ctx, "Failed to insert occurrences", err, applog.OpInsert, fields())
			return 0, false, err
		}
		inserted = len(stored)
		if inserted > 0 {
			// only rows that reached storage are announced; another writer may
			// have stored the rest since the dates were read
			p.notify(ctx, def, stored)

			f := fields()
			f[applog.FieldInserted] = inserted
			f[applog.FieldDueDate] = stored[0].DueDate.String()
			p.logger.InfoContext(ctx, "Generated occurrences", f.ToSlice()...)
		}
	}

	if def.LastGeneratedDate != nil && !last.After(*def.LastGeneratedDate) {
		return inserted, false, nil
	}
	if err := p.gateway.UpdateDefinitionCursor(ctx, def.ID, last); err != nil {
		// Rows are already stored; the next pass finds them and only retries
		// the cursor.
		p.logger.LogError(ctx, "Failed to advance cursor", err, applog.OpUpdate, fields())
		return inserted, false, err
	}
	return inserted, true, nil
}

func (p *RecurringProcessor) notify(ctx context.Context, def core.PaymentDefinition, rows []core.Occurrence) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.OccurrencesGenerated(ctx, def.UserID, def.ID, rows); err != nil {
		p.logger.WarnContext(ctx, "Failed to publish generated occurrences",
			applog.FieldDefinitionID, def.ID,
			applog.FieldError, err)
	}
}
