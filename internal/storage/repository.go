package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"paytrack/internal/core"

	_ "modernc.org/sqlite"
)

// timestampLayout is fixed width so stored timestamps sort as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	repo := &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     time.Now,
	}

	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks that the database still answers.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// ListDefinitions implements services.Gateway
func (r *SQLiteRepository) ListDefinitions(ctx context.Context, userID string) ([]core.PaymentDefinition, error) {
	rows, err := r.queries.ListDefinitionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list definitions for %s: %w", userID, err)
	}

	defs := make([]core.PaymentDefinition, 0, len(rows))
	for _, row := range rows {
		def, err := definitionFromRow(row)
		if err != nil {
			// A corrupt row must not hide the others from the generator
			slog.WarnContext(ctx, "Skipping unreadable definition row",
				"definition_id", row.ID,
				"error", err)
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// GetDefinition returns a single definition by id
func (r *SQLiteRepository) GetDefinition(ctx context.Context, id string) (core.PaymentDefinition, error) {
	row, err := r.queries.GetDefinition(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.PaymentDefinition{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return core.PaymentDefinition{}, fmt.Errorf("get definition %s: %w", id, err)
	}
	return definitionFromRow(row)
}

// InsertDefinition creates or updates a definition. An existing cursor is
// left untouched.
func (r *SQLiteRepository) InsertDefinition(ctx context.Context, def core.PaymentDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("definition id is required")
	}
	if err := def.Validate(); err != nil {
		return fmt.Errorf("definition %s: %w", def.ID, err)
	}

	now := r.now().UTC().Format(timestampLayout)
	params := UpsertDefinitionParams{
		ID:             def.ID,
		UserID:         def.UserID,
		Title:          def.Title,
		Category:       def.Category,
		RecurrenceType: string(def.RecurrenceType),
		RecurrenceDay:  int64(def.RecurrenceDay),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if def.Amount != nil {
		params.Amount = sql.NullString{String: def.Amount.String(), Valid: true}
	}
	if def.RecurrenceMonth != nil {
		params.RecurrenceMonth = sql.NullInt64{Int64: int64(*def.RecurrenceMonth), Valid: true}
	}
	if def.LastGeneratedDate != nil {
		params.LastGeneratedDate = sql.NullString{String: def.LastGeneratedDate.String(), Valid: true}
	}

	if err := r.queries.UpsertDefinition(ctx, params); err != nil {
		return fmt.Errorf("upsert definition %s: %w", def.ID, err)
	}
	return nil
}

// ListOccurrenceDates implements services.Gateway
func (r *SQLiteRepository) ListOccurrenceDates(ctx context.Context, definitionID string, onOrAfter core.Date) ([]core.Date, error) {
	raw, err := r.queries.ListDueDatesFrom(ctx, ListDueDatesFromParams{
		DefinitionID: definitionID,
		OnOrAfter:    onOrAfter.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("list due dates for %s: %w", definitionID, err)
	}

	dates := make([]core.Date, 0, len(raw))
	for _, s := range raw {
		d, err := core.ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("definition %s: %w", definitionID, err)
		}
		dates = append(dates, d)
	}
	return dates, nil
}

// InsertOccurrences implements services.Gateway. The batch is written in a
// single transaction; rows colliding on (definition_id, due_date) are skipped
// and left out of the returned slice.
func (r *SQLiteRepository) InsertOccurrences(ctx context.Context, rows []core.Occurrence) ([]core.Occurrence, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	for _, o := range rows {
		if err := o.Validate(); err != nil {
			return nil, fmt.Errorf("occurrence %s: %w", o.ID, err)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	q := r.queries.WithTx(tx)
	stored := make([]core.Occurrence, 0, len(rows))
	for _, o := range rows {
		params := InsertTransactionParams{
			ID:        o.ID,
			UserID:    o.UserID,
			Title:     o.Title,
			Amount:    o.Amount.StringFixed(2),
			Category:  o.Category,
			DueDate:   o.DueDate.String(),
			Status:    string(o.Status),
			CreatedAt: o.CreatedAt.UTC().Format(timestampLayout),
		}
		if o.DefinitionID != nil {
			params.DefinitionID = sql.NullString{String: *o.DefinitionID, Valid: true}
		}
		n, err := q.InsertTransaction(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("insert occurrence %s due %s: %w", o.ID, o.DueDate, err)
		}
		if n > 0 {
			stored = append(stored, o)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit occurrences: %w", err)
	}

	if skipped := len(rows) - len(stored); skipped > 0 {
		slog.DebugContext(ctx, "Skipped duplicate occurrences", "skipped", skipped)
	}
	return stored, nil
}

// UpdateDefinitionCursor implements services.Gateway. The WHERE clause keeps
// the cursor from moving backwards.
func (r *SQLiteRepository) UpdateDefinitionCursor(ctx context.Context, definitionID string, date core.Date) error {
	_, err := r.queries.AdvanceDefinitionCursor(ctx, AdvanceDefinitionCursorParams{
		LastGeneratedDate: date.String(),
		UpdatedAt:         r.now().UTC().Format(timestampLayout),
		ID:                definitionID,
	})
	if err != nil {
		return fmt.Errorf("advance cursor for %s: %w", definitionID, err)
	}
	return nil
}

// ListUserIDs implements services.UserLister
func (r *SQLiteRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	ids, err := r.queries.ListUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return ids, nil
}

// ListOccurrences returns every occurrence of userID ordered by due date
func (r *SQLiteRepository) ListOccurrences(ctx context.Context, userID string) ([]core.Occurrence, error) {
	rows, err := r.queries.ListTransactionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list occurrences for %s: %w", userID, err)
	}

	out := make([]core.Occurrence, 0, len(rows))
	for _, row := range rows {
		o, err := occurrenceFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// AcquireLease implements services.LeaseStore
func (r *SQLiteRepository) AcquireLease(ctx context.Context, userID, holder string, ttl time.Duration, now time.Time) (bool, error) {
	n, err := r.queries.AcquireLease(ctx, AcquireLeaseParams{
		UserID:    userID,
		Holder:    holder,
		ExpiresAt: now.Add(ttl).UnixMilli(),
		Now:       now.UnixMilli(),
	})
	if err != nil {
		return false, fmt.Errorf("acquire lease for %s: %w", userID, err)
	}
	return n > 0, nil
}

// ReleaseLease implements services.LeaseStore
func (r *SQLiteRepository) ReleaseLease(ctx context.Context, userID, holder string) error {
	if err := r.queries.ReleaseLease(ctx, ReleaseLeaseParams{UserID: userID, Holder: holder}); err != nil {
		return fmt.Errorf("release lease for %s: %w", userID, err)
	}
	return nil
}

func definitionFromRow(row PaymentDefinition) (core.PaymentDefinition, error) {
	def := core.PaymentDefinition{
		ID:             row.ID,
		UserID:         row.UserID,
		Title:          row.Title,
		Category:       row.Category,
		RecurrenceType: core.RecurrenceType(row.RecurrenceType),
		RecurrenceDay:  int(row.RecurrenceDay),
	}
	if row.Amount.Valid {
		amount, err := decimal.NewFromString(row.Amount.String)
		if err != nil {
			return def, fmt.Errorf("parse amount %q: %w", row.Amount.String, err)
		}
		def.Amount = &amount
	}
	if row.RecurrenceMonth.Valid {
		m := int(row.RecurrenceMonth.Int64)
		def.RecurrenceMonth = &m
	}
	if row.LastGeneratedDate.Valid {
		d, err := core.ParseDate(row.LastGeneratedDate.String)
		if err != nil {
			return def, fmt.Errorf("parse last_generated_date: %w", err)
		}
		def.LastGeneratedDate = &d
	}
	return def, nil
}

func occurrenceFromRow(row Transaction) (core.Occurrence, error) {
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return core.Occurrence{}, fmt.Errorf("occurrence %s: parse amount: %w", row.ID, err)
	}
	due, err := core.ParseDate(row.DueDate)
	if err != nil {
		return core.Occurrence{}, fmt.Errorf("occurrence %s: %w", row.ID, err)
	}
	createdAt, err := time.Parse(timestampLayout, row.CreatedAt)
	if err != nil {
		return core.Occurrence{}, fmt.Errorf("occurrence %s: parse created_at: %w", row.ID, err)
	}

	o := core.Occurrence{
		ID:        row.ID,
		UserID:    row.UserID,
		Title:     row.Title,
		Amount:    amount,
		Category:  row.Category,
		DueDate:   due,
		Status:    core.Status(row.Status),
		CreatedAt: createdAt,
	}
	if row.DefinitionID.Valid {
		id := row.DefinitionID.String
		o.DefinitionID = &id
	}
	return o, nil
}
