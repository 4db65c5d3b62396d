package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const listDefinitionsByUser = `
SELECT id, user_id, title, category, amount, recurrence_type, recurrence_day,
       recurrence_month, last_generated_date, created_at, updated_at
FROM payment_definitions
WHERE user_id = ?
ORDER BY created_at, rowid
`

func (q *Queries) ListDefinitionsByUser(ctx context.Context, userID string) ([]PaymentDefinition, error) {
	rows, err := q.db.QueryContext(ctx, listDefinitionsByUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PaymentDefinition
	for rows.Next() {
		var i PaymentDefinition
		if err := rows.Scan(
			&i.ID,
			&i.UserID,
			&i.Title,
			&i.Category,
			&i.Amount,
			&i.RecurrenceType,
			&i.RecurrenceDay,
			&i.RecurrenceMonth,
			&i.LastGeneratedDate,
			&i.CreatedAt,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getDefinition = `
SELECT id, user_id, title, category, amount, recurrence_type, recurrence_day,
       recurrence_month, last_generated_date, created_at, updated_at
FROM payment_definitions
WHERE id = ?
`

func (q *Queries) GetDefinition(ctx context.Context, id string) (PaymentDefinition, error) {
	row := q.db.QueryRowContext(ctx, getDefinition, id)
	var i PaymentDefinition
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.Title,
		&i.Category,
		&i.Amount,
		&i.RecurrenceType,
		&i.RecurrenceDay,
		&i.RecurrenceMonth,
		&i.LastGeneratedDate,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const upsertDefinition = `
INSERT INTO payment_definitions (
    id, user_id, title, category, amount, recurrence_type, recurrence_day,
    recurrence_month, last_generated_date, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    user_id = excluded.user_id,
    title = excluded.title,
    category = excluded.category,
    amount = excluded.amount,
    recurrence_type = excluded.recurrence_type,
    recurrence_day = excluded.recurrence_day,
    recurrence_month = excluded.recurrence_month,
    updated_at = excluded.updated_at
`

type UpsertDefinitionParams struct {
	ID                string
	UserID            string
	Title             string
	Category          string
	Amount            sql.NullString
	RecurrenceType    string
	RecurrenceDay     int64
	RecurrenceMonth   sql.NullInt64
	LastGeneratedDate sql.NullString
	CreatedAt         string
	UpdatedAt         string
}

func (q *Queries) UpsertDefinition(ctx context.Context, arg UpsertDefinitionParams) error {
	_, err := q.db.ExecContext(ctx, upsertDefinition,
		arg.ID,
		arg.UserID,
		arg.Title,
		arg.Category,
		arg.Amount,
		arg.RecurrenceType,
		arg.RecurrenceDay,
		arg.RecurrenceMonth,
		arg.LastGeneratedDate,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return err
}

const advanceDefinitionCursor = `
UPDATE payment_definitions
SET last_generated_date = ?1, updated_at = ?2
WHERE id = ?3 AND (last_generated_date IS NULL OR last_generated_date < ?1)
`

type AdvanceDefinitionCursorParams struct {
	LastGeneratedDate string
	UpdatedAt         string
	ID                string
}

func (q *Queries) AdvanceDefinitionCursor(ctx context.Context, arg AdvanceDefinitionCursorParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, advanceDefinitionCursor, arg.LastGeneratedDate, arg.UpdatedAt, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listUserIDs = `
SELECT DISTINCT user_id FROM payment_definitions ORDER BY user_id
`

func (q *Queries) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listUserIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		items = append(items, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listDueDatesFrom = `
SELECT due_date FROM transactions
WHERE definition_id = ? AND due_date >= ?
ORDER BY due_date
`

type ListDueDatesFromParams struct {
	DefinitionID string
	OnOrAfter    string
}

func (q *Queries) ListDueDatesFrom(ctx context.Context, arg ListDueDatesFromParams) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listDueDatesFrom, arg.DefinitionID, arg.OnOrAfter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var dueDate string
		if err := rows.Scan(&dueDate); err != nil {
			return nil, err
		}
		items = append(items, dueDate)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// Any uniqueness conflict, including the partial (definition_id, due_date)
// index, turns the row into a no-op.
const insertTransaction = `
INSERT INTO transactions (
    id, definition_id, user_id, title, amount, category, due_date, status, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING
`

type InsertTransactionParams struct {
	ID           string
	DefinitionID sql.NullString
	UserID       string
	Title        string
	Amount       string
	Category     string
	DueDate      string
	Status       string
	CreatedAt    string
}

func (q *Queries) InsertTransaction(ctx context.Context, arg InsertTransactionParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertTransaction,
		arg.ID,
		arg.DefinitionID,
		arg.UserID,
		arg.Title,
		arg.Amount,
		arg.Category,
		arg.DueDate,
		arg.Status,
		arg.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listTransactionsByUser = `
SELECT id, definition_id, user_id, title, amount, category, due_date, status, created_at
FROM transactions
WHERE user_id = ?
ORDER BY due_date, created_at, id
`

func (q *Queries) ListTransactionsByUser(ctx context.Context, userID string) ([]Transaction, error) {
	rows, err := q.db.QueryContext(ctx, listTransactionsByUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Transaction
	for rows.Next() {
		var i Transaction
		if err := rows.Scan(
			&i.ID,
			&i.DefinitionID,
			&i.UserID,
			&i.Title,
			&i.Amount,
			&i.Category,
			&i.DueDate,
			&i.Status,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// The upsert only takes over a lease that is ours or has expired; otherwise
// no row changes.
const acquireLease = `
INSERT INTO generation_leases (user_id, holder, expires_at)
VALUES (?1, ?2, ?3)
ON CONFLICT(user_id) DO UPDATE SET
    holder = excluded.holder,
    expires_at = excluded.expires_at
WHERE generation_leases.holder = excluded.holder OR generation_leases.expires_at <= ?4
`

type AcquireLeaseParams struct {
	UserID    string
	Holder    string
	ExpiresAt int64
	Now       int64
}

func (q *Queries) AcquireLease(ctx context.Context, arg AcquireLeaseParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, acquireLease, arg.UserID, arg.Holder, arg.ExpiresAt, arg.Now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const releaseLease = `
DELETE FROM generation_leases WHERE user_id = ? AND holder = ?
`

type ReleaseLeaseParams struct {
	UserID string
	Holder string
}

func (q *Queries) ReleaseLease(ctx context.Context, arg ReleaseLeaseParams) error {
	_, err := q.db.ExecContext(ctx, releaseLease, arg.UserID, arg.Holder)
	return err
}
