package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	Monthly RecurrenceType = "monthly"
	Yearly  RecurrenceType = "yearly"
	Weekly  RecurrenceType = "weekly"
	Daily   RecurrenceType = "daily"
)

const (
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusDeferred Status = "deferred"
	StatusCanceled Status = "canceled"
)

// DateLayout is the wire and storage format of a calendar date.
const DateLayout = "2006-01-02"

type (
	RecurrenceType string

	Status string

	// Date is a calendar date with no time component, always stored at
	// midnight UTC so that comparisons and map keys behave.
	Date struct {
		time.Time
	}

	PaymentDefinition struct {
		ID                string
		UserID            string
		Title             string
		Category          string
		Amount            *decimal.Decimal // nil: variable amount, filled in later
		RecurrenceType    RecurrenceType
		RecurrenceDay     int  // weekday 0-6 (Sunday first) for weekly, day of month otherwise
		RecurrenceMonth   *int // 0-11, yearly only
		LastGeneratedDate *Date
	}

	Occurrence struct {
		ID           string
		DefinitionID *string // nil for manually created rows
		UserID       string
		Title        string
		Amount       decimal.Decimal
		Category     string
		DueDate      Date
		Status       Status
		CreatedAt    time.Time
	}
)

var (
	ErrInvalidDay        = errors.New("invalid day")
	ErrInvalidMonth      = errors.New("invalid month")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidDate       = errors.New("invalid date")
	ErrEmptyTitle        = errors.New("empty title")
	ErrInvalidRecurrence = errors.New("invalid recurrence")
)

// NewDate creates a new Date from year, month, day. Out of range values are
// normalized the way time.Date does it.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t as seen in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// Today returns the start of the current day in loc.
func Today(now time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.Local
	}
	return DateOf(now.In(loc))
}

// ParseDate parses an ISO calendar date (2006-01-02).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return DateOf(t), nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

// AddDays returns the date n days later.
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

// Before reports whether d is strictly before o.
func (d Date) Before(o Date) bool {
	return d.Time.Before(o.Time)
}

// After reports whether d is strictly after o.
func (d Date) After(o Date) bool {
	return d.Time.After(o.Time)
}

// Equal reports whether d and o are the same calendar date.
func (d Date) Equal(o Date) bool {
	return d.Time.Equal(o.Time)
}

// IsEmpty returns true if the date is zero
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

func (d Date) MarshalText() ([]byte, error) {
	if d.IsZero() {
		return []byte{}, nil
	}
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON overrides the promoted time.Time encoding.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		*d = Date{}
		return nil
	}
	return d.UnmarshalText([]byte(strings.Trim(s, `"`)))
}

// DaysIn returns the number of days of the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// IsKnown reports whether the engine has a dedicated rule for t. Unknown
// types are still generated, stepping monthly.
func (t RecurrenceType) IsKnown() bool {
	switch t {
	case Daily, Weekly, Monthly, Yearly:
		return true
	default:
		return false
	}
}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusDeferred, StatusCanceled:
		return true
	default:
		return false
	}
}

// Validate checks a definition before it is stored.
func (pd PaymentDefinition) Validate() error {
	if len(strings.TrimSpace(pd.Title)) == 0 {
		return ErrEmptyTitle
	}
	if len(pd.Title) > 200 {
		return errors.New("title too long (max 200 characters)")
	}
	return pd.ValidateRule()
}

// ValidateRule checks only the fields generation reads. An empty or unknown
// recurrence type is accepted and steps monthly.
func (pd PaymentDefinition) ValidateRule() error {
	if pd.Amount != nil && pd.Amount.IsNegative() {
		return ErrInvalidAmount
	}

	switch pd.RecurrenceType {
	case Weekly:
		if pd.RecurrenceDay < 0 || pd.RecurrenceDay > 6 {
			return fmt.Errorf("%w: weekday %d", ErrInvalidDay, pd.RecurrenceDay)
		}
	case Monthly:
		if pd.RecurrenceDay < 1 || pd.RecurrenceDay > 31 {
			return fmt.Errorf("%w: day of month %d", ErrInvalidDay, pd.RecurrenceDay)
		}
	case Yearly:
		if pd.RecurrenceDay < 1 || pd.RecurrenceDay > 31 {
			return fmt.Errorf("%w: day of month %d", ErrInvalidDay, pd.RecurrenceDay)
		}
		if pd.RecurrenceMonth != nil && (*pd.RecurrenceMonth < 0 || *pd.RecurrenceMonth > 11) {
			return fmt.Errorf("%w: %d", ErrInvalidMonth, *pd.RecurrenceMonth)
		}
	}

	return nil
}

// NewOccurrence materializes one pending occurrence of pd due on due.
// A variable amount definition yields a zero amount.
func NewOccurrence(pd PaymentDefinition, due Date, createdAt time.Time) Occurrence {
	amount := decimal.Zero
	if pd.Amount != nil {
		amount = *pd.Amount
	}
	defID := pd.ID
	return Occurrence{
		ID:           uuid.NewString(),
		DefinitionID: &defID,
		UserID:       pd.UserID,
		Title:        pd.Title,
		Amount:       amount,
		Category:     pd.Category,
		DueDate:      due,
		Status:       StatusPending,
		CreatedAt:    createdAt,
	}
}

func (o Occurrence) Validate() error {
	if err := o.DueDate.Validate(); err != nil {
		return err
	}
	if o.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	if !o.Status.IsValid() {
		return fmt.Errorf("invalid status %q", o.Status)
	}
	return nil
}
