package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paytrack/internal/core"
)

func monthly(id, user string, day int) core.PaymentDefinition {
	amount := decimal.RequireFromString("12.50")
	return core.PaymentDefinition{
		ID:             id,
		UserID:         user,
		Title:          "Rent " + id,
		Amount:         &amount,
		RecurrenceType: core.Monthly,
		RecurrenceDay:  day,
	}
}

func TestStore_ListDefinitionsByUser(t *testing.T) {
	s := New(monthly("d1", "u1", 1), monthly("d2", "u2", 2), monthly("d3", "u1", 3))

	defs, err := s.ListDefinitions(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "d1", defs[0].ID)
	assert.Equal(t, "d3", defs[1].ID)

	users, err := s.ListUserIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, users)
}

func TestStore_DefinitionsAreCopied(t *testing.T) {
	s := New(monthly("d1", "u1", 1))

	defs, _ := s.ListDefinitions(context.Background(), "u1")
	*defs[0].Amount = decimal.NewFromInt(999)

	stored, ok := s.Definition("d1")
	require.True(t, ok)
	assert.Equal(t, "12.5", stored.Amount.String())
}

func TestStore_InsertSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	def := monthly("d1", "u1", 15)
	s := New(def)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	first := []core.Occurrence{
		core.NewOccurrence(def, core.NewDate(2024, 3, 15), now),
		core.NewOccurrence(def, core.NewDate(2024, 4, 15), now),
	}
	stored, err := s.InsertOccurrences(ctx, first)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	stored, err = s.InsertOccurrences(ctx, []core.Occurrence{
		core.NewOccurrence(def, core.NewDate(2024, 4, 15), now),
		core.NewOccurrence(def, core.NewDate(2024, 5, 15), now),
	})
	require.NoError(t, err)
	require.Len(t, stored, 1, "only the new date is reported as stored")
	assert.Equal(t, "2024-05-15", stored[0].DueDate.String())

	items, err := s.ListOccurrences(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 3)

	dates, err := s.ListOccurrenceDates(ctx, "d1", core.NewDate(2024, 4, 1))
	require.NoError(t, err)
	assert.Len(t, dates, 2)
}

func TestStore_InsertRejectsWholeBatch(t *testing.T) {
	ctx := context.Background()
	def := monthly("d1", "u1", 15)
	s := New(def)

	good := core.NewOccurrence(def, core.NewDate(2024, 3, 15), time.Now())
	bad := core.NewOccurrence(def, core.NewDate(2024, 4, 15), time.Now())
	bad.Amount = decimal.NewFromInt(-1)

	_, err := s.InsertOccurrences(ctx, []core.Occurrence{good, bad})
	require.ErrorIs(t, err, core.ErrInvalidAmount)

	items, _ := s.ListOccurrences(ctx, "u1")
	assert.Empty(t, items)
}

func TestStore_CursorOnlyMovesForward(t *testing.T) {
	ctx := context.Background()
	s := New(monthly("d1", "u1", 15))

	require.NoError(t, s.UpdateDefinitionCursor(ctx, "d1", core.NewDate(2024, 8, 15)))
	require.NoError(t, s.UpdateDefinitionCursor(ctx, "d1", core.NewDate(2024, 5, 15)))
	require.NoError(t, s.UpdateDefinitionCursor(ctx, "missing", core.NewDate(2024, 5, 15)))

	def, _ := s.Definition("d1")
	require.NotNil(t, def.LastGeneratedDate)
	assert.Equal(t, "2024-08-15", def.LastGeneratedDate.String())
}

func TestStore_Leases(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	ok, err := s.AcquireLease(ctx, "u1", "a", time.Minute, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = s.AcquireLease(ctx, "u1", "b", time.Minute, now.Add(30*time.Second))
	assert.False(t, ok, "lease held by a")

	ok, _ = s.AcquireLease(ctx, "u1", "b", time.Minute, now.Add(2*time.Minute))
	assert.True(t, ok, "expired lease can be taken over")

	require.NoError(t, s.ReleaseLease(ctx, "u1", "a"))
	ok, _ = s.AcquireLease(ctx, "u1", "a", time.Minute, now.Add(2*time.Minute))
	assert.False(t, ok, "release by a non-holder is ignored")

	require.NoError(t, s.ReleaseLease(ctx, "u1", "b"))
	ok, _ = s.AcquireLease(ctx, "u1", "a", time.Minute, now.Add(2*time.Minute))
	assert.True(t, ok)
}
