package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"paytrack/internal/core"
	"paytrack/internal/schedule"
	"paytrack/internal/storage/memory"
)

var march1 = time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func testConfig(now time.Time) ProcessorConfig {
	return ProcessorConfig{
		HorizonMonths: 6,
		Overflow:      schedule.Clamp,
		Location:      time.UTC,
		LeaseTTL:      time.Minute,
		Holder:        "test",
		Now:           fixedClock(now),
	}
}

func amountPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func monthlyDef(id string, day int) core.PaymentDefinition {
	return core.PaymentDefinition{
		ID:             id,
		UserID:         "u1",
		Title:          "Rent",
		Category:       "home",
		Amount:         amountPtr("850.00"),
		RecurrenceType: core.Monthly,
		RecurrenceDay:  day,
	}
}

func dueDates(items []core.Occurrence) []string {
	out := make([]string, 0, len(items))
	for _, o := range items {
		out = append(out, o.DueDate.String())
	}
	return out
}

// mockGateway is a testify mock of Gateway without leases or user listing.
type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) ListDefinitions(ctx context.Context, userID string) ([]core.PaymentDefinition, error) {
	args := m.Called(ctx, userID)
	defs, _ := args.Get(0).([]core.PaymentDefinition)
	return defs, args.Error(1)
}

func (m *mockGateway) ListOccurrenceDates(ctx context.Context, definitionID string, onOrAfter core.Date) ([]core.Date, error) {
	args := m.Called(ctx, definitionID, onOrAfter)
	dates, _ := args.Get(0).([]core.Date)
	return dates, args.Error(1)
}

// InsertOccurrences reports every row as stored unless the expectation
// returns an error.
func (m *mockGateway) InsertOccurrences(ctx context.Context, rows []core.Occurrence) ([]core.Occurrence, error) {
	if err := m.Called(ctx, rows).Error(0); err != nil {
		return nil, err
	}
	return rows, nil
}

func (m *mockGateway) UpdateDefinitionCursor(ctx context.Context, definitionID string, date core.Date) error {
	return m.Called(ctx, definitionID, date).Error(0)
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (n *recordingNotifier) OccurrencesGenerated(_ context.Context, _, definitionID string, rows []core.Occurrence) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.calls == nil {
		n.calls = map[string]int{}
	}
	n.calls[definitionID] += len(rows)
	return n.err
}

// flakyCursorStore fails the first cursor update it sees.
type flakyCursorStore struct {
	*memory.Store
	failed bool
}

func (f *flakyCursorStore) UpdateDefinitionCursor(ctx context.Context, id string, date core.Date) error {
	if !f.failed {
		f.failed = true
		return errors.New("database is locked")
	}
	return f.Store.UpdateDefinitionCursor(ctx, id, date)
}

func TestDefaultProcessorConfig(t *testing.T) {
	config := DefaultProcessorConfig()

	assert.Equal(t, 6, config.HorizonMonths)
	assert.Equal(t, schedule.Clamp, config.Overflow)
	assert.Equal(t, time.UTC, config.Location)
	assert.NotEmpty(t, config.Holder)
	assert.NotNil(t, config.Now)
}

func TestGenerate_MonthlyFromEmptyStore(t *testing.T) {
	ctx := context.Background()
	store := memory.New(monthlyDef("d1", 15))
	p := NewRecurringProcessor(store, nil, nil, testConfig(march1))

	report := p.Generate(ctx, "u1")

	assert.True(t, report.Ran())
	assert.Equal(t, "2024-03-01", report.Today.String())
	assert.Equal(t, 1, report.Definitions)
	assert.Equal(t, 6, report.Inserted)
	assert.Equal(t, 1, report.CursorsAdvanced)
	assert.Empty(t, report.FailedDefinitions)

	items, err := store.ListOccurrences(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2024-03-15", "2024-04-15", "2024-05-15", "2024-06-15", "2024-07-15", "2024-08-15",
	}, dueDates(items))
	for _, o := range items {
		assert.Equal(t, core.StatusPending, o.Status)
		assert.Equal(t, "850", o.Amount.String())
		assert.Equal(t, "home", o.Category)
		require.NotNil(t, o.DefinitionID)
		assert.Equal(t, "d1", *o.DefinitionID)
		assert.Equal(t, march1, o.CreatedAt)
	}

	def, _ := store.Definition("d1")
	require.NotNil(t, def.LastGeneratedDate)
	assert.Equal(t, "2024-08-15", def.LastGeneratedDate.String())
}

func TestGenerate_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New(monthlyDef("d1", 15))
	p := NewRecurringProcessor(store, nil, nil, testConfig(march1))

	first := p.Generate(ctx, "u1")
	second := p.Generate(ctx, "u1")

	assert.Equal(t, 6, first.Inserted)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 0, second.CursorsAdvanced)

	items, _ := store.ListOccurrences(ctx, "u1")
	assert.Len(t, items, 6)
}

func TestGenerate_NextMonthExtendsWindow(t *testing.T) {
	ctx := context.Background()
	store := memory.New(monthlyDef("d1", 15))

	NewRecurringProcessor(store, nil, nil, testConfig(march1)).Generate(ctx, "u1")
	report := NewRecurringProcessor(store, nil, nil, testConfig(march1.AddDate(0, 1, 0))).Generate(ctx, "u1")

	assert.Equal(t, 1, report.Inserted)
	def, _ := store.Definition("d1")
	assert.Equal(t, "2024-09-15", def.LastGeneratedDate.String())
}

func TestGenerate_StaleCursorDoesNotBackfill(t *testing.T) {
	ctx := context.Background()
	def := monthlyDef("d1", 15)
	stale := core.NewDate(2023, 1, 15)
	def.LastGeneratedDate = &stale
	store := memory.New(def)

	report := NewRecurringProcessor(store, nil, nil, testConfig(march1)).Generate(ctx, "u1")

	assert.Equal(t, 6, report.Inserted)
	items, _ := store.ListOccurrences(ctx, "u1")
	assert.Equal(t, "2024-03-15", items[0].DueDate.String())
}

func TestGenerate_CursorNeverMovesBackward(t *testing.T) {
	ctx := context.Background()
	def := monthlyDef("d1", 15)
	ahead := core.NewDate(2024, 12, 15)
	def.LastGeneratedDate = &ahead
	store := memory.New(def)

	report := NewRecurringProcessor(store, nil, nil, testConfig(march1)).Generate(ctx, "u1")

	assert.Equal(t, 0, report.Inserted)
	assert.Equal(t, 0, report.CursorsAdvanced)
	stored, _ := store.Definition("d1")
	assert.Equal(t, "2024-12-15", stored.LastGeneratedDate.String())
}

func TestGenerate_ExistingRowsWithoutCursor(t *testing.T) {
	ctx := context.Background()
	def := monthlyDef("d1", 15)
	store := memory.New(def)
	_, err := store.InsertOccurrences(ctx, []core.Occurrence{
		core.NewOccurrence(def, core.NewDate(2024, 4, 15), march1),
	})
	require.NoError(t, err)

	report := NewRecurringProcessor(store, nil, nil, testConfig(march1)).Generate(ctx, "u1")

	assert.Equal(t, 5, report.Inserted)
	items, _ := store.ListOccurrences(ctx, "u1")
	assert.Len(t, items, 6)
}

func TestGenerate_VariableAmount(t *testing.T) {
	ctx := context.Background()
	def := monthlyDef("d1", 15)
	def.Amount = nil
	store := memory.New(def)

	NewRecurringProcessor(store, nil, nil, testConfig(march1)).Generate(ctx, "u1")

	items, _ := store.ListOccurrences(ctx, "u1")
	require.NotEmpty(t, items)
	for _, o := range items {
		assert.True(t, o.Amount.IsZero())
	}
}

func TestGenerate_InvalidDefinitionIsSkipped(t *testing.T) {
	ctx := context.Background()
	bad := monthlyDef("bad", 40)
	store := memory.New(bad, monthlyDef("good", 1))

	report := NewRecurringProcessor(store, nil, nil, testConfig(march1)).Generate(ctx, "u1")

	assert.Equal(t, []string{"bad"}, report.FailedDefinitions)
	assert.Equal(t, 7, report.Inserted, "Mar 1 through Sep 1")
	stored, _ := store.Definition("bad")
	assert.Nil(t, stored.LastGeneratedDate)
}

func TestGenerate_UnspecifiedTypeStepsMonthly(t *testing.T) {
	ctx := context.Background()
	untyped := monthlyDef("d-untyped", 15)
	untyped.RecurrenceType = ""
	untitled := monthlyDef("d-untitled", 15)
	untitled.Title = ""
	store := memory.New(untyped, untitled)

	report := NewRecurringProcessor(store, nil, nil, testConfig(march1)).Generate(ctx, "u1")

	assert.Empty(t, report.FailedDefinitions)
	assert.Equal(t, 2, report.CursorsAdvanced)
	assert.Equal(t, 13, report.Inserted)

	items, _ := store.ListOccurrences(ctx, "u1")
	byDef := map[string][]core.Occurrence{}
	for _, o := range items {
		byDef[*o.DefinitionID] = append(byDef[*o.DefinitionID], o)
	}
	assert.Equal(t, []string{
		"2024-03-01", "2024-04-01", "2024-05-01", "2024-06-01",
		"2024-07-01", "2024-08-01", "2024-09-01",
	}, dueDates(byDef["d-untyped"]))
	require.Len(t, byDef["d-untitled"], 6)
	assert.Equal(t, "", byDef["d-untitled"][0].Title)
}

// racingStore hides stored dates from the duplicate lookup, as if another
// writer stored them after the lookup ran.
type racingStore struct {
	*memory.Store
}

func (racingStore) ListOccurrenceDates(context.Context, string, core.Date) ([]core.Date, error) {
	return nil, nil
}

func TestGenerate_NotifiesOnlyStoredRows(t *testing.T) {
	ctx := context.Background()
	def := monthlyDef("d1", 15)
	store := racingStore{Store: memory.New(def)}
	_, err := store.InsertOccurrences(ctx, []core.Occurrence{
		core.NewOccurrence(def, core.NewDate(2024, 4, 15), march1),
	})
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	report := NewRecurringProcessor(store, nil, notifier, testConfig(march1)).Generate(ctx, "u1")

	assert.Equal(t, 5, report.Inserted)
	assert.Equal(t, map[string]int{"d1": 5}, notifier.calls)
	items, _ := store.ListOccurrences(ctx, "u1")
	assert.Len(t, items, 6)
}

func TestGenerate_ListFailureAborts(t *testing.T) {
	gw := &mockGateway{}
	gw.On("ListDefinitions", mock.Anything, "u1").Return(nil, errors.New("connection refused"))

	report := NewRecurringProcessor(gw, nil, nil, testConfig(march1)).Generate(context.Background(), "u1")

	assert.True(t, report.Aborted)
	assert.Equal(t, 0, report.Inserted)
	gw.AssertExpectations(t)
	gw.AssertNotCalled(t, "InsertOccurrences", mock.Anything, mock.Anything)
	gw.AssertNotCalled(t, "UpdateDefinitionCursor", mock.Anything, mock.Anything, mock.Anything)
}

func TestGenerate_InsertFailureIsIsolated(t *testing.T) {
	gw := &mockGateway{}
	d1, d2 := monthlyDef("d1", 15), monthlyDef("d2", 20)
	today := core.NewDate(2024, 3, 1)

	gw.On("ListDefinitions", mock.Anything, "u1").Return([]core.PaymentDefinition{d1, d2}, nil)
	gw.On("ListOccurrenceDates", mock.Anything, mock.Anything, today).Return(nil, nil)
	gw.On("InsertOccurrences", mock.Anything, mock.MatchedBy(func(rows []core.Occurrence) bool {
		return *rows[0].DefinitionID == "d1"
	})).Return(errors.New("disk I/O error"))
	gw.On("InsertOccurrences", mock.Anything, mock.MatchedBy(func(rows []core.Occurrence) bool {
		return *rows[0].DefinitionID == "d2"
	})).Return(nil)
	gw.On("UpdateDefinitionCursor", mock.Anything, "d2", core.NewDate(2024, 8, 20)).Return(nil)

	notifier := &recordingNotifier{}
	report := NewRecurringProcessor(gw, nil, notifier, testConfig(march1)).Generate(context.Background(), "u1")

	assert.Equal(t, []string{"d1"}, report.FailedDefinitions)
	assert.Equal(t, 6, report.Inserted)
	assert.Equal(t, 1, report.CursorsAdvanced)
	assert.Equal(t, map[string]int{"d2": 6}, notifier.calls)
	gw.AssertExpectations(t)
	gw.AssertNotCalled(t, "UpdateDefinitionCursor", mock.Anything, "d1", mock.Anything)
}

func TestGenerate_ListOccurrencesFailureSkipsRule(t *testing.T) {
	gw := &mockGateway{}
	gw.On("ListDefinitions", mock.Anything, "u1").Return([]core.PaymentDefinition{monthlyDef("d1", 15)}, nil)
	gw.On("ListOccurrenceDates", mock.Anything, "d1", mock.Anything).Return(nil, errors.New("timeout"))

	report := NewRecurringProcessor(gw, nil, nil, testConfig(march1)).Generate(context.Background(), "u1")

	assert.Equal(t, []string{"d1"}, report.FailedDefinitions)
	gw.AssertNotCalled(t, "InsertOccurrences", mock.Anything, mock.Anything)
}

func TestGenerate_CursorFailureRecoversNextPass(t *testing.T) {
	ctx := context.Background()
	store := &flakyCursorStore{Store: memory.New(monthlyDef("d1", 15))}
	p := NewRecurringProcessor(store, nil, nil, testConfig(march1))

	first := p.Generate(ctx, "u1")
	assert.Equal(t, 6, first.Inserted)
	assert.Equal(t, []string{"d1"}, first.FailedDefinitions)
	def, _ := store.Definition("d1")
	assert.Nil(t, def.LastGeneratedDate)

	second := p.Generate(ctx, "u1")
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 1, second.CursorsAdvanced)

	items, _ := store.ListOccurrences(ctx, "u1")
	assert.Len(t, items, 6)
	def, _ = store.Definition("d1")
	assert.Equal(t, "2024-08-15", def.LastGeneratedDate.String())
}

func TestGenerate_NotifierErrorIsIgnored(t *testing.T) {
	store := memory.New(monthlyDef("d1", 15))
	notifier := &recordingNotifier{err: errors.New("broker down")}

	report := NewRecurringProcessor(store, nil, notifier, testConfig(march1)).Generate(context.Background(), "u1")

	assert.Equal(t, 6, report.Inserted)
	assert.Equal(t, 1, report.CursorsAdvanced)
	assert.Equal(t, 6, notifier.calls["d1"])
}

func TestGenerate_GateBusy(t *testing.T) {
	gw := &mockGateway{}
	gate := NewGate()
	release, ok := gate.TryAcquire()
	require.True(t, ok)
	defer release()

	report := NewRecurringProcessor(gw, gate, nil, testConfig(march1)).Generate(context.Background(), "u1")

	assert.Equal(t, SkipGateBusy, report.Skipped)
	assert.False(t, report.Ran())
	gw.AssertNotCalled(t, "ListDefinitions", mock.Anything, mock.Anything)
}

// blockingStore parks ListDefinitions until released.
type blockingStore struct {
	*memory.Store
	entered chan struct{}
	proceed chan struct{}
}

func (b *blockingStore) ListDefinitions(ctx context.Context, userID string) ([]core.PaymentDefinition, error) {
	close(b.entered)
	<-b.proceed
	return b.Store.ListDefinitions(ctx, userID)
}

func TestGenerate_ConcurrentTriggerIsDropped(t *testing.T) {
	store := &blockingStore{
		Store:   memory.New(monthlyDef("d1", 15)),
		entered: make(chan struct{}),
		proceed: make(chan struct{}),
	}
	p := NewRecurringProcessor(store, nil, nil, testConfig(march1))

	done := make(chan GenerationReport)
	go func() { done <- p.Generate(context.Background(), "u1") }()

	<-store.entered
	second := p.Generate(context.Background(), "u1")
	close(store.proceed)
	first := <-done

	assert.Equal(t, SkipGateBusy, second.Skipped)
	assert.Equal(t, 6, first.Inserted)

	third := p.Generate(context.Background(), "u1")
	assert.True(t, third.Ran(), "gate is released after a pass")
}

func TestGenerate_LeaseHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	store := memory.New(monthlyDef("d1", 15))
	ok, err := store.AcquireLease(ctx, "u1", "other-host", time.Hour, march1)
	require.NoError(t, err)
	require.True(t, ok)

	report := NewRecurringProcessor(store, nil, nil, testConfig(march1)).Generate(ctx, "u1")

	assert.Equal(t, SkipLeaseHeld, report.Skipped)
	items, _ := store.ListOccurrences(ctx, "u1")
	assert.Empty(t, items)
}

type brokenLeaseStore struct {
	*memory.Store
}

func (brokenLeaseStore) AcquireLease(context.Context, string, string, time.Duration, time.Time) (bool, error) {
	return false, errors.New("database is locked")
}

func TestGenerate_LeaseErrorSkipsPass(t *testing.T) {
	ctx := context.Background()
	store := brokenLeaseStore{Store: memory.New(monthlyDef("d1", 15))}

	report := NewRecurringProcessor(store, nil, nil, testConfig(march1)).Generate(ctx, "u1")

	assert.Equal(t, SkipLeaseError, report.Skipped)
	assert.False(t, report.Ran())
	items, _ := store.ListOccurrences(ctx, "u1")
	assert.Empty(t, items)
}

func TestGenerate_LeaseReleasedAfterPass(t *testing.T) {
	ctx := context.Background()
	store := memory.New(monthlyDef("d1", 15))

	NewRecurringProcessor(store, nil, nil, testConfig(march1)).Generate(ctx, "u1")

	ok, err := store.AcquireLease(ctx, "u1", "other-host", time.Hour, march1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGenerateAll(t *testing.T) {
	ctx := context.Background()
	other := monthlyDef("d2", 1)
	other.UserID = "u2"
	store := memory.New(monthlyDef("d1", 15), other)

	reports, err := NewRecurringProcessor(store, nil, nil, testConfig(march1)).GenerateAll(ctx)

	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "u1", reports[0].UserID)
	assert.Equal(t, 6, reports[0].Inserted)
	assert.Equal(t, "u2", reports[1].UserID)
	assert.Equal(t, 7, reports[1].Inserted)
}

func TestGenerateAll_RequiresUserLister(t *testing.T) {
	_, err := NewRecurringProcessor(&mockGateway{}, nil, nil, testConfig(march1)).GenerateAll(context.Background())
	assert.Error(t, err)
}

func TestPreview(t *testing.T) {
	p := NewRecurringProcessor(memory.New(), nil, nil, testConfig(march1))
	def := monthlyDef("d1", 31)

	got := p.Preview(def, p.Today())

	var out []string
	for _, d := range got {
		out = append(out, d.String())
	}
	assert.Equal(t, []string{
		"2024-03-31", "2024-04-30", "2024-05-31", "2024-06-30", "2024-07-31", "2024-08-31",
	}, out)
}

func TestToday_UsesLocation(t *testing.T) {
	config := testConfig(time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC))
	config.Location = time.FixedZone("UTC+2", 2*60*60)

	p := NewRecurringProcessor(memory.New(), nil, nil, config)

	assert.Equal(t, "2024-03-02", p.Today().String())
}
