package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paytrack/internal/core"
	"paytrack/internal/services"
	"paytrack/internal/storage/memory"
)

func newProcessor(t *testing.T, store *memory.Store) *services.RecurringProcessor {
	t.Helper()
	cfg := services.DefaultProcessorConfig()
	cfg.Now = func() time.Time { return time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC) }
	return services.NewRecurringProcessor(store, nil, nil, cfg)
}

func rentDefinition() core.PaymentDefinition {
	amount := decimal.NewFromInt(850)
	return core.PaymentDefinition{
		ID:             "def-rent",
		UserID:         "u1",
		Title:          "Rent",
		Amount:         &amount,
		RecurrenceType: core.Monthly,
		RecurrenceDay:  15,
	}
}

func TestHealthAndReady(t *testing.T) {
	srv := NewServer(":0", newProcessor(t, memory.New()))

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("database is locked") }

func TestReadyReportsStorageFailure(t *testing.T) {
	srv := NewServer(":0", newProcessor(t, memory.New()), WithReadiness(downPinger{}))

	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestGenerate(t *testing.T) {
	store := memory.New(rentDefinition())
	srv := NewServer(":0", newProcessor(t, store), WithOccurrenceLister(store))

	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/users/u1/generate", nil))

	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	var report services.GenerationReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.Equal(t, "u1", report.UserID)
	assert.Equal(t, "2024-03-01", report.Today.String())
	assert.Equal(t, 1, report.Definitions)
	assert.Equal(t, 6, report.Inserted)
	assert.Equal(t, 1, report.CursorsAdvanced)

	// second trigger is a no-op
	rr = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/users/u1/generate", nil))
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.Equal(t, 0, report.Inserted)
}

func TestGenerateRejectsWrongMethod(t *testing.T) {
	srv := NewServer(":0", newProcessor(t, memory.New()))

	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/users/u1/generate", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestListOccurrences(t *testing.T) {
	store := memory.New(rentDefinition())
	p := newProcessor(t, store)
	p.Generate(context.Background(), "u1")

	srv := NewServer(":0", p, WithOccurrenceLister(store))
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/users/u1/occurrences", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var out []occurrenceResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Len(t, out, 6)
	assert.Equal(t, "2024-03-15", out[0].DueDate.String())
	assert.Equal(t, "850.00", out[0].Amount)
	assert.Equal(t, "def-rent", out[0].DefinitionID)
	assert.Equal(t, core.StatusPending, out[0].Status)
	assert.Equal(t, "2024-08-15", out[5].DueDate.String())
}

func TestListOccurrencesNotMountedWithoutLister(t *testing.T) {
	srv := NewServer(":0", newProcessor(t, memory.New()))

	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/users/u1/occurrences", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServerMetrics(t *testing.T) {
	srv := NewServer(":0", newProcessor(t, memory.New()))
	srv.Handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, int64(1), srv.Metrics().TotalRequests)
}
