package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"paytrack/internal/core"
	applog "paytrack/internal/log"
	"paytrack/internal/middleware/trace"
	"paytrack/internal/services"
)

// Generator runs a generation pass for one user.
type Generator interface {
	Generate(ctx context.Context, userID string) services.GenerationReport
}

// OccurrenceLister is optional; without it the occurrences route is not
// mounted.
type OccurrenceLister interface {
	ListOccurrences(ctx context.Context, userID string) ([]core.Occurrence, error)
}

// Pinger reports whether the storage behind the server is usable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	http.Server
	generator Generator
	lister    OccurrenceLister
	ready     Pinger
	tracer    *trace.Middleware

	shutdownOnce sync.Once
}

// Option customizes a Server.
type Option func(*Server)

func WithOccurrenceLister(l OccurrenceLister) Option {
	return func(s *Server) { s.lister = l }
}

func WithReadiness(p Pinger) Option {
	return func(s *Server) { s.ready = p }
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, generator Generator, opts ...Option) *Server {
	s := &Server{generator: generator, tracer: trace.NewMiddleware(trace.ClientIP)}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("POST /v1/users/{userID}/generate", s.handleGenerate)
	if s.lister != nil {
		mux.HandleFunc("GET /v1/users/{userID}/occurrences", s.handleListOccurrences)
	}

	logger := applog.ForComponent(applog.ComponentHTTP)
	var handler http.Handler = mux
	handler = applog.RequestIDMiddleware(trace.RequestIDFromRequest)(handler)
	handler = applog.Middleware(logger)(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Metrics exposes the request counters collected by the trace middleware.
func (s *Server) Metrics() trace.Metrics {
	return s.tracer.GetMetrics()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// handleGenerate runs a pass synchronously and answers 202 with the report.
// A pass skipped because another one holds the gate or the lease is still
// accepted; the report says so.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.PathValue("userID"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user id is required")
		return
	}

	logger := applog.FromContext(r.Context())
	report := s.generator.Generate(r.Context(), userID)
	logger.InfoContext(r.Context(), "Generation triggered over HTTP",
		applog.FieldUserID, userID,
		applog.FieldInserted, report.Inserted,
		"skipped", string(report.Skipped),
		"aborted", report.Aborted)

	writeJSON(w, http.StatusAccepted, report)
}

type occurrenceResponse struct {
	ID           string      `json:"id"`
	DefinitionID string      `json:"definition_id,omitempty"`
	Title        string      `json:"title"`
	Amount       string      `json:"amount"`
	Category     string      `json:"category,omitempty"`
	DueDate      core.Date   `json:"due_date"`
	Status       core.Status `json:"status"`
}

func (s *Server) handleListOccurrences(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	rows, err := s.lister.ListOccurrences(r.Context(), userID)
	if err != nil {
		applog.FromContext(r.Context()).LogError(r.Context(), "Failed to list occurrences", err,
			applog.OpList, applog.NewFields().WithRequestID(trace.GetRequestID(r.Context())).WithDefinition(userID, "", ""))
		writeError(w, http.StatusInternalServerError, "failed to list occurrences")
		return
	}

	out := make([]occurrenceResponse, 0, len(rows))
	for _, o := range rows {
		item := occurrenceResponse{
			ID:       o.ID,
			Title:    o.Title,
			Amount:   core.FormatAmount(o.Amount),
			Category: o.Category,
			DueDate:  o.DueDate,
			Status:   o.Status,
		}
		if o.DefinitionID != nil {
			item.DefinitionID = *o.DefinitionID
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready.Ping(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "Readiness check failed", "error", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
