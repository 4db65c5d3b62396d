package trace

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMiddleware_AssignsRequestID(t *testing.T) {
	var seen string
	h := NewMiddleware(nil).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromRequest(r)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if !strings.HasPrefix(seen, "req_") || len(seen) != 20 {
		t.Fatalf("unexpected request id %q", seen)
	}
	if got := rr.Header().Get(RequestIDHeader); got != seen {
		t.Fatalf("response header %q, context %q", got, seen)
	}
}

func TestMiddleware_HonoursIncomingID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"plain", "abc-123", true},
		{"with space", "abc 123", false},
		{"too long", strings.Repeat("a", 65), false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := NewMiddleware(nil).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromRequest(r)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if tt.keep && seen != tt.incoming {
				t.Fatalf("expected %q to be kept, got %q", tt.incoming, seen)
			}
			if !tt.keep && seen == tt.incoming {
				t.Fatalf("expected %q to be replaced", tt.incoming)
			}
		})
	}
}

func TestMiddleware_Metrics(t *testing.T) {
	m := NewMiddleware(nil)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/boom" {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))

	for _, p := range []string{"/", "/boom", "/"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	got := m.GetMetrics()
	if got.TotalRequests != 3 || got.FailedRequests != 1 {
		t.Fatalf("unexpected metrics %+v", got)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if got := ClientIP(req); got != "10.0.0.1:1234" {
		t.Fatalf("remote addr: got %q", got)
	}

	req.Header.Set("X-Real-IP", "192.168.1.9")
	if got := ClientIP(req); got != "192.168.1.9" {
		t.Fatalf("real ip: got %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.2")
	if got := ClientIP(req); got != "203.0.113.7" {
		t.Fatalf("forwarded: got %q", got)
	}
}
