package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/apisentry-project/apisentry/internal/core"
)

func noopHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// ─── CORS ───────────────────────────────────────────────────────────────────

func TestCORSPreflight(t *testing.T) {
	h := corsMiddleware(noopHandler(), []string{"*"})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight returned %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("missing Access-Control-Allow-Origin")
	}
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	h := corsMiddleware(noopHandler(), []string{"https://trusted.example"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unknown origin was allowed")
	}
}

// ─── Rate limiting ──────────────────────────────────────────────────────────

func TestRateLimitMiddleware(t *testing.T) {
	h := rateLimitMiddleware(noopHandler(), 2)

	var limited bool
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		req.RemoteAddr = "198.51.100.1:40000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			if rec.Header().Get("Retry-After") == "" {
				t.Error("429 without Retry-After")
			}
			break
		}
	}
	if !limited {
		t.Error("burst of 20 requests was never rate limited")
	}

	// A different client gets its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.RemoteAddr = "198.51.100.2:40000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("fresh client returned %d", rec.Code)
	}
}

// ─── Auth ───────────────────────────────────────────────────────────────────

func TestAuthMiddleware(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Server.APIKeys = []string{"k1"}
	h := authMiddleware(noopHandler(), cfg, zerolog.Nop())

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"no credentials", "/api/v1/status", nil, http.StatusUnauthorized},
		{"wrong key", "/api/v1/status", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"api key header", "/api/v1/status", map[string]string{"X-API-Key": "k1"}, http.StatusOK},
		{"bearer token", "/api/v1/status", map[string]string{"Authorization": "Bearer k1"}, http.StatusOK},
		{"health exempt", "/health", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("got %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

// ─── Client IP ──────────────────────────────────────────────────────────────

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	if got := clientIP(req); got != "10.0.0.1" {
		t.Errorf("got %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.7" {
		t.Errorf("forwarded got %q", got)
	}
}
