package api

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/apisentry-project/apisentry/internal/core"
	"github.com/apisentry-project/apisentry/internal/monitor"
)

type recordingSink struct {
	mu   sync.Mutex
	logs []*monitor.APISecurityLog
	done chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{done: make(chan struct{}, 16)}
}

func (s *recordingSink) SaveLog(log *monitor.APISecurityLog) error {
	s.mu.Lock()
	s.logs = append(s.logs, log)
	s.mu.Unlock()
	s.done <- struct{}{}
	return nil
}

func (s *recordingSink) wait(t *testing.T) *monitor.APISecurityLog {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit persistence")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logs[len(s.logs)-1]
}

func instrumentedHandler(t *testing.T, mutate func(*core.Config), inner http.Handler) (http.Handler, *recordingSink) {
	t.Helper()
	cfg := core.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	sink := newRecordingSink()
	mon := monitor.NewMonitor(cfg, nil, sink, nil, zerolog.Nop())
	return Instrument(mon, inner), sink
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	})
}

// ─── Gate rejections ────────────────────────────────────────────────────────

func TestInstrument_RejectsUnknownVersion(t *testing.T) {
	h, _ := instrumentedHandler(t, nil, okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v9/users", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), monitor.CodeUnsupportedVersion) {
		t.Errorf("body missing error code: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "supportedVersions") {
		t.Errorf("body missing supportedVersions detail: %s", rec.Body.String())
	}
}

func TestInstrument_RejectsEndOfLifeVersion(t *testing.T) {
	h, _ := instrumentedHandler(t, func(cfg *core.Config) {
		past := time.Now().UTC().Add(-24 * time.Hour)
		for i := range cfg.Versions.Lifetime {
			if cfg.Versions.Lifetime[i].Version == "v1" {
				cfg.Versions.Lifetime[i].EndOfLifeDate = &past
			}
		}
	}, okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusGone {
		t.Fatalf("got %d, want 410", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), monitor.CodeVersionEndOfLife) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestInstrument_RejectsUnsignedRequest(t *testing.T) {
	h, _ := instrumentedHandler(t, func(cfg *core.Config) {
		cfg.Signing.Enabled = true
		cfg.Signing.Secret = "gate-secret"
	}, okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v2/users", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), monitor.CodeInvalidSignature) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestInstrument_AcceptsSignedRequest(t *testing.T) {
	const secret = "gate-secret"
	h, sink := instrumentedHandler(t, func(cfg *core.Config) {
		cfg.Signing.Enabled = true
		cfg.Signing.Secret = secret
	}, okHandler())

	codec := monitor.NewSignatureCodec(core.SigningConfig{Secret: secret, ValidityWindow: 5 * time.Minute})
	ts := time.Now().UnixMilli()
	sig, err := codec.Sign("GET", "/api/v2/users", nil, ts, "nonce-1")
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v2/users", nil)
	req.Header.Set("X-Signature", sig)
	req.Header.Set("X-Timestamp", strconvItoa(ts))
	req.Header.Set("X-Nonce", "nonce-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("signed request rejected: %d %s", rec.Code, rec.Body.String())
	}
	entry := sink.wait(t)
	if !entry.Context.SignatureValid {
		t.Error("context not marked signature-valid")
	}
}

// ─── Pass-through behavior ──────────────────────────────────────────────────

func TestInstrument_DeprecationAndRateLimitHeaders(t *testing.T) {
	h, sink := instrumentedHandler(t, nil, okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/42", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	if rec.Header().Get("X-API-Deprecated") != "true" {
		t.Error("missing X-API-Deprecated header on deprecated version")
	}
	if rec.Header().Get("X-RateLimit-Limit") == "" {
		t.Error("missing X-RateLimit-Limit header")
	}
	if rec.Header().Get("X-RateLimit-Remaining") == "" {
		t.Error("missing X-RateLimit-Remaining header")
	}
	sink.wait(t)
}

func TestInstrument_ObserveRecordsRequest(t *testing.T) {
	h, sink := instrumentedHandler(t, nil, okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v2/users/42?fields=name", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("X-Principal-Id", "user-9")
	req.RemoteAddr = "203.0.113.9:55000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	entry := sink.wait(t)
	if entry.Method != "GET" {
		t.Errorf("method = %s", entry.Method)
	}
	if entry.Endpoint != "/users/:id" {
		t.Errorf("endpoint = %s, want normalized /users/:id", entry.Endpoint)
	}
	if entry.Version != "v2" {
		t.Errorf("version = %s", entry.Version)
	}
	if entry.PrincipalID != "user-9" {
		t.Errorf("principal = %s", entry.PrincipalID)
	}
	if entry.IPAddress != "203.0.113.9" {
		t.Errorf("ip = %s", entry.IPAddress)
	}
	if entry.ResponseStatus != http.StatusOK {
		t.Errorf("status = %d", entry.ResponseStatus)
	}
	if entry.RiskScore >= 30 {
		t.Errorf("benign request scored %d", entry.RiskScore)
	}
}

func TestInstrument_BodyReachesHandler(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		seen = string(buf[:n])
		w.WriteHeader(http.StatusCreated)
	})
	h, sink := instrumentedHandler(t, nil, inner)

	req := httptest.NewRequest(http.MethodPost, "/api/v2/users", strings.NewReader(`{"name":"alice"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != `{"name":"alice"}` {
		t.Errorf("handler saw body %q", seen)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("got %d", rec.Code)
	}
	sink.wait(t)
}

func TestInstrument_HighRiskRequestScores(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	h, sink := instrumentedHandler(t, nil, inner)

	req := httptest.NewRequest(http.MethodDelete, "/api/v2/users/42?q=%27%20OR%20%271%27%3D%271", nil)
	req.Header.Set("User-Agent", "python-requests/2.31")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	entry := sink.wait(t)
	if entry.RiskScore < 70 {
		t.Errorf("risk = %d, want >= 70", entry.RiskScore)
	}
	var found bool
	for _, a := range entry.Anomalies {
		if a == monitor.AnomalyUnauthenticatedDelete {
			found = true
		}
	}
	if !found {
		t.Errorf("anomalies = %v, want %s", entry.Anomalies, monitor.AnomalyUnauthenticatedDelete)
	}
}

func strconvItoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
