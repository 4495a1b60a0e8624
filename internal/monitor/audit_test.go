package monitor

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/apisentry-project/apisentry/internal/core"
)

type captureSink struct {
	mu   sync.Mutex
	logs []*APISecurityLog
	done chan struct{}
}

func newCaptureSink() *captureSink {
	return &captureSink{done: make(chan struct{}, 16)}
}

func (s *captureSink) SaveLog(log *APISecurityLog) error {
	s.mu.Lock()
	s.logs = append(s.logs, log)
	s.mu.Unlock()
	s.done <- struct{}{}
	return nil
}

func (s *captureSink) wait(t *testing.T) *APISecurityLog {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("audit log never reached the sink")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logs[len(s.logs)-1]
}

func testAuditLogger(t *testing.T, sink LogSink, alert AlertFunc) *AuditLogger {
	t.Helper()
	return NewAuditLogger(core.DefaultConfig().Audit, sink, alert, zerolog.Nop())
}

// ─── NormalizeEndpoint ──────────────────────────────────────────────────────

func TestNormalizeEndpoint(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/api/v2/users/12345", "/users/:id"},
		{"/api/v1/orders/42/items/7", "/orders/:id/items/:id"},
		{"/api/v2/users", "/users"},
		{"/users/550e8400-e29b-41d4-a716-446655440000", "/users/:id"},
		{"/health", "/health"},
		{"/api/v2", "/"},
		{"/api/v2/users/alice", "/users/alice"},
	}
	for _, tc := range cases {
		if got := NormalizeEndpoint(tc.path); got != tc.want {
			t.Errorf("NormalizeEndpoint(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

// ─── Redaction ──────────────────────────────────────────────────────────────

func TestRecord_RedactsHeaders(t *testing.T) {
	sink := newCaptureSink()
	a := testAuditLogger(t, sink, nil)

	req := &Request{
		Method: "GET",
		Path:   "/api/v2/users",
		Headers: map[string]string{
			"authorization": "Bearer secret-token",
			"cookie":        "session=abc123",
			"x-api-key":     "key-value",
			"user-agent":    "Mozilla/5.0 Firefox",
		},
		RemoteIP: "203.0.113.10",
	}
	resp := &Response{Status: 200, Headers: map[string]string{"content-type": "application/json"}}
	sc := &SecurityContext{}

	a.Record(req, resp, sc, "v2", 10, nil, 70, 90)
	entry := sink.wait(t)

	for _, h := range []string{"authorization", "cookie", "x-api-key"} {
		if entry.RequestHeaders[h] != "[REDACTED]" {
			t.Errorf("header %s not redacted: %q", h, entry.RequestHeaders[h])
		}
	}
	if entry.RequestHeaders["user-agent"] != "Mozilla/5.0 Firefox" {
		t.Error("benign header altered")
	}
	// Original request map must not be mutated.
	if req.Headers["authorization"] != "Bearer secret-token" {
		t.Error("redaction mutated the request headers")
	}
}

func TestRecord_RedactsNestedBodyFields(t *testing.T) {
	sink := newCaptureSink()
	a := testAuditLogger(t, sink, nil)

	body := []byte(`{"user":{"name":"alice","password":"hunter2"},"items":[{"api_token":"tok"}],"client_secret":"s3cret"}`)
	req := &Request{Method: "POST", Path: "/api/v2/users", Headers: map[string]string{}, Body: body, RemoteIP: "203.0.113.10"}
	resp := &Response{Status: 201}
	sc := &SecurityContext{}

	a.Record(req, resp, sc, "v2", 10, nil, 70, 90)
	entry := sink.wait(t)

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(entry.RequestBody), &parsed); err != nil {
		t.Fatalf("captured body is not JSON: %v", err)
	}
	user := parsed["user"].(map[string]interface{})
	if user["password"] != "[REDACTED]" {
		t.Errorf("nested password not redacted: %v", user["password"])
	}
	if user["name"] != "alice" {
		t.Error("benign nested field altered")
	}
	item := parsed["items"].([]interface{})[0].(map[string]interface{})
	if item["api_token"] != "[REDACTED]" {
		t.Errorf("token-bearing field inside array not redacted: %v", item["api_token"])
	}
	if parsed["client_secret"] != "[REDACTED]" {
		t.Errorf("secret-bearing field not redacted: %v", parsed["client_secret"])
	}
	if strings.Contains(entry.RequestBody, "hunter2") {
		t.Error("secret value survived redaction")
	}
}

func TestRecord_RedactsFormEncodedBody(t *testing.T) {
	sink := newCaptureSink()
	a := testAuditLogger(t, sink, nil)

	cases := []struct {
		name    string
		body    string
		secrets []string
	}{
		{
			"form encoding",
			"username=alice&password=hunter2&token=abc123",
			[]string{"hunter2", "abc123"},
		},
		{
			"colon-separated pairs",
			"user: alice\npassword: hunter2\nclient_secret: s3cret",
			[]string{"hunter2", "s3cret"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := &Request{
				Method:   "POST",
				Path:     "/api/v2/session",
				Headers:  map[string]string{"content-type": "application/x-www-form-urlencoded"},
				Body:     []byte(tc.body),
				RemoteIP: "203.0.113.10",
			}
			a.Record(req, &Response{Status: 200}, &SecurityContext{}, "v2", 10, nil, 70, 90)
			entry := sink.wait(t)

			for _, secret := range tc.secrets {
				if strings.Contains(entry.RequestBody, secret) {
					t.Errorf("secret %q survived in persisted body: %q", secret, entry.RequestBody)
				}
			}
			if !strings.Contains(entry.RequestBody, "alice") {
				t.Errorf("benign field lost: %q", entry.RequestBody)
			}
			if !strings.Contains(entry.RequestBody, "[REDACTED]") {
				t.Errorf("no redaction marker in persisted body: %q", entry.RequestBody)
			}
		})
	}
}

func TestRecord_SensitiveEndpointSkipsBody(t *testing.T) {
	sink := newCaptureSink()
	a := testAuditLogger(t, sink, nil)

	req := &Request{
		Method:   "POST",
		Path:     "/api/v2/auth/login",
		Headers:  map[string]string{},
		Body:     []byte(`{"username":"alice","password":"hunter2"}`),
		RemoteIP: "203.0.113.10",
	}
	a.Record(req, &Response{Status: 200}, &SecurityContext{}, "v2", 10, nil, 70, 90)
	entry := sink.wait(t)

	if entry.RequestBody != "" {
		t.Errorf("sensitive endpoint request body captured: %q", entry.RequestBody)
	}
}

func TestRecord_TruncatesOversizedBody(t *testing.T) {
	sink := newCaptureSink()
	cfg := core.DefaultConfig().Audit
	cfg.MaxBodyBytes = 16
	a := NewAuditLogger(cfg, sink, nil, zerolog.Nop())

	req := &Request{
		Method:   "POST",
		Path:     "/api/v2/notes",
		Headers:  map[string]string{},
		Body:     []byte(strings.Repeat("x", 100)),
		RemoteIP: "203.0.113.10",
	}
	a.Record(req, &Response{Status: 200}, &SecurityContext{}, "v2", 10, nil, 70, 90)
	entry := sink.wait(t)

	if !strings.HasSuffix(entry.RequestBody, "...[TRUNCATED]") {
		t.Errorf("oversized body not truncated: %q", entry.RequestBody)
	}
	if len(entry.RequestBody) > 16+len("...[TRUNCATED]") {
		t.Errorf("truncated body too long: %d bytes", len(entry.RequestBody))
	}
}

// ─── Alerting ───────────────────────────────────────────────────────────────

func TestRecord_AlertsAboveThreshold(t *testing.T) {
	sink := newCaptureSink()
	events := make(chan *core.SecurityEvent, 1)
	a := testAuditLogger(t, sink, func(e *core.SecurityEvent) { events <- e })

	req := &Request{Method: "DELETE", Path: "/api/v2/users/1", Headers: map[string]string{}, RemoteIP: "203.0.113.10"}
	a.Record(req, &Response{Status: 403}, &SecurityContext{ThreatLevel: ThreatHigh}, "v2", 75, []string{AnomalyUnauthenticatedDelete}, 70, 90)
	sink.wait(t)

	select {
	case e := <-events:
		if e.Severity != core.SeverityHigh {
			t.Errorf("risk 75 raised severity %s, want HIGH", e.Severity)
		}
		if e.RiskScore != 75 {
			t.Errorf("event risk score %d, want 75", e.RiskScore)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no security event raised for risk >= 70")
	}
}

func TestRecord_CriticalSeverityAt90(t *testing.T) {
	sink := newCaptureSink()
	events := make(chan *core.SecurityEvent, 1)
	a := testAuditLogger(t, sink, func(e *core.SecurityEvent) { events <- e })

	req := &Request{Method: "GET", Path: "/api/v2/users", Headers: map[string]string{}, RemoteIP: "203.0.113.10"}
	a.Record(req, &Response{Status: 200}, &SecurityContext{}, "v2", 95, nil, 70, 90)

	select {
	case e := <-events:
		if e.Severity != core.SeverityCritical {
			t.Errorf("risk 95 raised severity %s, want CRITICAL", e.Severity)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no security event raised")
	}
}

func TestRecord_NoAlertBelowThreshold(t *testing.T) {
	sink := newCaptureSink()
	events := make(chan *core.SecurityEvent, 1)
	a := testAuditLogger(t, sink, func(e *core.SecurityEvent) { events <- e })

	req := &Request{Method: "GET", Path: "/api/v2/users", Headers: map[string]string{}, RemoteIP: "203.0.113.10"}
	a.Record(req, &Response{Status: 200}, &SecurityContext{}, "v2", 69, nil, 70, 90)
	sink.wait(t)

	select {
	case <-events:
		t.Error("security event raised for risk below threshold")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRecord_PanickingAlertHandlerIsolated(t *testing.T) {
	sink := newCaptureSink()
	a := testAuditLogger(t, sink, func(e *core.SecurityEvent) { panic("handler bug") })

	req := &Request{Method: "GET", Path: "/api/v2/users", Headers: map[string]string{}, RemoteIP: "203.0.113.10"}
	a.Record(req, &Response{Status: 200}, &SecurityContext{}, "v2", 80, nil, 70, 90)

	// The sink still receives the record despite the handler panic.
	sink.wait(t)
}
