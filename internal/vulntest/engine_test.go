package vulntest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/apisentry-project/apisentry/internal/core"
)

type memorySink struct {
	mu      sync.Mutex
	results []*SecurityTestResult
}

func (s *memorySink) SaveTestResult(r *SecurityTestResult) error {
	s.mu.Lock()
	s.results = append(s.results, r)
	s.mu.Unlock()
	return nil
}

// vulnerableServer accepts everything, reflects input, and leaks SQL
// errors. Every probe category should find something here.
func vulnerableServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		w.WriteHeader(http.StatusOK)
		if strings.Contains(q, "'") {
			w.Write([]byte("You have an error in your SQL syntax near '" + q + "'"))
			return
		}
		w.Write([]byte("<html>result for " + q + "</html>"))
	}))
}

// hardenedServer denies unauthenticated access and advertises rate limits.
func hardenedServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "120")
		auth := r.Header.Get("Authorization")
		if auth != "Bearer trusted-token" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"code":"UNAUTHORIZED"}}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func testEngine(t *testing.T, sink ResultSink) *Engine {
	t.Helper()
	return NewEngine(core.TestingConfig{
		ProbeTimeout: 10 * time.Second,
		SafeMode:     true,
	}, sink, zerolog.Nop())
}

func findingTypes(result *SecurityTestResult) map[VulnType]bool {
	out := make(map[VulnType]bool)
	for _, v := range result.Vulnerabilities {
		out[v.Type] = true
	}
	return out
}

// ─── RunSecurityTests ───────────────────────────────────────────────────────

func TestRunSecurityTests_VulnerableTarget(t *testing.T) {
	srv := vulnerableServer()
	defer srv.Close()

	sink := &memorySink{}
	e := testEngine(t, sink)
	result := e.RunSecurityTests(context.Background(), srv.URL, "/users", "GET")

	if result.Passed {
		t.Fatal("wide-open target passed the scan")
	}
	types := findingTypes(result)
	for _, want := range []VulnType{VulnSQLInjection, VulnXSS, VulnBrokenAuthentication, VulnBrokenAccessControl, VulnSecurityMisconfig} {
		if !types[want] {
			t.Errorf("missing expected finding %s; got %v", want, result.Vulnerabilities)
		}
	}
	// injection 30 + xss 25 + auth 35 + rate limit 20 saturates the cap.
	if result.RiskScore != 100 {
		t.Errorf("risk score = %d, want 100", result.RiskScore)
	}
	if len(result.Recommendations) == 0 {
		t.Error("no recommendations for a failing scan")
	}
	if len(sink.results) != 1 {
		t.Errorf("persisted %d results, want 1", len(sink.results))
	}
}

func TestRunSecurityTests_HardenedTarget(t *testing.T) {
	srv := hardenedServer()
	defer srv.Close()

	e := testEngine(t, &memorySink{})
	result := e.RunSecurityTests(context.Background(), srv.URL, "/users", "GET")

	if !result.Passed {
		t.Fatalf("hardened target failed: %v", result.Vulnerabilities)
	}
	if result.RiskScore != 0 {
		t.Errorf("risk score = %d, want 0", result.RiskScore)
	}
	if len(result.Vulnerabilities) != 0 {
		t.Errorf("unexpected findings: %v", result.Vulnerabilities)
	}
}

func TestRunSecurityTests_FreshTestIDPerRun(t *testing.T) {
	srv := hardenedServer()
	defer srv.Close()

	sink := &memorySink{}
	e := testEngine(t, sink)
	a := e.RunSecurityTests(context.Background(), srv.URL, "/users", "GET")
	b := e.RunSecurityTests(context.Background(), srv.URL, "/users", "GET")

	if a.TestID == b.TestID {
		t.Error("two runs shared a test ID")
	}
	if len(sink.results) != 2 {
		t.Errorf("history not append-only: %d results", len(sink.results))
	}
}

func TestRunSecurityTests_TimeoutBecomesFinding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	e := NewEngine(core.TestingConfig{
		ProbeTimeout: 50 * time.Millisecond,
		SafeMode:     true,
	}, nil, zerolog.Nop())

	result := e.RunSecurityTests(context.Background(), srv.URL, "/slow", "GET")
	if result.Passed {
		t.Fatal("timed-out scan reported as passed")
	}
	if !findingTypes(result)[VulnInsufficientLogging] {
		t.Errorf("timeout did not produce an INSUFFICIENT_LOGGING finding: %v", result.Vulnerabilities)
	}
}

func TestRunSecurityTests_UnreachableTarget(t *testing.T) {
	e := testEngine(t, nil)
	// Port 1 on loopback refuses immediately.
	result := e.RunSecurityTests(context.Background(), "http://127.0.0.1:1", "/users", "GET")
	if result.Passed {
		t.Fatal("unreachable target reported as passed")
	}
	if !findingTypes(result)[VulnInsufficientLogging] {
		t.Errorf("unreachable target did not degrade to a finding: %v", result.Vulnerabilities)
	}
}

func TestRunSecurityTests_CategoryFilter(t *testing.T) {
	srv := vulnerableServer()
	defer srv.Close()

	e := testEngine(t, nil)
	result := e.RunSecurityTests(context.Background(), srv.URL, "/users", "GET", "injection")

	types := findingTypes(result)
	if !types[VulnSQLInjection] {
		t.Fatalf("injection category did not run: %v", result.Vulnerabilities)
	}
	for _, excluded := range []VulnType{VulnXSS, VulnBrokenAuthentication, VulnBrokenAccessControl} {
		if types[excluded] {
			t.Errorf("excluded category produced finding %s", excluded)
		}
	}
	// Only the injection weight contributes.
	if result.RiskScore != 30 {
		t.Errorf("risk score = %d, want 30", result.RiskScore)
	}
}

func TestSelectProbes(t *testing.T) {
	probes := defaultProbes()
	if got := selectProbes(probes, nil); len(got) != len(probes) {
		t.Errorf("empty filter selected %d of %d probes", len(got), len(probes))
	}
	got := selectProbes(probes, []string{"xss", "auth"})
	if len(got) != 2 {
		t.Fatalf("selected %d probes, want 2", len(got))
	}
	if got[0].Name() != "xss" || got[1].Name() != "auth" {
		t.Errorf("wrong categories selected: %s, %s", got[0].Name(), got[1].Name())
	}
	if got := selectProbes(probes, []string{"no-such-category"}); len(got) != 0 {
		t.Errorf("unknown category selected %d probes", len(got))
	}
}

func TestInputValidation_SafeModeStillFlagsAcceptance(t *testing.T) {
	var mu sync.Mutex
	var bodies [][]byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := testEngine(t, nil)
	result := e.RunSecurityTests(context.Background(), srv.URL, "/users", "POST", "input_validation")

	if len(result.Vulnerabilities) != 1 {
		t.Fatalf("got %d findings, want 1: %v", len(result.Vulnerabilities), result.Vulnerabilities)
	}
	v := result.Vulnerabilities[0]
	if v.Type != VulnSecurityMisconfig {
		t.Errorf("finding type = %s, want %s", v.Type, VulnSecurityMisconfig)
	}
	if v.Severity != core.SeverityInfo {
		t.Errorf("safe-mode acceptance severity = %s, want INFO", v.Severity)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) == 0 {
		t.Fatal("safe mode sent no payloads at all")
	}
	for _, b := range bodies {
		if strings.ContainsRune(string(b), 0) || len(b) > 4096 {
			t.Errorf("safe mode sent a destructive payload: %d bytes", len(b))
		}
	}
}

func TestInputValidation_FullModeSendsControlBytePayloads(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	e := NewEngine(core.TestingConfig{
		ProbeTimeout: 10 * time.Second,
		SafeMode:     false,
	}, nil, zerolog.Nop())
	result := e.RunSecurityTests(context.Background(), srv.URL, "/users", "POST", "input_validation")

	if !result.Passed {
		t.Fatalf("rejecting target failed the scan: %v", result.Vulnerabilities)
	}
	var sawNUL, sawBOM bool
	mu.Lock()
	defer mu.Unlock()
	for _, b := range bodies {
		if strings.ContainsRune(b, 0) {
			sawNUL = true
		}
		if strings.ContainsRune(b, '\uFEFF') {
			sawBOM = true
		}
	}
	if !sawNUL {
		t.Error("null-byte payload never sent")
	}
	if !sawBOM {
		t.Error("byte-order-mark payload never sent")
	}
}

func TestRecommendationsDeduplicated(t *testing.T) {
	vulns := []Vulnerability{
		{Type: VulnSQLInjection},
		{Type: VulnSQLInjection},
		{Type: VulnXSS},
	}
	recs := recommendationsFor(vulns)
	if len(recs) != 2 {
		t.Errorf("got %d recommendations, want 2 (deduplicated): %v", len(recs), recs)
	}
}

func TestRiskScoreMonotonicInFailedCategories(t *testing.T) {
	vulnerable := vulnerableServer()
	defer vulnerable.Close()
	hardened := hardenedServer()
	defer hardened.Close()

	e := testEngine(t, nil)
	bad := e.RunSecurityTests(context.Background(), vulnerable.URL, "/users", "GET")
	good := e.RunSecurityTests(context.Background(), hardened.URL, "/users", "GET")

	if bad.RiskScore <= good.RiskScore {
		t.Errorf("more failed categories did not raise the score: %d <= %d", bad.RiskScore, good.RiskScore)
	}
}
