package monitor

import (
	"bytes"
	"testing"
	"time"

	"github.com/apisentry-project/apisentry/internal/core"
)

func testRiskEngine(t *testing.T) *RiskEngine {
	t.Helper()
	return NewRiskEngine(core.DefaultConfig().Monitor)
}

func baselineRequest() *Request {
	return &Request{
		Method:   "GET",
		Path:     "/api/v2/users",
		Headers:  map[string]string{"user-agent": "Mozilla/5.0 (X11; Linux x86_64) Firefox/130.0"},
		RemoteIP: "203.0.113.10",
		Principal: &Principal{
			ID:   "user-1",
			Role: "member",
		},
	}
}

func baselineContext() SecurityContext {
	return SecurityContext{
		Authenticated: true,
		PrincipalID:   "user-1",
		RateLimit:     RateLimitStatus{Limit: 120, Remaining: 100},
		ThreatLevel:   ThreatLow,
	}
}

// ─── Score ──────────────────────────────────────────────────────────────────

func TestScore_BenignRequest(t *testing.T) {
	e := testRiskEngine(t)
	req := baselineRequest()
	sc := baselineContext()
	resp := &Response{Status: 200}

	score := e.Score(req, resp, &sc)
	// Authenticated, LOW threat, everything clean: only the LOW threat
	// weight contributes.
	if score != 10 {
		t.Errorf("benign request scored %d, want 10", score)
	}
}

func TestScore_IndividualSignals(t *testing.T) {
	e := testRiskEngine(t)
	cases := []struct {
		name   string
		mutate func(req *Request, resp *Response, sc *SecurityContext)
		delta  int
	}{
		{"unauthenticated", func(req *Request, resp *Response, sc *SecurityContext) {
			req.Principal = nil
			sc.Authenticated = false
			sc.PrincipalID = ""
		}, 20},
		{"auth failure status", func(req *Request, resp *Response, sc *SecurityContext) {
			// 401 trips both the auth-failure and the error-status legs.
			resp.Status = 401
		}, 45},
		{"rate limit exceeded", func(req *Request, resp *Response, sc *SecurityContext) {
			sc.RateLimit.Exceeded = true
		}, 40},
		{"invalid signature", func(req *Request, resp *Response, sc *SecurityContext) {
			sc.SignaturePresent = true
			sc.SignatureValid = false
		}, 35},
		{"error status", func(req *Request, resp *Response, sc *SecurityContext) {
			resp.Status = 500
		}, 15},
		{"geo anomaly", func(req *Request, resp *Response, sc *SecurityContext) {
			sc.GeoAnomalous = true
		}, 20},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := baselineRequest()
			sc := baselineContext()
			resp := &Response{Status: 200}
			base := e.Score(req, resp, &sc)

			req = baselineRequest()
			sc = baselineContext()
			resp = &Response{Status: 200}
			tc.mutate(req, resp, &sc)
			got := e.Score(req, resp, &sc)

			if got-base != tc.delta {
				t.Errorf("signal added %d to the score, want %d", got-base, tc.delta)
			}
		})
	}
}

func TestScore_AuthFailureStacksErrorStatus(t *testing.T) {
	e := testRiskEngine(t)
	req := baselineRequest()
	sc := baselineContext()

	// Authenticated principal, LOW threat, 401 response: 30 for the auth
	// failure, 15 for the error status, 10 for the threat level.
	if got := e.Score(req, &Response{Status: 401}, &sc); got != 55 {
		t.Errorf("401 scored %d, want 55", got)
	}

	sc = baselineContext()
	if got := e.Score(req, &Response{Status: 403}, &sc); got != 55 {
		t.Errorf("403 scored %d, want 55", got)
	}
}

func TestScore_SuspiciousPattern(t *testing.T) {
	e := testRiskEngine(t)
	req := baselineRequest()
	req.Query = "id=1' OR '1'='1"
	sc := baselineContext()
	resp := &Response{Status: 200}

	base := e.Score(baselineRequest(), &Response{Status: 200}, &sc)
	sc = baselineContext()
	got := e.Score(req, resp, &sc)
	if got-base != 45 {
		t.Errorf("suspicious pattern added %d, want 45", got-base)
	}
}

func TestScore_ValidSignatureNotPenalized(t *testing.T) {
	e := testRiskEngine(t)
	req := baselineRequest()
	sc := baselineContext()
	sc.SignaturePresent = true
	sc.SignatureValid = true
	resp := &Response{Status: 200}

	if got := e.Score(req, resp, &sc); got != 10 {
		t.Errorf("valid signature penalized: score %d, want 10", got)
	}
}

func TestScore_ThreatLevelWeights(t *testing.T) {
	e := testRiskEngine(t)
	cases := []struct {
		level ThreatLevel
		want  int
	}{
		{ThreatLow, 10},
		{ThreatMedium, 25},
		{ThreatHigh, 50},
		{ThreatCritical, 80},
	}
	for _, tc := range cases {
		req := baselineRequest()
		sc := baselineContext()
		sc.ThreatLevel = tc.level
		if got := e.Score(req, &Response{Status: 200}, &sc); got != tc.want {
			t.Errorf("threat %s scored %d, want %d", tc.level, got, tc.want)
		}
	}
}

func TestScore_CapsAt100(t *testing.T) {
	e := testRiskEngine(t)
	req := baselineRequest()
	req.Principal = nil
	req.Query = "q='; DROP TABLE users--"
	sc := SecurityContext{
		ThreatLevel:      ThreatCritical,
		SignaturePresent: true,
		RateLimit:        RateLimitStatus{Limit: 120, Exceeded: true},
		GeoAnomalous:     true,
	}
	resp := &Response{Status: 403}

	if got := e.Score(req, resp, &sc); got != 100 {
		t.Errorf("stacked signals scored %d, want saturation at 100", got)
	}
}

// ─── AssessThreat ───────────────────────────────────────────────────────────

func TestAssessThreat(t *testing.T) {
	e := testRiskEngine(t)
	cases := []struct {
		name  string
		req   *Request
		resp  *Response
		want  ThreatLevel
	}{
		{
			"clean browser request",
			baselineRequest(),
			&Response{Status: 200},
			ThreatLow,
		},
		{
			"suspicious agent only",
			&Request{Method: "GET", Path: "/api/v2/users", Headers: map[string]string{"user-agent": "python-requests/2.31"}},
			&Response{Status: 200},
			ThreatLow, // 25 < 30
		},
		{
			"suspicious agent plus error",
			&Request{Method: "GET", Path: "/api/v2/users", Headers: map[string]string{"user-agent": "curl/8.0"}},
			&Response{Status: 500},
			ThreatMedium, // 25 + 20 = 45
		},
		{
			"injection pattern plus error",
			&Request{Method: "GET", Path: "/api/v2/users", Query: "id=1 UNION SELECT password FROM users", Headers: map[string]string{"user-agent": "Mozilla/5.0 Firefox"}},
			&Response{Status: 500},
			ThreatHigh, // 30 + 20 = 50
		},
		{
			"all three signals",
			&Request{Method: "GET", Path: "/api/v2/users", Query: "q=<script>alert(1)</script>", Headers: map[string]string{"user-agent": "sqlmap scanner"}},
			&Response{Status: 500},
			ThreatCritical, // 30 + 20 + 25 = 75
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sc := baselineContext()
			if got := e.AssessThreat(tc.req, tc.resp, &sc); got != tc.want {
				t.Errorf("AssessThreat = %s, want %s", got, tc.want)
			}
		})
	}
}

// ─── DetectAnomalies ────────────────────────────────────────────────────────

func hasAnomaly(anomalies []string, tag string) bool {
	for _, a := range anomalies {
		if a == tag {
			return true
		}
	}
	return false
}

func TestDetectAnomalies_UnauthenticatedDelete(t *testing.T) {
	e := testRiskEngine(t)
	req := &Request{Method: "DELETE", Path: "/api/v2/users/1", Headers: map[string]string{"user-agent": "Mozilla/5.0 Firefox"}}
	sc := SecurityContext{RateLimit: RateLimitStatus{Limit: 120, Remaining: 100}}

	got := e.DetectAnomalies(req, &sc, false)
	if !hasAnomaly(got, AnomalyUnauthenticatedDelete) {
		t.Errorf("expected %s, got %v", AnomalyUnauthenticatedDelete, got)
	}

	sc.Authenticated = true
	got = e.DetectAnomalies(req, &sc, false)
	if hasAnomaly(got, AnomalyUnauthenticatedDelete) {
		t.Error("authenticated DELETE flagged")
	}
}

func TestDetectAnomalies_OversizedRequest(t *testing.T) {
	e := testRiskEngine(t)
	req := baselineRequest()
	req.Body = bytes.Repeat([]byte("a"), 10*1024*1024+1)
	sc := baselineContext()

	got := e.DetectAnomalies(req, &sc, false)
	if !hasAnomaly(got, AnomalyOversizedRequest) {
		t.Errorf("expected %s for 10MB+1 body, got %v", AnomalyOversizedRequest, got)
	}

	req.Body = bytes.Repeat([]byte("a"), 10*1024*1024)
	got = e.DetectAnomalies(req, &sc, false)
	if hasAnomaly(got, AnomalyOversizedRequest) {
		t.Error("exactly-at-limit body flagged")
	}
}

func TestDetectAnomalies_RapidRequests(t *testing.T) {
	e := testRiskEngine(t)
	req := baselineRequest()
	sc := baselineContext()
	sc.RateLimit = RateLimitStatus{Limit: 120, Remaining: 12, ResetTime: time.Now()}

	// 12/120 is exactly 10%, which is not below the threshold.
	if got := e.DetectAnomalies(req, &sc, false); hasAnomaly(got, AnomalyRapidRequests) {
		t.Error("12/120 remaining flagged as rapid")
	}

	sc.RateLimit.Remaining = 11
	if got := e.DetectAnomalies(req, &sc, false); !hasAnomaly(got, AnomalyRapidRequests) {
		t.Error("11/120 remaining not flagged as rapid")
	}
}

func TestDetectAnomalies_DeprecatedVersionAndGeo(t *testing.T) {
	e := testRiskEngine(t)
	req := baselineRequest()
	sc := baselineContext()
	sc.GeoAnomalous = true

	got := e.DetectAnomalies(req, &sc, true)
	if !hasAnomaly(got, AnomalyGeographicAnomaly) {
		t.Errorf("expected %s, got %v", AnomalyGeographicAnomaly, got)
	}
	if !hasAnomaly(got, AnomalyDeprecatedVersion) {
		t.Errorf("expected %s, got %v", AnomalyDeprecatedVersion, got)
	}
}

func TestDetectAnomalies_SuspiciousAgent(t *testing.T) {
	e := testRiskEngine(t)
	req := baselineRequest()
	req.Headers["user-agent"] = "Wget/1.21"
	sc := baselineContext()

	if got := e.DetectAnomalies(req, &sc, false); !hasAnomaly(got, AnomalySuspiciousUserAgent) {
		t.Errorf("expected %s, got %v", AnomalySuspiciousUserAgent, got)
	}
}
