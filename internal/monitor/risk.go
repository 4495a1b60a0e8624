package monitor

import (
	"strings"

	"github.com/apisentry-project/apisentry/internal/core"
)

// RiskEngine turns a completed request/response exchange plus its security
// context into a bounded risk score, a threat level, and a set of anomaly
// tags. All methods are pure over their inputs; the engine holds only
// configuration.
type RiskEngine struct {
	cfg      core.MonitorConfig
	patterns *PatternMatcher
}

func NewRiskEngine(cfg core.MonitorConfig) *RiskEngine {
	return &RiskEngine{cfg: cfg, patterns: NewPatternMatcher()}
}

// AssessThreat scores the exchange against the attack heuristics and maps
// the total onto a threat level.
func (e *RiskEngine) AssessThreat(req *Request, resp *Response, sc *SecurityContext) ThreatLevel {
	score := 0
	if e.patterns.MatchRequest(req) != "" {
		score += e.cfg.ThreatPatternWeight
	}
	if resp != nil && resp.Status >= 400 {
		score += e.cfg.ThreatErrorWeight
	}
	if SuspiciousUserAgent(req.UserAgent()) {
		score += e.cfg.ThreatAgentWeight
	}

	switch {
	case score >= 70:
		return ThreatCritical
	case score >= 50:
		return ThreatHigh
	case score >= 30:
		return ThreatMedium
	default:
		return ThreatLow
	}
}

// Score computes the 0-100 risk score for the exchange. Signals are
// additive and the total saturates at 100.
func (e *RiskEngine) Score(req *Request, resp *Response, sc *SecurityContext) int {
	score := 0

	if !sc.Authenticated {
		score += e.cfg.RiskUnauthenticated
	}
	if resp != nil && (resp.Status == 401 || resp.Status == 403) {
		score += e.cfg.RiskAuthFailureStatus
	}

	switch sc.ThreatLevel {
	case ThreatLow:
		score += e.cfg.RiskThreatLow
	case ThreatMedium:
		score += e.cfg.RiskThreatMedium
	case ThreatHigh:
		score += e.cfg.RiskThreatHigh
	case ThreatCritical:
		score += e.cfg.RiskThreatCritical
	}

	if sc.RateLimit.Exceeded {
		score += e.cfg.RiskRateLimitExceeded
	}
	if sc.SignaturePresent && !sc.SignatureValid {
		score += e.cfg.RiskInvalidSignature
	}
	if e.patterns.MatchRequest(req) != "" {
		score += e.cfg.RiskSuspiciousPattern
	}
	// The auth-failure and error-status signals stack: a 401 or 403 scores
	// both legs.
	if resp != nil && resp.Status >= 400 {
		score += e.cfg.RiskErrorStatus
	}
	if sc.GeoAnomalous {
		score += e.cfg.RiskGeoAnomaly
	}

	if score > 100 {
		score = 100
	}
	return score
}

// DetectAnomalies tags the behavioral anomalies present in the exchange.
// Tags are stable identifiers consumed by alert handlers and exports.
func (e *RiskEngine) DetectAnomalies(req *Request, sc *SecurityContext, deprecated bool) []string {
	var anomalies []string

	if !sc.Authenticated && strings.EqualFold(req.Method, "DELETE") {
		anomalies = append(anomalies, AnomalyUnauthenticatedDelete)
	}
	if SuspiciousUserAgent(req.UserAgent()) {
		anomalies = append(anomalies, AnomalySuspiciousUserAgent)
	}
	if int64(len(req.Body)) > e.cfg.MaxRequestBytes {
		anomalies = append(anomalies, AnomalyOversizedRequest)
	}
	if sc.RateLimit.Limit > 0 {
		ratio := float64(sc.RateLimit.Remaining) / float64(sc.RateLimit.Limit)
		if ratio < e.cfg.RapidQuotaRatio {
			anomalies = append(anomalies, AnomalyRapidRequests)
		}
	}
	if sc.GeoAnomalous {
		anomalies = append(anomalies, AnomalyGeographicAnomaly)
	}
	if deprecated {
		anomalies = append(anomalies, AnomalyDeprecatedVersion)
	}

	return anomalies
}
