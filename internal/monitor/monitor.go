// -------------------------------------------------------------------------
// monitor.go — request-path orchestration: gate, observe, record
// -------------------------------------------------------------------------

package monitor

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/apisentry-project/apisentry/internal/core"
)

// Monitor ties the request-path collaborators together. Gate runs before
// the request is handled and can reject it; Observe runs after the response
// is finalized and never rejects anything.
type Monitor struct {
	cfg      *core.Config
	codec    *SignatureCodec
	versions *VersionRegistry
	builder  *ContextBuilder
	risk     *RiskEngine
	audit    *AuditLogger
	logger   zerolog.Logger
}

// NewMonitor wires the monitor from configuration. The geo resolver may be
// nil; all geographic signals then stay dark.
func NewMonitor(cfg *core.Config, geo GeoResolver, sink LogSink, alert AlertFunc, logger zerolog.Logger) *Monitor {
	codec := NewSignatureCodec(cfg.Signing)
	limiter := NewRateLimiter(cfg.RateLimit)
	return &Monitor{
		cfg:      cfg,
		codec:    codec,
		versions: NewVersionRegistry(cfg),
		builder:  NewContextBuilder(codec, limiter, geo, logger),
		risk:     NewRiskEngine(cfg.Monitor),
		audit:    NewAuditLogger(cfg.Audit, sink, alert, logger),
		logger:   logger.With().Str("component", "monitor").Logger(),
	}
}

// Gate applies the hard preconditions: version lifecycle first, then
// signature verification for paths that require it. The first failing check
// wins; an allowed decision may still carry deprecation headers.
func (m *Monitor) Gate(req *Request) Decision {
	decision := m.versions.Validate(req.Path, req.Method)
	if !decision.Allowed {
		return decision
	}

	if m.signatureRequired(req.Path) && !m.codec.Verify(req) {
		return Decision{
			Allowed:    false,
			Version:    decision.Version,
			Deprecated: decision.Deprecated,
			StatusCode: 401,
			ErrorCode:  CodeInvalidSignature,
			Message:    "request signature is missing or invalid",
			Details: map[string]interface{}{
				"algorithm":       SignatureAlgorithm,
				"requiredHeaders": RequiredHeaders(),
			},
		}
	}

	return decision
}

// Observe processes a completed exchange: builds the security context,
// scores it, and writes the audit record. It returns the record for
// callers that surface risk data inline.
func (m *Monitor) Observe(req *Request, resp *Response) *APISecurityLog {
	sc := m.builder.Build(req)
	sc.ThreatLevel = m.risk.AssessThreat(req, resp, &sc)

	riskScore := m.risk.Score(req, resp, &sc)
	version := ExtractVersion(req.Path)
	if version == "" {
		version = m.cfg.Versions.Default
	}
	anomalies := m.risk.DetectAnomalies(req, &sc, m.versions.IsDeprecated(version))

	entry := m.audit.Record(req, resp, &sc, version, riskScore, anomalies,
		m.cfg.Monitor.AlertRiskScore, m.cfg.Monitor.CriticalRiskScore)

	if riskScore >= m.cfg.Monitor.AlertRiskScore {
		m.logger.Warn().
			Str("endpoint", entry.Endpoint).
			Str("method", entry.Method).
			Str("source_ip", entry.IPAddress).
			Int("risk_score", riskScore).
			Strs("anomalies", anomalies).
			Msg("high-risk request observed")
	}
	return entry
}

// RateStatus returns the caller's rate-limit snapshot without consuming
// quota, for advisory response headers.
func (m *Monitor) RateStatus(req *Request) RateLimitStatus {
	return m.builder.RateStatus(req)
}

// Codec exposes the signature codec for the signature-generation endpoint.
func (m *Monitor) Codec() *SignatureCodec { return m.codec }

// Versions exposes the version registry for status reporting.
func (m *Monitor) Versions() *VersionRegistry { return m.versions }

func (m *Monitor) signatureRequired(path string) bool {
	if !m.cfg.Signing.Enabled {
		return false
	}
	if len(m.cfg.Signing.RequiredPaths) == 0 {
		return true
	}
	for _, prefix := range m.cfg.Signing.RequiredPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
