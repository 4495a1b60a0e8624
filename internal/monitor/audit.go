package monitor

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/apisentry-project/apisentry/internal/core"
)

const redactedPlaceholder = "[REDACTED]"

// LogSink receives finished audit records. The store package provides the
// real implementations; tests substitute their own.
type LogSink interface {
	SaveLog(log *APISecurityLog) error
}

// AlertFunc receives the security events the audit logger raises for
// high-risk exchanges.
type AlertFunc func(event *core.SecurityEvent)

var (
	versionPrefixPattern = regexp.MustCompile(`^/api/v\d+`)
	numericSegment       = regexp.MustCompile(`^\d+$`)
	uuidSegment          = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
)

// AuditLogger builds and persists one APISecurityLog per completed
// exchange. Persistence and alerting are fire-and-forget: a slow or failing
// sink never blocks the request path.
type AuditLogger struct {
	cfg           core.AuditConfig
	sink          LogSink
	alert         AlertFunc
	plainPatterns []*regexp.Regexp
	logger        zerolog.Logger
}

func NewAuditLogger(cfg core.AuditConfig, sink LogSink, alert AlertFunc, logger zerolog.Logger) *AuditLogger {
	return &AuditLogger{
		cfg:           cfg,
		sink:          sink,
		alert:         alert,
		plainPatterns: compilePlainPatterns(cfg.RedactedFields),
		logger:        logger.With().Str("component", "audit").Logger(),
	}
}

// compilePlainPatterns builds one key=value / key: value matcher per
// sensitive field for bodies that do not parse as JSON, such as form
// encodings and log lines.
func compilePlainPatterns(fields []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(fields))
	for _, f := range fields {
		out = append(out, regexp.MustCompile(`(?i)([\w.\-]*`+regexp.QuoteMeta(f)+`[\w.\-]*"?\s*[:=]\s*"?)([^&\s;,"']*)`))
	}
	return out
}

// Record assembles the audit log for an exchange and hands it off
// asynchronously. The returned record is what will be persisted, already
// redacted.
func (a *AuditLogger) Record(req *Request, resp *Response, sc *SecurityContext, version string, riskScore int, anomalies []string, alertThreshold, criticalThreshold int) *APISecurityLog {
	entry := &APISecurityLog{
		ID:              uuid.NewString(),
		Method:          strings.ToUpper(req.Method),
		Endpoint:        NormalizeEndpoint(req.Path),
		Version:         version,
		PrincipalID:     sc.PrincipalID,
		IPAddress:       req.RemoteIP,
		UserAgent:       req.UserAgent(),
		RequestHeaders:  a.redactHeaders(req.Headers),
		ResponseStatus:  resp.Status,
		ResponseHeaders: a.redactHeaders(resp.Headers),
		ResponseTimeMs:  int(resp.Duration.Milliseconds()),
		Context:         *sc,
		Timestamp:       time.Now().UTC(),
		RiskScore:       riskScore,
		Anomalies:       anomalies,
	}

	if a.cfg.CaptureRequestBody && !a.sensitiveEndpoint(req.Path) {
		entry.RequestBody = a.redactBody(req.Body)
	}
	// Response bodies are only interesting for failures and resource
	// creation; 200-level reads would balloon the store.
	if a.cfg.CaptureResponseBody && (resp.Status >= 400 || resp.Status == 201) {
		entry.ResponseBody = a.redactBody(resp.Body)
	}

	go a.persist(entry)
	if riskScore >= alertThreshold {
		go a.raiseAlert(entry, criticalThreshold)
	}
	return entry
}

func (a *AuditLogger) persist(entry *APISecurityLog) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().Interface("panic", r).Msg("audit sink panicked")
		}
	}()
	if a.sink == nil {
		return
	}
	if err := a.sink.SaveLog(entry); err != nil {
		a.logger.Error().Err(err).Str("log_id", entry.ID).Msg("failed to persist audit log")
	}
}

func (a *AuditLogger) raiseAlert(entry *APISecurityLog, criticalThreshold int) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().Interface("panic", r).Msg("alert handler panicked")
		}
	}()
	if a.alert == nil {
		return
	}

	severity := core.SeverityHigh
	if entry.RiskScore >= criticalThreshold {
		severity = core.SeverityCritical
	}

	event := core.NewSecurityEvent("api_monitor", "high_risk_request", severity,
		"High-risk API request detected")
	event.Endpoint = entry.Endpoint
	event.Method = entry.Method
	event.APIVersion = entry.Version
	event.SourceIP = entry.IPAddress
	event.UserAgent = entry.UserAgent
	event.RequestID = entry.ID
	event.RiskScore = entry.RiskScore
	event.Details = map[string]interface{}{
		"risk_score":   entry.RiskScore,
		"anomalies":    entry.Anomalies,
		"threat_level": entry.Context.ThreatLevel.String(),
		"principal_id": entry.PrincipalID,
		"status":       entry.ResponseStatus,
	}
	a.alert(event)
}

// sensitiveEndpoint reports whether the path matches a configured sensitive
// prefix, in which case request bodies are never captured regardless of the
// capture flag.
func (a *AuditLogger) sensitiveEndpoint(path string) bool {
	normalized := strings.ToLower(path)
	for _, s := range a.cfg.SensitiveEndpoints {
		if strings.Contains(normalized, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// redactHeaders copies the header map with configured sensitive headers
// replaced. The input map is never mutated.
func (a *AuditLogger) redactHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if a.redactedHeader(k) {
			out[k] = redactedPlaceholder
		} else {
			out[k] = v
		}
	}
	return out
}

func (a *AuditLogger) redactedHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, h := range a.cfg.RedactedHeaders {
		if lower == strings.ToLower(h) {
			return true
		}
	}
	return false
}

// redactBody truncates the body to the capture limit and, when it parses as
// JSON, replaces configured sensitive field values at every nesting depth.
// Non-JSON bodies go through the plain key=value patterns so form-encoded
// credentials are never persisted either.
func (a *AuditLogger) redactBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	truncated := false
	if a.cfg.MaxBodyBytes > 0 && len(body) > a.cfg.MaxBodyBytes {
		body = body[:a.cfg.MaxBodyBytes]
		truncated = true
	}

	var parsed interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		out := a.redactPlain(string(body))
		if truncated {
			out += "...[TRUNCATED]"
		}
		return out
	}

	redacted := a.redactValue(parsed)
	out, err := json.Marshal(redacted)
	if err != nil {
		return a.redactPlain(string(body))
	}
	return string(out)
}

func (a *AuditLogger) redactPlain(body string) string {
	for _, p := range a.plainPatterns {
		body = p.ReplaceAllString(body, "${1}"+redactedPlaceholder)
	}
	return body
}

func (a *AuditLogger) redactValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			if a.redactedField(k) {
				out[k] = redactedPlaceholder
			} else {
				out[k] = a.redactValue(inner)
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = a.redactValue(inner)
		}
		return out
	default:
		return v
	}
}

func (a *AuditLogger) redactedField(name string) bool {
	lower := strings.ToLower(name)
	for _, f := range a.cfg.RedactedFields {
		if strings.Contains(lower, strings.ToLower(f)) {
			return true
		}
	}
	return false
}

// NormalizeEndpoint collapses a concrete request path into its endpoint
// shape: the version prefix is stripped and identifier-looking segments are
// replaced with :id, so logs and exports group by endpoint rather than by
// individual resource.
func NormalizeEndpoint(path string) string {
	stripped := versionPrefixPattern.ReplaceAllString(path, "")
	if stripped == "" {
		stripped = "/"
	}

	segments := strings.Split(stripped, "/")
	for i, seg := range segments {
		if numericSegment.MatchString(seg) || uuidSegment.MatchString(seg) {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}
