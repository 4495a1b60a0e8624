package monitor

import (
	"encoding/json"
	"time"
)

// ThreatLevel is a coarse four-value classification derived from request
// heuristics, feeding into the risk score.
type ThreatLevel int

const (
	ThreatLow ThreatLevel = iota
	ThreatMedium
	ThreatHigh
	ThreatCritical
)

func (t ThreatLevel) String() string {
	switch t {
	case ThreatLow:
		return "LOW"
	case ThreatMedium:
		return "MEDIUM"
	case ThreatHigh:
		return "HIGH"
	case ThreatCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

func (t ThreatLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// Principal describes an authenticated caller as reported by the external
// authentication system. The monitor never authenticates anyone itself.
type Principal struct {
	ID          string   `json:"id"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	SessionID   string   `json:"session_id,omitempty"`
}

// Request is the explicit request value type the monitor operates on.
// Adapters translate transport-level requests (net/http) into this form;
// unknown fields simply never make it in.
type Request struct {
	Method    string
	Path      string
	Query     string
	Headers   map[string]string // lower-cased keys
	Body      []byte
	RemoteIP  string
	Principal *Principal // nil if unauthenticated
	RequestID string
}

// Header returns a header value by lower-cased name.
func (r *Request) Header(name string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers[name]
}

// UserAgent returns the request's User-Agent header.
func (r *Request) UserAgent() string { return r.Header("user-agent") }

// Response is the completed response counterpart to Request. The audit
// logger only ever sees a finalized response.
type Response struct {
	Status   int
	Headers  map[string]string
	Body     []byte
	Duration time.Duration
}

// RateLimitStatus is a read-only snapshot of the caller's rate-limit state.
// The counters themselves are owned by the rate limiter.
type RateLimitStatus struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
	Exceeded  bool      `json:"exceeded"`
}

// GeoLocation is a best-effort geolocation of the caller's IP.
type GeoLocation struct {
	Country   string  `json:"country"`
	City      string  `json:"city,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// SecurityContext is assembled once per request and read-only afterwards.
// It is never persisted itself; the audit log captures a snapshot of its
// derived fields.
type SecurityContext struct {
	Authenticated     bool            `json:"authenticated"`
	PrincipalID       string          `json:"principal_id,omitempty"`
	Role              string          `json:"role,omitempty"`
	Permissions       []string        `json:"permissions,omitempty"`
	SessionID         string          `json:"session_id,omitempty"`
	RequestSignature  string          `json:"request_signature,omitempty"`
	SignaturePresent  bool            `json:"signature_present"`
	SignatureValid    bool            `json:"signature_valid"`
	RateLimit         RateLimitStatus `json:"rate_limit"`
	Geo               *GeoLocation    `json:"geo,omitempty"`
	GeoAnomalous      bool            `json:"geo_anomalous,omitempty"`
	DeviceFingerprint string          `json:"device_fingerprint"`
	ThreatLevel       ThreatLevel     `json:"threat_level"`
}

// Anomaly tags. Each is an independent boolean check, distinct from the
// aggregate numeric risk score.
const (
	AnomalyUnauthenticatedDelete = "UNAUTHENTICATED_DELETE_REQUEST"
	AnomalySuspiciousUserAgent   = "SUSPICIOUS_USER_AGENT"
	AnomalyOversizedRequest      = "OVERSIZED_REQUEST"
	AnomalyRapidRequests         = "RAPID_REQUESTS"
	AnomalyGeographicAnomaly     = "GEOGRAPHIC_ANOMALY"
	AnomalyDeprecatedVersion     = "DEPRECATED_API_VERSION"
)

// APISecurityLog is the immutable, append-only record written once per
// completed request/response cycle.
type APISecurityLog struct {
	ID              string            `json:"id"`
	Method          string            `json:"method"`
	Endpoint        string            `json:"endpoint"` // normalized: version stripped, numeric segments → :id
	Version         string            `json:"version,omitempty"`
	PrincipalID     string            `json:"principal_id,omitempty"`
	IPAddress       string            `json:"ip_address"`
	UserAgent       string            `json:"user_agent,omitempty"`
	RequestHeaders  map[string]string `json:"request_headers"`
	RequestBody     string            `json:"request_body,omitempty"`
	ResponseStatus  int               `json:"response_status"`
	ResponseHeaders map[string]string `json:"response_headers"`
	ResponseBody    string            `json:"response_body,omitempty"`
	ResponseTimeMs  int               `json:"response_time_ms"`
	Context         SecurityContext   `json:"security_context"`
	Timestamp       time.Time         `json:"timestamp"`
	RiskScore       int               `json:"risk_score"`
	Anomalies       []string          `json:"anomalies"`
}
