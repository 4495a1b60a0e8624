package vulntest

import (
	"time"

	"github.com/google/uuid"

	"github.com/apisentry-project/apisentry/internal/core"
)

// VulnType classifies a finding. The taxonomy follows the OWASP API
// categories this engine probes for.
type VulnType string

const (
	VulnSQLInjection          VulnType = "SQL_INJECTION"
	VulnXSS                   VulnType = "XSS"
	VulnCSRF                  VulnType = "CSRF"
	VulnBrokenAuthentication  VulnType = "BROKEN_AUTHENTICATION"
	VulnBrokenAccessControl   VulnType = "BROKEN_ACCESS_CONTROL"
	VulnSecurityMisconfig     VulnType = "SECURITY_MISCONFIGURATION"
	VulnInsecureDeserializing VulnType = "INSECURE_DESERIALIZATION"
	VulnInsufficientLogging   VulnType = "INSUFFICIENT_LOGGING"
)

// Severity shorthands for probe findings.
const (
	severityInfo     = core.SeverityInfo
	severityLow      = core.SeverityLow
	severityMedium   = core.SeverityMedium
	severityHigh     = core.SeverityHigh
	severityCritical = core.SeverityCritical
)

// Vulnerability is one finding produced by a probe category.
type Vulnerability struct {
	Type        VulnType      `json:"type"`
	Severity    core.Severity `json:"severity"`
	Description string        `json:"description"`
	Evidence    string        `json:"evidence,omitempty"`
	Remediation string        `json:"remediation"`
}

// SecurityTestResult is the immutable outcome of one engine invocation
// against an (endpoint, method) pair. History is append-only; results are
// never overwritten.
type SecurityTestResult struct {
	TestID          string          `json:"test_id"`
	Endpoint        string          `json:"endpoint"`
	Method          string          `json:"method"`
	TestType        string          `json:"test_type"`
	Passed          bool            `json:"passed"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
	RiskScore       int             `json:"risk_score"`
	Recommendations []string        `json:"recommendations"`
	Timestamp       time.Time       `json:"timestamp"`
}

func newTestResult(endpoint, method string) *SecurityTestResult {
	return &SecurityTestResult{
		TestID:          uuid.NewString(),
		Endpoint:        endpoint,
		Method:          method,
		TestType:        "full_security_scan",
		Vulnerabilities: []Vulnerability{},
		Recommendations: []string{},
		Timestamp:       time.Now().UTC(),
	}
}

// remediations maps each vulnerability type to its fix guidance, applied to
// findings and to the result's deduplicated recommendation set.
var remediations = map[VulnType]string{
	VulnSQLInjection:          "use parameterized queries and never interpolate user input into SQL",
	VulnXSS:                   "encode all user-supplied output and set a restrictive Content-Security-Policy",
	VulnCSRF:                  "require anti-CSRF tokens on all state-changing requests",
	VulnBrokenAuthentication:  "require authentication on all non-public endpoints and verify tokens server-side",
	VulnBrokenAccessControl:   "enforce object-level and role-based authorization checks on every handler",
	VulnSecurityMisconfig:     "apply rate limiting and strict input validation to all exposed endpoints",
	VulnInsecureDeserializing: "validate and type-check all deserialized input against a strict schema",
	VulnInsufficientLogging:   "ensure probe targets respond within the timeout and log all security-relevant failures",
}

// RemediationFor returns the fix guidance for a vulnerability type.
func RemediationFor(t VulnType) string {
	if r, ok := remediations[t]; ok {
		return r
	}
	return "review the finding and apply the relevant OWASP API security guidance"
}
