package monitor

import (
	"regexp"
	"time"

	"github.com/apisentry-project/apisentry/internal/core"
)

// Error codes for gate rejections.
const (
	CodeInvalidSignature   = "INVALID_SIGNATURE"
	CodeUnsupportedVersion = "UNSUPPORTED_API_VERSION"
	CodeVersionEndOfLife   = "API_VERSION_END_OF_LIFE"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
)

// Decision is the outcome of a version-lifecycle check. Allowed decisions
// may still carry advisory deprecation headers.
type Decision struct {
	Allowed    bool
	Version    string // extracted version token, or the default
	Deprecated bool
	Headers    map[string]string // advisory headers to set on the response

	// Rejection details, only meaningful when !Allowed.
	StatusCode int
	ErrorCode  string
	Message    string
	Details    map[string]interface{}
}

var versionPattern = regexp.MustCompile(`^/api/(v\d+)(/|$)`)

// VersionRegistry gates requests on the API version lifecycle table. The
// table is immutable configuration; validation is a pure function of the
// table plus the clock.
type VersionRegistry struct {
	cfg *core.Config
	now func() time.Time
}

// NewVersionRegistry creates a registry over the configured version table.
func NewVersionRegistry(cfg *core.Config) *VersionRegistry {
	return &VersionRegistry{cfg: cfg, now: time.Now}
}

// ExtractVersion returns the version token from a path, or "" if the path
// is unversioned.
func ExtractVersion(path string) string {
	m := versionPattern.FindStringSubmatch(path)
	if m == nil {
		return ""
	}
	return m[1]
}

// Validate checks a (path, method) pair against the lifecycle table.
func (r *VersionRegistry) Validate(path, method string) Decision {
	token := ExtractVersion(path)
	if token == "" {
		// Unversioned requests implicitly use the default version.
		return Decision{Allowed: true, Version: r.cfg.Versions.Default}
	}

	vc, ok := r.cfg.VersionByName(token)
	if !ok {
		return Decision{
			Allowed:    false,
			Version:    token,
			StatusCode: 400,
			ErrorCode:  CodeUnsupportedVersion,
			Message:    "API version " + token + " is not supported",
			Details: map[string]interface{}{
				"supportedVersions": r.cfg.SupportedVersions(),
			},
		}
	}

	now := r.now()

	if vc.EndOfLifeDate != nil && now.After(*vc.EndOfLifeDate) {
		return Decision{
			Allowed:    false,
			Version:    token,
			Deprecated: true,
			StatusCode: 410,
			ErrorCode:  CodeVersionEndOfLife,
			Message:    "API version " + token + " has reached end of life",
			Details: map[string]interface{}{
				"endOfLifeDate": vc.EndOfLifeDate.UTC().Format(time.RFC3339),
			},
		}
	}

	if !methodAllowed(vc.AllowedMethods, method) {
		return Decision{
			Allowed:    false,
			Version:    token,
			StatusCode: 405,
			ErrorCode:  CodeMethodNotAllowed,
			Message:    "method " + method + " is not allowed for API version " + token,
			Details: map[string]interface{}{
				"allowedMethods": vc.AllowedMethods,
			},
		}
	}

	decision := Decision{Allowed: true, Version: token, Deprecated: vc.Deprecated}
	if vc.Deprecated {
		decision.Headers = map[string]string{"X-API-Deprecated": "true"}
		if vc.DeprecationDate != nil {
			decision.Headers["X-API-Deprecation-Date"] = vc.DeprecationDate.UTC().Format(time.RFC3339)
		}
		if vc.EndOfLifeDate != nil {
			decision.Headers["X-API-End-Of-Life"] = vc.EndOfLifeDate.UTC().Format(time.RFC3339)
		}
	}
	return decision
}

// IsDeprecated reports whether a version string is flagged deprecated in
// the table. Unknown versions are not deprecated, just unsupported.
func (r *VersionRegistry) IsDeprecated(version string) bool {
	vc, ok := r.cfg.VersionByName(version)
	return ok && vc.Deprecated
}

func methodAllowed(allowed []string, method string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, m := range allowed {
		if m == method {
			return true
		}
	}
	return false
}
