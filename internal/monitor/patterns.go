package monitor

import "regexp"

// Pattern is one compiled suspicious-content matcher. The list is ordered
// by priority; matching is best-effort heuristics, not a security boundary.
type Pattern struct {
	Name     string
	Category string
	Regex    *regexp.Regexp
}

func compilePatterns() []Pattern {
	return []Pattern{
		// SQL injection
		{Name: "sqli_union", Category: "sqli",
			Regex: regexp.MustCompile(`(?i)\bunion\b\s+(all\s+)?select\b`)},
		{Name: "sqli_or_true", Category: "sqli",
			Regex: regexp.MustCompile(`(?i)(\bor\b\s+[\d'"]+\s*=\s*[\d'"]+|'\s*or\s*'[^']*'\s*=\s*'[^']*')`)},
		{Name: "sqli_stacked", Category: "sqli",
			Regex: regexp.MustCompile(`(?i);\s*(drop|alter|truncate|delete\s+from|update\s+\w+\s+set|insert\s+into|exec|execute)\b`)},
		{Name: "sqli_comment", Category: "sqli",
			Regex: regexp.MustCompile(`(?i)(--|#|/\*.*?\*/)\s*(drop|alter|delete|update|insert|select)\b`)},
		{Name: "sqli_keywords", Category: "sqli",
			Regex: regexp.MustCompile(`(?i)\b(select\s+.+\s+from|insert\s+into|delete\s+from|drop\s+table|information_schema)\b`)},

		// Cross-site scripting
		{Name: "xss_script_tag", Category: "xss",
			Regex: regexp.MustCompile(`(?i)<\s*script[^>]*>`)},
		{Name: "xss_javascript_uri", Category: "xss",
			Regex: regexp.MustCompile(`(?i)(javascript|vbscript)\s*:`)},
		{Name: "xss_event_handler", Category: "xss",
			Regex: regexp.MustCompile(`(?i)\bon(error|load|click|mouseover|focus|blur|submit|change|input|keyup|keydown)\s*=`)},
		{Name: "xss_img_vector", Category: "xss",
			Regex: regexp.MustCompile(`(?i)<\s*(img|iframe|svg|embed|object)\b[^>]*(src|href|data)\s*=`)},

		// Path traversal
		{Name: "path_traversal", Category: "path",
			Regex: regexp.MustCompile(`(?i)(\.\.[\\/]|%2e%2e[\\/]|\.\.%2f)`)},
	}
}

// PatternMatcher scans request material for suspicious content.
type PatternMatcher struct {
	patterns []Pattern
}

// NewPatternMatcher compiles the built-in pattern corpus.
func NewPatternMatcher() *PatternMatcher {
	return &PatternMatcher{patterns: compilePatterns()}
}

// Match returns the first matching pattern name, or "" when the input is
// clean. Patterns are checked in priority order.
func (m *PatternMatcher) Match(input string) string {
	if input == "" {
		return ""
	}
	for _, p := range m.patterns {
		if p.Regex.MatchString(input) {
			return p.Name
		}
	}
	return ""
}

// MatchRequest scans a request's path, query, and body.
func (m *PatternMatcher) MatchRequest(req *Request) string {
	if name := m.Match(req.Path); name != "" {
		return name
	}
	if name := m.Match(req.Query); name != "" {
		return name
	}
	return m.Match(string(req.Body))
}

// suspiciousAgentPattern flags automation tooling and scanners. An absent
// user agent is treated as suspicious by the caller.
var suspiciousAgentPattern = regexp.MustCompile(`(?i)(bot|crawler|spider|scanner|curl|wget|python|java)`)

// SuspiciousUserAgent reports whether a user-agent string looks like
// automation or is missing entirely.
func SuspiciousUserAgent(ua string) bool {
	if ua == "" {
		return true
	}
	return suspiciousAgentPattern.MatchString(ua)
}
