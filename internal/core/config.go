package core

import (
	"crypto/subtle"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the entire APISentry configuration. It is loaded once at
// startup and injected by reference; nothing mutates it afterwards.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Bus       BusConfig       `yaml:"bus"`
	Alerts    AlertConfig     `yaml:"alerts"`
	Signing   SigningConfig   `yaml:"signing"`
	Versions  VersionsConfig  `yaml:"versions"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Audit     AuditConfig     `yaml:"audit"`
	Geo       GeoConfig       `yaml:"geo"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Store     StoreConfig     `yaml:"store"`
	Testing   TestingConfig   `yaml:"testing"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds API server settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	APIKeys     []string `yaml:"api_keys"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// BusConfig holds NATS event bus settings.
type BusConfig struct {
	URL      string `yaml:"url"`
	Embedded bool   `yaml:"embedded"`
	DataDir  string `yaml:"data_dir"`
	Port     int    `yaml:"port"`
}

// AlertConfig holds alert pipeline settings.
type AlertConfig struct {
	MaxStore      int      `yaml:"max_store"`
	WebhookURLs   []string `yaml:"webhook_urls"`
	EnableConsole bool     `yaml:"enable_console"`
}

// SigningConfig holds request-signature verification settings. The secret is
// a process-wide shared key, never user-supplied.
type SigningConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Secret         string        `yaml:"secret"`
	ValidityWindow time.Duration `yaml:"validity_window"`
	RequiredPaths  []string      `yaml:"required_paths"` // path prefixes that must be signed
}

// VersionConfig describes the lifecycle of one API version.
type VersionConfig struct {
	Version             string         `yaml:"version"`
	Deprecated          bool           `yaml:"deprecated"`
	DeprecationDate     *time.Time     `yaml:"deprecation_date"`
	EndOfLifeDate       *time.Time     `yaml:"end_of_life_date"`
	SecurityLevel       string         `yaml:"security_level"` // PUBLIC, AUTHENTICATED, AUTHORIZED, RESTRICTED
	AllowedMethods      []string       `yaml:"allowed_methods"`
	RateLimits          map[string]int `yaml:"rate_limits"`
	RequiredPermissions []string       `yaml:"required_permissions"`
}

// VersionsConfig holds the version lifecycle table.
type VersionsConfig struct {
	Default  string          `yaml:"default"`
	Lifetime []VersionConfig `yaml:"lifetime"`
}

// MonitorConfig holds risk scoring weights and anomaly thresholds. The
// defaults mirror the historically tuned values; they are configuration, not
// calibrated constants.
type MonitorConfig struct {
	RiskUnauthenticated   int `yaml:"risk_unauthenticated"`
	RiskAuthFailureStatus int `yaml:"risk_auth_failure_status"`
	RiskThreatLow         int `yaml:"risk_threat_low"`
	RiskThreatMedium      int `yaml:"risk_threat_medium"`
	RiskThreatHigh        int `yaml:"risk_threat_high"`
	RiskThreatCritical    int `yaml:"risk_threat_critical"`
	RiskRateLimitExceeded int `yaml:"risk_rate_limit_exceeded"`
	RiskInvalidSignature  int `yaml:"risk_invalid_signature"`
	RiskSuspiciousPattern int `yaml:"risk_suspicious_pattern"`
	RiskErrorStatus       int `yaml:"risk_error_status"`
	RiskGeoAnomaly        int `yaml:"risk_geo_anomaly"`

	ThreatPatternWeight int `yaml:"threat_pattern_weight"`
	ThreatErrorWeight   int `yaml:"threat_error_weight"`
	ThreatAgentWeight   int `yaml:"threat_agent_weight"`

	MaxRequestBytes   int64   `yaml:"max_request_bytes"`
	RapidQuotaRatio   float64 `yaml:"rapid_quota_ratio"`
	AlertRiskScore    int     `yaml:"alert_risk_score"`    // >= raises a security event
	CriticalRiskScore int     `yaml:"critical_risk_score"` // >= raises it as CRITICAL
}

// AuditConfig holds request/response capture and redaction policy.
type AuditConfig struct {
	CaptureRequestBody  bool     `yaml:"capture_request_body"`
	CaptureResponseBody bool     `yaml:"capture_response_body"`
	MaxBodyBytes        int      `yaml:"max_body_bytes"`
	SensitiveEndpoints  []string `yaml:"sensitive_endpoints"` // request bodies never captured
	RedactedHeaders     []string `yaml:"redacted_headers"`
	RedactedFields      []string `yaml:"redacted_fields"`
}

// GeoConfig holds the GeoIP database location. Lookups are best-effort; a
// missing database simply disables geolocation enrichment.
type GeoConfig struct {
	CityDBPath string `yaml:"city_db_path"`
}

// RateLimitConfig holds the built-in per-principal rate limiter settings.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// StoreConfig selects the persistence sink for audit logs and test results.
type StoreConfig struct {
	Driver  string `yaml:"driver"` // "memory" or "postgres"
	DSN     string `yaml:"dsn"`
	MaxLogs int    `yaml:"max_logs"` // memory store retention
}

// EndpointTestConfig declares one endpoint a suite probes.
type EndpointTestConfig struct {
	Endpoint  string   `yaml:"endpoint"`
	Methods   []string `yaml:"methods"`
	Priority  int      `yaml:"priority"`
	TestTypes []string `yaml:"test_types"`
	Enabled   bool     `yaml:"enabled"`
}

// TestSuiteConfig is a named group of endpoint probe targets.
type TestSuiteConfig struct {
	Name      string               `yaml:"name"`
	Schedule  string               `yaml:"schedule"` // cron expression
	Enabled   bool                 `yaml:"enabled"`
	BaseURL   string               `yaml:"base_url"`
	Endpoints []EndpointTestConfig `yaml:"endpoints"`
}

// TestingConfig holds the vulnerability test engine settings.
type TestingConfig struct {
	Enabled      bool              `yaml:"enabled"`
	ProbeTimeout time.Duration     `yaml:"probe_timeout"`
	SafeMode     bool              `yaml:"safe_mode"`
	Suites       []TestSuiteConfig `yaml:"suites"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sane defaults — zero-config works out
// of the box, with signature verification off until a secret is set.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 1790,
		},
		Bus: BusConfig{
			URL:      "nats://127.0.0.1:4222",
			Embedded: true,
			DataDir:  "./data/nats",
			Port:     4222,
		},
		Alerts: AlertConfig{
			MaxStore:      10000,
			EnableConsole: true,
		},
		Signing: SigningConfig{
			Enabled:        false,
			ValidityWindow: 5 * time.Minute,
		},
		Versions: VersionsConfig{
			Default: "v2",
			Lifetime: []VersionConfig{
				{
					Version:        "v1",
					Deprecated:     true,
					SecurityLevel:  "AUTHENTICATED",
					AllowedMethods: []string{"GET", "POST", "PUT", "DELETE"},
					RateLimits:     map[string]int{"default": 60},
				},
				{
					Version:        "v2",
					SecurityLevel:  "AUTHENTICATED",
					AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
					RateLimits:     map[string]int{"default": 120},
				},
			},
		},
		Monitor: MonitorConfig{
			RiskUnauthenticated:   20,
			RiskAuthFailureStatus: 30,
			RiskThreatLow:         10,
			RiskThreatMedium:      25,
			RiskThreatHigh:        50,
			RiskThreatCritical:    80,
			RiskRateLimitExceeded: 40,
			RiskInvalidSignature:  35,
			RiskSuspiciousPattern: 45,
			RiskErrorStatus:       15,
			RiskGeoAnomaly:        20,
			ThreatPatternWeight:   30,
			ThreatErrorWeight:     20,
			ThreatAgentWeight:     25,
			MaxRequestBytes:       10 * 1024 * 1024,
			RapidQuotaRatio:       0.1,
			AlertRiskScore:        70,
			CriticalRiskScore:     90,
		},
		Audit: AuditConfig{
			CaptureRequestBody:  true,
			CaptureResponseBody: true,
			MaxBodyBytes:        8 * 1024,
			SensitiveEndpoints:  []string{"/auth", "/login", "/password", "/payment"},
			RedactedHeaders:     []string{"authorization", "cookie", "x-api-key"},
			RedactedFields:      []string{"password", "token", "secret"},
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 120,
			Burst:             20,
		},
		Store: StoreConfig{
			Driver:  "memory",
			MaxLogs: 50000,
		},
		Testing: TestingConfig{
			Enabled:      true,
			ProbeTimeout: 30 * time.Second,
			SafeMode:     true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from a YAML file, falling back to defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, applyEnv(cfg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, applyEnv(cfg)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, applyEnv(cfg)
}

// applyEnv fills secrets from the environment when they are absent from the
// file, so keys never have to live on disk.
func applyEnv(cfg *Config) error {
	if len(cfg.Server.APIKeys) == 0 {
		if envKey := os.Getenv("APISENTRY_API_KEY"); envKey != "" {
			cfg.Server.APIKeys = []string{envKey}
		}
	}
	if cfg.Signing.Secret == "" {
		cfg.Signing.Secret = os.Getenv("APISENTRY_SIGNING_SECRET")
	}
	if cfg.Signing.Enabled && cfg.Signing.Secret == "" {
		return fmt.Errorf("signature verification enabled but no secret configured (set signing.secret or APISENTRY_SIGNING_SECRET)")
	}
	if cfg.Signing.ValidityWindow <= 0 {
		cfg.Signing.ValidityWindow = 5 * time.Minute
	}
	return nil
}

// SaveConfig writes the configuration to a YAML file.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// VersionByName returns the config for a version string, if registered.
func (c *Config) VersionByName(version string) (*VersionConfig, bool) {
	for i := range c.Versions.Lifetime {
		if c.Versions.Lifetime[i].Version == version {
			return &c.Versions.Lifetime[i], true
		}
	}
	return nil, false
}

// SupportedVersions lists every registered version string in table order.
func (c *Config) SupportedVersions() []string {
	out := make([]string, 0, len(c.Versions.Lifetime))
	for _, v := range c.Versions.Lifetime {
		out = append(out, v.Version)
	}
	return out
}

// LogLevel returns the parsed log level string.
func (c *Config) LogLevel() string {
	return strings.ToLower(c.Logging.Level)
}

// AuthEnabled returns true if API key authentication is configured.
func (c *Config) AuthEnabled() bool {
	return len(c.Server.APIKeys) > 0
}

// ValidateAPIKey checks if the provided key matches any configured API key.
// Uses constant-time comparison to prevent timing attacks.
func (c *Config) ValidateAPIKey(key string) bool {
	for _, valid := range c.Server.APIKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			return true
		}
	}
	return false
}
