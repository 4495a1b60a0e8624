// -------------------------------------------------------------------------
// store.go — persistence contract for audit logs and test results
// -------------------------------------------------------------------------

package store

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/apisentry-project/apisentry/internal/core"
	"github.com/apisentry-project/apisentry/internal/monitor"
	"github.com/apisentry-project/apisentry/internal/vulntest"
)

// Store persists audit logs and security test results. Both histories are
// append-only; nothing is ever updated in place.
type Store interface {
	SaveLog(log *monitor.APISecurityLog) error
	QueryLogs(filter LogFilter) ([]*monitor.APISecurityLog, error)
	SaveTestResult(result *vulntest.SecurityTestResult) error
	QueryTestResults(endpoint string, limit int) ([]*vulntest.SecurityTestResult, error)
	Close() error
}

// LogFilter narrows an audit-log query. Zero-valued fields match
// everything.
type LogFilter struct {
	Method      string
	Endpoint    string
	Version     string
	PrincipalID string
	IPAddress   string
	MinRisk     int
	MaxRisk     int // 0 means no upper bound
	From        *time.Time
	To          *time.Time
	Limit       int
}

// Matches reports whether one record satisfies the filter.
func (f LogFilter) Matches(log *monitor.APISecurityLog) bool {
	if f.Method != "" && log.Method != f.Method {
		return false
	}
	if f.Endpoint != "" && log.Endpoint != f.Endpoint {
		return false
	}
	if f.Version != "" && log.Version != f.Version {
		return false
	}
	if f.PrincipalID != "" && log.PrincipalID != f.PrincipalID {
		return false
	}
	if f.IPAddress != "" && log.IPAddress != f.IPAddress {
		return false
	}
	if log.RiskScore < f.MinRisk {
		return false
	}
	if f.MaxRisk > 0 && log.RiskScore > f.MaxRisk {
		return false
	}
	if f.From != nil && log.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && log.Timestamp.After(*f.To) {
		return false
	}
	return true
}

// Open selects the store implementation from config.
func Open(cfg core.StoreConfig, logger zerolog.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(cfg.MaxLogs), nil
	case "postgres":
		return NewPostgresStore(cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
