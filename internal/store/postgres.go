package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/apisentry-project/apisentry/internal/monitor"
	"github.com/apisentry-project/apisentry/internal/vulntest"
)

const schema = `
CREATE TABLE IF NOT EXISTS api_security_logs (
	id TEXT PRIMARY KEY,
	method TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	version TEXT,
	principal_id TEXT,
	ip_address TEXT,
	risk_score INTEGER NOT NULL,
	response_status INTEGER NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	record JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON api_security_logs (timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_logs_endpoint ON api_security_logs (endpoint);
CREATE INDEX IF NOT EXISTS idx_logs_risk ON api_security_logs (risk_score);

CREATE TABLE IF NOT EXISTS security_test_results (
	test_id TEXT PRIMARY KEY,
	endpoint TEXT NOT NULL,
	method TEXT NOT NULL,
	passed BOOLEAN NOT NULL,
	risk_score INTEGER NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	record JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_endpoint ON security_test_results (endpoint, timestamp DESC);
`

// PostgresStore persists records as indexed JSONB rows. The full record
// lives in the JSONB column; the scalar columns exist for filtering.
type PostgresStore struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

func NewPostgresStore(dsn string, logger zerolog.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &PostgresStore{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}, nil
}

func (s *PostgresStore) SaveLog(log *monitor.APISecurityLog) error {
	record, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("marshaling log record: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO api_security_logs
			(id, method, endpoint, version, principal_id, ip_address, risk_score, response_status, timestamp, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		log.ID, log.Method, log.Endpoint, log.Version, log.PrincipalID,
		log.IPAddress, log.RiskScore, log.ResponseStatus, log.Timestamp, record)
	if err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

func (s *PostgresStore) QueryLogs(filter LogFilter) ([]*monitor.APISecurityLog, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Method != "" {
		add("method = $%d", filter.Method)
	}
	if filter.Endpoint != "" {
		add("endpoint = $%d", filter.Endpoint)
	}
	if filter.Version != "" {
		add("version = $%d", filter.Version)
	}
	if filter.PrincipalID != "" {
		add("principal_id = $%d", filter.PrincipalID)
	}
	if filter.IPAddress != "" {
		add("ip_address = $%d", filter.IPAddress)
	}
	if filter.MinRisk > 0 {
		add("risk_score >= $%d", filter.MinRisk)
	}
	if filter.MaxRisk > 0 {
		add("risk_score <= $%d", filter.MaxRisk)
	}
	if filter.From != nil {
		add("timestamp >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("timestamp <= $%d", *filter.To)
	}

	query := "SELECT record FROM api_security_logs"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows [][]byte
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}

	out := make([]*monitor.APISecurityLog, 0, len(rows))
	for _, raw := range rows {
		var log monitor.APISecurityLog
		if err := json.Unmarshal(raw, &log); err != nil {
			s.logger.Warn().Err(err).Msg("skipping unreadable log record")
			continue
		}
		out = append(out, &log)
	}
	return out, nil
}

func (s *PostgresStore) SaveTestResult(result *vulntest.SecurityTestResult) error {
	record, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling test result: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO security_test_results
			(test_id, endpoint, method, passed, risk_score, timestamp, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		result.TestID, result.Endpoint, result.Method, result.Passed,
		result.RiskScore, result.Timestamp, record)
	if err != nil {
		return fmt.Errorf("inserting test result: %w", err)
	}
	return nil
}

func (s *PostgresStore) QueryTestResults(endpoint string, limit int) ([]*vulntest.SecurityTestResult, error) {
	query := "SELECT record FROM security_test_results"
	var args []interface{}
	if endpoint != "" {
		args = append(args, endpoint)
		query += " WHERE endpoint = $1"
	}
	query += " ORDER BY timestamp DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows [][]byte
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying test results: %w", err)
	}

	out := make([]*vulntest.SecurityTestResult, 0, len(rows))
	for _, raw := range rows {
		var result vulntest.SecurityTestResult
		if err := json.Unmarshal(raw, &result); err != nil {
			s.logger.Warn().Err(err).Msg("skipping unreadable test result")
			continue
		}
		out = append(out, &result)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
