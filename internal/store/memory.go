package store

import (
	"sync"

	"github.com/apisentry-project/apisentry/internal/monitor"
	"github.com/apisentry-project/apisentry/internal/vulntest"
)

// MemoryStore is the zero-config default: bounded in-memory retention,
// oldest records evicted first.
type MemoryStore struct {
	mu      sync.RWMutex
	logs    []*monitor.APISecurityLog
	results []*vulntest.SecurityTestResult
	maxLogs int
}

func NewMemoryStore(maxLogs int) *MemoryStore {
	if maxLogs <= 0 {
		maxLogs = 50000
	}
	return &MemoryStore{maxLogs: maxLogs}
}

func (s *MemoryStore) SaveLog(log *monitor.APISecurityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, log)
	if len(s.logs) > s.maxLogs {
		drop := len(s.logs) - s.maxLogs
		s.logs = append([]*monitor.APISecurityLog(nil), s.logs[drop:]...)
	}
	return nil
}

// QueryLogs returns matching records, most recent first.
func (s *MemoryStore) QueryLogs(filter LogFilter) ([]*monitor.APISecurityLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*monitor.APISecurityLog
	for i := len(s.logs) - 1; i >= 0; i-- {
		if !filter.Matches(s.logs[i]) {
			continue
		}
		out = append(out, s.logs[i])
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveTestResult(result *vulntest.SecurityTestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return nil
}

// QueryTestResults returns results for an endpoint, most recent first. An
// empty endpoint matches all.
func (s *MemoryStore) QueryTestResults(endpoint string, limit int) ([]*vulntest.SecurityTestResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*vulntest.SecurityTestResult
	for i := len(s.results) - 1; i >= 0; i-- {
		if endpoint != "" && s.results[i].Endpoint != endpoint {
			continue
		}
		out = append(out, s.results[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// LogCount reports the retained log count, for status reporting.
func (s *MemoryStore) LogCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs)
}
