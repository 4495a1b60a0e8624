// -------------------------------------------------------------------------
// runner.go — scheduled suite execution: Idle → Running → Idle
// -------------------------------------------------------------------------

package vulntest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/apisentry-project/apisentry/internal/core"
)

// SuiteState is the runner's per-suite state machine.
type SuiteState int

const (
	SuiteIdle SuiteState = iota
	SuiteRunning
)

func (s SuiteState) String() string {
	if s == SuiteRunning {
		return "RUNNING"
	}
	return "IDLE"
}

// SuiteReport summarizes one suite run.
type SuiteReport struct {
	Suite           string                `json:"suite"`
	StartedAt       time.Time             `json:"started_at"`
	Duration        time.Duration         `json:"duration"`
	TotalTests      int                   `json:"total_tests"`
	PassedTests     int                   `json:"passed_tests"`
	FailedTests     int                   `json:"failed_tests"`
	SuccessRate     float64               `json:"success_rate"`
	Recommendations []string              `json:"recommendations"`
	Results         []*SecurityTestResult `json:"results"`
}

// EscalateFunc receives the high-severity events the runner raises when a
// run's failure ratio crosses the escalation threshold.
type EscalateFunc func(event *core.SecurityEvent)

// Runner executes test suites on their cron schedules or on demand. Runs
// are serialized per suite; concurrent triggers for the same suite are
// rejected while a run is in flight.
type Runner struct {
	engine   *Engine
	cfg      core.TestingConfig
	escalate EscalateFunc
	logger   zerolog.Logger

	cron    *cron.Cron
	entries map[string]cron.EntryID

	mu     sync.Mutex
	states map[string]SuiteState
	last   map[string]*SuiteReport
}

// NewRunner wires the runner over an engine. Suites come from config; the
// escalate callback may be nil.
func NewRunner(engine *Engine, cfg core.TestingConfig, escalate EscalateFunc, logger zerolog.Logger) *Runner {
	return &Runner{
		engine:   engine,
		cfg:      cfg,
		escalate: escalate,
		logger:   logger.With().Str("component", "test_runner").Logger(),
		cron:     cron.New(),
		entries:  make(map[string]cron.EntryID),
		states:   make(map[string]SuiteState),
		last:     make(map[string]*SuiteReport),
	}
}

// Start registers every enabled suite with a schedule and starts the cron
// loop. Suites without a schedule run on manual trigger only.
func (r *Runner) Start(ctx context.Context) error {
	for _, suite := range r.cfg.Suites {
		if !suite.Enabled || suite.Schedule == "" {
			continue
		}
		name := suite.Name
		id, err := r.cron.AddFunc(suite.Schedule, func() {
			if _, err := r.RunSuite(ctx, name); err != nil {
				r.logger.Warn().Err(err).Str("suite", name).Msg("scheduled run skipped")
			}
		})
		if err != nil {
			return fmt.Errorf("registering schedule for suite %s: %w", name, err)
		}
		r.entries[name] = id
		r.logger.Info().Str("suite", name).Str("schedule", suite.Schedule).Msg("suite scheduled")
	}
	r.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for in-flight scheduled runs.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
}

// State returns the suite's current state.
func (r *Runner) State(suite string) SuiteState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[suite]
}

// LastReport returns the most recent report for a suite, if any.
func (r *Runner) LastReport(suite string) (*SuiteReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.last[suite]
	return rep, ok
}

// Suites lists the configured suite names in config order.
func (r *Runner) Suites() []string {
	out := make([]string, 0, len(r.cfg.Suites))
	for _, s := range r.cfg.Suites {
		out = append(out, s.Name)
	}
	return out
}

// RunSuite executes one suite by name. It returns an error if the suite is
// unknown, disabled, or already running.
func (r *Runner) RunSuite(ctx context.Context, name string) (*SuiteReport, error) {
	suite, ok := r.suiteByName(name)
	if !ok {
		return nil, fmt.Errorf("unknown test suite %q", name)
	}
	if !suite.Enabled {
		return nil, fmt.Errorf("test suite %q is disabled", name)
	}

	r.mu.Lock()
	if r.states[name] == SuiteRunning {
		r.mu.Unlock()
		return nil, fmt.Errorf("test suite %q is already running", name)
	}
	r.states[name] = SuiteRunning
	r.mu.Unlock()

	report := r.execute(ctx, suite)

	r.mu.Lock()
	r.states[name] = SuiteIdle
	r.last[name] = report
	r.mu.Unlock()

	if report.TotalTests > 0 {
		failureRatio := float64(report.FailedTests) / float64(report.TotalTests)
		if failureRatio > 0.2 {
			r.escalateReport(report, failureRatio)
		}
	}
	return report, nil
}

// RunAll triggers every enabled suite sequentially, collecting reports.
func (r *Runner) RunAll(ctx context.Context) []*SuiteReport {
	var reports []*SuiteReport
	for _, suite := range r.cfg.Suites {
		if !suite.Enabled {
			continue
		}
		report, err := r.RunSuite(ctx, suite.Name)
		if err != nil {
			r.logger.Warn().Err(err).Str("suite", suite.Name).Msg("suite run failed")
			continue
		}
		reports = append(reports, report)
	}
	return reports
}

func (r *Runner) execute(ctx context.Context, suite core.TestSuiteConfig) *SuiteReport {
	started := time.Now()
	report := &SuiteReport{
		Suite:     suite.Name,
		StartedAt: started.UTC(),
	}

	// Higher-priority endpoints probe first.
	endpoints := append([]core.EndpointTestConfig(nil), suite.Endpoints...)
	sort.SliceStable(endpoints, func(i, j int) bool {
		return endpoints[i].Priority > endpoints[j].Priority
	})

	for _, ep := range endpoints {
		if !ep.Enabled {
			continue
		}
		for _, method := range ep.Methods {
			result := r.runOne(ctx, suite.BaseURL, ep, method)
			if result == nil {
				// The endpoint's failure is isolated; the suite continues.
				report.TotalTests++
				report.FailedTests++
				continue
			}
			report.TotalTests++
			report.Results = append(report.Results, result)
			if result.Passed {
				report.PassedTests++
			} else {
				report.FailedTests++
			}
		}
	}

	report.Duration = time.Since(started)
	if report.TotalTests > 0 {
		report.SuccessRate = float64(report.PassedTests) / float64(report.TotalTests) * 100
	}
	report.Recommendations = r.tieredRecommendations(report)

	r.logger.Info().
		Str("suite", suite.Name).
		Int("total", report.TotalTests).
		Int("passed", report.PassedTests).
		Int("failed", report.FailedTests).
		Float64("success_rate", report.SuccessRate).
		Dur("duration", report.Duration).
		Msg("suite run completed")
	return report
}

// runOne invokes the engine for a single (endpoint, method) pair under its
// own fault boundary. The endpoint's declared test types narrow the probe
// battery; an endpoint without them runs every category.
func (r *Runner) runOne(ctx context.Context, baseURL string, ep core.EndpointTestConfig, method string) (result *SecurityTestResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("endpoint", ep.Endpoint).
				Str("method", method).
				Interface("panic", rec).
				Msg("endpoint test panicked")
			result = nil
		}
	}()
	probeCtx, cancel := probeDeadline(ctx, r.cfg.ProbeTimeout)
	defer cancel()
	return r.engine.RunSecurityTests(probeCtx, baseURL, ep.Endpoint, method, ep.TestTypes...)
}

// tieredRecommendations maps the failure ratio onto escalating guidance and
// appends the deduplicated per-finding recommendations.
func (r *Runner) tieredRecommendations(report *SuiteReport) []string {
	var out []string
	if report.TotalTests == 0 {
		return out
	}
	failureRatio := float64(report.FailedTests) / float64(report.TotalTests)
	switch {
	case failureRatio == 0:
		out = append(out, "all tests passed; maintain the current security posture and re-run on schedule")
	case failureRatio <= 0.2:
		out = append(out, "minor issues detected; remediate the individual findings below")
	case failureRatio <= 0.5:
		out = append(out, "significant failure rate; prioritize remediation of high-severity findings this cycle")
	default:
		out = append(out, "majority of tests failing; treat the API surface as compromised and remediate immediately")
	}

	seen := make(map[string]bool)
	for _, result := range report.Results {
		for _, rec := range result.Recommendations {
			if !seen[rec] {
				seen[rec] = true
				out = append(out, rec)
			}
		}
	}
	return out
}

func (r *Runner) escalateReport(report *SuiteReport, failureRatio float64) {
	r.logger.Error().
		Str("suite", report.Suite).
		Float64("failure_ratio", failureRatio).
		Msg("suite failure ratio exceeds escalation threshold")
	if r.escalate == nil {
		return
	}
	event := core.NewSecurityEvent("test_runner", "suite_failure_escalation", core.SeverityHigh,
		fmt.Sprintf("test suite %s failed %d of %d tests", report.Suite, report.FailedTests, report.TotalTests))
	event.Details = map[string]interface{}{
		"suite":         report.Suite,
		"total_tests":   report.TotalTests,
		"failed_tests":  report.FailedTests,
		"success_rate":  report.SuccessRate,
		"failure_ratio": failureRatio,
	}
	r.escalate(event)
}

func (r *Runner) suiteByName(name string) (core.TestSuiteConfig, bool) {
	for _, s := range r.cfg.Suites {
		if s.Name == name {
			return s, true
		}
	}
	return core.TestSuiteConfig{}, false
}
