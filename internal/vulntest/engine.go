// -------------------------------------------------------------------------
// engine.go — attack-simulation engine: five probe categories, one result
// -------------------------------------------------------------------------

package vulntest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/apisentry-project/apisentry/internal/core"
)

// ResultSink persists finished test results. History is append-only.
type ResultSink interface {
	SaveTestResult(result *SecurityTestResult) error
}

// Engine runs the probe battery against a target. Each category executes
// under its own fault boundary; a panicking or timed-out probe becomes a
// finding, never a crash.
type Engine struct {
	harness *Harness
	probes  []Probe
	sink    ResultSink
	logger  zerolog.Logger
}

// NewEngine wires the engine from the testing config. The sink may be nil
// when callers only want the in-memory result.
func NewEngine(cfg core.TestingConfig, sink ResultSink, logger zerolog.Logger) *Engine {
	return &Engine{
		harness: NewHarness(cfg.ProbeTimeout, cfg.SafeMode),
		probes:  defaultProbes(),
		sink:    sink,
		logger:  logger.With().Str("component", "vulntest").Logger(),
	}
}

// RunSecurityTests probes one (endpoint, method) pair and aggregates the
// findings into a scored, persisted result. testTypes restricts the run to
// the named probe categories; none selects all of them.
func (e *Engine) RunSecurityTests(ctx context.Context, baseURL, endpoint, method string, testTypes ...string) *SecurityTestResult {
	result := newTestResult(endpoint, method)
	target := Target{BaseURL: baseURL, Endpoint: endpoint, Method: method}

	score := 0
	for _, probe := range selectProbes(e.probes, testTypes) {
		vulns := e.runProbe(ctx, probe, target)
		if len(vulns) > 0 {
			result.Vulnerabilities = append(result.Vulnerabilities, vulns...)
			score += probe.Weight()
		}
	}
	if score > 100 {
		score = 100
	}
	result.RiskScore = score
	result.Passed = len(result.Vulnerabilities) == 0
	result.Recommendations = recommendationsFor(result.Vulnerabilities)

	e.logger.Info().
		Str("test_id", result.TestID).
		Str("endpoint", endpoint).
		Str("method", method).
		Bool("passed", result.Passed).
		Int("risk_score", result.RiskScore).
		Int("findings", len(result.Vulnerabilities)).
		Msg("security test completed")

	e.persist(result)
	return result
}

// selectProbes filters the battery down to the requested categories.
// Unknown names select nothing, so a typo in config never silently widens
// the run.
func selectProbes(probes []Probe, testTypes []string) []Probe {
	if len(testTypes) == 0 {
		return probes
	}
	wanted := make(map[string]bool, len(testTypes))
	for _, t := range testTypes {
		wanted[t] = true
	}
	out := make([]Probe, 0, len(probes))
	for _, p := range probes {
		if wanted[p.Name()] {
			out = append(out, p)
		}
	}
	return out
}

// runProbe executes one category inside its fault boundary. Timeouts and
// panics degrade to an INSUFFICIENT_LOGGING finding so the aggregate result
// records that the category could not complete.
func (e *Engine) runProbe(ctx context.Context, probe Probe, target Target) (vulns []Vulnerability) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("probe", probe.Name()).
				Interface("panic", r).
				Msg("probe panicked")
			vulns = append(vulns, probeFailureFinding(probe, fmt.Sprintf("probe panicked: %v", r)))
		}
	}()

	found, err := probe.Run(ctx, e.harness, target)
	if err != nil {
		if IsTimeout(err) {
			e.logger.Warn().Str("probe", probe.Name()).Msg("probe timed out")
			return append(found, probeFailureFinding(probe, "target did not respond within the probe timeout"))
		}
		e.logger.Warn().Err(err).Str("probe", probe.Name()).Msg("probe failed to reach target")
		return append(found, probeFailureFinding(probe, fmt.Sprintf("target unreachable: %v", err)))
	}
	return found
}

func probeFailureFinding(probe Probe, detail string) Vulnerability {
	return Vulnerability{
		Type:        VulnInsufficientLogging,
		Severity:    severityLow,
		Description: fmt.Sprintf("%s probe could not complete", probe.Name()),
		Evidence:    detail,
		Remediation: RemediationFor(VulnInsufficientLogging),
	}
}

// recommendationsFor derives the deduplicated, sorted recommendation set
// from the vulnerability types present.
func recommendationsFor(vulns []Vulnerability) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, v := range vulns {
		rec := RemediationFor(v.Type)
		if !seen[rec] {
			seen[rec] = true
			out = append(out, rec)
		}
	}
	sort.Strings(out)
	return out
}

func (e *Engine) persist(result *SecurityTestResult) {
	if e.sink == nil {
		return
	}
	if err := e.sink.SaveTestResult(result); err != nil {
		e.logger.Error().Err(err).Str("test_id", result.TestID).Msg("failed to persist test result")
	}
}

// probeDeadline derives the per-probe context. Exposed for the runner.
func probeDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
