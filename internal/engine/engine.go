// -------------------------------------------------------------------------
// engine.go — wires config, bus, pipeline, monitor, runner, and store
// -------------------------------------------------------------------------

package engine

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/apisentry-project/apisentry/internal/core"
	"github.com/apisentry-project/apisentry/internal/monitor"
	"github.com/apisentry-project/apisentry/internal/store"
	"github.com/apisentry-project/apisentry/internal/vulntest"
)

// Engine owns every long-lived component and their lifecycles.
type Engine struct {
	Config   *core.Config
	Bus      *core.EventBus
	Pipeline *core.AlertPipeline
	Monitor  *monitor.Monitor
	Runner   *vulntest.Runner
	Store    store.Store
	Logger   zerolog.Logger

	logBuffer *core.LogRingBuffer
	webhooks  *core.WebhookDispatcher
	geo       monitor.GeoResolver
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewEngine assembles the engine from configuration. Nothing starts until
// Start is called.
func NewEngine(cfg *core.Config) (*Engine, error) {
	logBuffer := core.NewLogRingBuffer(1000)

	var logger zerolog.Logger
	if cfg.Logging.Format == "json" {
		logger = zerolog.New(logBuffer.MultiWriter(os.Stdout)).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(logBuffer.MultiWriter(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})).With().Timestamp().Logger()
	}

	switch cfg.LogLevel() {
	case "debug":
		logger = logger.Level(zerolog.DebugLevel)
	case "warn":
		logger = logger.Level(zerolog.WarnLevel)
	case "error":
		logger = logger.Level(zerolog.ErrorLevel)
	default:
		logger = logger.Level(zerolog.InfoLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		Config:    cfg,
		Pipeline:  core.NewAlertPipeline(logger, cfg.Alerts.MaxStore),
		Logger:    logger.With().Str("component", "engine").Logger(),
		logBuffer: logBuffer,
		ctx:       ctx,
		cancel:    cancel,
	}

	if cfg.Alerts.EnableConsole {
		e.Pipeline.AddHandler(func(alert *core.Alert) {
			e.Logger.Warn().
				Str("alert_id", alert.ID).
				Str("component", alert.Component).
				Str("severity", alert.Severity.String()).
				Str("title", alert.Title).
				Int("risk_score", alert.RiskScore).
				Msg("SECURITY ALERT")
		})
	}

	if len(cfg.Alerts.WebhookURLs) > 0 {
		e.webhooks = core.NewWebhookDispatcher(logger, core.DefaultWebhookRetryConfig())
		urls := cfg.Alerts.WebhookURLs
		e.Pipeline.AddHandler(func(alert *core.Alert) {
			for _, url := range urls {
				e.webhooks.EnqueueAlert(url, alert)
			}
		})
	}

	st, err := store.Open(cfg.Store, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("opening store: %w", err)
	}
	e.Store = st

	geo, err := monitor.NewGeoResolver(cfg.Geo.CityDBPath, logger)
	if err != nil {
		// Geolocation is enrichment only; run without it.
		e.Logger.Warn().Err(err).Msg("geolocation disabled")
	}
	e.geo = geo

	e.Monitor = monitor.NewMonitor(cfg, geo, st, e.raiseAlert, logger)

	if cfg.Testing.Enabled {
		testEngine := vulntest.NewEngine(cfg.Testing, st, logger)
		e.Runner = vulntest.NewRunner(testEngine, cfg.Testing, e.raiseAlert, logger)
	}

	return e, nil
}

// raiseAlert converts a security event into a pipeline alert and publishes
// the event on the bus when one is connected.
func (e *Engine) raiseAlert(event *core.SecurityEvent) {
	alert := core.NewAlert(event, event.Summary, alertDescription(event))
	e.Pipeline.Process(alert)
	if e.Bus != nil {
		if err := e.Bus.PublishEvent(event); err != nil {
			e.Logger.Error().Err(err).Str("event_id", event.ID).Msg("failed to publish event to bus")
		}
	}
}

func alertDescription(event *core.SecurityEvent) string {
	if event.Endpoint != "" {
		return fmt.Sprintf("%s %s from %s scored %d", event.Method, event.Endpoint, event.SourceIP, event.RiskScore)
	}
	return event.Summary
}

// Start brings up the event bus, wires alert publishing, and starts the
// scheduled test runner.
func (e *Engine) Start() error {
	e.startedAt = time.Now()
	e.Logger.Info().Msg("starting apisentry engine")

	bus, err := core.NewEventBus(&e.Config.Bus, e.Logger)
	if err != nil {
		return fmt.Errorf("starting event bus: %w", err)
	}
	e.Bus = bus

	e.Pipeline.AddHandler(func(alert *core.Alert) {
		if err := e.Bus.PublishAlert(alert); err != nil {
			e.Logger.Error().Err(err).Str("alert_id", alert.ID).Msg("failed to publish alert to bus")
		}
	})

	// Tap the event stream so bus round-trips show up in the engine log.
	err = bus.SubscribeToAllEvents(func(event *core.SecurityEvent) {
		e.Logger.Debug().
			Str("event_id", event.ID).
			Str("type", event.Type).
			Str("severity", event.Severity.String()).
			Msg("event on bus")
	})
	if err != nil {
		e.Logger.Warn().Err(err).Msg("event stream tap unavailable")
	}

	if e.Runner != nil {
		if err := e.Runner.Start(e.ctx); err != nil {
			return fmt.Errorf("starting test runner: %w", err)
		}
	}

	e.Logger.Info().
		Str("store", e.Config.Store.Driver).
		Bool("signing", e.Config.Signing.Enabled).
		Bool("testing", e.Config.Testing.Enabled).
		Msg("apisentry engine started")
	return nil
}

// Run starts the engine and blocks until SIGINT/SIGTERM.
func (e *Engine) Run() error {
	if err := e.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		e.Logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-e.ctx.Done():
	}

	return e.Shutdown()
}

// Shutdown stops components in reverse start order.
func (e *Engine) Shutdown() error {
	e.Logger.Info().Msg("shutting down apisentry engine")
	e.cancel()

	if e.Runner != nil {
		e.Runner.Stop()
	}
	if e.webhooks != nil {
		e.webhooks.Stop()
	}
	if e.Bus != nil {
		if err := e.Bus.Close(); err != nil {
			e.Logger.Error().Err(err).Msg("error closing event bus")
		}
	}
	if e.geo != nil {
		if err := e.geo.Close(); err != nil {
			e.Logger.Error().Err(err).Msg("error closing geo database")
		}
	}
	if err := e.Store.Close(); err != nil {
		e.Logger.Error().Err(err).Msg("error closing store")
	}

	e.Logger.Info().Msg("apisentry engine stopped")
	return nil
}

// GetLogEntries returns the most recent captured log lines.
func (e *Engine) GetLogEntries(n int) []core.LogEntry {
	return e.logBuffer.GetEntries(n)
}

// Uptime reports how long the engine has been running.
func (e *Engine) Uptime() time.Duration {
	if e.startedAt.IsZero() {
		return 0
	}
	return time.Since(e.startedAt)
}

// WebhookStats exposes dispatcher counters for the status endpoint.
func (e *Engine) WebhookStats() map[string]interface{} {
	if e.webhooks == nil {
		return nil
	}
	return e.webhooks.Stats()
}
