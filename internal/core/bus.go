package core

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// EventBus is the JetStream fabric behind the engine. Audit events,
// high-risk alerts, and test-run summaries flow through it so external
// consumers (SIEM forwarders, dashboards) can tap the streams without
// touching the request path.
type EventBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	ns     *server.Server
	logger zerolog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription

	eventsPublished atomic.Int64
	eventsFailed    atomic.Int64
	alertsPublished atomic.Int64
	messagesAcked   atomic.Int64
	messagesNaked   atomic.Int64
}

// NewEventBus connects to NATS, starting an embedded JetStream server first
// when cfg.Embedded is set, and ensures both engine streams exist.
func NewEventBus(cfg *BusConfig, logger zerolog.Logger) (*EventBus, error) {
	bus := &EventBus{logger: logger.With().Str("component", "event_bus").Logger()}

	url := cfg.URL
	if cfg.Embedded {
		if err := bus.startEmbedded(cfg); err != nil {
			return nil, err
		}
		url = fmt.Sprintf("nats://127.0.0.1:%d", cfg.Port)
	}

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				bus.logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			bus.logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	bus.nc = nc

	if bus.js, err = nc.JetStream(); err != nil {
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	// Events are kept for a week; alerts a month for trend reporting.
	if err := bus.ensureStream(&nats.StreamConfig{
		Name:      "APISEC_EVENTS",
		Subjects:  []string{"apisec.events.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024,
		Storage:   nats.FileStorage,
		Discard:   nats.DiscardOld,
	}); err != nil {
		return nil, err
	}
	if err := bus.ensureStream(&nats.StreamConfig{
		Name:      "APISEC_ALERTS",
		Subjects:  []string{"apisec.alerts.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    30 * 24 * time.Hour,
		MaxBytes:  512 * 1024 * 1024,
		Storage:   nats.FileStorage,
		Discard:   nats.DiscardOld,
	}); err != nil {
		return nil, err
	}

	bus.logger.Info().Str("url", url).Msg("connected to NATS JetStream")
	return bus, nil
}

func (b *EventBus) startEmbedded(cfg *BusConfig) error {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("creating NATS data dir: %w", err)
	}

	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      cfg.Port,
		JetStream: true,
		StoreDir:  cfg.DataDir,
		NoLog:     true,
		NoSigs:    true,
	})
	if err != nil {
		return fmt.Errorf("creating embedded NATS server: %w", err)
	}

	ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("embedded NATS server failed to start within timeout")
	}

	b.ns = ns
	b.logger.Info().Int("port", cfg.Port).Msg("embedded NATS server started")
	return nil
}

// ensureStream creates the stream, falling back to an in-place update when
// it already exists with a different configuration (e.g. after an upgrade).
func (b *EventBus) ensureStream(cfg *nats.StreamConfig) error {
	addErr := func() error { _, err := b.js.AddStream(cfg); return err }()
	if addErr == nil {
		return nil
	}
	if _, err := b.js.UpdateStream(cfg); err != nil {
		return fmt.Errorf("ensuring stream %s: %w (add: %v)", cfg.Name, err, addErr)
	}
	return nil
}

// PublishEvent publishes a SecurityEvent under apisec.events.<component>.<type>.
func (b *EventBus) PublishEvent(event *SecurityEvent) error {
	data, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	subject := fmt.Sprintf("apisec.events.%s.%s", event.Component, event.Type)
	if _, err := b.js.Publish(subject, data); err != nil {
		b.eventsFailed.Add(1)
		return fmt.Errorf("publishing event to %s: %w", subject, err)
	}
	b.eventsPublished.Add(1)

	b.logger.Debug().
		Str("event_id", event.ID).
		Str("subject", subject).
		Str("severity", event.Severity.String()).
		Msg("event published")
	return nil
}

// PublishAlert publishes an Alert under apisec.alerts.<component>.<severity>.
func (b *EventBus) PublishAlert(alert *Alert) error {
	data, err := alert.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}

	subject := fmt.Sprintf("apisec.alerts.%s.%s", alert.Component, alert.Severity.String())
	if _, err := b.js.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing alert to %s: %w", subject, err)
	}
	b.alertsPublished.Add(1)
	return nil
}

// Subscribe creates a push subscription, durable when durableName is set.
func (b *EventBus) Subscribe(subject, durableName string, handler func(msg *nats.Msg)) error {
	opts := []nats.SubOpt{nats.DeliverNew(), nats.AckExplicit()}
	if durableName != "" {
		opts = append(opts, nats.Durable(durableName))
	}
	sub, err := b.js.Subscribe(subject, handler, opts...)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.logger.Debug().Str("subject", subject).Str("durable", durableName).Msg("subscribed")
	return nil
}

// SubscribeToAllEvents consumes every audit event via a durable consumer,
// acking decoded messages and naking the undecodable.
func (b *EventBus) SubscribeToAllEvents(handler func(event *SecurityEvent)) error {
	return b.Subscribe("apisec.events.>", "apisentry-engine-events", func(msg *nats.Msg) {
		event, err := UnmarshalSecurityEvent(msg.Data)
		if err != nil {
			b.logger.Error().Err(err).Msg("failed to unmarshal event")
			_ = msg.Nak()
			b.messagesNaked.Add(1)
			return
		}
		handler(event)
		_ = msg.Ack()
		b.messagesAcked.Add(1)
	})
}

// IsConnected reports whether the NATS connection is up.
func (b *EventBus) IsConnected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

// GetMetrics returns a snapshot of bus counters.
func (b *EventBus) GetMetrics() map[string]int64 {
	return map[string]int64{
		"events_published": b.eventsPublished.Load(),
		"events_failed":    b.eventsFailed.Load(),
		"alerts_published": b.alertsPublished.Load(),
		"messages_acked":   b.messagesAcked.Load(),
		"messages_naked":   b.messagesNaked.Load(),
	}
}

// Close unsubscribes consumers, drops the connection, and stops the
// embedded server when one is running.
func (b *EventBus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()

	if b.nc != nil {
		b.nc.Close()
	}
	if b.ns != nil {
		b.ns.Shutdown()
		b.ns.WaitForShutdown()
	}

	b.logger.Info().Msg("event bus closed")
	return nil
}
