package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// webhook.go — pushes security alerts to external sinks.
//
// High-risk request alerts and runner escalations get POSTed to configured
// URLs (Slack, PagerDuty, SIEM ingest). Sinks flake, so each delivery is
// retried with growing backoff; what still fails lands in a bounded
// dead-letter buffer, and a URL that keeps failing is paused for a while.
// ---------------------------------------------------------------------------

// WebhookDelivery is one alert payload on its way to one URL.
type WebhookDelivery struct {
	ID        string                 `json:"id"`
	URL       string                 `json:"url"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
	Attempts  int                    `json:"attempts"`
	LastError string                 `json:"last_error,omitempty"`
	Status    string                 `json:"status"` // "pending", "delivered", "dead_letter"
}

// DeadLetterEntry preserves a delivery that ran out of retries.
type DeadLetterEntry struct {
	Delivery  WebhookDelivery `json:"delivery"`
	FailedAt  time.Time       `json:"failed_at"`
	LastError string          `json:"last_error"`
}

// WebhookRetryConfig controls retry behavior.
type WebhookRetryConfig struct {
	MaxRetries     int           `yaml:"max_retries" json:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" json:"max_backoff"`
	QueueSize      int           `yaml:"queue_size" json:"queue_size"`
	Workers        int           `yaml:"workers" json:"workers"`
	CircuitBreaker int           `yaml:"circuit_breaker_threshold" json:"circuit_breaker_threshold"`
	CircuitPause   time.Duration `yaml:"circuit_pause" json:"circuit_pause"`
}

func DefaultWebhookRetryConfig() WebhookRetryConfig {
	return WebhookRetryConfig{
		MaxRetries:     5,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		QueueSize:      1000,
		Workers:        4,
		CircuitBreaker: 5,
		CircuitPause:   time.Minute,
	}
}

const deadLetterCap = 500

// WebhookDispatcher delivers queued alerts from a small worker pool.
type WebhookDispatcher struct {
	logger  zerolog.Logger
	cfg     WebhookRetryConfig
	pending chan *WebhookDelivery

	deadMu sync.RWMutex
	dead   []*DeadLetterEntry

	brMu      sync.Mutex
	strikes   map[string]int
	openUntil map[string]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWebhookDispatcher(logger zerolog.Logger, cfg WebhookRetryConfig) *WebhookDispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &WebhookDispatcher{
		logger:    logger.With().Str("component", "webhook_dispatcher").Logger(),
		cfg:       cfg,
		pending:   make(chan *WebhookDelivery, cfg.QueueSize),
		strikes:   make(map[string]int),
		openUntil: make(map[string]time.Time),
		ctx:       ctx,
		cancel:    cancel,
	}

	n := cfg.Workers
	if n <= 0 {
		n = 4
	}
	d.wg.Add(n)
	for i := 0; i < n; i++ {
		go d.work()
	}

	d.logger.Info().Int("workers", n).Int("queue_size", cfg.QueueSize).Msg("webhook dispatcher started")
	return d
}

// EnqueueAlert queues an alert for the given URL and returns the delivery
// ID without waiting; workers handle retries in the background.
func (d *WebhookDispatcher) EnqueueAlert(url string, alert *Alert) string {
	delivery := &WebhookDelivery{
		ID:  uuid.New().String(),
		URL: url,
		Payload: map[string]interface{}{
			"source": "apisentry",
			"alert":  alert,
		},
		CreatedAt: time.Now().UTC(),
		Status:    "pending",
	}

	select {
	case d.pending <- delivery:
		d.logger.Debug().Str("id", delivery.ID).Str("url", url).Msg("webhook enqueued")
	default:
		d.logger.Warn().Str("url", url).Msg("webhook queue full — delivery dropped")
		d.bury(delivery, "queue full — delivery dropped")
	}
	return delivery.ID
}

// GetDeadLetters returns up to limit of the most recent failed deliveries,
// oldest first. limit <= 0 returns everything.
func (d *WebhookDispatcher) GetDeadLetters(limit int) []*DeadLetterEntry {
	d.deadMu.RLock()
	defer d.deadMu.RUnlock()

	if limit <= 0 || limit > len(d.dead) {
		limit = len(d.dead)
	}
	out := make([]*DeadLetterEntry, limit)
	copy(out, d.dead[len(d.dead)-limit:])
	return out
}

// Stats returns dispatcher counters for the status endpoint.
func (d *WebhookDispatcher) Stats() map[string]interface{} {
	d.deadMu.RLock()
	buried := len(d.dead)
	d.deadMu.RUnlock()

	now := time.Now()
	open := 0
	d.brMu.Lock()
	for url, until := range d.openUntil {
		if now.Before(until) {
			open++
			continue
		}
		delete(d.openUntil, url)
		delete(d.strikes, url)
	}
	d.brMu.Unlock()

	return map[string]interface{}{
		"queue_depth":    len(d.pending),
		"queue_capacity": d.cfg.QueueSize,
		"dead_letters":   buried,
		"open_circuits":  open,
		"workers":        d.cfg.Workers,
		"max_retries":    d.cfg.MaxRetries,
	}
}

// Stop drains the workers and shuts the dispatcher down.
func (d *WebhookDispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
	d.logger.Info().Int("dead_letters", len(d.dead)).Msg("webhook dispatcher stopped")
}

func (d *WebhookDispatcher) work() {
	defer d.wg.Done()
	client := &http.Client{Timeout: 15 * time.Second}

	for {
		select {
		case <-d.ctx.Done():
			return
		case delivery := <-d.pending:
			d.deliver(client, delivery)
		}
	}
}

func (d *WebhookDispatcher) deliver(client *http.Client, delivery *WebhookDelivery) {
	if d.isCircuitOpen(delivery.URL) {
		d.logger.Warn().Str("url", delivery.URL).Msg("circuit breaker open — skipping delivery")
		d.bury(delivery, "circuit breaker open for URL")
		return
	}

	body, err := json.Marshal(delivery.Payload)
	if err != nil {
		d.bury(delivery, fmt.Sprintf("marshal error: %v", err))
		return
	}

	wait := d.cfg.InitialBackoff
	for try := 0; ; try++ {
		delivery.Attempts = try + 1

		if err := d.post(client, delivery.URL, body); err == nil {
			delivery.Status = "delivered"
			d.clearStrikes(delivery.URL)
			d.logger.Debug().Str("id", delivery.ID).Int("attempts", delivery.Attempts).Msg("webhook delivered")
			return
		} else {
			delivery.LastError = err.Error()
			d.strike(delivery.URL)
		}

		if try >= d.cfg.MaxRetries {
			d.bury(delivery, delivery.LastError)
			return
		}
		select {
		case <-d.ctx.Done():
			return
		case <-time.After(wait):
		}
		if wait *= 2; wait > d.cfg.MaxBackoff {
			wait = d.cfg.MaxBackoff
		}
	}
}

func (d *WebhookDispatcher) post(client *http.Client, url string, body []byte) error {
	req, err := http.NewRequestWithContext(d.ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d from sink", resp.StatusCode)
	}
	return nil
}

func (d *WebhookDispatcher) isCircuitOpen(url string) bool {
	d.brMu.Lock()
	defer d.brMu.Unlock()
	until, found := d.openUntil[url]
	if !found {
		return false
	}
	if time.Now().Before(until) {
		return true
	}
	delete(d.openUntil, url)
	delete(d.strikes, url)
	return false
}

func (d *WebhookDispatcher) strike(url string) {
	d.brMu.Lock()
	defer d.brMu.Unlock()
	d.strikes[url]++
	if d.cfg.CircuitBreaker <= 0 || d.strikes[url] < d.cfg.CircuitBreaker {
		return
	}
	if _, open := d.openUntil[url]; !open {
		d.openUntil[url] = time.Now().Add(d.cfg.CircuitPause)
		d.logger.Warn().Str("url", url).Int("failures", d.strikes[url]).Msg("circuit breaker opened")
	}
}

func (d *WebhookDispatcher) clearStrikes(url string) {
	d.brMu.Lock()
	defer d.brMu.Unlock()
	delete(d.strikes, url)
	delete(d.openUntil, url)
}

func (d *WebhookDispatcher) bury(delivery *WebhookDelivery, reason string) {
	delivery.Status = "dead_letter"
	entry := &DeadLetterEntry{
		Delivery:  *delivery,
		FailedAt:  time.Now().UTC(),
		LastError: reason,
	}
	d.deadMu.Lock()
	defer d.deadMu.Unlock()
	d.dead = append(d.dead, entry)
	if len(d.dead) > deadLetterCap {
		d.dead = d.dead[len(d.dead)-deadLetterCap:]
	}
}
