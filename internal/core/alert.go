package core

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AlertStatus tracks the triage lifecycle of an alert.
type AlertStatus int

const (
	AlertStatusOpen AlertStatus = iota
	AlertStatusAcknowledged
	AlertStatusResolved
	AlertStatusFalsePositive
)

func (s AlertStatus) String() string {
	switch s {
	case AlertStatusOpen:
		return "OPEN"
	case AlertStatusAcknowledged:
		return "ACKNOWLEDGED"
	case AlertStatusResolved:
		return "RESOLVED"
	case AlertStatusFalsePositive:
		return "FALSE_POSITIVE"
	default:
		return "UNKNOWN"
	}
}

func (s AlertStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ParseAlertStatus converts a user-supplied status string to an AlertStatus.
func ParseAlertStatus(s string) (AlertStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OPEN":
		return AlertStatusOpen, true
	case "ACKNOWLEDGED", "ACK":
		return AlertStatusAcknowledged, true
	case "RESOLVED":
		return AlertStatusResolved, true
	case "FALSE_POSITIVE":
		return AlertStatusFalsePositive, true
	default:
		return AlertStatusOpen, false
	}
}

// Alert is an actionable security finding raised from one or more events.
// High-risk request exchanges, vulnerability findings, and runner
// escalations all surface as alerts.
type Alert struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Component   string                 `json:"component"`
	Type        string                 `json:"type"`
	Severity    Severity               `json:"severity"`
	Status      AlertStatus            `json:"status"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Endpoint    string                 `json:"endpoint,omitempty"`
	Method      string                 `json:"method,omitempty"`
	SourceIP    string                 `json:"source_ip,omitempty"`
	RiskScore   int                    `json:"risk_score,omitempty"`
	EventIDs    []string               `json:"event_ids"`
	Mitigations []string               `json:"mitigations,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Module returns the originating component name. Kept as an accessor so API
// consumers filtering by "module" keep working.
func (a *Alert) Module() string { return a.Component }

// NewAlert creates an Alert from a source event.
func NewAlert(event *SecurityEvent, title, description string) *Alert {
	return &Alert{
		ID:          uuid.New().String(),
		Timestamp:   time.Now().UTC(),
		Component:   event.Component,
		Type:        event.Type,
		Severity:    event.Severity,
		Status:      AlertStatusOpen,
		Title:       title,
		Description: description,
		Endpoint:    event.Endpoint,
		Method:      event.Method,
		SourceIP:    event.SourceIP,
		RiskScore:   event.RiskScore,
		EventIDs:    []string{event.ID},
		Metadata:    make(map[string]interface{}),
	}
}

// Marshal serializes the alert to JSON.
func (a *Alert) Marshal() ([]byte, error) {
	return json.Marshal(a)
}

// AlertHandler is invoked for every alert entering the pipeline.
type AlertHandler func(alert *Alert)

// AlertPipeline stores alerts in a bounded in-memory buffer and fans them
// out to registered handlers (console, webhooks, event bus).
type AlertPipeline struct {
	mu       sync.RWMutex
	logger   zerolog.Logger
	alerts   map[string]*Alert
	order    []string
	handlers []AlertHandler
	maxStore int
}

// NewAlertPipeline creates a pipeline holding at most maxStore alerts.
// Non-positive maxStore falls back to 10000.
func NewAlertPipeline(logger zerolog.Logger, maxStore int) *AlertPipeline {
	if maxStore <= 0 {
		maxStore = 10000
	}
	return &AlertPipeline{
		logger:   logger.With().Str("component", "alert_pipeline").Logger(),
		alerts:   make(map[string]*Alert),
		order:    make([]string, 0),
		handlers: make([]AlertHandler, 0),
		maxStore: maxStore,
	}
}

// AddHandler registers a handler invoked synchronously for each alert.
func (p *AlertPipeline) AddHandler(handler AlertHandler) {
	p.mu.Lock()
	p.handlers = append(p.handlers, handler)
	p.mu.Unlock()
}

// Process stores the alert and notifies all handlers. A panicking handler
// cannot take down the pipeline.
func (p *AlertPipeline) Process(alert *Alert) {
	p.mu.Lock()
	if len(p.order) >= p.maxStore {
		p.evictOldestLocked()
	}
	p.alerts[alert.ID] = alert
	p.order = append(p.order, alert.ID)
	handlers := make([]AlertHandler, len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.Unlock()

	for _, h := range handlers {
		p.safeInvoke(h, alert)
	}
}

func (p *AlertPipeline) safeInvoke(h AlertHandler, alert *Alert) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error().
				Str("alert_id", alert.ID).
				Interface("panic", rec).
				Msg("alert handler panicked")
		}
	}()
	h(alert)
}

// evictOldestLocked drops the oldest 10% of stored alerts. Caller holds the
// write lock.
func (p *AlertPipeline) evictOldestLocked() {
	n := p.maxStore / 10
	if n < 1 {
		n = 1
	}
	if n > len(p.order) {
		n = len(p.order)
	}
	for _, id := range p.order[:n] {
		delete(p.alerts, id)
	}
	p.order = p.order[n:]
}

// GetAlerts returns up to limit alerts at or above minSeverity, most recent
// first.
func (p *AlertPipeline) GetAlerts(minSeverity Severity, limit int) []*Alert {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*Alert, 0, limit)
	for i := len(p.order) - 1; i >= 0; i-- {
		alert, ok := p.alerts[p.order[i]]
		if !ok || alert.Severity < minSeverity {
			continue
		}
		result = append(result, alert)
		if len(result) >= limit {
			break
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	return result
}

// GetAlertByID returns the alert with the given ID, or nil.
func (p *AlertPipeline) GetAlertByID(id string) *Alert {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.alerts[id]
}

// UpdateAlertStatus changes the triage status of an alert.
func (p *AlertPipeline) UpdateAlertStatus(id string, status AlertStatus) (*Alert, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	alert, ok := p.alerts[id]
	if !ok {
		return nil, false
	}
	alert.Status = status
	return alert, true
}

// DeleteAlert removes one alert. Returns false if the ID is unknown.
func (p *AlertPipeline) DeleteAlert(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.alerts[id]; !ok {
		return false
	}
	delete(p.alerts, id)
	for i, oid := range p.order {
		if oid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

// ClearAlerts removes all stored alerts and returns how many were dropped.
func (p *AlertPipeline) ClearAlerts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := len(p.alerts)
	p.alerts = make(map[string]*Alert)
	p.order = p.order[:0]
	return count
}

// Count returns the number of stored alerts.
func (p *AlertPipeline) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.alerts)
}
