// -------------------------------------------------------------------------
// server.go — REST API over the engine
// -------------------------------------------------------------------------

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/apisentry-project/apisentry/internal/core"
	"github.com/apisentry-project/apisentry/internal/engine"
	"github.com/apisentry-project/apisentry/internal/monitor"
	"github.com/apisentry-project/apisentry/internal/store"
)

// Server is the apisentry REST API server.
type Server struct {
	engine *engine.Engine
	server *http.Server
	logger zerolog.Logger
}

// NewServer creates the API server over a wired engine.
func NewServer(eng *engine.Engine) *Server {
	s := &Server{
		engine: eng,
		logger: eng.Logger.With().Str("component", "api_server").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/alerts", s.handleAlerts)
	mux.HandleFunc("/api/v1/alerts/", s.handleAlertByID)
	mux.HandleFunc("/api/v1/alerts/clear", s.handleAlertsClear)
	mux.HandleFunc("/api/v1/logs", s.handleLogs)
	mux.HandleFunc("/api/v1/security/logs", s.handleSecurityLogs)
	mux.HandleFunc("/api/v1/security/logs/export", s.handleExport)
	mux.HandleFunc("/api/v1/security/sign", s.handleSign)
	mux.HandleFunc("/api/v1/security/tests", s.handleTests)
	mux.HandleFunc("/api/v1/config", s.handleConfig)
	mux.HandleFunc("/api/v1/shutdown", s.handleShutdown)

	// CORS -> logging -> rate limit -> auth -> handler
	handler := corsMiddleware(
		loggingMiddleware(
			rateLimitMiddleware(
				authMiddleware(mux, eng.Config, s.logger),
				100,
			),
			s.logger,
		),
		eng.Config.Server.CORSOrigins,
	)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", eng.Config.Server.Host, eng.Config.Server.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("API server starting")
	if !s.engine.Config.AuthEnabled() {
		s.logger.Warn().Msg("API authentication disabled — set api_keys in config or APISENTRY_API_KEY env var")
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// ─── Handlers ───────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, monitor.CodeMethodNotAllowed, "method not allowed", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, monitor.CodeMethodNotAllowed, "method not allowed", nil)
		return
	}

	status := map[string]interface{}{
		"uptime_seconds":     int(s.engine.Uptime().Seconds()),
		"alerts":             s.engine.Pipeline.Count(),
		"signing_enabled":    s.engine.Config.Signing.Enabled,
		"testing_enabled":    s.engine.Config.Testing.Enabled,
		"store_driver":       s.engine.Config.Store.Driver,
		"supported_versions": s.engine.Config.SupportedVersions(),
		"default_version":    s.engine.Config.Versions.Default,
	}
	if s.engine.Bus != nil {
		status["bus_connected"] = s.engine.Bus.IsConnected()
		status["bus_metrics"] = s.engine.Bus.GetMetrics()
	}
	if wh := s.engine.WebhookStats(); wh != nil {
		status["webhooks"] = wh
	}
	if s.engine.Runner != nil {
		suites := map[string]string{}
		for _, name := range s.engine.Runner.Suites() {
			suites[name] = s.engine.Runner.State(name).String()
		}
		status["test_suites"] = suites
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, monitor.CodeMethodNotAllowed, "method not allowed", nil)
		return
	}

	limit := queryInt(r, "limit", 50)
	minSeverity := core.SeverityInfo
	if sevStr := r.URL.Query().Get("severity"); sevStr != "" {
		switch strings.ToUpper(sevStr) {
		case "LOW":
			minSeverity = core.SeverityLow
		case "MEDIUM":
			minSeverity = core.SeverityMedium
		case "HIGH":
			minSeverity = core.SeverityHigh
		case "CRITICAL":
			minSeverity = core.SeverityCritical
		}
	}

	alerts := s.engine.Pipeline.GetAlerts(minSeverity, limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"total":  len(alerts),
	})
}

func (s *Server) handleAlertByID(w http.ResponseWriter, r *http.Request) {
	alertID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/"), "/")
	if alertID == "" || alertID == "clear" {
		return
	}

	switch r.Method {
	case http.MethodGet:
		alert := s.engine.Pipeline.GetAlertByID(alertID)
		if alert == nil {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "alert not found", nil)
			return
		}
		writeJSON(w, http.StatusOK, alert)

	case http.MethodPatch:
		var body struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON: "+err.Error(), nil)
			return
		}
		status, ok := core.ParseAlertStatus(body.Status)
		if !ok {
			writeError(w, http.StatusBadRequest, "INVALID_STATUS",
				"invalid status — use OPEN, ACKNOWLEDGED, RESOLVED, or FALSE_POSITIVE", nil)
			return
		}
		alert, found := s.engine.Pipeline.UpdateAlertStatus(alertID, status)
		if !found {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "alert not found", nil)
			return
		}
		writeJSON(w, http.StatusOK, alert)

	case http.MethodDelete:
		if !s.engine.Pipeline.DeleteAlert(alertID) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "alert not found", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": alertID})

	default:
		writeError(w, http.StatusMethodNotAllowed, monitor.CodeMethodNotAllowed, "method not allowed", nil)
	}
}

func (s *Server) handleAlertsClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, monitor.CodeMethodNotAllowed, "method not allowed", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "cleared",
		"cleared": s.engine.Pipeline.ClearAlerts(),
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, monitor.CodeMethodNotAllowed, "method not allowed", nil)
		return
	}
	entries := s.engine.GetLogEntries(queryInt(r, "limit", 100))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  entries,
		"total": len(entries),
	})
}

func (s *Server) handleSecurityLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, monitor.CodeMethodNotAllowed, "method not allowed", nil)
		return
	}
	filter := filterFromQuery(r)
	if filter.Limit == 0 {
		filter.Limit = 100
	}
	logs, err := s.engine.Store.QueryLogs(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "QUERY_FAILED", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"total": len(logs),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, monitor.CodeMethodNotAllowed, "method not allowed", nil)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = store.FormatJSON
	}
	if format != store.FormatJSON && format != store.FormatCSV {
		writeError(w, http.StatusBadRequest, "INVALID_FORMAT", "format must be json or csv", nil)
		return
	}

	logs, err := s.engine.Store.QueryLogs(filterFromQuery(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "QUERY_FAILED", err.Error(), nil)
		return
	}

	filename := store.ExportFilename(format)
	if format == store.FormatCSV {
		w.Header().Set("Content-Type", "text/csv")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := store.ExportLogs(w, logs, format); err != nil {
		s.logger.Error().Err(err).Msg("export failed mid-stream")
	}
}

// handleSign is the administrative signature-generation helper.
func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, monitor.CodeMethodNotAllowed, "method not allowed", nil)
		return
	}
	if !s.engine.Config.Signing.Enabled {
		writeError(w, http.StatusBadRequest, "SIGNING_DISABLED", "request signing is not enabled", nil)
		return
	}

	var body struct {
		Method    string      `json:"method"`
		Path      string      `json:"path"`
		Body      interface{} `json:"body"`
		Timestamp *int64      `json:"timestamp"`
		Nonce     string      `json:"nonce"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON: "+err.Error(), nil)
		return
	}
	if body.Method == "" || body.Path == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "method and path are required", nil)
		return
	}

	ts := time.Now().UnixMilli()
	if body.Timestamp != nil {
		ts = *body.Timestamp
	}
	nonce := body.Nonce
	if nonce == "" {
		nonce = uuid.NewString()
	}

	signature, err := s.engine.Monitor.Codec().Sign(strings.ToUpper(body.Method), body.Path, body.Body, ts, nonce)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SIGNING_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"signature": signature,
		"timestamp": ts,
		"nonce":     nonce,
		"algorithm": monitor.SignatureAlgorithm,
		"headers": map[string]string{
			"X-Signature": signature,
			"X-Timestamp": strconv.FormatInt(ts, 10),
			"X-Nonce":     nonce,
		},
	})
}

func (s *Server) handleTests(w http.ResponseWriter, r *http.Request) {
	if s.engine.Runner == nil {
		writeError(w, http.StatusBadRequest, "TESTING_DISABLED", "security testing is not enabled", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		results, err := s.engine.Store.QueryTestResults(r.URL.Query().Get("endpoint"), queryInt(r, "limit", 50))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "QUERY_FAILED", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"results": results,
			"total":   len(results),
		})

	case http.MethodPost:
		suite := r.URL.Query().Get("suite")
		if suite == "" {
			reports := s.engine.Runner.RunAll(r.Context())
			writeJSON(w, http.StatusOK, map[string]interface{}{"reports": reports})
			return
		}
		report, err := s.engine.Runner.RunSuite(r.Context(), suite)
		if err != nil {
			writeError(w, http.StatusConflict, "SUITE_UNAVAILABLE", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, report)

	default:
		writeError(w, http.StatusMethodNotAllowed, monitor.CodeMethodNotAllowed, "method not allowed", nil)
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, monitor.CodeMethodNotAllowed, "method not allowed", nil)
		return
	}
	// Secrets never leave the process.
	redacted := *s.engine.Config
	redacted.Signing.Secret = ""
	redacted.Server.APIKeys = nil
	redacted.Store.DSN = ""
	writeJSON(w, http.StatusOK, redacted)
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, monitor.CodeMethodNotAllowed, "method not allowed", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "shutting_down",
		"message": "apisentry engine is shutting down gracefully",
	})
	go func() {
		time.Sleep(250 * time.Millisecond)
		s.logger.Info().Msg("shutdown requested via API")
		p, err := os.FindProcess(os.Getpid())
		if err != nil {
			os.Exit(0)
		}
		if err := p.Signal(syscall.SIGINT); err != nil {
			os.Exit(0)
		}
	}()
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func filterFromQuery(r *http.Request) store.LogFilter {
	q := r.URL.Query()
	filter := store.LogFilter{
		Method:      strings.ToUpper(q.Get("method")),
		Endpoint:    q.Get("endpoint"),
		Version:     q.Get("version"),
		PrincipalID: q.Get("user"),
		IPAddress:   q.Get("ip"),
		MinRisk:     queryInt(r, "min_risk", 0),
		MaxRisk:     queryInt(r, "max_risk", 0),
		Limit:       queryInt(r, "limit", 0),
	}
	if from := q.Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filter.From = &t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = &t
		}
	}
	return filter
}

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers already sent; nothing recoverable.
		return
	}
}

// writeError renders the engine's error shape:
// {"error": {"code", "message", "details"}}.
func writeError(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	body := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if len(details) > 0 {
		body["details"] = details
	}
	writeJSON(w, status, map[string]interface{}{"error": body})
}
