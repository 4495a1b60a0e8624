// -------------------------------------------------------------------------
// instrument.go — the monitor pipeline as HTTP middleware
// -------------------------------------------------------------------------

package api

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/apisentry-project/apisentry/internal/monitor"
)

const maxCapturedBody = 10*1024*1024 + 1

// Principal headers a trusted upstream authenticator sets. Authentication
// itself happens outside this engine.
const (
	headerPrincipalID = "X-Principal-Id"
	headerRole        = "X-Principal-Role"
	headerSession     = "X-Session-Id"
)

// Instrument wraps business routes with the full monitor pipeline: Gate
// rejections short-circuit with the engine's error shape, allowed requests
// are observed after the response is finalized.
func Instrument(mon *monitor.Monitor, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := fromHTTP(r)

		decision := mon.Gate(req)
		if !decision.Allowed {
			details := decision.Details
			writeError(w, decision.StatusCode, decision.ErrorCode, decision.Message, details)
			return
		}
		for k, v := range decision.Headers {
			w.Header().Set(k, v)
		}
		if rl := mon.RateStatus(req); rl.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rl.ResetTime.Unix(), 10))
		}

		rec := &responseCapture{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		resp := &monitor.Response{
			Status:   rec.status,
			Headers:  flattenHeaders(rec.Header()),
			Body:     rec.body.Bytes(),
			Duration: time.Since(start),
		}
		// Audit happens strictly after the response is final.
		mon.Observe(req, resp)
	})
}

// responseCapture tees the response body so the audit logger can capture
// it after completion.
type responseCapture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *responseCapture) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseCapture) Write(p []byte) (int, error) {
	if r.body.Len() < maxCapturedBody {
		r.body.Write(p)
	}
	return r.ResponseWriter.Write(p)
}

// fromHTTP translates a transport request into the monitor's value type.
// The body is read and restored; unknown transport details never make it
// through.
func fromHTTP(r *http.Request) *monitor.Request {
	headers := flattenHeadersLower(r.Header)

	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(r.Body, maxCapturedBody))
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	req := &monitor.Request{
		Method:    r.Method,
		Path:      r.URL.Path,
		Query:     r.URL.RawQuery,
		Headers:   headers,
		Body:      body,
		RemoteIP:  clientIP(r),
		RequestID: uuid.NewString(),
	}

	if id := r.Header.Get(headerPrincipalID); id != "" {
		req.Principal = &monitor.Principal{
			ID:        id,
			Role:      r.Header.Get(headerRole),
			SessionID: r.Header.Get(headerSession),
		}
	}
	return req
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func flattenHeadersLower(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out
}
