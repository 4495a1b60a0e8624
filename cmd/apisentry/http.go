package main

// ---------------------------------------------------------------------------
// http.go — HTTP client helpers for API communication
// ---------------------------------------------------------------------------

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// clientOpts carries the connection flags every remote command shares.
type clientOpts struct {
	config  *string
	host    *string
	port    *int
	apiKey  *string
	timeout *time.Duration
}

func addClientFlags(fs *flag.FlagSet, defaultTimeout time.Duration) *clientOpts {
	return &clientOpts{
		config:  fs.String("config", defaultConfigPath, "Config file path"),
		host:    fs.String("host", "", "API host override"),
		port:    fs.Int("port", 0, "API port override"),
		apiKey:  fs.String("api-key", "", "API key for authentication"),
		timeout: fs.Duration("timeout", defaultTimeout, "Request timeout"),
	}
}

// resolve applies env fallbacks and returns the target base URL, API key,
// and timeout. Call after fs.Parse.
func (o *clientOpts) resolve() (string, string, time.Duration) {
	cfgPath := envConfig(*o.config)
	base := apiBase(cfgPath, envHost(*o.host), envPort(*o.port))
	return base, resolveAPIKey(*o.apiKey, cfgPath), *o.timeout
}

func apiDo(method, url string, payload []byte, apiKey string, timeout time.Duration) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to apisentry API at %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == 401 || resp.StatusCode == 403 {
		return body, fmt.Errorf("authentication failed (HTTP %d) — provide --api-key or set APISENTRY_API_KEY", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return body, fmt.Errorf("API returned HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func apiGet(url, apiKey string, timeout time.Duration) ([]byte, error) {
	return apiDo(http.MethodGet, url, nil, apiKey, timeout)
}

func apiPost(url string, payload []byte, apiKey string, timeout time.Duration) ([]byte, error) {
	return apiDo(http.MethodPost, url, payload, apiKey, timeout)
}

func apiPatch(url string, payload []byte, apiKey string, timeout time.Duration) ([]byte, error) {
	return apiDo(http.MethodPatch, url, payload, apiKey, timeout)
}

func apiDelete(url, apiKey string, timeout time.Duration) ([]byte, error) {
	return apiDo(http.MethodDelete, url, nil, apiKey, timeout)
}

// isConnectionError checks if an error is a transient connection issue.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "connection reset") ||
		strings.Contains(s, "EOF") ||
		strings.Contains(s, "connection refused")
}
