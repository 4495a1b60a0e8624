// -------------------------------------------------------------------------
// harness.go — the HTTP layer probes run over
// -------------------------------------------------------------------------

package vulntest

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ProbeHeader marks every request the harness sends so targets and
// intermediaries can identify scanner traffic.
const ProbeHeader = "X-APISentry-Probe"

const maxProbeBodyBytes = 256 * 1024

// ProbeResponse is the harness's view of a target's answer. Bodies are
// capped; probes only need enough to detect reflections and error leakage.
type ProbeResponse struct {
	Status  int
	Headers http.Header
	Body    string
}

// Harness sends probe requests to targets. In safe mode attack payloads
// ride in query parameters and headers only, never in bodies that could
// mutate state on a poorly guarded endpoint.
type Harness struct {
	client   *http.Client
	safeMode bool
}

// NewHarness builds a probe HTTP client. Per-probe timeout comes from
// config; redirects are not followed so auth probes see the raw 3xx.
func NewHarness(timeout time.Duration, safeMode bool) *Harness {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Harness{
		safeMode: safeMode,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
				DisableKeepAlives: true,
				MaxIdleConns:      10,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// SafeMode reports whether mutating payload placement is disabled.
func (h *Harness) SafeMode() bool { return h.safeMode }

// Do sends one probe request. A nil error means the target answered;
// timeouts and transport failures come back as errors for the engine to
// classify.
func (h *Harness) Do(ctx context.Context, method, url string, body []byte, headers map[string]string) (*ProbeResponse, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("building probe request: %w", err)
	}
	req.Header.Set(ProbeHeader, "1")
	req.Header.Set("User-Agent", "apisentry-probe/1.0")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading probe response: %w", err)
	}
	return &ProbeResponse{
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Body:    string(data),
	}, nil
}

// IsTimeout reports whether a probe error was a deadline rather than an
// outright refusal.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "Client.Timeout")
}
