package monitor

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/apisentry-project/apisentry/internal/core"
)

// Headers carrying request signatures.
const (
	HeaderSignature = "x-signature"
	HeaderTimestamp = "x-timestamp"
	HeaderNonce     = "x-nonce"

	// SignatureAlgorithm is reported to callers in 401 responses and by the
	// signature-generation endpoint.
	SignatureAlgorithm = "HMAC-SHA256"
)

// SignatureCodec signs and verifies requests with a process-wide shared
// HMAC-SHA256 secret. Verification is pure: it mutates nothing and the
// caller decides how to respond to a failure.
type SignatureCodec struct {
	secret []byte
	window time.Duration
	now    func() time.Time
}

// NewSignatureCodec creates a codec from the signing config.
func NewSignatureCodec(cfg core.SigningConfig) *SignatureCodec {
	window := cfg.ValidityWindow
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &SignatureCodec{
		secret: []byte(cfg.Secret),
		window: window,
		now:    time.Now,
	}
}

// Sign computes the hex HMAC-SHA256 digest over
// method|path|body|timestamp|nonce. A nil body contributes the empty
// string; any other value contributes its compact JSON encoding, which the
// client must then send byte for byte as the request body.
func (c *SignatureCodec) Sign(method, path string, body interface{}, timestamp int64, nonce string) (string, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("marshaling body for signing: %w", err)
		}
	}
	return c.sign(method, path, bodyBytes, timestamp, nonce), nil
}

func (c *SignatureCodec) sign(method, path string, body []byte, timestamp int64, nonce string) string {
	mac := hmac.New(sha256.New, c.secret)
	fmt.Fprintf(mac, "%s|%s|%s|%d|%s", method, path, body, timestamp, nonce)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature headers on a request. It fails closed: any
// missing header, a timestamp outside the validity window, or a digest
// mismatch all return false. Comparison is constant-time.
func (c *SignatureCodec) Verify(req *Request) bool {
	sig := req.Header(HeaderSignature)
	tsStr := req.Header(HeaderTimestamp)
	nonce := req.Header(HeaderNonce)
	if sig == "" || tsStr == "" || nonce == "" {
		return false
	}

	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return false
	}

	// Timestamps are epoch millis. Anything outside the window is treated
	// as a replay regardless of digest validity.
	age := c.now().UnixMilli() - ts
	if age < 0 {
		age = -age
	}
	if age > c.window.Milliseconds() {
		return false
	}

	// The digest covers the body bytes exactly as sent; the server never
	// re-encodes what the client signed.
	expected := c.sign(req.Method, req.Path, req.Body, ts, nonce)
	return hmac.Equal([]byte(expected), []byte(sig))
}

// SignaturePresent reports whether the request carries any signature header
// at all. Used by the risk engine to distinguish unsigned requests from
// requests with an invalid signature.
func SignaturePresent(req *Request) bool {
	return req.Header(HeaderSignature) != "" ||
		req.Header(HeaderTimestamp) != "" ||
		req.Header(HeaderNonce) != ""
}

// RequiredHeaders lists the headers a signed call must carry, for inclusion
// in 401 error details.
func RequiredHeaders() []string {
	return []string{"X-Signature", "X-Timestamp", "X-Nonce"}
}
