package monitor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog"
)

// ContextBuilder assembles the per-request SecurityContext from the
// monitor's collaborators. Building never fails: any collaborator that
// errors contributes a degraded (zero or nil) snapshot and the request
// proceeds with whatever signals were gathered.
type ContextBuilder struct {
	codec   *SignatureCodec
	limiter *RateLimiter
	geo     GeoResolver
	history *GeoHistory
	logger  zerolog.Logger
}

func NewContextBuilder(codec *SignatureCodec, limiter *RateLimiter, geo GeoResolver, logger zerolog.Logger) *ContextBuilder {
	return &ContextBuilder{
		codec:   codec,
		limiter: limiter,
		geo:     geo,
		history: NewGeoHistory(),
		logger:  logger.With().Str("component", "context").Logger(),
	}
}

// Build derives the security context for a request. The rate-limit
// snapshot consumes one token, keyed by principal when authenticated and
// by source IP otherwise.
func (b *ContextBuilder) Build(req *Request) SecurityContext {
	sc := SecurityContext{ThreatLevel: ThreatLow}

	if req.Principal != nil {
		sc.Authenticated = true
		sc.PrincipalID = req.Principal.ID
		sc.Role = req.Principal.Role
		sc.Permissions = append([]string(nil), req.Principal.Permissions...)
		sc.SessionID = req.Principal.SessionID
	}

	if b.codec != nil {
		sc.SignaturePresent = SignaturePresent(req)
		if sc.SignaturePresent {
			sc.RequestSignature = req.Header(HeaderSignature)
			sc.SignatureValid = b.codec.Verify(req)
		}
	}

	if b.limiter != nil {
		key := sc.PrincipalID
		if key == "" {
			key = req.RemoteIP
		}
		sc.RateLimit = b.limiter.Take(key)
	}

	if b.geo != nil {
		if loc := b.geo.Resolve(req.RemoteIP); loc != nil {
			sc.Geo = loc
			sc.GeoAnomalous = b.history.Observe(sc.PrincipalID, loc.Country)
		}
	}

	sc.DeviceFingerprint = deviceFingerprint(req)

	// ThreatLevel starts at LOW; the risk engine raises it once the
	// response is known.
	return sc
}

// RateStatus reads the caller's current rate-limit state without taking a
// token.
func (b *ContextBuilder) RateStatus(req *Request) RateLimitStatus {
	if b.limiter == nil {
		return RateLimitStatus{}
	}
	key := req.RemoteIP
	if req.Principal != nil && req.Principal.ID != "" {
		key = req.Principal.ID
	}
	return b.limiter.Snapshot(key)
}

// deviceFingerprint hashes the stable client-identifying headers into a
// short opaque token. It identifies a browser/client combination, not a
// person.
func deviceFingerprint(req *Request) string {
	raw := fmt.Sprintf("%s|%s|%s",
		req.Header("User-Agent"),
		req.Header("Accept-Language"),
		req.Header("Accept-Encoding"))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:16])
}
