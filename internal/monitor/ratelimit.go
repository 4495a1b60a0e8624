package monitor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/apisentry-project/apisentry/internal/core"
)

// RateLimiter owns the only genuinely mutable shared state in the monitor:
// per-caller token buckets. Everything downstream of it consumes read-only
// RateLimitStatus snapshots.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*callerLimiter
	limit    rate.Limit
	burst    int
	perMin   int
}

type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing cfg.RequestsPerMinute sustained
// requests per caller with the configured burst.
func NewRateLimiter(cfg core.RateLimitConfig) *RateLimiter {
	perMin := cfg.RequestsPerMinute
	if perMin <= 0 {
		perMin = 120
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = perMin / 6
		if burst < 1 {
			burst = 1
		}
	}
	return &RateLimiter{
		limiters: make(map[string]*callerLimiter),
		limit:    rate.Limit(float64(perMin) / 60.0),
		burst:    burst,
		perMin:   perMin,
	}
}

// Take consumes one token for the caller and returns the resulting
// snapshot. Callers are keyed by principal ID when authenticated, source IP
// otherwise.
func (rl *RateLimiter) Take(key string) RateLimitStatus {
	rl.mu.Lock()
	cl, ok := rl.limiters[key]
	if !ok {
		cl = &callerLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = cl
	}
	cl.lastSeen = time.Now()
	allowed := cl.limiter.Allow()
	tokens := cl.limiter.Tokens()
	rl.mu.Unlock()

	remaining := int(tokens)
	if remaining < 0 {
		remaining = 0
	}
	// Scale bucket occupancy to the per-minute quota callers reason about.
	remainingQuota := rl.perMin * remaining / rl.burst
	if remainingQuota > rl.perMin {
		remainingQuota = rl.perMin
	}

	return RateLimitStatus{
		Limit:     rl.perMin,
		Remaining: remainingQuota,
		ResetTime: time.Now().Add(time.Minute),
		Exceeded:  !allowed,
	}
}

// Snapshot returns the caller's current state without consuming a token.
func (rl *RateLimiter) Snapshot(key string) RateLimitStatus {
	rl.mu.Lock()
	cl, ok := rl.limiters[key]
	var tokens float64
	if ok {
		tokens = cl.limiter.Tokens()
	} else {
		tokens = float64(rl.burst)
	}
	rl.mu.Unlock()

	remaining := int(tokens)
	if remaining < 0 {
		remaining = 0
	}
	return RateLimitStatus{
		Limit:     rl.perMin,
		Remaining: rl.perMin * remaining / rl.burst,
		ResetTime: time.Now().Add(time.Minute),
		Exceeded:  remaining == 0,
	}
}

// CleanupLoop evicts limiters idle for more than ten minutes.
func (rl *RateLimiter) CleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			cutoff := time.Now().Add(-10 * time.Minute)
			for key, cl := range rl.limiters {
				if cl.lastSeen.Before(cutoff) {
					delete(rl.limiters, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}
