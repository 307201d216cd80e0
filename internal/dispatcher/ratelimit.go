package dispatcher

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 30 * time.Minute

// RateLimiter throttles events per key (platform + author). Each key gets
// its own token bucket.
type RateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	buckets  map[string]*bucket
	lastScan time.Time
	now      func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows ratePerMinute events per key with the given burst.
// It returns nil when ratePerMinute is not positive; a nil limiter allows
// everything.
func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if ratePerMinute <= 0 {
		return nil
	}
	if maxBurst <= 0 {
		maxBurst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(ratePerMinute / 60.0),
		burst:   maxBurst,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow reports whether an event for key may proceed now. It never blocks.
func (rl *RateLimiter) Allow(key string) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	rl.evictIdle(now)
	return b.limiter.AllowN(now, 1)
}

// evictIdle drops buckets unused for limiterIdleTTL. Called with mu held.
func (rl *RateLimiter) evictIdle(now time.Time) {
	if now.Sub(rl.lastScan) < limiterIdleTTL {
		return
	}
	rl.lastScan = now
	for k, b := range rl.buckets {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(rl.buckets, k)
		}
	}
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}
