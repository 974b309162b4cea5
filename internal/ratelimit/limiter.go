// Package ratelimit guards outbound vendor API calls with a token-bucket
// limiter per (vendor, user_id) key. One user bursting never starves another.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/vendors"
)

// Status is a read-only snapshot of one bucket
type Status struct {
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Limiter holds one token bucket per (vendor, user_id) key. Buckets refill
// continuously at max_requests per time_window and hold max_requests tokens.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	configs  map[vendors.VendorType]vendors.RateLimitConfig

	// entries beyond this trigger eviction of idle buckets
	maxEntries int
}

// NewLimiter creates a limiter with per-vendor bucket policies
func NewLimiter(configs map[vendors.VendorType]vendors.RateLimitConfig) *Limiter {
	return &Limiter{
		limiters:   make(map[string]*rate.Limiter),
		configs:    configs,
		maxEntries: 10000,
	}
}

func limiterKey(vendor vendors.VendorType, userID string) string {
	return fmt.Sprintf("%s:%s", vendor, userID)
}

// limiterFor returns the bucket for the key, creating a full one on first use
func (l *Limiter) limiterFor(vendor vendors.VendorType, userID string) (*rate.Limiter, error) {
	config, ok := l.configs[vendor]
	if !ok {
		return nil, errors.ConfigError("no rate limit config for vendor " + vendor.String())
	}

	key := limiterKey(vendor, userID)

	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[key]
	if !exists {
		perSecond := float64(config.MaxRequests) / config.TimeWindow.Seconds()
		limiter = rate.NewLimiter(rate.Limit(perSecond), config.MaxRequests)
		l.limiters[key] = limiter

		if len(l.limiters) > l.maxEntries {
			l.evict()
		}
	}

	return limiter, nil
}

// evict drops half of the tracked buckets. Dropped users restart with a
// full bucket, which errs on the permissive side. Caller holds l.mu.
func (l *Limiter) evict() {
	target := len(l.limiters) / 2
	count := 0
	for key := range l.limiters {
		delete(l.limiters, key)
		count++
		if count >= target {
			break
		}
	}
}

// Check consumes one token if available. If the bucket is empty it fails
// fast with a RateLimitError carrying retry_after, never blocks.
func (l *Limiter) Check(vendor vendors.VendorType, userID string) error {
	limiter, err := l.limiterFor(vendor, userID)
	if err != nil {
		return err
	}

	reservation := limiter.Reserve()
	if !reservation.OK() {
		return errors.RateLimitError("rate limit exceeded for "+limiterKey(vendor, userID), l.configs[vendor].TimeWindow)
	}

	delay := reservation.Delay()
	if delay > 0 {
		// No token available now; hand it back and tell the caller when to retry
		reservation.Cancel()
		return errors.RateLimitError("rate limit exceeded for "+limiterKey(vendor, userID), delay)
	}

	return nil
}

// Status reports remaining capacity without consuming a token
func (l *Limiter) Status(vendor vendors.VendorType, userID string) (*Status, error) {
	limiter, err := l.limiterFor(vendor, userID)
	if err != nil {
		return nil, err
	}

	config := l.configs[vendor]
	now := time.Now()
	remaining := int(math.Floor(limiter.TokensAt(now)))
	if remaining < 0 {
		remaining = 0
	}
	if remaining > config.MaxRequests {
		remaining = config.MaxRequests
	}

	// time until the bucket is back at full capacity
	missing := float64(config.MaxRequests) - limiter.TokensAt(now)
	if missing < 0 {
		missing = 0
	}
	perSecond := float64(config.MaxRequests) / config.TimeWindow.Seconds()
	resetAt := now.Add(time.Duration(missing / perSecond * float64(time.Second)))

	return &Status{Remaining: remaining, ResetAt: resetAt}, nil
}
