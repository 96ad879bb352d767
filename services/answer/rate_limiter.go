package answer

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter for outbound requests
type RateLimiter struct {
	mu sync.Mutex

	tokens         float64       // Current number of tokens
	maxTokens      float64       // Maximum tokens (bucket size)
	refillRate     float64       // Tokens added per second
	baseRefillRate float64       // Configured refill rate, restored by Reset
	lastRefillTime time.Time     // Last time tokens were refilled
	minInterval    time.Duration // Minimum interval between requests
	baseInterval   time.Duration
}

// RateLimiterConfig holds configuration for the rate limiter
type RateLimiterConfig struct {
	MaxTokens   float64       // Max burst capacity (default: 20)
	RefillRate  float64       // Tokens per second (default: 10)
	MinInterval time.Duration // Minimum time between requests (default: 0)
}

// DefaultRateLimiterConfig returns defaults sized for interactive chat traffic
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		MaxTokens:  20,
		RefillRate: 10,
	}
}

// NewRateLimiter creates a new rate limiter with the given config
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.MaxTokens <= 0 {
		config.MaxTokens = 1
	}
	if config.RefillRate <= 0 {
		config.RefillRate = 1
	}
	return &RateLimiter{
		tokens:         config.MaxTokens,
		maxTokens:      config.MaxTokens,
		refillRate:     config.RefillRate,
		baseRefillRate: config.RefillRate,
		lastRefillTime: time.Now(),
		minInterval:    config.MinInterval,
		baseInterval:   config.MinInterval,
	}
}

// Wait blocks until a token is available
// Returns an error if the context is cancelled
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refillTokens()

		if r.tokens >= 1 {
			r.tokens--
			minInterval := r.minInterval
			r.mu.Unlock()

			if minInterval <= 0 {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(minInterval):
				return nil
			}
		}

		waitTime := time.Duration(float64(time.Second) / r.refillRate)
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

// refillTokens adds tokens based on elapsed time (must be called with lock held)
func (r *RateLimiter) refillTokens() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefillTime).Seconds()
	r.tokens += elapsed * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
	r.lastRefillTime = now
}

// TryAcquire attempts to acquire a token without blocking
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refillTokens()
	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// AvailableTokens returns the current number of available tokens
func (r *RateLimiter) AvailableTokens() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refillTokens()
	return r.tokens
}

// SetBackoffMultiplier slows the limiter down after a 429
func (r *RateLimiter) SetBackoffMultiplier(multiplier float64) {
	if multiplier <= 1 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refillRate = r.refillRate / multiplier
	// never slower than one request per minute
	if r.refillRate < 1.0/60 {
		r.refillRate = 1.0 / 60
	}
	r.minInterval = time.Duration(float64(r.minInterval) * multiplier)
}

// Reset restores the configured rates
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refillRate = r.baseRefillRate
	r.minInterval = r.baseInterval
}
