package inference

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitedProvider throttles calls to a provider with a token bucket
type RateLimitedProvider struct {
	next      Provider
	limiter   *rate.Limiter
	limit     int
	remaining int
	resetTime time.Time
	mu        sync.Mutex
}

// RateLimitStatus reports the hourly budget of a RateLimitedProvider
type RateLimitStatus struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// NewRateLimitedProvider wraps next with a requestsPerMinute budget
func NewRateLimitedProvider(next Provider, requestsPerMinute int) *RateLimitedProvider {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	rps := float64(requestsPerMinute) / 60.0
	burst := max(1, requestsPerMinute/6) // ~10s worth

	return &RateLimitedProvider{
		next:      next,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		limit:     requestsPerMinute,
		remaining: requestsPerMinute,
		resetTime: time.Now().Add(time.Minute),
	}
}

// Generate blocks until the limiter admits the call, then forwards it
func (r *RateLimitedProvider) Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Generation, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, providerError("rate limit", err)
	}

	r.mu.Lock()
	if time.Now().After(r.resetTime) {
		r.remaining = r.limit
		r.resetTime = time.Now().Add(time.Minute)
	}
	if r.remaining > 0 {
		r.remaining--
	}
	r.mu.Unlock()

	return r.next.Generate(ctx, prompt, opts)
}

// Status returns current rate limit status
func (r *RateLimitedProvider) Status() RateLimitStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	return RateLimitStatus{
		Limit:     r.limit,
		Remaining: r.remaining,
		Reset:     r.resetTime,
	}
}
