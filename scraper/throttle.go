package scraper

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle spaces outbound requests of one run. Every request, retries
// included, waits on the same Throttle, so two requests never start less
// than the configured delay apart.
type Throttle struct {
	limiter *rate.Limiter
	delay   time.Duration
}

// NewThrottle returns a throttle allowing one request per delay. A zero
// delay disables throttling.
func NewThrottle(delay time.Duration) *Throttle {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Throttle{
		limiter: rate.NewLimiter(limit, 1),
		delay:   delay,
	}
}

// Wait blocks until the next request may start or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil {
		return ctx.Err()
	}
	return t.limiter.Wait(ctx)
}

// Delay returns the configured spacing.
func (t *Throttle) Delay() time.Duration {
	if t == nil {
		return 0
	}
	return t.delay
}
