package scheduler

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// PacingLimiter throttles how fast the query adapter dispatches individual
// codes within a batch. A zero rate disables pacing entirely.
type PacingLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewPacingLimiter builds a limiter for r queries/second with burst b. A
// non-positive r disables pacing (Wait returns immediately).
func NewPacingLimiter(r float64, b int) *PacingLimiter {
	if r <= 0 {
		return &PacingLimiter{}
	}
	if b < 1 {
		b = 1
	}
	return &PacingLimiter{limiter: rate.NewLimiter(rate.Limit(r), b)}
}

// Enabled reports whether this limiter actually paces anything.
func (p *PacingLimiter) Enabled() bool {
	return p.limiter != nil
}

// Wait blocks until a token is available, or returns immediately if disabled.
func (p *PacingLimiter) Wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}
