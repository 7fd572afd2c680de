package geoip

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Gate spaces out remote provider calls. The in-process limiter enforces the
// minimum interval locally; the optional lease hook extends the same spacing
// across instances sharing Redis. A denied lease means another instance used
// the slot, so we wait for the next one.
type Gate struct {
	limiter *rate.Limiter
	acquire func() bool
}

// NewGate builds a gate with the given minimum interval between calls.
// acquire may be nil for single-instance deployments.
func NewGate(interval time.Duration, acquire func() bool) *Gate {
	if interval <= 0 {
		interval = 1500 * time.Millisecond
	}
	return &Gate{
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		acquire: acquire,
	}
}

// Wait blocks until this caller may make one provider call, or the context
// is done.
func (g *Gate) Wait(ctx context.Context) error {
	for {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		if g.acquire == nil || g.acquire() {
			return nil
		}
	}
}
