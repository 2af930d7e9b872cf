package fetch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces a per-host, per-lane minimum inter-request interval.
// Pacing is politeness, not retry backoff, and composes with parallel
// detail workers: all workers share the host's token bucket.
type Pacer struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	intervals map[string]time.Duration
	fallback  time.Duration
}

// NewPacer builds a pacer with per-lane intervals (e.g. "spider_index",
// "spider_detail"). Lanes not listed use the fallback interval.
func NewPacer(intervals map[string]time.Duration, fallback time.Duration) *Pacer {
	if fallback <= 0 {
		fallback = time.Second
	}
	return &Pacer{
		limiters:  make(map[string]*rate.Limiter),
		intervals: intervals,
		fallback:  fallback,
	}
}

// Wait blocks until the host's lane permits the next request.
func (p *Pacer) Wait(ctx context.Context, host, lane string) error {
	if p == nil {
		return nil
	}
	interval, ok := p.intervals[lane]
	if !ok || interval <= 0 {
		interval = p.fallback
	}
	if interval <= 0 {
		return nil
	}

	key := host + "|" + lane
	p.mu.Lock()
	limiter, ok := p.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(interval), 1)
		p.limiters[key] = limiter
	}
	p.mu.Unlock()

	return limiter.Wait(ctx)
}
