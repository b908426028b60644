package unsutil

import (
	"fmt"
	"time"
)

// PaceTracker tracks how frequently an event occurs; once it exceeds limit
// occurrences within period, Tick starts failing. Nothing in this module
// calls it outside its own tests.
type PaceTracker struct {
	limit  int
	period time.Duration
	starts []time.Time
}

// NewPaceTracker builds a PaceTracker allowing limit ticks per period.
func NewPaceTracker(limit int, period time.Duration) *PaceTracker {
	return &PaceTracker{
		limit:  limit,
		period: period,
		starts: make([]time.Time, limit),
	}
}

// Tick records an occurrence, returning an error once the tracked rate
// exceeds the configured limit.
func (p *PaceTracker) Tick() error {
	now := time.Now()
	p.starts = append(p.starts[1:p.limit], now)
	if delta := now.Sub(p.starts[0]); delta < p.period {
		return fmt.Errorf("%d ticks in %v", p.limit, delta)
	}
	return nil
}
