package stats

import (
	"context"
	"time"

	"github.com/monasca/monagent"
)

// Statser is the interface for reporting the agent's own metrics.
type Statser interface {
	NotifyFlush(ctx context.Context, d time.Duration)
	RegisterFlush() (<-chan time.Duration, func())

	Gauge(name string, value float64, dims monagent.Dimensions)
	Count(name string, amount float64, dims monagent.Dimensions)
	Increment(name string, dims monagent.Dimensions)
	TimingMS(name string, ms float64, dims monagent.Dimensions)
	TimingDuration(name string, d time.Duration, dims monagent.Dimensions)
	NewTimer(name string, dims monagent.Dimensions) *Timer
	WithDimensions(dims monagent.Dimensions) Statser
}

// Timer times an operation and reports it when stopped.
type Timer struct {
	statser Statser
	name    string
	dims    monagent.Dimensions
	start   time.Time
	stopped bool
}

func newTimer(statser Statser, name string, dims monagent.Dimensions) *Timer {
	return &Timer{
		statser: statser,
		name:    name,
		dims:    dims,
		start:   time.Now(),
	}
}

// Stop reports the time elapsed since the timer was created. Only the first
// call reports anything.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	if !t.stopped {
		t.stopped = true
		t.statser.TimingDuration(t.name, d, t.dims)
	}
	return d
}

// mergeDims returns base overridden by extra, without modifying either.
func mergeDims(base, extra monagent.Dimensions) monagent.Dimensions {
	if len(extra) == 0 {
		return base
	}
	if len(base) == 0 {
		return extra
	}
	out := base.Copy()
	for k, v := range extra {
		out[k] = v
	}
	return out
}
