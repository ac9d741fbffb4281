package stats

import (
	"context"
	"time"

	"github.com/monasca/monagent"
)

// TaggedStatser adds dimensions and submits metrics to another Statser.
type TaggedStatser struct {
	statser Statser
	dims    monagent.Dimensions
}

// NewTaggedStatser creates a new Statser which adds dims to every metric
func NewTaggedStatser(statser Statser, dims monagent.Dimensions) Statser {
	return &TaggedStatser{
		statser: statser,
		dims:    dims,
	}
}

func (ts *TaggedStatser) NotifyFlush(ctx context.Context, d time.Duration) {
	ts.statser.NotifyFlush(ctx, d)
}

func (ts *TaggedStatser) RegisterFlush() (<-chan time.Duration, func()) {
	return ts.statser.RegisterFlush()
}

func (ts *TaggedStatser) Gauge(name string, value float64, dims monagent.Dimensions) {
	ts.statser.Gauge(name, value, mergeDims(ts.dims, dims))
}

func (ts *TaggedStatser) Count(name string, amount float64, dims monagent.Dimensions) {
	ts.statser.Count(name, amount, mergeDims(ts.dims, dims))
}

func (ts *TaggedStatser) Increment(name string, dims monagent.Dimensions) {
	ts.statser.Increment(name, mergeDims(ts.dims, dims))
}

func (ts *TaggedStatser) TimingMS(name string, ms float64, dims monagent.Dimensions) {
	ts.statser.TimingMS(name, ms, mergeDims(ts.dims, dims))
}

func (ts *TaggedStatser) TimingDuration(name string, d time.Duration, dims monagent.Dimensions) {
	ts.statser.TimingDuration(name, d, mergeDims(ts.dims, dims))
}

func (ts *TaggedStatser) NewTimer(name string, dims monagent.Dimensions) *Timer {
	return newTimer(ts, name, dims)
}

func (ts *TaggedStatser) WithDimensions(dims monagent.Dimensions) Statser {
	return NewTaggedStatser(ts.statser, mergeDims(ts.dims, dims))
}
