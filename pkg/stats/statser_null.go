package stats

import (
	"context"
	"time"

	"github.com/monasca/monagent"
)

// NullStatser is a null implementation of Statser, intended primarily
// for test purposes
type NullStatser struct {
	flushNotifier
}

// NewNullStatser creates a new NullStatser
func NewNullStatser() Statser {
	return &NullStatser{}
}

func (ns *NullStatser) NotifyFlush(ctx context.Context, d time.Duration) {
	ns.flushNotifier.NotifyFlush(ctx, d)
}

func (ns *NullStatser) Gauge(name string, value float64, dims monagent.Dimensions) {}

func (ns *NullStatser) Count(name string, amount float64, dims monagent.Dimensions) {}

func (ns *NullStatser) Increment(name string, dims monagent.Dimensions) {}

func (ns *NullStatser) TimingMS(name string, ms float64, dims monagent.Dimensions) {}

func (ns *NullStatser) TimingDuration(name string, d time.Duration, dims monagent.Dimensions) {}

// NewTimer returns a new timer with time set to now
func (ns *NullStatser) NewTimer(name string, dims monagent.Dimensions) *Timer {
	return newTimer(ns, name, dims)
}

// WithDimensions returns the NullStatser itself
func (ns *NullStatser) WithDimensions(dims monagent.Dimensions) Statser {
	return ns
}
