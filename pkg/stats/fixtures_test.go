package stats

import (
	"sync/atomic"
	"time"

	"github.com/monasca/monagent"
)

type countingStatser struct {
	flushNotifier

	gauges   uint64
	counters uint64
	timers   uint64
}

func (cs *countingStatser) Gauge(name string, value float64, dims monagent.Dimensions) {
	atomic.AddUint64(&cs.gauges, 1)
}

func (cs *countingStatser) Count(name string, amount float64, dims monagent.Dimensions) {
	atomic.AddUint64(&cs.counters, 1)
}

func (cs *countingStatser) Increment(name string, dims monagent.Dimensions) {
	atomic.AddUint64(&cs.counters, 1)
}

func (cs *countingStatser) TimingMS(name string, ms float64, dims monagent.Dimensions) {
	atomic.AddUint64(&cs.timers, 1)
}

func (cs *countingStatser) TimingDuration(name string, d time.Duration, dims monagent.Dimensions) {
	atomic.AddUint64(&cs.timers, 1)
}

func (cs *countingStatser) NewTimer(name string, dims monagent.Dimensions) *Timer {
	return newTimer(cs, name, dims)
}

func (cs *countingStatser) WithDimensions(dims monagent.Dimensions) Statser {
	return cs
}

// recordingStatser keeps the dimensions of the last call.
type recordingStatser struct {
	NullStatser
	name string
	dims monagent.Dimensions
}

func (rs *recordingStatser) Gauge(name string, value float64, dims monagent.Dimensions) {
	rs.name, rs.dims = name, dims
}

func (rs *recordingStatser) Count(name string, amount float64, dims monagent.Dimensions) {
	rs.name, rs.dims = name, dims
}

