package monagent

import (
	"context"
)

// Runnable is a long running function intended to be launched in a goroutine.
type Runnable func(context.Context)

// Runner exposes a Runnable through an interface
type Runner interface {
	Run(context.Context)
}

func MaybeAppendRunnable(runnables []Runnable, maybeRunner interface{}) []Runnable {
	if r, ok := maybeRunner.(Runner); ok {
		runnables = append(runnables, r.Run)
	}
	return runnables
}

// Emitter sends a batch of measurements to the forwarder at url.
type Emitter interface {
	Emit(ctx context.Context, measurements []Measurement, url string) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, measurements []Measurement, url string) error

func (f EmitterFunc) Emit(ctx context.Context, measurements []Measurement, url string) error {
	return f(ctx, measurements, url)
}

// Aggregator accumulates samples and events between flushes.
type Aggregator interface {
	SubmitMetric(m *Metric) error
	Event(e *Event)
	// Flush rolls up every metric and resets the submission counter.
	Flush() []Measurement
	// FlushEvents drains pending events and resets the event counter.
	FlushEvents() []map[string]interface{}
	IncCount()
	IncEventCount()
	Count() uint64
	EventCount() uint64
}
