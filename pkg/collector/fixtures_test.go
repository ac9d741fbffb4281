package collector

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/monasca/monagent"
)

type fakeCheck struct {
	name     string
	metrics  []monagent.Measurement
	events   []map[string]interface{}
	err      error
	panicVal interface{}
	runs     int32 // atomic
	stopped  int32 // atomic
}

func (f *fakeCheck) Name() string {
	return f.name
}

func (f *fakeCheck) Run(ctx context.Context) error {
	atomic.AddInt32(&f.runs, 1)
	if f.panicVal != nil {
		panic(f.panicVal)
	}
	return f.err
}

func (f *fakeCheck) GetMetrics() []monagent.Measurement {
	return f.metrics
}

func (f *fakeCheck) GetEvents() []map[string]interface{} {
	events := f.events
	f.events = nil
	return events
}

func (f *fakeCheck) Stop() {
	atomic.AddInt32(&f.stopped, 1)
}

func (f *fakeCheck) Runs() int {
	return int(atomic.LoadInt32(&f.runs))
}

func (f *fakeCheck) Stopped() bool {
	return atomic.LoadInt32(&f.stopped) > 0
}

var errCheckFailed = errors.New("check failed")
