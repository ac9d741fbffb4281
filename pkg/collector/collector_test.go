package collector

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/internal/fixtures"
	"github.com/monasca/monagent/pkg/checks"
)

func newTestCollector(t *testing.T, checkList []checks.Check, emitter monagent.Emitter) *Collector {
	c := NewCollector(fixtures.NewTestLogger(t), monagent.AgentConfig{
		ForwarderURL: "http://forwarder",
		Dimensions:   monagent.Dimensions{"cluster": "a", "service": "ignored"},
	}, checkList, emitter)
	c.ThreadCount = func() int { return 7 }
	return c
}

func countByName(ms []monagent.Measurement, name string) int {
	n := 0
	for _, m := range ms {
		if m.Name == name {
			n++
		}
	}
	return n
}

func TestRunOnceIsolatesFailingChecks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		broken *fakeCheck
	}{
		{name: "error", broken: &fakeCheck{name: "broken", err: errCheckFailed}},
		{name: "panic", broken: &fakeCheck{name: "broken", panicVal: "boom"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			survivor := &fakeCheck{
				name:    "survivor",
				metrics: []monagent.Measurement{{Name: "survivor.metric", Value: 1}},
			}
			emitter := &fixtures.CapturingEmitter{}
			c := newTestCollector(t, []checks.Check{tt.broken, survivor}, emitter)

			c.RunOnce(context.Background())

			assert.Equal(t, 1, tt.broken.Runs())
			assert.Equal(t, 1, survivor.Runs())
			ms := emitter.Measurements()
			assert.Equal(t, 1, countByName(ms, "survivor.metric"))
			assert.Equal(t, 1, countByName(ms, "monasca.thread_count"))
			assert.Equal(t, 1, countByName(ms, "monasca.collection_time_sec"))
			for _, url := range emitter.URLs() {
				assert.Equal(t, "http://forwarder", url)
			}
		})
	}
}

func TestSelfMetrics(t *testing.T) {
	t.Parallel()

	emitter := &fixtures.CapturingEmitter{}
	c := newTestCollector(t, nil, emitter)
	ctx, _ := fixtures.NewMockClockContext(context.Background(), time.Unix(1000, 0))

	c.RunOnce(ctx)

	batches := emitter.Batches()
	require.Len(t, batches, 1)
	tc, ok := fixtures.FindMeasurement(batches[0], "monasca.thread_count")
	require.True(t, ok)
	assert.EqualValues(t, 7, tc.Value)
	assert.EqualValues(t, 1000, tc.Timestamp)
	assert.Equal(t, monagent.Dimensions{
		"component": "monasca-agent",
		"service":   "monitoring",
		"cluster":   "a",
	}, tc.Dimensions)
	ct, ok := fixtures.FindMeasurement(batches[0], "monasca.collection_time_sec")
	require.True(t, ok)
	assert.Zero(t, ct.Value)
}

func TestRunOnceDrainsEvents(t *testing.T) {
	t.Parallel()

	check := &fakeCheck{
		name:   "events",
		events: []map[string]interface{}{{"msg_title": "build result"}},
	}
	c := newTestCollector(t, []checks.Check{check}, &fixtures.CapturingEmitter{})
	c.RunOnce(context.Background())
	assert.Empty(t, check.events)
}

func TestEmitterErrorIsNotFatal(t *testing.T) {
	t.Parallel()

	var calls int32
	emitter := monagent.EmitterFunc(func(context.Context, []monagent.Measurement, string) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("forwarder down")
	})
	check := &fakeCheck{name: "a", metrics: []monagent.Measurement{{Name: "a"}}}
	c := newTestCollector(t, []checks.Check{check}, emitter)
	c.RunOnce(context.Background())
	c.RunOnce(context.Background())
	assert.Equal(t, 2, check.Runs())
	assert.EqualValues(t, 2, c.RunCount())
	// check measurements and self metrics, on every run
	assert.EqualValues(t, 4, atomic.LoadInt32(&calls))
}

func TestStopSkipsChecksAndEmission(t *testing.T) {
	t.Parallel()

	emitter := &fixtures.CapturingEmitter{}
	check := &fakeCheck{name: "a", metrics: []monagent.Measurement{{Name: "a"}}}
	c := newTestCollector(t, []checks.Check{check}, emitter)

	c.Stop()
	c.Stop()
	assert.True(t, check.Stopped())
	assert.EqualValues(t, 1, check.stopped)

	c.RunOnce(context.Background())
	assert.Zero(t, check.Runs())
	assert.Empty(t, emitter.Batches())
}
