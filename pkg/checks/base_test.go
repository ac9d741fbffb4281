package checks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tilinna/clock"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/internal/fixtures"
)

func newTestBase(t *testing.T, instances ...monagent.Instance) *Base {
	return NewBase(fixtures.NewTestLogger(t), Config{
		Name: "test",
		Agent: monagent.AgentConfig{
			Hostname:   "host1",
			Dimensions: monagent.Dimensions{"region": "east", "service": "default"},
		},
		Instances: instances,
		Clock:     clock.NewMock(time.Unix(1000, 0)),
	})
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		metric string
		prefix string
		want   string
	}{
		{metric: "requests", want: "requests"},
		{metric: "Keyspace.hits(total)", want: "Keyspace.hits_total"},
		{metric: "a--b", want: "a_b"},
		{metric: "_a.b_", want: "a.b"},
		{metric: "a,_.b", want: "a.b"},
		{metric: "used+free", prefix: "mem", want: "mem.used_free"},
		{metric: "[x]{y}", want: "x_y"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.metric, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Normalize(tt.metric, tt.prefix))
		})
	}
}

func TestReadConfig(t *testing.T) {
	t.Parallel()
	instance := monagent.Instance{"url": "http://localhost", "empty": nil}

	v, err := ReadConfig(instance, "url", "")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost", v)

	_, err = ReadConfig(instance, "host", "")
	require.ErrorIs(t, err, ErrMissingConfig)
	assert.Contains(t, err.Error(), "Must provide `host` value in instance config")

	_, err = ReadConfig(instance, "empty", "custom message")
	require.ErrorIs(t, err, ErrMissingConfig)
	assert.Contains(t, err.Error(), "custom message")
}

func TestBaseSubmitMergesDimensions(t *testing.T) {
	t.Parallel()
	instance := monagent.Instance{
		"dimensions": map[string]interface{}{"service": "web"},
	}
	b := newTestBase(t, instance)

	dims := b.SetDimensions(monagent.Dimensions{"url": "http://a"}, instance)
	require.NoError(t, b.Gauge("http_status", 0, WithDimensions(dims)))

	ms := b.GetMetrics()
	require.Len(t, ms, 1)
	assert.Equal(t, "http_status", ms[0].Name)
	assert.Equal(t, monagent.Dimensions{
		"url":      "http://a",
		"service":  "web",
		"region":   "east",
		"hostname": "host1",
	}, ms[0].Dimensions)
	assert.EqualValues(t, 1000, ms[0].Timestamp)
}

func TestBaseSetDBDimensions(t *testing.T) {
	t.Parallel()
	instance := monagent.Instance{
		"dimensions": map[string]interface{}{"db": "configured"},
	}
	b := newTestBase(t, instance)
	dims := b.SetDBDimensions(nil, instance, "db0")
	assert.Equal(t, "db0", dims[monagent.DimensionDB])
	assert.Equal(t, "east", dims["region"])
}

func TestBaseCounters(t *testing.T) {
	t.Parallel()
	b := newTestBase(t)
	require.NoError(t, b.Increment("jobs", 5))
	require.NoError(t, b.Decrement("jobs", 2))

	ms := b.GetMetrics()
	require.Len(t, ms, 1)
	assert.EqualValues(t, 3, ms[0].Value)

	// counters report zero once they exist
	ms = b.GetMetrics()
	require.Len(t, ms, 1)
	assert.EqualValues(t, 0, ms[0].Value)
}

func TestBaseSetAndHistogram(t *testing.T) {
	t.Parallel()
	b := newTestBase(t)
	require.NoError(t, b.Set("users", "a"))
	require.NoError(t, b.Set("users", "b"))
	require.NoError(t, b.Set("users", "a"))
	require.NoError(t, b.Histogram("latency", 10))
	require.NoError(t, b.Histogram("latency", 20))

	ms := b.GetMetrics()
	fixtures.SortMeasurements(ms)
	users, ok := fixtures.FindMeasurement(ms, "users")
	require.True(t, ok)
	assert.EqualValues(t, 2, users.Value)
	maxLatency, ok := fixtures.FindMeasurement(ms, "latency.max")
	require.True(t, ok)
	assert.EqualValues(t, 20, maxLatency.Value)
}

func TestBaseRejectsInvalidMetric(t *testing.T) {
	t.Parallel()
	b := newTestBase(t)
	err := b.Gauge("bad{name}", 1)
	require.Error(t, err)
	assert.Empty(t, b.GetMetrics())
}

func TestBaseEvents(t *testing.T) {
	t.Parallel()
	b := newTestBase(t)
	b.Event(&monagent.Event{Title: "deploy", Text: "done"})
	assert.Empty(t, b.GetMetrics())

	events := b.GetEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "deploy", events[0]["msg_title"])
	assert.Equal(t, "host1", events[0]["host"])
	assert.Empty(t, b.GetEvents())
}

func TestRunInstancesContinuesAfterFailure(t *testing.T) {
	t.Parallel()
	instances := []monagent.Instance{{"name": "a"}, {"name": "b"}, {"name": "c"}}
	b := newTestBase(t, instances...)
	assert.Equal(t, 3, b.InstanceCount())

	var seen []string
	err := b.RunInstances(context.Background(), func(_ context.Context, instance monagent.Instance) error {
		name, _ := instance.Name()
		seen = append(seen, name)
		switch name {
		case "a":
			return errors.New("boom")
		case "b":
			panic("oops")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestRunInstancesStopsOnCancel(t *testing.T) {
	t.Parallel()
	b := newTestBase(t, monagent.Instance{"name": "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := b.RunInstances(ctx, func(context.Context, monagent.Instance) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
