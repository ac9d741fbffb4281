package statsd

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monasca/monagent/internal/fixtures"
	"github.com/monasca/monagent/pkg/aggregator"
	"github.com/monasca/monagent/pkg/fakesocket"
)

func TestStatsdThroughput(t *testing.T) {
	if testing.Short() {
		t.Skip("throughput test in short mode")
	}
	t.Parallel()

	var memStatsStart, memStatsFinish runtime.MemStats
	runtime.ReadMemStats(&memStatsStart)

	agg := aggregator.NewMetricsAggregator(fixtures.NewTestLogger(t), "agent-host", 0, nil)
	s := NewServer(fixtures.NewTestLogger(t), agg, "localhost:0", Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, s.RunWithCustomSocket(ctx, fakesocket.Factory))
	duration := time.Since(start).Seconds()

	runtime.ReadMemStats(&memStatsFinish)
	stats := s.GetStats()
	assert.NotZero(t, stats.PacketsReceived)
	assert.Zero(t, stats.BadLines)
	numMetrics := stats.MetricsReceived
	require.NotZero(t, numMetrics)
	assert.Equal(t, numMetrics, agg.Count())
	assert.NotEmpty(t, agg.Flush())

	totalAlloc := memStatsFinish.TotalAlloc - memStatsStart.TotalAlloc
	t.Logf(`Processed metrics: %d (%f per second)
	TotalAlloc: %d (%d per metric)
	NumGC: %d`,
		numMetrics, float64(numMetrics)/duration,
		totalAlloc, totalAlloc/numMetrics,
		memStatsFinish.NumGC-memStatsStart.NumGC)
}
