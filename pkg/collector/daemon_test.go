package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/internal/fixtures"
	"github.com/monasca/monagent/pkg/checks"
	"github.com/monasca/monagent/pkg/healthcheck"
)

func TestDaemonRunsAtFrequency(t *testing.T) {
	t.Parallel()

	ctxTest, cancelTest := fixtures.TestContext(t, 5*time.Second)
	defer cancelTest()
	ctx, clck := fixtures.NewMockClockContext(ctxTest, time.Unix(0, 0))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	check := &fakeCheck{name: "a"}
	agent := monagent.AgentConfig{CheckFreq: 15 * time.Second}
	c := newTestCollector(t, []checks.Check{check}, &fixtures.CapturingEmitter{})
	d := NewDaemon(fixtures.NewTestLogger(t), agent, c)

	errs := make(chan error, 1)
	go func() {
		errs <- d.Run(ctx)
	}()

	require.Eventually(t, func() bool { return check.Runs() == 1 }, time.Second, time.Millisecond)
	fixtures.NextStep(ctx, clck)
	require.Eventually(t, func() bool { return check.Runs() == 2 }, time.Second, time.Millisecond)
	fixtures.NextStep(ctx, clck)
	require.Eventually(t, func() bool { return check.Runs() == 3 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-errs)
	assert.True(t, check.Stopped())
}

func TestDaemonAutoRestart(t *testing.T) {
	t.Parallel()

	ctxTest, cancelTest := fixtures.TestContext(t, 5*time.Second)
	defer cancelTest()
	ctx, clck := fixtures.NewMockClockContext(ctxTest, time.Unix(0, 0))

	check := &fakeCheck{name: "a"}
	agent := monagent.AgentConfig{
		CheckFreq:       time.Hour,
		AutoRestart:     true,
		RestartInterval: 100 * time.Hour, // out of range, reset to 24h
	}
	c := newTestCollector(t, []checks.Check{check}, &fixtures.CapturingEmitter{})
	d := NewDaemon(fixtures.NewTestLogger(t), agent, c)
	assert.Equal(t, monagent.DefaultRestartInterval, d.agent.RestartInterval)

	errs := make(chan error, 1)
	go func() {
		errs <- d.Run(ctx)
	}()

	for i := 1; i <= 25; i++ {
		require.Eventually(t, func() bool { return check.Runs() == i }, time.Second, time.Millisecond)
		fixtures.NextStep(ctx, clck)
	}
	require.ErrorIs(t, <-errs, ErrRestart)
	assert.Equal(t, 26, check.Runs())
	assert.True(t, check.Stopped())
}

func TestDaemonDeepChecks(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t, nil, &fixtures.CapturingEmitter{})
	d := NewDaemon(fixtures.NewTestLogger(t), monagent.AgentConfig{CheckFreq: time.Minute}, c)
	check := d.DeepChecks()[0]

	_, status := check()
	assert.Equal(t, healthcheck.Unhealthy, status)

	c.RunOnce(context.Background())
	msg, status := check()
	assert.Equal(t, healthcheck.Healthy, status)
	assert.Equal(t, "collector finished run #1", msg)
}
