package util

import (
	"context"
	"testing"
	"time"

	"github.com/ash2k/stager/wait"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monasca/monagent/pkg/ready"
)

func TestStartRunnablesWaitsForReadiness(t *testing.T) {
	t.Parallel()

	var wg wait.Group
	defer wg.Wait()
	started := make(chan struct{}, 2)
	serve := func(ctx context.Context) {
		started <- struct{}{}
		ready.SignalReady(ctx)
		<-ctx.Done()
	}

	ctx, cancel, err := StartRunnables(context.Background(), &wg, serve, serve)
	require.NoError(t, err)
	assert.Len(t, started, 2)
	assert.NoError(t, ctx.Err())

	cancel(nil)
	assert.NoError(t, StopCause(ctx))
}

func TestStartRunnablesComponentFailsToStart(t *testing.T) {
	t.Parallel()

	var wg wait.Group
	defer wg.Wait()
	failing := func(ctx context.Context) {}
	blocking := func(ctx context.Context) {
		ready.SignalReady(ctx)
		<-ctx.Done()
	}

	ctx, cancel, err := StartRunnables(context.Background(), &wg, failing, blocking)
	defer cancel(nil)
	assert.ErrorIs(t, err, ErrComponentStopped)
	assert.Error(t, ctx.Err())
}

func TestStartRunnablesParentCancelled(t *testing.T) {
	t.Parallel()

	var wg wait.Group
	defer wg.Wait()
	parent, cancelParent := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelParent()
	neverReady := func(ctx context.Context) { <-ctx.Done() }

	_, cancel, err := StartRunnables(parent, &wg, neverReady)
	defer cancel(nil)
	assert.NoError(t, err)
}
