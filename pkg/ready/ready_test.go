package ready

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateOpensAfterAllSignals(t *testing.T) {
	t.Parallel()

	g := NewGate(2)
	ctx := WithGate(context.Background(), g)

	SignalReady(ctx)
	assert.False(t, g.Open())
	SignalReady(ctx)
	assert.True(t, g.Open())
	// extra signals are ignored
	SignalReady(ctx)
	require.NoError(t, g.Wait(context.Background()))
}

func TestGateAdd(t *testing.T) {
	t.Parallel()

	g := NewGate(1)
	g.Add(1)
	ctx := WithGate(context.Background(), g)
	SignalReady(ctx)
	assert.False(t, g.Open())
	SignalReady(ctx)
	assert.True(t, g.Open())
}

func TestGateWaitHonoursContext(t *testing.T) {
	t.Parallel()

	g := NewGate(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Wait(ctx), context.DeadlineExceeded)
}

func TestEmptyGateIsOpen(t *testing.T) {
	t.Parallel()

	assert.True(t, NewGate(0).Open())
	// no gate attached
	SignalReady(context.Background())
}
