// Package ready lets long running components announce that they have bound
// their sockets, so a binary can report itself started only once they all did.
package ready

import (
	"context"
	"sync"
)

type keyType int

const gateKey = keyType(0)

// Gate opens once the expected number of components signalled readiness.
type Gate struct {
	mu      sync.Mutex
	pending int
	open    chan struct{}
}

// NewGate creates a Gate waiting for n components. A Gate for zero
// components is open already.
func NewGate(n int) *Gate {
	g := &Gate{
		pending: n,
		open:    make(chan struct{}),
	}
	if n <= 0 {
		close(g.open)
	}
	return g
}

// Add expects n more components. It has no effect once the gate is open.
func (g *Gate) Add(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending > 0 {
		g.pending += n
	}
}

func (g *Gate) signal() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending <= 0 {
		// extra signals, e.g. from a restarted component
		return
	}
	g.pending--
	if g.pending == 0 {
		close(g.open)
	}
}

// Wait blocks until the gate opens or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Open reports whether every expected component signalled.
func (g *Gate) Open() bool {
	select {
	case <-g.open:
		return true
	default:
		return false
	}
}

// WithGate attaches g to ctx.
func WithGate(ctx context.Context, g *Gate) context.Context {
	return context.WithValue(ctx, gateKey, g)
}

// SignalReady signals the Gate attached to ctx, if any.
func SignalReady(ctx context.Context) {
	if g, ok := ctx.Value(gateKey).(*Gate); ok {
		g.signal()
	}
}
