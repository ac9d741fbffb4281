package util

import (
	"context"
	"errors"
	"fmt"

	"github.com/ash2k/stager/wait"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/pkg/ready"
)

// ErrComponentStopped is the cause of the context of StartRunnables once
// one of the runnables returned on its own.
var ErrComponentStopped = errors.New("component stopped")

// StartRunnables starts every runnable in wg and waits until all of them
// signalled readiness. The returned context is cancelled as soon as any
// runnable returns; callers cancel it themselves to stop the rest.
func StartRunnables(ctx context.Context, wg *wait.Group, runnables ...monagent.Runnable) (context.Context, context.CancelCauseFunc, error) {
	gate := ready.NewGate(len(runnables))
	ctx, cancel := context.WithCancelCause(ready.WithGate(ctx, gate))
	for _, r := range runnables {
		r := r
		wg.StartWithContext(ctx, func(ctx context.Context) {
			r(ctx)
			cancel(ErrComponentStopped)
		})
	}
	if err := gate.Wait(ctx); err != nil {
		return ctx, cancel, StopCause(ctx)
	}
	return ctx, cancel, nil
}

// StopCause returns an error if ctx was cancelled because a component
// stopped, nil for a regular shutdown.
func StopCause(ctx context.Context) error {
	if cause := context.Cause(ctx); errors.Is(cause, ErrComponentStopped) {
		return fmt.Errorf("shutting down: %w", cause)
	}
	return nil
}
