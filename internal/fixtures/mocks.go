package fixtures

import (
	"context"
	"sync"

	"github.com/monasca/monagent"
)

// CapturingEmitter records every batch it is asked to emit.
type CapturingEmitter struct {
	mu      sync.Mutex
	batches [][]monagent.Measurement
	urls    []string
	Err     error
}

var _ monagent.Emitter = (*CapturingEmitter)(nil)

func (c *CapturingEmitter) Emit(ctx context.Context, measurements []monagent.Measurement, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := make([]monagent.Measurement, len(measurements))
	copy(batch, measurements)
	c.batches = append(c.batches, batch)
	c.urls = append(c.urls, url)
	return c.Err
}

// Batches returns a copy of the captured batches.
func (c *CapturingEmitter) Batches() [][]monagent.Measurement {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]monagent.Measurement, len(c.batches))
	copy(out, c.batches)
	return out
}

// Measurements returns every captured measurement, flattened.
func (c *CapturingEmitter) Measurements() []monagent.Measurement {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []monagent.Measurement
	for _, b := range c.batches {
		out = append(out, b...)
	}
	return out
}

// URLs returns the url of each captured batch.
func (c *CapturingEmitter) URLs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.urls))
	copy(out, c.urls)
	return out
}
