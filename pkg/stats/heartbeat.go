package stats

import (
	"context"

	"github.com/monasca/monagent"
)

// HeartBeater sends a count after every flush for heartbeat purposes
type HeartBeater struct {
	metricName string
	dims       monagent.Dimensions
}

// NewHeartBeater creates a new HeartBeater
func NewHeartBeater(metricName string, dims monagent.Dimensions) *HeartBeater {
	return &HeartBeater{
		metricName: metricName,
		dims:       dims,
	}
}

// Run will run a HeartBeater in the background until the supplied context is closed.
func (hb *HeartBeater) Run(ctx context.Context) {
	statser := FromContext(ctx).WithDimensions(hb.dims)
	flushed, unregister := statser.RegisterFlush()
	defer unregister()

	for {
		select {
		case <-ctx.Done():
			return
		case <-flushed:
			statser.Count(hb.metricName, 1, nil)
		}
	}
}
