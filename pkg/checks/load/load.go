// Package load reports the host load averages.
package load

import (
	"context"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/sirupsen/logrus"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/pkg/checks"
)

// Name of the check.
const Name = "load"

// Check is the load check.
type Check struct {
	*checks.Base
	avg func(ctx context.Context) (*load.AvgStat, error)
}

// New is the checks.Factory of the load check.
func New(logger logrus.FieldLogger, cfg checks.Config) (checks.Check, error) {
	return &Check{
		Base: checks.NewBase(logger, cfg),
		avg:  load.AvgWithContext,
	}, nil
}

func (c *Check) Run(ctx context.Context) error {
	return c.RunInstances(ctx, c.check)
}

func (c *Check) check(ctx context.Context, instance monagent.Instance) error {
	avg, err := c.avg(ctx)
	if err != nil {
		return err
	}
	opt := checks.WithDimensions(c.SetDimensions(nil, instance))
	if err := c.Gauge("load.avg_1_min", avg.Load1, opt); err != nil {
		return err
	}
	if err := c.Gauge("load.avg_5_min", avg.Load5, opt); err != nil {
		return err
	}
	return c.Gauge("load.avg_15_min", avg.Load15, opt)
}
