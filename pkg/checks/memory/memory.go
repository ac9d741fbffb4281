// Package memory reports host memory and swap usage.
package memory

import (
	"context"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/pkg/checks"
)

// Name of the check.
const Name = "memory"

const mb = 1 << 20

// Check is the memory check.
type Check struct {
	*checks.Base
	virtual func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	swap    func(ctx context.Context) (*mem.SwapMemoryStat, error)
}

// New is the checks.Factory of the memory check.
func New(logger logrus.FieldLogger, cfg checks.Config) (checks.Check, error) {
	return &Check{
		Base:    checks.NewBase(logger, cfg),
		virtual: mem.VirtualMemoryWithContext,
		swap:    mem.SwapMemoryWithContext,
	}, nil
}

func (c *Check) Run(ctx context.Context) error {
	return c.RunInstances(ctx, c.check)
}

func toMB(v uint64) float64 {
	return float64(v / mb)
}

func (c *Check) check(ctx context.Context, instance monagent.Instance) error {
	vm, err := c.virtual(ctx)
	if err != nil {
		return err
	}
	sw, err := c.swap(ctx)
	if err != nil {
		return err
	}
	opt := checks.WithDimensions(c.SetDimensions(nil, instance))

	type point struct {
		name  string
		value float64
	}
	points := []point{
		{"mem.total_mb", toMB(vm.Total)},
		{"mem.free_mb", toMB(vm.Free)},
		{"mem.usable_mb", toMB(vm.Available)},
		{"mem.used_mb", toMB(vm.Used)},
		{"mem.usable_perc", 100 - vm.UsedPercent},
		{"mem.swap_total_mb", toMB(sw.Total)},
		{"mem.swap_used_mb", toMB(sw.Used)},
		{"mem.swap_free_mb", toMB(sw.Free)},
		{"mem.swap_free_perc", 100 - sw.UsedPercent},
	}
	if vm.Buffers > 0 {
		points = append(points, point{"mem.used_buffers", toMB(vm.Buffers)})
	}
	if vm.Cached > 0 {
		points = append(points, point{"mem.used_cache", toMB(vm.Cached)})
	}
	if vm.Buffers > 0 && vm.Cached > 0 && vm.Used > vm.Buffers+vm.Cached {
		points = append(points, point{"mem.used_real_mb", toMB(vm.Used - vm.Buffers - vm.Cached)})
	}
	if vm.Shared > 0 {
		points = append(points, point{"mem.used_shared", toMB(vm.Shared)})
	}
	for _, p := range points {
		if err := c.Gauge(p.name, p.value, opt); err != nil {
			return err
		}
	}
	c.Logger().Debugf("Collected %d memory metrics", len(points))
	return nil
}
