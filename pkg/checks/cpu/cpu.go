// Package cpu reports host CPU utilisation as percentages of the time spent
// in each mode since the previous run.
package cpu

import (
	"context"
	"errors"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/sirupsen/logrus"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/pkg/checks"
)

// Name of the check.
const Name = "cpu"

type instanceConfig struct {
	SendRollupStats bool `mapstructure:"send_rollup_stats"`
	CPUIdleOnly     bool `mapstructure:"cpu_idle_only"`
}

// Check is the cpu check.
type Check struct {
	*checks.Base
	times  func(ctx context.Context) (cpu.TimesStat, error)
	counts func(ctx context.Context) (int, error)
	last   *cpu.TimesStat
}

// New is the checks.Factory of the cpu check.
func New(logger logrus.FieldLogger, cfg checks.Config) (checks.Check, error) {
	c := &Check{
		Base:   checks.NewBase(logger, cfg),
		times:  totalTimes,
		counts: logicalCores,
	}
	// Baseline for the first run.
	if t, err := c.times(context.Background()); err == nil {
		c.last = &t
	}
	return c, nil
}

func totalTimes(ctx context.Context) (cpu.TimesStat, error) {
	ts, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return cpu.TimesStat{}, err
	}
	if len(ts) == 0 {
		return cpu.TimesStat{}, errors.New("no cpu times reported")
	}
	return ts[0], nil
}

func logicalCores(ctx context.Context) (int, error) {
	return cpu.CountsWithContext(ctx, true)
}

func (c *Check) Run(ctx context.Context) error {
	return c.RunInstances(ctx, c.check)
}

func (c *Check) check(ctx context.Context, instance monagent.Instance) error {
	var cfg instanceConfig
	if err := checks.DecodeInstance(instance, &cfg); err != nil {
		return err
	}
	dims := c.SetDimensions(nil, instance)

	now, err := c.times(ctx)
	if err != nil {
		return err
	}
	prev := c.last
	c.last = &now
	if prev == nil {
		c.Logger().Debug("No previous cpu sample, skipping")
		return nil
	}

	perc, ok := percentages(*prev, now)
	if !ok {
		c.Logger().Debug("No cpu time elapsed since previous sample")
		return nil
	}
	data := map[string]float64{
		"cpu.user_perc":   perc.User + perc.Nice,
		"cpu.system_perc": perc.System + perc.Irq + perc.Softirq,
		"cpu.wait_perc":   perc.Iowait,
		"cpu.idle_perc":   perc.Idle,
		"cpu.stolen_perc": perc.Steal,
	}
	n := 0
	for name, value := range data {
		if cfg.CPUIdleOnly && name != "cpu.idle_perc" {
			continue
		}
		if err := c.Gauge(name, value, checks.WithDimensions(dims)); err != nil {
			return err
		}
		n++
	}
	if cfg.SendRollupStats {
		cores, err := c.counts(ctx)
		if err != nil {
			return err
		}
		if err := c.Gauge("cpu.total_logical_cores", float64(cores), checks.WithDimensions(dims)); err != nil {
			return err
		}
		n++
	}
	c.Logger().Debugf("Collected %d cpu metrics", n)
	return nil
}

func sum(t cpu.TimesStat) float64 {
	return t.User + t.Nice + t.System + t.Idle + t.Iowait + t.Irq + t.Softirq + t.Steal
}

// percentages of the time spent in every mode between prev and now.
func percentages(prev, now cpu.TimesStat) (cpu.TimesStat, bool) {
	total := sum(now) - sum(prev)
	if total <= 0 {
		return cpu.TimesStat{}, false
	}
	pct := func(a, b float64) float64 {
		d := b - a
		if d < 0 {
			d = 0
		}
		return d / total * 100
	}
	return cpu.TimesStat{
		User:    pct(prev.User, now.User),
		Nice:    pct(prev.Nice, now.Nice),
		System:  pct(prev.System, now.System),
		Idle:    pct(prev.Idle, now.Idle),
		Iowait:  pct(prev.Iowait, now.Iowait),
		Irq:     pct(prev.Irq, now.Irq),
		Softirq: pct(prev.Softirq, now.Softirq),
		Steal:   pct(prev.Steal, now.Steal),
	}, true
}
