package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tilinna/clock"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/pkg/healthcheck"
)

// ErrRestart is returned by Daemon.Run when the collector restarts itself.
var ErrRestart = errors.New("collector restart interval elapsed")

// Daemon runs a Collector at the configured frequency.
type Daemon struct {
	collector *Collector
	logger    logrus.FieldLogger
	agent     monagent.AgentConfig
}

// NewDaemon creates a Daemon for collector.
func NewDaemon(logger logrus.FieldLogger, agent monagent.AgentConfig, collector *Collector) *Daemon {
	if agent.CheckFreq <= 0 {
		agent.CheckFreq = monagent.DefaultCheckFreq
	}
	if agent.AutoRestart && (agent.RestartInterval < monagent.MinRestartInterval || agent.RestartInterval > monagent.MaxRestartInterval) {
		logger.Errorf("Collector restart interval must be between %v and %v, using %v",
			monagent.MinRestartInterval, monagent.MaxRestartInterval, monagent.DefaultRestartInterval)
		agent.RestartInterval = monagent.DefaultRestartInterval
	}
	return &Daemon{
		collector: collector,
		logger:    logger,
		agent:     agent,
	}
}

// Run runs the collector until ctx is done, or until the restart interval
// elapses, in which case ErrRestart is returned. The collector is stopped
// before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.collector.Stop()

	clck := clock.FromContext(ctx)
	start := clck.Now()
	for {
		if ctx.Err() != nil {
			return nil
		}
		runStart := clck.Now()
		d.collector.RunOnce(ctx)

		now := clck.Now()
		if d.agent.AutoRestart && now.Sub(start) > d.agent.RestartInterval {
			d.logger.Info("Automatically restarting collector")
			return ErrRestart
		}

		elapsed := now.Sub(runStart)
		if elapsed >= d.agent.CheckFreq {
			d.logger.Infof("Collection took %v which is as long or longer then the configured collection frequency of %v. Starting collection again without waiting in result.",
				elapsed, d.agent.CheckFreq)
			continue
		}

		timer := clck.NewTimer(d.agent.CheckFreq - elapsed)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// DeepChecks reports whether the collector keeps running at its frequency.
func (d *Daemon) DeepChecks() []healthcheck.HealthcheckFunc {
	return []healthcheck.HealthcheckFunc{
		func() (string, healthcheck.HealthyStatus) {
			last := d.collector.LastRun()
			if last.IsZero() {
				return "collector has not finished a run yet", healthcheck.Unhealthy
			}
			if since := time.Since(last); since > 2*d.agent.CheckFreq+d.collector.MaxCollectionTime {
				return fmt.Sprintf("collector last finished a run %v ago", since.Round(time.Second)), healthcheck.Unhealthy
			}
			return fmt.Sprintf("collector finished run #%d", d.collector.RunCount()), healthcheck.Healthy
		},
	}
}
