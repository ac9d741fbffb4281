package checks

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/pkg/servicecheck"
)

// InitThreadsCount is the init_config key overriding the service check pool size.
const InitThreadsCount = "threads_count"

// ServiceBase is the base of checks probing remote services. Probes run on
// a servicecheck.Scheduler so a slow target never blocks the collector.
type ServiceBase struct {
	*Base
	scheduler *servicecheck.Scheduler
}

// NewServiceBase creates a service check base running probe for each
// instance. statusEvent builds state change events, nil for
// servicecheck.DefaultStatusEvent.
func NewServiceBase(logger logrus.FieldLogger, cfg Config, probe servicecheck.CheckFunc, statusEvent servicecheck.EventFunc) *ServiceBase {
	b := NewBase(logger, cfg)
	sb := &ServiceBase{Base: b}
	sb.scheduler = servicecheck.NewScheduler(logger, servicecheck.Config{
		Name:          cfg.Name,
		ThreadsCount:  b.InitConfig().GetInt(InitThreadsCount, 0),
		InstanceCount: len(cfg.Instances),
		Timeout:       cfg.Agent.Timeout,
		StatusEvent:   statusEvent,
	}, probe, b.Event)
	return sb
}

// Run schedules a probe for every instance not already being probed.
func (s *ServiceBase) Run(ctx context.Context) error {
	return s.RunInstances(ctx, s.scheduler.Check)
}

// Scheduler exposes the probe scheduler.
func (s *ServiceBase) Scheduler() *servicecheck.Scheduler {
	return s.scheduler
}

// Stop terminates the probe pool.
func (s *ServiceBase) Stop() {
	s.scheduler.Stop()
}

// NoStatusEvents is an EventFunc for checks not raising state change events.
func NoStatusEvents(string, servicecheck.Status, string, monagent.Instance) *monagent.Event {
	return nil
}
