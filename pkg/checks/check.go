package checks

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/tilinna/clock"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/pkg/servicecheck"
)

// Check is a plugin run by the collector once per interval.
type Check interface {
	// Name of the check, the name of its configuration file.
	Name() string
	// Run checks every configured instance.
	Run(ctx context.Context) error
	// GetMetrics returns what was collected since the last call.
	GetMetrics() []monagent.Measurement
}

// Stopper is implemented by checks holding resources, such as service
// check pools, that must be released when the agent stops.
type Stopper interface {
	Stop()
}

// ServiceChecker probes a single service instance. Checks built on
// ServiceBase hand CheckService to their scheduler.
type ServiceChecker interface {
	CheckService(ctx context.Context, instance monagent.Instance) (servicecheck.Status, string, error)
}

// EventSource is implemented by checks raising events.
type EventSource interface {
	// GetEvents drains the events raised since the last call.
	GetEvents() []map[string]interface{}
}

// Config is everything a check is created from.
type Config struct {
	Name       string
	InitConfig map[string]interface{}
	Agent      monagent.AgentConfig
	Instances  []monagent.Instance
	// RecentPointThreshold for the check aggregator, zero for the default.
	RecentPointThreshold int
	// Clock of the check aggregator, nil for the wall clock.
	Clock clock.Clock
}

// Factory creates a check.
type Factory func(logger logrus.FieldLogger, cfg Config) (Check, error)
