package checks

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/pkg/aggregator"
)

// ErrMissingConfig is returned when a required instance key is not set.
var ErrMissingConfig = errors.New("missing instance config")

// Base carries what every check shares: its configuration, a private
// aggregator and the metric submission helpers. Concrete checks embed it.
type Base struct {
	name       string
	initConfig map[string]interface{}
	agent      monagent.AgentConfig
	instances  []monagent.Instance
	logger     logrus.FieldLogger
	aggregator *aggregator.MetricsAggregator
}

// NewBase creates the shared part of a check.
func NewBase(logger logrus.FieldLogger, cfg Config) *Base {
	logger = logger.WithField("check", cfg.Name)
	initConfig := cfg.InitConfig
	if initConfig == nil {
		initConfig = map[string]interface{}{}
	}
	return &Base{
		name:       cfg.Name,
		initConfig: initConfig,
		agent:      cfg.Agent,
		instances:  cfg.Instances,
		logger:     logger,
		aggregator: aggregator.NewMetricsAggregator(logger, cfg.Agent.Hostname, time.Duration(cfg.RecentPointThreshold)*time.Second, cfg.Clock),
	}
}

func (b *Base) Name() string {
	return b.name
}

func (b *Base) Logger() logrus.FieldLogger {
	return b.logger
}

func (b *Base) InitConfig() monagent.Instance {
	return b.initConfig
}

func (b *Base) Agent() monagent.AgentConfig {
	return b.agent
}

func (b *Base) Instances() []monagent.Instance {
	return b.instances
}

// InstanceCount is the number of configured instances.
func (b *Base) InstanceCount() int {
	return len(b.instances)
}

// Aggregator exposes the private aggregator of the check.
func (b *Base) Aggregator() *aggregator.MetricsAggregator {
	return b.aggregator
}

// RunInstances calls fn for every instance. A failing or panicking instance
// is logged and does not stop the others.
func (b *Base) RunInstances(ctx context.Context, fn func(context.Context, monagent.Instance) error) error {
	for i, instance := range b.instances {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := b.runInstance(ctx, fn, instance); err != nil {
			b.logger.WithError(err).Errorf("Check '%s' instance #%d failed", b.name, i)
		}
	}
	return nil
}

func (b *Base) runInstance(ctx context.Context, fn func(context.Context, monagent.Instance) error, instance monagent.Instance) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, instance)
}

// GetMetrics flushes the metrics of the check aggregator.
func (b *Base) GetMetrics() []monagent.Measurement {
	return b.aggregator.Flush()
}

// GetEvents drains the events raised by the check.
func (b *Base) GetEvents() []map[string]interface{} {
	return b.aggregator.FlushEvents()
}

// SetDimensions merges the instance dimensions and the agent defaults into dims.
func (b *Base) SetDimensions(dims monagent.Dimensions, instance monagent.Instance) monagent.Dimensions {
	return dims.Merge(instance.Dimensions(), b.agent.Dimensions)
}

// SetDBDimensions is SetDimensions for measurements about database db.
func (b *Base) SetDBDimensions(dims monagent.Dimensions, instance monagent.Instance, db string) monagent.Dimensions {
	return dims.MergeDB(instance.Dimensions(), b.agent.Dimensions, db)
}

// SubmitOpt sets optional attributes of a submitted metric.
type SubmitOpt func(*monagent.Metric)

func WithDimensions(dims monagent.Dimensions) SubmitOpt {
	return func(m *monagent.Metric) { m.Dimensions = dims }
}

func WithDelegatedTenant(tenant string) SubmitOpt {
	return func(m *monagent.Metric) { m.DelegatedTenant = tenant }
}

func WithHostname(hostname string) SubmitOpt {
	return func(m *monagent.Metric) { m.Hostname = hostname }
}

func WithDevice(device string) SubmitOpt {
	return func(m *monagent.Metric) { m.DeviceName = device }
}

func WithTimestamp(ts time.Time) SubmitOpt {
	return func(m *monagent.Metric) { m.Timestamp = float64(ts.UnixNano()) / float64(time.Second) }
}

func WithValueMeta(meta map[string]string) SubmitOpt {
	return func(m *monagent.Metric) { m.ValueMeta = meta }
}

func WithSampleRate(rate float64) SubmitOpt {
	return func(m *monagent.Metric) { m.Rate = rate }
}

func (b *Base) submit(class monagent.MetricClass, name string, value float64, stringValue string, opts []SubmitOpt) error {
	m := &monagent.Metric{
		Name:        name,
		Value:       value,
		StringValue: stringValue,
		Class:       class,
		Rate:        1,
	}
	for _, opt := range opts {
		opt(m)
	}
	return b.aggregator.SubmitMetric(m)
}

// Gauge records the value of a gauge.
func (b *Base) Gauge(name string, value float64, opts ...SubmitOpt) error {
	return b.submit(monagent.GAUGE, name, value, "", opts)
}

// Increment adds value to a counter.
func (b *Base) Increment(name string, value float64, opts ...SubmitOpt) error {
	return b.submit(monagent.COUNTER, name, value, "", opts)
}

// Decrement subtracts value from a counter.
func (b *Base) Decrement(name string, value float64, opts ...SubmitOpt) error {
	return b.submit(monagent.COUNTER, name, -value, "", opts)
}

// Rate submits a point of a metric reported as a rate on flush. Points are
// kept across flushes until there are two to compute a rate from.
func (b *Base) Rate(name string, value float64, opts ...SubmitOpt) error {
	return b.submit(monagent.RATE, name, value, "", opts)
}

// Histogram samples a value of a distribution.
func (b *Base) Histogram(name string, value float64, opts ...SubmitOpt) error {
	return b.submit(monagent.HISTOGRAM, name, value, "", opts)
}

// Set adds value to a set counting distinct values.
func (b *Base) Set(name, value string, opts ...SubmitOpt) error {
	return b.submit(monagent.SET, name, 0, value, opts)
}

// Event queues an event raised by the check.
func (b *Base) Event(e *monagent.Event) {
	b.aggregator.Event(e)
}

var (
	normalizeInvalid    = regexp.MustCompile(`[,+*\-/()\[\]{}]`)
	normalizeMulti      = regexp.MustCompile(`__+`)
	normalizeDotUnder   = regexp.MustCompile(`\._`)
	normalizeUnderDot   = regexp.MustCompile(`_\.`)
	normalizeLeadTrails = regexp.MustCompile(`^_|_$`)
)

// Normalize turns a metric into a well-formed metric name, prefix.a.b when
// prefix is set.
func Normalize(metric, prefix string) string {
	name := normalizeInvalid.ReplaceAllString(metric, "_")
	name = normalizeMulti.ReplaceAllString(name, "_")
	name = normalizeLeadTrails.ReplaceAllString(name, "")
	name = normalizeDotUnder.ReplaceAllString(name, ".")
	name = normalizeUnderDot.ReplaceAllString(name, ".")
	if prefix != "" {
		return prefix + "." + name
	}
	return name
}

// ReadConfig returns instance[key], or an error wrapping ErrMissingConfig
// with message (or a default message) when it is not set.
func ReadConfig(instance monagent.Instance, key, message string) (interface{}, error) {
	v, ok := instance[key]
	if !ok || v == nil {
		if message == "" {
			message = fmt.Sprintf("Must provide `%s` value in instance config", key)
		}
		return nil, fmt.Errorf("%w: %s", ErrMissingConfig, message)
	}
	return v, nil
}
