package aggregator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/tilinna/clock"

	"github.com/monasca/monagent"
)

const (
	// DefaultRecentPointThreshold is how old a submitted timestamp may be before the point is discarded.
	DefaultRecentPointThreshold = 3600 * time.Second
	// ValueMetaMaxNumber is the maximum number of value_meta entries.
	ValueMetaMaxNumber = 16
	// ValueMetaValueMaxLength is the maximum length of value_meta rendered as JSON.
	ValueMetaValueMaxLength = 2048
	// ValueMetaNameMaxLength is the maximum length of a value_meta name.
	ValueMetaNameMaxLength = 255

	maxNameLength = 255
)

var (
	ErrInvalidMetricName     = errors.New("invalid metric name")
	ErrInvalidDimensionKey   = errors.New("invalid dimension key")
	ErrInvalidDimensionValue = errors.New("invalid dimension value")
	ErrInvalidValue          = errors.New("invalid value")
	ErrInvalidValueMeta      = errors.New("invalid value meta")
	ErrInvalidSampleRate     = errors.New("invalid sample rate")
)

const invalidChars = `<>={}(),"\;&`

var (
	restrictedDimensionChars = regexp.MustCompile(`[` + regexp.QuoteMeta(invalidChars) + `]`)
	restrictedNameChars      = regexp.MustCompile(`[` + regexp.QuoteMeta(invalidChars) + ` ]`)
)

type contextKey struct {
	name            string
	dimensions      string
	valueMeta       string
	delegatedTenant string
	hostname        string
	deviceName      string
}

type metricContext struct {
	m               metric
	name            string
	dimensions      monagent.Dimensions
	hostname        string
	deviceName      string
	delegatedTenant string
	valueMeta       map[string]string
}

// MetricsAggregator accumulates metric samples and events between flushes.
// It is safe for concurrent use.
type MetricsAggregator struct {
	// Counters are accessed atomically and must stay first for 64-bit alignment
	count      uint64
	eventCount uint64
	totalCount uint64

	hostname             string
	recentPointThreshold time.Duration
	clock                clock.Clock
	logger               logrus.FieldLogger

	mu                    sync.Mutex
	contexts              map[contextKey]*metricContext
	order                 []contextKey
	events                []map[string]interface{}
	numDiscardedOldPoints int
}

var _ monagent.Aggregator = (*MetricsAggregator)(nil)

// NewMetricsAggregator returns an aggregator which adds hostname to every
// measurement lacking a hostname dimension. A zero recentPointThreshold
// means DefaultRecentPointThreshold, a nil clock means the wall clock.
func NewMetricsAggregator(logger logrus.FieldLogger, hostname string, recentPointThreshold time.Duration, clck clock.Clock) *MetricsAggregator {
	if recentPointThreshold <= 0 {
		recentPointThreshold = DefaultRecentPointThreshold
	}
	if clck == nil {
		clck = clock.FromContext(context.Background())
	}
	return &MetricsAggregator{
		hostname:             hostname,
		recentPointThreshold: recentPointThreshold,
		clock:                clck,
		logger:               logger,
		contexts:             map[contextKey]*metricContext{},
	}
}

// Hostname returns the default hostname of the aggregator.
func (a *MetricsAggregator) Hostname() string {
	return a.hostname
}

func (a *MetricsAggregator) now() float64 {
	return float64(a.clock.Now().UnixNano()) / float64(time.Second)
}

// SubmitMetric validates m and folds it into the state of its context.
// Points older than the recent point threshold are counted and dropped
// without an error.
func (a *MetricsAggregator) SubmitMetric(m *monagent.Metric) error {
	log := a.logger.WithField("metric", m.Name)
	if err := validateDimensions(m.Dimensions); err != nil {
		log.WithField("dimensions", m.Dimensions).WithError(err).Error("Invalid dimensions")
		return err
	}
	if err := validateName(m.Name); err != nil {
		log.WithError(err).Error("Invalid metric name")
		return err
	}
	if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
		log.WithField("value", m.Value).Error("Invalid value")
		return ErrInvalidValue
	}
	if (m.Class == monagent.COUNTER || m.Class == monagent.HISTOGRAM) && m.Rate <= 0 {
		log.WithField("rate", m.Rate).Error("Invalid sample rate")
		return ErrInvalidSampleRate
	}
	var metaKey string
	if len(m.ValueMeta) > 0 {
		if err := validateValueMeta(m.ValueMeta); err != nil {
			log.WithField("value_meta", m.ValueMeta).WithError(err).Error("Invalid value meta")
			return err
		}
		metaKey = monagent.Dimensions(m.ValueMeta).Key()
	}

	key := contextKey{
		name:            m.Name,
		dimensions:      m.Dimensions.Key(),
		valueMeta:       metaKey,
		delegatedTenant: m.DelegatedTenant,
		hostname:        m.Hostname,
		deviceName:      m.DeviceName,
	}

	now := a.now()
	timestamp := m.Timestamp

	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, ok := a.contexts[key]
	if !ok {
		hostname := m.Hostname
		if hostname == "" {
			hostname = a.hostname
		}
		ctx = &metricContext{
			m:               newMetric(m.Class),
			name:            m.Name,
			dimensions:      m.Dimensions.Copy(),
			hostname:        hostname,
			deviceName:      m.DeviceName,
			delegatedTenant: m.DelegatedTenant,
			valueMeta:       m.ValueMeta,
		}
		a.contexts[key] = ctx
		a.order = append(a.order, key)
	}
	if timestamp != 0 {
		if now-math.Trunc(timestamp) > a.recentPointThreshold.Seconds() {
			log.WithFields(logrus.Fields{
				"timestamp": timestamp,
				"now":       now,
			}).Debug("Discarding old point")
			a.numDiscardedOldPoints++
			return nil
		}
	} else {
		timestamp = now
	}
	ctx.m.sample(m, timestamp)
	return nil
}

// Event queues e for the next FlushEvents.
func (a *MetricsAggregator) Event(e *monagent.Event) {
	event := map[string]interface{}{
		"msg_title": e.Title,
		"msg_text":  e.Text,
	}
	if e.DateHappened != 0 {
		event["timestamp"] = e.DateHappened
	} else {
		event["timestamp"] = a.clock.Now().Unix()
	}
	if e.HasAlertType {
		event["alert_type"] = e.AlertType.String()
	}
	if e.AggregationKey != "" {
		event["aggregation_key"] = e.AggregationKey
	}
	if e.SourceTypeName != "" {
		event["source_type_name"] = e.SourceTypeName
	}
	if e.HasPriority {
		event["priority"] = e.Priority.String()
	}
	if e.Dimensions != nil {
		event["dimensions"] = e.Dimensions
	}
	if e.Hostname != "" {
		event["host"] = e.Hostname
	} else {
		event["host"] = a.hostname
	}

	a.mu.Lock()
	a.events = append(a.events, event)
	a.mu.Unlock()
}

// Flush rolls up every context at the current time and resets the count of
// received payloads.
func (a *MetricsAggregator) Flush() []monagent.Measurement {
	timestamp := a.now()

	a.mu.Lock()
	var measurements []monagent.Measurement
	for _, key := range a.order {
		ctx := a.contexts[key]
		ms, err := ctx.m.flush(timestamp, ctx.format)
		if err != nil {
			log := a.logger.WithField("metric", ctx.name).WithError(err)
			if errors.Is(err, errNegativeDelta) {
				log.Info("Error flushing metric")
			} else {
				log.Warn("Error flushing metric")
			}
			continue
		}
		measurements = append(measurements, ms...)
	}
	discarded := a.numDiscardedOldPoints
	a.numDiscardedOldPoints = 0
	a.mu.Unlock()

	if discarded > 0 {
		a.logger.Warnf("%d points were discarded as a result of having an old timestamp", discarded)
	}

	count := atomic.SwapUint64(&a.count, 0)
	atomic.AddUint64(&a.totalCount, count)
	a.logger.Debugf("received %d payloads since last flush", count)
	return measurements
}

// FlushEvents drains the queued events and resets the event count.
func (a *MetricsAggregator) FlushEvents() []map[string]interface{} {
	a.mu.Lock()
	events := a.events
	a.events = nil
	a.mu.Unlock()

	count := atomic.SwapUint64(&a.eventCount, 0)
	atomic.AddUint64(&a.totalCount, count)
	a.logger.Debugf("Received %d events since last flush", len(events))
	return events
}

func (a *MetricsAggregator) IncCount() {
	atomic.AddUint64(&a.count, 1)
}

func (a *MetricsAggregator) IncEventCount() {
	atomic.AddUint64(&a.eventCount, 1)
}

// Count is the number of metric payloads received since the last Flush.
func (a *MetricsAggregator) Count() uint64 {
	return atomic.LoadUint64(&a.count)
}

// EventCount is the number of event payloads received since the last FlushEvents.
func (a *MetricsAggregator) EventCount() uint64 {
	return atomic.LoadUint64(&a.eventCount)
}

// TotalCount is the number of payloads accounted for by all flushes so far.
func (a *MetricsAggregator) TotalCount() uint64 {
	return atomic.LoadUint64(&a.totalCount)
}

// PacketsPerSecond is the payload rate received over interval since the last flush.
func (a *MetricsAggregator) PacketsPerSecond(interval time.Duration) float64 {
	if interval <= 0 {
		return 0
	}
	return math.Round(float64(a.Count())/interval.Seconds()*100) / 100
}

// format adds the hostname and device dimensions and truncates the timestamp
// to whole seconds.
func (c *metricContext) format(suffix string, value, timestamp float64) monagent.Measurement {
	dims := c.dimensions.Copy()
	if dims == nil {
		dims = monagent.Dimensions{}
	}
	if _, ok := dims[monagent.DimensionHostname]; !ok && c.hostname != "" {
		dims[monagent.DimensionHostname] = c.hostname
	}
	if c.deviceName != "" {
		dims[monagent.DimensionDevice] = c.deviceName
	}
	return monagent.NewMeasurement(c.name+suffix, math.Trunc(timestamp), value, dims, c.delegatedTenant, c.valueMeta)
}

func validateName(name string) error {
	if len(name) < 1 || len(name) > maxNameLength {
		return fmt.Errorf("%w: length of %q", ErrInvalidMetricName, name)
	}
	if restrictedNameChars.MatchString(name) {
		return fmt.Errorf("%w: invalid characters in %q", ErrInvalidMetricName, name)
	}
	return nil
}

func validateDimensions(dims monagent.Dimensions) error {
	keys := make([]string, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := dims[k]
		if len(k) < 1 || len(k) > maxNameLength {
			return fmt.Errorf("%w: length of %q", ErrInvalidDimensionKey, k)
		}
		if restrictedDimensionChars.MatchString(k) || strings.HasPrefix(k, "_") {
			return fmt.Errorf("%w: invalid characters in %q", ErrInvalidDimensionKey, k)
		}
		if len(v) < 1 || len(v) > maxNameLength {
			return fmt.Errorf("%w: length of %q for key %q", ErrInvalidDimensionValue, v, k)
		}
		if restrictedDimensionChars.MatchString(v) {
			return fmt.Errorf("%w: invalid characters in %q for key %q", ErrInvalidDimensionValue, v, k)
		}
	}
	return nil
}

func validateValueMeta(valueMeta map[string]string) error {
	if len(valueMeta) > ValueMetaMaxNumber {
		return fmt.Errorf("%w: too many entries %d, limit is %d", ErrInvalidValueMeta, len(valueMeta), ValueMetaMaxNumber)
	}
	for k := range valueMeta {
		if k == "" {
			return fmt.Errorf("%w: name cannot be empty", ErrInvalidValueMeta)
		}
		if len(k) > ValueMetaNameMaxLength {
			return fmt.Errorf("%w: name %q must be %d characters or less", ErrInvalidValueMeta, k, ValueMetaNameMaxLength)
		}
	}
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(valueMeta)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValueMeta, err)
	}
	if len(data) > ValueMetaValueMaxLength {
		return fmt.Errorf("%w: must be %d characters or less", ErrInvalidValueMeta, ValueMetaValueMaxLength)
	}
	return nil
}
