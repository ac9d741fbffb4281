package stats

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/monasca/monagent"
)

// LoggingStatser is a Statser which emits logs
type LoggingStatser struct {
	flushNotifier

	dims   monagent.Dimensions
	logger logrus.FieldLogger
}

// NewLoggingStatser creates a new Statser which sends metrics to the
// supplied logger.
func NewLoggingStatser(dims monagent.Dimensions, logger logrus.FieldLogger) Statser {
	return &LoggingStatser{
		dims:   dims,
		logger: logger,
	}
}

// Gauge sends a gauge metric
func (ls *LoggingStatser) Gauge(name string, value float64, dims monagent.Dimensions) {
	ls.logger.WithFields(logrus.Fields{
		"name":       name,
		"dimensions": mergeDims(ls.dims, dims),
		"value":      value,
	}).Info("gauge")
}

// Count sends a counter metric
func (ls *LoggingStatser) Count(name string, amount float64, dims monagent.Dimensions) {
	ls.logger.WithFields(logrus.Fields{
		"name":       name,
		"dimensions": mergeDims(ls.dims, dims),
		"amount":     amount,
	}).Info("count")
}

// Increment sends a counter metric with a value of 1
func (ls *LoggingStatser) Increment(name string, dims monagent.Dimensions) {
	ls.Count(name, 1, dims)
}

// TimingMS sends a timing metric from a millisecond value
func (ls *LoggingStatser) TimingMS(name string, ms float64, dims monagent.Dimensions) {
	ls.logger.WithFields(logrus.Fields{
		"name":       name,
		"dimensions": mergeDims(ls.dims, dims),
		"ms":         ms,
	}).Info("timing")
}

// TimingDuration sends a timing metric from a time.Duration
func (ls *LoggingStatser) TimingDuration(name string, d time.Duration, dims monagent.Dimensions) {
	ls.TimingMS(name, float64(d)/float64(time.Millisecond), dims)
}

// NewTimer returns a new timer with time set to now
func (ls *LoggingStatser) NewTimer(name string, dims monagent.Dimensions) *Timer {
	return newTimer(ls, name, dims)
}

// WithDimensions creates a new Statser with additional dimensions
func (ls *LoggingStatser) WithDimensions(dims monagent.Dimensions) Statser {
	return NewTaggedStatser(ls, dims)
}
