package monagent

import (
	"fmt"
)

// MetricClass selects how an aggregator rolls up samples of a metric.
type MetricClass byte

const (
	_ = iota
	// GAUGE keeps the last value.
	GAUGE MetricClass = iota
	// COUNTER sums values scaled by the sample rate.
	COUNTER
	// HISTOGRAM reports max, median, avg, count and 95th percentile.
	HISTOGRAM
	// SET counts distinct values.
	SET
	// RATE reports the per second change between the last two samples.
	RATE
)

func (m MetricClass) String() string {
	switch m {
	case GAUGE:
		return "gauge"
	case COUNTER:
		return "counter"
	case HISTOGRAM:
		return "histogram"
	case SET:
		return "set"
	case RATE:
		return "rate"
	}
	return "unknown"
}

// Metric is a raw sample submitted to an aggregator.
type Metric struct {
	Name            string      // The name of the metric
	Value           float64     // The numeric value of the metric
	StringValue     string      // The string value for sets
	Class           MetricClass // The aggregation class
	Rate            float64     // The sampling rate in (0, 1]
	Dimensions      Dimensions  // Dimensions for the metric
	Timestamp       float64     // Unix seconds, 0 means now
	Hostname        string      // Overrides the aggregator hostname when set
	DeviceName      string      // Added as the device dimension when set
	DelegatedTenant string
	ValueMeta       map[string]string
}

func (m *Metric) String() string {
	return fmt.Sprintf("{%s, %s, %f, %s, %v}", m.Class, m.Name, m.Value, m.StringValue, m.Dimensions)
}
