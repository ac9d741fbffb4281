package fixtures

import (
	"sort"

	"github.com/monasca/monagent"
)

type MetricOpt func(m *monagent.Metric)

// MakeMetric provides a way to build a metric for tests.
func MakeMetric(opts ...MetricOpt) *monagent.Metric {
	m := &monagent.Metric{
		Class: monagent.COUNTER,
		Name:  "name",
		Value: 1,
		Rate:  1,
		Dimensions: monagent.Dimensions{
			"foo": "bar",
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func Name(n string) MetricOpt {
	return func(m *monagent.Metric) {
		m.Name = n
	}
}

func Value(v float64) MetricOpt {
	return func(m *monagent.Metric) {
		m.Value = v
	}
}

func Class(c monagent.MetricClass) MetricOpt {
	return func(m *monagent.Metric) {
		m.Class = c
	}
}

func AddDimension(k, v string) MetricOpt {
	return func(m *monagent.Metric) {
		m.Dimensions[k] = v
	}
}

func DropDimensions(m *monagent.Metric) {
	m.Dimensions = nil
}

// SortMeasurements orders measurements by name, then by value, so they can be
// compared with require.Equal.
func SortMeasurements(ms []monagent.Measurement) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Name == ms[j].Name {
			return ms[i].Value < ms[j].Value
		}
		return ms[i].Name < ms[j].Name
	})
}

// FindMeasurement returns the first measurement called name.
func FindMeasurement(ms []monagent.Measurement, name string) (monagent.Measurement, bool) {
	for _, m := range ms {
		if m.Name == name {
			return m, true
		}
	}
	return monagent.Measurement{}, false
}
