package aggregator

import (
	"errors"
	"math"
	"sort"
	"strconv"

	"github.com/monasca/monagent"
)

var (
	// errZeroInterval is returned by a rate whose last two samples share a timestamp.
	errZeroInterval = errors.New("rate interval of 0, not flushing")
	// errNegativeDelta is returned by a rate whose value went down, usually a counter reset.
	errNegativeDelta = errors.New("rate < 0, counter may have been reset")
)

// formatter turns a rolled up value into a Measurement.
type formatter func(name string, value, timestamp float64) monagent.Measurement

// metric is the roll-up state of one context.
type metric interface {
	sample(m *monagent.Metric, timestamp float64)
	flush(timestamp float64, format formatter) ([]monagent.Measurement, error)
}

func newMetric(class monagent.MetricClass) metric {
	switch class {
	case monagent.COUNTER:
		return &counter{}
	case monagent.HISTOGRAM:
		return &histogram{}
	case monagent.SET:
		return &set{values: map[string]struct{}{}}
	case monagent.RATE:
		return &rate{}
	default:
		return &gauge{}
	}
}

// gauge reports the last sampled value with the time it was sampled at.
type gauge struct {
	value     float64
	timestamp float64
	hasValue  bool
}

func (g *gauge) sample(m *monagent.Metric, timestamp float64) {
	g.value = m.Value
	g.timestamp = timestamp
	g.hasValue = true
}

func (g *gauge) flush(timestamp float64, format formatter) ([]monagent.Measurement, error) {
	if !g.hasValue {
		return nil, nil
	}
	g.hasValue = false
	ts := g.timestamp
	if ts == 0 {
		ts = timestamp
	}
	return []monagent.Measurement{format("", g.value, ts)}, nil
}

// counter sums samples scaled up by their sample rate. It reports on every
// flush once created, zero included.
type counter struct {
	value float64
}

func (c *counter) sample(m *monagent.Metric, _ float64) {
	c.value += m.Value * math.Trunc(1/m.Rate)
}

func (c *counter) flush(timestamp float64, format formatter) ([]monagent.Measurement, error) {
	value := c.value
	c.value = 0
	return []monagent.Measurement{format("", value, timestamp)}, nil
}

// histogramPercentiles are reported as <name>.<p*100>percentile.
var histogramPercentiles = []float64{0.95}

type histogram struct {
	count   float64
	samples []float64
}

func (h *histogram) sample(m *monagent.Metric, _ float64) {
	h.count += math.Trunc(1 / m.Rate)
	h.samples = append(h.samples, m.Value)
}

func (h *histogram) flush(timestamp float64, format formatter) ([]monagent.Measurement, error) {
	if h.count == 0 {
		return nil, nil
	}
	samples := h.samples
	count := h.count
	h.samples = nil
	h.count = 0

	sort.Float64s(samples)
	length := len(samples)

	medianIdx := length/2 - 1
	if medianIdx < 0 {
		medianIdx = length - 1
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}

	out := make([]monagent.Measurement, 0, 4+len(histogramPercentiles))
	out = append(out,
		format(".max", samples[length-1], timestamp),
		format(".median", samples[medianIdx], timestamp),
		format(".avg", sum/float64(length), timestamp),
		format(".count", count, timestamp),
	)
	for _, p := range histogramPercentiles {
		idx := int(math.Round(p*float64(length) - 1))
		if idx < 0 {
			idx = 0
		}
		out = append(out, format("."+strconv.Itoa(int(p*100))+"percentile", samples[idx], timestamp))
	}
	return out, nil
}

// set reports the number of distinct values seen since the last flush.
type set struct {
	values map[string]struct{}
}

func (s *set) sample(m *monagent.Metric, _ float64) {
	v := m.StringValue
	if v == "" {
		v = strconv.FormatFloat(m.Value, 'g', -1, 64)
	}
	s.values[v] = struct{}{}
}

func (s *set) flush(timestamp float64, format formatter) ([]monagent.Measurement, error) {
	if len(s.values) == 0 {
		return nil, nil
	}
	n := len(s.values)
	s.values = map[string]struct{}{}
	return []monagent.Measurement{format("", float64(n), timestamp)}, nil
}

type rateSample struct {
	timestamp int64
	value     float64
}

// rate reports the per second change between the last two samples.
type rate struct {
	samples []rateSample
}

func (r *rate) sample(m *monagent.Metric, timestamp float64) {
	r.samples = append(r.samples, rateSample{timestamp: int64(timestamp), value: m.Value})
}

func (r *rate) flush(timestamp float64, format formatter) ([]monagent.Measurement, error) {
	n := len(r.samples)
	if n < 2 {
		return nil, nil
	}
	s1, s2 := r.samples[n-2], r.samples[n-1]
	interval := s2.timestamp - s1.timestamp
	if interval == 0 {
		r.samples = r.samples[n-2:]
		return nil, errZeroInterval
	}
	delta := s2.value - s1.value
	if delta < 0 {
		r.samples = r.samples[n-2:]
		return nil, errNegativeDelta
	}
	r.samples = r.samples[n-1:]
	return []monagent.Measurement{format("", delta/float64(interval), timestamp)}, nil
}
