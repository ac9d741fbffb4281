package stats

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/monasca/monagent"
)

var invalidPromChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// PrometheusStatser exposes the agent's own metrics to a Prometheus
// registry. Vectors are created on first use of a name, with the dimension
// keys of that first use as labels.
type PrometheusStatser struct {
	flushNotifier

	namespace  string
	registerer prometheus.Registerer
	logger     logrus.FieldLogger

	mu         sync.Mutex
	gauges     map[string]*prometheus.GaugeVec
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	labels     map[string][]string
}

// NewPrometheusStatser creates a Statser registering its collectors on registerer.
func NewPrometheusStatser(namespace string, registerer prometheus.Registerer, logger logrus.FieldLogger) *PrometheusStatser {
	return &PrometheusStatser{
		namespace:  namespace,
		registerer: registerer,
		logger:     logger,
		gauges:     map[string]*prometheus.GaugeVec{},
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
		labels:     map[string][]string{},
	}
}

func promName(name string) string {
	return invalidPromChars.ReplaceAllString(name, "_")
}

func labelNames(dims monagent.Dimensions) []string {
	names := make([]string, 0, len(dims))
	for k := range dims {
		names = append(names, promName(k))
	}
	sort.Strings(names)
	return names
}

func labelValues(names []string, dims monagent.Dimensions) (prometheus.Labels, bool) {
	if len(names) != len(dims) {
		return nil, false
	}
	labels := make(prometheus.Labels, len(dims))
	for k, v := range dims {
		labels[promName(k)] = v
	}
	for _, n := range names {
		if _, ok := labels[n]; !ok {
			return nil, false
		}
	}
	return labels, true
}

// labelsFor returns the labels of name for dims, registering the vector with
// create when name is new. ok is false when dims do not match the labels the
// vector was created with.
func (ps *PrometheusStatser) labelsFor(kind, name string, dims monagent.Dimensions, create func(opts prometheus.Opts, labels []string) prometheus.Collector) (prometheus.Labels, bool) {
	key := kind + ":" + name
	names, ok := ps.labels[key]
	if !ok {
		names = labelNames(dims)
		c := create(prometheus.Opts{
			Namespace: ps.namespace,
			Name:      promName(name),
			Help:      "Internal " + kind + " " + name,
		}, names)
		if err := ps.registerer.Register(c); err != nil {
			ps.logger.WithError(err).WithField("name", name).Warn("Failed to register internal metric")
		}
		ps.labels[key] = names
	}
	labels, ok := labelValues(names, dims)
	if !ok {
		ps.logger.WithFields(logrus.Fields{
			"name":       name,
			"labels":     strings.Join(names, ","),
			"dimensions": dims,
		}).Debug("Dimensions do not match the metric labels")
	}
	return labels, ok
}

// Gauge sets a gauge
func (ps *PrometheusStatser) Gauge(name string, value float64, dims monagent.Dimensions) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	labels, ok := ps.labelsFor("gauge", name, dims, func(opts prometheus.Opts, names []string) prometheus.Collector {
		v := prometheus.NewGaugeVec(prometheus.GaugeOpts(opts), names)
		ps.gauges[name] = v
		return v
	})
	if ok {
		ps.gauges[name].With(labels).Set(value)
	}
}

// Count adds amount to a counter, negative amounts are ignored
func (ps *PrometheusStatser) Count(name string, amount float64, dims monagent.Dimensions) {
	if amount < 0 {
		return
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	labels, ok := ps.labelsFor("counter", name, dims, func(opts prometheus.Opts, names []string) prometheus.Collector {
		v := prometheus.NewCounterVec(prometheus.CounterOpts(opts), names)
		ps.counters[name] = v
		return v
	})
	if ok {
		ps.counters[name].With(labels).Add(amount)
	}
}

// Increment adds 1 to a counter
func (ps *PrometheusStatser) Increment(name string, dims monagent.Dimensions) {
	ps.Count(name, 1, dims)
}

// TimingMS observes a duration in milliseconds, exposed in seconds
func (ps *PrometheusStatser) TimingMS(name string, ms float64, dims monagent.Dimensions) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	labels, ok := ps.labelsFor("histogram", name, dims, func(opts prometheus.Opts, names []string) prometheus.Collector {
		v := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Name:      opts.Name + "_seconds",
			Help:      opts.Help,
			Buckets:   prometheus.DefBuckets,
		}, names)
		ps.histograms[name] = v
		return v
	})
	if ok {
		ps.histograms[name].With(labels).Observe(ms / 1000)
	}
}

// TimingDuration observes a duration
func (ps *PrometheusStatser) TimingDuration(name string, d time.Duration, dims monagent.Dimensions) {
	ps.TimingMS(name, float64(d)/float64(time.Millisecond), dims)
}

// NewTimer returns a new timer with time set to now
func (ps *PrometheusStatser) NewTimer(name string, dims monagent.Dimensions) *Timer {
	return newTimer(ps, name, dims)
}

// WithDimensions creates a new Statser with additional dimensions
func (ps *PrometheusStatser) WithDimensions(dims monagent.Dimensions) Statser {
	return NewTaggedStatser(ps, dims)
}
