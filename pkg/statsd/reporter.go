package statsd

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tilinna/clock"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/pkg/healthcheck"
	"github.com/monasca/monagent/pkg/stats"
)

// Since flushes happen more often than the collector runs, a few flushes in
// a row are logged every so often.
const (
	FlushLoggingPeriod  = 70
	FlushLoggingInitial = 10
	FlushLoggingCount   = 5
)

// Reporter periodically flushes the Aggregator to the Emitter.
type Reporter struct {
	// Counter fields below must be read/written only using atomic instructions.
	// 64-bit fields must be the first fields in the struct to guarantee proper memory alignment.
	// See https://golang.org/pkg/sync/atomic/#pkg-note-BUG
	lastEmit      int64 // Last time measurements were emitted. Unix timestamp in nsec.
	lastEmitError int64 // Time of the last emit error. Unix timestamp in nsec.

	Interval       time.Duration
	Aggregator     monagent.Aggregator
	Emitter        monagent.Emitter
	ForwarderURL   string
	EventChunkSize int

	logger     logrus.FieldLogger
	flushCount uint64
	logCount   uint64
	mu         sync.Mutex // serialises flushes
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewReporter creates a Reporter flushing every cfg.Interval.
func NewReporter(logger logrus.FieldLogger, aggregator monagent.Aggregator, emitter monagent.Emitter, forwarderURL string, cfg Config) *Reporter {
	chunk := cfg.EventChunkSize
	if chunk <= 0 {
		chunk = DefaultEventChunkSize
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reporter{
		Interval:       interval,
		Aggregator:     aggregator,
		Emitter:        emitter,
		ForwarderURL:   forwarderURL,
		EventChunkSize: chunk,
		logger:         logger,
		stop:           make(chan struct{}),
	}
}

// Run flushes every Interval until ctx is done or Stop is called. A final
// flush runs before Run returns.
func (r *Reporter) Run(ctx context.Context) {
	r.logger.Infof("Reporting to %s every %v", r.ForwarderURL, r.Interval)
	statser := stats.FromContext(ctx)
	ticker := clock.FromContext(ctx).NewTicker(r.Interval)
	defer ticker.Stop()

	lastFlush := clock.FromContext(ctx).Now()
	for {
		select {
		case <-ctx.Done():
			r.finalFlush(ctx)
			return
		case <-r.stop:
			r.finalFlush(ctx)
			return
		case thisFlush := <-ticker.C:
			statser.NotifyFlush(ctx, thisFlush.Sub(lastFlush))
			lastFlush = thisFlush
			r.Flush(ctx)
		}
	}
}

func (r *Reporter) finalFlush(ctx context.Context) {
	// the emitter must still be able to send once ctx is done
	r.Flush(context.WithoutCancel(ctx))
	r.logger.Debug("Stopped reporter")
}

// Stop wakes Run up for a final flush. Idempotent.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Info("Stopping reporter")
		close(r.stop)
	})
}

// FlushCount is the number of flushes so far.
func (r *Reporter) FlushCount() uint64 {
	return atomic.LoadUint64(&r.flushCount)
}

// Flush sends everything aggregated since the previous flush.
func (r *Reporter) Flush(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			r.logger.WithField("panic", p).Error("Error flushing metrics")
		}
	}()

	flushCount := atomic.AddUint64(&r.flushCount, 1)
	r.logCount++
	if flushCount%FlushLoggingPeriod == 0 {
		r.logCount = 0
	}

	statser := stats.FromContext(ctx).WithDimensions(monagent.Dimensions{"component": "statsd"})
	measurements := r.Aggregator.Flush()
	if len(measurements) > 0 {
		timer := statser.NewTimer("reporter.emit_time", nil)
		if err := r.Emitter.Emit(ctx, measurements, r.ForwarderURL); err != nil {
			atomic.StoreInt64(&r.lastEmitError, time.Now().UnixNano())
			statser.Increment("reporter.emit_errors", nil)
			r.logger.WithError(err).Error("Error running emitter")
		} else {
			atomic.StoreInt64(&r.lastEmit, time.Now().UnixNano())
		}
		timer.Stop()
	}
	statser.Gauge("reporter.measurements", float64(len(measurements)), nil)

	events := r.Aggregator.FlushEvents()
	r.dropEvents(events)

	msg := fmt.Sprintf("Flush #%d: flushed %d metric%s and %d event%s",
		flushCount, len(measurements), plural(len(measurements)), len(events), plural(len(events)))
	if flushCount <= FlushLoggingInitial || r.logCount <= FlushLoggingCount {
		r.logger.Info(msg)
	} else {
		r.logger.Debug(msg)
	}
	if flushCount == FlushLoggingInitial {
		r.logger.Infof("First flushes done, %d flushes will be logged every %d flushes.", FlushLoggingCount, FlushLoggingPeriod)
	}
}

// DeepChecks reports whether the last emission to the forwarder succeeded.
func (r *Reporter) DeepChecks() []healthcheck.HealthcheckFunc {
	return []healthcheck.HealthcheckFunc{
		func() (string, healthcheck.HealthyStatus) {
			lastEmit := atomic.LoadInt64(&r.lastEmit)
			lastEmitError := atomic.LoadInt64(&r.lastEmitError)
			if lastEmitError > lastEmit {
				return fmt.Sprintf("reporter failed to emit at %s", time.Unix(0, lastEmitError).Format(time.RFC3339)), healthcheck.Unhealthy
			}
			return "reporter emitting", healthcheck.Healthy
		},
	}
}

func (r *Reporter) dropEvents(events []map[string]interface{}) {
	if len(events) == 0 {
		return
	}
	chunk := r.EventChunkSize
	if chunk <= 0 {
		chunk = DefaultEventChunkSize
	}
	for start := 0; start < len(events); start += chunk {
		end := start + chunk
		if end > len(events) {
			end = len(events)
		}
		r.logger.WithField("events", events[start:end]).Warn("Event received but events are not available in the monasca api")
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
