package collector

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
	"github.com/tilinna/clock"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/pkg/checks"
	"github.com/monasca/monagent/pkg/stats"
)

const (
	// MaxThreadsCount is the thread count above which a warning is logged.
	MaxThreadsCount = 50
	// MaxCollectionTime is the run duration above which it is logged.
	MaxCollectionTime = 30 * time.Second
	// FlushLoggingPeriod is how often a run is logged at info once the first runs are done.
	FlushLoggingPeriod = 10
	// FlushLoggingInitial is how many runs are logged at info after start.
	FlushLoggingInitial = 5
)

var selfDimensions = monagent.Dimensions{
	"component": "monasca-agent",
	"service":   "monitoring",
}

// Collector runs every check in sequence and emits what they collected.
type Collector struct {
	Checks            []checks.Check
	Emitter           monagent.Emitter
	ForwarderURL      string
	Dimensions        monagent.Dimensions
	SubCollectionWarn time.Duration
	MaxThreadsCount   int
	MaxCollectionTime time.Duration
	// ThreadCount returns the number of threads of the agent process.
	ThreadCount func() int

	logger   logrus.FieldLogger
	runCount uint64
	lastRun  int64  // atomic, end of the last run in unix nsec
	stopping uint32 // atomic
}

// NewCollector creates a Collector with the limits of the agent configuration.
func NewCollector(logger logrus.FieldLogger, agent monagent.AgentConfig, checkList []checks.Check, emitter monagent.Emitter) *Collector {
	subCollectionWarn := agent.SubCollectionWarn
	if subCollectionWarn <= 0 {
		subCollectionWarn = monagent.DefaultSubCollectionWarn
	}
	return &Collector{
		Checks:            checkList,
		Emitter:           emitter,
		ForwarderURL:      agent.ForwarderURL,
		Dimensions:        agent.Dimensions,
		SubCollectionWarn: subCollectionWarn,
		MaxThreadsCount:   MaxThreadsCount,
		MaxCollectionTime: MaxCollectionTime,
		ThreadCount:       ProcessThreadCount,
		logger:            logger,
	}
}

// ProcessThreadCount returns the number of OS threads of this process, or the
// number of goroutines when the process cannot be inspected.
func ProcessThreadCount() int {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		if n, err := p.NumThreads(); err == nil {
			return int(n)
		}
	}
	return runtime.NumGoroutine()
}

// RunCount is the number of runs started so far.
func (c *Collector) RunCount() uint64 {
	return atomic.LoadUint64(&c.runCount)
}

// LastRun returns when the last run finished, zero before the first run.
func (c *Collector) LastRun() time.Time {
	ns := atomic.LoadInt64(&c.lastRun)
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (c *Collector) isStopping() bool {
	return atomic.LoadUint32(&c.stopping) != 0
}

// RunOnce runs every check once. A failing check is logged and does not
// prevent the others from running.
func (c *Collector) RunOnce(ctx context.Context) {
	clck := clock.FromContext(ctx)
	statser := stats.FromContext(ctx)
	start := clck.Now()
	runCount := atomic.AddUint64(&c.runCount, 1)

	var measurementCount int
	for _, check := range c.Checks {
		if c.isStopping() || ctx.Err() != nil {
			break
		}
		measurementCount += c.runCheck(ctx, check, statser)
	}

	collectionTime := clck.Now().Sub(start)
	atomic.StoreInt64(&c.lastRun, time.Now().UnixNano())
	threadCount := c.threadCount()
	c.emitSelfMetrics(ctx, clck.Now(), threadCount, collectionTime)

	if threadCount > c.MaxThreadsCount {
		c.logger.Warnf("Collector thread count is high: %d", threadCount)
	}
	if collectionTime > c.MaxCollectionTime {
		c.logger.Infof("Collection time (s) is high: %.1f, metrics count: %d", collectionTime.Seconds(), measurementCount)
	}

	msg := fmt.Sprintf("Finished run #%d. Collection time: %.2fs.", runCount, collectionTime.Seconds())
	if runCount <= FlushLoggingInitial || runCount%FlushLoggingPeriod == 0 {
		c.logger.Info(msg)
		if runCount == FlushLoggingInitial {
			c.logger.Infof("First flushes done, next flushes will be logged every %d flushes.", FlushLoggingPeriod)
		}
	} else {
		c.logger.Debug(msg)
	}
}

func (c *Collector) runCheck(ctx context.Context, check checks.Check, statser stats.Statser) (count int) {
	name := check.Name()
	logger := c.logger.WithField("check", name)
	dims := monagent.Dimensions{"check": name}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			statser.Increment("collector.check_errors", dims)
			logger.WithField("panic", r).Errorf("Error running check %s", name)
		}
	}()

	logger.Debugf("Running check %s", name)
	if err := check.Run(ctx); err != nil {
		statser.Increment("collector.check_errors", dims)
		logger.WithError(err).Errorf("Error running check %s", name)
	}

	measurements := check.GetMetrics()
	if len(measurements) > 0 {
		c.emit(ctx, measurements)
	}
	if es, ok := check.(checks.EventSource); ok {
		if events := es.GetEvents(); len(events) > 0 {
			logger.WithField("events", events).Warnf("Check %s raised %d events, events are not supported by the forwarder", name, len(events))
		}
	}

	d := time.Since(start)
	statser.TimingDuration("collector.check_time", d, dims)
	logger.Debugf("Finished run check %s. Collection time: %.2fms.", name, float64(d)/float64(time.Millisecond))
	if d > c.SubCollectionWarn {
		logger.Warnf("Collection time for check %s is high: %.2fs.", name, d.Seconds())
	}
	return len(measurements)
}

func (c *Collector) threadCount() int {
	if c.ThreadCount == nil {
		return runtime.NumGoroutine()
	}
	return c.ThreadCount()
}

func (c *Collector) emitSelfMetrics(ctx context.Context, now time.Time, threadCount int, collectionTime time.Duration) {
	dims := selfDimensions.Merge(nil, c.Dimensions)
	ts := float64(now.UnixNano()) / float64(time.Second)
	c.emit(ctx, []monagent.Measurement{
		monagent.NewMeasurement("monasca.thread_count", ts, float64(threadCount), dims, "", nil),
		monagent.NewMeasurement("monasca.collection_time_sec", ts, collectionTime.Seconds(), dims, "", nil),
	})
}

func (c *Collector) emit(ctx context.Context, measurements []monagent.Measurement) {
	if c.isStopping() {
		return
	}
	if err := c.Emitter.Emit(ctx, measurements, c.ForwarderURL); err != nil {
		if err != context.Canceled && err != context.DeadlineExceeded {
			c.logger.WithError(err).Error("Error running emitter")
		}
	}
}

// Stop prevents further emission and releases the resources of every check.
func (c *Collector) Stop() {
	if !atomic.CompareAndSwapUint32(&c.stopping, 0, 1) {
		return
	}
	for _, check := range c.Checks {
		if s, ok := check.(checks.Stopper); ok {
			s.Stop()
		}
	}
}
