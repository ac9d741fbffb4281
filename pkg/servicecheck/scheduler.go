package servicecheck

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tilinna/clock"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/pkg/workerpool"
)

const (
	// DefaultPoolSize caps the default pool size, which is otherwise the number of instances.
	DefaultPoolSize = 6
	// MaxLoopIterations bounds how many results one Check call drains.
	MaxLoopIterations = 1000
	// MaxAllowedThreads is the goroutine ceiling above which no job is submitted.
	MaxAllowedThreads = 200
	// MaxWindow is the largest status history kept per target.
	MaxWindow = 256
	// SourceTypeName is set on state change events.
	SourceTypeName = "servicecheck"

	// EventTypeUp and EventTypeDown name the state change events.
	EventTypeUp   = "servicecheck.state_change.up"
	EventTypeDown = "servicecheck.state_change.down"
)

// Status of a service check target.
type Status int

const (
	// StatusNone means the check produced no result, the target is just released.
	StatusNone Status = iota
	StatusUp
	StatusDown
)

func (s Status) String() string {
	switch s {
	case StatusUp:
		return "UP"
	case StatusDown:
		return "DOWN"
	default:
		return "NONE"
	}
}

// ErrTooManyThreads is returned by Check when the goroutine ceiling is exceeded.
var ErrTooManyThreads = errors.New("thread number exceeds maximum")

// CheckFunc probes one target. A returned error, or a panic, counts as a
// failure of the pool rather than a DOWN status.
type CheckFunc func(ctx context.Context, instance monagent.Instance) (Status, string, error)

// EventFunc builds the event raised when a target changes to status.
type EventFunc func(name string, status Status, msg string, instance monagent.Instance) *monagent.Event

// Config configures a Scheduler.
type Config struct {
	// Name of the owning check, used in logs and errors.
	Name string
	// ThreadsCount overrides the pool size when positive.
	ThreadsCount int
	// InstanceCount is the number of configured instances.
	InstanceCount int
	// Timeout after which an in-flight job is considered stuck.
	Timeout time.Duration
	// ThreadCount returns the number of live goroutines, runtime.NumGoroutine when nil.
	ThreadCount func() int
	// StatusEvent builds state change events, DefaultStatusEvent when nil.
	StatusEvent EventFunc
}

type result struct {
	status   Status
	msg      string
	name     string
	instance monagent.Instance
	failure  bool
}

// resultQueue is written by workers and drained by the scheduler.
type resultQueue struct {
	mu    sync.Mutex
	items []result
}

func (q *resultQueue) put(r result) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
}

func (q *resultQueue) take(max int) []result {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if n > max {
		n = max
	}
	out := q.items[:n:n]
	q.items = q.items[n:]
	return out
}

// Scheduler runs service check probes on a worker pool, at most one per
// target name at a time, and turns their results into debounced state change
// events. Check, Stop and the accessors must be called from a single
// goroutine; only workers run concurrently.
type Scheduler struct {
	name        string
	logger      logrus.FieldLogger
	check       CheckFunc
	emit        func(*monagent.Event)
	poolSize    int
	timeout     time.Duration
	threadCount func() int
	statusEvent EventFunc

	started    bool
	generation uint64
	pool       *workerpool.Pool
	poolCancel context.CancelFunc
	poolCtx    context.Context
	results    *resultQueue
	jobs       map[string]time.Time
	statuses   map[string][]Status
	notified   map[string]Status
	failures   int
}

// NewScheduler creates an idle scheduler. The pool is started on the first
// Check call. emit receives state change events.
func NewScheduler(logger logrus.FieldLogger, cfg Config, check CheckFunc, emit func(*monagent.Event)) *Scheduler {
	poolSize := cfg.ThreadsCount
	if poolSize <= 0 {
		poolSize = cfg.InstanceCount
		if poolSize > DefaultPoolSize {
			poolSize = DefaultPoolSize
		}
	}
	if poolSize < 1 {
		poolSize = 1
	}
	if poolSize > workerpool.MaxWorkers {
		logger.Warnf("threads_count %d exceeds the maximum of %d workers", poolSize, workerpool.MaxWorkers)
		poolSize = workerpool.MaxWorkers
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = monagent.DefaultServiceCheckTimeout
	}
	threadCount := cfg.ThreadCount
	if threadCount == nil {
		threadCount = runtime.NumGoroutine
	}
	statusEvent := cfg.StatusEvent
	if statusEvent == nil {
		statusEvent = DefaultStatusEvent
	}
	return &Scheduler{
		name:        cfg.Name,
		logger:      logger.WithField("check", cfg.Name),
		check:       check,
		emit:        emit,
		poolSize:    poolSize,
		timeout:     timeout,
		threadCount: threadCount,
		statusEvent: statusEvent,
		statuses:    map[string][]Status{},
		notified:    map[string]Status{},
	}
}

// Check drains finished results, restarts the pool if a job is stuck, then
// submits a probe for instance unless one is already in flight for its name.
func (s *Scheduler) Check(ctx context.Context, instance monagent.Instance) error {
	if !s.started {
		s.startPool(ctx)
	}
	s.processResults()
	s.clean(ctx)

	if n := s.threadCount(); n > MaxAllowedThreads {
		hint := "Another plugin may have threads_count set too high."
		if s.poolSize >= MaxAllowedThreads {
			hint = fmt.Sprintf("threads_count is set too high in the %s plugin config.", s.name)
		}
		return fmt.Errorf("%w: %d > %d, skipping this check. %s", ErrTooManyThreads, n, MaxAllowedThreads, hint)
	}

	name, ok := instance.Name()
	if !ok {
		s.logger.Error("Each service check must have a name")
		return nil
	}
	if _, inFlight := s.jobs[name]; inFlight {
		s.logger.WithField("instance", name).Info("Instance skipped because it's already running")
		return nil
	}
	s.jobs[name] = clock.FromContext(ctx).Now()
	results, jobCtx := s.results, s.poolCtx
	if err := s.pool.Submit(func() { s.process(jobCtx, results, name, instance) }); err != nil {
		delete(s.jobs, name)
		return err
	}
	return nil
}

// process runs on a worker.
func (s *Scheduler) process(ctx context.Context, results *resultQueue, name string, instance monagent.Instance) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"instance": name,
				"panic":    r,
			}).Error("Failure in service check")
			results.put(result{failure: true})
		}
	}()
	if s.check == nil {
		results.put(result{failure: true})
		return
	}
	status, msg, err := s.check(ctx, instance)
	if err != nil {
		s.logger.WithField("instance", name).WithError(err).Error("Failure in service check")
		results.put(result{failure: true})
		return
	}
	results.put(result{status: status, msg: msg, name: name, instance: instance})
}

func (s *Scheduler) processResults() {
	for _, r := range s.results.take(MaxLoopIterations) {
		if r.failure {
			s.failures++
			if s.failures >= s.poolSize-1 {
				s.failures = 0
				s.restartPool()
				// the rest of the batch belongs to the abandoned pool
				return
			}
			continue
		}
		if r.status == StatusNone {
			delete(s.jobs, r.name)
			continue
		}

		window := r.instance.GetInt("window", 1)
		if window > MaxWindow {
			s.logger.Warnf("Maximum window size (%d) exceeded, defaulting it to %d", MaxWindow, MaxWindow)
			window = MaxWindow
		} else if window < 1 {
			s.logger.Warnf("Window size %d is invalid, defaulting it to 1", window)
			window = 1
		}
		threshold := r.instance.GetInt("threshold", 1)

		history := append(s.statuses[r.name], r.status)
		if len(history) > window {
			history = history[len(history)-window:]
		}
		s.statuses[r.name] = history

		downs := 0
		for _, st := range history {
			if st == StatusDown {
				downs++
			}
		}

		notified := s.Notified(r.name)
		if downs >= threshold {
			if notified != StatusDown {
				s.raise(r, StatusDown)
				s.notified[r.name] = StatusDown
			}
		} else if notified != StatusUp {
			s.raise(r, StatusUp)
			s.notified[r.name] = StatusUp
		}

		delete(s.jobs, r.name)
	}
}

// raise emits the event for a transition of r.name to state.
func (s *Scheduler) raise(r result, state Status) {
	if s.emit == nil {
		return
	}
	if e := s.statusEvent(r.name, state, r.msg, r.instance); e != nil {
		s.emit(e)
	}
}

func (s *Scheduler) clean(ctx context.Context) {
	now := clock.FromContext(ctx).Now()
	for name, started := range s.jobs {
		if now.Sub(started) > s.timeout {
			s.logger.WithField("instance", name).Error("Restarting Pool. One check is stuck.")
			s.restartPool()
			return
		}
	}
}

func (s *Scheduler) startPool(ctx context.Context) {
	s.logger.WithField("size", s.poolSize).Info("Starting Thread Pool")
	s.generation++
	s.poolCtx, s.poolCancel = context.WithCancel(context.WithoutCancel(ctx))
	s.pool = workerpool.New(s.poolSize, s.logger, nil)
	s.results = &resultQueue{}
	s.jobs = map[string]time.Time{}
	s.started = true
}

// restartPool abandons the current workers, stuck ones included, and starts
// a fresh pool with an empty result queue.
func (s *Scheduler) restartPool() {
	s.logger.Info("Restarting Thread Pool")
	s.poolCancel()
	s.pool.Abandon()
	s.startPool(s.poolCtx)
}

// Stop terminates the pool and waits for its workers. Safe to call when the
// pool was never started.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping Thread Pool")
	if s.started {
		s.poolCancel()
		s.pool.Terminate()
		s.pool.Join()
		s.jobs = map[string]time.Time{}
	}
	s.started = false
}

// Started reports whether the pool is running.
func (s *Scheduler) Started() bool {
	return s.started
}

// PoolSize is the configured number of workers.
func (s *Scheduler) PoolSize() int {
	return s.poolSize
}

// LiveWorkers is the number of workers of the current pool still running.
func (s *Scheduler) LiveWorkers() int {
	if s.pool == nil {
		return 0
	}
	return s.pool.LiveWorkers()
}

// Generation counts pool starts, restarts included.
func (s *Scheduler) Generation() uint64 {
	return s.generation
}

// Failures is the current value of the failure counter.
func (s *Scheduler) Failures() int {
	return s.failures
}

// InFlight returns the names of targets with a job in flight.
func (s *Scheduler) InFlight() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

// Notified returns the last state notified for name, UP when none was.
func (s *Scheduler) Notified(name string) Status {
	if st, ok := s.notified[name]; ok {
		return st
	}
	return StatusUp
}

// History returns the status window of name.
func (s *Scheduler) History(name string) []Status {
	return append([]Status(nil), s.statuses[name]...)
}

// DefaultStatusEvent describes a state change of the target name.
func DefaultStatusEvent(name string, status Status, msg string, instance monagent.Instance) *monagent.Event {
	e := &monagent.Event{
		Text:           msg,
		AggregationKey: name,
		SourceTypeName: SourceTypeName,
		HasAlertType:   true,
		Dimensions:     []string{"name:" + name},
	}
	if status == StatusDown {
		e.Title = EventTypeDown
		e.AlertType = monagent.AlertError
	} else {
		e.Title = EventTypeUp
		e.AlertType = monagent.AlertSuccess
	}
	return e
}
