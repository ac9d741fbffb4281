package workerpool

import (
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// MaxWorkers is the largest pool that can be created.
const MaxWorkers = 200

// ErrTerminated is returned by Submit once the pool is terminated.
var ErrTerminated = errors.New("worker pool is terminated")

// Pool is a fixed set of worker goroutines consuming an unbounded FIFO of jobs.
type Pool struct {
	liveWorkers int64 // atomic

	logger  logrus.FieldLogger
	onPanic func(interface{})

	mu         sync.Mutex
	cond       *sync.Cond
	queue      []func()
	terminated bool
	wg         sync.WaitGroup
}

// New starts size workers, clamped to [1, MaxWorkers]. onPanic, if not nil,
// is called from the worker whose job panicked, after the panic is recovered.
func New(size int, logger logrus.FieldLogger, onPanic func(interface{})) *Pool {
	if size < 1 {
		size = 1
	}
	if size > MaxWorkers {
		size = MaxWorkers
	}
	p := &Pool{
		logger:  logger,
		onPanic: onPanic,
	}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(size)
	atomic.AddInt64(&p.liveWorkers, int64(size))
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

// Submit queues job for execution, it never blocks.
func (p *Pool) Submit(job func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminated {
		return ErrTerminated
	}
	p.queue = append(p.queue, job)
	p.cond.Signal()
	return nil
}

// Terminate tells every worker to exit once its current job returns. Queued
// jobs that have not started are dropped. Safe to call more than once.
func (p *Pool) Terminate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminated {
		return
	}
	p.terminated = true
	p.queue = nil
	p.cond.Broadcast()
}

// Abandon terminates the pool without waiting for it. Workers stuck in a job
// stay alive until the job returns, then exit.
func (p *Pool) Abandon() {
	p.Terminate()
}

// Join blocks until every worker has exited. Call Terminate first.
func (p *Pool) Join() {
	p.wg.Wait()
}

// LiveWorkers returns the number of workers that have not exited yet.
func (p *Pool) LiveWorkers() int {
	return int(atomic.LoadInt64(&p.liveWorkers))
}

// Pending returns the number of queued jobs that have not started.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pool) worker() {
	defer func() {
		atomic.AddInt64(&p.liveWorkers, -1)
		p.wg.Done()
	}()
	for {
		job, ok := p.take()
		if !ok {
			return
		}
		p.run(job)
	}
}

func (p *Pool) take() (func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 && !p.terminated {
		p.cond.Wait()
	}
	if p.terminated {
		return nil, false
	}
	job := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return job, true
}

func (p *Pool) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logrus.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Job panicked")
			if p.onPanic != nil {
				p.onPanic(r)
			}
		}
	}()
	job()
}
