// Package pool runs conversions across a fixed set of workers. Jobs are
// assigned FIFO to whichever worker frees up first; an idle-worker token
// channel replaces any polling, so assignment latency is bounded only by
// the encoder itself.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/backmassage/transmux/internal/encode"
	"github.com/backmassage/transmux/internal/job"
	"github.com/backmassage/transmux/internal/logging"
)

// State is the pool lifecycle. Transitions only move forward.
type State string

const (
	StateRunning      State = "running"
	StateShuttingDown State = "shutting-down"
	StateStopped      State = "stopped"
)

// ErrShuttingDown is returned by Submit once Shutdown has been called.
var ErrShuttingDown = errors.New("worker pool is shutting down")

// Handle resolves to a submitted job's outcome. Jobs still queued when
// the pool shuts down resolve too, with started=false, so callers can
// tell drained work from work that never ran.
type Handle struct {
	Job *job.Job

	done    chan struct{}
	outcome encode.Outcome
	started bool
}

// Result blocks until the job resolves. started is false when the pool
// shut down before any worker picked the job up; the outcome is zero in
// that case.
func (h *Handle) Result() (outcome encode.Outcome, started bool) {
	<-h.done
	return h.outcome, h.started
}

// PoolMetrics aggregates worker counters for reporting.
type PoolMetrics struct {
	TotalWorkers      int
	BusyWorkers       int
	IdleWorkers       int
	Completed         int
	Failed            int
	Skipped           int
	AvgProcessingTime time.Duration
	Workers           []Metrics
}

// Pool owns its workers and the submission queue. Submissions never
// block; a dispatcher goroutine pairs queued jobs with idle workers.
type Pool struct {
	log      *logging.Logger
	progress encode.ProgressFunc
	workers  []*Worker
	idle     chan *Worker

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
	queue []*Handle

	wake     chan struct{}
	stop     chan struct{}
	inflight sync.WaitGroup
	drained  chan struct{}
}

// New builds a running pool of size workers. totalCores > 0 partitions
// physical cores evenly across workers as encoder affinity hints; pass 0
// to leave workers unpinned. progress may be nil.
func New(size, totalCores int, conv Converter, progress encode.ProgressFunc, log *logging.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		log:      log,
		progress: progress,
		idle:     make(chan *Worker, size),
		ctx:      ctx,
		cancel:   cancel,
		state:    StateRunning,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		drained:  make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		w := newWorker(i, partitionAffinity(i, size, totalCores), conv, log)
		p.workers = append(p.workers, w)
		p.idle <- w
	}
	go p.dispatch()
	return p
}

// Submit queues a job and returns its handle. The cost is bounded by
// scheduling alone; the caller never waits for a worker.
func (p *Pool) Submit(j *job.Job) (*Handle, error) {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return nil, ErrShuttingDown
	}
	h := &Handle{Job: j, done: make(chan struct{})}
	p.queue = append(p.queue, h)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return h, nil
}

// Shutdown moves the pool to shutting-down, refuses further submissions,
// and resolves every handle. With wait=true in-flight encodes run to
// their own completion; with wait=false they are cancelled first. Queued
// jobs that never started resolve with started=false either way.
// Shutdown is idempotent and returns once the pool is stopped.
func (p *Pool) Shutdown(wait bool) {
	p.mu.Lock()
	first := p.state == StateRunning
	if first {
		p.state = StateShuttingDown
		close(p.stop)
	}
	p.mu.Unlock()

	if !wait {
		p.cancel()
	}

	// The dispatcher does every inflight.Add, so it must exit before the
	// wait or a job being paired right now could slip past it.
	<-p.drained
	p.inflight.Wait()

	p.mu.Lock()
	p.state = StateStopped
	p.mu.Unlock()
	if first {
		p.cancel()
		p.log.Debug("Worker pool stopped")
	}
}

// GetMetrics returns a point-in-time snapshot. It only reads worker
// state.
func (p *Pool) GetMetrics() PoolMetrics {
	m := PoolMetrics{TotalWorkers: len(p.workers)}
	var totalTime time.Duration
	for _, w := range p.workers {
		ws := w.snapshot()
		if ws.Busy {
			m.BusyWorkers++
		}
		m.Completed += ws.Completed
		m.Failed += ws.Failed
		m.Skipped += ws.Skipped
		totalTime += ws.TotalProcessingTime
		m.Workers = append(m.Workers, ws)
	}
	m.IdleWorkers = m.TotalWorkers - m.BusyWorkers
	if done := m.Completed + m.Failed + m.Skipped; done > 0 {
		m.AvgProcessingTime = totalTime / time.Duration(done)
	}
	return m
}

// State reports the current lifecycle state.
func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// dispatch pairs queued handles with idle workers, FIFO among
// submissions, first-free worker wins. It exits on shutdown after
// resolving whatever is still queued.
func (p *Pool) dispatch() {
	defer close(p.drained)
	for {
		select {
		case <-p.stop:
			p.failQueued()
			return
		case <-p.wake:
		}
		for {
			h := p.pop()
			if h == nil {
				break
			}
			select {
			case w := <-p.idle:
				p.inflight.Add(1)
				go p.runJob(w, h)
			case <-p.stop:
				h.started = false
				close(h.done)
				p.failQueued()
				return
			}
		}
	}
}

func (p *Pool) runJob(w *Worker, h *Handle) {
	defer p.inflight.Done()
	h.started = true
	h.outcome = w.process(p.ctx, h.Job, p.progress)
	close(h.done)
	p.idle <- w
}

func (p *Pool) pop() *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil
	}
	h := p.queue[0]
	p.queue = p.queue[1:]
	return h
}

// failQueued resolves every still-queued handle as never started.
func (p *Pool) failQueued() {
	for {
		h := p.pop()
		if h == nil {
			return
		}
		close(h.done)
	}
}
