package pool

import (
	"context"
	"sync"
	"time"

	"github.com/backmassage/transmux/internal/encode"
	"github.com/backmassage/transmux/internal/job"
	"github.com/backmassage/transmux/internal/logging"
)

// Converter is the encode collaborator a worker drives. *encode.Encoder
// satisfies it; tests substitute fakes.
type Converter interface {
	Convert(ctx context.Context, analysis *job.Analysis, affinity []int, progress encode.ProgressFunc) (encode.Outcome, error)
}

// Metrics is a read-only snapshot of one worker's counters. The owning
// worker is the only writer; the pool copies it out for reporting.
type Metrics struct {
	WorkerID            int
	Busy                bool
	CurrentJob          string
	Completed           int
	Failed              int
	Skipped             int
	TotalProcessingTime time.Duration
	Affinity            []int
}

// Worker executes one conversion at a time. The run mutex serializes
// process end to end; the state mutex guards the snapshot fields so the
// pool can read metrics while a job is in flight.
type Worker struct {
	id       int
	affinity []int
	conv     Converter
	log      *logging.Logger

	run sync.Mutex

	mu         sync.Mutex
	busy       bool
	currentJob string
	metrics    Metrics
}

func newWorker(id int, affinity []int, conv Converter, log *logging.Logger) *Worker {
	return &Worker{
		id:       id,
		affinity: affinity,
		conv:     conv,
		log:      log,
		metrics:  Metrics{WorkerID: id, Affinity: affinity},
	}
}

// process runs a single job to its outcome. A conversion failure is a
// normal result here, not an error: the encoder's typed outcome flows
// back to the pool either way. Only an unexpected error from the
// converter gets logged at error severity, and it is folded into a
// failed outcome so the job still resolves.
func (w *Worker) process(ctx context.Context, j *job.Job, progress encode.ProgressFunc) encode.Outcome {
	w.run.Lock()
	defer w.run.Unlock()

	w.setCurrent(j.SourcePath)
	defer w.clearCurrent()

	w.log.Debug("Worker %d: starting %s", w.id, j.SourcePath)

	start := time.Now()
	out, err := w.conv.Convert(ctx, j.Analysis, w.affinity, progress)
	elapsed := time.Since(start)

	if err != nil {
		w.log.Error("Worker %d: unexpected converter error on %s: %v", w.id, j.SourcePath, err)
		out = encode.Outcome{Kind: encode.KindFailed, Reason: err.Error(), Elapsed: elapsed}
	}

	w.record(out, elapsed)
	return out
}

func (w *Worker) setCurrent(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.busy = true
	w.currentJob = path
}

func (w *Worker) clearCurrent() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.busy = false
	w.currentJob = ""
}

func (w *Worker) record(out encode.Outcome, elapsed time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.metrics.TotalProcessingTime += elapsed
	switch out.Kind {
	case encode.KindSuccess:
		w.metrics.Completed++
	case encode.KindSkipped:
		w.metrics.Skipped++
	default:
		w.metrics.Failed++
	}
}

// snapshot returns a copy of the worker's current metrics, including the
// live busy flag and current job.
func (w *Worker) snapshot() Metrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	m := w.metrics
	m.Busy = w.busy
	m.CurrentJob = w.currentJob
	m.Affinity = append([]int(nil), w.affinity...)
	return m
}

// partitionAffinity computes the static core set for worker i out of
// size workers sharing totalCores physical cores. With more workers
// than cores the share rounds to zero and the worker runs unpinned.
func partitionAffinity(i, size, totalCores int) []int {
	if size <= 0 || totalCores <= 0 {
		return nil
	}
	per := totalCores / size
	if per == 0 {
		return nil
	}
	start := (i * per) % totalCores
	cores := make([]int, per)
	for k := range cores {
		cores[k] = (start + k) % totalCores
	}
	return cores
}
