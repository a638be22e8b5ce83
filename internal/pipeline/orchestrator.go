// Package pipeline drives the batch end to end: analyze candidates,
// filter what actually needs converting, schedule through the worker
// pool, and persist every outcome so the batch survives interruption.
package pipeline

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/backmassage/transmux/internal/config"
	"github.com/backmassage/transmux/internal/display"
	"github.com/backmassage/transmux/internal/encode"
	"github.com/backmassage/transmux/internal/job"
	"github.com/backmassage/transmux/internal/logging"
	"github.com/backmassage/transmux/internal/notify"
	"github.com/backmassage/transmux/internal/pool"
	"github.com/backmassage/transmux/internal/state"
	"github.com/backmassage/transmux/internal/store"
)

// dryRunRatio is the assumed output/input size for projection. HEVC
// re-encodes of H.264 sources typically land at 40-60% of the original.
const dryRunRatio = 0.6

// Options carries the orchestrator's collaborators. All are required
// except Notifier and Sink, which default to no-op and logger-backed
// respectively.
type Options struct {
	Analyzer  Analyzer
	Converter pool.Converter
	States    *state.Store
	Results   *store.Store
	Notifier  *notify.Notifier
	Sink      Sink
	Log       *logging.Logger
}

// Orchestrator owns batch policy: ordering and filtering. Concurrency
// belongs to the pool, durability to the two stores.
type Orchestrator struct {
	cfg      *config.Config
	analyzer Analyzer
	conv     pool.Converter
	states   *state.Store
	results  *store.Store
	notifier *notify.Notifier
	sink     Sink
	log      *logging.Logger
}

func New(cfg *config.Config, opts Options) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		analyzer: opts.Analyzer,
		conv:     opts.Converter,
		states:   opts.States,
		results:  opts.Results,
		notifier: opts.Notifier,
		sink:     opts.Sink,
		log:      opts.Log,
	}
	if o.sink == nil {
		o.sink = NewLogSink(opts.Log)
	}
	return o
}

// Run processes a fresh batch of candidate files. It returns true only
// when no job ended failed and nothing was left unscheduled.
func (o *Orchestrator) Run(ctx context.Context, paths []string) bool {
	start := time.Now()

	o.sink.Info("Analyzing %d files...", len(paths))
	analyses, err := o.analyzeAll(ctx, paths)
	if err != nil {
		o.sink.Error("Cannot cache analyses: %v", err)
		return false
	}

	jobs := o.filter(analyses)
	if len(jobs) == 0 {
		o.sink.Info("All files are already in optimal format")
		return true
	}

	// Largest first: big jobs started early drain a fixed pool faster,
	// small jobs backfill the tail.
	sort.SliceStable(jobs, func(i, k int) bool {
		return jobs[i].Analysis.FileSize > jobs[k].Analysis.FileSize
	})

	o.sink.Info("%d of %d files need conversion", len(jobs), len(paths))

	if o.cfg.DryRun {
		o.preview(jobs)
		return true
	}

	pending := make([]string, len(jobs))
	for i, j := range jobs {
		pending[i] = j.SourcePath
	}
	if err := o.states.Begin(pending); err != nil {
		o.sink.Error("Cannot persist batch state: %v", err)
		return false
	}

	return o.execute(ctx, jobs, start)
}

// Resume continues the pending set of a previously interrupted batch,
// rebuilding jobs from cached analyses instead of re-probing.
func (o *Orchestrator) Resume(ctx context.Context) bool {
	st := o.states.Load()
	if st == nil || len(st.Pending) == 0 {
		o.sink.Warn("No batch state found to resume")
		return false
	}
	o.sink.Info("Resuming %d pending conversions", len(st.Pending))

	var jobs []*job.Job
	for _, path := range st.Pending {
		a, err := o.results.GetAnalysis(path)
		if err != nil {
			o.sink.Error("Cannot read cached analysis: %v", err)
			return false
		}
		if a == nil {
			o.sink.Warn("No cached analysis for %s, leaving it out", path)
			continue
		}
		jobs = append(jobs, job.New(a))
	}
	if len(jobs) == 0 {
		o.sink.Warn("Nothing valid to resume")
		return false
	}

	sort.SliceStable(jobs, func(i, k int) bool {
		return jobs[i].Analysis.FileSize > jobs[k].Analysis.FileSize
	})

	return o.execute(ctx, jobs, time.Now())
}

// filter applies the scheduling policy: the analyzer must want the file
// converted, and unless force is set a previously completed conversion
// excludes it.
func (o *Orchestrator) filter(analyses []*job.Analysis) []*job.Job {
	var jobs []*job.Job
	for _, a := range analyses {
		if !a.NeedsConversion {
			o.log.Debug("Skipping %s: %s", filepath.Base(a.Path), a.Reason)
			continue
		}
		if !o.cfg.Force {
			converted, err := o.results.IsConverted(a.Path)
			if err != nil {
				o.sink.Warn("Cannot check conversion history for %s: %v", a.Path, err)
			} else if converted {
				o.log.Debug("Skipping %s: already converted", filepath.Base(a.Path))
				continue
			}
		}
		jobs = append(jobs, job.New(a))
	}
	return jobs
}

// execute schedules jobs on the worker pool and records every resolved
// outcome exactly once in both stores. On interruption it drains
// in-flight jobs and leaves never-started ones pending for resume.
func (o *Orchestrator) execute(ctx context.Context, jobs []*job.Job, start time.Time) bool {
	cores := 0
	if o.cfg.CPUAffinity && !o.cfg.GPU {
		cores = config.PhysicalCores()
	}
	p := pool.New(o.cfg.Jobs, cores, o.conv, o.sink.OnProgress, o.log)

	runDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			o.sink.Warn("Interrupted, draining in-flight conversions...")
			p.Shutdown(true)
		case <-runDone:
		}
	}()

	var handles []*pool.Handle
	fatal := false
	for _, j := range jobs {
		if _, err := o.results.MarkStarted(j.SourcePath, j.Analysis.FileSize); err != nil {
			o.sink.Error("Cannot record conversion start: %v", err)
			fatal = true
			break
		}
		h, err := p.Submit(j)
		if err != nil {
			break
		}
		j.Status = job.StatusRunning
		handles = append(handles, h)
	}
	if fatal {
		p.Shutdown(true)
	}

	var successful, failed, skipped, unscheduled int
	var spaceSaved int64
	for _, h := range handles {
		out, started := h.Result()
		if !started {
			h.Job.Status = job.StatusPending
			unscheduled++
			continue
		}
		if !o.record(h.Job, out) {
			fatal = true
		}
		switch out.Kind {
		case encode.KindSuccess:
			successful++
			spaceSaved += h.Job.Analysis.FileSize - out.OutputSize
		case encode.KindSkipped:
			skipped++
		default:
			failed++
		}
	}

	close(runDone)
	p.Shutdown(true)

	if snap := o.states.Snapshot(); snap != nil && len(snap.Pending) == 0 {
		if err := o.states.Clear(); err != nil {
			o.sink.Warn("Cannot remove drained state file: %v", err)
		}
	}

	elapsed := time.Since(start)
	o.summarize(successful, failed, skipped, unscheduled, spaceSaved, elapsed)

	if o.notifier != nil {
		batchID := ""
		if snap := o.states.Snapshot(); snap != nil {
			batchID = snap.BatchID
		}
		o.notifier.NotifyBatch(notify.BatchOutcome{
			BatchID:    batchID,
			Successful: successful,
			Failed:     failed,
			Skipped:    skipped,
			SpaceSaved: spaceSaved,
			Duration:   elapsed,
		})
	}

	return !fatal && failed == 0 && unscheduled == 0 && ctx.Err() == nil
}

// record writes one job's terminal status to both stores. Persistence
// failures are fatal to the run: continuing would detach the batch from
// its durable record.
func (o *Orchestrator) record(j *job.Job, out encode.Outcome) bool {
	path := j.SourcePath
	name := filepath.Base(path)

	switch out.Kind {
	case encode.KindSuccess:
		j.Status = job.StatusCompleted
		j.Result = &job.Result{OutputPath: out.OutputPath, OutputSize: out.OutputSize, Elapsed: out.Elapsed}
		o.sink.Info("Completed %s: %s -> %s in %s", name,
			display.FormatBytes(j.Analysis.FileSize),
			display.FormatBytes(out.OutputSize),
			display.FormatDuration(out.Elapsed))
		if err := o.results.MarkCompleted(path, j.Analysis.FileSize, out.OutputSize, out.Elapsed.Seconds()); err != nil {
			o.sink.Error("Cannot record completion: %v", err)
			return false
		}
		if err := o.states.MarkCompleted(path); err != nil {
			o.sink.Error("Cannot persist batch state: %v", err)
			return false
		}

	case encode.KindSkipped:
		j.Status = job.StatusSkipped
		o.sink.Warn("Skipped %s: %s", name, out.Reason)
		if err := o.results.MarkSkipped(path, out.Reason); err != nil {
			o.sink.Error("Cannot record skip: %v", err)
			return false
		}
		if err := o.states.MarkSkipped(path, out.Reason); err != nil {
			o.sink.Error("Cannot persist batch state: %v", err)
			return false
		}

	default:
		j.Status = job.StatusFailed
		j.Err = out.Reason
		o.sink.Error("Failed %s: %s", name, out.Reason)
		if err := o.results.MarkFailed(path, out.Reason); err != nil {
			o.sink.Error("Cannot record failure: %v", err)
			return false
		}
		if err := o.states.MarkFailed(path, out.Reason); err != nil {
			o.sink.Error("Cannot persist batch state: %v", err)
			return false
		}
	}
	return true
}

// preview reports projected savings without touching the pool or any
// persisted state.
func (o *Orchestrator) preview(jobs []*job.Job) {
	o.sink.Info("Dry run, planned conversions:")

	var totalSize, estimatedOut int64
	for _, j := range jobs {
		a := j.Analysis
		est := int64(float64(a.FileSize) * dryRunRatio)
		totalSize += a.FileSize
		estimatedOut += est
		o.sink.Info("  %s", filepath.Base(a.Path))
		o.sink.Info("    %s, %s -> %s, est. %s (save %s)",
			a.Resolution(), a.VideoCodec, o.cfg.TargetVideoCodec,
			display.FormatBytes(est), display.FormatBytes(a.FileSize-est))
	}

	saved := totalSize - estimatedOut
	pct := 0.0
	if totalSize > 0 {
		pct = float64(saved) / float64(totalSize) * 100
	}
	o.sink.Info("Total: %d files, %s, estimated savings %s (%.1f%%)",
		len(jobs), display.FormatBytes(totalSize), display.FormatBytes(saved), pct)
}

func (o *Orchestrator) summarize(successful, failed, skipped, unscheduled int, spaceSaved int64, elapsed time.Duration) {
	o.sink.Info("==============================")
	o.sink.Info("Batch summary:")
	o.sink.Info("  Successful: %d", successful)
	o.sink.Info("  Failed: %d", failed)
	o.sink.Info("  Skipped: %d", skipped)
	if unscheduled > 0 {
		o.sink.Info("  Left pending: %d (resume to continue)", unscheduled)
	}
	o.sink.Info("  Space saved: %s", display.FormatBytes(spaceSaved))
	o.sink.Info("  Elapsed: %s", display.FormatDuration(elapsed))

	if stats, err := o.results.GetStatistics(); err == nil && stats.Successful > 0 {
		o.sink.Info("  All-time: %d conversions, %s saved (avg %.1f%%)",
			stats.Successful, display.FormatBytes(stats.TotalSpaceSaved), stats.AvgSavingsPercent)
	}
}
