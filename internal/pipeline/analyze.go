package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/backmassage/transmux/internal/job"
	"github.com/backmassage/transmux/internal/probe"
)

// Analyzer produces file metadata and the needs-conversion verdict.
// *probe.Prober satisfies it; tests substitute fakes.
type Analyzer interface {
	Analyze(ctx context.Context, path string) (*job.Analysis, error)
}

// analyzeAll runs the analyzer over all paths in fixed-size batches so a
// huge library never fans out unbounded. Per-file analysis failures are
// logged and the file dropped; only result-store write failures abort.
// Results preserve the input order of the paths that survived.
func (o *Orchestrator) analyzeAll(ctx context.Context, paths []string) ([]*job.Analysis, error) {
	batchSize := o.cfg.AnalyzeBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	byPath := make(map[string]*job.Analysis, len(paths))

	for start := 0; start < len(paths); start += batchSize {
		if ctx.Err() != nil {
			break
		}
		end := start + batchSize
		if end > len(paths) {
			end = len(paths)
		}
		batch := paths[start:end]

		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, path := range batch {
			wg.Add(1)
			go func(path string) {
				defer wg.Done()
				a, err := o.analyzer.Analyze(ctx, path)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					var ae *probe.AnalysisError
					if errors.As(err, &ae) {
						o.sink.Warn("Analysis failed for %s: %v", path, ae.Err)
					} else {
						o.sink.Warn("Analysis failed for %s: %v", path, err)
					}
					return
				}
				byPath[path] = a
			}(path)
		}
		wg.Wait()

		// Cache the batch's analyses before moving on, so resume can
		// rebuild jobs without re-probing.
		for _, path := range batch {
			a := byPath[path]
			if a == nil {
				continue
			}
			if err := o.results.StoreAnalysis(a); err != nil {
				return nil, err
			}
		}
	}

	out := make([]*job.Analysis, 0, len(byPath))
	for _, path := range paths {
		if a := byPath[path]; a != nil {
			out = append(out, a)
		}
	}
	return out, nil
}
