package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/backmassage/transmux/internal/config"
	"github.com/backmassage/transmux/internal/encode"
	"github.com/backmassage/transmux/internal/job"
	"github.com/backmassage/transmux/internal/logging"
	"github.com/backmassage/transmux/internal/state"
	"github.com/backmassage/transmux/internal/store"
)

// --- fakes ---

type fakeAnalyzer struct {
	sizes map[string]int64 // path -> file size; missing path fails analysis
	needs map[string]bool  // defaults to true when absent
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, path string) (*job.Analysis, error) {
	size, ok := f.sizes[path]
	if !ok {
		return nil, fmt.Errorf("analyze %s: probe exploded", path)
	}
	needs := true
	if v, have := f.needs[path]; have {
		needs = v
	}
	return &job.Analysis{
		Path:            path,
		VideoCodec:      "h264",
		AudioCodec:      "ac3",
		Container:       "matroska",
		Width:           1920,
		Height:          1080,
		FileSize:        size,
		NeedsConversion: needs,
		Reason:          "video codec: h264 -> hevc",
		ProbeData:       []byte("{}"),
	}, nil
}

type fakeConverter struct {
	mu    sync.Mutex
	order []string

	started chan string   // when non-nil, receives each path as it begins
	gate    chan struct{} // when non-nil, jobs block here until closed
	outcome func(a *job.Analysis) encode.Outcome
}

func (f *fakeConverter) Convert(ctx context.Context, a *job.Analysis, affinity []int, progress encode.ProgressFunc) (encode.Outcome, error) {
	f.mu.Lock()
	f.order = append(f.order, a.Path)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- a.Path
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.outcome != nil {
		return f.outcome(a), nil
	}
	return encode.Outcome{
		Kind:       encode.KindSuccess,
		OutputPath: a.Path + ".mp4",
		OutputSize: a.FileSize / 2,
		Elapsed:    time.Millisecond,
	}, nil
}

func (f *fakeConverter) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

type captureSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *captureSink) record(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, fmt.Sprintf(format, args...))
}

func (s *captureSink) Info(format string, args ...any)  { s.record(format, args...) }
func (s *captureSink) Warn(format string, args ...any)  { s.record(format, args...) }
func (s *captureSink) Error(format string, args ...any) { s.record(format, args...) }
func (s *captureSink) OnProgress(file string, percent float64, completed bool) {}

// --- test env ---

type env struct {
	cfg       config.Config
	statePath string
	states    *state.Store
	results   *store.Store
	analyzer  *fakeAnalyzer
	conv      *fakeConverter
	sink      *captureSink
	log       *logging.Logger
}

func newEnv(t *testing.T, jobs int, sizes map[string]int64) *env {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Jobs = jobs
	cfg.CPUAffinity = false
	cfg.ColorMode = config.ColorNever
	cfg.DatabasePath = filepath.Join(dir, "conversions.db")
	cfg.StateFile = filepath.Join(dir, "state.json")

	log, err := logging.NewLogger(&cfg)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	t.Cleanup(func() { log.Close() })

	results, err := store.Open(cfg.DatabasePath)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { results.Close() })

	return &env{
		cfg:       cfg,
		statePath: cfg.StateFile,
		states:    state.NewStore(cfg.StateFile, log),
		results:   results,
		analyzer:  &fakeAnalyzer{sizes: sizes},
		conv:      &fakeConverter{},
		sink:      &captureSink{},
		log:       log,
	}
}

func (e *env) orchestrator() *Orchestrator {
	return New(&e.cfg, Options{
		Analyzer:  e.analyzer,
		Converter: e.conv,
		States:    e.states,
		Results:   e.results,
		Sink:      e.sink,
		Log:       e.log,
	})
}

func (e *env) paths() []string {
	out := make([]string, 0, len(e.analyzer.sizes))
	for p := range e.analyzer.sizes {
		out = append(out, p)
	}
	return out
}

// Scenario: three files of very different sizes on a single worker must
// be converted largest first, and with one worker completion order
// equals submission order.
func TestRun_SizeDescendingOrder(t *testing.T) {
	e := newEnv(t, 1, map[string]int64{
		"/m/small.mkv": 10 << 20,
		"/m/big.mkv":   500 << 20,
		"/m/mid.mkv":   100 << 20,
	})

	if ok := e.orchestrator().Run(context.Background(), []string{"/m/small.mkv", "/m/big.mkv", "/m/mid.mkv"}); !ok {
		t.Fatal("Run() = false, want true")
	}

	want := []string{"/m/big.mkv", "/m/mid.mkv", "/m/small.mkv"}
	got := e.conv.executed()
	if len(got) != len(want) {
		t.Fatalf("executed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("execution[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	// The batch fully drained, so the state file is gone.
	if _, err := os.Stat(e.statePath); !os.IsNotExist(err) {
		t.Error("state file survived a fully completed batch")
	}
}

// Scenario: a file with an existing completed record is filtered out on
// the next run unless force is set.
func TestRun_IdempotencyFilter(t *testing.T) {
	sizes := map[string]int64{"/m/x.mkv": 100, "/m/y.mkv": 200}
	e := newEnv(t, 1, sizes)

	if ok := e.orchestrator().Run(context.Background(), e.paths()); !ok {
		t.Fatal("first Run() = false")
	}
	if got := len(e.conv.executed()); got != 2 {
		t.Fatalf("first run executed %d jobs, want 2", got)
	}

	// Second run: same candidates, nothing converted again.
	e.conv = &fakeConverter{}
	if ok := e.orchestrator().Run(context.Background(), e.paths()); !ok {
		t.Fatal("second Run() = false")
	}
	if got := len(e.conv.executed()); got != 0 {
		t.Errorf("second run executed %d jobs, want 0", got)
	}

	stats, err := e.results.GetStatistics()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Successful != 2 {
		t.Errorf("Successful = %d after two runs, want exactly 2", stats.Successful)
	}

	// Force mode reconverts.
	e.conv = &fakeConverter{}
	e.cfg.Force = true
	if ok := e.orchestrator().Run(context.Background(), e.paths()); !ok {
		t.Fatal("forced Run() = false")
	}
	if got := len(e.conv.executed()); got != 2 {
		t.Errorf("forced run executed %d jobs, want 2", got)
	}
}

// Scenario: an encode failure is recorded in both stores with a reason,
// and the run reports failure.
func TestRun_EncodeFailure(t *testing.T) {
	e := newEnv(t, 1, map[string]int64{"/m/bad.mkv": 100})
	e.conv.outcome = func(a *job.Analysis) encode.Outcome {
		return encode.Outcome{Kind: encode.KindFailed, Reason: "encoder exploded"}
	}

	if ok := e.orchestrator().Run(context.Background(), e.paths()); ok {
		t.Fatal("Run() = true with a failed job")
	}

	st := e.states.Load()
	if st == nil {
		t.Fatal("no state persisted")
	}
	if len(st.Pending) != 0 || !st.Failed["/m/bad.mkv"] {
		t.Errorf("state = pending %v failed %v, want the path failed", st.Pending, st.Failed)
	}
	mark := st.Metadata["/m/bad.mkv"]
	if mark.Reason != "encoder exploded" || mark.Timestamp.IsZero() {
		t.Errorf("failure metadata = %+v, want timestamped reason", mark)
	}

	stats, err := e.results.GetStatistics()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Failed != 1 {
		t.Errorf("ledger failed = %d, want 1", stats.Failed)
	}
}

// A skipped outcome lands as an explicit skipped record, not a silent
// absence, and does not fail the run.
func TestRun_SkippedOutcome(t *testing.T) {
	e := newEnv(t, 1, map[string]int64{"/m/dense.mkv": 100})
	e.conv.outcome = func(a *job.Analysis) encode.Outcome {
		return encode.Outcome{Kind: encode.KindSkipped, Reason: "output not smaller than input"}
	}

	if ok := e.orchestrator().Run(context.Background(), e.paths()); !ok {
		t.Fatal("Run() = false, skips are not failures")
	}

	st := e.states.Load()
	if st == nil || !st.Skipped["/m/dense.mkv"] {
		t.Fatalf("state = %+v, want the path in skipped", st)
	}

	stats, err := e.results.GetStatistics()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Skipped != 1 || stats.Failed != 0 {
		t.Errorf("ledger = %d skipped %d failed, want 1/0", stats.Skipped, stats.Failed)
	}
}

// Scenario: interruption with jobs in flight drains them, leaves queued
// jobs pending, and a subsequent resume schedules exactly those.
func TestRun_InterruptAndResume(t *testing.T) {
	sizes := map[string]int64{
		"/m/a.mkv": 500, "/m/b.mkv": 400, "/m/c.mkv": 300,
		"/m/d.mkv": 200, "/m/e.mkv": 100,
	}
	e := newEnv(t, 2, sizes)
	e.conv.started = make(chan string, 8)
	e.conv.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan bool, 1)
	go func() { runDone <- e.orchestrator().Run(ctx, e.paths()) }()

	// Two jobs in flight on a pool of two, three queued.
	first := <-e.conv.started
	second := <-e.conv.started
	time.Sleep(20 * time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)
	close(e.conv.gate)

	select {
	case ok := <-runDone:
		if ok {
			t.Error("interrupted Run() = true, want false")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after interrupt")
	}

	st := e.states.Load()
	if st == nil {
		t.Fatal("no state persisted")
	}
	if len(st.Pending) != 3 {
		t.Fatalf("pending = %v, want the 3 queued jobs", st.Pending)
	}
	if !st.Completed[first] || !st.Completed[second] {
		t.Errorf("in-flight jobs %s, %s not recorded completed: %v", first, second, st.Completed)
	}

	// Resume converts exactly the pending three.
	resumeConv := &fakeConverter{}
	e.conv = resumeConv
	if ok := e.orchestrator().Resume(context.Background()); !ok {
		t.Fatal("Resume() = false")
	}
	got := resumeConv.executed()
	if len(got) != 3 {
		t.Fatalf("resume executed %d jobs, want 3: %v", len(got), got)
	}
	wantSet := map[string]bool{}
	for _, p := range st.Pending {
		wantSet[p] = true
	}
	for _, p := range got {
		if !wantSet[p] {
			t.Errorf("resume converted %s, which was not pending", p)
		}
	}
}

func TestResume_NoState(t *testing.T) {
	e := newEnv(t, 1, nil)
	if ok := e.orchestrator().Resume(context.Background()); ok {
		t.Error("Resume() = true with no persisted state")
	}
}

// Dry run previews and mutates nothing durable.
func TestRun_DryRun(t *testing.T) {
	e := newEnv(t, 1, map[string]int64{"/m/a.mkv": 1000})
	e.cfg.DryRun = true

	if ok := e.orchestrator().Run(context.Background(), e.paths()); !ok {
		t.Fatal("dry Run() = false")
	}
	if got := len(e.conv.executed()); got != 0 {
		t.Errorf("dry run executed %d jobs, want 0", got)
	}
	if _, err := os.Stat(e.statePath); !os.IsNotExist(err) {
		t.Error("dry run wrote a state file")
	}
	stats, err := e.results.GetStatistics()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Successful != 0 || stats.Failed != 0 {
		t.Errorf("dry run touched the ledger: %+v", stats)
	}
}

// Files whose analysis fails are dropped with a warning; the rest of the
// batch continues.
func TestRun_AnalysisFailureIsRecovered(t *testing.T) {
	e := newEnv(t, 1, map[string]int64{"/m/good.mkv": 100})

	ok := e.orchestrator().Run(context.Background(), []string{"/m/broken.mkv", "/m/good.mkv"})
	if !ok {
		t.Fatal("Run() = false, analysis failures must not fail the batch")
	}
	got := e.conv.executed()
	if len(got) != 1 || got[0] != "/m/good.mkv" {
		t.Errorf("executed %v, want only the analyzable file", got)
	}
}

// Files the analyzer says are already optimal are not scheduled.
func TestRun_NeedsConversionFilter(t *testing.T) {
	e := newEnv(t, 1, map[string]int64{"/m/old.mkv": 100, "/m/done.mkv": 100})
	e.analyzer.needs = map[string]bool{"/m/done.mkv": false}

	if ok := e.orchestrator().Run(context.Background(), e.paths()); !ok {
		t.Fatal("Run() = false")
	}
	got := e.conv.executed()
	if len(got) != 1 || got[0] != "/m/old.mkv" {
		t.Errorf("executed %v, want only the file needing conversion", got)
	}
}
