package encode

import "time"

// OutcomeKind discriminates the three terminal results of a conversion
// attempt.
type OutcomeKind int

const (
	// KindSuccess: output written and accepted.
	KindSuccess OutcomeKind = iota
	// KindSkipped: encode ran but the output was rejected by policy
	// (e.g. not smaller than the input). The output file is removed.
	KindSkipped
	// KindFailed: ffmpeg failed or produced an unusable output.
	KindFailed
)

// Outcome is the typed result of one conversion attempt. Exactly one kind
// applies; Reason is set for Skipped and Failed.
type Outcome struct {
	Kind       OutcomeKind
	OutputPath string
	OutputSize int64
	Elapsed    time.Duration
	Reason     string
}

// Success reports whether the attempt completed and was accepted.
func (o Outcome) Success() bool { return o.Kind == KindSuccess }

func success(path string, size int64, elapsed time.Duration) Outcome {
	return Outcome{Kind: KindSuccess, OutputPath: path, OutputSize: size, Elapsed: elapsed}
}

func skipped(reason string, elapsed time.Duration) Outcome {
	return Outcome{Kind: KindSkipped, Reason: reason, Elapsed: elapsed}
}

func failed(reason string, elapsed time.Duration) Outcome {
	return Outcome{Kind: KindFailed, Reason: reason, Elapsed: elapsed}
}

// ProgressFunc receives progress updates during an encode. percent is in
// [0,100]; completed is true exactly once, on the final call. It may be
// invoked from a different goroutine than the submitter and must not block.
type ProgressFunc func(file string, percent float64, completed bool)
