// Package job defines the unit of work tracked through the conversion
// pipeline: one source file, its analysis snapshot, and its lifecycle state.
package job

import "time"

// Status is the lifecycle state of a single conversion job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Analysis is an immutable snapshot of a probed media file plus the
// needs-conversion verdict. Produced by the analyzer, cached in the
// result store, and consumed by the encoder.
type Analysis struct {
	Path       string
	VideoCodec string
	AudioCodec string
	Container  string
	Width      int
	Height     int
	FPS        float64
	Duration   float64 // seconds
	Bitrate    int64   // bits/sec
	FileSize   int64   // bytes

	NeedsConversion bool
	Reason          string

	// Raw ffprobe JSON, kept for diagnostics and cached alongside the
	// structured fields.
	ProbeData []byte
}

// Resolution returns "WxH" for display and persistence.
func (a *Analysis) Resolution() string {
	if a.Width <= 0 || a.Height <= 0 {
		return "unknown"
	}
	return itoa(a.Width) + "x" + itoa(a.Height)
}

// Result holds the outcome of a completed conversion. Populated only when
// the job reaches StatusCompleted.
type Result struct {
	OutputPath string
	OutputSize int64
	Elapsed    time.Duration
}

// Job is one file's conversion attempt. SourcePath is the unique identifier
// within a batch. Exactly one of Result/Err is set once the job leaves
// StatusRunning.
type Job struct {
	SourcePath string
	Analysis   *Analysis
	Status     Status
	Result     *Result
	Err        string
}

// New returns a pending job for the analyzed file.
func New(analysis *Analysis) *Job {
	return &Job{
		SourcePath: analysis.Path,
		Analysis:   analysis,
		Status:     StatusPending,
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
