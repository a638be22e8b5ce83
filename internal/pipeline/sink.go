package pipeline

import (
	"fmt"
	"path/filepath"

	"github.com/backmassage/transmux/internal/logging"
)

// Sink receives human-readable pipeline status. It is injected rather
// than global so tests can capture output and alternate frontends can
// render it differently.
type Sink interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	OnProgress(file string, percent float64, completed bool)
}

// LogSink renders pipeline status through the standard logger, with
// encode progress drawn as an in-place carriage-return line.
type LogSink struct {
	log *logging.Logger
}

func NewLogSink(log *logging.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Info(format string, args ...any)  { s.log.Info(format, args...) }
func (s *LogSink) Warn(format string, args ...any)  { s.log.Warn(format, args...) }
func (s *LogSink) Error(format string, args ...any) { s.log.Error(format, args...) }

func (s *LogSink) OnProgress(file string, percent float64, completed bool) {
	name := filepath.Base(file)
	if completed {
		fmt.Printf("\r%-60s\r", "")
		s.log.Debug("Finished encoding %s", name)
		return
	}
	fmt.Printf("\r  %s: %5.1f%%", name, percent)
}
