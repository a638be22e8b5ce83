// Package encode wraps ffmpeg execution for a single conversion: command
// construction, stderr progress parsing, output validation, and the
// skip-if-larger policy.
package encode

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/backmassage/transmux/internal/config"
	"github.com/backmassage/transmux/internal/job"
	"github.com/backmassage/transmux/internal/logging"
)

// reProgress matches ffmpeg's stats line time field (time=HH:MM:SS.cc).
var reProgress = regexp.MustCompile(`time=(\d+):(\d+):(\d+\.?\d*)`)

// Encoder converts media files with ffmpeg. It is stateless apart from its
// configuration and is shared by all workers.
type Encoder struct {
	cfg *config.Config
	log *logging.Logger
}

// New returns an Encoder bound to cfg.
func New(cfg *config.Config, log *logging.Logger) *Encoder {
	return &Encoder{cfg: cfg, log: log}
}

// Convert runs ffmpeg for one job. A typed conversion result (including
// encode failures and policy skips) is returned as an Outcome with a nil
// error; a non-nil error indicates an unexpected condition the caller
// should log at higher severity. In-flight encodes are cancelled through
// ctx.
func (e *Encoder) Convert(ctx context.Context, analysis *job.Analysis, affinity []int, progress ProgressFunc) (Outcome, error) {
	start := time.Now()
	name := filepath.Base(analysis.Path)

	outputPath, err := e.outputPath(analysis.Path)
	if err != nil {
		return Outcome{}, err
	}

	args := BuildArgs(e.cfg, analysis, outputPath, affinity)
	e.log.Debug("ffmpeg command: %s", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Outcome{}, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Outcome{}, fmt.Errorf("start ffmpeg: %w", err)
	}

	tail := e.consumeStderr(stderr, name, analysis.Duration, progress)

	if err := cmd.Wait(); err != nil {
		os.Remove(outputPath)
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		msg := fmt.Sprintf("ffmpeg exited with error: %v", err)
		if tail != "" {
			msg += ": " + tail
		}
		return failed(msg, time.Since(start)), nil
	}

	outInfo, err := os.Stat(outputPath)
	if err != nil {
		return failed("output file not created", time.Since(start)), nil
	}
	if outInfo.Size() == 0 {
		os.Remove(outputPath)
		return failed("output file is empty", time.Since(start)), nil
	}

	// Policy: an encode that does not shrink the file is recorded as
	// skipped, never silently discarded.
	if e.cfg.SkipIfLarger && outInfo.Size() >= analysis.FileSize {
		os.Remove(outputPath)
		reason := fmt.Sprintf("output not smaller than input (%d >= %d bytes)",
			outInfo.Size(), analysis.FileSize)
		return skipped(reason, time.Since(start)), nil
	}

	finalPath := outputPath
	if e.cfg.OutputSuffix == "" && e.cfg.OutputDir == "" {
		finalPath, err = e.replaceOriginal(analysis.Path, outputPath)
		if err != nil {
			os.Remove(outputPath)
			return Outcome{}, err
		}
	}

	if progress != nil {
		progress(name, 100, true)
	}
	return success(finalPath, outInfo.Size(), time.Since(start)), nil
}

// consumeStderr drains ffmpeg stderr, forwarding progress updates and
// retaining the last non-progress line for error reporting.
func (e *Encoder) consumeStderr(r interface{ Read([]byte) (int, error) }, name string, duration float64, progress ProgressFunc) string {
	var lastLine string
	scanner := bufio.NewScanner(r)
	scanner.Split(scanCarriageLines)
	for scanner.Scan() {
		line := scanner.Text()
		if pct, ok := parseProgress(line, duration); ok {
			if progress != nil {
				progress(name, pct, false)
			}
			continue
		}
		if s := strings.TrimSpace(line); s != "" {
			lastLine = s
		}
	}
	return lastLine
}

// scanCarriageLines splits on \n or \r, because ffmpeg's stats line is
// carriage-return terminated.
func scanCarriageLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// parseProgress extracts a 0-100 percent value from an ffmpeg stats line.
func parseProgress(line string, duration float64) (float64, bool) {
	if duration <= 0 {
		return 0, false
	}
	m := reProgress.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	hours, _ := strconv.ParseFloat(m[1], 64)
	minutes, _ := strconv.ParseFloat(m[2], 64)
	seconds, _ := strconv.ParseFloat(m[3], 64)
	current := hours*3600 + minutes*60 + seconds
	pct := current / duration * 100
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

// outputPath determines where the converted file is written. Without a
// suffix or output dir the file gets a temporary name next to the source
// and replaces it after validation.
func (e *Encoder) outputPath(inputPath string) (string, error) {
	dir := filepath.Dir(inputPath)
	if e.cfg.OutputDir != "" {
		dir = e.cfg.OutputDir
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create output directory: %w", err)
		}
	}

	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	suffix := e.cfg.OutputSuffix
	if suffix == "" && e.cfg.OutputDir == "" {
		suffix = "_tmp"
	}
	return filepath.Join(dir, stem+suffix+".mp4"), nil
}

// replaceOriginal swaps the converted file into the original's place,
// optionally keeping a .bak copy of the source.
func (e *Encoder) replaceOriginal(original, converted string) (string, error) {
	if e.cfg.CreateBackup {
		if err := os.Rename(original, original+".bak"); err != nil {
			return "", fmt.Errorf("create backup: %w", err)
		}
	} else {
		if err := os.Remove(original); err != nil {
			return "", fmt.Errorf("remove original: %w", err)
		}
	}

	stem := strings.TrimSuffix(filepath.Base(original), filepath.Ext(original))
	finalPath := filepath.Join(filepath.Dir(original), stem+".mp4")
	if err := os.Rename(converted, finalPath); err != nil {
		return "", fmt.Errorf("replace original: %w", err)
	}
	return finalPath, nil
}
