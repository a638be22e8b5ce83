// Package check provides system diagnostics (the check subcommand) and
// pre-batch dependency validation for ffmpeg, ffprobe, the selected
// encoder, and the conversion database.
package check

import (
	"errors"
	"os/exec"
	"strings"

	"github.com/backmassage/transmux/internal/config"
	"github.com/backmassage/transmux/internal/encode"
	"github.com/backmassage/transmux/internal/store"
)

// Sentinel errors returned by CheckDeps when a required tool or encoder is missing.
var (
	ErrFfmpegNotFound  = errors.New("ffmpeg not found on PATH")
	ErrFfprobeNotFound = errors.New("ffprobe not found on PATH")
	ErrCPUEncodeFailed = errors.New("libx265 test encode failed")
	ErrGPUEncodeFailed = errors.New("hardware encoder test failed")
)

// Logger is the minimal logging interface needed by RunCheck.
// Defined here (rather than importing the logging package) so that check
// remains dependency-light and testable with a mock logger.
type Logger interface {
	Info(string, ...any)
	Success(string, ...any)
	Warn(string, ...any)
	Error(string, ...any)
}

// RunCheck runs the interactive diagnostics flow: availability of
// ffmpeg/ffprobe, HEVC encoders, a test encode for the configured mode,
// the AAC encoder, and database reachability. Informational only, it
// does not stop on failure.
func RunCheck(cfg *config.Config, log Logger) {
	log.Info("=== System Check ===")

	checkFfmpeg(cfg, log)
	checkFfprobe(cfg, log)
	checkHEVCEncoders(cfg, log)
	checkEncodeMode(cfg, log)
	checkAAC(cfg, log)
	checkDatabase(cfg, log)
}

func checkFfmpeg(cfg *config.Config, log Logger) {
	if _, err := exec.LookPath(cfg.FFmpegPath); err != nil {
		log.Error("ffmpeg not found (%s)", cfg.FFmpegPath)
		return
	}
	out, err := exec.Command(cfg.FFmpegPath, "-version").Output()
	if err != nil {
		log.Warn("ffmpeg found but -version failed: %v", err)
		return
	}
	log.Success("ffmpeg: %s", firstLine(string(out)))
}

func checkFfprobe(cfg *config.Config, log Logger) {
	if _, err := exec.LookPath(cfg.FFprobePath); err != nil {
		log.Error("ffprobe not found (%s)", cfg.FFprobePath)
		return
	}
	out, err := exec.Command(cfg.FFprobePath, "-version").Output()
	if err != nil {
		log.Warn("ffprobe found but -version failed: %v", err)
		return
	}
	log.Success("ffprobe: %s", firstLine(string(out)))
}

// checkHEVCEncoders lists all HEVC-related encoders reported by ffmpeg.
func checkHEVCEncoders(cfg *config.Config, log Logger) {
	log.Info("HEVC encoders:")
	out, err := exec.Command(cfg.FFmpegPath, "-hide_banner", "-encoders").Output()
	if err != nil {
		log.Warn("Could not list encoders: %v", err)
		return
	}
	for _, line := range strings.Split(string(out), "\n") {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "hevc") || strings.Contains(lower, "265") {
			log.Info("  %s", strings.TrimSpace(line))
		}
	}
}

func checkEncodeMode(cfg *config.Config, log Logger) {
	if cfg.GPU {
		enc := encode.HardwareEncoder(cfg.GPUType)
		log.Info("Testing %s...", enc)
		if runSilent(cfg.FFmpegPath, gpuTestArgs(enc)...) {
			log.Success("%s works", enc)
		} else {
			log.Error("%s test encode failed", enc)
		}
		return
	}
	log.Info("Testing CPU x265...")
	if runSilent(cfg.FFmpegPath, cpuTestArgs()...) {
		log.Success("CPU x265 works")
	} else {
		log.Error("CPU x265 test encode failed")
	}
}

func checkAAC(cfg *config.Config, log Logger) {
	log.Info("Testing AAC encoder...")
	if runSilent(cfg.FFmpegPath,
		"-hide_banner", "-nostdin",
		"-f", "lavfi", "-i", "sine=frequency=1000:duration=0.1",
		"-c:a", "aac", "-f", "null", "-",
	) {
		log.Success("AAC encoder works")
	} else {
		log.Error("AAC encoder test failed")
	}
}

func checkDatabase(cfg *config.Config, log Logger) {
	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Error("Cannot open conversion database %s: %v", cfg.DatabasePath, err)
		return
	}
	defer db.Close()
	if _, err := db.GetStatistics(); err != nil {
		log.Error("Conversion database unusable: %v", err)
		return
	}
	log.Success("Conversion database: %s", cfg.DatabasePath)
}

// CheckDeps is the pre-batch validation: ffmpeg and ffprobe must be on
// PATH and the selected encoder must pass a short test encode. Returns a
// sentinel error on failure.
func CheckDeps(cfg *config.Config) error {
	if _, err := exec.LookPath(cfg.FFmpegPath); err != nil {
		return ErrFfmpegNotFound
	}
	if _, err := exec.LookPath(cfg.FFprobePath); err != nil {
		return ErrFfprobeNotFound
	}

	if cfg.GPU {
		if !runSilent(cfg.FFmpegPath, gpuTestArgs(encode.HardwareEncoder(cfg.GPUType))...) {
			return ErrGPUEncodeFailed
		}
		return nil
	}
	if !runSilent(cfg.FFmpegPath, cpuTestArgs()...) {
		return ErrCPUEncodeFailed
	}
	return nil
}

// --- internal helpers ---

func cpuTestArgs() []string {
	return []string{
		"-hide_banner", "-nostdin", "-loglevel", "error",
		"-f", "lavfi", "-i", "color=black:s=256x256:d=0.1",
		"-c:v", "libx265",
		"-f", "null", "-",
	}
}

func gpuTestArgs(encoder string) []string {
	return []string{
		"-hide_banner", "-nostdin", "-loglevel", "error",
		"-f", "lavfi", "-i", "color=black:s=256x256:d=0.1",
		"-c:v", encoder,
		"-f", "null", "-",
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, "\n"); idx > 0 {
		s = s[:idx]
	}
	return s
}

// runSilent runs a command and returns true if it exits with status 0.
func runSilent(name string, args ...string) bool {
	cmd := exec.Command(name, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Run() == nil
}
