package encode

// This file builds the ffmpeg argument list for one conversion: global
// options, hardware decode/encode selection, and audio handling.

import (
	"strconv"

	"github.com/backmassage/transmux/internal/config"
	"github.com/backmassage/transmux/internal/job"
)

// hwEncoders maps GPU type to the matching HEVC encoder.
var hwEncoders = map[config.GPUType]string{
	config.GPUNvidia:       "hevc_nvenc",
	config.GPUAmd:          "hevc_amf",
	config.GPUIntel:        "hevc_qsv",
	config.GPUVideoToolbox: "hevc_videotoolbox",
}

// HardwareEncoder returns the HEVC encoder name for a GPU type,
// defaulting to libx265 for unknown types.
func HardwareEncoder(t config.GPUType) string {
	if enc := hwEncoders[t]; enc != "" {
		return enc
	}
	return "libx265"
}

// BuildArgs assembles the full ffmpeg command (argv[0] included) for
// converting analysis.Path to outputPath. affinity sizes the thread count
// for software encodes; nil means "no affinity hint".
func BuildArgs(cfg *config.Config, analysis *job.Analysis, outputPath string, affinity []int) []string {
	args := []string{cfg.FFmpegPath}
	args = append(args, globalOptions(cfg, affinity)...)

	if cfg.GPU {
		args = append(args, hwDecodeOptions(cfg.GPUType)...)
	}

	args = append(args, "-i", analysis.Path)
	args = append(args, videoOptions(cfg)...)
	args = append(args, audioOptions(cfg, analysis)...)

	// MP4 output: place the moov atom up front for streaming playback.
	args = append(args, "-movflags", "+faststart")
	args = append(args, "-y", outputPath)
	return args
}

// globalOptions sets the thread count and quiets ffmpeg down to warnings
// plus the progress stats line the executor parses.
func globalOptions(cfg *config.Config, affinity []int) []string {
	threads := 2
	if !cfg.GPU {
		if len(affinity) > 0 {
			threads = len(affinity)
		} else {
			threads = config.PhysicalCores()
			if threads > 4 {
				threads = 4
			}
		}
	}
	return []string{
		"-threads", strconv.Itoa(threads),
		"-hide_banner", "-loglevel", "warning", "-stats",
	}
}

func hwDecodeOptions(t config.GPUType) []string {
	switch t {
	case config.GPUNvidia:
		return []string{"-hwaccel", "cuda", "-hwaccel_output_format", "cuda"}
	case config.GPUAmd:
		return []string{"-hwaccel", "vulkan"}
	case config.GPUIntel:
		return []string{"-hwaccel", "qsv"}
	case config.GPUVideoToolbox:
		return []string{"-hwaccel", "videotoolbox"}
	default:
		return []string{"-hwaccel", "auto"}
	}
}

func videoOptions(cfg *config.Config) []string {
	if cfg.GPU {
		enc := hwEncoders[cfg.GPUType]
		if enc == "" {
			enc = "libx265"
		}
		return []string{
			"-c:v", enc,
			"-preset", cfg.Speed,
			"-cq", strconv.Itoa(cfg.CRF),
		}
	}
	args := []string{
		"-c:v", "libx265",
		"-crf", strconv.Itoa(cfg.CRF),
		"-preset", cfg.Speed,
	}
	if cfg.Tune != "" {
		args = append(args, "-tune", cfg.Tune)
	}
	// Keep x265's own output quiet; ffmpeg -loglevel does not reach it.
	args = append(args, "-x265-params", "log-level=error")
	return args
}

// audioOptions copies audio that is already in the target codec and
// re-encodes everything else.
func audioOptions(cfg *config.Config, analysis *job.Analysis) []string {
	if analysis.AudioCodec == "none" {
		return []string{"-an"}
	}
	if analysis.AudioCodec == cfg.TargetAudioCodec {
		return []string{"-c:a", "copy"}
	}
	return []string{"-c:a", cfg.TargetAudioCodec, "-b:a", cfg.AudioBitrate}
}
