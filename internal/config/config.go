// Package config holds runtime configuration: defaults, named presets,
// optional YAML file loading, and validation.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// --- Enum types for validated string fields ---

// Preset names a recognized quality/speed trade-off profile.
type Preset string

const (
	PresetFast     Preset = "fast"
	PresetBalanced Preset = "balanced" // Default.
	PresetQuality  Preset = "quality"
	PresetArchive  Preset = "archive"
)

// GPUType selects the hardware acceleration backend when GPU mode is enabled.
type GPUType string

const (
	GPUNvidia       GPUType = "nvidia"
	GPUAmd          GPUType = "amd"
	GPUIntel        GPUType = "intel"
	GPUVideoToolbox GPUType = "videotoolbox"
)

// ColorMode controls ANSI color output.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"   // Enable colors when stdout is a TTY (default).
	ColorAlways ColorMode = "always" // Force colors on.
	ColorNever  ColorMode = "never"  // Disable colors entirely.
)

// Config holds all runtime settings. It is populated by [DefaultConfig],
// optionally overlaid by a YAML file and a preset via [Load], and then
// mutated by CLI flag binding before [Validate] seals it. Fields are grouped
// by concern with inline documentation of defaults.
type Config struct {
	// Target codecs.
	TargetVideoCodec string `yaml:"target_video_codec"` // Default: "hevc".
	TargetAudioCodec string `yaml:"target_audio_codec"` // Default: "aac".

	// Video quality.
	CRF    int    `yaml:"crf"`    // Default: 23. Valid range 0-51.
	Speed  string `yaml:"speed"`  // x265 speed preset, default: "medium".
	Tune   string `yaml:"tune"`   // Default: "film". Empty disables.
	Preset Preset `yaml:"preset"` // Named profile, default: "balanced".

	// Audio quality.
	AudioBitrate string `yaml:"audio_bitrate"` // Default: "192k".

	// Concurrency.
	Jobs        int  `yaml:"jobs"`         // Worker count, default: 2.
	CPUAffinity bool `yaml:"cpu_affinity"` // Default: true. Pin workers to core ranges.

	// Hardware acceleration.
	GPU     bool    `yaml:"gpu"`      // Default: false.
	GPUType GPUType `yaml:"gpu_type"` // Default: "nvidia". Used only when GPU is set.

	// Behavior flags.
	DryRun       bool   `yaml:"-"`              // Preview only; mutates no persisted state.
	Force        bool   `yaml:"-"`              // Reconvert files already recorded as completed.
	SkipIfLarger bool   `yaml:"skip_if_larger"` // Default: true. Discard outputs not smaller than input.
	CreateBackup bool   `yaml:"create_backup"`  // Default: false. Keep .bak of replaced originals.
	OutputSuffix string `yaml:"output_suffix"`  // Default: "". Empty means replace original in place.
	OutputDir    string `yaml:"output_dir"`     // Default: "". Empty means alongside input.

	// File handling.
	Extensions []string `yaml:"extensions"` // Lowercase, no leading dot.

	// External tool paths.
	FFmpegPath  string `yaml:"ffmpeg_path"`  // Default: "ffmpeg".
	FFprobePath string `yaml:"ffprobe_path"` // Default: "ffprobe".

	// Persistence.
	DatabasePath string `yaml:"database_path"` // Default: "data/conversions.db".
	StateFile    string `yaml:"state_file"`    // Default: "data/state.json".

	// Notifications.
	WebhookURL string `yaml:"webhook_url"` // Default: "". Empty disables.

	// Display and logging.
	Verbose   bool      `yaml:"-"`
	ColorMode ColorMode `yaml:"color"` // Default: "auto".
	LogFile   string    `yaml:"log_file"`

	// Analysis batching (not user-configurable via flags).
	AnalyzeBatchSize int `yaml:"-"` // Default: 50.
}

// DefaultConfig returns a Config matching the balanced preset.
func DefaultConfig() Config {
	return Config{
		TargetVideoCodec: "hevc",
		TargetAudioCodec: "aac",
		CRF:              23,
		Speed:            "medium",
		Tune:             "film",
		Preset:           PresetBalanced,
		AudioBitrate:     "192k",
		Jobs:             2,
		CPUAffinity:      true,
		GPU:              false,
		GPUType:          GPUNvidia,
		SkipIfLarger:     true,
		CreateBackup:     false,
		Extensions: []string{
			"avi", "mp4", "mkv", "mov", "wmv", "flv", "webm",
			"m4v", "mpg", "mpeg", "3gp", "ogv", "ts", "vob",
		},
		FFmpegPath:       "ffmpeg",
		FFprobePath:      "ffprobe",
		DatabasePath:     "data/conversions.db",
		StateFile:        "data/state.json",
		ColorMode:        ColorAuto,
		AnalyzeBatchSize: 50,
	}
}

// presetValues maps each named preset to its CRF and x265 speed preset.
var presetValues = map[Preset]struct {
	crf   int
	speed string
}{
	PresetFast:     {28, "veryfast"},
	PresetBalanced: {23, "medium"},
	PresetQuality:  {20, "slow"},
	PresetArchive:  {18, "veryslow"},
}

// ApplyPreset overwrites CRF and Speed from the named preset. Returns an
// error for unrecognized names so CLI input fails fast.
func (c *Config) ApplyPreset(p Preset) error {
	v, ok := presetValues[p]
	if !ok {
		return fmt.Errorf("unknown preset %q (use fast, balanced, quality or archive)", p)
	}
	c.Preset = p
	c.CRF = v.crf
	c.Speed = v.speed
	return nil
}

// validSpeeds are the x265 speed presets accepted for Speed.
var validSpeeds = map[string]bool{
	"ultrafast": true, "superfast": true, "veryfast": true, "faster": true,
	"fast": true, "medium": true, "slow": true, "slower": true, "veryslow": true,
}

// Validate checks enum and range constraints. Called once after flag
// binding; a failure here is a configuration error that aborts before any
// work starts.
func (c *Config) Validate() error {
	if c.CRF < 0 || c.CRF > 51 {
		return fmt.Errorf("crf must be between 0 and 51, got %d", c.CRF)
	}
	if !validSpeeds[c.Speed] {
		return fmt.Errorf("invalid speed preset %q", c.Speed)
	}
	if c.Jobs < 1 {
		return fmt.Errorf("jobs must be >= 1, got %d", c.Jobs)
	}
	if c.GPU {
		switch c.GPUType {
		case GPUNvidia, GPUAmd, GPUIntel, GPUVideoToolbox:
			// valid
		default:
			return fmt.Errorf("invalid gpu type %q (use nvidia, amd, intel or videotoolbox)", c.GPUType)
		}
	}
	switch c.ColorMode {
	case ColorAuto, ColorAlways, ColorNever:
		// valid
	default:
		return errors.New("invalid color mode (use 'auto', 'always' or 'never')")
	}
	normalized, err := normalizeAudioBitrate(c.AudioBitrate)
	if err != nil {
		return err
	}
	c.AudioBitrate = normalized

	if c.DatabasePath == "" {
		return errors.New("database path must not be empty")
	}
	if c.StateFile == "" {
		return errors.New("state file path must not be empty")
	}
	if c.AnalyzeBatchSize < 1 {
		c.AnalyzeBatchSize = 50
	}
	return nil
}

// PhysicalCores returns the core count used for worker affinity
// partitioning. runtime.NumCPU counts logical CPUs; halving approximates
// physical cores on SMT systems and never goes below 1.
func PhysicalCores() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		n = 1
	}
	return n
}

// normalizeAudioBitrate validates and canonicalizes user bitrate input.
// Accepted forms: "192", "192k", "192K", "192kbps". Output is "<n>k".
func normalizeAudioBitrate(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", errors.New("audio bitrate must not be empty")
	}
	if strings.HasSuffix(s, "kbps") {
		s = strings.TrimSpace(strings.TrimSuffix(s, "kbps"))
	} else if strings.HasSuffix(s, "k") {
		s = strings.TrimSpace(strings.TrimSuffix(s, "k"))
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return "", fmt.Errorf("invalid audio bitrate %q (use positive Kbps value, e.g. 192k)", raw)
	}
	return fmt.Sprintf("%dk", n), nil
}
