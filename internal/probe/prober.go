// Package probe analyzes media files with a single ffprobe JSON call and
// decides whether each file needs conversion to the configured target
// codecs.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/backmassage/transmux/internal/config"
	"github.com/backmassage/transmux/internal/job"
)

// AnalysisError is a per-file analysis failure. It is recovered by the
// orchestrator (the file is skipped, the batch continues).
type AnalysisError struct {
	Path string
	Err  error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analyze %s: %v", e.Path, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// Prober runs ffprobe and applies the needs-conversion policy.
type Prober struct {
	cfg *config.Config
}

// New returns a Prober bound to cfg.
func New(cfg *config.Config) *Prober {
	return &Prober{cfg: cfg}
}

// Analyze probes path and returns its analysis snapshot. All failures are
// returned as *AnalysisError.
func (p *Prober) Analyze(ctx context.Context, path string) (*job.Analysis, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, &AnalysisError{Path: path, Err: err}
	}

	cmd := exec.CommandContext(ctx, p.cfg.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams", "-show_error",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, &AnalysisError{Path: path, Err: fmt.Errorf("ffprobe: %w", err)}
	}

	analysis, err := p.parse(path, fi.Size(), out)
	if err != nil {
		return nil, &AnalysisError{Path: path, Err: err}
	}
	return analysis, nil
}

// parse converts raw ffprobe JSON into an Analysis and applies the
// conversion policy. Exported for testing via ParseJSON.
func (p *Prober) parse(path string, size int64, data []byte) (*job.Analysis, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	video := raw.primaryVideo()
	if video == nil {
		return nil, fmt.Errorf("no video stream found")
	}
	audio := raw.primaryAudio()

	videoCodec := strings.ToLower(video.CodecName)
	audioCodec := "none"
	if audio != nil {
		audioCodec = strings.ToLower(audio.CodecName)
	}
	container := raw.Format.FormatName
	if i := strings.IndexByte(container, ','); i >= 0 {
		container = container[:i]
	}

	a := &job.Analysis{
		Path:       path,
		VideoCodec: videoCodec,
		AudioCodec: audioCodec,
		Container:  container,
		Width:      video.Width,
		Height:     video.Height,
		FPS:        video.fps(),
		Duration:   parseFloat(raw.Format.Duration),
		Bitrate:    parseInt64(raw.Format.BitRate),
		FileSize:   size,
		ProbeData:  data,
	}
	a.NeedsConversion, a.Reason = p.decide(a)
	return a, nil
}

// ParseJSON builds an Analysis from canned ffprobe output. Exported for
// testing without a real ffprobe binary.
func (p *Prober) ParseJSON(path string, size int64, data []byte) (*job.Analysis, error) {
	return p.parse(path, size, data)
}

// decide applies the conversion policy: wrong video codec, wrong audio
// codec, or bitrate more than 50% over the resolution-tiered optimum.
func (p *Prober) decide(a *job.Analysis) (bool, string) {
	var reasons []string

	if a.VideoCodec != p.cfg.TargetVideoCodec {
		reasons = append(reasons,
			fmt.Sprintf("video codec: %s -> %s", a.VideoCodec, p.cfg.TargetVideoCodec))
	}
	if a.AudioCodec != p.cfg.TargetAudioCodec && a.AudioCodec != "none" {
		reasons = append(reasons,
			fmt.Sprintf("audio codec: %s -> %s", a.AudioCodec, p.cfg.TargetAudioCodec))
	}
	if a.Bitrate > 0 {
		optimal := OptimalBitrate(a.Width, a.Height)
		if a.Bitrate > optimal*3/2 {
			reasons = append(reasons,
				fmt.Sprintf("excessive bitrate: %dk -> %dk", a.Bitrate/1000, optimal/1000))
		}
	}

	if len(reasons) > 0 {
		return true, strings.Join(reasons, ", ")
	}
	return false, "already optimal"
}

// OptimalBitrate returns the target HEVC bitrate in bits/sec for a
// resolution tier.
func OptimalBitrate(width, height int) int64 {
	pixels := width * height
	switch {
	case pixels <= 1280*720:
		return 1500 * 1000
	case pixels <= 1920*1080:
		return 3000 * 1000
	case pixels <= 3840*2160:
		return 8000 * 1000
	default:
		return 16000 * 1000
	}
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
}

type ffprobeStream struct {
	Index        int            `json:"index"`
	CodecName    string         `json:"codec_name"`
	CodecType    string         `json:"codec_type"`
	Width        int            `json:"width"`
	Height       int            `json:"height"`
	RFrameRate   string         `json:"r_frame_rate"`
	AvgFrameRate string         `json:"avg_frame_rate"`
	Disposition  map[string]int `json:"disposition"`
}

// primaryVideo returns the first video stream that is not attached cover
// art, or nil.
func (o *ffprobeOutput) primaryVideo() *ffprobeStream {
	for i := range o.Streams {
		s := &o.Streams[i]
		if s.CodecType == "video" && s.Disposition["attached_pic"] != 1 {
			return s
		}
	}
	return nil
}

func (o *ffprobeOutput) primaryAudio() *ffprobeStream {
	for i := range o.Streams {
		if o.Streams[i].CodecType == "audio" {
			return &o.Streams[i]
		}
	}
	return nil
}

// fps derives the frame rate from r_frame_rate, falling back to
// avg_frame_rate and then a 30fps default.
func (s *ffprobeStream) fps() float64 {
	for _, rate := range []string{s.RFrameRate, s.AvgFrameRate} {
		if f, ok := parseRational(rate); ok {
			return f
		}
	}
	return 30.0
}

// parseRational parses ffprobe's "num/den" frame rate notation.
func parseRational(s string) (float64, bool) {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return 0, false
	}
	n, err1 := strconv.ParseFloat(strings.TrimSpace(num), 64)
	d, err2 := strconv.ParseFloat(strings.TrimSpace(den), 64)
	if err1 != nil || err2 != nil || d == 0 || n == 0 {
		return 0, false
	}
	return n / d, true
}

// Numeric parsing helpers (ffprobe returns numbers as strings).

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
