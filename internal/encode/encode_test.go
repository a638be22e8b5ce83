package encode

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/backmassage/transmux/internal/config"
	"github.com/backmassage/transmux/internal/job"
)

func TestParseProgress(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		duration float64
		want     float64
		ok       bool
	}{
		{"halfway", "frame= 100 fps=25 time=00:30:00.00 bitrate=5000k", 3600, 50, true},
		{"start", "time=00:00:00.00 speed=1x", 3600, 0, true},
		{"capped at 100", "time=02:00:00.00", 3600, 100, true},
		{"fractional seconds", "time=00:00:36.00", 3600, 1, true},
		{"no time field", "frame= 100 fps=25", 3600, 0, false},
		{"zero duration", "time=00:30:00.00", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseProgress(tt.line, tt.duration)
			if ok != tt.ok {
				t.Fatalf("parseProgress(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			}
			if ok && (got < tt.want-0.01 || got > tt.want+0.01) {
				t.Errorf("parseProgress(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestScanCarriageLines(t *testing.T) {
	input := "line one\rline two\nline three"
	var got []string
	data := []byte(input)
	for len(data) > 0 {
		adv, tok, _ := scanCarriageLines(data, true)
		got = append(got, string(tok))
		data = data[adv:]
	}
	want := []string{"line one", "line two", "line three"}
	if len(got) != len(want) {
		t.Fatalf("got %d tokens %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func testAnalysis() *job.Analysis {
	return &job.Analysis{
		Path:       "/media/movie.mkv",
		VideoCodec: "h264",
		AudioCodec: "ac3",
		Width:      1920,
		Height:     1080,
		Duration:   3600,
		FileSize:   1 << 30,
	}
}

func TestBuildArgs_CPU(t *testing.T) {
	cfg := config.DefaultConfig()
	args := BuildArgs(&cfg, testAnalysis(), "/media/movie_tmp.mp4", []int{0, 1})
	joined := strings.Join(args, " ")

	if args[0] != "ffmpeg" {
		t.Errorf("argv[0] = %q, want ffmpeg", args[0])
	}
	for _, want := range []string{
		"-threads 2",
		"-i /media/movie.mkv",
		"-c:v libx265",
		"-crf 23",
		"-preset medium",
		"-tune film",
		"-c:a aac",
		"-b:a 192k",
		"-movflags +faststart",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
	if args[len(args)-1] != "/media/movie_tmp.mp4" {
		t.Errorf("last arg = %q, want output path", args[len(args)-1])
	}
}

func TestBuildArgs_GPU(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.GPU = true
	cfg.GPUType = config.GPUNvidia
	args := BuildArgs(&cfg, testAnalysis(), "/out.mp4", nil)
	joined := strings.Join(args, " ")

	for _, want := range []string{"-hwaccel cuda", "-c:v hevc_nvenc", "-cq 23"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
	if strings.Contains(joined, "libx265") {
		t.Errorf("GPU args must not use libx265: %s", joined)
	}
}

func TestBuildArgs_AudioHandling(t *testing.T) {
	tests := []struct {
		name       string
		audioCodec string
		want       string
		notWant    string
	}{
		{"copy matching codec", "aac", "-c:a copy", "-b:a"},
		{"reencode other codec", "dts", "-c:a aac", "-c:a copy"},
		{"no audio", "none", "-an", "-c:a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			a := testAnalysis()
			a.AudioCodec = tt.audioCodec
			joined := strings.Join(BuildArgs(&cfg, a, "/out.mp4", nil), " ")
			if !strings.Contains(joined, tt.want) {
				t.Errorf("args missing %q: %s", tt.want, joined)
			}
			if strings.Contains(joined, tt.notWant) {
				t.Errorf("args must not contain %q: %s", tt.notWant, joined)
			}
		})
	}
}

func TestHardwareEncoder(t *testing.T) {
	tests := []struct {
		gpuType config.GPUType
		want    string
	}{
		{config.GPUNvidia, "hevc_nvenc"},
		{config.GPUAmd, "hevc_amf"},
		{config.GPUIntel, "hevc_qsv"},
		{config.GPUVideoToolbox, "hevc_videotoolbox"},
		{"unknown", "libx265"},
	}
	for _, tt := range tests {
		if got := HardwareEncoder(tt.gpuType); got != tt.want {
			t.Errorf("HardwareEncoder(%q) = %q, want %q", tt.gpuType, got, tt.want)
		}
	}
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		name   string
		suffix string
		outDir string
		want   string
	}{
		{"in-place uses temp name", "", "", "/media/movie_tmp.mp4"},
		{"suffix keeps original", "_hevc", "", "/media/movie_hevc.mp4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.OutputSuffix = tt.suffix
			cfg.OutputDir = tt.outDir
			e := New(&cfg, nil)
			got, err := e.outputPath("/media/movie.mkv")
			if err != nil {
				t.Fatalf("outputPath() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("outputPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOutputPath_OutputDir(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OutputDir = t.TempDir()
	e := New(&cfg, nil)
	got, err := e.outputPath("/media/movie.mkv")
	if err != nil {
		t.Fatalf("outputPath() error = %v", err)
	}
	if want := filepath.Join(cfg.OutputDir, "movie.mp4"); got != want {
		t.Errorf("outputPath() = %q, want %q", got, want)
	}
}
