package config

import (
	"path/filepath"
	"testing"
)

func TestValidate_CRF(t *testing.T) {
	tests := []struct {
		name    string
		crf     int
		wantErr bool
	}{
		{"zero is valid", 0, false},
		{"default is valid", 23, false},
		{"max is valid", 51, false},
		{"negative is invalid", -1, true},
		{"above max is invalid", 52, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.CRF = tt.crf
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_Speed(t *testing.T) {
	tests := []struct {
		name    string
		speed   string
		wantErr bool
	}{
		{"medium is valid", "medium", false},
		{"veryslow is valid", "veryslow", false},
		{"empty is invalid", "", true},
		{"unknown is invalid", "turbo", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Speed = tt.speed
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_GPUType(t *testing.T) {
	tests := []struct {
		name    string
		gpu     bool
		gpuType GPUType
		wantErr bool
	}{
		{"nvidia is valid", true, GPUNvidia, false},
		{"videotoolbox is valid", true, GPUVideoToolbox, false},
		{"unknown is invalid when gpu on", true, "voodoo", true},
		{"unknown is ignored when gpu off", false, "voodoo", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.GPU = tt.gpu
			cfg.GPUType = tt.gpuType
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_Jobs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Jobs = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted jobs=0")
	}
}

func TestNormalizeAudioBitrate(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"bare number", "192", "192k", false},
		{"lowercase k", "192k", "192k", false},
		{"uppercase K", "256K", "256k", false},
		{"kbps suffix", "128kbps", "128k", false},
		{"whitespace", "  192k ", "192k", false},
		{"empty", "", "", true},
		{"zero", "0", "", true},
		{"garbage", "lots", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeAudioBitrate(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalizeAudioBitrate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("normalizeAudioBitrate(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestApplyPreset(t *testing.T) {
	tests := []struct {
		preset    Preset
		wantCRF   int
		wantSpeed string
	}{
		{PresetFast, 28, "veryfast"},
		{PresetBalanced, 23, "medium"},
		{PresetQuality, 20, "slow"},
		{PresetArchive, 18, "veryslow"},
	}
	for _, tt := range tests {
		t.Run(string(tt.preset), func(t *testing.T) {
			cfg := DefaultConfig()
			if err := cfg.ApplyPreset(tt.preset); err != nil {
				t.Fatalf("ApplyPreset(%q) error = %v", tt.preset, err)
			}
			if cfg.CRF != tt.wantCRF || cfg.Speed != tt.wantSpeed {
				t.Errorf("ApplyPreset(%q) = CRF %d speed %q, want CRF %d speed %q",
					tt.preset, cfg.CRF, cfg.Speed, tt.wantCRF, tt.wantSpeed)
			}
		})
	}

	cfg := DefaultConfig()
	if err := cfg.ApplyPreset("ludicrous"); err == nil {
		t.Error("ApplyPreset accepted unknown preset")
	}
}

func TestLoad_FileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	base := DefaultConfig()
	base.CRF = 30
	base.Jobs = 7
	if err := base.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CRF != 30 || cfg.Jobs != 7 {
		t.Errorf("Load() = CRF %d jobs %d, want CRF 30 jobs 7", cfg.CRF, cfg.Jobs)
	}
	// Untouched fields keep their defaults.
	if cfg.TargetVideoCodec != "hevc" {
		t.Errorf("Load() target video codec = %q, want hevc", cfg.TargetVideoCodec)
	}
}

func TestLoad_PresetOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	base := DefaultConfig()
	base.CRF = 30
	if err := base.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	cfg, err := Load(path, PresetArchive)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CRF != 18 || cfg.Speed != "veryslow" {
		t.Errorf("Load() with archive preset = CRF %d speed %q, want 18/veryslow", cfg.CRF, cfg.Speed)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), ""); err == nil {
		t.Error("Load() accepted a missing explicit config path")
	}
}

func TestPhysicalCores(t *testing.T) {
	if PhysicalCores() < 1 {
		t.Errorf("PhysicalCores() = %d, want >= 1", PhysicalCores())
	}
}
