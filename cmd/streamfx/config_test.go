package main

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return path
}

func TestExplicitZeroValuesSurvive(t *testing.T) {
	path := writeConfig(t, `
effects:
  compressor:
    threshold_db: 0
    ratio: 8
  reverb:
    decay_seconds: 0.3
    wet: 1
    dry: 0
`)

	fc, err := loadFileConfig(path)
	if err != nil {
		t.Fatalf("loadFileConfig: %v", err)
	}

	cfg, err := fc.buildStreamConfig(44100, 1)
	if err != nil {
		t.Fatalf("buildStreamConfig: %v", err)
	}

	// threshold_db: 0 is a written value, not an omission falling back to
	// the -20 dB default.
	if got := cfg.Compressor.ThresholdDB; got != 0 {
		t.Errorf("ThresholdDB = %v, want 0", got)
	}

	if got := cfg.Compressor.Ratio; got != 8 {
		t.Errorf("Ratio = %v, want 8", got)
	}

	// dry: 0 selects a fully wet mix, not the default 1.0 dry level.
	if got := cfg.Reverb.Params.Dry; got != 0 {
		t.Errorf("reverb Dry = %v, want 0", got)
	}

	if got := cfg.Reverb.Params.Wet; got != 1 {
		t.Errorf("reverb Wet = %v, want 1", got)
	}
}

func TestOmittedKeysFallBackToDefaults(t *testing.T) {
	path := writeConfig(t, `
effects:
  compressor:
    ratio: 8
  reverb:
    decay_seconds: 0.3
`)

	fc, err := loadFileConfig(path)
	if err != nil {
		t.Fatalf("loadFileConfig: %v", err)
	}

	cfg, err := fc.buildStreamConfig(44100, 1)
	if err != nil {
		t.Fatalf("buildStreamConfig: %v", err)
	}

	if got := cfg.Compressor.ThresholdDB; got != -20 {
		t.Errorf("omitted ThresholdDB = %v, want default -20", got)
	}

	if got := cfg.Compressor.AttackMs; got != 10 {
		t.Errorf("omitted AttackMs = %v, want default 10", got)
	}

	if got := cfg.Reverb.Params.Wet; got != 0.5 {
		t.Errorf("omitted Wet = %v, want default 0.5", got)
	}

	if got := cfg.Reverb.Params.Dry; got != 1 {
		t.Errorf("omitted Dry = %v, want default 1", got)
	}
}

func TestPitchSemitonesMapping(t *testing.T) {
	fc := &fileConfig{PitchSemitones: 12}

	cfg, err := fc.buildStreamConfig(44100, 1)
	if err != nil {
		t.Fatalf("buildStreamConfig: %v", err)
	}

	if math.Abs(cfg.PitchRatio-2) > 1e-12 {
		t.Errorf("PitchRatio = %v, want 2", cfg.PitchRatio)
	}
}
