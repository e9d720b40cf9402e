package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/algo-stream/dsp/core"
	"github.com/cwbudde/algo-stream/dsp/effects"
	"github.com/cwbudde/algo-stream/dsp/granular"
	"github.com/cwbudde/algo-stream/dsp/stream"
	"github.com/cwbudde/algo-stream/dsp/window"
)

// fileConfig is the YAML pipeline description. All sections are optional;
// omitted stages are disabled and omitted geometry falls back to the
// engine defaults.
type fileConfig struct {
	FrameSize int    `yaml:"frame_size"`
	Hop       int    `yaml:"hop"`
	BlockSize int    `yaml:"block_size"`
	Window    string `yaml:"window"`

	PitchSemitones float64 `yaml:"pitch_semitones"`
	PitchRatio     float64 `yaml:"pitch_ratio"`
	StretchRatio   float64 `yaml:"stretch_ratio"`

	Granular *granularConfig `yaml:"granular"`
	Effects  *effectsConfig  `yaml:"effects"`
}

type granularConfig struct {
	GrainMs     float64 `yaml:"grain_ms"`
	DensityHz   float64 `yaml:"density_hz"`
	JitterMs    float64 `yaml:"jitter_ms"`
	Seed        int64   `yaml:"seed"`
	PitchRatio  float64 `yaml:"pitch_ratio"`
	PitchJitter float64 `yaml:"pitch_jitter"`
	Mix         float64 `yaml:"mix"`
}

type effectsConfig struct {
	Order      []string          `yaml:"order"`
	Compressor *compressorConfig `yaml:"compressor"`
	Shelf      *shelfConfig      `yaml:"shelf"`
	Reverb     *reverbConfig     `yaml:"reverb"`
}

// Numeric fields are pointers so a written zero (threshold_db: 0) is
// distinguishable from an omitted key falling back to the default.
type compressorConfig struct {
	ThresholdDB *float64 `yaml:"threshold_db"`
	Ratio       *float64 `yaml:"ratio"`
	KneeDB      *float64 `yaml:"knee_db"`
	AttackMs    *float64 `yaml:"attack_ms"`
	ReleaseMs   *float64 `yaml:"release_ms"`
	MakeupDB    *float64 `yaml:"makeup_db"`
	AutoMakeup  bool     `yaml:"auto_makeup"`
}

type shelfConfig struct {
	Type   string  `yaml:"type"`
	FreqHz float64 `yaml:"freq_hz"`
	GainDB float64 `yaml:"gain_db"`
	Q      float64 `yaml:"q"`
}

type reverbConfig struct {
	DecaySeconds float64  `yaml:"decay_seconds"`
	Wet          *float64 `yaml:"wet"`
	Dry          *float64 `yaml:"dry"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return &cfg, nil
}

// buildStreamConfig maps the file config onto a session config for the
// given audio geometry.
func (fc *fileConfig) buildStreamConfig(sampleRate float64, channels int) (stream.Config, error) {
	cfg := stream.DefaultConfig(sampleRate, channels)

	if fc.FrameSize != 0 {
		cfg.FrameSize = fc.FrameSize
		cfg.Hop = fc.FrameSize / 4
	}

	if fc.Hop != 0 {
		cfg.Hop = fc.Hop
	}

	if fc.BlockSize != 0 {
		cfg.BlockSize = fc.BlockSize
	}

	if fc.Window != "" {
		t, err := window.ParseType(fc.Window)
		if err != nil {
			return stream.Config{}, err
		}

		cfg.Window = t
	}

	switch {
	case fc.PitchRatio != 0:
		cfg.PitchRatio = fc.PitchRatio
	case fc.PitchSemitones != 0:
		cfg.PitchRatio = core.SemitonesToRatio(fc.PitchSemitones)
	}

	cfg.StretchRatio = fc.StretchRatio

	if g := fc.Granular; g != nil {
		cfg.Granular = &granular.Config{
			SampleRate:    sampleRate,
			GrainLengthMs: g.GrainMs,
			DensityHz:     g.DensityHz,
			JitterMs:      g.JitterMs,
			Seed:          g.Seed,
			PitchRatio:    g.PitchRatio,
			PitchJitter:   g.PitchJitter,
			Mix:           g.Mix,
		}
	}

	if fx := fc.Effects; fx != nil {
		if err := fx.apply(&cfg); err != nil {
			return stream.Config{}, err
		}
	}

	return cfg, nil
}

func (fx *effectsConfig) apply(cfg *stream.Config) error {
	if c := fx.Compressor; c != nil {
		params := effects.DefaultCompressorParams()

		if c.ThresholdDB != nil {
			params.ThresholdDB = *c.ThresholdDB
		}

		if c.Ratio != nil {
			params.Ratio = *c.Ratio
		}

		if c.KneeDB != nil {
			params.KneeDB = *c.KneeDB
		}

		if c.AttackMs != nil {
			params.AttackMs = *c.AttackMs
		}

		if c.ReleaseMs != nil {
			params.ReleaseMs = *c.ReleaseMs
		}

		if c.MakeupDB != nil {
			params.MakeupDB = *c.MakeupDB
		}

		params.AutoMakeup = c.AutoMakeup

		cfg.Compressor = &params
	}

	if s := fx.Shelf; s != nil {
		shelfType, err := effects.ParseShelfType(s.Type)
		if err != nil {
			return err
		}

		cfg.Shelf = &effects.ShelfParams{
			Type:   shelfType,
			FreqHz: s.FreqHz,
			GainDB: s.GainDB,
			Q:      s.Q,
		}
	}

	if r := fx.Reverb; r != nil {
		params := effects.DefaultReverbParams()

		if r.Wet != nil {
			params.Wet = *r.Wet
		}

		if r.Dry != nil {
			params.Dry = *r.Dry
		}

		cfg.Reverb = &stream.ReverbConfig{
			DecaySeconds: r.DecaySeconds,
			Params:       params,
		}
	}

	if len(fx.Order) > 0 {
		order := make([]effects.StageKind, len(fx.Order))

		for i, name := range fx.Order {
			kind, err := effects.ParseStageKind(name)
			if err != nil {
				return err
			}

			order[i] = kind
		}

		cfg.EffectOrder = order
	}

	return nil
}
