package stream

import (
	"math"
	"testing"

	"github.com/cwbudde/algo-stream/dsp/core"
	"github.com/cwbudde/algo-stream/dsp/effects"
	"github.com/cwbudde/algo-stream/dsp/granular"
	"github.com/cwbudde/algo-stream/dsp/window"
	"github.com/cwbudde/algo-stream/internal/testutil"
)

func TestNewPipelineValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }},
		{"zero channels", func(c *Config) { c.Channels = 0 }},
		{"negative block size", func(c *Config) { c.BlockSize = -1 }},
		{"bad window", func(c *Config) { c.Window = window.Type(99) }},
		{"hop above frame", func(c *Config) { c.Hop = 4096; c.PitchRatio = 2 }},
		{"non power-of-two frame", func(c *Config) { c.FrameSize = 1000; c.Hop = 250; c.PitchRatio = 2 }},
		{"reverb without impulse", func(c *Config) { c.Reverb = &ReverbConfig{} }},
		{"bad pitch ratio", func(c *Config) { c.PitchRatio = -1 }},
		{"bad granular config", func(c *Config) {
			c.Granular = &granular.Config{GrainLengthMs: -1, DensityHz: 10}
		}},
		{"order names unconfigured stage", func(c *Config) {
			c.EffectOrder = []effects.StageKind{effects.KindReverb}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(44100, 2)
			tt.mutate(&cfg)

			if _, err := NewPipeline(cfg); err == nil {
				t.Error("expected config validation error")
			}
		})
	}

	if _, err := NewPipeline(DefaultConfig(44100, 2)); err != nil {
		t.Errorf("default config rejected: %v", err)
	}
}

func TestPipelinePassthroughWithoutStages(t *testing.T) {
	cfg := DefaultConfig(44100, 1)
	cfg.BlockSize = 256

	pipeline, err := NewPipeline(cfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	if got := pipeline.Latency(); got != 0 {
		t.Errorf("Latency() = %d, want 0 without spectral stages", got)
	}

	in, _ := core.NewBlock(1, 256, 44100)
	out, _ := core.NewBlock(1, 256, 44100)

	copy(in.Samples[0], testutil.DeterministicNoise(71, 0.8, 256))

	if err := pipeline.ProcessBlock(in, out); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}

	testutil.RequireSliceNearlyEqual(t, out.Samples[0], in.Samples[0], 0)
}

func TestPipelineBlockGeometryValidation(t *testing.T) {
	cfg := DefaultConfig(44100, 2)

	pipeline, err := NewPipeline(cfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	good, _ := core.NewBlock(2, cfg.BlockSize, 44100)
	badChannels, _ := core.NewBlock(1, cfg.BlockSize, 44100)
	badLength, _ := core.NewBlock(2, 100, 44100)

	if err := pipeline.ProcessBlock(badChannels, good); err == nil {
		t.Error("expected channel mismatch error")
	}

	if err := pipeline.ProcessBlock(good, badLength); err == nil {
		t.Error("expected length mismatch error")
	}
}

func TestPipelineSpectralLatency(t *testing.T) {
	cfg := DefaultConfig(44100, 1)
	cfg.PitchRatio = 2

	pipeline, err := NewPipeline(cfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	if got, want := pipeline.Latency(), cfg.FrameSize-cfg.Hop; got != want {
		t.Errorf("Latency() = %d, want %d", got, want)
	}
}

func TestProcessBufferIdentityPitch(t *testing.T) {
	cfg := DefaultConfig(44100, 1)
	cfg.FrameSize = 1024
	cfg.Hop = 256
	cfg.PitchRatio = 1

	pipeline, err := NewPipeline(cfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	input := testutil.DeterministicSine(440, 44100, 0.5, 16384)

	out, err := pipeline.ProcessBuffer([][]float64{input})
	if err != nil {
		t.Fatalf("ProcessBuffer: %v", err)
	}

	if len(out[0]) != len(input) {
		t.Fatalf("output length = %d, want %d", len(out[0]), len(input))
	}

	testutil.RequireSliceNearlyEqual(t, out[0][1:], input[1:], 1e-6)
}

func TestProcessBufferPitchShift(t *testing.T) {
	const sampleRate = 44100.0

	cfg := DefaultConfig(sampleRate, 1)
	cfg.PitchRatio = 2

	pipeline, err := NewPipeline(cfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	input := testutil.DeterministicSine(440, sampleRate, 0.5, 44100)

	out, err := pipeline.ProcessBuffer([][]float64{input})
	if err != nil {
		t.Fatalf("ProcessBuffer: %v", err)
	}

	if len(out[0]) != len(input) {
		t.Fatalf("output length = %d, want %d", len(out[0]), len(input))
	}

	got := testutil.DominantFrequency(out[0][8192:8192+16384], sampleRate)
	if math.Abs(got-880) > 20 {
		t.Errorf("dominant frequency = %.1f Hz, want ~880 Hz", got)
	}
}

func TestProcessBufferStretchLength(t *testing.T) {
	const sampleRate = 16000.0

	cfg := DefaultConfig(sampleRate, 1)
	cfg.FrameSize = 1024
	cfg.Hop = 256
	cfg.StretchRatio = 0.5

	pipeline, err := NewPipeline(cfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	input := testutil.DeterministicSine(440, sampleRate, 0.5, 32000)

	out, err := pipeline.ProcessBuffer([][]float64{input})
	if err != nil {
		t.Fatalf("ProcessBuffer: %v", err)
	}

	// Ratio 0.5 pins the output to twice the input length.
	if got, want := len(out[0]), 2*len(input); got != want {
		t.Errorf("output length = %d, want %d", got, want)
	}

	testutil.RequireFinite(t, out[0])
}

func TestProcessBufferStereoEffectsChain(t *testing.T) {
	cfg := DefaultConfig(44100, 2)
	cfg.BlockSize = 512

	comp := effects.DefaultCompressorParams()
	cfg.Compressor = &comp
	cfg.Shelf = &effects.ShelfParams{Type: effects.LowShelf, FreqHz: 300, GainDB: 3}
	cfg.Reverb = &ReverbConfig{DecaySeconds: 0.2, Params: effects.DefaultReverbParams()}

	pipeline, err := NewPipeline(cfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	left := testutil.DeterministicNoise(81, 0.7, 8192)
	right := testutil.DeterministicNoise(82, 0.7, 8192)

	out, err := pipeline.ProcessBuffer([][]float64{left, right})
	if err != nil {
		t.Fatalf("ProcessBuffer: %v", err)
	}

	if len(out) != 2 {
		t.Fatalf("channel count = %d, want 2", len(out))
	}

	for ch := range out {
		if len(out[ch]) != 8192 {
			t.Errorf("channel %d length = %d, want 8192", ch, len(out[ch]))
		}

		testutil.RequireFinite(t, out[ch])
	}

	diff, err := testutil.MaxAbsDiff(out[0], left)
	if err != nil {
		t.Fatal(err)
	}

	if diff == 0 {
		t.Error("effects chain should alter the signal")
	}
}

func TestCorruptBlockDoesNotPoisonSpectralState(t *testing.T) {
	const blockSize = 512

	cfg := DefaultConfig(44100, 1)
	cfg.BlockSize = blockSize
	cfg.PitchRatio = 2

	pipeline, err := NewPipeline(cfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	in, _ := core.NewBlock(1, blockSize, 44100)
	out, _ := core.NewBlock(1, blockSize, 44100)

	// One corrupt block: the NaN must be zeroed at the pipeline entry, not
	// fed into the analyzer and phase accumulators.
	copy(in.Samples[0], testutil.DeterministicSine(440, 44100, 0.5, blockSize))
	in.Samples[0][100] = math.NaN()

	if err := pipeline.ProcessBlock(in, out); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}

	if got := pipeline.Scrubbed(); got != 1 {
		t.Errorf("Scrubbed() = %d, want 1", got)
	}

	// Every clean block after the corrupt one must come out finite.
	sine := testutil.DeterministicSine(440, 44100, 0.5, 200*blockSize)

	for b := 0; b < 200; b++ {
		copy(in.Samples[0], sine[b*blockSize:(b+1)*blockSize])

		if err := pipeline.ProcessBlock(in, out); err != nil {
			t.Fatalf("ProcessBlock %d: %v", b, err)
		}

		testutil.RequireFinite(t, out.Samples[0])
	}
}

func TestStreamingStretchBacklogStaysBounded(t *testing.T) {
	const blockSize = 256

	cfg := DefaultConfig(44100, 1)
	cfg.BlockSize = blockSize
	cfg.FrameSize = 1024
	cfg.Hop = 256
	cfg.StretchRatio = 0.5

	pipeline, err := NewPipeline(cfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	limit := 4*blockSize + cfg.FrameSize

	in, _ := core.NewBlock(1, blockSize, 44100)
	out, _ := core.NewBlock(1, blockSize, 44100)

	sine := testutil.DeterministicSine(440, 44100, 0.5, 200*blockSize)

	// Ratio 0.5 produces two blocks of output per input block; without a
	// backlog cap the fifo would grow by a block every call.
	for b := 0; b < 200; b++ {
		copy(in.Samples[0], sine[b*blockSize:(b+1)*blockSize])

		if err := pipeline.ProcessBlock(in, out); err != nil {
			t.Fatalf("ProcessBlock %d: %v", b, err)
		}

		if got := pipeline.Buffered(0); got > limit {
			t.Fatalf("block %d: backlog %d exceeds cap %d", b, got, limit)
		}

		testutil.RequireFinite(t, out.Samples[0])
	}

	if pipeline.Dropped() == 0 {
		t.Error("sustained over-production should report dropped samples")
	}
}

func TestPipelineGranularDeterminism(t *testing.T) {
	build := func() *Pipeline {
		cfg := DefaultConfig(44100, 1)
		cfg.Granular = &granular.Config{
			GrainLengthMs: 40,
			DensityHz:     25,
			JitterMs:      4,
			Seed:          77,
		}

		pipeline, err := NewPipeline(cfg)
		if err != nil {
			t.Fatalf("NewPipeline: %v", err)
		}

		return pipeline
	}

	input := testutil.DeterministicNoise(91, 0.6, 16384)

	a, err := build().ProcessBuffer([][]float64{input})
	if err != nil {
		t.Fatalf("ProcessBuffer: %v", err)
	}

	b, err := build().ProcessBuffer([][]float64{input})
	if err != nil {
		t.Fatalf("ProcessBuffer: %v", err)
	}

	testutil.RequireSliceNearlyEqual(t, b[0], a[0], 0)
}

func TestPipelineReset(t *testing.T) {
	cfg := DefaultConfig(44100, 1)
	cfg.PitchRatio = 1.5

	pipeline, err := NewPipeline(cfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	input := testutil.DeterministicSine(440, 44100, 0.5, 16384)

	first, err := pipeline.ProcessBuffer([][]float64{input})
	if err != nil {
		t.Fatalf("ProcessBuffer: %v", err)
	}

	pipeline.Reset()

	if pipeline.Blocks() != 0 {
		t.Errorf("Blocks() after Reset = %d, want 0", pipeline.Blocks())
	}

	second, err := pipeline.ProcessBuffer([][]float64{input})
	if err != nil {
		t.Fatalf("ProcessBuffer: %v", err)
	}

	testutil.RequireSliceNearlyEqual(t, second[0], first[0], 0)
}
