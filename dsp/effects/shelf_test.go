package effects

import (
	"math"
	"testing"

	"github.com/cwbudde/algo-stream/dsp/core"
	"github.com/cwbudde/algo-stream/internal/testutil"
)

func TestShelfParamValidation(t *testing.T) {
	const sampleRate = 44100

	tests := []struct {
		name   string
		params ShelfParams
	}{
		{"zero frequency", ShelfParams{Type: LowShelf, FreqHz: 0, GainDB: 6}},
		{"above nyquist", ShelfParams{Type: LowShelf, FreqHz: 30000, GainDB: 6}},
		{"negative Q", ShelfParams{Type: LowShelf, FreqHz: 200, GainDB: 6, Q: -1}},
		{"NaN gain", ShelfParams{Type: HighShelf, FreqHz: 200, GainDB: math.NaN()}},
		{"bad type", ShelfParams{Type: ShelfType(9), FreqHz: 200}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewShelfEQ(sampleRate, 1, tt.params); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if _, err := NewShelfEQ(sampleRate, 1, DefaultShelfParams()); err != nil {
		t.Errorf("default params rejected: %v", err)
	}
}

func TestLowShelfDCGain(t *testing.T) {
	const (
		sampleRate = 44100.0
		gainDB     = 6.0
	)

	eq, err := NewShelfEQ(sampleRate, 1, ShelfParams{Type: LowShelf, FreqHz: 500, GainDB: gainDB})
	if err != nil {
		t.Fatalf("NewShelfEQ: %v", err)
	}

	// DC sits deep in the boosted band: settled output = input * 10^(6/20).
	var out float64
	for i := 0; i < 44100; i++ {
		out = eq.ProcessSample(1)
	}

	want := core.DBToLinear(gainDB)
	if math.Abs(out-want) > 1e-3 {
		t.Errorf("DC gain = %v, want %v", out, want)
	}
}

func TestHighShelfLeavesDCAlone(t *testing.T) {
	eq, err := NewShelfEQ(44100, 1, ShelfParams{Type: HighShelf, FreqHz: 2000, GainDB: 12})
	if err != nil {
		t.Fatalf("NewShelfEQ: %v", err)
	}

	var out float64
	for i := 0; i < 44100; i++ {
		out = eq.ProcessSample(1)
	}

	if math.Abs(out-1) > 1e-3 {
		t.Errorf("DC gain = %v, want 1", out)
	}
}

func TestShelfZeroGainIsTransparent(t *testing.T) {
	eq, err := NewShelfEQ(44100, 1, ShelfParams{Type: LowShelf, FreqHz: 500, GainDB: 0})
	if err != nil {
		t.Fatalf("NewShelfEQ: %v", err)
	}

	input := testutil.DeterministicNoise(51, 0.8, 4096)

	for i, v := range input {
		got := eq.ProcessSample(v)
		if math.Abs(got-v) > 1e-9 {
			t.Fatalf("sample %d: %v, want %v", i, got, v)
		}
	}
}

func TestShelfStatePersistsAcrossBlocks(t *testing.T) {
	params := ShelfParams{Type: LowShelf, FreqHz: 300, GainDB: 9}

	whole, err := NewShelfEQ(44100, 1, params)
	if err != nil {
		t.Fatalf("NewShelfEQ: %v", err)
	}

	split, err := NewShelfEQ(44100, 1, params)
	if err != nil {
		t.Fatalf("NewShelfEQ: %v", err)
	}

	input := testutil.DeterministicNoise(52, 0.8, 1024)

	wholeBuf := append([]float64(nil), input...)
	if err := whole.ProcessBlock(core.FromMono(wholeBuf, 44100)); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}

	splitBuf := append([]float64(nil), input...)
	if err := split.ProcessBlock(core.FromMono(splitBuf[:512], 44100)); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}

	if err := split.ProcessBlock(core.FromMono(splitBuf[512:], 44100)); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}

	// One call and two half calls must agree exactly at the seam.
	testutil.RequireSliceNearlyEqual(t, splitBuf, wholeBuf, 1e-12)
}

func TestShelfResetClearsState(t *testing.T) {
	params := ShelfParams{Type: LowShelf, FreqHz: 300, GainDB: 9}

	eq, err := NewShelfEQ(44100, 1, params)
	if err != nil {
		t.Fatalf("NewShelfEQ: %v", err)
	}

	for i := 0; i < 100; i++ {
		eq.ProcessSample(0.7)
	}

	eq.Reset()

	fresh, _ := NewShelfEQ(44100, 1, params)

	if got, want := eq.ProcessSample(0.5), fresh.ProcessSample(0.5); got != want {
		t.Errorf("reset filter output %v, fresh %v", got, want)
	}
}

func TestParseShelfType(t *testing.T) {
	for _, tt := range []struct {
		name string
		want ShelfType
	}{
		{"lowshelf", LowShelf},
		{"low", LowShelf},
		{"highshelf", HighShelf},
		{"high", HighShelf},
	} {
		got, err := ParseShelfType(tt.name)
		if err != nil {
			t.Fatalf("ParseShelfType(%q): %v", tt.name, err)
		}

		if got != tt.want {
			t.Errorf("ParseShelfType(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}

	if _, err := ParseShelfType("bandpass"); err == nil {
		t.Error("expected error for unknown shelf type")
	}
}
