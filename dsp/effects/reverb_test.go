package effects

import (
	"math"
	"testing"

	"github.com/cwbudde/algo-stream/dsp/core"
	"github.com/cwbudde/algo-stream/internal/testutil"
)

// naiveConvolve is the direct-form reference the streaming convolver must
// match.
func naiveConvolve(signal, kernel []float64) []float64 {
	out := make([]float64, len(signal)+len(kernel)-1)

	for i, s := range signal {
		for j, k := range kernel {
			out[i+j] += s * k
		}
	}

	return out
}

func TestBlockConvolverMatchesDirectConvolution(t *testing.T) {
	const (
		blockSize = 128
		blocks    = 4
	)

	kernel := testutil.DeterministicNoise(21, 0.5, 96)
	input := testutil.DeterministicNoise(22, 0.8, blockSize*blocks)

	bc, err := newBlockConvolver(kernel, blockSize)
	if err != nil {
		t.Fatalf("newBlockConvolver: %v", err)
	}

	want := naiveConvolve(input, kernel)

	out := make([]float64, blockSize)

	for b := 0; b < blocks; b++ {
		if err := bc.processTo(out, input[b*blockSize:(b+1)*blockSize]); err != nil {
			t.Fatalf("processTo block %d: %v", b, err)
		}

		// Every block, including those after a tail carry, must equal the
		// corresponding slice of the one-shot convolution.
		testutil.RequireSliceNearlyEqual(t, out, want[b*blockSize:(b+1)*blockSize], 1e-9)
	}
}

func TestBlockConvolverBoundaryContinuity(t *testing.T) {
	// Processing one signal as two blocks must equal processing state reset
	// plus the full tail bookkeeping: compare against a fresh convolver fed
	// the same blocks after a Reset.
	const blockSize = 256

	kernel := testutil.DeterministicNoise(31, 0.4, 200)
	input := testutil.DeterministicNoise(32, 0.8, 2*blockSize)

	bc, err := newBlockConvolver(kernel, blockSize)
	if err != nil {
		t.Fatalf("newBlockConvolver: %v", err)
	}

	first := make([]float64, blockSize)
	second := make([]float64, blockSize)

	if err := bc.processTo(first, input[:blockSize]); err != nil {
		t.Fatalf("processTo: %v", err)
	}

	if err := bc.processTo(second, input[blockSize:]); err != nil {
		t.Fatalf("processTo: %v", err)
	}

	want := naiveConvolve(input, kernel)
	testutil.RequireSliceNearlyEqual(t, first, want[:blockSize], 1e-9)
	testutil.RequireSliceNearlyEqual(t, second, want[blockSize:2*blockSize], 1e-9)
}

func TestReverbDryOnlyIsIdentity(t *testing.T) {
	const blockSize = 128

	impulse := testutil.DeterministicNoise(41, 0.3, 64)

	reverb, err := NewConvolutionReverb(impulse, blockSize, 1, ReverbParams{Wet: 0, Dry: 1})
	if err != nil {
		t.Fatalf("NewConvolutionReverb: %v", err)
	}

	input := testutil.DeterministicNoise(42, 0.8, blockSize)
	buf := append([]float64(nil), input...)

	block := core.FromMono(buf, 44100)
	if err := reverb.ProcessBlock(block); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}

	testutil.RequireSliceNearlyEqual(t, buf, input, 1e-12)
}

func TestReverbUnitImpulseIRPassesSignal(t *testing.T) {
	const blockSize = 128

	// IR = unit impulse: wet path equals the input exactly.
	impulse := testutil.Impulse(64, 0)

	reverb, err := NewConvolutionReverb(impulse, blockSize, 1, ReverbParams{Wet: 1, Dry: 0})
	if err != nil {
		t.Fatalf("NewConvolutionReverb: %v", err)
	}

	input := testutil.DeterministicNoise(43, 0.8, blockSize)
	buf := append([]float64(nil), input...)

	block := core.FromMono(buf, 44100)
	if err := reverb.ProcessBlock(block); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}

	testutil.RequireSliceNearlyEqual(t, buf, input, 1e-9)
}

func TestReverbBlockSizeValidation(t *testing.T) {
	impulse := testutil.Impulse(64, 0)

	reverb, err := NewConvolutionReverb(impulse, 128, 1, DefaultReverbParams())
	if err != nil {
		t.Fatalf("NewConvolutionReverb: %v", err)
	}

	block := core.FromMono(make([]float64, 64), 44100)
	if err := reverb.ProcessBlock(block); err == nil {
		t.Error("expected block size mismatch error")
	}
}

func TestReverbParamValidation(t *testing.T) {
	impulse := testutil.Impulse(64, 0)

	if _, err := NewConvolutionReverb(nil, 128, 1, DefaultReverbParams()); err == nil {
		t.Error("expected error for empty impulse response")
	}

	if _, err := NewConvolutionReverb(impulse, 128, 0, DefaultReverbParams()); err == nil {
		t.Error("expected error for zero channels")
	}

	if _, err := NewConvolutionReverb(impulse, 128, 1, ReverbParams{Wet: 2, Dry: 1}); err == nil {
		t.Error("expected error for wet > 1")
	}

	if _, err := NewConvolutionReverb(impulse, 128, 1, ReverbParams{Wet: 0.5, Dry: math.NaN()}); err == nil {
		t.Error("expected error for NaN dry")
	}
}

func TestSynthesizeImpulse(t *testing.T) {
	const (
		sampleRate = 8000.0
		decay      = 0.5
	)

	impulse, err := SynthesizeImpulse(sampleRate, decay)
	if err != nil {
		t.Fatalf("SynthesizeImpulse: %v", err)
	}

	if len(impulse) != int(sampleRate*decay) {
		t.Errorf("impulse length = %d, want %d", len(impulse), int(sampleRate*decay))
	}

	if impulse[0] != 1 {
		t.Errorf("direct tap = %v, want 1", impulse[0])
	}

	// Tail taps must follow the exp(-3t/decay) envelope.
	for i := 1; i < len(impulse); i++ {
		tap := math.Abs(impulse[i])
		env := math.Exp(-3 * (float64(i) / sampleRate) / decay)

		if tap > env*0.05+1e-12 {
			t.Fatalf("tap %d exceeds decay envelope: %v > %v", i, tap, env*0.05)
		}
	}

	if _, err := SynthesizeImpulse(0, decay); err == nil {
		t.Error("expected error for zero sample rate")
	}

	if _, err := SynthesizeImpulse(sampleRate, 0); err == nil {
		t.Error("expected error for zero decay")
	}
}

func TestSynthesizeImpulseDeterministic(t *testing.T) {
	a, err := SynthesizeImpulse(44100, 1.2)
	if err != nil {
		t.Fatalf("SynthesizeImpulse: %v", err)
	}

	b, err := SynthesizeImpulse(44100, 1.2)
	if err != nil {
		t.Fatalf("SynthesizeImpulse: %v", err)
	}

	testutil.RequireSliceNearlyEqual(t, b, a, 0)
}
