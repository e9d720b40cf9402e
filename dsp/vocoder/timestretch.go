package vocoder

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-stream/dsp/framebuf"
	"github.com/cwbudde/algo-stream/dsp/stft"
	"github.com/cwbudde/algo-stream/dsp/window"
)

// TimeStretcher resamples a sequence of spectral frames along time by a
// stretch ratio while preserving pitch. For output frame k the magnitudes of
// the two analysis frames nearest input time k*ratio are linearly
// interpolated, and output phase is synthesized from accumulated
// instantaneous frequency rather than interpolated raw phase.
//
// Ratios below 1 lengthen the signal (0.5 doubles the duration), ratios
// above 1 shorten it.
//
// A TimeStretcher is single-streamed and not safe for concurrent use.
type TimeStretcher struct {
	state *analysisState
	acc   *PhaseAccumulator
	ratio float64

	// Sliding pair of analyzed input frames. curr holds frame analyzed
	// index count-1, prev the one before it.
	prevMag  []float64
	currMag  []float64
	prevFreq []float64
	currFreq []float64
	count    int

	// nextPos is the fractional input-frame position of the next output
	// frame.
	nextPos float64

	interpMag  []float64
	interpFreq []float64
	outSpec    stft.Spectrum
}

// NewTimeStretcher creates a time stretcher for the given frame geometry.
// ratio 1.0 passes frames through untouched.
func NewTimeStretcher(frameSize, hop int, ratio float64) (*TimeStretcher, error) {
	if err := validateRatio(ratio); err != nil {
		return nil, err
	}

	state, err := newAnalysisState(frameSize, hop)
	if err != nil {
		return nil, err
	}

	bins := frameSize/2 + 1

	return &TimeStretcher{
		state:      state,
		acc:        NewPhaseAccumulator(bins),
		ratio:      clampRatio(ratio),
		prevMag:    make([]float64, bins),
		currMag:    make([]float64, bins),
		prevFreq:   make([]float64, bins),
		currFreq:   make([]float64, bins),
		interpMag:  make([]float64, bins),
		interpFreq: make([]float64, bins),
		outSpec:    make(stft.Spectrum, bins),
	}, nil
}

// Ratio returns the active stretch ratio.
func (t *TimeStretcher) Ratio() float64 { return t.ratio }

// SetRatio updates the stretch ratio. Values outside [0.25, 4] are accepted
// but produce audible artifacts.
func (t *TimeStretcher) SetRatio(ratio float64) error {
	if err := validateRatio(ratio); err != nil {
		return err
	}

	t.ratio = clampRatio(ratio)

	return nil
}

// Reset zeroes phase state and forgets buffered analysis frames. Call when
// seeking or restarting a stream discontinuously.
func (t *TimeStretcher) Reset() {
	t.acc.Reset()
	t.count = 0
	t.nextPos = 0
}

// ProcessFrame consumes one analyzed spectral frame and invokes emit for
// every output frame that becomes computable. Zero, one, or several output
// frames may be emitted per input frame depending on the ratio. The Spectrum
// passed to emit is reused between calls.
func (t *TimeStretcher) ProcessFrame(src stft.Spectrum, emit func(stft.Spectrum) error) error {
	bins := t.acc.Bins()
	if len(src) != bins {
		return fmt.Errorf("vocoder: spectrum must have %d bins: %d", bins, len(src))
	}

	if isIdentityRatio(t.ratio) {
		return emit(src)
	}

	t.state.analyze(t.acc, src)

	t.prevMag, t.currMag = t.currMag, t.prevMag
	t.prevFreq, t.currFreq = t.currFreq, t.prevFreq
	copy(t.currMag, t.state.mag)
	copy(t.currFreq, t.state.freq)
	t.count++

	if t.count < 2 {
		return nil
	}

	// Frames prev and curr cover input positions count-2 and count-1.
	lo := float64(t.count - 2)
	hi := float64(t.count - 1)

	out := t.outSpec

	for t.nextPos <= hi {
		if t.nextPos < lo {
			// Only reachable right after a ratio change; snap forward.
			t.nextPos = lo
		}

		frac := t.nextPos - lo

		for k := range t.interpMag {
			t.interpMag[k] = t.prevMag[k]*(1-frac) + t.currMag[k]*frac
			t.interpFreq[k] = t.prevFreq[k]*(1-frac) + t.currFreq[k]*frac
		}

		if err := t.synthesize(out); err != nil {
			return err
		}

		if err := emit(out); err != nil {
			return err
		}

		t.nextPos += t.ratio
	}

	return nil
}

// synthesize advances accumulated phase by the interpolated instantaneous
// frequency over one hop and renders the output spectrum.
func (t *TimeStretcher) synthesize(dst stft.Spectrum) error {
	hopF := float64(t.state.hop)

	peak := 0.0
	for _, m := range t.interpMag {
		if m > peak {
			peak = m
		}
	}

	silent := peak < silenceThreshold

	for k := range dst {
		if !silent {
			t.acc.sumPhase[k] += t.interpFreq[k] * hopF
		}

		dst[k] = complex(
			t.interpMag[k]*math.Cos(t.acc.sumPhase[k]),
			t.interpMag[k]*math.Sin(t.acc.sumPhase[k]),
		)
	}

	return nil
}

// Process time-stretches a whole buffer offline through the streaming path.
// The output length is approximately len(input)/ratio.
func (t *TimeStretcher) Process(input []float64, windowType window.Type) ([]float64, error) {
	if len(input) == 0 {
		return nil, nil
	}

	frameSize := t.state.frameSize
	hop := t.state.hop

	analyzer, err := framebuf.NewAnalyzer(frameSize, hop, windowType)
	if err != nil {
		return nil, err
	}

	synthesizer, err := framebuf.NewSynthesizer(frameSize, hop, windowType)
	if err != nil {
		return nil, err
	}

	transform, err := stft.New(frameSize)
	if err != nil {
		return nil, err
	}

	t.Reset()

	analyzer.Push(input)
	analyzer.Push(make([]float64, frameSize))

	frame := make([]float64, frameSize)
	timeFrame := make([]float64, frameSize)
	spec := transform.NewSpectrum()

	var out []float64

	render := func(stretched stft.Spectrum) error {
		if err := transform.Inverse(timeFrame, stretched); err != nil {
			return err
		}

		emitted, err := synthesizer.Pull(timeFrame)
		if err != nil {
			return err
		}

		out = append(out, emitted...)

		return nil
	}

	for {
		ok, err := analyzer.NextFrame(frame)
		if err != nil {
			return nil, err
		}

		if !ok {
			break
		}

		if err := transform.Forward(spec, frame); err != nil {
			return nil, err
		}

		if err := t.ProcessFrame(spec, render); err != nil {
			return nil, err
		}
	}

	return out, nil
}
