package vocoder

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-stream/dsp/core"
	"github.com/cwbudde/algo-stream/dsp/framebuf"
	"github.com/cwbudde/algo-stream/dsp/stft"
	"github.com/cwbudde/algo-stream/dsp/window"
)

// PitchShifter remaps spectral frames along the frequency axis by a pitch
// ratio while keeping frame timing unchanged. Each output bin k is sourced
// from input bin k/ratio with linear interpolation of magnitude and
// instantaneous frequency, and a consistent phase trajectory is rebuilt per
// bin through the session's PhaseAccumulator.
//
// A PitchShifter is single-streamed and not safe for concurrent use.
type PitchShifter struct {
	state *analysisState
	acc   *PhaseAccumulator
	ratio float64

	shiftedMag  []float64
	shiftedFreq []float64
}

// NewPitchShifter creates a pitch shifter for the given frame geometry.
// ratio 1.0 passes frames through untouched.
func NewPitchShifter(frameSize, hop int, ratio float64) (*PitchShifter, error) {
	if err := validateRatio(ratio); err != nil {
		return nil, err
	}

	state, err := newAnalysisState(frameSize, hop)
	if err != nil {
		return nil, err
	}

	bins := frameSize/2 + 1

	return &PitchShifter{
		state:       state,
		acc:         NewPhaseAccumulator(bins),
		ratio:       clampRatio(ratio),
		shiftedMag:  make([]float64, bins),
		shiftedFreq: make([]float64, bins),
	}, nil
}

// Ratio returns the active pitch ratio.
func (p *PitchShifter) Ratio() float64 { return p.ratio }

// Semitones returns the active shift in semitones.
func (p *PitchShifter) Semitones() float64 { return core.RatioToSemitones(p.ratio) }

// SetRatio updates the pitch ratio. Values outside [0.25, 4] are accepted
// but produce audible artifacts.
func (p *PitchShifter) SetRatio(ratio float64) error {
	if err := validateRatio(ratio); err != nil {
		return err
	}

	p.ratio = clampRatio(ratio)

	return nil
}

// SetSemitones updates the pitch shift in semitone steps.
func (p *PitchShifter) SetSemitones(semitones float64) error {
	if math.IsNaN(semitones) || math.IsInf(semitones, 0) {
		return fmt.Errorf("vocoder: semitones must be finite: %f", semitones)
	}

	return p.SetRatio(core.SemitonesToRatio(semitones))
}

// Reset zeroes the phase accumulator. Call when seeking or restarting a
// stream discontinuously.
func (p *PitchShifter) Reset() {
	p.acc.Reset()
}

// ProcessFrame pitch-shifts one spectral frame from src into dst. Both must
// have frameSize/2+1 bins. src and dst may alias.
func (p *PitchShifter) ProcessFrame(dst, src stft.Spectrum) error {
	bins := p.acc.Bins()
	if len(src) != bins || len(dst) != bins {
		return fmt.Errorf("vocoder: spectrum must have %d bins: src=%d dst=%d", bins, len(src), len(dst))
	}

	if isIdentityRatio(p.ratio) {
		copy(dst, src)
		return nil
	}

	silent := src.PeakMagnitude() < silenceThreshold

	p.state.analyze(p.acc, src)

	half := bins - 1
	ratio := p.ratio

	// Remap each output bin from its fractional source bin.
	for k := 0; k <= half; k++ {
		srcK := float64(k) / ratio
		if srcK >= float64(half) {
			p.shiftedMag[k] = 0
			p.shiftedFreq[k] = p.state.omega[k]

			continue
		}

		lo := int(srcK)
		frac := srcK - float64(lo)
		hi := min(lo+1, half)

		p.shiftedMag[k] = p.state.mag[lo]*(1-frac) + p.state.mag[hi]*frac
		interpFreq := p.state.freq[lo]*(1-frac) + p.state.freq[hi]*frac
		p.shiftedFreq[k] = interpFreq * ratio
	}

	hopF := float64(p.state.hop)

	for k := 0; k <= half; k++ {
		if !silent {
			p.acc.sumPhase[k] += p.shiftedFreq[k] * hopF
		}

		dst[k] = complex(
			p.shiftedMag[k]*math.Cos(p.acc.sumPhase[k]),
			p.shiftedMag[k]*math.Sin(p.acc.sumPhase[k]),
		)
	}

	return nil
}

// Process pitch-shifts a whole buffer offline through the streaming path.
// The output has the same length as the input.
func (p *PitchShifter) Process(input []float64, windowType window.Type) ([]float64, error) {
	if len(input) == 0 {
		return nil, nil
	}

	frameSize := p.state.frameSize
	hop := p.state.hop

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

	p.Reset()

	// Pad so the final input samples are covered by complete frames.
	analyzer.Push(input)
	analyzer.Push(make([]float64, frameSize))

	frame := make([]float64, frameSize)
	spec := transform.NewSpectrum()
	out := make([]float64, 0, len(input)+frameSize)

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

		if err := p.ProcessFrame(spec, spec); err != nil {
			return nil, err
		}

		if err := transform.Inverse(frame, spec); err != nil {
			return nil, err
		}

		emitted, err := synthesizer.Pull(frame)
		if err != nil {
			return nil, err
		}

		out = append(out, emitted...)
	}

	return fitLength(out, len(input)), nil
}

// fitLength pads or truncates in to n samples, pinning offline output length
// to the input length. Output sample f*hop+i of the synthesis path lines up
// with input sample f*hop+i, so no latency trim is needed.
func fitLength(in []float64, n int) []float64 {
	out := make([]float64, n)
	copy(out, in)

	return out
}
