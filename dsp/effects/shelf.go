package effects

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-stream/dsp/core"
)

// defaultShelfQ gives a maximally flat Butterworth-like shelf transition.
const defaultShelfQ = math.Sqrt2 / 2

// ShelfType selects the shelving band.
type ShelfType int

const (
	LowShelf ShelfType = iota
	HighShelf
)

// Name returns a stable lowercase name for the shelf type.
func (t ShelfType) Name() string {
	switch t {
	case LowShelf:
		return "lowshelf"
	case HighShelf:
		return "highshelf"
	default:
		return "unknown"
	}
}

// ParseShelfType resolves a shelf type name.
func ParseShelfType(name string) (ShelfType, error) {
	switch name {
	case "lowshelf", "low":
		return LowShelf, nil
	case "highshelf", "high":
		return HighShelf, nil
	default:
		return 0, fmt.Errorf("effects: unknown shelf type: %q", name)
	}
}

// ShelfParams configure a ShelfEQ stage.
type ShelfParams struct {
	Type   ShelfType
	FreqHz float64
	GainDB float64
	Q      float64 // zero selects the default sqrt(2)/2
}

// DefaultShelfParams returns a flat low shelf at 200 Hz.
func DefaultShelfParams() ShelfParams {
	return ShelfParams{Type: LowShelf, FreqHz: 200, GainDB: 0, Q: defaultShelfQ}
}

func (p ShelfParams) withDefaults() ShelfParams {
	if p.Q == 0 {
		p.Q = defaultShelfQ
	}

	return p
}

func (p ShelfParams) validate(sampleRate float64) error {
	if p.Type != LowShelf && p.Type != HighShelf {
		return fmt.Errorf("effects: invalid shelf type: %d", p.Type)
	}

	nyquist := sampleRate * 0.5
	if p.FreqHz <= 0 || p.FreqHz >= nyquist || !core.IsFinite(p.FreqHz) {
		return fmt.Errorf("effects: shelf frequency must be in (0, %f): %f", nyquist, p.FreqHz)
	}

	if !core.IsFinite(p.GainDB) {
		return fmt.Errorf("effects: shelf gain must be finite: %f", p.GainDB)
	}

	if p.Q <= 0 || !core.IsFinite(p.Q) {
		return fmt.Errorf("effects: shelf Q must be positive and finite: %f", p.Q)
	}

	return nil
}

// biquadCoeffs holds normalized transfer-function coefficients (a0 = 1).
type biquadCoeffs struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// biquadState is one channel's direct form II transposed delay line.
type biquadState struct {
	d0, d1 float64
}

func (s *biquadState) process(c biquadCoeffs, x float64) float64 {
	y := c.B0*x + s.d0
	s.d0 = c.B1*x - c.A1*y + s.d1
	s.d1 = c.B2*x - c.A2*y

	return y
}

func (s *biquadState) reset() {
	s.d0 = 0
	s.d1 = 0
}

// designShelf computes RBJ cookbook shelving coefficients normalized by a0.
func designShelf(p ShelfParams, sampleRate float64) biquadCoeffs {
	a := math.Pow(10, p.GainDB/40)
	w0 := 2 * math.Pi * p.FreqHz / sampleRate
	cosW0 := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * p.Q)
	beta := 2 * math.Sqrt(a) * alpha

	var b0, b1, b2, a0, a1, a2 float64

	if p.Type == LowShelf {
		b0 = a * ((a + 1) - (a-1)*cosW0 + beta)
		b1 = 2 * a * ((a - 1) - (a+1)*cosW0)
		b2 = a * ((a + 1) - (a-1)*cosW0 - beta)
		a0 = (a + 1) + (a-1)*cosW0 + beta
		a1 = -2 * ((a - 1) + (a+1)*cosW0)
		a2 = (a + 1) + (a-1)*cosW0 - beta
	} else {
		b0 = a * ((a + 1) + (a-1)*cosW0 + beta)
		b1 = -2 * a * ((a - 1) + (a+1)*cosW0)
		b2 = a * ((a + 1) + (a-1)*cosW0 - beta)
		a0 = (a + 1) - (a-1)*cosW0 + beta
		a1 = 2 * ((a - 1) - (a+1)*cosW0)
		a2 = (a + 1) - (a-1)*cosW0 - beta
	}

	inv := 1 / a0

	return biquadCoeffs{
		B0: b0 * inv,
		B1: b1 * inv,
		B2: b2 * inv,
		A1: a1 * inv,
		A2: a2 * inv,
	}
}

// ShelfEQ is a low or high shelving equalizer built on one biquad section
// per channel in direct form II transposed. Filter memory persists across
// blocks.
type ShelfEQ struct {
	bypass

	params     ShelfParams
	sampleRate float64
	coeffs     biquadCoeffs
	states     []biquadState
}

// NewShelfEQ creates a shelving EQ stage for the given channel count.
func NewShelfEQ(sampleRate float64, channels int, params ShelfParams) (*ShelfEQ, error) {
	if sampleRate <= 0 || !core.IsFinite(sampleRate) {
		return nil, fmt.Errorf("effects: shelf sample rate must be positive and finite: %f", sampleRate)
	}

	if channels <= 0 {
		return nil, fmt.Errorf("effects: shelf channel count must be positive: %d", channels)
	}

	params = params.withDefaults()
	if err := params.validate(sampleRate); err != nil {
		return nil, err
	}

	return &ShelfEQ{
		params:     params,
		sampleRate: sampleRate,
		coeffs:     designShelf(params, sampleRate),
		states:     make([]biquadState, channels),
	}, nil
}

// Kind identifies the stage.
func (e *ShelfEQ) Kind() StageKind { return KindEqualizer }

// Params returns the active parameter set.
func (e *ShelfEQ) Params() ShelfParams { return e.params }

// SetParams redesigns the filter with new parameters. Delay-line state is
// kept so gain changes stay click-free.
func (e *ShelfEQ) SetParams(params ShelfParams) error {
	params = params.withDefaults()
	if err := params.validate(e.sampleRate); err != nil {
		return err
	}

	e.params = params
	e.coeffs = designShelf(params, e.sampleRate)

	return nil
}

// Reset clears the per-channel delay lines.
func (e *ShelfEQ) Reset() {
	for i := range e.states {
		e.states[i].reset()
	}
}

// ProcessBlock filters every channel of the block in place.
func (e *ShelfEQ) ProcessBlock(block *core.Block) error {
	if block.Channels() != len(e.states) {
		return fmt.Errorf("effects: shelf expects %d channels: %d", len(e.states), block.Channels())
	}

	for ch, samples := range block.Samples {
		state := &e.states[ch]

		for i, x := range samples {
			samples[i] = state.process(e.coeffs, x)
		}

		state.d0 = core.FlushDenormals(state.d0)
		state.d1 = core.FlushDenormals(state.d1)
	}

	return nil
}

// ProcessSample filters one mono sample through channel 0.
func (e *ShelfEQ) ProcessSample(x float64) float64 {
	return e.states[0].process(e.coeffs, x)
}
