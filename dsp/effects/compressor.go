package effects

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-stream/dsp/core"
)

const (
	minCompressorRatio     = 1.0
	maxCompressorRatio     = 100.0
	minCompressorAttackMs  = 0.1
	maxCompressorAttackMs  = 1000.0
	minCompressorReleaseMs = 1.0
	maxCompressorReleaseMs = 5000.0
	minCompressorKneeDB    = 0.0
	maxCompressorKneeDB    = 24.0

	// log2Of10Div20 converts decibels to the log2 domain: log2(10)/20.
	log2Of10Div20 = 0.166096404744
)

// CompressorParams configure a Compressor stage.
type CompressorParams struct {
	ThresholdDB float64
	Ratio       float64
	KneeDB      float64
	AttackMs    float64
	ReleaseMs   float64
	MakeupDB    float64

	// AutoMakeup derives the makeup gain from threshold and ratio so a
	// signal compressed at full scale comes back to unity; MakeupDB is
	// ignored while enabled.
	AutoMakeup bool
}

// DefaultCompressorParams returns musical starting values: -20 dB threshold,
// 4:1 ratio, hard knee, 10 ms attack, 100 ms release, no makeup gain.
func DefaultCompressorParams() CompressorParams {
	return CompressorParams{
		ThresholdDB: -20.0,
		Ratio:       4.0,
		KneeDB:      0.0,
		AttackMs:    10.0,
		ReleaseMs:   100.0,
		MakeupDB:    0.0,
	}
}

func (p CompressorParams) validate() error {
	if !core.IsFinite(p.ThresholdDB) {
		return fmt.Errorf("effects: compressor threshold must be finite: %f", p.ThresholdDB)
	}

	if p.Ratio < minCompressorRatio || p.Ratio > maxCompressorRatio || !core.IsFinite(p.Ratio) {
		return fmt.Errorf("effects: compressor ratio must be in [%f, %f]: %f",
			minCompressorRatio, maxCompressorRatio, p.Ratio)
	}

	if p.KneeDB < minCompressorKneeDB || p.KneeDB > maxCompressorKneeDB || !core.IsFinite(p.KneeDB) {
		return fmt.Errorf("effects: compressor knee must be in [%f, %f]: %f",
			minCompressorKneeDB, maxCompressorKneeDB, p.KneeDB)
	}

	if p.AttackMs < minCompressorAttackMs || p.AttackMs > maxCompressorAttackMs || !core.IsFinite(p.AttackMs) {
		return fmt.Errorf("effects: compressor attack must be in [%f, %f] ms: %f",
			minCompressorAttackMs, maxCompressorAttackMs, p.AttackMs)
	}

	if p.ReleaseMs < minCompressorReleaseMs || p.ReleaseMs > maxCompressorReleaseMs || !core.IsFinite(p.ReleaseMs) {
		return fmt.Errorf("effects: compressor release must be in [%f, %f] ms: %f",
			minCompressorReleaseMs, maxCompressorReleaseMs, p.ReleaseMs)
	}

	if !core.IsFinite(p.MakeupDB) {
		return fmt.Errorf("effects: compressor makeup gain must be finite: %f", p.MakeupDB)
	}

	return nil
}

// Compressor is a soft-knee dynamics compressor with a per-channel peak
// envelope follower and a log2-domain gain computer. Each channel is
// detected and compressed independently.
type Compressor struct {
	bypass

	params     CompressorParams
	sampleRate float64

	// Cached coefficients.
	attackCoeff      float64
	releaseCoeff     float64
	thresholdLog2    float64
	kneeWidthLog2    float64
	invKneeWidthLog2 float64
	makeupGainLin    float64

	// One envelope per channel, persistent across blocks.
	envelopes []float64
}

// NewCompressor creates a compressor stage for the given channel count.
func NewCompressor(sampleRate float64, channels int, params CompressorParams) (*Compressor, error) {
	if sampleRate <= 0 || !core.IsFinite(sampleRate) {
		return nil, fmt.Errorf("effects: compressor sample rate must be positive and finite: %f", sampleRate)
	}

	if channels <= 0 {
		return nil, fmt.Errorf("effects: compressor channel count must be positive: %d", channels)
	}

	if err := params.validate(); err != nil {
		return nil, err
	}

	c := &Compressor{
		params:     params,
		sampleRate: sampleRate,
		envelopes:  make([]float64, channels),
	}

	c.updateCoefficients()

	return c, nil
}

// Kind identifies the stage.
func (c *Compressor) Kind() StageKind { return KindCompressor }

// Params returns the active parameter set.
func (c *Compressor) Params() CompressorParams { return c.params }

// SetParams swaps the full parameter set. Envelope state is kept so changes
// stay click-free.
func (c *Compressor) SetParams(params CompressorParams) error {
	if err := params.validate(); err != nil {
		return err
	}

	c.params = params
	c.updateCoefficients()

	return nil
}

// Reset clears the envelope followers.
func (c *Compressor) Reset() {
	for i := range c.envelopes {
		c.envelopes[i] = 0
	}
}

// ProcessBlock compresses every channel of the block in place.
func (c *Compressor) ProcessBlock(block *core.Block) error {
	if block.Channels() != len(c.envelopes) {
		return fmt.Errorf("effects: compressor expects %d channels: %d", len(c.envelopes), block.Channels())
	}

	for ch, samples := range block.Samples {
		env := c.envelopes[ch]

		for i, x := range samples {
			level := math.Abs(x)

			if level > env {
				env += (level - env) * c.attackCoeff
			} else {
				env = level + (env-level)*c.releaseCoeff
			}

			samples[i] = x * c.gainForLevel(env) * c.makeupGainLin
		}

		c.envelopes[ch] = core.FlushDenormals(env)
	}

	return nil
}

// ProcessSample runs one mono sample through channel 0. Offline helpers and
// tests use this path.
func (c *Compressor) ProcessSample(input float64) float64 {
	level := math.Abs(input)
	env := c.envelopes[0]

	if level > env {
		env += (level - env) * c.attackCoeff
	} else {
		env = level + (env-level)*c.releaseCoeff
	}

	c.envelopes[0] = env

	return input * c.gainForLevel(env) * c.makeupGainLin
}

// GainForLevel computes the steady-state gain multiplier for a detector
// level, exposing the static compression curve.
func (c *Compressor) GainForLevel(level float64) float64 {
	return c.gainForLevel(math.Abs(level))
}

func (c *Compressor) gainForLevel(level float64) float64 {
	if level <= 0 {
		return 1.0
	}

	overshoot := math.Log2(level) - c.thresholdLog2
	slope := 1.0 - 1.0/c.params.Ratio

	if c.params.KneeDB <= 0 {
		if overshoot <= 0 {
			return 1.0
		}

		return math.Exp2(-overshoot * slope)
	}

	halfWidth := c.kneeWidthLog2 * 0.5

	var effectiveOvershoot float64

	switch {
	case overshoot < -halfWidth:
		return 1.0
	case overshoot > halfWidth:
		effectiveOvershoot = overshoot
	default:
		// Quadratic smoothing inside the knee: (overshoot + w/2)^2 / (2w).
		scratch := overshoot + halfWidth
		effectiveOvershoot = scratch * scratch * 0.5 * c.invKneeWidthLog2
	}

	return math.Exp2(-effectiveOvershoot * slope)
}

func (c *Compressor) updateCoefficients() {
	c.thresholdLog2 = c.params.ThresholdDB * log2Of10Div20

	c.kneeWidthLog2 = c.params.KneeDB * log2Of10Div20
	if c.params.KneeDB > 0 {
		c.invKneeWidthLog2 = 1.0 / c.kneeWidthLog2
	} else {
		c.invKneeWidthLog2 = 0
	}

	makeupDB := c.params.MakeupDB
	if c.params.AutoMakeup {
		makeupDB = -c.params.ThresholdDB * (1.0 - 1.0/c.params.Ratio)
	}

	c.makeupGainLin = core.DBToLinear(makeupDB)

	c.attackCoeff = 1.0 - math.Exp(-math.Ln2/(c.params.AttackMs*0.001*c.sampleRate))
	c.releaseCoeff = math.Exp(-math.Ln2 / (c.params.ReleaseMs * 0.001 * c.sampleRate))
}
