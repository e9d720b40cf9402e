// Package granular implements a seeded granular synthesizer: short
// Hann-windowed slices of buffered audio reassembled with configurable
// density, position jitter, and per-grain playback-rate randomization.
package granular

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/algo-stream/dsp/core"
)

const (
	maxVoices          = 64
	minDensityHz       = 0.1
	maxDensityHz       = 1000.0
	maxGrainSeconds    = 2.0
	defaultHistorySecs = 2.0
	envNormFloor       = 1e-12
)

// Config describes one granular session. All randomness is drawn from a
// stream seeded with Seed, so identical configs over identical input produce
// bit-identical output.
type Config struct {
	SampleRate    float64
	GrainLengthMs float64 // grain duration, must be > 0
	DensityHz     float64 // grains per second, must be > 0
	JitterMs      float64 // random spread of grain output placement, >= 0
	Seed          int64

	// PitchRatio is the base grain playback rate (1 = unchanged).
	// PitchJitter adds a uniform random spread of +/- its value to each
	// grain's rate, for glitch/ambient timbres. Both optional.
	PitchRatio  float64
	PitchJitter float64

	// Mix blends dry input with grain output in [0, 1]. Zero values
	// default to fully wet.
	Mix float64
}

func (c Config) withDefaults() Config {
	if c.PitchRatio == 0 {
		c.PitchRatio = 1
	}

	if c.Mix == 0 {
		c.Mix = 1
	}

	return c
}

func (c Config) validate() error {
	if c.SampleRate <= 0 || !core.IsFinite(c.SampleRate) {
		return fmt.Errorf("granular: sample rate must be positive and finite: %f", c.SampleRate)
	}

	if c.GrainLengthMs <= 0 || !core.IsFinite(c.GrainLengthMs) {
		return fmt.Errorf("granular: grain length must be > 0 ms: %f", c.GrainLengthMs)
	}

	if c.GrainLengthMs*0.001 > maxGrainSeconds {
		return fmt.Errorf("granular: grain length must be <= %f s: %f ms", maxGrainSeconds, c.GrainLengthMs)
	}

	if c.DensityHz < minDensityHz || c.DensityHz > maxDensityHz || !core.IsFinite(c.DensityHz) {
		return fmt.Errorf("granular: density must be in [%f, %f] Hz: %f", minDensityHz, maxDensityHz, c.DensityHz)
	}

	if c.JitterMs < 0 || !core.IsFinite(c.JitterMs) {
		return fmt.Errorf("granular: jitter must be >= 0 ms: %f", c.JitterMs)
	}

	if c.PitchRatio <= 0 || !core.IsFinite(c.PitchRatio) {
		return fmt.Errorf("granular: pitch ratio must be positive and finite: %f", c.PitchRatio)
	}

	if c.PitchJitter < 0 || c.PitchJitter >= 1 || !core.IsFinite(c.PitchJitter) {
		return fmt.Errorf("granular: pitch jitter must be in [0, 1): %f", c.PitchJitter)
	}

	if c.Mix < 0 || c.Mix > 1 || !core.IsFinite(c.Mix) {
		return fmt.Errorf("granular: mix must be in [0, 1]: %f", c.Mix)
	}

	return nil
}

// Grain describes one scheduled grain: where it reads from, how long it
// plays, its playback rate, and where its output lands.
type Grain struct {
	SourceOffset int
	Length       int
	Rate         float64
	OutputTime   int
}

type voice struct {
	active bool
	pos    float64
	rate   float64
	age    int
	dur    int
}

// Synth is a streaming granular processor reading grains from a circular
// history of its own input. It is real-time safe after construction (no
// per-sample allocations) and not safe for concurrent use.
type Synth struct {
	cfg Config

	ring  []float64
	write int

	grainSamples  int
	spawnInterval int
	jitterSamples int
	nextSpawn     int

	voices [maxVoices]voice
	rng    *rand.Rand
}

// NewSynth creates a streaming granular synthesizer.
func NewSynth(cfg Config) (*Synth, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	grainSamples := int(math.Round(cfg.GrainLengthMs * 0.001 * cfg.SampleRate))
	if grainSamples < 2 {
		grainSamples = 2
	}

	interval := int(math.Round(cfg.SampleRate / cfg.DensityHz))
	if interval < 1 {
		interval = 1
	}

	ringLen := int(math.Ceil(defaultHistorySecs*cfg.SampleRate)) + grainSamples + 4
	if ringLen < 128 {
		ringLen = 128
	}

	s := &Synth{
		cfg:           cfg,
		ring:          make([]float64, ringLen),
		grainSamples:  grainSamples,
		spawnInterval: interval,
		jitterSamples: int(math.Round(cfg.JitterMs * 0.001 * cfg.SampleRate)),
		rng:           rand.New(rand.NewSource(cfg.Seed)),
	}

	return s, nil
}

// Config returns the session configuration.
func (s *Synth) Config() Config { return s.cfg }

// Reset clears ring and voice state and rewinds the random stream, so a
// restarted session reproduces the same grain schedule.
func (s *Synth) Reset() {
	for i := range s.ring {
		s.ring[i] = 0
	}

	s.write = 0
	s.nextSpawn = 0

	for i := range s.voices {
		s.voices[i] = voice{}
	}

	s.rng = rand.New(rand.NewSource(s.cfg.Seed))
}

// ProcessSample feeds one input sample and returns one output sample.
func (s *Synth) ProcessSample(input float64) float64 {
	s.ring[s.write] = input

	s.write++
	if s.write >= len(s.ring) {
		s.write = 0
	}

	if s.nextSpawn <= 0 {
		s.spawnVoice()
		s.nextSpawn = s.nextInterval()
	} else {
		s.nextSpawn--
	}

	wet := 0.0
	norm := 0.0

	for i := range s.voices {
		v := &s.voices[i]
		if !v.active {
			continue
		}

		env := hannEnv(v.age, v.dur)
		wet += s.readLinear(v.pos) * env
		norm += env

		v.pos += v.rate
		for v.pos >= float64(len(s.ring)) {
			v.pos -= float64(len(s.ring))
		}

		v.age++
		if v.age >= v.dur {
			v.active = false
		}
	}

	if norm > envNormFloor {
		wet /= norm
	}

	mix := s.cfg.Mix

	return input*(1-mix) + wet*mix
}

// ProcessInPlace applies granular processing to buf in place.
func (s *Synth) ProcessInPlace(buf []float64) {
	for i := range buf {
		buf[i] = s.ProcessSample(buf[i])
	}
}

func (s *Synth) spawnVoice() {
	slot := -1

	for i := range s.voices {
		if !s.voices[i].active {
			slot = i
			break
		}
	}

	if slot < 0 {
		return
	}

	// Read position: one grain behind the write head, clamped so the grain
	// always reads valid history. Jitter lands on spawn timing, not here.
	offset := s.grainSamples

	if maxOffset := len(s.ring) - 2; offset > maxOffset {
		offset = maxOffset
	}

	start := s.write - offset
	for start < 0 {
		start += len(s.ring)
	}

	rate := s.cfg.PitchRatio
	if s.cfg.PitchJitter > 0 {
		rate *= 1 + (s.rng.Float64()*2-1)*s.cfg.PitchJitter
	}

	s.voices[slot] = voice{
		active: true,
		pos:    float64(start),
		rate:   rate,
		dur:    s.grainSamples,
	}
}

// nextInterval is the density-derived spawn spacing perturbed by the seeded
// jitter draw, never below one sample.
func (s *Synth) nextInterval() int {
	interval := s.spawnInterval

	if s.jitterSamples > 0 {
		interval += int(math.Round((s.rng.Float64()*2 - 1) * float64(s.jitterSamples)))
	}

	if interval < 1 {
		interval = 1
	}

	return interval
}

func (s *Synth) readLinear(pos float64) float64 {
	i0 := int(pos)
	frac := pos - float64(i0)

	i1 := i0 + 1
	if i1 >= len(s.ring) {
		i1 = 0
	}

	v0 := s.ring[i0]
	v1 := s.ring[i1]

	return v0 + (v1-v0)*frac
}

func hannEnv(age, dur int) float64 {
	if dur <= 1 {
		return 1
	}

	phase := 2 * math.Pi * float64(age) / float64(dur-1)

	return 0.5 * (1 - math.Cos(phase))
}
