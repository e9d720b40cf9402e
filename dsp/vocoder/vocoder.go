// Package vocoder implements streaming phase-vocoder pitch shifting and time
// stretching over spectral frames, with persistent per-bin phase state.
package vocoder

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-stream/dsp/stft"
)

const (
	// identityEps is the half-width around ratio 1.0 treated as a no-op.
	identityEps = 1e-6

	// silenceThreshold freezes phase accumulation when the frame's peak
	// bin magnitude falls below it, so accumulated phase does not drift
	// through silence and smear the attack when audio resumes.
	silenceThreshold = 1e-9

	// minRatio/maxRatio bound the usable ratio range. Ratios beyond 4x or
	// below 0.25x are accepted but produce audible artifacts; beyond these
	// hard bounds the result is numerically meaningless and the value is
	// clamped.
	minRatio = 1.0 / 64.0
	maxRatio = 64.0
)

// PhaseAccumulator tracks per-bin unwrapped phase across a streamed session.
// It persists for the lifetime of a vocoder session and is cleared only by
// Reset, which must be called when seeking or restarting discontinuously.
type PhaseAccumulator struct {
	prevPhase []float64
	sumPhase  []float64
}

// NewPhaseAccumulator returns an accumulator for the given bin count.
func NewPhaseAccumulator(bins int) *PhaseAccumulator {
	return &PhaseAccumulator{
		prevPhase: make([]float64, bins),
		sumPhase:  make([]float64, bins),
	}
}

// Bins returns the tracked bin count.
func (p *PhaseAccumulator) Bins() int { return len(p.prevPhase) }

// Reset zeroes all phase state.
func (p *PhaseAccumulator) Reset() {
	for i := range p.prevPhase {
		p.prevPhase[i] = 0
		p.sumPhase[i] = 0
	}
}

// analysisState holds the shared spectral analysis machinery: bin center
// frequencies and scratch arrays for magnitudes and instantaneous
// frequencies, allocated once per session.
type analysisState struct {
	frameSize int
	hop       int
	omega     []float64

	mag  []float64
	freq []float64
}

func newAnalysisState(frameSize, hop int) (*analysisState, error) {
	if frameSize <= 0 || frameSize&(frameSize-1) != 0 {
		return nil, fmt.Errorf("vocoder: frame size must be a power of two: %d", frameSize)
	}

	if hop <= 0 || hop >= frameSize {
		return nil, fmt.Errorf("vocoder: hop must be in [1, %d): %d", frameSize, hop)
	}

	bins := frameSize/2 + 1

	omega := make([]float64, bins)
	for k := range omega {
		omega[k] = 2 * math.Pi * float64(k) / float64(frameSize)
	}

	return &analysisState{
		frameSize: frameSize,
		hop:       hop,
		omega:     omega,
		mag:       make([]float64, bins),
		freq:      make([]float64, bins),
	}, nil
}

// analyze extracts bin magnitudes and instantaneous frequencies (radians per
// sample) from src, updating the accumulator's previous-phase record.
func (a *analysisState) analyze(acc *PhaseAccumulator, src stft.Spectrum) {
	hopF := float64(a.hop)

	for k := range src {
		re := real(src[k])
		im := imag(src[k])
		a.mag[k] = math.Hypot(re, im)

		phase := math.Atan2(im, re)

		delta := phase - acc.prevPhase[k] - a.omega[k]*hopF
		delta = wrapPhase(delta)

		a.freq[k] = a.omega[k] + delta/hopF
		acc.prevPhase[k] = phase
	}
}

// wrapPhase wraps x into the principal interval (-pi, pi].
func wrapPhase(x float64) float64 {
	x = math.Mod(x+math.Pi, 2*math.Pi)
	if x <= 0 {
		x += 2 * math.Pi
	}

	return x - math.Pi
}

func validateRatio(ratio float64) error {
	if ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return fmt.Errorf("vocoder: ratio must be positive and finite: %f", ratio)
	}

	return nil
}

func clampRatio(ratio float64) float64 {
	if ratio < minRatio {
		return minRatio
	}

	if ratio > maxRatio {
		return maxRatio
	}

	return ratio
}

func isIdentityRatio(ratio float64) bool {
	return math.Abs(ratio-1) <= identityEps
}
