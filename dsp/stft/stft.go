// Package stft converts between time-domain analysis frames and complex
// half spectra using FFT plans from algo-fft.
package stft

import (
	"fmt"
	"math"
	"math/cmplx"

	algofft "github.com/MeKo-Christian/algo-fft"
)

// MinFrameSize is the smallest supported transform size.
const MinFrameSize = 64

// Spectrum holds one complex value per non-negative frequency bin
// (frameSize/2 + 1 bins).
type Spectrum []complex128

// Magnitude returns |X[k]|.
func (s Spectrum) Magnitude(k int) float64 {
	return cmplx.Abs(s[k])
}

// Phase returns arg(X[k]) in radians.
func (s Spectrum) Phase(k int) float64 {
	return cmplx.Phase(s[k])
}

// PeakMagnitude returns the largest bin magnitude.
func (s Spectrum) PeakMagnitude() float64 {
	peak := 0.0

	for _, c := range s {
		if m := cmplx.Abs(c); m > peak {
			peak = m
		}
	}

	return peak
}

// PeakBin returns the index of the largest-magnitude bin.
func (s Spectrum) PeakBin() int {
	peak := -1.0
	bin := 0

	for k, c := range s {
		if m := cmplx.Abs(c); m > peak {
			peak = m
			bin = k
		}
	}

	return bin
}

// Transform performs forward and inverse transforms of a fixed frame size.
// All scratch memory is allocated at construction; Forward and Inverse do
// not allocate. A Transform is not safe for concurrent use.
type Transform struct {
	size int
	bins int

	plan *algofft.Plan[complex128]

	timeScratch []complex128
	freqScratch []complex128
}

// New creates a Transform for the given frame size. The size must be a
// power of two and at least MinFrameSize.
func New(size int) (*Transform, error) {
	if size < MinFrameSize || !isPowerOf2(size) {
		return nil, fmt.Errorf("stft: frame size must be power-of-two and >= %d: %d", MinFrameSize, size)
	}

	plan, err := algofft.NewPlan64(size)
	if err != nil {
		return nil, fmt.Errorf("stft: failed to create FFT plan: %w", err)
	}

	return &Transform{
		size:        size,
		bins:        size/2 + 1,
		plan:        plan,
		timeScratch: make([]complex128, size),
		freqScratch: make([]complex128, size),
	}, nil
}

// Size returns the frame size.
func (t *Transform) Size() int { return t.size }

// Bins returns the half-spectrum bin count (size/2 + 1).
func (t *Transform) Bins() int { return t.bins }

// NewSpectrum returns a zeroed Spectrum sized for this transform.
func (t *Transform) NewSpectrum() Spectrum {
	return make(Spectrum, t.bins)
}

// Forward transforms a real time-domain frame into dst.
// frame must have length Size and dst length Bins.
func (t *Transform) Forward(dst Spectrum, frame []float64) error {
	if len(frame) != t.size {
		return fmt.Errorf("stft: frame length must be %d: %d", t.size, len(frame))
	}

	if len(dst) != t.bins {
		return fmt.Errorf("stft: spectrum length must be %d: %d", t.bins, len(dst))
	}

	for i, v := range frame {
		t.timeScratch[i] = complex(v, 0)
	}

	err := t.plan.Forward(t.freqScratch, t.timeScratch)
	if err != nil {
		return fmt.Errorf("stft: forward FFT failed: %w", err)
	}

	copy(dst, t.freqScratch[:t.bins])

	return nil
}

// Inverse transforms a half spectrum back into a real time-domain frame.
// The conjugate mirror is reconstructed internally; DC and Nyquist bins are
// forced real. dst must have length Size and spec length Bins.
func (t *Transform) Inverse(dst []float64, spec Spectrum) error {
	if len(dst) != t.size {
		return fmt.Errorf("stft: frame length must be %d: %d", t.size, len(dst))
	}

	if len(spec) != t.bins {
		return fmt.Errorf("stft: spectrum length must be %d: %d", t.bins, len(spec))
	}

	half := t.size / 2

	t.freqScratch[0] = complex(real(spec[0]), 0)
	t.freqScratch[half] = complex(real(spec[half]), 0)

	for k := 1; k < half; k++ {
		v := spec[k]
		t.freqScratch[k] = v
		t.freqScratch[t.size-k] = cmplx.Conj(v)
	}

	err := t.plan.Inverse(t.timeScratch, t.freqScratch)
	if err != nil {
		return fmt.Errorf("stft: inverse FFT failed: %w", err)
	}

	for i := range dst {
		dst[i] = real(t.timeScratch[i])
	}

	return nil
}

// BinFrequency returns the center frequency in Hz of bin k at sampleRate.
func (t *Transform) BinFrequency(k int, sampleRate float64) float64 {
	return float64(k) * sampleRate / float64(t.size)
}

// BinOmega returns the nominal phase advance per sample of bin k in radians.
func (t *Transform) BinOmega(k int) float64 {
	return 2 * math.Pi * float64(k) / float64(t.size)
}

func isPowerOf2(v int) bool {
	return v > 0 && (v&(v-1)) == 0
}
