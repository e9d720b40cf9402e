// Package framebuf slices a continuous sample stream into overlapping
// analysis frames and reconstructs a continuous stream from overlapping
// synthesis frames via normalized overlap-add.
package framebuf

import (
	"fmt"

	"github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-stream/dsp/window"
)

// normFloor is the smallest window-squared gain that is still divided
// through during reconstruction; positions below it emit zero.
const normFloor = 1e-12

func validateGeometry(frameSize, hop int) error {
	if frameSize <= 0 {
		return fmt.Errorf("framebuf: frame size must be > 0: %d", frameSize)
	}

	if hop <= 0 {
		return fmt.Errorf("framebuf: hop size must be > 0: %d", hop)
	}

	if hop >= frameSize {
		return fmt.Errorf("framebuf: hop size must be < frame size: hop=%d frame=%d", hop, frameSize)
	}

	return nil
}

// Analyzer accumulates pushed samples and emits windowed analysis frames of
// fixed size at hop stride. All buffers are allocated at construction and
// reused; an Analyzer is not safe for concurrent use.
type Analyzer struct {
	frameSize int
	hop       int
	coeffs    []float64

	pending []float64
	start   int
}

// NewAnalyzer creates an Analyzer. hop must be positive and smaller than
// frameSize, and t must name a supported window.
func NewAnalyzer(frameSize, hop int, t window.Type) (*Analyzer, error) {
	if err := validateGeometry(frameSize, hop); err != nil {
		return nil, err
	}

	if !t.Valid() {
		return nil, fmt.Errorf("framebuf: unsupported window type: %d", t)
	}

	return &Analyzer{
		frameSize: frameSize,
		hop:       hop,
		coeffs:    window.Generate(t, frameSize, window.WithPeriodic()),
		pending:   make([]float64, 0, 4*frameSize),
	}, nil
}

// FrameSize returns the analysis frame length.
func (a *Analyzer) FrameSize() int { return a.frameSize }

// Hop returns the hop size in samples.
func (a *Analyzer) Hop() int { return a.hop }

// Window returns the analysis window coefficients. The slice is shared;
// callers must not mutate it.
func (a *Analyzer) Window() []float64 { return a.coeffs }

// Buffered returns the number of samples waiting to form frames.
func (a *Analyzer) Buffered() int {
	return len(a.pending) - a.start
}

// Push appends samples to the internal buffer.
func (a *Analyzer) Push(samples []float64) {
	a.compact()
	a.pending = append(a.pending, samples...)
}

// NextFrame writes the next windowed analysis frame into dst and advances
// the read position by one hop. It returns false when fewer than frameSize
// samples are buffered. dst must have length FrameSize.
func (a *Analyzer) NextFrame(dst []float64) (bool, error) {
	if len(dst) != a.frameSize {
		return false, fmt.Errorf("framebuf: frame buffer length must be %d: %d", a.frameSize, len(dst))
	}

	if a.Buffered() < a.frameSize {
		return false, nil
	}

	src := a.pending[a.start : a.start+a.frameSize]
	vecmath.MulBlock(dst, src, a.coeffs)

	a.start += a.hop

	return true, nil
}

// Reset discards all buffered samples.
func (a *Analyzer) Reset() {
	a.pending = a.pending[:0]
	a.start = 0
}

// compact reclaims consumed space at the front of the pending buffer so
// steady-state processing does not grow it.
func (a *Analyzer) compact() {
	if a.start == 0 {
		return
	}

	n := copy(a.pending, a.pending[a.start:])
	a.pending = a.pending[:n]
	a.start = 0
}

// Synthesizer reconstructs a continuous stream by overlap-adding processed
// frames at hop stride. Completed samples are normalized by the summed
// squared window gain at their position, which yields perfect reconstruction
// for an identity spectral path regardless of window/hop choice.
type Synthesizer struct {
	frameSize int
	hop       int
	coeffs    []float64

	acc      []float64
	norm     []float64
	windowed []float64
	out      []float64
}

// NewSynthesizer creates a Synthesizer with the same geometry rules as
// NewAnalyzer.
func NewSynthesizer(frameSize, hop int, t window.Type) (*Synthesizer, error) {
	if err := validateGeometry(frameSize, hop); err != nil {
		return nil, err
	}

	if !t.Valid() {
		return nil, fmt.Errorf("framebuf: unsupported window type: %d", t)
	}

	return &Synthesizer{
		frameSize: frameSize,
		hop:       hop,
		coeffs:    window.Generate(t, frameSize, window.WithPeriodic()),
		acc:       make([]float64, frameSize),
		norm:      make([]float64, frameSize),
		windowed:  make([]float64, frameSize),
		out:       make([]float64, hop),
	}, nil
}

// FrameSize returns the synthesis frame length.
func (s *Synthesizer) FrameSize() int { return s.frameSize }

// Hop returns the hop size in samples.
func (s *Synthesizer) Hop() int { return s.hop }

// Pull overlap-adds one processed frame and returns the hop-many output
// samples that can no longer be affected by future frames. The returned
// slice is reused on the next call.
func (s *Synthesizer) Pull(frame []float64) ([]float64, error) {
	if len(frame) != s.frameSize {
		return nil, fmt.Errorf("framebuf: frame length must be %d: %d", s.frameSize, len(frame))
	}

	// Re-window the synthesis frame and accumulate signal and window gain.
	vecmath.MulBlock(s.windowed, frame, s.coeffs)
	vecmath.AddBlockInPlace(s.acc, s.windowed)

	for i, w := range s.coeffs {
		s.norm[i] += w * w
	}

	// The first hop samples are final: emit them normalized.
	for i := 0; i < s.hop; i++ {
		if s.norm[i] > normFloor {
			s.out[i] = s.acc[i] / s.norm[i]
		} else {
			s.out[i] = 0
		}
	}

	// Slide the accumulators left by one hop.
	copy(s.acc, s.acc[s.hop:])
	copy(s.norm, s.norm[s.hop:])

	tail := s.frameSize - s.hop
	for i := tail; i < s.frameSize; i++ {
		s.acc[i] = 0
		s.norm[i] = 0
	}

	return s.out, nil
}

// Reset clears all overlap state.
func (s *Synthesizer) Reset() {
	for i := range s.acc {
		s.acc[i] = 0
		s.norm[i] = 0
	}
}
