package core

import "fmt"

// Block is a multichannel run of audio samples tagged with its sample rate.
// One slice per channel; all channels have the same length.
//
// Ownership transfers along a processing pipeline stage by stage: only the
// stage currently holding a Block may mutate it.
type Block struct {
	Samples    [][]float64
	SampleRate float64
}

// NewBlock returns a zero-filled Block with the given geometry.
func NewBlock(channels, length int, sampleRate float64) (*Block, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("block channel count must be > 0: %d", channels)
	}

	if length < 0 {
		return nil, fmt.Errorf("block length must be >= 0: %d", length)
	}

	if sampleRate <= 0 || !IsFinite(sampleRate) {
		return nil, fmt.Errorf("block sample rate must be positive and finite: %f", sampleRate)
	}

	samples := make([][]float64, channels)
	backing := make([]float64, channels*length)

	for ch := range samples {
		samples[ch] = backing[ch*length : (ch+1)*length : (ch+1)*length]
	}

	return &Block{Samples: samples, SampleRate: sampleRate}, nil
}

// FromMono wraps a mono sample slice without copying.
func FromMono(samples []float64, sampleRate float64) *Block {
	return &Block{Samples: [][]float64{samples}, SampleRate: sampleRate}
}

// Channels returns the channel count.
func (b *Block) Channels() int {
	return len(b.Samples)
}

// Len returns the per-channel sample count.
func (b *Block) Len() int {
	if len(b.Samples) == 0 {
		return 0
	}

	return len(b.Samples[0])
}

// Clone returns a deep copy of the block.
func (b *Block) Clone() *Block {
	samples := make([][]float64, len(b.Samples))
	for ch := range b.Samples {
		samples[ch] = append([]float64(nil), b.Samples[ch]...)
	}

	return &Block{Samples: samples, SampleRate: b.SampleRate}
}

// Zero sets every sample in every channel to 0.
func (b *Block) Zero() {
	for ch := range b.Samples {
		buf := b.Samples[ch]
		for i := range buf {
			buf[i] = 0
		}
	}
}

// CopyFrom copies sample data from src. Geometries must match.
func (b *Block) CopyFrom(src *Block) error {
	if src.Channels() != b.Channels() || src.Len() != b.Len() {
		return fmt.Errorf("block geometry mismatch: %dx%d vs %dx%d",
			src.Channels(), src.Len(), b.Channels(), b.Len())
	}

	for ch := range b.Samples {
		copy(b.Samples[ch], src.Samples[ch])
	}

	return nil
}

// Scrub zeroes non-finite samples in all channels and returns the count of
// samples replaced.
func (b *Block) Scrub() int {
	scrubbed := 0
	for ch := range b.Samples {
		scrubbed += Scrub(b.Samples[ch])
	}

	return scrubbed
}
