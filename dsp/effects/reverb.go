package effects

import (
	"fmt"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"

	"github.com/cwbudde/algo-stream/dsp/core"
)

// ReverbParams configure a ConvolutionReverb stage.
type ReverbParams struct {
	// Wet and Dry are the send and pass-through levels of the mix.
	Wet float64
	Dry float64
}

// DefaultReverbParams returns a half-wet send mix.
func DefaultReverbParams() ReverbParams {
	return ReverbParams{Wet: 0.5, Dry: 1.0}
}

func (p ReverbParams) validate() error {
	if p.Wet < 0 || p.Wet > 1 || !core.IsFinite(p.Wet) {
		return fmt.Errorf("effects: reverb wet level must be in [0, 1]: %f", p.Wet)
	}

	if p.Dry < 0 || p.Dry > 1 || !core.IsFinite(p.Dry) {
		return fmt.Errorf("effects: reverb dry level must be in [0, 1]: %f", p.Dry)
	}

	return nil
}

// blockConvolver is a streaming FFT overlap-add convolver for one channel
// with a fixed block size. The final kernelLen-1 samples of every block's
// linear convolution are carried into the next block, so block boundaries
// are seamless.
type blockConvolver struct {
	kernelFFT []complex128

	kernelLen int
	blockSize int
	fftSize   int

	plan *algofft.Plan[complex128]

	inputPadded  []complex128
	outputPadded []complex128
	convResult   []float64

	tail []float64
}

func newBlockConvolver(kernel []float64, blockSize int) (*blockConvolver, error) {
	if len(kernel) == 0 {
		return nil, fmt.Errorf("effects: empty impulse response kernel")
	}

	if blockSize <= 0 {
		return nil, fmt.Errorf("effects: convolver block size must be positive: %d", blockSize)
	}

	kernelLen := len(kernel)

	// Linear convolution of one block spans blockSize + kernelLen - 1
	// samples; the FFT must hold all of it.
	fftSize := nextPowerOf2(blockSize + kernelLen - 1)

	plan, err := algofft.NewPlan64(fftSize)
	if err != nil {
		return nil, fmt.Errorf("effects: failed to create FFT plan: %w", err)
	}

	bc := &blockConvolver{
		kernelFFT:    make([]complex128, fftSize),
		kernelLen:    kernelLen,
		blockSize:    blockSize,
		fftSize:      fftSize,
		plan:         plan,
		inputPadded:  make([]complex128, fftSize),
		outputPadded: make([]complex128, fftSize),
		convResult:   make([]float64, blockSize+kernelLen-1),
		tail:         make([]float64, kernelLen-1),
	}

	kernelPadded := make([]complex128, fftSize)
	for i, v := range kernel {
		kernelPadded[i] = complex(v, 0)
	}

	if err := plan.Forward(bc.kernelFFT, kernelPadded); err != nil {
		return nil, fmt.Errorf("effects: failed to transform impulse response: %w", err)
	}

	return bc, nil
}

// processTo convolves one input block into output. Both must be blockSize
// samples. No allocations.
func (bc *blockConvolver) processTo(output, input []float64) error {
	if len(input) != bc.blockSize || len(output) != bc.blockSize {
		return fmt.Errorf("effects: convolver expects %d-sample blocks: in=%d out=%d",
			bc.blockSize, len(input), len(output))
	}

	for i := range bc.inputPadded {
		bc.inputPadded[i] = 0
	}

	for i, v := range input {
		bc.inputPadded[i] = complex(v, 0)
	}

	if err := bc.plan.Forward(bc.inputPadded, bc.inputPadded); err != nil {
		return fmt.Errorf("effects: forward FFT failed: %w", err)
	}

	for i := range bc.outputPadded {
		bc.outputPadded[i] = bc.inputPadded[i] * bc.kernelFFT[i]
	}

	if err := bc.plan.Inverse(bc.outputPadded, bc.outputPadded); err != nil {
		return fmt.Errorf("effects: inverse FFT failed: %w", err)
	}

	resultLen := bc.blockSize + bc.kernelLen - 1
	for i := 0; i < resultLen; i++ {
		bc.convResult[i] = real(bc.outputPadded[i])
	}

	for i := 0; i < len(bc.tail) && i < resultLen; i++ {
		bc.convResult[i] += bc.tail[i]
	}

	copy(output, bc.convResult[:bc.blockSize])

	tailLen := resultLen - bc.blockSize
	for i := 0; i < tailLen; i++ {
		bc.tail[i] = bc.convResult[bc.blockSize+i]
	}

	for i := tailLen; i < len(bc.tail); i++ {
		bc.tail[i] = 0
	}

	return nil
}

func (bc *blockConvolver) reset() {
	for i := range bc.tail {
		bc.tail[i] = 0
	}
}

// ConvolutionReverb convolves each channel with a shared impulse response
// using streaming overlap-add FFT convolution, then blends the wet result
// with the dry input. Reverb tails persist across block boundaries until
// Reset.
type ConvolutionReverb struct {
	bypass

	params     ReverbParams
	blockSize  int
	convolvers []*blockConvolver
	wetBuf     []float64
}

// NewConvolutionReverb creates a reverb stage for the given channel count
// and fixed block size. All channels share the impulse response but keep
// independent tails.
func NewConvolutionReverb(impulse []float64, blockSize, channels int, params ReverbParams) (*ConvolutionReverb, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("effects: reverb channel count must be positive: %d", channels)
	}

	if err := params.validate(); err != nil {
		return nil, err
	}

	convolvers := make([]*blockConvolver, channels)

	for ch := range convolvers {
		bc, err := newBlockConvolver(impulse, blockSize)
		if err != nil {
			return nil, err
		}

		convolvers[ch] = bc
	}

	return &ConvolutionReverb{
		params:     params,
		blockSize:  blockSize,
		convolvers: convolvers,
		wetBuf:     make([]float64, blockSize),
	}, nil
}

// Kind identifies the stage.
func (r *ConvolutionReverb) Kind() StageKind { return KindReverb }

// Params returns the active wet/dry mix.
func (r *ConvolutionReverb) Params() ReverbParams { return r.params }

// SetParams updates the wet/dry mix. The impulse response and tails are
// untouched.
func (r *ConvolutionReverb) SetParams(params ReverbParams) error {
	if err := params.validate(); err != nil {
		return err
	}

	r.params = params

	return nil
}

// Reset clears the overlap tails of all channels.
func (r *ConvolutionReverb) Reset() {
	for _, bc := range r.convolvers {
		bc.reset()
	}
}

// ProcessBlock applies the reverb to every channel of the block in place.
// The block length must equal the configured block size.
func (r *ConvolutionReverb) ProcessBlock(block *core.Block) error {
	if block.Channels() != len(r.convolvers) {
		return fmt.Errorf("effects: reverb expects %d channels: %d", len(r.convolvers), block.Channels())
	}

	if block.Len() != r.blockSize {
		return fmt.Errorf("effects: reverb expects %d-sample blocks: %d", r.blockSize, block.Len())
	}

	wet := r.params.Wet
	dry := r.params.Dry

	for ch, samples := range block.Samples {
		if err := r.convolvers[ch].processTo(r.wetBuf, samples); err != nil {
			return err
		}

		for i := range samples {
			samples[i] = dry*samples[i] + wet*r.wetBuf[i]
		}
	}

	return nil
}

// SynthesizeImpulse builds an exponentially decaying noise-free impulse
// response of the given decay time. The envelope is exp(-3t/decay), which
// puts the tail roughly 26 dB down at t = decay. Sample 0 carries the
// direct impulse.
func SynthesizeImpulse(sampleRate, decaySeconds float64) ([]float64, error) {
	if sampleRate <= 0 || !core.IsFinite(sampleRate) {
		return nil, fmt.Errorf("effects: impulse sample rate must be positive and finite: %f", sampleRate)
	}

	if decaySeconds <= 0 || !core.IsFinite(decaySeconds) {
		return nil, fmt.Errorf("effects: impulse decay must be positive and finite: %f", decaySeconds)
	}

	length := int(math.Ceil(decaySeconds * sampleRate))
	if length < 1 {
		length = 1
	}

	impulse := make([]float64, length)
	impulse[0] = 1

	// Sparse decaying taps approximate early reflections and tail without
	// a noise source, keeping the response deterministic.
	for i := 1; i < length; i++ {
		t := float64(i) / sampleRate
		env := math.Exp(-3 * t / decaySeconds)

		if i%7 == 0 || i%11 == 0 {
			sign := 1.0
			if i%2 == 0 {
				sign = -1
			}

			impulse[i] = sign * env * 0.05
		}
	}

	return impulse, nil
}

func nextPowerOf2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}

	return p
}
