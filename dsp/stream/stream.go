// Package stream assembles the processing packages into a block-based
// pipeline and a deadline-aware pull scheduler. A pipeline owns all DSP
// state for one session; geometry and channel count are fixed at
// construction and reconfiguration means building a new session.
package stream

import (
	"fmt"
	"math"
	"time"

	"github.com/cwbudde/algo-stream/dsp/core"
	"github.com/cwbudde/algo-stream/dsp/effects"
	"github.com/cwbudde/algo-stream/dsp/framebuf"
	"github.com/cwbudde/algo-stream/dsp/granular"
	"github.com/cwbudde/algo-stream/dsp/stft"
	"github.com/cwbudde/algo-stream/dsp/vocoder"
	"github.com/cwbudde/algo-stream/dsp/window"
)

const (
	// DefaultFrameSize balances frequency resolution against latency for
	// musical material at common sample rates.
	DefaultFrameSize = 2048

	// DefaultBlockSize is the per-call block length of the streaming path.
	DefaultBlockSize = 512
)

// ReverbConfig selects the reverb impulse response. Either a literal
// Impulse or a positive DecaySeconds (synthesized exponential decay) must
// be given when the reverb stage is enabled.
type ReverbConfig struct {
	Impulse      []float64
	DecaySeconds float64
	Params       effects.ReverbParams
}

// Config describes one pipeline session. Stage configs are pointers; nil
// disables the stage. Ratio zero disables the matching vocoder stage.
type Config struct {
	SampleRate float64
	Channels   int
	BlockSize  int
	FrameSize  int
	Hop        int
	Window     window.Type

	PitchRatio   float64
	StretchRatio float64

	Granular *granular.Config

	Compressor *effects.CompressorParams
	Shelf      *effects.ShelfParams
	Reverb     *ReverbConfig

	// EffectOrder fixes the chain order. Nil selects compressor,
	// equalizer, reverb; listed kinds must be configured.
	EffectOrder []effects.StageKind

	// Deadline is the per-block processing budget of the scheduler.
	// Zero disables deadline accounting.
	Deadline time.Duration
}

// DefaultConfig returns a session config with standard geometry: 2048-point
// Hann frames at 75% overlap, 512-sample blocks, and no stages enabled.
func DefaultConfig(sampleRate float64, channels int) Config {
	return Config{
		SampleRate: sampleRate,
		Channels:   channels,
		BlockSize:  DefaultBlockSize,
		FrameSize:  DefaultFrameSize,
		Hop:        DefaultFrameSize / 4,
		Window:     window.TypeHann,
	}
}

func (c Config) withDefaults() Config {
	if c.BlockSize == 0 {
		c.BlockSize = DefaultBlockSize
	}

	if c.FrameSize == 0 {
		c.FrameSize = DefaultFrameSize
	}

	if c.Hop == 0 {
		c.Hop = c.FrameSize / 4
	}

	return c
}

func (c Config) validate() error {
	if c.SampleRate <= 0 || !core.IsFinite(c.SampleRate) {
		return fmt.Errorf("stream: sample rate must be positive and finite: %f", c.SampleRate)
	}

	if c.Channels <= 0 {
		return fmt.Errorf("stream: channel count must be positive: %d", c.Channels)
	}

	if c.BlockSize <= 0 {
		return fmt.Errorf("stream: block size must be positive: %d", c.BlockSize)
	}

	if !c.Window.Valid() {
		return fmt.Errorf("stream: unsupported window type: %d", c.Window)
	}

	if c.Reverb != nil && len(c.Reverb.Impulse) == 0 && c.Reverb.DecaySeconds <= 0 {
		return fmt.Errorf("stream: reverb enabled without impulse response or decay time")
	}

	return nil
}

// spectral reports whether the session runs the STFT path at all.
func (c Config) spectral() bool {
	return c.PitchRatio != 0 || c.StretchRatio != 0
}

// channelState carries the per-channel DSP state of a pipeline.
type channelState struct {
	analyzer    *framebuf.Analyzer
	synthesizer *framebuf.Synthesizer
	shifter     *vocoder.PitchShifter
	stretcher   *vocoder.TimeStretcher
	grains      *granular.Synth

	// fifo holds produced samples awaiting emission. With a stretch ratio
	// other than 1 production and consumption rates differ, so the fifo
	// absorbs the mismatch.
	fifo []float64

	// render is the frame sink of the time-stretch path, built once at
	// construction so the hot path does not allocate closures.
	render func(stft.Spectrum) error
}

// Pipeline is one configured processing session. It is single-threaded by
// contract; run independent Pipelines on independent goroutines.
type Pipeline struct {
	cfg      Config
	usesSTFT bool

	transform *stft.Transform
	channels  []*channelState
	chain     *effects.Chain

	frame     []float64
	timeFrame []float64
	spec      stft.Spectrum

	// fifoMax bounds the per-channel backlog on the streaming path; samples
	// produced past it are discarded and counted in dropped.
	fifoMax int

	blocks   int
	scrubbed int
	dropped  int
}

// NewPipeline validates cfg and pre-allocates every buffer, plan, and stage
// the session needs. No audio has flowed when an error is returned.
func NewPipeline(cfg Config) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:      cfg,
		usesSTFT: cfg.spectral(),
		channels: make([]*channelState, cfg.Channels),
		fifoMax:  4*cfg.BlockSize + cfg.FrameSize,
	}

	if p.usesSTFT {
		transform, err := stft.New(cfg.FrameSize)
		if err != nil {
			return nil, err
		}

		p.transform = transform
		p.frame = make([]float64, cfg.FrameSize)
		p.timeFrame = make([]float64, cfg.FrameSize)
		p.spec = transform.NewSpectrum()
	}

	for ch := range p.channels {
		cs, err := p.newChannelState(ch)
		if err != nil {
			return nil, err
		}

		p.channels[ch] = cs
	}

	chain, err := buildChain(cfg)
	if err != nil {
		return nil, err
	}

	p.chain = chain

	return p, nil
}

func (p *Pipeline) newChannelState(ch int) (*channelState, error) {
	cfg := p.cfg

	// The fifo must absorb one block's worst-case production on top of the
	// backlog cap without reallocating mid-stream. Stretch ratios below 1
	// multiply production by 1/ratio.
	produce := cfg.BlockSize + cfg.FrameSize
	if r := cfg.StretchRatio; r != 0 && r < 1 {
		produce = int(math.Ceil(float64(produce) / r))
	}

	cs := &channelState{
		fifo: make([]float64, 0, p.fifoMax+produce),
	}

	if p.usesSTFT {
		analyzer, err := framebuf.NewAnalyzer(cfg.FrameSize, cfg.Hop, cfg.Window)
		if err != nil {
			return nil, err
		}

		synthesizer, err := framebuf.NewSynthesizer(cfg.FrameSize, cfg.Hop, cfg.Window)
		if err != nil {
			return nil, err
		}

		cs.analyzer = analyzer
		cs.synthesizer = synthesizer

		if cfg.PitchRatio != 0 {
			shifter, err := vocoder.NewPitchShifter(cfg.FrameSize, cfg.Hop, cfg.PitchRatio)
			if err != nil {
				return nil, err
			}

			cs.shifter = shifter
		}

		if cfg.StretchRatio != 0 {
			stretcher, err := vocoder.NewTimeStretcher(cfg.FrameSize, cfg.Hop, cfg.StretchRatio)
			if err != nil {
				return nil, err
			}

			cs.stretcher = stretcher
		}

		cs.render = func(spec stft.Spectrum) error {
			if err := p.transform.Inverse(p.timeFrame, spec); err != nil {
				return err
			}

			emitted, err := cs.synthesizer.Pull(p.timeFrame)
			if err != nil {
				return err
			}

			cs.fifo = append(cs.fifo, emitted...)

			return nil
		}
	}

	if cfg.Granular != nil {
		gc := *cfg.Granular
		if gc.SampleRate == 0 {
			gc.SampleRate = cfg.SampleRate
		}

		// Offset seeds decorrelate channels while keeping each channel
		// deterministic.
		gc.Seed += int64(ch)

		synth, err := granular.NewSynth(gc)
		if err != nil {
			return nil, err
		}

		cs.grains = synth
	}

	return cs, nil
}

func buildChain(cfg Config) (*effects.Chain, error) {
	order := cfg.EffectOrder
	if order == nil {
		order = []effects.StageKind{}

		if cfg.Compressor != nil {
			order = append(order, effects.KindCompressor)
		}

		if cfg.Shelf != nil {
			order = append(order, effects.KindEqualizer)
		}

		if cfg.Reverb != nil {
			order = append(order, effects.KindReverb)
		}
	}

	stages := make([]effects.Stage, 0, len(order))

	for _, kind := range order {
		switch kind {
		case effects.KindCompressor:
			if cfg.Compressor == nil {
				return nil, fmt.Errorf("stream: effect order names unconfigured compressor")
			}

			stage, err := effects.NewCompressor(cfg.SampleRate, cfg.Channels, *cfg.Compressor)
			if err != nil {
				return nil, err
			}

			stages = append(stages, stage)

		case effects.KindEqualizer:
			if cfg.Shelf == nil {
				return nil, fmt.Errorf("stream: effect order names unconfigured equalizer")
			}

			stage, err := effects.NewShelfEQ(cfg.SampleRate, cfg.Channels, *cfg.Shelf)
			if err != nil {
				return nil, err
			}

			stages = append(stages, stage)

		case effects.KindReverb:
			if cfg.Reverb == nil {
				return nil, fmt.Errorf("stream: effect order names unconfigured reverb")
			}

			impulse := cfg.Reverb.Impulse
			if len(impulse) == 0 {
				synthesized, err := effects.SynthesizeImpulse(cfg.SampleRate, cfg.Reverb.DecaySeconds)
				if err != nil {
					return nil, err
				}

				impulse = synthesized
			}

			stage, err := effects.NewConvolutionReverb(impulse, cfg.BlockSize, cfg.Channels, cfg.Reverb.Params)
			if err != nil {
				return nil, err
			}

			stages = append(stages, stage)

		default:
			return nil, fmt.Errorf("stream: unknown effect kind in order: %d", kind)
		}
	}

	return effects.NewChain(stages...), nil
}

// Config returns the session configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Chain returns the effects chain for bypass control and scrub stats.
func (p *Pipeline) Chain() *effects.Chain { return p.chain }

// Blocks returns the number of blocks processed since construction or Reset.
func (p *Pipeline) Blocks() int { return p.blocks }

// Scrubbed returns the lifetime count of non-finite samples zeroed, at the
// pipeline entry and inside the effects chain combined.
func (p *Pipeline) Scrubbed() int { return p.scrubbed + p.chain.Scrubbed() }

// Dropped returns the lifetime count of samples discarded by the streaming
// backlog cap.
func (p *Pipeline) Dropped() int { return p.dropped }

// Latency returns the fixed buffering delay of the session in samples.
func (p *Pipeline) Latency() int {
	if !p.usesSTFT {
		return 0
	}

	return p.cfg.FrameSize - p.cfg.Hop
}

// Reset clears all per-channel and per-stage state for a discontinuous
// restart of the same session.
func (p *Pipeline) Reset() {
	for _, cs := range p.channels {
		if cs.analyzer != nil {
			cs.analyzer.Reset()
			cs.synthesizer.Reset()
		}

		if cs.shifter != nil {
			cs.shifter.Reset()
		}

		if cs.stretcher != nil {
			cs.stretcher.Reset()
		}

		if cs.grains != nil {
			cs.grains.Reset()
		}

		cs.fifo = cs.fifo[:0]
	}

	p.chain.Reset()
	p.blocks = 0
}

// ProcessBlock runs one fixed-size block through the session: spectral
// stages per channel, granular resynthesis, then the effects chain. in and
// out must both match the configured channel count and block size; they may
// be the same block. Output during the initial latency period is silence.
//
// Non-finite input samples are zeroed in place before they can reach the
// analyzer, the phase accumulators, or the granular ring; the count is
// surfaced through Scrubbed.
func (p *Pipeline) ProcessBlock(in, out *core.Block) error {
	if err := p.checkBlock(in); err != nil {
		return err
	}

	if err := p.checkBlock(out); err != nil {
		return err
	}

	p.scrubbed += in.Scrub()

	for ch, cs := range p.channels {
		if err := p.processChannel(cs, in.Samples[ch]); err != nil {
			return err
		}

		// Backlog cap: with stretch ratios below 1 production outpaces the
		// one-block drain. Surplus past the cap is discarded newest-first
		// so queued audio stays contiguous, and counted in dropped.
		if excess := len(cs.fifo) - p.fifoMax; excess > 0 {
			cs.fifo = cs.fifo[:p.fifoMax]
			p.dropped += excess
		}

		p.drain(cs, out.Samples[ch])
	}

	if err := p.chain.ProcessBlock(out); err != nil {
		return err
	}

	p.blocks++

	return nil
}

func (p *Pipeline) checkBlock(block *core.Block) error {
	if block.Channels() != p.cfg.Channels {
		return fmt.Errorf("stream: block must have %d channels: %d", p.cfg.Channels, block.Channels())
	}

	if block.Len() != p.cfg.BlockSize {
		return fmt.Errorf("stream: block must have %d samples: %d", p.cfg.BlockSize, block.Len())
	}

	return nil
}

func (p *Pipeline) processChannel(cs *channelState, in []float64) error {
	produced := len(cs.fifo)

	if !p.usesSTFT {
		cs.fifo = append(cs.fifo, in...)
	} else {
		cs.analyzer.Push(in)

		for {
			ok, err := cs.analyzer.NextFrame(p.frame)
			if err != nil {
				return err
			}

			if !ok {
				break
			}

			if err := p.transform.Forward(p.spec, p.frame); err != nil {
				return err
			}

			if cs.shifter != nil {
				if err := cs.shifter.ProcessFrame(p.spec, p.spec); err != nil {
					return err
				}
			}

			if cs.stretcher != nil {
				if err := cs.stretcher.ProcessFrame(p.spec, cs.render); err != nil {
					return err
				}
			} else if err := cs.render(p.spec); err != nil {
				return err
			}
		}
	}

	if cs.grains != nil {
		cs.grains.ProcessInPlace(cs.fifo[produced:])
	}

	return nil
}

// drain emits one block of produced samples, or silence while the fifo is
// starved (session start, or stretch ratios above 1). Partial fifo content
// is never emitted; splitting a run with padding would insert silence in
// the middle of the stream.
func (p *Pipeline) drain(cs *channelState, out []float64) {
	if len(cs.fifo) < len(out) {
		for i := range out {
			out[i] = 0
		}

		return
	}

	n := copy(out, cs.fifo)
	remaining := copy(cs.fifo, cs.fifo[n:])
	cs.fifo = cs.fifo[:remaining]
}

// Buffered returns the per-channel fifo depth in samples, useful for
// monitoring stretch-ratio drift.
func (p *Pipeline) Buffered(channel int) int {
	if channel < 0 || channel >= len(p.channels) {
		return 0
	}

	return len(p.channels[channel].fifo)
}
