package stream

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-stream/dsp/core"
)

// ProcessBuffer runs whole per-channel buffers through the session offline.
// The spectral path is flushed with silence so every input sample is covered
// by complete frames, and the output length is pinned: equal to the input
// length, or input/ratio when time stretching. The effects chain then runs
// over the result in block-size chunks.
//
// ProcessBuffer is meant for a fresh or Reset session; it shares state with
// the streaming path.
func (p *Pipeline) ProcessBuffer(src [][]float64) ([][]float64, error) {
	if len(src) != p.cfg.Channels {
		return nil, fmt.Errorf("stream: buffer must have %d channels: %d", p.cfg.Channels, len(src))
	}

	inputLen := len(src[0])

	for ch := 1; ch < len(src); ch++ {
		if len(src[ch]) != inputLen {
			return nil, fmt.Errorf("stream: buffer channels must have equal length: ch0=%d ch%d=%d",
				inputLen, ch, len(src[ch]))
		}
	}

	outLen := inputLen
	if r := p.cfg.StretchRatio; r != 0 && r != 1 {
		outLen = int(math.Round(float64(inputLen) / r))
	}

	out := make([][]float64, len(src))

	var flush []float64
	if p.usesSTFT {
		flush = make([]float64, p.cfg.FrameSize)
	}

	for ch, cs := range p.channels {
		// Same entry scrub as the streaming path: src is sanitized in
		// place before it reaches persistent spectral state.
		p.scrubbed += core.Scrub(src[ch])

		if err := p.processChannel(cs, src[ch]); err != nil {
			return nil, err
		}

		if flush != nil {
			if err := p.processChannel(cs, flush); err != nil {
				return nil, err
			}
		}

		buf := make([]float64, outLen)
		copy(buf, cs.fifo)
		cs.fifo = cs.fifo[:0]

		out[ch] = buf
	}

	if err := p.chainBuffer(out, outLen); err != nil {
		return nil, err
	}

	return out, nil
}

// chainBuffer runs the effects chain over full buffers in block-size
// chunks, padding the tail chunk with silence and trimming it afterwards.
func (p *Pipeline) chainBuffer(buffers [][]float64, length int) error {
	if len(p.chain.Stages()) == 0 || length == 0 {
		return nil
	}

	blockSize := p.cfg.BlockSize
	padded := ((length + blockSize - 1) / blockSize) * blockSize

	for ch := range buffers {
		if len(buffers[ch]) < padded {
			grown := make([]float64, padded)
			copy(grown, buffers[ch])
			buffers[ch] = grown
		}
	}

	block := &core.Block{SampleRate: p.cfg.SampleRate, Samples: make([][]float64, len(buffers))}

	for offset := 0; offset < padded; offset += blockSize {
		for ch := range buffers {
			block.Samples[ch] = buffers[ch][offset : offset+blockSize]
		}

		if err := p.chain.ProcessBlock(block); err != nil {
			return err
		}

		p.blocks++
	}

	for ch := range buffers {
		buffers[ch] = buffers[ch][:length]
	}

	return nil
}
