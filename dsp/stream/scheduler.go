package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cwbudde/algo-stream/dsp/core"
)

// Source supplies fixed-size input blocks. ReadBlock fills the given block
// completely and returns io.EOF when the stream ends; a partial final block
// must be zero-padded by the source.
type Source interface {
	ReadBlock(block *core.Block) error
}

// Sink consumes processed blocks. The block passed to WriteBlock is reused
// by the scheduler; sinks must copy what they keep.
type Sink interface {
	WriteBlock(block *core.Block) error
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Blocks    int
	Underruns int
	Scrubbed  int
	Dropped   int
}

// Scheduler drives a Pipeline in a pull loop: read a block from the source,
// process it against the per-block deadline, push it to the sink. A block
// that misses its deadline is replaced with silence and counted as an
// underrun; the session state has still advanced, so the stream stays
// aligned. Cancellation is observed at block boundaries only.
type Scheduler struct {
	pipeline *Pipeline
	deadline time.Duration

	in  *core.Block
	out *core.Block

	blocks    int
	underruns int
}

// NewScheduler creates a scheduler around an existing pipeline. The
// deadline comes from the pipeline's config.
func NewScheduler(pipeline *Pipeline) (*Scheduler, error) {
	cfg := pipeline.Config()

	in, err := core.NewBlock(cfg.Channels, cfg.BlockSize, cfg.SampleRate)
	if err != nil {
		return nil, err
	}

	out, err := core.NewBlock(cfg.Channels, cfg.BlockSize, cfg.SampleRate)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		pipeline: pipeline,
		deadline: cfg.Deadline,
		in:       in,
		out:      out,
	}, nil
}

// Pipeline returns the driven pipeline.
func (s *Scheduler) Pipeline() *Pipeline { return s.pipeline }

// Stats returns the current counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Blocks:    s.blocks,
		Underruns: s.underruns,
		Scrubbed:  s.pipeline.Scrubbed(),
		Dropped:   s.pipeline.Dropped(),
	}
}

// Run pulls, processes, and pushes blocks until the source is exhausted or
// ctx is cancelled. It returns nil on clean end of stream and the context
// error on cancellation.
func (s *Scheduler) Run(ctx context.Context, source Source, sink Sink) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := source.ReadBlock(s.in)
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("stream: source: %w", err)
		}

		start := time.Now()

		if err := s.pipeline.ProcessBlock(s.in, s.out); err != nil {
			return err
		}

		if s.deadline > 0 && time.Since(start) > s.deadline {
			s.out.Zero()
			s.underruns++
		}

		s.blocks++

		if err := sink.WriteBlock(s.out); err != nil {
			return fmt.Errorf("stream: sink: %w", err)
		}
	}
}

// SliceSource feeds pre-loaded channel buffers block by block, zero-padding
// the final partial block.
type SliceSource struct {
	samples [][]float64
	pos     int
}

// NewSliceSource wraps per-channel sample slices. All channels must have
// equal length.
func NewSliceSource(samples [][]float64) (*SliceSource, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("stream: slice source needs at least one channel")
	}

	for ch := 1; ch < len(samples); ch++ {
		if len(samples[ch]) != len(samples[0]) {
			return nil, fmt.Errorf("stream: slice source channels must have equal length: ch0=%d ch%d=%d",
				len(samples[0]), ch, len(samples[ch]))
		}
	}

	return &SliceSource{samples: samples}, nil
}

// ReadBlock fills block from the buffers, returning io.EOF once all samples
// have been consumed.
func (s *SliceSource) ReadBlock(block *core.Block) error {
	if block.Channels() != len(s.samples) {
		return fmt.Errorf("stream: slice source has %d channels: block has %d", len(s.samples), block.Channels())
	}

	if s.pos >= len(s.samples[0]) {
		return io.EOF
	}

	for ch, src := range s.samples {
		n := copy(block.Samples[ch], src[s.pos:])
		for i := n; i < block.Len(); i++ {
			block.Samples[ch][i] = 0
		}
	}

	s.pos += block.Len()

	return nil
}

// SliceSink collects processed blocks into growing per-channel buffers.
type SliceSink struct {
	samples [][]float64
}

// NewSliceSink creates a sink for the given channel count.
func NewSliceSink(channels int) *SliceSink {
	return &SliceSink{samples: make([][]float64, channels)}
}

// WriteBlock appends a copy of the block's samples.
func (s *SliceSink) WriteBlock(block *core.Block) error {
	if block.Channels() != len(s.samples) {
		return fmt.Errorf("stream: slice sink has %d channels: block has %d", len(s.samples), block.Channels())
	}

	for ch := range s.samples {
		s.samples[ch] = append(s.samples[ch], block.Samples[ch]...)
	}

	return nil
}

// Samples returns the collected per-channel buffers.
func (s *SliceSink) Samples() [][]float64 { return s.samples }
