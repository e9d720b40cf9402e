// Command streamfx processes WAV files through a configurable DSP pipeline:
// pitch shifting, time stretching, granular resynthesis, and a compressor /
// shelving EQ / convolution reverb chain.
//
// Usage:
//
//	streamfx -pitch 12 input.wav output.wav
//	streamfx -stretch 0.5 input.wav output.wav          # double the duration
//	streamfx -config pipeline.yaml input.wav output.wav
//
// Flags override the matching config file fields.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/cwbudde/algo-stream/dsp/core"
	"github.com/cwbudde/algo-stream/dsp/stream"
)

const defaultBitDepth = 16

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	configPath := flag.String("config", "", "YAML pipeline config file")
	pitch := flag.Float64("pitch", 0, "Pitch shift in semitones (overrides config)")
	stretch := flag.Float64("stretch", 0, "Time stretch ratio, <1 lengthens (overrides config)")
	verbose := flag.Bool("v", false, "Verbose output")
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] input.wav output.wav\n\nOptions:\n", os.Args[0])
		flag.PrintDefaults()
		return fmt.Errorf("insufficient arguments")
	}

	inputPath := args[0]
	outputPath := args[1]

	fc := &fileConfig{}
	if *configPath != "" {
		loaded, err := loadFileConfig(*configPath)
		if err != nil {
			return err
		}

		fc = loaded
	}

	if *pitch != 0 {
		fc.PitchSemitones = *pitch
		fc.PitchRatio = 0
	}

	if *stretch != 0 {
		fc.StretchRatio = *stretch
	}

	samples, sampleRate, bitDepth, err := readWAV(inputPath)
	if err != nil {
		return err
	}

	cfg, err := fc.buildStreamConfig(float64(sampleRate), len(samples))
	if err != nil {
		return err
	}

	pipeline, err := stream.NewPipeline(cfg)
	if err != nil {
		return err
	}

	if *verbose {
		log.Printf("input: %s (%d Hz, %d channels, %d-bit, %d samples)",
			inputPath, sampleRate, len(samples), bitDepth, len(samples[0]))
		log.Printf("frame=%d hop=%d block=%d window=%s",
			cfg.FrameSize, cfg.Hop, cfg.BlockSize, cfg.Window.Name())

		if cfg.PitchRatio != 0 {
			log.Printf("pitch ratio: %.4f", cfg.PitchRatio)
		}

		if cfg.StretchRatio != 0 {
			log.Printf("stretch ratio: %.4f", cfg.StretchRatio)
		}
	}

	start := time.Now()

	processed, err := pipeline.ProcessBuffer(samples)
	if err != nil {
		return err
	}

	elapsed := time.Since(start)

	if err := writeWAV(outputPath, processed, sampleRate, bitDepth); err != nil {
		return err
	}

	if scrubbed := pipeline.Scrubbed(); scrubbed > 0 {
		log.Printf("warning: %d non-finite samples scrubbed to zero", scrubbed)
	}

	fmt.Printf("Processed %s -> %s\n", inputPath, outputPath)
	fmt.Printf("  %d samples -> %d samples in %.2fs\n",
		len(samples[0]), len(processed[0]), elapsed.Seconds())

	return nil
}

// readWAV decodes a WAV file into normalized per-channel float buffers.
func readWAV(path string) (samples [][]float64, sampleRate, bitDepth int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = f.Close() }()

	decoder := wav.NewDecoder(f)

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode %s: %w", path, err)
	}

	if buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, 0, 0, fmt.Errorf("decode %s: missing format information", path)
	}

	channels := buf.Format.NumChannels
	sampleRate = buf.Format.SampleRate

	bitDepth = buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = defaultBitDepth
	}

	frames := len(buf.Data) / channels
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))

	samples = make([][]float64, channels)
	for ch := range samples {
		samples[ch] = make([]float64, frames)
	}

	for i := 0; i < frames; i++ {
		base := i * channels
		for ch := 0; ch < channels; ch++ {
			samples[ch][i] = float64(buf.Data[base+ch]) * scale
		}
	}

	return samples, sampleRate, bitDepth, nil
}

// writeWAV encodes per-channel float buffers as interleaved PCM.
func writeWAV(path string, samples [][]float64, sampleRate, bitDepth int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	channels := len(samples)
	frames := len(samples[0])
	scale := float64(int64(1)<<(bitDepth-1)) - 1

	data := make([]int, frames*channels)

	for i := 0; i < frames; i++ {
		base := i * channels
		for ch := 0; ch < channels; ch++ {
			v := core.Clamp(samples[ch][i], -1, 1)
			data[base+ch] = int(math.Round(v * scale))
		}
	}

	encoder := wav.NewEncoder(f, sampleRate, bitDepth, channels, 1)

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}

	if err := encoder.Write(buf); err != nil {
		_ = encoder.Close()
		_ = f.Close()

		return fmt.Errorf("encode %s: %w", path, err)
	}

	if err := encoder.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("finalize %s: %w", path, err)
	}

	return f.Close()
}
