package granular

import (
	"fmt"
	"math"
	"math/rand"
)

// Schedule builds the deterministic grain plan for resynthesizing source at
// the given playback rate. Rate controls how fast the read position walks
// through the source (rate < 1 lengthens the output). Grains that would
// read past the end of the source are truncated, never wrapped or dropped.
func Schedule(cfg Config, sourceLen int, rate float64) ([]Grain, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if sourceLen <= 0 {
		return nil, nil
	}

	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return nil, fmt.Errorf("granular: playback rate must be positive and finite: %f", rate)
	}

	grainSamples := int(math.Round(cfg.GrainLengthMs * 0.001 * cfg.SampleRate))
	if grainSamples < 2 {
		grainSamples = 2
	}

	interval := int(math.Round(cfg.SampleRate / cfg.DensityHz))
	if interval < 1 {
		interval = 1
	}

	jitterSamples := int(math.Round(cfg.JitterMs * 0.001 * cfg.SampleRate))
	rng := rand.New(rand.NewSource(cfg.Seed))

	var grains []Grain

	srcPos := 0.0
	outPos := 0

	for int(srcPos) < sourceLen {
		offset := int(srcPos)
		if offset >= sourceLen {
			offset = sourceLen - 1
		}

		length := grainSamples
		if offset+length > sourceLen {
			length = sourceLen - offset
		}

		// Output placement is the density grid plus the seeded jitter draw;
		// the source read position stays on the grid so playback never
		// skips material.
		outTime := outPos
		if jitterSamples > 0 {
			outTime += int(math.Round((rng.Float64()*2 - 1) * float64(jitterSamples)))
		}

		if outTime < 0 {
			outTime = 0
		}

		grainRate := cfg.PitchRatio
		if cfg.PitchJitter > 0 {
			grainRate *= 1 + (rng.Float64()*2-1)*cfg.PitchJitter
		}

		grains = append(grains, Grain{
			SourceOffset: offset,
			Length:       length,
			Rate:         grainRate,
			OutputTime:   outTime,
		})

		srcPos += float64(interval) * rate
		outPos += interval
	}

	return grains, nil
}

// Synthesize performs one-shot granular resynthesis of source. The grain
// schedule comes from Schedule; each grain is read at its own rate with
// linear interpolation, shaped by a Hann envelope, and overlap-added with
// per-sample envelope normalization.
func Synthesize(cfg Config, source []float64, rate float64) ([]float64, error) {
	grains, err := Schedule(cfg, len(source), rate)
	if err != nil {
		return nil, err
	}

	if len(grains) == 0 {
		return nil, nil
	}

	// Placement jitter means the last scheduled grain is not necessarily
	// the one reaching furthest into the output.
	outLen := 0
	for _, g := range grains {
		if end := g.OutputTime + renderedLen(g); end > outLen {
			outLen = end
		}
	}

	out := make([]float64, outLen)
	norm := make([]float64, outLen)

	for _, g := range grains {
		renderGrain(out, norm, source, g)
	}

	for i := range out {
		if norm[i] > envNormFloor {
			out[i] /= norm[i]
		}
	}

	return out, nil
}

// renderedLen is the output span of a grain: playback at g.Rate shortens or
// lengthens it relative to the source length.
func renderedLen(g Grain) int {
	if g.Rate == 1 {
		return g.Length
	}

	rendered := int(float64(g.Length) / g.Rate)
	if rendered < 2 {
		rendered = 2
	}

	return rendered
}

func renderGrain(out, norm, source []float64, g Grain) {
	// The envelope always spans the rendered length so grain edges stay
	// click-free.
	rendered := renderedLen(g)

	for i := 0; i < rendered; i++ {
		idx := g.OutputTime + i
		if idx >= len(out) {
			break
		}

		pos := float64(g.SourceOffset) + float64(i)*g.Rate

		hi := int(pos) + 1
		if hi > g.SourceOffset+g.Length-1 {
			break
		}

		lo := int(pos)
		frac := pos - float64(lo)
		sample := source[lo] + (source[hi]-source[lo])*frac

		env := hannEnv(i, rendered)
		out[idx] += sample * env
		norm[idx] += env
	}
}
