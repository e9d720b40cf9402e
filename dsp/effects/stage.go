// Package effects provides the stateful time-domain effect stages of the
// streaming engine (compressor, convolution reverb, shelving equalizer) and
// the ordered chain that runs them.
package effects

import (
	"fmt"

	"github.com/cwbudde/algo-stream/dsp/core"
)

// StageKind is the closed enumeration of effect stages. Stages are
// dispatched through this enum; there is no runtime type registry.
type StageKind int

const (
	KindCompressor StageKind = iota
	KindReverb
	KindEqualizer
)

var stageKindNames = map[StageKind]string{
	KindCompressor: "compressor",
	KindReverb:     "reverb",
	KindEqualizer:  "equalizer",
}

// Name returns a stable lowercase name for k, or "unknown".
func (k StageKind) Name() string {
	if name, ok := stageKindNames[k]; ok {
		return name
	}

	return "unknown"
}

// ParseStageKind resolves a stage name to its StageKind.
func ParseStageKind(name string) (StageKind, error) {
	for k, n := range stageKindNames {
		if n == name {
			return k, nil
		}
	}

	return 0, fmt.Errorf("effects: unknown stage kind: %q", name)
}

// Stage is one stateful block processor in the chain. Implementations carry
// their own persistent state across calls and are not safe for concurrent
// use.
type Stage interface {
	Kind() StageKind

	// ProcessBlock transforms the block in place. Block geometry must
	// match the geometry the stage was constructed for.
	ProcessBlock(block *core.Block) error

	// Reset clears all persistent state (envelopes, tails, filter
	// history) for a discontinuous restart.
	Reset()
}

// bypass is the shared enable/disable switch embedded in every stage.
type bypass struct {
	bypassed bool
}

// SetBypassed enables or disables the stage. A bypassed stage passes blocks
// through untouched while keeping its state.
func (b *bypass) SetBypassed(v bool) { b.bypassed = v }

// Bypassed reports whether the stage is bypassed.
func (b *bypass) Bypassed() bool { return b.bypassed }

// Chain runs stages strictly in configured order, handing each stage the
// previous stage's output block. Non-finite samples entering a stage are
// zeroed and counted so one corrupt block cannot poison persistent state.
type Chain struct {
	stages   []Stage
	scrubbed int
}

// NewChain creates a chain over the given stages. The order is fixed for
// the chain's lifetime.
func NewChain(stages ...Stage) *Chain {
	return &Chain{stages: stages}
}

// Stages returns the ordered stage list.
func (c *Chain) Stages() []Stage { return c.stages }

// Scrubbed returns the total count of non-finite samples zeroed so far.
func (c *Chain) Scrubbed() int { return c.scrubbed }

// ProcessBlock runs the block through every enabled stage in order.
func (c *Chain) ProcessBlock(block *core.Block) error {
	for _, stage := range c.stages {
		if b, ok := stage.(interface{ Bypassed() bool }); ok && b.Bypassed() {
			continue
		}

		c.scrubbed += block.Scrub()

		if err := stage.ProcessBlock(block); err != nil {
			return fmt.Errorf("effects: %s stage: %w", stage.Kind().Name(), err)
		}
	}

	return nil
}

// Reset clears the persistent state of every stage.
func (c *Chain) Reset() {
	for _, stage := range c.stages {
		stage.Reset()
	}
}
