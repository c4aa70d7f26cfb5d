// Package pipeline is a small phased hook runner for build steps. Steps are
// registered by name on a phase and run in registration order; phases run in
// declaration order and the first error aborts the run.
package pipeline

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vormadev/outhash/kit/colorlog"
)

type Phase int

const (
	PhaseOptimizeAssets Phase = iota
	PhaseEmit
	PhaseAfterEmit
)

var phases = []Phase{PhaseOptimizeAssets, PhaseEmit, PhaseAfterEmit}

func (p Phase) String() string {
	switch p {
	case PhaseOptimizeAssets:
		return "optimize-assets"
	case PhaseEmit:
		return "emit"
	case PhaseAfterEmit:
		return "after-emit"
	}
	return "unknown"
}

var (
	ErrDuplicateStep = errors.New("step already registered")
	ErrUnknownPhase  = errors.New("unknown phase")
)

// StepFunc is the body of a step.
type StepFunc[C any] func(inv *Invocation[C]) error

// Invocation is what a step sees while it runs.
type Invocation[C any] struct {
	Context     context.Context
	Compilation C
	Phase       Phase
	Step        string
	Index       int      // position of Step within Phase
	Steps       []string // every step name of Phase, in run order
	Log         *slog.Logger
}

type step[C any] struct {
	name string
	fn   StepFunc[C]
}

type Pipeline[C any] struct {
	log   *slog.Logger
	steps map[Phase][]step[C]
}

func New[C any](log *slog.Logger) *Pipeline[C] {
	return &Pipeline[C]{
		log:   colorlog.Or(log),
		steps: make(map[Phase][]step[C], len(phases)),
	}
}

// Tap appends a named step to phase. Names are unique per phase.
func (p *Pipeline[C]) Tap(phase Phase, name string, fn StepFunc[C]) error {
	if !slices.Contains(phases, phase) {
		return errors.Wrapf(ErrUnknownPhase, "%d", int(phase))
	}
	if fn == nil {
		return errors.Newf("pipeline: nil step %q", name)
	}
	if p.StepIndex(phase, name) >= 0 {
		return errors.Wrapf(ErrDuplicateStep, "%s/%s", phase, name)
	}
	p.steps[phase] = append(p.steps[phase], step[C]{name: name, fn: fn})
	return nil
}

// StepIndex returns the position of name within phase, or -1.
func (p *Pipeline[C]) StepIndex(phase Phase, name string) int {
	return slices.IndexFunc(p.steps[phase], func(s step[C]) bool { return s.name == name })
}

// Steps returns the step names of phase in run order.
func (p *Pipeline[C]) Steps(phase Phase) []string {
	names := make([]string, len(p.steps[phase]))
	for i, s := range p.steps[phase] {
		names[i] = s.name
	}
	return names
}

// Run executes every phase against c.
func (p *Pipeline[C]) Run(ctx context.Context, c C) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, phase := range phases {
		names := p.Steps(phase)
		for i, s := range p.steps[phase] {
			if err := ctx.Err(); err != nil {
				return errors.Wrapf(err, "%s/%s", phase, s.name)
			}
			start := time.Now()
			inv := &Invocation[C]{
				Context:     ctx,
				Compilation: c,
				Phase:       phase,
				Step:        s.name,
				Index:       i,
				Steps:       names,
				Log:         p.log.With("step", s.name),
			}
			if err := s.fn(inv); err != nil {
				return errors.Wrapf(err, "%s/%s", phase, s.name)
			}
			p.log.Debug("step done", "phase", phase.String(), "step", s.name, "took", time.Since(start))
		}
	}
	return nil
}
