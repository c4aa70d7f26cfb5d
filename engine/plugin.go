package engine

import (
	"github.com/cockroachdb/errors"
	"github.com/vormadev/outhash/kit/pipeline"
)

const (
	StepRehash   = "outhash"
	StepValidate = "outhash-validate"
)

// Build is the compilation the plugin operates on.
type Build struct {
	Units  []*Unit
	Assets *Assets
	OutDir string
	Result *Result

	rehashed bool
}

// Plugin registers an Engine on a build pipeline.
type Plugin struct {
	engine *Engine
}

func NewPlugin(e *Engine) *Plugin {
	return &Plugin{engine: e}
}

// Apply taps the rehash step on PhaseOptimizeAssets and, when validation is
// enabled, the validator on PhaseAfterEmit. Apply before any other
// asset-optimization step so the rehash runs first.
func (pl *Plugin) Apply(p *pipeline.Pipeline[*Build]) error {
	if err := p.Tap(pipeline.PhaseOptimizeAssets, StepRehash, pl.rehash); err != nil {
		return err
	}
	if pl.engine.opts.Validate {
		if err := p.Tap(pipeline.PhaseAfterEmit, StepValidate, pl.validate); err != nil {
			return err
		}
	}
	return nil
}

func (pl *Plugin) rehash(inv *pipeline.Invocation[*Build]) error {
	b := inv.Compilation
	if b.rehashed {
		return ErrAlreadyRun
	}
	if inv.Index != 0 {
		pl.engine.log.Warn("rehash is not the first asset-optimization step; earlier steps see stale names",
			"position", inv.Index, "runs_after", inv.Steps[:inv.Index])
	}

	res, err := pl.engine.Run(b.Units, b.Assets)
	if err != nil {
		return err
	}
	b.Result = res
	b.rehashed = true
	return nil
}

func (pl *Plugin) validate(inv *pipeline.Invocation[*Build]) error {
	b := inv.Compilation
	if b.Assets == nil {
		return errors.Wrap(ErrValidation, "no assets to validate")
	}
	// skipped main files never received a fingerprint
	var skipped []string
	if b.Result != nil {
		for _, s := range b.Result.Skipped {
			skipped = append(skipped, s.File)
		}
	}
	if err := ValidateAssets(b.OutDir, b.Assets, pl.engine.hasher, pl.engine.opts.ValidatePattern, skipped...); err != nil {
		return err
	}
	inv.Log.Debug("output validated", "files", b.Assets.Len())
	return nil
}
