package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vormadev/outhash/kit/colorlog"
	"github.com/vormadev/outhash/kit/pipeline"
	"github.com/vormadev/outhash/kit/source"
)

func newBuild(t *testing.T) *Build {
	return &Build{
		Units: []*Unit{
			{ID: "main", Files: []string{"main.aaaa1111.js", "main.aaaa1111.js.map"}, RenderedHash: "aaaa1111"},
		},
		Assets: newAssets(map[string]string{
			"main.aaaa1111.js":     "main()",
			"main.aaaa1111.js.map": `{"file":"main.aaaa1111.js"}`,
		}),
		OutDir: t.TempDir(),
	}
}

func emitStep(inv *pipeline.Invocation[*Build]) error {
	b := inv.Compilation
	for _, name := range b.Assets.Names() {
		a, _ := b.Assets.Get(name)
		if err := os.WriteFile(filepath.Join(b.OutDir, name), a.Source.Bytes(), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func TestPluginRunsAndValidates(t *testing.T) {
	e := mustEngine(t, Options{Validate: true, ValidatePattern: mustRegexp(t, `\.js$`)})
	p := pipeline.New[*Build](nil)
	require.NoError(t, NewPlugin(e).Apply(p))
	require.NoError(t, p.Tap(pipeline.PhaseEmit, "emit", emitStep))
	assert.Equal(t, 0, p.StepIndex(pipeline.PhaseAfterEmit, StepValidate))

	b := newBuild(t)
	require.NoError(t, p.Run(context.Background(), b))
	require.NotNil(t, b.Result)
	assert.Len(t, b.Result.Renames, 1)
	assert.NotEqual(t, "main.aaaa1111.js", b.Units[0].Files[0])
}

func TestPluginValidationCatchesLateChanges(t *testing.T) {
	e := mustEngine(t, Options{Validate: true, ValidatePattern: mustRegexp(t, `\.js$`)})
	p := pipeline.New[*Build](nil)
	require.NoError(t, NewPlugin(e).Apply(p))
	require.NoError(t, p.Tap(pipeline.PhaseOptimizeAssets, "banner", func(inv *pipeline.Invocation[*Build]) error {
		for _, u := range inv.Compilation.Units {
			a, _ := inv.Compilation.Assets.Get(u.Files[0])
			a.Source = source.NewString("/* banner */" + string(a.Source.Bytes()))
		}
		return nil
	}))
	require.NoError(t, p.Tap(pipeline.PhaseEmit, "emit", emitStep))

	err := p.Run(context.Background(), newBuild(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "after-emit/"+StepValidate)
}

func TestPluginValidationIgnoresSkippedMainFiles(t *testing.T) {
	e := mustEngine(t, Options{
		MainFilePatterns: DefaultMainFilePatterns,
		Validate:         true,
		ValidatePattern:  mustRegexp(t, `\.(js|mjs|cjs|css)$`),
	})
	p := pipeline.New[*Build](nil)
	require.NoError(t, NewPlugin(e).Apply(p))
	require.NoError(t, p.Tap(pipeline.PhaseEmit, "emit", emitStep))

	b := &Build{
		Units: []*Unit{{ID: "app", Files: []string{"app.1234abcd.js", "vendor.js"}, RenderedHash: "1234abcd"}},
		Assets: newAssets(map[string]string{
			"app.1234abcd.js": "app()",
			"vendor.js":       "vendor()",
		}),
		OutDir: t.TempDir(),
	}
	require.NoError(t, p.Run(context.Background(), b))
	require.Len(t, b.Result.Skipped, 1)
	assert.Equal(t, "vendor.js", b.Result.Skipped[0].File)
}

func TestPluginWarnsWhenNotFirst(t *testing.T) {
	var buf bytes.Buffer
	log := colorlog.New("engine", colorlog.Options{Output: &buf, UseColor: new(bool)})
	e := mustEngine(t, Options{Logger: log})

	p := pipeline.New[*Build](nil)
	require.NoError(t, p.Tap(pipeline.PhaseOptimizeAssets, "minify", func(*pipeline.Invocation[*Build]) error { return nil }))
	require.NoError(t, NewPlugin(e).Apply(p))

	require.NoError(t, p.Run(context.Background(), newBuild(t)))
	assert.Contains(t, buf.String(), "WARNING  rehash is not the first asset-optimization step")
	assert.Contains(t, buf.String(), "[ runs_after = [minify] ]")
}

func TestPluginRefusesSecondRun(t *testing.T) {
	e := mustEngine(t, Options{})
	p := pipeline.New[*Build](nil)
	require.NoError(t, NewPlugin(e).Apply(p))

	b := newBuild(t)
	require.NoError(t, p.Run(context.Background(), b))
	err := p.Run(context.Background(), b)
	assert.True(t, errors.Is(err, ErrAlreadyRun))

	// a second registration on the same pipeline is rejected up front
	assert.True(t, errors.Is(NewPlugin(e).Apply(p), pipeline.ErrDuplicateStep))
}

func TestPluginWithoutValidation(t *testing.T) {
	p := pipeline.New[*Build](nil)
	require.NoError(t, NewPlugin(mustEngine(t, Options{})).Apply(p))
	assert.Empty(t, p.Steps(pipeline.PhaseAfterEmit))
}
