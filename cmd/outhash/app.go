package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/vormadev/outhash/engine"
	"github.com/vormadev/outhash/internal/config"
	"github.com/vormadev/outhash/internal/emit"
	"github.com/vormadev/outhash/internal/esbuildsrc"
	"github.com/vormadev/outhash/internal/plan"
	"github.com/vormadev/outhash/internal/vitesrc"
	"github.com/vormadev/outhash/kit/pipeline"
)

type app struct {
	cfg *config.Config
	log *slog.Logger
	out io.Writer
}

// loadApp reads .env files, the config file and the environment from dir.
func loadApp(dir, configFile, logLevel string, out io.Writer) (*app, error) {
	if err := config.LoadDotEnv(dir); err != nil {
		return nil, err
	}
	v := config.New(dir, configFile)
	if logLevel != "" {
		v.Set("log.level", logLevel)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: cfg.Logger("outhash"), out: out}, nil
}

// outDir picks the flag value, falling back to out_dir.
func (a *app) outDir(flag string) (string, error) {
	dir := flag
	if dir == "" {
		dir = a.cfg.OutDir
	}
	if dir == "" {
		return "", errors.WithHint(errors.New("no output directory"), "pass --out or set out_dir")
	}
	return filepath.Abs(dir)
}

// process rehashes b, emits it to b.OutDir and, when enabled, validates the
// emitted files.
func (a *app) process(ctx context.Context, b *engine.Build, reportPath string) error {
	e, err := engine.New(a.cfg.EngineOptions(a.log))
	if err != nil {
		return err
	}

	p := pipeline.New[*engine.Build](a.log)
	if err := engine.NewPlugin(e).Apply(p); err != nil {
		return err
	}
	gz, zst := a.cfg.Precompress()
	stage := &emit.Stage{
		Options: emit.Options{Gzip: gz, Zstd: zst, Concurrency: int64(a.cfg.Emit.Concurrency), Log: a.log},
		Clean:   a.cfg.Emit.Clean,
	}
	if err := p.Tap(pipeline.PhaseEmit, emit.StepName, stage.Run); err != nil {
		return err
	}
	if err := p.Run(ctx, b); err != nil {
		return err
	}

	printSummary(a.out, b.Result)
	if reportPath != "" {
		if err := emit.WriteReport(reportPath, b.Result, stage.Report); err != nil {
			return err
		}
		a.log.Info("report written", "path", reportPath)
	}
	return nil
}

// planInput names where a plan comes from: a plan file, or a Vite
// manifest.
type planInput struct {
	plan         string
	viteManifest string
	viteRoot     string
}

func (in planInput) load() (*plan.Plan, error) {
	if in.viteManifest != "" {
		return vitesrc.Load(in.viteManifest, in.viteRoot)
	}
	return plan.Load(in.plan)
}

// watchPaths are the inputs a plan run depends on.
func (in planInput) watchPaths(pl *plan.Plan) []string {
	if in.viteManifest != "" {
		return []string{pl.RootDir()}
	}
	return []string{in.plan, pl.RootDir()}
}

func (a *app) runPlan(ctx context.Context, in planInput, dest, reportPath string) error {
	pl, err := in.load()
	if err != nil {
		return err
	}
	units, assets, err := pl.Materialize()
	if err != nil {
		return err
	}
	out, err := a.outDir(dest)
	if err != nil {
		return err
	}
	return a.process(ctx, &engine.Build{Units: units, Assets: assets, OutDir: out}, reportPath)
}

type buildFlags struct {
	dir       string
	entries   []string
	out       string
	minify    bool
	sourcemap bool
	report    string
}

func (a *app) runBuild(ctx context.Context, f buildFlags) error {
	out, err := a.outDir(f.out)
	if err != nil {
		return err
	}
	res, err := esbuildsrc.Build(esbuildsrc.Options{
		Dir:         f.dir,
		EntryPoints: f.entries,
		Outdir:      out,
		Minify:      f.minify,
		Sourcemap:   f.sourcemap,
		Log:         a.log,
	})
	if err != nil {
		return err
	}
	return a.process(ctx, &engine.Build{Units: res.Units, Assets: res.Assets, OutDir: res.Outdir}, f.report)
}

func printSummary(w io.Writer, res *engine.Result) {
	if res == nil {
		return
	}
	fmt.Fprintf(w, "%d units, %d files renamed\n", len(res.Order), len(res.Renames))
	for _, old := range slices.Sorted(maps.Keys(res.Renames)) {
		fmt.Fprintf(w, "  %s -> %s\n", old, res.Renames[old])
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(w, "  skipped %s (%s): %s\n", s.File, s.Unit, s.Reason)
	}
	for _, s := range res.Stale {
		fmt.Fprintf(w, "  stale reference in %s: %s (now %s)\n", s.File, s.Fingerprint, s.ReplacedBy)
	}
}
