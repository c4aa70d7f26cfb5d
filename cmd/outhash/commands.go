package main

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vormadev/outhash/engine"
	"github.com/vormadev/outhash/internal/watch"
	"github.com/vormadev/outhash/kit/grace"
)

func appFor(cmd *cobra.Command) (*app, error) {
	return loadApp(".", configFlag, logLevelFlag, cmd.OutOrStdout())
}

var (
	input      planInput
	outFlag    string
	reportFlag string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Rehash the files listed in a plan and emit them",
	Long: `Load a plan (JSON or YAML) describing finished build units, or derive one
from a Vite manifest, rename every file after its final content and write the
result to the output directory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := appFor(cmd)
		if err != nil {
			return err
		}
		return a.runPlan(cmd.Context(), input, outFlag, reportFlag)
	},
}

var bf buildFlags

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Bundle entry points with esbuild, then rehash and emit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := appFor(cmd)
		if err != nil {
			return err
		}
		return a.runBuild(cmd.Context(), bf)
	},
}

var (
	validateDirFlag     string
	validatePatternFlag string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that emitted file names embed the digest of their content",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := appFor(cmd)
		if err != nil {
			return err
		}
		return a.validateDir(validateDirFlag, validatePatternFlag)
	},
}

var watchDirs []string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rerun run (with --plan or --vite-manifest) or build (with --entry) whenever inputs change",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := appFor(cmd)
		if err != nil {
			return err
		}
		return a.watch(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringVar(&input.plan, "plan", "", "plan file (.json, .jsonc, .yaml, .yml)")
	runCmd.Flags().StringVar(&input.viteManifest, "vite-manifest", "", "Vite manifest to derive the plan from")
	runCmd.Flags().StringVar(&input.viteRoot, "vite-root", "", "Vite output directory (default: parent of .vite)")
	runCmd.Flags().StringVar(&outFlag, "out", "", "output directory (default: out_dir)")
	runCmd.Flags().StringVar(&reportFlag, "report", "", "write a JSON report of the pass to this file")
	runCmd.MarkFlagsMutuallyExclusive("plan", "vite-manifest")
	runCmd.MarkFlagsOneRequired("plan", "vite-manifest")

	buildCmd.Flags().StringVar(&bf.dir, "dir", ".", "working directory entry points resolve against")
	buildCmd.Flags().StringSliceVar(&bf.entries, "entry", nil, "entry point (repeatable)")
	buildCmd.Flags().StringVar(&bf.out, "out", "", "output directory (default: out_dir)")
	buildCmd.Flags().BoolVar(&bf.minify, "minify", false, "minify output")
	buildCmd.Flags().BoolVar(&bf.sourcemap, "sourcemap", false, "emit linked source maps")
	buildCmd.Flags().StringVar(&bf.report, "report", "", "write a JSON report of the pass to this file")
	_ = buildCmd.MarkFlagRequired("entry")

	validateCmd.Flags().StringVar(&validateDirFlag, "dir", "", "directory to check (default: out_dir)")
	validateCmd.Flags().StringVar(&validatePatternFlag, "pattern", "", "regexp selecting files to check (default: validate.pattern)")

	watchCmd.Flags().StringVar(&input.plan, "plan", "", "plan file")
	watchCmd.Flags().StringVar(&input.viteManifest, "vite-manifest", "", "Vite manifest to derive the plan from")
	watchCmd.Flags().StringVar(&input.viteRoot, "vite-root", "", "Vite output directory (default: parent of .vite)")
	watchCmd.Flags().StringSliceVar(&bf.entries, "entry", nil, "entry point (repeatable)")
	watchCmd.Flags().StringVar(&bf.dir, "dir", ".", "working directory entry points resolve against")
	watchCmd.Flags().StringVar(&outFlag, "out", "", "output directory (default: out_dir)")
	watchCmd.Flags().StringSliceVar(&watchDirs, "watch", nil, "paths to watch (default: the plan and its root, or --dir)")
	watchCmd.MarkFlagsMutuallyExclusive("plan", "vite-manifest", "entry")
	watchCmd.MarkFlagsOneRequired("plan", "vite-manifest", "entry")
}

// validateDir checks every file under dir whose name matches the pattern.
// Precompressed siblings are not checked.
func (a *app) validateDir(dirFlag, patternFlag string) error {
	dir, err := a.outDir(dirFlag)
	if err != nil {
		return err
	}
	pattern := a.cfg.ValidatePattern()
	if patternFlag != "" {
		if pattern, err = regexp.Compile(patternFlag); err != nil {
			return errors.Wrap(err, "--pattern")
		}
	}
	e, err := engine.New(a.cfg.EngineOptions(a.log))
	if err != nil {
		return err
	}

	var names []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if ext := filepath.Ext(p); ext == ".gz" || ext == ".zst" {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "walk %s", dir)
	}
	if err := engine.Validate(dir, names, e.Hasher(), pattern); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s: names match contents\n", dir)
	return nil
}

// watch reruns the plan or build on changes until interrupted. Changes to
// the output directory are ignored.
func (a *app) watch(parent context.Context) error {
	out, err := a.outDir(outFlag)
	if err != nil {
		return err
	}

	roots := watchDirs
	var rebuild func(ctx context.Context) error
	if input.plan != "" || input.viteManifest != "" {
		pl, err := input.load()
		if err != nil {
			return err
		}
		if sameDir(pl.RootDir(), out) {
			return errors.WithHint(
				errors.Newf("output directory %s is the plan root", out),
				"watch mode needs a separate --out, or every emit would trigger another run",
			)
		}
		if len(roots) == 0 {
			roots = input.watchPaths(pl)
		}
		in := input
		rebuild = func(ctx context.Context) error { return a.runPlan(ctx, in, out, "") }
	} else {
		if len(roots) == 0 {
			roots = []string{bf.dir}
		}
		f := bf
		f.out = out
		rebuild = func(ctx context.Context) error { return a.runBuild(ctx, f) }
	}

	ignore := append([]string{out + "/**"}, a.cfg.Watch.Ignore...)
	w, err := watch.New(roots, ignore, a.cfg.Watch.Debounce, a.log)
	if err != nil {
		return err
	}

	return grace.Run(parent, grace.Options{Logger: a.log}, func(ctx context.Context) error {
		if err := rebuild(ctx); err != nil {
			a.log.Error("initial run failed", "error", err)
		}
		a.log.Info("watching for changes", "paths", strings.Join(roots, ", "))
		return w.Run(ctx, func(ctx context.Context, changed []string) error {
			a.log.Info("rebuilding", "changed", len(changed))
			return rebuild(ctx)
		})
	})
}

func sameDir(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}
