// Package esbuildsrc produces rehash input straight from an esbuild build:
// every hashed output becomes a unit, and the metafile supplies the
// references between them.
package esbuildsrc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/vormadev/outhash/engine"
	"github.com/vormadev/outhash/kit/colorlog"
	"github.com/vormadev/outhash/kit/source"
)

const (
	EntryNames = "[name].[hash]"
	ChunkNames = "chunks/[name].[hash]"
	AssetNames = "assets/[name].[hash]"
)

// esbuild renders [hash] as eight base32 characters
var hashPattern = regexp.MustCompile(`\.([A-Z2-7]{8})(\.[A-Za-z0-9]+)$`)

type Options struct {
	// Dir is the working directory entry points and Outdir resolve against.
	Dir         string
	EntryPoints []string
	Outdir      string
	Minify      bool
	Sourcemap   bool
	Log         *slog.Logger
}

type Output struct {
	Outdir string
	Units  []*engine.Unit
	Assets *engine.Assets
}

// Build bundles the entry points with code splitting and returns the
// outputs in memory, keyed by their path relative to Outdir.
func Build(opts Options) (*Output, error) {
	log := colorlog.Or(opts.Log)
	if len(opts.EntryPoints) == 0 {
		return nil, errors.New("esbuild: no entry points")
	}
	wd, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, errors.Wrap(err, "esbuild: working directory")
	}
	outdir := opts.Outdir
	if !filepath.IsAbs(outdir) {
		outdir = filepath.Join(wd, outdir)
	}

	sourcemap := esbuild.SourceMapNone
	if opts.Sourcemap {
		sourcemap = esbuild.SourceMapLinked
	}

	result := esbuild.Build(esbuild.BuildOptions{
		AbsWorkingDir:     wd,
		EntryPoints:       opts.EntryPoints,
		Outdir:            outdir,
		Bundle:            true,
		Splitting:         true,
		Format:            esbuild.FormatESModule,
		EntryNames:        EntryNames,
		ChunkNames:        ChunkNames,
		AssetNames:        AssetNames,
		Sourcemap:         sourcemap,
		MinifyWhitespace:  opts.Minify,
		MinifyIdentifiers: opts.Minify,
		MinifySyntax:      opts.Minify,
		Metafile:          true,
		Write:             false,
		LogLevel:          esbuild.LogLevelSilent,
	})
	for _, w := range result.Warnings {
		log.Warn("esbuild", "warning", formatMessage(w))
	}
	if err := collectErrors(result.Errors); err != nil {
		return nil, err
	}
	if len(result.OutputFiles) == 0 {
		return nil, errors.New("esbuild produced no output files")
	}

	assets := engine.NewAssets()
	for _, f := range result.OutputFiles {
		name, err := relName(outdir, f.Path)
		if err != nil {
			return nil, err
		}
		assets.Set(name, source.NewRaw(f.Contents))
	}

	units, err := Units([]byte(result.Metafile), wd, outdir)
	if err != nil {
		return nil, err
	}
	log.Debug("esbuild build done", "outputs", assets.Len(), "units", len(units))
	return &Output{Outdir: outdir, Units: units, Assets: assets}, nil
}

func formatMessage(m esbuild.Message) string {
	if m.Location == nil {
		return m.Text
	}
	return fmt.Sprintf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column, m.Text)
}

func collectErrors(msgs []esbuild.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	texts := make([]string, len(msgs))
	for i, m := range msgs {
		texts[i] = formatMessage(m)
	}
	return errors.Newf("esbuild: %d error(s): %s", len(msgs), strings.Join(texts, "; "))
}

func relName(outdir, p string) (string, error) {
	rel, err := filepath.Rel(outdir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Newf("esbuild: output %s is outside %s", p, outdir)
	}
	return filepath.ToSlash(rel), nil
}

type metafile struct {
	Outputs map[string]metaOutput `json:"outputs"`
}

type metaOutput struct {
	Imports []struct {
		Path     string `json:"path"`
		Kind     string `json:"kind"`
		External bool   `json:"external"`
	} `json:"imports"`
	EntryPoint string `json:"entryPoint"`
	CSSBundle  string `json:"cssBundle"`
}

// Units derives rehash units from an esbuild metafile. Output paths in the
// metafile are relative to wd; unit files are relative to outdir.
//
// Each hashed output other than a source map is a unit. A CSS bundle
// belongs to its JS entry as a module, and source maps join the unit of the
// file they describe.
func Units(data []byte, wd, outdir string) ([]*engine.Unit, error) {
	var meta metafile
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.Wrap(err, "parse metafile")
	}

	outputs := make(map[string]metaOutput, len(meta.Outputs))
	for key, out := range meta.Outputs {
		name, err := relName(outdir, filepath.Join(wd, filepath.FromSlash(key)))
		if err != nil {
			return nil, err
		}
		outputs[name] = out
	}
	resolve := func(key string) string {
		name, err := relName(outdir, filepath.Join(wd, filepath.FromSlash(key)))
		if err != nil {
			return ""
		}
		return name
	}

	bundles := make(map[string]bool)
	for _, out := range outputs {
		if out.CSSBundle != "" {
			bundles[resolve(out.CSSBundle)] = true
		}
	}

	byFile := make(map[string]*engine.Unit)
	var units []*engine.Unit
	for _, name := range sortedKeys(outputs) {
		if strings.HasSuffix(name, ".map") {
			continue
		}
		if bundles[name] {
			continue
		}
		u := &engine.Unit{
			ID:           name,
			Name:         baseName(name),
			Files:        []string{name},
			RenderedHash: hashOf(name),
			HasRuntime:   outputs[name].EntryPoint != "" && path.Ext(name) == ".js",
		}
		units = append(units, u)
		byFile[name] = u
	}

	cssOf := make(map[*engine.Unit]string)
	for _, u := range units {
		out := outputs[u.ID]
		if out.CSSBundle == "" {
			continue
		}
		css := resolve(out.CSSBundle)
		cssOf[u] = css
		u.Files = append(u.Files, css)
		u.Modules = append(u.Modules, &engine.Module{ID: css, RenderedHash: hashOf(css)})
		byFile[css] = u
	}

	for _, name := range sortedKeys(outputs) {
		if !strings.HasSuffix(name, ".map") {
			continue
		}
		if u, ok := byFile[strings.TrimSuffix(name, ".map")]; ok {
			u.Files = append(u.Files, name)
		}
	}

	// the extracted stylesheet's url() assets are loaded through its unit
	for _, u := range units {
		imports := outputs[u.ID].Imports
		if css, ok := cssOf[u]; ok {
			imports = slices.Concat(imports, outputs[css].Imports)
		}
		for _, imp := range imports {
			if imp.External {
				continue
			}
			target, ok := byFile[resolve(imp.Path)]
			if !ok || target == u || slices.Contains(u.References, target.ID) {
				continue
			}
			u.References = append(u.References, target.ID)
		}
	}
	return units, nil
}

func hashOf(name string) string {
	m := hashPattern.FindStringSubmatch(path.Base(name))
	if m == nil {
		return ""
	}
	return m[1]
}

func baseName(name string) string {
	base := path.Base(name)
	if loc := hashPattern.FindStringIndex(base); loc != nil {
		return base[:loc[0]]
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
