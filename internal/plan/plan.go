// Package plan reads a description of finished build outputs (units and the
// files they own) from JSON or YAML and loads the referenced files.
package plan

import (
	"bytes"
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/jsonc"
	"github.com/vormadev/outhash/engine"
	"github.com/vormadev/outhash/kit/source"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var ErrInvalidPlan = errors.New("invalid plan")

const readConcurrency = 32

type Plan struct {
	Root  string `json:"root" yaml:"root"`
	Units []Unit `json:"units" yaml:"units"`

	dir string
}

type Unit struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name,omitempty" yaml:"name,omitempty"`
	Files        []string `json:"files" yaml:"files"`
	Hash         string   `json:"hash,omitempty" yaml:"hash,omitempty"`
	RenderedHash string   `json:"renderedHash,omitempty" yaml:"renderedHash,omitempty"`
	Runtime      bool     `json:"runtime,omitempty" yaml:"runtime,omitempty"`
	Manifest     bool     `json:"manifest,omitempty" yaml:"manifest,omitempty"`
	Parents      []string `json:"parents,omitempty" yaml:"parents,omitempty"`
	References   []string `json:"references,omitempty" yaml:"references,omitempty"`
	Modules      []Module `json:"modules,omitempty" yaml:"modules,omitempty"`
}

type Module struct {
	ID           string `json:"id" yaml:"id"`
	Hash         string `json:"hash,omitempty" yaml:"hash,omitempty"`
	RenderedHash string `json:"renderedHash" yaml:"renderedHash"`
}

// Load reads and validates the plan at path. The format follows the
// extension: .json and .jsonc (comments and trailing commas allowed), .yaml
// and .yml.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read plan")
	}
	p, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	p.dir = filepath.Dir(path)
	return p, nil
}

// Parse decodes a plan; ext selects the format.
func Parse(data []byte, ext string) (*Plan, error) {
	var p Plan
	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "decode json"), ErrInvalidPlan)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "decode yaml"), ErrInvalidPlan)
		}
	default:
		return nil, errors.WithHint(
			errors.Wrapf(ErrInvalidPlan, "unsupported extension %q", ext),
			"use .json, .jsonc, .yaml or .yml",
		)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks unit IDs, file names and modules.
func (p *Plan) Validate() error {
	if len(p.Units) == 0 {
		return errors.Wrap(ErrInvalidPlan, "no units")
	}
	ids := make(map[string]bool, len(p.Units))
	owners := make(map[string]string)
	for i, u := range p.Units {
		if u.ID == "" {
			return errors.Wrapf(ErrInvalidPlan, "units[%d]: empty id", i)
		}
		if ids[u.ID] {
			return errors.Wrapf(ErrInvalidPlan, "units[%d]: duplicate id %q", i, u.ID)
		}
		ids[u.ID] = true
		if len(u.Files) == 0 {
			return errors.Wrapf(ErrInvalidPlan, "unit %q: no files", u.ID)
		}
		for _, f := range u.Files {
			if !validName(f) {
				return errors.Wrapf(ErrInvalidPlan, "unit %q: file %q must be a relative path inside root", u.ID, f)
			}
			if prev, taken := owners[f]; taken {
				return errors.Wrapf(ErrInvalidPlan, "file %q listed by units %q and %q", f, prev, u.ID)
			}
			owners[f] = u.ID
		}
		for j, m := range u.Modules {
			if m.RenderedHash == "" {
				return errors.Wrapf(ErrInvalidPlan, "unit %q: modules[%d] has no renderedHash", u.ID, j)
			}
		}
	}
	return nil
}

func validName(name string) bool {
	if name == "" || path.IsAbs(name) || strings.Contains(name, `\`) {
		return false
	}
	clean := path.Clean(name)
	return clean == name && clean != "." && !strings.HasPrefix(clean, "../")
}

// RootDir is the directory holding the plan's files.
func (p *Plan) RootDir() string {
	if filepath.IsAbs(p.Root) {
		return p.Root
	}
	return filepath.Join(p.dir, filepath.FromSlash(p.Root))
}

// Paths returns the on-disk path of every listed file, sorted.
func (p *Plan) Paths() []string {
	var out []string
	for _, u := range p.Units {
		for _, f := range u.Files {
			out = append(out, filepath.Join(p.RootDir(), filepath.FromSlash(f)))
		}
	}
	slices.Sort(out)
	return out
}

// Materialize builds engine units and reads every listed file into a linked
// asset.
func (p *Plan) Materialize() ([]*engine.Unit, *engine.Assets, error) {
	units := make([]*engine.Unit, len(p.Units))
	type pending struct {
		name, path string
		data       []byte
	}
	var reads []*pending

	for i, u := range p.Units {
		eu := &engine.Unit{
			ID:           u.ID,
			Name:         u.Name,
			Files:        slices.Clone(u.Files),
			Hash:         u.Hash,
			RenderedHash: u.RenderedHash,
			IsManifest:   u.Manifest,
			HasRuntime:   u.Runtime,
			Parents:      slices.Clone(u.Parents),
			References:   slices.Clone(u.References),
		}
		for _, m := range u.Modules {
			eu.Modules = append(eu.Modules, &engine.Module{ID: m.ID, Hash: m.Hash, RenderedHash: m.RenderedHash})
		}
		units[i] = eu
		for _, f := range u.Files {
			reads = append(reads, &pending{name: f, path: filepath.Join(p.RootDir(), filepath.FromSlash(f))})
		}
	}

	var g errgroup.Group
	g.SetLimit(readConcurrency)
	for _, r := range reads {
		g.Go(func() error {
			data, err := os.ReadFile(r.path)
			if err != nil {
				return errors.Wrapf(err, "read %s", r.name)
			}
			r.data = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	assets := engine.NewAssets()
	for _, r := range reads {
		assets.Set(r.name, source.NewLinked(r.path, r.data))
	}
	return units, assets, nil
}
