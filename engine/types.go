package engine

import (
	"log/slog"
	"maps"
	"regexp"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/vormadev/outhash/kit/digest"
	"github.com/vormadev/outhash/kit/source"
)

var (
	ErrMissingAsset  = errors.New("asset not found")
	ErrValidation    = errors.New("output validation failed")
	ErrDuplicateUnit = errors.New("duplicate unit id")
	ErrAlreadyRun    = errors.New("rehash already ran for this build")
	ErrNameCollision = errors.New("renamed file collides with an existing asset")
)

// Unit is one output unit: a set of files produced together whose main
// file names embed the unit's fingerprint.
type Unit struct {
	ID           string
	Name         string
	Files        []string
	Hash         string // full digest
	RenderedHash string // the token embedded in file names
	IsManifest   bool
	HasRuntime   bool
	Parents      []string // units that load this one
	References   []string // units whose fingerprints this unit's content may contain
	Modules      []*Module
}

// Module is a sub-component of a unit that carries its own fingerprint, such
// as a stylesheet extracted from a script bundle.
type Module struct {
	ID           string
	Hash         string
	RenderedHash string
}

type Asset struct {
	Name   string
	Source source.Source
}

// Assets maps file names to their content.
type Assets struct {
	m map[string]*Asset
}

func NewAssets() *Assets {
	return &Assets{m: make(map[string]*Asset)}
}

// Set stores src under name, replacing any previous asset.
func (a *Assets) Set(name string, src source.Source) *Asset {
	asset := &Asset{Name: name, Source: src}
	a.m[name] = asset
	return asset
}

func (a *Assets) Get(name string) (*Asset, bool) {
	asset, ok := a.m[name]
	return asset, ok
}

func (a *Assets) Delete(name string) {
	delete(a.m, name)
}

func (a *Assets) Len() int {
	return len(a.m)
}

// Names returns every asset name, sorted.
func (a *Assets) Names() []string {
	return slices.Sorted(maps.Keys(a.m))
}

// Rename re-keys the asset stored under from and updates its Name.
func (a *Assets) Rename(from, to string) error {
	if from == to {
		return nil
	}
	asset, ok := a.m[from]
	if !ok {
		return errors.Wrapf(ErrMissingAsset, "%s", from)
	}
	if _, taken := a.m[to]; taken {
		return errors.Wrapf(ErrNameCollision, "%s -> %s", from, to)
	}
	delete(a.m, from)
	asset.Name = to
	a.m[to] = asset
	return nil
}

type Pair struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// FingerprintMap accumulates old→new fingerprint pairs in insertion order.
// Each old fingerprint is recorded once.
type FingerprintMap struct {
	pairs []Pair
	index map[string]int
}

func NewFingerprintMap() *FingerprintMap {
	return &FingerprintMap{index: make(map[string]int)}
}

// Add records from→to and reports false when from is already present.
func (m *FingerprintMap) Add(from, to string) bool {
	if _, ok := m.index[from]; ok {
		return false
	}
	m.index[from] = len(m.pairs)
	m.pairs = append(m.pairs, Pair{Old: from, New: to})
	return true
}

func (m *FingerprintMap) Lookup(old string) (string, bool) {
	i, ok := m.index[old]
	if !ok {
		return "", false
	}
	return m.pairs[i].New, true
}

// Pairs returns a copy of the pairs in insertion order.
func (m *FingerprintMap) Pairs() []Pair {
	return slices.Clone(m.pairs)
}

func (m *FingerprintMap) Len() int {
	return len(m.pairs)
}

type Options struct {
	Digest digest.Options

	// ManifestUnits are unit names or IDs (doublestar globs allowed) that
	// are processed after every other unit.
	ManifestUnits []string

	// MainFilePatterns select which files of a unit are rehashed and
	// renamed. Empty means only the first file of each unit.
	MainFilePatterns []string

	// RewriteFilter restricts which secondary files receive reference
	// updates. Nil means all.
	RewriteFilter *regexp.Regexp

	// InferReferences scans unit content for other units' fingerprints
	// before ordering.
	InferReferences bool

	Validate        bool
	ValidatePattern *regexp.Regexp

	Logger *slog.Logger
}

// DefaultMainFilePatterns is what the config layer uses when main_files is
// not set.
var DefaultMainFilePatterns = []string{"*.js", "*.mjs", "*.cjs", "*.css"}

type SkippedFile struct {
	Unit   string `json:"unit"`
	File   string `json:"file"`
	Reason string `json:"reason"`
}

type Result struct {
	Order        []string          `json:"order"`
	Fingerprints *FingerprintMap   `json:"-"`
	Renames      map[string]string `json:"renames"`
	Skipped      []SkippedFile     `json:"skipped,omitempty"`
	Stale        []StaleReference  `json:"stale,omitempty"`
}
