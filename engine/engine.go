// Package engine recomputes content fingerprints of finished build outputs,
// renames the files that embed them and rewrites every reference to the old
// names, processing units leaves first so each unit is hashed only after the
// units it points at have been finalized.
package engine

import (
	"log/slog"
	"path"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cockroachdb/errors"
	"github.com/vormadev/outhash/kit/colorlog"
	"github.com/vormadev/outhash/kit/digest"
)

type Engine struct {
	opts      Options
	hasher    *digest.Hasher
	manifests ManifestMatcher
	log       *slog.Logger
}

// New validates opts and returns an engine. Digest configuration errors
// surface here rather than during a pass.
func New(opts Options) (*Engine, error) {
	hasher, err := digest.New(opts.Digest)
	if err != nil {
		return nil, errors.Wrap(err, "engine: digest options")
	}
	manifests, err := NewManifestMatcher(opts.ManifestUnits)
	if err != nil {
		return nil, errors.Wrap(err, "engine: manifest units")
	}
	for _, p := range opts.MainFilePatterns {
		if !doublestar.ValidatePattern(p) {
			return nil, errors.Newf("engine: invalid main file pattern %q", p)
		}
	}
	return &Engine{
		opts:      opts,
		hasher:    hasher,
		manifests: manifests,
		log:       colorlog.Or(opts.Logger),
	}, nil
}

func (e *Engine) Options() Options           { return e.opts }
func (e *Engine) Hasher() *digest.Hasher     { return e.hasher }
func (e *Engine) Logger() *slog.Logger       { return e.log }
func (e *Engine) Manifests() ManifestMatcher { return e.manifests }

// pass holds the state of one Run. It is created per call and discarded
// afterwards.
type pass struct {
	opts   *Options
	hasher *digest.Hasher
	assets *Assets
	fpm    *FingerprintMap
	names  []Pair // base name pairs, applied before fpm
	log    *slog.Logger
	result *Result
}

// Run rehashes units in dependency order, mutating units and assets in place.
// Upstream must not touch either until Run returns.
func (e *Engine) Run(units []*Unit, assets *Assets) (*Result, error) {
	start := time.Now()

	if e.opts.InferReferences {
		InferReferences(units, assets)
	}

	order, err := Order(units, e.manifests)
	if err != nil {
		return nil, err
	}

	ps := &pass{
		opts:   &e.opts,
		hasher: e.hasher,
		assets: assets,
		fpm:    NewFingerprintMap(),
		log:    e.log,
		result: &Result{
			Order:   make([]string, 0, len(order)),
			Renames: make(map[string]string),
		},
	}
	ps.result.Fingerprints = ps.fpm

	for _, u := range order {
		if err := ps.processUnit(u); err != nil {
			return nil, err
		}
	}

	ps.result.Stale = Audit(units, assets, ps.fpm)
	for _, s := range ps.result.Stale {
		e.log.Warn("stale fingerprint survived", "file", s.File, "fingerprint", s.Fingerprint, "unit", s.Unit)
	}

	e.log.Info("rehash complete",
		"units", len(order),
		"renamed", len(ps.result.Renames),
		"skipped", len(ps.result.Skipped),
		"stale", len(ps.result.Stale),
		"took", time.Since(start).Round(time.Microsecond),
	)
	return ps.result, nil
}

func (ps *pass) processUnit(u *Unit) error {
	ps.result.Order = append(ps.result.Order, u.ID)

	if err := ps.applyMap(u); err != nil {
		return err
	}
	rh, err := ps.rehashUnit(u)
	if err != nil {
		return err
	}

	for _, p := range rh.pairs {
		if !ps.fpm.Add(p.Old, p.New) {
			prev, _ := ps.fpm.Lookup(p.Old)
			ps.log.Warn("fingerprint already remapped, keeping first mapping",
				"unit", u.ID, "old", p.Old, "kept", prev, "dropped", p.New)
		}
	}
	ps.names = append(ps.names, rh.names...)
	for _, r := range rh.renames {
		ps.result.Renames[r.Old] = r.New
	}

	if rh.own != nil {
		ps.log.Debug("unit rehashed", "unit", u.ID, "old", rh.own.Old, "new", rh.own.New)
	} else {
		ps.log.Debug("unit unchanged", "unit", u.ID)
	}
	return nil
}

// isMain reports whether the i-th file of a unit is rehashed and renamed.
func (ps *pass) isMain(i int, name string) bool {
	if len(ps.opts.MainFilePatterns) == 0 {
		return i == 0
	}
	base := path.Base(name)
	for _, p := range ps.opts.MainFilePatterns {
		if matchGlob(p, name) || matchGlob(p, base) {
			return true
		}
	}
	return false
}

func (ps *pass) rewritesSecondary(name string) bool {
	return ps.opts.RewriteFilter == nil || ps.opts.RewriteFilter.MatchString(name)
}

func (ps *pass) asset(u *Unit, name string) (*Asset, error) {
	a, ok := ps.assets.Get(name)
	if !ok {
		return nil, errors.Wrapf(ErrMissingAsset, "unit %q: %s", u.ID, name)
	}
	return a, nil
}
