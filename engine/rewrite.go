package engine

import (
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/vormadev/outhash/kit/source"
)

// applyMap brings every file of u up to date with the fingerprints replaced
// so far in this pass. Secondary files outside RewriteFilter are left alone.
func (ps *pass) applyMap(u *Unit) error {
	if ps.fpm.Len() == 0 && len(ps.names) == 0 {
		return nil
	}
	for i, name := range u.Files {
		if !ps.isMain(i, name) && !ps.rewritesSecondary(name) {
			continue
		}
		a, err := ps.asset(u, name)
		if err != nil {
			return err
		}
		if err := replacePairs(a, ps.names, ps.fpm.pairs); err != nil {
			return errors.Wrapf(err, "unit %q", u.ID)
		}
	}
	return nil
}

// replacePairs applies each list of pairs to a in order. File name pairs
// go before fingerprint pairs, since a name embeds a fingerprint.
func replacePairs(a *Asset, lists ...[]Pair) error {
	for _, p := range slices.Concat(lists...) {
		if p.Old == p.New {
			continue
		}
		updated, err := source.ReplaceAll(a.Source, p.Old, p.New)
		if err != nil {
			return errors.Wrapf(err, "rewrite %s", a.Name)
		}
		a.Source = updated
	}
	return nil
}
