package engine

import (
	"cmp"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cockroachdb/errors"
)

// ManifestMatcher reports whether a unit must be processed after all others.
type ManifestMatcher func(u *Unit) bool

// NewManifestMatcher matches units flagged IsManifest and units whose Name or
// ID matches one of patterns.
func NewManifestMatcher(patterns []string) (ManifestMatcher, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, errors.Newf("invalid manifest pattern %q", p)
		}
	}
	globs := slices.Clone(patterns)
	return func(u *Unit) bool {
		if u.IsManifest {
			return true
		}
		for _, g := range globs {
			if matchGlob(g, u.Name) || matchGlob(g, u.ID) {
				return true
			}
		}
		return false
	}, nil
}

func matchGlob(pattern, s string) bool {
	if s == "" {
		return false
	}
	ok, _ := doublestar.Match(pattern, s)
	return ok
}

// Order returns units leaves first: a unit comes after the units it
// references and after its children. Manifest units come after every other
// unit. A cycle is broken by taking the remaining unit with the fewest
// unresolved dependencies, so every unit appears exactly once.
func Order(units []*Unit, isManifest ManifestMatcher) ([]*Unit, error) {
	byID := make(map[string]*Unit, len(units))
	for _, u := range units {
		if _, dup := byID[u.ID]; dup {
			return nil, errors.Wrapf(ErrDuplicateUnit, "%q", u.ID)
		}
		byID[u.ID] = u
	}
	if isManifest == nil {
		isManifest = func(u *Unit) bool { return u.IsManifest }
	}

	deps := dependencies(units, byID)

	var regular, manifests []*Unit
	for _, u := range units {
		if isManifest(u) {
			manifests = append(manifests, u)
		} else {
			regular = append(regular, u)
		}
	}

	out := make([]*Unit, 0, len(units))
	out = append(out, linearize(regular, deps)...)
	out = append(out, linearize(manifests, deps)...)
	return out, nil
}

// dependencies maps each unit ID to the IDs whose fingerprints may appear in
// its content: its references plus its children.
func dependencies(units []*Unit, byID map[string]*Unit) map[string][]string {
	deps := make(map[string][]string, len(units))
	add := func(from, to string) {
		if from == to {
			return
		}
		if _, known := byID[to]; !known {
			return
		}
		if !slices.Contains(deps[from], to) {
			deps[from] = append(deps[from], to)
		}
	}
	for _, u := range units {
		for _, ref := range u.References {
			add(u.ID, ref)
		}
		for _, parent := range u.Parents {
			if _, known := byID[parent]; known {
				add(parent, u.ID)
			}
		}
	}
	return deps
}

func linearize(set []*Unit, deps map[string][]string) []*Unit {
	remaining := make(map[string]*Unit, len(set))
	for _, u := range set {
		remaining[u.ID] = u
	}

	unresolved := func(u *Unit) int {
		n := 0
		for _, d := range deps[u.ID] {
			if _, pending := remaining[d]; pending {
				n++
			}
		}
		return n
	}

	out := make([]*Unit, 0, len(set))
	for len(remaining) > 0 {
		var ready []*Unit
		for _, u := range remaining {
			if unresolved(u) == 0 {
				ready = append(ready, u)
			}
		}

		if len(ready) == 0 {
			// cycle: take the unit closest to being ready
			var pick *Unit
			best := 0
			for _, u := range remaining {
				n := unresolved(u)
				if pick == nil || n < best || (n == best && compareUnits(u, pick) < 0) {
					pick, best = u, n
				}
			}
			ready = []*Unit{pick}
		}

		slices.SortFunc(ready, compareUnits)
		for _, u := range ready {
			delete(remaining, u.ID)
		}
		out = append(out, ready...)
	}
	return out
}

// compareUnits puts units without a shared runtime first, then sorts by ID.
func compareUnits(a, b *Unit) int {
	if a.HasRuntime != b.HasRuntime {
		if a.HasRuntime {
			return 1
		}
		return -1
	}
	return cmp.Compare(a.ID, b.ID)
}
