package engine

import (
	"path"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vormadev/outhash/kit/source"
)

type unitRehash struct {
	own     *Pair  // the unit's own fingerprint change, if any
	pairs   []Pair // every fingerprint change, own first
	names   []Pair // base name changes of files whose fingerprint a sibling claimed
	renames []Pair // file name changes
}

// fingerprintOwner is whatever carries the token found in a main file name:
// the unit itself or one of its modules.
type fingerprintOwner struct {
	token    string
	hash     *string
	rendered *string
	module   string
}

type mainFile struct {
	index int
	name  string
	asset *Asset
	owner fingerprintOwner
}

// rehashUnit recomputes the fingerprint of each main file of u from its
// current content, renames it, and pushes the discovered pairs into the
// unit's secondary files. Main files referenced by a sibling main file are
// hashed before that sibling.
func (ps *pass) rehashUnit(u *Unit) (unitRehash, error) {
	var out unitRehash

	// tokens as they were before this unit was touched
	unitToken := u.RenderedHash
	moduleTokens := make([]string, len(u.Modules))
	for i, m := range u.Modules {
		moduleTokens[i] = m.RenderedHash
	}
	skipped := make(map[int]bool)
	sharing := make(map[string]int)

	var mains []mainFile
	for i, name := range u.Files {
		if !ps.isMain(i, name) {
			continue
		}
		a, err := ps.asset(u, name)
		if err != nil {
			return out, err
		}
		owner, ok := resolveOwner(u, name, unitToken, moduleTokens)
		if !ok {
			ps.skip(u, name, "file name embeds no known fingerprint")
			skipped[i] = true
			continue
		}
		mains = append(mains, mainFile{index: i, name: name, asset: a, owner: owner})
		sharing[owner.token]++
	}

	// a shared token does not identify one file, so siblings are matched
	// by base name instead
	refers := func(from, to mainFile) bool {
		ref := to.owner.token
		if sharing[ref] > 1 {
			ref = path.Base(to.name)
		}
		return source.Contains(from.asset.Source, ref)
	}

	claimed := make(map[string]string)
	for _, f := range orderMainFiles(mains, refers) {
		if err := replacePairs(f.asset, out.names, out.pairs); err != nil {
			return out, errors.Wrapf(err, "unit %q", u.ID)
		}

		sum := ps.hasher.Sum(f.asset.Source.Bytes())
		newName := strings.Replace(f.name, f.owner.token, sum.Short, 1)

		if prev, dup := claimed[f.owner.token]; dup {
			ps.log.Debug("fingerprint shared by several main files, remapping by name",
				"unit", u.ID, "file", f.name, "first", prev)
			if newName != f.name {
				out.names = append(out.names, Pair{Old: path.Base(f.name), New: path.Base(newName)})
			}
		} else {
			claimed[f.owner.token] = f.name
			*f.owner.hash = sum.Full
			*f.owner.rendered = sum.Short
			pair := Pair{Old: f.owner.token, New: sum.Short}
			if f.owner.module == "" {
				out.own = &pair
				out.pairs = slices.Insert(out.pairs, 0, pair)
			} else {
				out.pairs = append(out.pairs, pair)
			}
		}

		if newName != f.name {
			if err := ps.assets.Rename(f.name, newName); err != nil {
				return out, errors.Wrapf(err, "unit %q", u.ID)
			}
			u.Files[f.index] = newName
			out.renames = append(out.renames, Pair{Old: f.name, New: newName})
		}
	}

	if len(out.pairs) == 0 && len(out.names) == 0 {
		return out, nil
	}
	// skipped main files are treated like secondary ones
	for i, name := range u.Files {
		if (ps.isMain(i, name) && !skipped[i]) || !ps.rewritesSecondary(name) {
			continue
		}
		a, err := ps.asset(u, name)
		if err != nil {
			return out, err
		}
		if err := replacePairs(a, out.names, out.pairs); err != nil {
			return out, errors.Wrapf(err, "unit %q", u.ID)
		}
	}
	return out, nil
}

// orderMainFiles puts every file after the siblings it refers to, keeping
// file order otherwise. A cycle is broken at the file reached first.
func orderMainFiles(files []mainFile, refers func(from, to mainFile) bool) []mainFile {
	out := make([]mainFile, 0, len(files))
	visited := make([]bool, len(files))
	var visit func(i int)
	visit = func(i int) {
		if visited[i] {
			return
		}
		visited[i] = true
		for j := range files {
			if j != i && refers(files[i], files[j]) {
				visit(j)
			}
		}
		out = append(out, files[i])
	}
	for i := range files {
		visit(i)
	}
	return out
}

// resolveOwner picks the token embedded in name: the unit's own fingerprint
// when present, else the first module fingerprint contained in the name.
func resolveOwner(u *Unit, name, unitToken string, moduleTokens []string) (fingerprintOwner, bool) {
	if unitToken != "" && strings.Contains(name, unitToken) {
		return fingerprintOwner{token: unitToken, hash: &u.Hash, rendered: &u.RenderedHash}, true
	}
	for i, tok := range moduleTokens {
		if tok != "" && strings.Contains(name, tok) {
			m := u.Modules[i]
			return fingerprintOwner{token: tok, hash: &m.Hash, rendered: &m.RenderedHash, module: m.ID}, true
		}
	}
	return fingerprintOwner{}, false
}

func (ps *pass) skip(u *Unit, file, reason string) {
	ps.log.Warn("main file skipped", "unit", u.ID, "file", file, "reason", reason)
	ps.result.Skipped = append(ps.result.Skipped, SkippedFile{Unit: u.ID, File: file, Reason: reason})
}
