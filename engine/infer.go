package engine

import (
	"slices"

	"github.com/vormadev/outhash/kit/refscan"
)

// InferReferences adds to each unit's References every other unit whose
// fingerprint (own or module) occurs in one of its files. Existing
// references are kept; missing assets are ignored here and reported by the
// pass itself.
func InferReferences(units []*Unit, assets *Assets) {
	tokenOwner := make(map[string]string)
	var tokens []string
	claim := func(tok, id string) {
		if tok == "" {
			return
		}
		if _, taken := tokenOwner[tok]; taken {
			return
		}
		tokenOwner[tok] = id
		tokens = append(tokens, tok)
	}
	for _, u := range units {
		claim(u.RenderedHash, u.ID)
		for _, m := range u.Modules {
			claim(m.RenderedHash, u.ID)
		}
	}
	if len(tokens) == 0 {
		return
	}

	for _, u := range units {
		for _, name := range u.Files {
			a, ok := assets.Get(name)
			if !ok {
				continue
			}
			for _, tok := range refscan.Find(name, a.Source.Bytes(), tokens) {
				id := tokenOwner[tok]
				if id == u.ID || slices.Contains(u.References, id) {
					continue
				}
				u.References = append(u.References, id)
			}
		}
	}
}
