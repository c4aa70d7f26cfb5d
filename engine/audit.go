package engine

import (
	"strings"

	"github.com/vormadev/outhash/kit/refscan"
)

// StaleReference is a replaced fingerprint that still occurs in a file.
type StaleReference struct {
	Unit        string `json:"unit,omitempty"`
	File        string `json:"file"`
	Fingerprint string `json:"fingerprint"`
	ReplacedBy  string `json:"replacedBy"`
}

// Audit lists every file that still contains an old fingerprint from fpm.
// Fingerprints still embedded in some current file name, such as a secondary
// file that keeps its name, are not considered stale. After a pass this is
// empty unless units referenced each other in a cycle.
func Audit(units []*Unit, assets *Assets, fpm *FingerprintMap) []StaleReference {
	if fpm == nil || fpm.Len() == 0 {
		return nil
	}
	names := assets.Names()

	var tokens []string
	replacement := make(map[string]string, fpm.Len())
	for _, p := range fpm.pairs {
		if p.Old == p.New || nameEmbeds(names, p.Old) {
			continue
		}
		tokens = append(tokens, p.Old)
		replacement[p.Old] = p.New
	}
	if len(tokens) == 0 {
		return nil
	}

	owner := make(map[string]string)
	for _, u := range units {
		for _, f := range u.Files {
			owner[f] = u.ID
		}
	}

	var stale []StaleReference
	for _, name := range names {
		a, _ := assets.Get(name)
		for _, tok := range refscan.Find(name, a.Source.Bytes(), tokens) {
			stale = append(stale, StaleReference{
				Unit:        owner[name],
				File:        name,
				Fingerprint: tok,
				ReplacedBy:  replacement[tok],
			})
		}
	}
	return stale
}

func nameEmbeds(names []string, token string) bool {
	for _, n := range names {
		if strings.Contains(n, token) {
			return true
		}
	}
	return false
}
