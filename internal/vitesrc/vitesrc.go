// Package vitesrc turns a Vite build manifest into a rehash plan.
package vitesrc

import (
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vormadev/outhash/internal/plan"
)

// ManifestUnitID names the unit holding the manifest file itself.
const ManifestUnitID = "vite-manifest"

// Vite renders [hash] as eight base64url characters after a dash
var hashPattern = regexp.MustCompile(`-([A-Za-z0-9_-]{8})\.[A-Za-z0-9]+$`)

type ManifestChunk struct {
	Src            string   `json:"src"`
	File           string   `json:"file"`
	CSS            []string `json:"css"`
	Assets         []string `json:"assets"`
	IsEntry        bool     `json:"isEntry"`
	Name           string   `json:"name"`
	IsDynamicEntry bool     `json:"isDynamicEntry"`
	Imports        []string `json:"imports"`
	DynamicImports []string `json:"dynamicImports"`
}

type Manifest map[string]ManifestChunk

func ReadManifest(manifestPath string) (Manifest, error) {
	contents, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, errors.Wrap(err, "read vite manifest")
	}
	manifest := make(Manifest)
	if err := json.Unmarshal(contents, &manifest); err != nil {
		return nil, errors.Wrapf(err, "parse vite manifest %s", manifestPath)
	}
	return manifest, nil
}

// DefaultRoot is the build output directory for a manifest path: the
// parent of a .vite directory, or the manifest's own directory.
func DefaultRoot(manifestPath string) string {
	dir := filepath.Dir(manifestPath)
	if filepath.Base(dir) == ".vite" {
		return filepath.Dir(dir)
	}
	return dir
}

// Load reads the manifest and builds a plan rooted at root. When root is
// empty, DefaultRoot is used.
func Load(manifestPath, root string) (*plan.Plan, error) {
	m, err := ReadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	if root == "" {
		root = DefaultRoot(manifestPath)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "vite root")
	}
	absManifest, err := filepath.Abs(manifestPath)
	if err != nil {
		return nil, errors.Wrap(err, "vite manifest")
	}
	manifestName := ""
	if rel, err := filepath.Rel(absRoot, absManifest); err == nil && !strings.HasPrefix(rel, "..") {
		manifestName = filepath.ToSlash(rel)
	}
	return ToPlan(m, absRoot, manifestName)
}

// ToPlan makes one unit per hashed output file. A chunk references its
// static and dynamic imports, its CSS and its assets; CSS files reference
// the assets of the chunk that emitted them. When manifestName is set the
// manifest becomes a manifest unit that references every other unit, so
// its file names are rewritten last.
func ToPlan(m Manifest, root, manifestName string) (*plan.Plan, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	p := &plan.Plan{Root: root}
	byFile := make(map[string]int)
	keyID := make(map[string]string)

	addFile := func(id, name, file string, runtime bool) string {
		if i, ok := byFile[file]; ok {
			return p.Units[i].ID
		}
		hash := hashOf(file)
		if hash == "" || stem(file) == name {
			return ""
		}
		byFile[file] = len(p.Units)
		p.Units = append(p.Units, plan.Unit{
			ID:           id,
			Name:         name,
			Files:        []string{file},
			RenderedHash: hash,
			Runtime:      runtime,
		})
		return id
	}

	for _, k := range keys {
		c := m[k]
		if c.File == "" {
			continue
		}
		if id := addFile(k, c.Name, c.File, c.IsEntry); id != "" {
			keyID[k] = id
		}
	}
	for _, k := range keys {
		c := m[k]
		for _, f := range slices.Concat(c.CSS, c.Assets) {
			addFile(f, baseName(f), f, false)
		}
	}

	ref := func(u *plan.Unit, id string) {
		if id != "" && id != u.ID && !slices.Contains(u.References, id) {
			u.References = append(u.References, id)
		}
	}
	fileID := func(f string) string {
		if i, ok := byFile[f]; ok {
			return p.Units[i].ID
		}
		return ""
	}

	for _, k := range keys {
		c := m[k]
		if _, ok := keyID[k]; !ok {
			continue
		}
		u := &p.Units[byFile[c.File]]
		for _, imp := range slices.Concat(c.Imports, c.DynamicImports) {
			ref(u, keyID[imp])
		}
		for _, f := range slices.Concat(c.CSS, c.Assets) {
			ref(u, fileID(f))
		}
		for _, css := range c.CSS {
			i, ok := byFile[css]
			if !ok {
				continue
			}
			for _, a := range c.Assets {
				ref(&p.Units[i], fileID(a))
			}
		}
	}

	if manifestName != "" {
		mu := plan.Unit{ID: ManifestUnitID, Files: []string{manifestName}, Manifest: true}
		for _, u := range p.Units {
			mu.References = append(mu.References, u.ID)
		}
		p.Units = append(p.Units, mu)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// hashOf returns the hash embedded in file. A lowercase word such as
// "settings" in foo-settings.js is not taken for one.
func hashOf(file string) string {
	match := hashPattern.FindStringSubmatch(path.Base(file))
	if match == nil || !strings.ContainsFunc(match[1], notLower) {
		return ""
	}
	return match[1]
}

func notLower(r rune) bool { return r < 'a' || r > 'z' }

func stem(file string) string {
	base := path.Base(file)
	return strings.TrimSuffix(base, path.Ext(base))
}

func baseName(file string) string {
	base := path.Base(file)
	if loc := hashPattern.FindStringIndex(base); loc != nil {
		return base[:loc[0]]
	}
	return strings.TrimSuffix(base, path.Ext(base))
}
