package vitesrc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vormadev/outhash/engine"
	"github.com/vormadev/outhash/internal/plan"
)

const testManifest = `{
  "_shared-B7PI925R.js": {"file": "assets/shared-B7PI925R.js", "name": "shared"},
  "src/main.ts": {
    "file": "assets/main-Cx1-aZ9q.js",
    "name": "main",
    "src": "src/main.ts",
    "isEntry": true,
    "imports": ["_shared-B7PI925R.js"],
    "dynamicImports": ["src/lazy.ts"],
    "css": ["assets/main-DiwrgTda.css"],
    "assets": ["assets/logo-BuPIv0aa.svg"]
  },
  "src/lazy.ts": {
    "file": "assets/lazy-Q2bXkKcD.js",
    "name": "lazy",
    "src": "src/lazy.ts",
    "isDynamicEntry": true,
    "imports": ["_shared-B7PI925R.js"]
  },
  "public/robots.txt": {"file": "robots.txt"}
}`

var testFiles = map[string]string{
	"assets/shared-B7PI925R.js": `export const s = 1`,
	"assets/main-Cx1-aZ9q.js":   `import "./shared-B7PI925R.js"; import("./lazy-Q2bXkKcD.js")`,
	"assets/lazy-Q2bXkKcD.js":   `import "./shared-B7PI925R.js"`,
	"assets/main-DiwrgTda.css":  `body { background: url(./logo-BuPIv0aa.svg) }`,
	"assets/logo-BuPIv0aa.svg":  `<svg/>`,
	"robots.txt":                `User-agent: *`,
}

func unitByID(p *plan.Plan, id string) *plan.Unit {
	for i := range p.Units {
		if p.Units[i].ID == id {
			return &p.Units[i]
		}
	}
	return nil
}

func TestToPlan(t *testing.T) {
	var m Manifest
	require.NoError(t, json.Unmarshal([]byte(testManifest), &m))

	p, err := ToPlan(m, "/out", ".vite/manifest.json")
	require.NoError(t, err)
	require.Len(t, p.Units, 6)

	main := unitByID(p, "src/main.ts")
	require.NotNil(t, main)
	assert.Equal(t, "Cx1-aZ9q", main.RenderedHash)
	assert.True(t, main.Runtime)
	assert.Equal(t, []string{"_shared-B7PI925R.js", "src/lazy.ts", "assets/main-DiwrgTda.css", "assets/logo-BuPIv0aa.svg"}, main.References)

	css := unitByID(p, "assets/main-DiwrgTda.css")
	require.NotNil(t, css)
	assert.Equal(t, "main", css.Name)
	assert.Equal(t, []string{"assets/logo-BuPIv0aa.svg"}, css.References)

	assert.Nil(t, unitByID(p, "public/robots.txt"), "unhashed files are left alone")

	mu := unitByID(p, ManifestUnitID)
	require.NotNil(t, mu)
	assert.True(t, mu.Manifest)
	assert.Len(t, mu.References, 5)
}

func TestToPlanSkipsCustomUnhashedNames(t *testing.T) {
	m := Manifest{
		"src/settings.ts": {File: "assets/foo-settings.js", Name: "settings", IsEntry: true},
		"src/override.ts": {File: "assets/app-Override.js", Name: "app-Override", IsEntry: true},
		"src/main.ts":     {File: "assets/main-Cx1-aZ9q.js", Name: "main", IsEntry: true},
	}
	p, err := ToPlan(m, "/out", "")
	require.NoError(t, err)
	require.Len(t, p.Units, 1)
	assert.Equal(t, "src/main.ts", p.Units[0].ID)
}

func TestHashOf(t *testing.T) {
	assert.Equal(t, "Cx1-aZ9q", hashOf("assets/main-Cx1-aZ9q.js"))
	assert.Equal(t, "12345678", hashOf("a-b-12345678.js"))
	assert.Equal(t, "", hashOf("robots.txt"))
	assert.Equal(t, "", hashOf("assets/foo-settings.js"), "lowercase words are not hashes")
	assert.Equal(t, "", hashOf("app-override.css"))
	assert.Equal(t, "logo", baseName("assets/logo-BuPIv0aa.svg"))
}

func TestDefaultRoot(t *testing.T) {
	assert.Equal(t, "dist", DefaultRoot(filepath.Join("dist", ".vite", "manifest.json")))
	assert.Equal(t, "dist", DefaultRoot(filepath.Join("dist", "manifest.json")))
}

func TestLoadAndRehash(t *testing.T) {
	dir := t.TempDir()
	dist := filepath.Join(dir, "dist")
	files := map[string]string{".vite/manifest.json": testManifest}
	for k, v := range testFiles {
		files[k] = v
	}
	for name, data := range files {
		p := filepath.Join(dist, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	}

	p, err := Load(filepath.Join(dist, ".vite", "manifest.json"), "")
	require.NoError(t, err)
	units, assets, err := p.Materialize()
	require.NoError(t, err)

	e, err := engine.New(engine.Options{
		MainFilePatterns: []string{"*.js", "*.css", "*.svg"},
		ManifestUnits:    []string{ManifestUnitID},
	})
	require.NoError(t, err)
	res, err := e.Run(units, assets)
	require.NoError(t, err)
	assert.Empty(t, res.Stale)
	assert.Equal(t, ManifestUnitID, res.Order[len(res.Order)-1])

	a, ok := assets.Get(".vite/manifest.json")
	require.True(t, ok)
	manifest := string(a.Source.Bytes())
	for old, renamed := range res.Renames {
		assert.NotContains(t, manifest, `"`+old+`"`)
		assert.Contains(t, manifest, `"`+renamed+`"`)
	}

	css, ok := assets.Get(res.Renames["assets/main-DiwrgTda.css"])
	require.True(t, ok)
	assert.True(t, strings.Contains(string(css.Source.Bytes()), strings.TrimPrefix(res.Renames["assets/logo-BuPIv0aa.svg"], "assets/")))
}
