package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vormadev/outhash/engine"
	"github.com/vormadev/outhash/kit/digest"
)

func load(t *testing.T, dir string) (*Config, error) {
	t.Helper()
	return Load(New(dir, ""))
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func TestDefaults(t *testing.T) {
	cfg, err := load(t, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "md5", cfg.Digest.Algorithm)
	assert.Equal(t, "hex", cfg.Digest.Encoding)
	assert.Equal(t, 20, cfg.Digest.Length)
	assert.Equal(t, engine.DefaultMainFilePatterns, cfg.MainFiles)
	assert.Equal(t, "dist", cfg.OutDir)
	assert.Equal(t, 100, cfg.Emit.Concurrency)
	assert.Equal(t, 100*time.Millisecond, cfg.Watch.Debounce)

	gz, zst := cfg.Precompress()
	assert.False(t, gz)
	assert.False(t, zst)

	opts := cfg.EngineOptions(nil)
	assert.Nil(t, opts.Digest.Salt)
	assert.Nil(t, opts.RewriteFilter)
	assert.True(t, opts.ValidatePattern.MatchString("a.css"))
	assert.False(t, opts.ValidatePattern.MatchString("a.js.map"))

	_, err = engine.New(opts)
	assert.NoError(t, err)
}

func TestYAMLFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "outhash.yaml"), `
digest:
  algorithm: sha256
  encoding: base58
  length: 12
  salt: pepper
manifest_units: [runtime, "manifest~*"]
main_files: ["*.js"]
validate:
  enabled: true
rewrite:
  filter: '\.map$'
emit:
  precompress: both
  concurrency: 8
watch:
  debounce: 250ms
log:
  level: debug
`)
	cfg, err := load(t, dir)
	require.NoError(t, err)

	opts := cfg.EngineOptions(nil)
	assert.Equal(t, digest.Options{Algorithm: "sha256", Encoding: "base58", Length: 12, Salt: []byte("pepper")}, opts.Digest)
	assert.Equal(t, []string{"runtime", "manifest~*"}, opts.ManifestUnits)
	assert.Equal(t, []string{"*.js"}, opts.MainFilePatterns)
	assert.True(t, opts.Validate)
	assert.True(t, opts.RewriteFilter.MatchString("a.js.map"))
	assert.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, slog.LevelDebug, cfg.logLevel)

	gz, zst := cfg.Precompress()
	assert.True(t, gz)
	assert.True(t, zst)
}

func TestExplicitConfigFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "custom.json")
	writeFile(t, p, `{"out_dir": "public/build", "infer_references": true}`)

	cfg, err := Load(New(t.TempDir(), p))
	require.NoError(t, err)
	assert.Equal(t, "public/build", cfg.OutDir)
	assert.True(t, cfg.InferReferences)

	_, err = Load(New("", filepath.Join(t.TempDir(), "missing.toml")))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "outhash.toml"), "[digest]\nalgorithm = \"sha1\"\n")
	t.Setenv("OUTHASH_DIGEST_ALGORITHM", "blake3")
	t.Setenv("OUTHASH_EMIT_PRECOMPRESS", "gzip")

	cfg, err := load(t, dir)
	require.NoError(t, err)
	assert.Equal(t, "blake3", cfg.Digest.Algorithm)
	assert.Equal(t, "gzip", cfg.Emit.Precompress)
}

func TestDotEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "OUTHASH_OUT_DIR=from-dotenv\n")
	t.Cleanup(func() { os.Unsetenv("OUTHASH_OUT_DIR") })

	require.NoError(t, LoadDotEnv(dir))
	cfg, err := load(t, dir)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.OutDir)

	// a directory without .env files is fine
	assert.NoError(t, LoadDotEnv(t.TempDir()))
}

func TestInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown algorithm", "digest: {algorithm: crc32}", "crc32"},
		{"negative length", "digest: {length: -1}", "digest"},
		{"bad validate pattern", "validate: {pattern: '('}", "validate.pattern"},
		{"bad rewrite filter", "rewrite: {filter: '[a'}", "rewrite.filter"},
		{"precompress", "emit: {precompress: brotli}", "brotli"},
		{"concurrency", "emit: {concurrency: -2}", "emit.concurrency"},
		{"log level", "log: {level: loud}", "log.level"},
		{"log color", "log: {color: rainbow}", "rainbow"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, "outhash.yaml"), tt.yaml)
			_, err := load(t, dir)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "%v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoggerHonorsColorSetting(t *testing.T) {
	cfg, err := load(t, t.TempDir())
	require.NoError(t, err)
	cfg.Log.Color = "never"
	assert.NotNil(t, cfg.Logger("test"))
	assert.False(t, cfg.Logger("test").Enabled(t.Context(), slog.LevelDebug))
}
