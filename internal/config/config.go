// Package config loads outhash settings from outhash.{json,yaml,toml}, .env
// files and OUTHASH_* environment variables.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/vormadev/outhash/engine"
	"github.com/vormadev/outhash/kit/colorlog"
	"github.com/vormadev/outhash/kit/digest"
)

const (
	EnvPrefix  = "OUTHASH"
	ConfigName = "outhash"
)

var ErrInvalidConfig = errors.New("invalid configuration")

var precompressModes = []string{"none", "gzip", "zstd", "both"}

type Config struct {
	Digest          DigestConfig   `mapstructure:"digest"`
	ManifestUnits   []string       `mapstructure:"manifest_units"`
	MainFiles       []string       `mapstructure:"main_files"`
	InferReferences bool           `mapstructure:"infer_references"`
	Validate        ValidateConfig `mapstructure:"validate"`
	Rewrite         RewriteConfig  `mapstructure:"rewrite"`
	OutDir          string         `mapstructure:"out_dir"`
	Emit            EmitConfig     `mapstructure:"emit"`
	Watch           WatchConfig    `mapstructure:"watch"`
	Log             LogConfig      `mapstructure:"log"`

	validatePattern *regexp.Regexp
	rewriteFilter   *regexp.Regexp
	logLevel        slog.Level
}

type DigestConfig struct {
	Algorithm string `mapstructure:"algorithm"`
	Encoding  string `mapstructure:"encoding"`
	Length    int    `mapstructure:"length"`
	Salt      string `mapstructure:"salt"`
}

type ValidateConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Pattern string `mapstructure:"pattern"`
}

type RewriteConfig struct {
	Filter string `mapstructure:"filter"`
}

type EmitConfig struct {
	Precompress string `mapstructure:"precompress"`
	Concurrency int    `mapstructure:"concurrency"`
	Clean       bool   `mapstructure:"clean"`
}

type WatchConfig struct {
	Ignore   []string      `mapstructure:"ignore"`
	Debounce time.Duration `mapstructure:"debounce"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Color string `mapstructure:"color"` // auto, always, never
}

// SetDefaults installs the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("digest.algorithm", digest.DefaultAlgorithm)
	v.SetDefault("digest.encoding", digest.DefaultEncoding)
	v.SetDefault("digest.length", digest.DefaultLength)
	v.SetDefault("digest.salt", "")

	v.SetDefault("manifest_units", []string{})
	v.SetDefault("main_files", engine.DefaultMainFilePatterns)
	v.SetDefault("infer_references", false)

	v.SetDefault("validate.enabled", false)
	v.SetDefault("validate.pattern", `\.(js|mjs|cjs|css)$`)
	v.SetDefault("rewrite.filter", "")

	v.SetDefault("out_dir", "dist")
	v.SetDefault("emit.precompress", "none")
	v.SetDefault("emit.concurrency", 100)
	v.SetDefault("emit.clean", false)

	v.SetDefault("watch.ignore", []string{"**/node_modules/**", "**/.git/**"})
	v.SetDefault("watch.debounce", 100*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.color", "auto")
}

// New returns a viper instance with defaults and environment binding. When
// configFile is empty, outhash.{json,yaml,toml} is looked up in dir.
func New(dir, configFile string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(ConfigName)
		v.AddConfigPath(dir)
	}
	return v
}

// LoadDotEnv loads dir/.env and dir/.env.local into the process environment
// without overriding variables that are already set.
func LoadDotEnv(dir string) error {
	for _, name := range []string{".env", ".env.local"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return errors.Wrapf(err, "load %s", p)
		}
	}
	return nil
}

// Load reads the config file if there is one, unmarshals and validates.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func invalid(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidConfig, format, args...)
}

func (c *Config) validate() error {
	if _, err := digest.New(c.digestOptions()); err != nil {
		return errors.Mark(errors.Wrap(err, "digest"), ErrInvalidConfig)
	}

	var err error
	if c.Validate.Pattern != "" {
		if c.validatePattern, err = regexp.Compile(c.Validate.Pattern); err != nil {
			return invalid("validate.pattern: %v", err)
		}
	}
	if c.Rewrite.Filter != "" {
		if c.rewriteFilter, err = regexp.Compile(c.Rewrite.Filter); err != nil {
			return invalid("rewrite.filter: %v", err)
		}
	}

	c.Emit.Precompress = strings.ToLower(c.Emit.Precompress)
	if c.Emit.Precompress == "" {
		c.Emit.Precompress = "none"
	}
	if !slices.Contains(precompressModes, c.Emit.Precompress) {
		return errors.WithHintf(invalid("emit.precompress %q", c.Emit.Precompress),
			"use one of %s", strings.Join(precompressModes, ", "))
	}
	if c.Emit.Concurrency < 0 {
		return invalid("emit.concurrency must not be negative")
	}
	if c.Watch.Debounce < 0 {
		return invalid("watch.debounce must not be negative")
	}

	if c.logLevel, err = colorlog.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level: %v", err)
	}
	switch strings.ToLower(c.Log.Color) {
	case "", "auto", "always", "never":
	default:
		return invalid("log.color %q", c.Log.Color)
	}
	return nil
}

func (c *Config) digestOptions() digest.Options {
	var salt []byte
	if c.Digest.Salt != "" {
		salt = []byte(c.Digest.Salt)
	}
	return digest.Options{
		Algorithm: c.Digest.Algorithm,
		Encoding:  c.Digest.Encoding,
		Length:    c.Digest.Length,
		Salt:      salt,
	}
}

// EngineOptions converts the config into engine options.
func (c *Config) EngineOptions(log *slog.Logger) engine.Options {
	return engine.Options{
		Digest:           c.digestOptions(),
		ManifestUnits:    slices.Clone(c.ManifestUnits),
		MainFilePatterns: slices.Clone(c.MainFiles),
		RewriteFilter:    c.rewriteFilter,
		InferReferences:  c.InferReferences,
		Validate:         c.Validate.Enabled,
		ValidatePattern:  c.validatePattern,
		Logger:           log,
	}
}

// Logger returns a colorlog logger configured by the log section.
func (c *Config) Logger(label string) *slog.Logger {
	opts := colorlog.Options{Level: c.logLevel}
	switch strings.ToLower(c.Log.Color) {
	case "always":
		opts.UseColor = new(bool)
		*opts.UseColor = true
	case "never":
		opts.UseColor = new(bool)
	}
	return colorlog.New(label, opts)
}

// Precompress reports which compressed siblings the emitter writes.
func (c *Config) Precompress() (gzip, zstd bool) {
	switch c.Emit.Precompress {
	case "gzip":
		return true, false
	case "zstd":
		return false, true
	case "both":
		return true, true
	}
	return false, false
}

// ValidatePattern is the compiled validate.pattern, or nil.
func (c *Config) ValidatePattern() *regexp.Regexp {
	return c.validatePattern
}
