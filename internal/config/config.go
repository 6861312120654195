// Package config loads knolmark settings from defaults, an optional YAML
// file, KNOLMARK_* environment variables and command line flags, in that
// order of precedence (later wins).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/conorfennell/knolmark/internal/generate"
	"github.com/conorfennell/knolmark/internal/viewer"
)

// EnvPrefix is the prefix of environment overrides, e.g. KNOLMARK_ROOT.
const EnvPrefix = "KNOLMARK_"

// Config holds every runtime setting.
type Config struct {
	Root       string        `koanf:"root" validate:"required"`
	Backend    string        `koanf:"backend" validate:"oneof=fs sqlite"`
	Model      string        `koanf:"model" validate:"required"`
	APIKey     string        `koanf:"api_key"`
	Listen     string        `koanf:"listen" validate:"required"`
	LogLevel   string        `koanf:"log_level" validate:"oneof=debug info warn error"`
	Debounce   time.Duration `koanf:"debounce" validate:"gte=0"`
	RetryDelay time.Duration `koanf:"retry_delay" validate:"gte=0"`
	RetryLimit int           `koanf:"retry_limit" validate:"gte=0"`
}

// Default returns the built-in settings.
func Default() Config {
	root := ".knolmark"
	if home, err := os.UserHomeDir(); err == nil {
		root = filepath.Join(home, ".knolmark")
	}
	rc := viewer.DefaultReconcilerConfig()
	return Config{
		Root:       root,
		Backend:    "fs",
		Model:      generate.DefaultModel,
		Listen:     "127.0.0.1:8737",
		LogLevel:   "info",
		Debounce:   rc.Debounce,
		RetryDelay: rc.RetryDelay,
		RetryLimit: rc.RetryLimit,
	}
}

// Flags registers the global flags on fs. Flag names use dashes where the
// keys use underscores.
func Flags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "Path to a YAML config file")
	fs.String("root", d.Root, "Storage root directory")
	fs.String("backend", d.Backend, "Storage backend: fs or sqlite")
	fs.String("model", d.Model, "Generation model")
	fs.String("api-key", "", "Generation API key (default $GEMINI_API_KEY)")
	fs.String("listen", d.Listen, "Address for the serve command")
	fs.String("log-level", d.LogLevel, "Log level: debug, info, warn or error")
	fs.Duration("debounce", d.Debounce, "Overlay reconciliation debounce")
	fs.Duration("retry-delay", d.RetryDelay, "Delay between overlay retries while pages mount")
	fs.Int("retry-limit", d.RetryLimit, "Maximum overlay retries while pages mount")
}

// Load merges every source into a validated Config. fs must already be
// parsed.
func Load(fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path, _ := fs.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}

	// Only flags set explicitly, or keys no other source set, are taken.
	flags := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
		if f.Name == "config" {
			return "", nil
		}
		return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(fs, f)
	})
	if err := k.Load(flags, nil); err != nil {
		return Config{}, fmt.Errorf("failed to load flags: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Reconciler returns the overlay reconciliation settings.
func (c Config) Reconciler() viewer.ReconcilerConfig {
	return viewer.ReconcilerConfig{
		Debounce:   c.Debounce,
		RetryDelay: c.RetryDelay,
		RetryLimit: c.RetryLimit,
	}
}
