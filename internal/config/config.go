package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/1broseidon/backdrop/internal/policy"
)

const (
	DefaultScreensaverDelay = 5 * time.Minute
	DefaultScreensaverGrace = 750 * time.Millisecond
	DefaultScreensaverFade  = 400 * time.Millisecond

	DefaultDebounce            = 500 * time.Millisecond
	DefaultHealInterval        = 30 * time.Second
	DefaultRetention           = 24 * time.Hour
	DefaultProbeInterval       = time.Second
	DefaultSuppressionInterval = 10 * time.Second

	DefaultCacheMaxBytes = 256 << 20
	DefaultCacheEntries  = 32

	DefaultPlayerBinary = "mpv"
)

// ScreensaverConfig configures the idle screensaver.
type ScreensaverConfig struct {
	Enabled bool          `yaml:"enabled"`
	Delay   time.Duration `yaml:"delay"`
	// Grace is how long idle time is re-checked before activating.
	Grace time.Duration `yaml:"grace"`
	Clock bool          `yaml:"clock"`
	Fade  time.Duration `yaml:"fade"`
	// Hotkey starts the screensaver immediately (empty disables).
	Hotkey string `yaml:"hotkey"`
}

// AudioConfig configures global audio state.
type AudioConfig struct {
	Muted bool `yaml:"muted"`
}

// ReconcileConfig tunes the reconciliation loop.
type ReconcileConfig struct {
	Debounce            time.Duration `yaml:"debounce"`
	HealInterval        time.Duration `yaml:"heal_interval"`
	Retention           time.Duration `yaml:"retention"`
	ProbeInterval       time.Duration `yaml:"probe_interval"`
	SuppressionInterval time.Duration `yaml:"suppression_interval"`
}

// MediaConfig configures resource loading.
type MediaConfig struct {
	// CacheMaxBytes is the largest file the player buffers whole; larger
	// files play directly from disk.
	CacheMaxBytes int64 `yaml:"cache_max_bytes"`
	CacheEntries  int   `yaml:"cache_entries"`
}

// PlayerConfig configures the external player.
type PlayerConfig struct {
	Binary    string   `yaml:"binary"`
	ExtraArgs []string `yaml:"extra_args,omitempty"`
}

// Config is the effective daemon configuration.
type Config struct {
	Policy      string            `yaml:"policy"`
	Screensaver ScreensaverConfig `yaml:"screensaver"`
	Audio       AudioConfig       `yaml:"audio"`
	Reconcile   ReconcileConfig   `yaml:"reconcile"`
	Media       MediaConfig       `yaml:"media"`
	Player      PlayerConfig      `yaml:"player"`
	// StorePath overrides the persisted display record directory.
	StorePath string `yaml:"store_path,omitempty"`
	LogLevel  string `yaml:"log_level"`
}

func DefaultConfig() *Config {
	return &Config{
		Policy: string(policy.AlwaysPlay),
		Screensaver: ScreensaverConfig{
			Enabled: false,
			Delay:   DefaultScreensaverDelay,
			Grace:   DefaultScreensaverGrace,
			Clock:   true,
			Fade:    DefaultScreensaverFade,
			Hotkey:  "Mod4-Mod1-s",
		},
		Reconcile: ReconcileConfig{
			Debounce:            DefaultDebounce,
			HealInterval:        DefaultHealInterval,
			Retention:           DefaultRetention,
			ProbeInterval:       DefaultProbeInterval,
			SuppressionInterval: DefaultSuppressionInterval,
		},
		Media: MediaConfig{
			CacheMaxBytes: DefaultCacheMaxBytes,
			CacheEntries:  DefaultCacheEntries,
		},
		Player: PlayerConfig{
			Binary: DefaultPlayerBinary,
		},
		LogLevel: "info",
	}
}

// PolicyMode returns the parsed policy mode. Validate guarantees it parses.
func (c *Config) PolicyMode() policy.Mode {
	mode, err := policy.ParseMode(c.Policy)
	if err != nil {
		return policy.AlwaysPlay
	}
	return mode
}

// SlogLevel returns the log level for slog.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Save writes the configuration to the standard location.
func (c *Config) Save() error {
	path, err := DefaultConfigPath()
	if err != nil {
		return err
	}
	return c.SaveToPath(path)
}

// SaveToPath atomically replaces path with the marshalled configuration.
// Comments in the original file are not preserved.
func (c *Config) SaveToPath(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate performs strict validation of the effective configuration.
func (c *Config) Validate() error {
	if _, err := policy.ParseMode(c.Policy); err != nil {
		return &ValidationError{Path: "policy", Err: err}
	}
	if c.Screensaver.Delay < time.Second {
		return &ValidationError{Path: "screensaver.delay", Err: fmt.Errorf("delay must be at least 1s")}
	}
	if c.Screensaver.Grace < 0 {
		return &ValidationError{Path: "screensaver.grace", Err: fmt.Errorf("grace must be >= 0")}
	}
	if c.Screensaver.Fade < 0 {
		return &ValidationError{Path: "screensaver.fade", Err: fmt.Errorf("fade must be >= 0")}
	}
	if c.Reconcile.Debounce < 0 {
		return &ValidationError{Path: "reconcile.debounce", Err: fmt.Errorf("debounce must be >= 0")}
	}
	if c.Reconcile.HealInterval < time.Second {
		return &ValidationError{Path: "reconcile.heal_interval", Err: fmt.Errorf("heal_interval must be at least 1s")}
	}
	if c.Reconcile.Retention <= 0 {
		return &ValidationError{Path: "reconcile.retention", Err: fmt.Errorf("retention must be positive")}
	}
	if c.Reconcile.ProbeInterval < 100*time.Millisecond {
		return &ValidationError{Path: "reconcile.probe_interval", Err: fmt.Errorf("probe_interval must be at least 100ms")}
	}
	if c.Reconcile.SuppressionInterval < time.Second {
		return &ValidationError{Path: "reconcile.suppression_interval", Err: fmt.Errorf("suppression_interval must be at least 1s")}
	}
	if c.Media.CacheMaxBytes < 0 {
		return &ValidationError{Path: "media.cache_max_bytes", Err: fmt.Errorf("cache_max_bytes must be >= 0")}
	}
	if c.Media.CacheEntries < 0 {
		return &ValidationError{Path: "media.cache_entries", Err: fmt.Errorf("cache_entries must be >= 0")}
	}
	if c.Player.Binary == "" {
		return &ValidationError{Path: "player.binary", Err: fmt.Errorf("binary is required")}
	}
	if c.LogLevel != "debug" && c.LogLevel != "info" && c.LogLevel != "warning" && c.LogLevel != "error" {
		return &ValidationError{Path: "log_level", Err: fmt.Errorf("log_level must be one of: debug, info, warning, error")}
	}
	return nil
}

type ValidationError struct {
	Path   string
	Source Source
	Err    error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Source.Kind == SourceFile && e.Source.File != "" && e.Source.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s: %v", e.Source.File, e.Source.Line, e.Source.Column, e.Path, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }
