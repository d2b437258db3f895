package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete Wrangler configuration
type Config struct {
	Planner     PlannerConfig     `mapstructure:"planner"`
	Reservation ReservationConfig `mapstructure:"reservation"`
	Resolution  ResolutionConfig  `mapstructure:"resolution"`
	Watch       WatchConfig       `mapstructure:"watch"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Paths       PathsConfig       `mapstructure:"paths"`
}

// PlannerConfig controls batch ordering and grouping
type PlannerConfig struct {
	// MaxGroupSize is the maximum number of units per parallel group (default: 3)
	MaxGroupSize int `mapstructure:"max_group_size"`
}

// ReservationConfig controls repository reservations and queueing
type ReservationConfig struct {
	// StaleAfterMinutes is the age at which a reservation is considered
	// abandoned and eligible for emergency cleanup (default: 120)
	StaleAfterMinutes int `mapstructure:"stale_after_minutes"`
	// CleanupIntervalMinutes is how often automatic cleanup sweeps run,
	// 0 disables the sweep (default: 0)
	CleanupIntervalMinutes int `mapstructure:"cleanup_interval_minutes"`
}

// ResolutionConfig controls the conflict resolution engine
type ResolutionConfig struct {
	// SimilarityThreshold is the minimum keyword similarity for two units
	// to be merged as duplicates, 0-1 (default: 0.6)
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	// AllowPreemption permits higher-priority units to force-release
	// reservations held by strictly lower-priority work (default: true)
	AllowPreemption bool `mapstructure:"allow_preemption"`
}

// WatchConfig controls the worktree drift watcher
type WatchConfig struct {
	// Enabled turns drift detection on (default: true)
	Enabled bool `mapstructure:"enabled"`
	// DebounceMs batches filesystem event bursts (default: 50)
	DebounceMs int `mapstructure:"debounce_ms"`
}

// LoggingConfig controls structured logging
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
}

// PathsConfig controls where Wrangler stores data
type PathsConfig struct {
	// RunDir is where run state and pull request records are written.
	// If empty, defaults to ".wrangler" relative to the repository root.
	RunDir string `mapstructure:"run_dir"`
}

// ResolveRunDir returns the run directory resolved against baseDir.
func (p *PathsConfig) ResolveRunDir(baseDir string) string {
	if p.RunDir == "" {
		return filepath.Join(baseDir, ".wrangler")
	}
	path := p.RunDir
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return path
}

// StaleAfter returns the stale reservation age as a time.Duration
func (r *ReservationConfig) StaleAfter() time.Duration {
	return time.Duration(r.StaleAfterMinutes) * time.Minute
}

// CleanupInterval returns the cleanup sweep interval as a time.Duration
// (0 means disabled)
func (r *ReservationConfig) CleanupInterval() time.Duration {
	return time.Duration(r.CleanupIntervalMinutes) * time.Minute
}

// Debounce returns the watch debounce window as a time.Duration
func (w *WatchConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMs) * time.Millisecond
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Planner: PlannerConfig{
			MaxGroupSize: 3,
		},
		Reservation: ReservationConfig{
			StaleAfterMinutes:      120,
			CleanupIntervalMinutes: 0, // Manual cleanup only unless configured
		},
		Resolution: ResolutionConfig{
			SimilarityThreshold: 0.6,
			AllowPreemption:     true,
		},
		Watch: WatchConfig{
			Enabled:    true,
			DebounceMs: 50,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Paths: PathsConfig{
			RunDir: "", // Empty means use default: .wrangler
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Planner defaults
	viper.SetDefault("planner.max_group_size", defaults.Planner.MaxGroupSize)

	// Reservation defaults
	viper.SetDefault("reservation.stale_after_minutes", defaults.Reservation.StaleAfterMinutes)
	viper.SetDefault("reservation.cleanup_interval_minutes", defaults.Reservation.CleanupIntervalMinutes)

	// Resolution defaults
	viper.SetDefault("resolution.similarity_threshold", defaults.Resolution.SimilarityThreshold)
	viper.SetDefault("resolution.allow_preemption", defaults.Resolution.AllowPreemption)

	// Watch defaults
	viper.SetDefault("watch.enabled", defaults.Watch.Enabled)
	viper.SetDefault("watch.debounce_ms", defaults.Watch.DebounceMs)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)

	// Paths defaults
	viper.SetDefault("paths.run_dir", defaults.Paths.RunDir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "wrangler")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wrangler"
	}
	return filepath.Join(home, ".config", "wrangler")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
