// Package config loads pipeline configuration from the environment with an
// optional YAML overlay, and the rate-limit override table. All environment
// reads for the pipeline happen here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when neither environment nor file specify a value.
const (
	DefaultMaxQueries   = 30
	DefaultMaxAttempts  = 3
	DefaultPollInterval = time.Second
)

// Config holds the pipeline's runtime options.
type Config struct {
	// DataFolder is the root holding input/, output/, and media/;
	// auto-created on startup.
	DataFolder string

	// MaxQueries is the default per-bucket rate limit in queries per minute.
	MaxQueries int

	// MaxAttempts is the per-record attempt ceiling (1 initial + retries).
	MaxAttempts int

	// Parallel allows multiple jobs' dispatchers to run concurrently. Rate
	// limiters are never shared across jobs either way.
	Parallel bool

	// PollInterval is the wait between empty polls of the input folder.
	// Zero restores the legacy busy-poll.
	PollInterval time.Duration

	// RateLimitFile optionally points at a JSON override table mapping
	// api/model/group names to queries-per-minute.
	RateLimitFile string

	// HistoryDB optionally points at the sqlite job-history database.
	// Empty disables history.
	HistoryDB string
}

// fileOverlay mirrors Config for the YAML file. Pointer fields distinguish
// "absent" from zero so the file only overrides what it mentions.
type fileOverlay struct {
	DataFolder    *string `yaml:"data_folder"`
	MaxQueries    *int    `yaml:"max_queries"`
	MaxAttempts   *int    `yaml:"max_attempts"`
	Parallel      *bool   `yaml:"parallel"`
	PollInterval  *string `yaml:"poll_interval"`
	RateLimitFile *string `yaml:"rate_limit_file"`
	HistoryDB     *string `yaml:"history_db"`
}

// InputDir returns the watched folder.
func (c Config) InputDir() string { return filepath.Join(c.DataFolder, "input") }

// OutputDir returns the root of per-job output folders.
func (c Config) OutputDir() string { return filepath.Join(c.DataFolder, "output") }

// MediaDir returns the folder for media referenced by multimodal prompts.
func (c Config) MediaDir() string { return filepath.Join(c.DataFolder, "media") }

// EnsureFolders creates the data folder tree.
func (c Config) EnsureFolders() error {
	for _, dir := range []string{c.InputDir(), c.OutputDir(), c.MediaDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Load builds the configuration from environment variables, then overlays
// the YAML file at path when one is given.
func Load(path string) (Config, error) {
	cfg := Config{
		DataFolder:    getEnv("DATA_FOLDER", "data"),
		MaxQueries:    getEnvInt("MAX_QUERIES", DefaultMaxQueries),
		MaxAttempts:   getEnvInt("MAX_ATTEMPTS", DefaultMaxAttempts),
		Parallel:      getEnvBool("PARALLEL", false),
		PollInterval:  getEnvDuration("POLL_INTERVAL", DefaultPollInterval),
		RateLimitFile: getEnv("RATE_LIMIT_FILE", ""),
		HistoryDB:     getEnv("HISTORY_DB", ""),
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		var overlay fileOverlay
		if err := yaml.Unmarshal(data, &overlay); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
		if err := overlay.apply(&cfg); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (o fileOverlay) apply(cfg *Config) error {
	if o.DataFolder != nil {
		cfg.DataFolder = *o.DataFolder
	}
	if o.MaxQueries != nil {
		cfg.MaxQueries = *o.MaxQueries
	}
	if o.MaxAttempts != nil {
		cfg.MaxAttempts = *o.MaxAttempts
	}
	if o.Parallel != nil {
		cfg.Parallel = *o.Parallel
	}
	if o.PollInterval != nil {
		d, err := time.ParseDuration(*o.PollInterval)
		if err != nil {
			return fmt.Errorf("parse poll_interval: %w", err)
		}
		cfg.PollInterval = d
	}
	if o.RateLimitFile != nil {
		cfg.RateLimitFile = *o.RateLimitFile
	}
	if o.HistoryDB != nil {
		cfg.HistoryDB = *o.HistoryDB
	}
	return nil
}

func (c Config) validate() error {
	if c.MaxQueries < 1 {
		return fmt.Errorf("max_queries must be positive, got %d", c.MaxQueries)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be positive, got %d", c.MaxAttempts)
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("poll_interval must not be negative, got %s", c.PollInterval)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
