// Package config loads bookshelf settings from a TOML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Environment variables consulted by Load
const (
	EnvConfigPath = "BOOKSHELF_CONFIG"
	EnvDataDir    = "BOOKSHELF_DATA_DIR"
	EnvDBPath     = "BOOKSHELF_DB_PATH"
	EnvModelDir   = "BOOKSHELF_MODEL_DIR"
	EnvVerbose    = "BOOKSHELF_VERBOSE"
	EnvRuntimeLib = "BOOKSHELF_ONNXRUNTIME_LIB"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid config")

// Duration is a time.Duration that reads and writes as a string ("10s", "720h")
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full application configuration
type Config struct {
	DataDir  string `toml:"data_dir"`
	DBPath   string `toml:"db_path"`
	ModelDir string `toml:"model_dir"`
	Verbose  bool   `toml:"verbose"`

	Enricher EnricherConfig `toml:"enricher"`
	Embedder EmbedderConfig `toml:"embedder"`
	Search   SearchConfig   `toml:"search"`
	Sync     SyncConfig     `toml:"sync"`
}

// EnricherConfig configures the bibliographic lookup client
type EnricherConfig struct {
	BaseURL           string   `toml:"base_url"`
	UserAgent         string   `toml:"user_agent"`
	Timeout           Duration `toml:"timeout"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	MaxRetries        int      `toml:"max_retries"`
	MatchThreshold    float64  `toml:"match_threshold"`
	// RetryNotFoundAfter is an optional cooldown before a catalog miss is
	// looked up again; zero retries misses on every sync
	RetryNotFoundAfter Duration `toml:"retry_not_found_after"`
}

// EmbedderConfig configures the local embedding model
type EmbedderConfig struct {
	BatchSize       int      `toml:"batch_size"`
	CacheSize       int      `toml:"cache_size"`
	ModelBaseURL    string   `toml:"model_base_url"`
	DownloadTimeout Duration `toml:"download_timeout"`
	RuntimeLibrary  string   `toml:"runtime_library"` // onnxruntime shared library, empty for the system default
}

// SearchConfig configures the query engine
type SearchConfig struct {
	DefaultLimit int      `toml:"default_limit"`
	CacheSize    int      `toml:"cache_size"`
	CacheTTL     Duration `toml:"cache_ttl"`
}

// SyncConfig configures the pipeline
type SyncConfig struct {
	PageSize int `toml:"page_size"`
}

// Default returns a configuration rooted at ~/.bookshelf
func Default() *Config {
	dataDir := ".bookshelf"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".bookshelf")
	}
	return &Config{
		DataDir: dataDir,
		Enricher: EnricherConfig{
			BaseURL:           "https://openlibrary.org",
			UserAgent:         "bookshelf-mcp/1.0 (personal library indexer)",
			Timeout:           Duration(10 * time.Second),
			RequestsPerSecond: 4,
			MaxRetries:        3,
			MatchThreshold:    0.6,
		},
		Embedder: EmbedderConfig{
			BatchSize:       32,
			CacheSize:       10000,
			ModelBaseURL:    "https://huggingface.co/sentence-transformers/all-MiniLM-L6-v2/resolve/main",
			DownloadTimeout: Duration(30 * time.Minute),
		},
		Search: SearchConfig{
			DefaultLimit: 50,
			CacheSize:    1000,
			CacheTTL:     Duration(10 * time.Minute),
		},
		Sync: SyncConfig{
			PageSize: 200,
		},
	}
}

// DefaultPath returns the config file location, honoring BOOKSHELF_CONFIG
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(Default().DataDir, "config.toml")
}

// Load reads the TOML file at path over the defaults and applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(expandHome(path))
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as TOML
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	path = expandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(EnvModelDir); v != "" {
		c.ModelDir = v
	}
	if v := os.Getenv(EnvRuntimeLib); v != "" {
		c.Embedder.RuntimeLibrary = v
	}
	if v := os.Getenv(EnvVerbose); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Verbose = b
		}
	}
}

func (c *Config) resolvePaths() {
	c.DataDir = expandHome(c.DataDir)
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "library.db")
	}
	if c.DBPath != ":memory:" {
		c.DBPath = expandHome(c.DBPath)
	}
	if c.ModelDir == "" {
		c.ModelDir = filepath.Join(c.DataDir, "models", "all-MiniLM-L6-v2")
	}
	c.ModelDir = expandHome(c.ModelDir)
}

// Validate rejects values the rest of the system cannot work with
func (c *Config) Validate() error {
	switch {
	case c.Enricher.BaseURL == "":
		return fmt.Errorf("%w: enricher.base_url is empty", ErrInvalidConfig)
	case c.Enricher.Timeout <= 0:
		return fmt.Errorf("%w: enricher.timeout must be positive", ErrInvalidConfig)
	case c.Enricher.RequestsPerSecond <= 0:
		return fmt.Errorf("%w: enricher.requests_per_second must be positive", ErrInvalidConfig)
	case c.Enricher.MaxRetries < 1:
		return fmt.Errorf("%w: enricher.max_retries must be at least 1", ErrInvalidConfig)
	case c.Enricher.MatchThreshold <= 0 || c.Enricher.MatchThreshold > 1:
		return fmt.Errorf("%w: enricher.match_threshold must be in (0, 1]", ErrInvalidConfig)
	case c.Enricher.RetryNotFoundAfter < 0:
		return fmt.Errorf("%w: enricher.retry_not_found_after cannot be negative", ErrInvalidConfig)
	case c.Embedder.BatchSize < 1:
		return fmt.Errorf("%w: embedder.batch_size must be at least 1", ErrInvalidConfig)
	case c.Embedder.DownloadTimeout <= 0:
		return fmt.Errorf("%w: embedder.download_timeout must be positive", ErrInvalidConfig)
	case c.Search.DefaultLimit < 1:
		return fmt.Errorf("%w: search.default_limit must be at least 1", ErrInvalidConfig)
	case c.Sync.PageSize < 1:
		return fmt.Errorf("%w: sync.page_size must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// expandHome replaces a leading ~ with the user's home directory
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
