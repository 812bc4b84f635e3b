package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultConfigName is looked up in the home directory when no --config is given.
	DefaultConfigName = ".alyx2nwb.toml"

	// DefaultChunkRows is the number of samples per window for raw series.
	DefaultChunkRows = 30000
)

// Config is the parsed TOML configuration
type Config struct {
	Alyx    AlyxConfig    `toml:"alyx"`
	Catalog CatalogConfig `toml:"catalog"`
	Output  OutputConfig  `toml:"output"`
	S3      S3Config      `toml:"s3"`
	Logging LoggingConfig `toml:"logging"`
	Metrics MetricsConfig `toml:"metrics"`
}

// AlyxConfig configures the REST client
type AlyxConfig struct {
	BaseURL  string `toml:"base_url"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Token    string `toml:"token"`
	CacheDir string `toml:"cache_dir"`
}

// CatalogConfig selects an offline SQL catalog instead of the REST server
type CatalogConfig struct {
	Driver string `toml:"driver"` // "sqlite" or "pgx"
	DSN    string `toml:"dsn"`
}

// OutputConfig controls where and how files are written
type OutputConfig struct {
	Dir       string `toml:"dir"`
	SaveRaw   bool   `toml:"save_raw"`
	ChunkRows int    `toml:"chunk_rows"`
}

// S3Config holds settings for s3:// destinations
type S3Config struct {
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	PathStyle bool   `toml:"path_style"`
}

// LoggingConfig enables a rotating log file
type LoggingConfig struct {
	Logfile string `toml:"logfile"`
	MaxSize int    `toml:"max_log_size"`
	MaxAge  int    `toml:"max_log_age"`
}

// MetricsConfig enables writing a prometheus textfile at the end of a run
type MetricsConfig struct {
	Textfile string `toml:"textfile"`
}

// DefaultConfig returns the configuration used when no file is present
func DefaultConfig() Config {
	cacheDir := filepath.Join(os.TempDir(), "alyx2nwb-cache")
	if home, err := os.UserHomeDir(); err == nil {
		cacheDir = filepath.Join(home, ".alyx2nwb-cache")
	}
	return Config{
		Alyx: AlyxConfig{
			BaseURL:  "https://alyx.internationalbrainlab.org",
			CacheDir: cacheDir,
		},
		Catalog: CatalogConfig{Driver: "sqlite"},
		Output: OutputConfig{
			Dir:       ".",
			ChunkRows: DefaultChunkRows,
		},
		S3: S3Config{Region: "us-east-1"},
	}
}

// LoadConfig reads a TOML file on top of the defaults. An empty path tries the
// default location and silently falls back to defaults when it does not exist.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			cfg.applyEnv()
			return cfg, nil
		}
		path = filepath.Join(home, DefaultConfigName)
	}

	if _, err := os.Stat(path); err != nil {
		if explicit {
			return cfg, &ConfigError{Field: "config", Err: err}
		}
		cfg.applyEnv()
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, &ConfigError{Field: "config", Err: fmt.Errorf("decoding %s: %w", path, err)}
	}
	if err := cfg.convertPathsToAbsolute(path); err != nil {
		return cfg, err
	}
	cfg.applyEnv()
	if cfg.Output.ChunkRows <= 0 {
		cfg.Output.ChunkRows = DefaultChunkRows
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ALYX_BASE_URL"); v != "" {
		c.Alyx.BaseURL = v
	}
	if v := os.Getenv("ALYX_TOKEN"); v != "" {
		c.Alyx.Token = v
	}
	if v := os.Getenv("ALYX2NWB_OUTPUT"); v != "" {
		c.Output.Dir = v
	}
}

// Relative paths in the file are relative to the file's own directory.
func (c *Config) convertPathsToAbsolute(configPath string) error {
	configDir := filepath.Dir(configPath)
	convert := func(field string, p *string) error {
		if *p == "" || filepath.IsAbs(*p) || strings.Contains(*p, "://") ||
			strings.HasPrefix(*p, ":") || strings.HasPrefix(*p, "file:") {
			return nil
		}
		abs, err := filepath.Abs(filepath.Join(configDir, *p))
		if err != nil {
			return &ConfigError{Field: field, Err: err}
		}
		*p = abs
		return nil
	}
	if err := convert("alyx.cache_dir", &c.Alyx.CacheDir); err != nil {
		return err
	}
	if err := convert("output.dir", &c.Output.Dir); err != nil {
		return err
	}
	if err := convert("logging.logfile", &c.Logging.Logfile); err != nil {
		return err
	}
	if c.Catalog.Driver == "sqlite" {
		if err := convert("catalog.dsn", &c.Catalog.DSN); err != nil {
			return err
		}
	}
	return convert("metrics.textfile", &c.Metrics.Textfile)
}
