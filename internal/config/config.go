package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kkyr/fig"
)

const configEnv = "MERIDIAN"

// Config represents the application's configuration structure.
type Config struct {
	LogLevel slog.Level `fig:"loglevel" default:"0"`

	Elevation struct {
		DataDir string `fig:"data_dir"`
		// Allowed values: hgt, tif
		Format      string        `fig:"format" default:"hgt"`
		RemoteURL   string        `fig:"remote_url"`
		CacheDir    string        `fig:"cache_dir"`
		CacheSize   int           `fig:"cache_size" default:"32"`
		CacheBytes  int64         `fig:"cache_bytes"`
		LoadTimeout time.Duration `fig:"load_timeout" default:"30s"`
		Parallelism int           `fig:"parallelism" default:"4"`
	} `fig:"elevation"`

	Server struct {
		Addr string `fig:"addr" default:":8080"`
	} `fig:"server"`

	Intervals struct {
		Stats time.Duration `fig:"stats" default:"1m"`
	} `fig:"intervals"`
}

func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load config: %w", err)
	}

	return conf, conf.Validate()
}

func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load config: %w", err)
	}

	return conf, conf.Validate()
}

func (c *Config) Validate() error {
	if c.Elevation.Format != "hgt" && c.Elevation.Format != "tif" {
		return fmt.Errorf("invalid elevation format: %s", c.Elevation.Format)
	}
	if c.Elevation.CacheSize < 1 {
		return fmt.Errorf("invalid cache size: %d", c.Elevation.CacheSize)
	}
	if c.Elevation.CacheBytes < 0 {
		return fmt.Errorf("invalid cache bytes: %d", c.Elevation.CacheBytes)
	}
	if c.Elevation.LoadTimeout <= 0 {
		return fmt.Errorf("invalid load timeout: %s", c.Elevation.LoadTimeout)
	}
	if c.Elevation.Parallelism < 1 {
		return fmt.Errorf("invalid parallelism: %d", c.Elevation.Parallelism)
	}
	if c.Intervals.Stats <= 0 {
		return fmt.Errorf("invalid stats interval: %s", c.Intervals.Stats)
	}
	if c.Elevation.DataDir == "" {
		c.Elevation.DataDir = "."
	}
	if c.Elevation.RemoteURL != "" && c.Elevation.CacheDir == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			return fmt.Errorf("failed to determine cache directory: %w", err)
		}
		c.Elevation.CacheDir = filepath.Join(cacheDir, "meridian")
	}

	return nil
}
