// Package config loads the pagecache configuration from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/always-cache/pagecache/cache"
	responsetransformer "github.com/always-cache/pagecache/pkg/response-transformer"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Metrics exporters understood by the metrics package.
const (
	ExporterPrometheus = "prometheus"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

type Config struct {
	Port           int                       `yaml:"port"`
	Origin         string                    `yaml:"origin"`
	Host           string                    `yaml:"host"`
	DisableUpdates bool                      `yaml:"disableUpdates"`
	Cache          CacheConfig               `yaml:"cache"`
	Rules          responsetransformer.Rules `yaml:"rules"`
	Metrics        MetricsConfig             `yaml:"metrics"`
	Log            LogConfig                 `yaml:"log"`
}

type CacheConfig struct {
	TTLSeconds   int `yaml:"ttlSeconds"`
	MaxKeys      int `yaml:"maxKeys"`
	MaxValueSize int `yaml:"maxValueSize"`
	// Background fetch settings of the page cache.
	RevalidateTimeoutSeconds int   `yaml:"revalidateTimeoutSeconds"`
	MaxConcurrentUpdates     int64 `yaml:"maxConcurrentUpdates"`
}

type MetricsConfig struct {
	Exporter string `yaml:"exporter"`
	Path     string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Port: 8080,
		Cache: CacheConfig{
			TTLSeconds:               int(cache.DefaultTTL / time.Second),
			MaxKeys:                  cache.DefaultMaxKeys,
			MaxValueSize:             cache.DefaultMaxValueSize,
			RevalidateTimeoutSeconds: 10,
			MaxConcurrentUpdates:     4,
		},
		Metrics: MetricsConfig{
			Exporter: ExporterPrometheus,
			Path:     "/metrics",
		},
		Log: LogConfig{
			Level: zerolog.DebugLevel.String(),
		},
	}
}

// Load reads the YAML file on top of the defaults.
// ${VAR} references in the file are replaced from the environment before decoding.
func Load(filename string) (Config, error) {
	config := Default()
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(configBytes))
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return config, fmt.Errorf("parse config %s: %w", filename, err)
	}
	return config, nil
}

// ApplyEnv overrides settings from PAGECACHE_* variables.
// lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	ints := []struct {
		name string
		dst  *int
	}{
		{"PAGECACHE_TTL_SECONDS", &c.Cache.TTLSeconds},
		{"PAGECACHE_MAX_KEYS", &c.Cache.MaxKeys},
		{"PAGECACHE_MAX_VALUE_SIZE", &c.Cache.MaxValueSize},
		{"PAGECACHE_PORT", &c.Port},
	}
	for _, v := range ints {
		if s, ok := lookup(v.name); ok && s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				return fmt.Errorf("%s: %w", v.name, err)
			}
			*v.dst = n
		}
	}
	strs := []struct {
		name string
		dst  *string
	}{
		{"PAGECACHE_ORIGIN", &c.Origin},
		{"PAGECACHE_METRICS_EXPORTER", &c.Metrics.Exporter},
		{"PAGECACHE_LOG_LEVEL", &c.Log.Level},
	}
	for _, v := range strs {
		if s, ok := lookup(v.name); ok && s != "" {
			*v.dst = s
		}
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.Origin != "" {
		if u, err := url.Parse(c.Origin); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid origin %q", c.Origin))
		}
	}
	if c.Cache.TTLSeconds <= 0 {
		errs = append(errs, fmt.Errorf("cache ttl must be positive, is %d", c.Cache.TTLSeconds))
	}
	if c.Cache.MaxKeys <= 0 {
		errs = append(errs, fmt.Errorf("cache max keys must be positive, is %d", c.Cache.MaxKeys))
	}
	if c.Cache.MaxValueSize <= 0 {
		errs = append(errs, fmt.Errorf("cache max value size must be positive, is %d", c.Cache.MaxValueSize))
	}
	switch c.Metrics.Exporter {
	case ExporterPrometheus, ExporterStdout, ExporterNone:
	default:
		errs = append(errs, fmt.Errorf("unknown metrics exporter %q", c.Metrics.Exporter))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// LogLevel parses the configured log level.
func (c Config) LogLevel() (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	return level, nil
}

func (c Config) TTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// SweepInterval is 20% of the TTL.
func (c Config) SweepInterval() time.Duration {
	return c.TTL() / 5
}

func (c Config) RevalidateTimeout() time.Duration {
	return time.Duration(c.Cache.RevalidateTimeoutSeconds) * time.Second
}

// CacheOptions returns the store options for this configuration.
func (c Config) CacheOptions() cache.Options {
	return cache.Options{
		TTL:          c.TTL(),
		MaxKeys:      c.Cache.MaxKeys,
		MaxValueSize: c.Cache.MaxValueSize,
	}
}
