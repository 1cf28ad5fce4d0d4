package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/caarmen/image-resizer/pkg/imaging"
)

const (
	// EnvPrefix prefixes every environment override
	EnvPrefix = "IMAGE_RESIZER_"

	DefaultPort                 = "8000"
	DefaultValiditySeconds      = 86400
	DefaultSweepIntervalSeconds = 3600
	DefaultFetchTimeoutSeconds  = 30

	imagesDirName = "images"
	indexFileName = "image-resizer.db"
	lockFileName  = "lockfile.lck"
)

// Config is the full service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Cache   CacheConfig   `yaml:"cache"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Codec   CodecConfig   `yaml:"codec"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Port string `yaml:"port"`
	// WorkerCount bounds how many cache misses are regenerated at the same time
	WorkerCount int `yaml:"worker_count"`
}

// LoggingConfig configures zap
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CacheConfig configures the derived image cache
type CacheConfig struct {
	// Dir holds the index, the lock file and the images directory.
	// When empty, caching is disabled: artifacts go to a temp directory and the index lives in memory.
	Dir                  string `yaml:"dir"`
	ValiditySeconds      int    `yaml:"validity_seconds"`
	SweepIntervalSeconds int    `yaml:"sweep_interval_seconds"`
}

// FetchConfig configures outbound source image requests
type FetchConfig struct {
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	AllowedSchemes []string `yaml:"allowed_schemes"`
	// AllowedDomains and DeniedDomains hold glob patterns such as "*.example.com".
	// An empty allow list allows every domain not denied.
	AllowedDomains []string `yaml:"allowed_domains"`
	DeniedDomains  []string `yaml:"denied_domains"`
}

// CodecConfig configures image decoding and encoding
type CodecConfig struct {
	// Magick controls the ImageMagick fallback encoder (webp, pdf, multi-frame png and tiff).
	// Unset means enabled when a magick binary is found.
	Magick *bool `yaml:"magick"`
	// MaxPixels rejects source images larger than this, summed over all frames
	MaxPixels int `yaml:"max_pixels"`
}

// Default returns the configuration used when nothing is configured
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        DefaultPort,
			WorkerCount: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Cache: CacheConfig{
			ValiditySeconds:      DefaultValiditySeconds,
			SweepIntervalSeconds: DefaultSweepIntervalSeconds,
		},
		Fetch: FetchConfig{
			TimeoutSeconds: DefaultFetchTimeoutSeconds,
			AllowedSchemes: []string{"http", "https"},
		},
		Codec: CodecConfig{
			MaxPixels: imaging.DefaultMaxPixels,
		},
	}
}

// Load reads the YAML file at path (when path is not empty), applies environment
// overrides and validates the result
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	// PORT is honoured without prefix, like most hosting platforms set it
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}

	texts := map[string]*string{
		"PORT":       &c.Server.Port,
		"LOG_LEVEL":  &c.Logging.Level,
		"LOG_FORMAT": &c.Logging.Format,
		"CACHE_DIR":  &c.Cache.Dir,
	}
	for name, dst := range texts {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"WORKER_COUNT":           &c.Server.WorkerCount,
		"CACHE_VALIDITY_S":       &c.Cache.ValiditySeconds,
		"CACHE_SWEEP_INTERVAL_S": &c.Cache.SweepIntervalSeconds,
		"FETCH_TIMEOUT_S":        &c.Fetch.TimeoutSeconds,
		"MAX_PIXELS":             &c.Codec.MaxPixels,
	}
	for name, dst := range ints {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
	}

	lists := map[string]*[]string{
		"ALLOWED_SCHEMES": &c.Fetch.AllowedSchemes,
		"ALLOWED_DOMAINS": &c.Fetch.AllowedDomains,
		"DENIED_DOMAINS":  &c.Fetch.DeniedDomains,
	}
	for name, dst := range lists {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = splitList(v)
		}
	}

	if v, ok := os.LookupEnv(EnvPrefix + "MAGICK"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sMAGICK: %w", EnvPrefix, err)
		}
		c.Codec.Magick = &b
	}

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Server.WorkerCount < 1 {
		errs = append(errs, errors.New("server.worker_count must be at least 1"))
	}
	if c.Cache.ValiditySeconds < 0 {
		errs = append(errs, errors.New("cache.validity_seconds must not be negative"))
	}
	if c.Cache.SweepIntervalSeconds < 1 {
		errs = append(errs, errors.New("cache.sweep_interval_seconds must be at least 1"))
	}
	if c.Fetch.TimeoutSeconds < 1 {
		errs = append(errs, errors.New("fetch.timeout_seconds must be at least 1"))
	}
	if c.Codec.MaxPixels < 1 {
		errs = append(errs, errors.New("codec.max_pixels must be at least 1"))
	}
	if len(c.Fetch.AllowedSchemes) == 0 {
		errs = append(errs, errors.New("fetch.allowed_schemes must not be empty"))
	}
	return errors.Join(errs...)
}

// CacheEnabled reports whether artifacts and the index persist across restarts
func (c *Config) CacheEnabled() bool {
	return c.Cache.Dir != ""
}

// WorkDir is the cache directory, or a temp directory when caching is disabled
func (c *Config) WorkDir() string {
	if c.CacheEnabled() {
		return c.Cache.Dir
	}
	return filepath.Join(os.TempDir(), "image-resizer")
}

// ImagesDir is where artifact files are written
func (c *Config) ImagesDir() string {
	return filepath.Join(c.WorkDir(), imagesDirName)
}

// IndexPath is the sqlite index file. Empty when caching is disabled.
func (c *Config) IndexPath() string {
	if !c.CacheEnabled() {
		return ""
	}
	return filepath.Join(c.Cache.Dir, indexFileName)
}

// LockPath is the lock file shared by every cooperating process
func (c *Config) LockPath() string {
	return filepath.Join(c.WorkDir(), lockFileName)
}

// Validity is the age after which cached artifacts are swept
func (c *Config) Validity() time.Duration {
	return time.Duration(c.Cache.ValiditySeconds) * time.Second
}

// SweepInterval is the delay between two sweeps
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Cache.SweepIntervalSeconds) * time.Second
}

// MagickEnabled reports whether the ImageMagick fallback should be looked for
func (c *Config) MagickEnabled() bool {
	return c.Codec.Magick == nil || *c.Codec.Magick
}

// MagickRequested reports whether the fallback was explicitly enabled
func (c *Config) MagickRequested() bool {
	return c.Codec.Magick != nil && *c.Codec.Magick
}

// FetchTimeout bounds each source image request
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}
