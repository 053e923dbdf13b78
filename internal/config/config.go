// Package config loads kvfs settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"kvfs/internal/logging"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultEntryTTL is the validity attached to lookups and attributes.
	DefaultEntryTTL = time.Second
	// DefaultRefreshInterval bounds how stale a served snapshot may be.
	DefaultRefreshInterval = time.Second
	// DefaultConcurrency is the number of parallel store requests per build.
	DefaultConcurrency = 16
	// DefaultServiceName names the process in exported traces.
	DefaultServiceName = "kvfs"

	defaultUID = 501
	defaultGID = 20
)

var (
	logger = logging.GetLogger().WithPrefix("config")

	// ErrMissingMountpoint is returned by Validate when no mount point is set.
	ErrMissingMountpoint = errors.New("mount point is required")
	// ErrMissingStore is returned by Validate when no connection string is set.
	ErrMissingStore = errors.New("store connection string is required")
)

// Owner is the uid and gid reported for every entry.
type Owner struct {
	UID uint32 `yaml:"uid"`
	GID uint32 `yaml:"gid"`
}

// Log selects the logger level and output format.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Tracing controls the OpenTelemetry exporter.
type Tracing struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Config is the complete runtime configuration.
type Config struct {
	Mountpoint      string        `yaml:"mountpoint"`
	Store           string        `yaml:"store"`
	ReadOnly        bool          `yaml:"read_only"`
	AllowOther      bool          `yaml:"allow_other"`
	EntryTTL        time.Duration `yaml:"entry_ttl"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	StateFile       string        `yaml:"state_file"`
	Concurrency     int           `yaml:"concurrency"`
	Owner           Owner         `yaml:"owner"`
	Log             Log           `yaml:"log"`
	Tracing         Tracing       `yaml:"tracing"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		EntryTTL:        DefaultEntryTTL,
		RefreshInterval: DefaultRefreshInterval,
		Concurrency:     DefaultConcurrency,
		Owner:           Owner{UID: defaultUID, GID: defaultGID},
		Tracing:         Tracing{ServiceName: DefaultServiceName},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	logger.Debug("Loading configuration from %s", path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides the entry owner from PUID and PGID.
func (c *Config) ApplyEnv() error {
	if err := envID("PUID", &c.Owner.UID); err != nil {
		return err
	}
	return envID("PGID", &c.Owner.GID)
}

func envID(name string, dst *uint32) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	id, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	logger.Debug("Using %s=%d", name, id)
	*dst = uint32(id)
	return nil
}

// Validate reports the first setting that prevents mounting.
func (c *Config) Validate() error {
	switch {
	case c.Mountpoint == "":
		return ErrMissingMountpoint
	case c.Store == "":
		return ErrMissingStore
	case c.EntryTTL < 0:
		return fmt.Errorf("entry_ttl must not be negative, got %v", c.EntryTTL)
	case c.RefreshInterval < 0:
		return fmt.Errorf("refresh_interval must not be negative, got %v", c.RefreshInterval)
	case c.Concurrency < 0:
		return fmt.Errorf("concurrency must not be negative, got %d", c.Concurrency)
	}
	if c.Log.Level != "" {
		if _, err := logging.ParseLevel(c.Log.Level); err != nil {
			return err
		}
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}
