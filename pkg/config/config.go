// Package config loads the portal client's configuration from YAML and
// applies defaults, covering the backend endpoint, the persistence backend
// for cache and session state, and per-entity cache TTL overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreKind selects the persistence backend for cache and session state.
type StoreKind string

const (
	StoreMemory    StoreKind = "memory"
	StoreFile      StoreKind = "file"
	StoreRedis     StoreKind = "redis"
	StoreFirestore StoreKind = "firestore"
)

// Duration wraps time.Duration so YAML values can be written as "5m" or "90s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// RedisConfig configures the Redis store backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"`
}

// FirestoreConfig configures the Firestore store backend.
type FirestoreConfig struct {
	ProjectID  string `yaml:"project_id"`
	Collection string `yaml:"collection"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Kind      StoreKind       `yaml:"kind"`
	Path      string          `yaml:"path"` // file store only
	Redis     RedisConfig     `yaml:"redis"`
	Firestore FirestoreConfig `yaml:"firestore"`
}

// TTLConfig overrides the default per-entity cache TTLs. Zero values keep
// the defaults.
type TTLConfig struct {
	Teachers  Duration `yaml:"teachers"`
	Branches  Duration `yaml:"branches"`
	Chapters  Duration `yaml:"chapters"`
	Students  Duration `yaml:"students"`
	Sessions  Duration `yaml:"sessions"`
	Dashboard Duration `yaml:"dashboard"`
}

// CacheConfig configures the cache layer.
type CacheConfig struct {
	MaxKeysPerPrefix int       `yaml:"max_keys_per_prefix"`
	TTL              TTLConfig `yaml:"ttl"`
}

// AuthConfig configures the session synchronizer.
type AuthConfig struct {
	ValidationWindow Duration `yaml:"validation_window"`
}

// Config is the portal client's full configuration.
type Config struct {
	BaseURL        string      `yaml:"base_url"`
	RequestTimeout Duration    `yaml:"request_timeout"`
	LogLevel       string      `yaml:"log_level"`
	Store          StoreConfig `yaml:"store"`
	Cache          CacheConfig `yaml:"cache"`
	Auth           AuthConfig  `yaml:"auth"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		RequestTimeout: Duration(15 * time.Second),
		LogLevel:       "info",
		Store: StoreConfig{
			Kind: StoreMemory,
		},
	}
}

// Load reads a YAML configuration file over the defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields no component can default for.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	switch c.Store.Kind {
	case StoreMemory, "":
	case StoreFile:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the file store")
		}
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for the redis store")
		}
	case StoreFirestore:
		if c.Store.Firestore.ProjectID == "" || c.Store.Firestore.Collection == "" {
			return fmt.Errorf("store.firestore.project_id and collection are required for the firestore store")
		}
	default:
		return fmt.Errorf("unknown store kind %q", c.Store.Kind)
	}
	return nil
}
