// Package config loads the engine configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StorageConfig selects and configures the lock store backend.
type StorageConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver" json:"driver"`
	// DSN is the SQLite file path (":memory:" for in-memory) or the
	// PostgreSQL connection URL.
	DSN      string `yaml:"dsn" json:"dsn"`
	MaxConns int32  `yaml:"max_conns,omitempty" json:"max_conns,omitempty"`
	MinConns int32  `yaml:"min_conns,omitempty" json:"min_conns,omitempty"`
}

// CacheConfig selects and configures the lock cache backend.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend" json:"backend"`
	// Address is the Redis address; unused for the memory backend.
	Address  string `yaml:"address,omitempty" json:"address,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" json:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	// MaxSize bounds the memory backend's entry count.
	MaxSize int `yaml:"max_size,omitempty" json:"max_size,omitempty"`
	// TTL is the entry lifetime; zero selects the 30 day default.
	TTL time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}

// Config is the root engine configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage" json:"storage"`
	Cache   CacheConfig   `yaml:"cache" json:"cache"`
	// Groups maps capability tokens to the groups that hold them, for
	// denial messages naming who can access a resource.
	Groups map[string][]string `yaml:"groups,omitempty" json:"groups,omitempty"`
	// Listen is the admin API address used by pagelockd.
	Listen string `yaml:"listen,omitempty" json:"listen,omitempty"`
}

// Default returns a configuration suitable for local development.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{Driver: "sqlite", DSN: "pagelock.db"},
		Cache:   CacheConfig{Backend: "memory"},
		Listen:  ":8087",
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration selects known backends.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage dsn is required")
	}

	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.Address == "" {
		return fmt.Errorf("redis cache requires an address")
	}
	return nil
}
