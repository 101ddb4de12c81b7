// Package config loads VectorDB's runtime configuration from environment
// variables, optionally layered on top of a YAML file: env overrides file,
// file overrides default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting VectorDB's server and CLI need at startup.
type Config struct {
	// Address the HTTP server binds to.
	Address string `yaml:"address"`
	// Port the HTTP server listens on. Defaults to 8000.
	Port int `yaml:"port"`

	// StorePath is where pkg/snapshot persists the whole database.
	StorePath string `yaml:"store_path"`

	// DefaultSimilarityK is the k used by a similarity query that omits
	// one.
	DefaultSimilarityK int `yaml:"default_similarity_k"`
	// DefaultMetadataK is the k used by a metadata filter query that
	// omits one.
	DefaultMetadataK int `yaml:"default_metadata_k"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`

	// MaxRequestSize bounds the body of PUT/POST requests, in bytes.
	MaxRequestSize int64 `yaml:"max_request_size"`

	EnableCORS  bool     `yaml:"enable_cors"`
	CORSOrigins []string `yaml:"cors_origins"`

	// LogLevel is one of "debug", "info", "warn", or "error".
	LogLevel string `yaml:"log_level"`
}

// Default returns VectorDB's baseline configuration before any environment
// or file overrides are applied.
func Default() *Config {
	return &Config{
		Address:            "0.0.0.0",
		Port:               8000,
		StorePath:          "./storage/db",
		DefaultSimilarityK: 1,
		DefaultMetadataK:   5,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		IdleTimeout:        120 * time.Second,
		MaxRequestSize:     10 * 1024 * 1024,
		EnableCORS:         true,
		CORSOrigins:        []string{"*"},
		LogLevel:           "info",
	}
}

// Load builds a Config starting from Default(), applying yamlPath if it's
// non-empty and exists, then applying environment variable overrides last
// so a deployment's env always wins over a checked-in file.
func Load(yamlPath string) (*Config, error) {
	cfg := Default()

	if yamlPath != "" {
		if err := applyYAMLFile(cfg, yamlPath); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// applyEnv layers environment variable overrides onto cfg. PORT, if set,
// must be numeric: a present but non-numeric value is a startup error
// rather than a silently ignored override.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PORT must be numeric, got %q", v)
		}
		cfg.Port = n
	}
	if v := os.Getenv("VECTORDB_ADDRESS"); v != "" {
		cfg.Address = v
	}
	if v := os.Getenv("VECTORDB_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("VECTORDB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("VECTORDB_DEFAULT_SIMILARITY_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DefaultSimilarityK = n
		}
	}
	if v := os.Getenv("VECTORDB_DEFAULT_METADATA_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DefaultMetadataK = n
		}
	}
	if v := os.Getenv("VECTORDB_ENABLE_CORS"); v != "" {
		cfg.EnableCORS = v == "true" || v == "1"
	}
	return nil
}

// Validate reports an error for any setting that would make the server
// unusable.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.StorePath == "" {
		return fmt.Errorf("config: store_path must not be empty")
	}
	if c.DefaultSimilarityK < 1 {
		return fmt.Errorf("config: default_similarity_k must be >= 1")
	}
	if c.DefaultMetadataK < 1 {
		return fmt.Errorf("config: default_metadata_k must be >= 1")
	}
	return nil
}
