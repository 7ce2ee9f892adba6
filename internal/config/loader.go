package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Profile store backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultAddr         = ":5000"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "console"
	DefaultMaxBodyBytes = 64 << 20
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	MetadataPath string `json:"metadata_path" yaml:"metadata_path" toml:"metadata_path"`
	// CacheDir is the root for file-backed VRAM profiles.
	CacheDir       string `json:"cache_dir" yaml:"cache_dir" toml:"cache_dir"`
	ProfileBackend string `json:"profile_backend" yaml:"profile_backend" toml:"profile_backend"`
	ProfileDB      string `json:"profile_db" yaml:"profile_db" toml:"profile_db"`
	LogLevel       string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat      string `json:"log_format" yaml:"log_format" toml:"log_format"`
	MaxBodyBytes   int64  `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	CheckLocations bool   `json:"check_locations" yaml:"check_locations" toml:"check_locations"`
	// FakeGPUMiB backs admission with a static device of that size instead
	// of probing nvidia-smi. Zero means probe.
	FakeGPUMiB uint64 `json:"fake_gpu_mib" yaml:"fake_gpu_mib" toml:"fake_gpu_mib"`

	CORSEnabled        bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins" toml:"cors_allowed_origins"`
	CORSAllowedMethods []string `json:"cors_allowed_methods" yaml:"cors_allowed_methods" toml:"cors_allowed_methods"`
	CORSAllowedHeaders []string `json:"cors_allowed_headers" yaml:"cors_allowed_headers" toml:"cors_allowed_headers"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields. Paths under the user cache are resolved
// by the caller since they depend on the environment.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ProfileBackend == "" {
		c.ProfileBackend = BackendFile
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.CORSEnabled && len(c.CORSAllowedMethods) == 0 {
		c.CORSAllowedMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	}
}

// Validate rejects values ApplyDefaults cannot repair.
func (c *Config) Validate() error {
	switch c.ProfileBackend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("unknown profile_backend %q (want %s or %s)", c.ProfileBackend, BackendFile, BackendSQLite)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log_format %q (want console or json)", c.LogFormat)
	}
	return nil
}
