// Package config provides YAML-based configuration with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Session store drivers accepted in session_store.driver.
var validDrivers = map[string]bool{"memory": true, "duckdb": true, "leveldb": true}

// Config represents the root configuration structure
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Upload content storage
	Storage StorageConfig `yaml:"storage"`

	// Session record storage
	SessionStore SessionStoreConfig `yaml:"session_store"`

	// Expired upload sweeping
	Cleanup CleanupConfig `yaml:"cleanup"`

	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	BindAddress    string        `yaml:"bind_address"`
	Port           int           `yaml:"port"`
	BasePath       string        `yaml:"base_path"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	RequestLogging bool          `yaml:"request_logging"`
}

// StorageConfig contains upload storage settings
type StorageConfig struct {
	UploadDir     string        `yaml:"upload_dir"`
	PathPrefix    string        `yaml:"path_prefix"`
	MaxUploadSize int64         `yaml:"max_upload_size"`
	Retention     time.Duration `yaml:"retention"`
}

// SessionStoreConfig selects the session repository driver
type SessionStoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// CleanupConfig controls the periodic expired-upload sweep
type CleanupConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// LoggingConfig controls log level and output format (text or json)
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:    "0.0.0.0",
			Port:           8080,
			BasePath:       "/files",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    120 * time.Second,
			RequestLogging: true,
		},
		Storage: StorageConfig{
			UploadDir:     "./data/uploads",
			PathPrefix:    "tus",
			MaxUploadSize: 1 << 30,
			Retention:     7 * 24 * time.Hour,
		},
		SessionStore: SessionStoreConfig{
			Driver: "memory",
			Path:   "./data/sessions",
		},
		Cleanup: CleanupConfig{
			Enabled:  true,
			Interval: time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Path returns the config file location from CONFIG_PATH, or ./config.yaml.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "./config.yaml"
}

// Load reads configuration from a YAML file. A missing file is created with
// the defaults. Fields absent from the file keep their default values.
func Load(configPath string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides
	if err := config.applyEnvironmentOverrides(); err != nil {
		return nil, err
	}

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save writes the configuration as YAML
func (c *Config) Save(configPath string) error {
	output, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	header := []byte("# TUS upload server configuration\n# This file is auto-generated on first run\n\n")
	if err := os.WriteFile(configPath, append(header, output...), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *Config) applyEnvironmentOverrides() error {
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		c.Server.Port = p
	}

	if dir := os.Getenv("TUS_UPLOAD_PATH"); dir != "" {
		c.Storage.UploadDir = dir
	}

	if size := os.Getenv("TUS_UPLOAD_MAX_SIZE"); size != "" {
		n, err := strconv.ParseInt(size, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid TUS_UPLOAD_MAX_SIZE %q: %w", size, err)
		}
		c.Storage.MaxUploadSize = n
	}

	if driver := os.Getenv("SESSION_STORE_DRIVER"); driver != "" {
		c.SessionStore.Driver = strings.ToLower(driver)
	}
	if path := os.Getenv("SESSION_STORE_PATH"); path != "" {
		c.SessionStore.Path = path
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	return nil
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *Config) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Storage.UploadDir) {
		c.Storage.UploadDir = filepath.Join(configDir, c.Storage.UploadDir)
	}
	if c.SessionStore.Path != "" && !filepath.IsAbs(c.SessionStore.Path) {
		c.SessionStore.Path = filepath.Join(configDir, c.SessionStore.Path)
	}
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("server.base_path must start with '/', got %q", c.Server.BasePath)
	}
	if c.Storage.MaxUploadSize <= 0 {
		return fmt.Errorf("storage.max_upload_size must be positive, got %d", c.Storage.MaxUploadSize)
	}
	if c.Storage.Retention <= 0 {
		return fmt.Errorf("storage.retention must be positive, got %s", c.Storage.Retention)
	}
	if !validDrivers[c.SessionStore.Driver] {
		return fmt.Errorf("session_store.driver must be one of memory, duckdb, leveldb, got %q", c.SessionStore.Driver)
	}
	if c.Cleanup.Enabled && c.Cleanup.Interval <= 0 {
		return fmt.Errorf("cleanup.interval must be positive when cleanup is enabled")
	}
	return nil
}

// SessionStorePath returns the location handed to the session store driver:
// a database file for duckdb, a directory for leveldb.
func (c *Config) SessionStorePath() string {
	if c.SessionStore.Driver == "duckdb" {
		return filepath.Join(c.SessionStore.Path, "sessions.duckdb")
	}
	return c.SessionStore.Path
}

// GetServerAddr returns the server bind address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates all necessary directories
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Storage.UploadDir}
	if c.SessionStore.Driver != "memory" {
		dirs = append(dirs, c.SessionStore.Path)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
