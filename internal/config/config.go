package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultDBName is the fixed logical name of the store file.
const DefaultDBName = "process_record_database"

// Config holds all configuration for the piecework tools.
type Config struct {
	// DataDir holds the store file and the images directory.
	DataDir string `yaml:"data_dir"`

	// DBName is the store file name inside DataDir.
	DBName string `yaml:"db_name"`

	// Product prefixes default backup file names.
	Product string `yaml:"product"`

	// BusyTimeoutMS bounds how long a statement waits on a locked store.
	BusyTimeoutMS int `yaml:"busy_timeout_ms"`

	// JournalMode is the SQLite journal mode.
	JournalMode string `yaml:"journal_mode"`

	// LogLevel is a zerolog level name.
	LogLevel string `yaml:"log_level"`
}

// Defaults returns the configuration used when no file or environment
// override is present.
func Defaults() *Config {
	return &Config{
		DataDir:       defaultDataDir(),
		DBName:        DefaultDBName,
		Product:       "piecework",
		BusyTimeoutMS: 5000,
		JournalMode:   "WAL",
		LogLevel:      "info",
	}
}

// DefaultPath resolves $XDG_CONFIG_HOME/piecework/config.yaml or
// ~/.config/piecework/config.yaml.
func DefaultPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "piecework", "config.yaml")
}

func defaultDataDir() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "piecework")
}

// Load reads configuration from the YAML file at path, then applies
// environment overrides. An empty path means DefaultPath, and a missing
// default file is not an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DataDir = getEnv("PIECEWORK_DATA_DIR", c.DataDir)
	c.DBName = getEnv("PIECEWORK_DB_NAME", c.DBName)
	c.Product = getEnv("PIECEWORK_PRODUCT", c.Product)
	c.BusyTimeoutMS = getEnvInt("PIECEWORK_BUSY_TIMEOUT_MS", c.BusyTimeoutMS)
	c.JournalMode = strings.ToUpper(getEnv("PIECEWORK_JOURNAL_MODE", c.JournalMode))
	c.LogLevel = getEnv("PIECEWORK_LOG_LEVEL", c.LogLevel)
}

// Validate reports configuration that cannot be used.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: data_dir must be set")
	}
	if c.DBName == "" || strings.ContainsRune(c.DBName, filepath.Separator) {
		return fmt.Errorf("config: invalid db_name %q", c.DBName)
	}
	if c.BusyTimeoutMS < 0 {
		return fmt.Errorf("config: busy_timeout_ms must not be negative, got %d", c.BusyTimeoutMS)
	}
	return nil
}

// DBPath returns the store file path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, c.DBName)
}

// ImagesDir returns the directory attached images are copied into.
func (c *Config) ImagesDir() string {
	return filepath.Join(c.DataDir, "images")
}

// BusyTimeout returns BusyTimeoutMS as a duration.
func (c *Config) BusyTimeout() time.Duration {
	return time.Duration(c.BusyTimeoutMS) * time.Millisecond
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer.
// Returns defaultValue if the variable is not set or cannot be parsed.
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return i
}
