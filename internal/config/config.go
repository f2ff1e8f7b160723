package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultConfigFile is the config filename used when none is provided.
const defaultConfigFile = "aigov.yaml"

// AppConfig carries process-level flags resolved from the CLI.
type AppConfig struct {
	ConfigPath string // Path to the YAML config file.
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // PostgreSQL or SQLite DSN.
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `yaml:"level"`        // logrus level name.
	File       string `yaml:"file"`         // Log file path; stdout when empty.
	MaxSizeMB  int    `yaml:"max-size-mb"`  // Rotate after this many megabytes.
	MaxBackups int    `yaml:"max-backups"`  // Rotated files to keep.
	MaxAgeDays int    `yaml:"max-age-days"` // Days to keep rotated files.
}

// JWTConfig holds admin session token settings.
type JWTConfig struct {
	Secret      string `yaml:"secret"`       // HMAC signing secret.
	ExpiryHours int    `yaml:"expiry-hours"` // Token lifetime in hours.
}

// RedisConfig holds the optional operational alert publisher settings.
type RedisConfig struct {
	Addr         string `yaml:"addr"`          // host:port; alerting disabled when empty.
	Password     string `yaml:"password"`      // Optional password.
	DB           int    `yaml:"db"`            // Logical database index.
	AlertChannel string `yaml:"alert-channel"` // Pub/sub channel for alerts.
	AlertList    string `yaml:"alert-list"`    // List key for queued alerts.
}

// AccountingConfig holds usage accounting policy defaults.
type AccountingConfig struct {
	RecordOnFailure bool `yaml:"record-on-failure"` // Count failed attempts against quota.
}

// Config is the root YAML configuration.
type Config struct {
	Listen     string           `yaml:"listen"`     // HTTP listen address.
	Database   DatabaseConfig   `yaml:"database"`   // Storage settings.
	Log        LogConfig        `yaml:"log"`        // Logging settings.
	JWT        JWTConfig        `yaml:"jwt"`        // Admin auth settings.
	Redis      RedisConfig      `yaml:"redis"`      // Alert publisher settings.
	Accounting AccountingConfig `yaml:"accounting"` // Accounting policy defaults.
}

// JWTExpiry returns the configured token lifetime with a sane default.
func (c JWTConfig) JWTExpiry() time.Duration {
	if c.ExpiryHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.ExpiryHours) * time.Hour
}

// ResolveConfigPath returns an absolute config path, defaulting to the
// working directory when the input is empty.
func ResolveConfigPath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		trimmed = defaultConfigFile
	}
	abs, errAbs := filepath.Abs(trimmed)
	if errAbs != nil {
		return trimmed
	}
	return abs
}

// Load reads and parses the YAML config file.
func Load(path string) (*Config, error) {
	resolved := ResolveConfigPath(path)
	data, errRead := os.ReadFile(resolved)
	if errRead != nil {
		return nil, fmt.Errorf("config: read %s: %w", resolved, errRead)
	}

	cfg := &Config{}
	if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
		return nil, fmt.Errorf("config: parse %s: %w", resolved, errUnmarshal)
	}

	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = ":8085"
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, fmt.Errorf("config: database.dsn is required")
	}
	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		return nil, fmt.Errorf("config: jwt.secret is required")
	}
	return cfg, nil
}

// LoadDatabaseDSN reads only the database DSN from the config file.
func LoadDatabaseDSN(path string) (string, error) {
	cfg, err := Load(path)
	if err != nil {
		return "", err
	}
	return cfg.Database.DSN, nil
}
