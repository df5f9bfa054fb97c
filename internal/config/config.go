// Package config loads application configuration from the data directory
// with sensible defaults, so a fresh install runs with no config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all tunables for the tracker, dashboard and sync.
type Config struct {
	DataDir string `mapstructure:"data_dir"`
	LogDir  string `mapstructure:"log_dir"`

	SampleInterval    time.Duration `mapstructure:"sample_interval"`
	FlushInterval     time.Duration `mapstructure:"flush_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	MaxBufferRows     int           `mapstructure:"max_buffer_rows"`

	IdleThreshold time.Duration `mapstructure:"idle_threshold"`

	ResumeGap time.Duration `mapstructure:"resume_gap"`
	MergeGap  time.Duration `mapstructure:"merge_gap"`

	KeywordCapacity int           `mapstructure:"keyword_capacity"`
	KeywordCooldown time.Duration `mapstructure:"keyword_cooldown"`

	AIEnabled bool   `mapstructure:"ai_enabled"`
	AIModel   string `mapstructure:"ai_model"`

	SyncDir string `mapstructure:"sync_dir"`

	DashboardAddr string `mapstructure:"dashboard_addr"`

	FirefoxBridgePath string `mapstructure:"firefox_bridge_path"`
}

// DefaultDataDir returns ~/.activity-logger.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".activity-logger"
	}
	return filepath.Join(home, ".activity-logger")
}

func defaultFirefoxBridgePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Library", "Application Support",
		"activity_logger", "bridge", "firefox_active_tab.json")
}

// Load reads config.yaml from the data directory, applying defaults for
// anything unset. A missing config file is not an error.
func Load(dataDir string) (*Config, error) {
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dataDir)
	v.SetEnvPrefix("ACTIVITY_LOGGER")
	v.AutomaticEnv()

	v.SetDefault("data_dir", dataDir)
	v.SetDefault("log_dir", filepath.Join(dataDir, "logs"))
	v.SetDefault("sample_interval", 10*time.Second)
	v.SetDefault("flush_interval", 60*time.Second)
	v.SetDefault("heartbeat_interval", 30*time.Second)
	v.SetDefault("max_buffer_rows", 60)
	v.SetDefault("idle_threshold", 10*time.Minute)
	v.SetDefault("resume_gap", 60*time.Second)
	v.SetDefault("merge_gap", 60*time.Second)
	v.SetDefault("keyword_capacity", 500)
	v.SetDefault("keyword_cooldown", 120*time.Second)
	v.SetDefault("ai_enabled", false)
	v.SetDefault("ai_model", "gpt-4o-mini")
	v.SetDefault("sync_dir", "")
	v.SetDefault("dashboard_addr", "127.0.0.1:8844")
	v.SetDefault("firefox_bridge_path", defaultFirefoxBridgePath())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.SampleInterval <= 0 {
		return fmt.Errorf("sample_interval must be positive")
	}
	if c.FlushInterval < c.SampleInterval {
		return fmt.Errorf("flush_interval must be at least sample_interval")
	}
	if c.MaxBufferRows <= 0 {
		return fmt.Errorf("max_buffer_rows must be positive")
	}
	if c.KeywordCapacity <= 0 {
		return fmt.Errorf("keyword_capacity must be positive")
	}
	return nil
}

// RulesPath returns the category rules file location.
func (c *Config) RulesPath() string {
	return filepath.Join(c.DataDir, "category_rules.json")
}

// KeywordsPath returns the keyword index file location.
func (c *Config) KeywordsPath() string {
	return filepath.Join(c.DataDir, "category_keywords.json")
}

// DeviceIDPath returns the device identity file location.
func (c *Config) DeviceIDPath() string {
	return filepath.Join(c.DataDir, "device_id")
}

// RegistryPath returns the tracker registry file location.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.DataDir, "tracker.json")
}
