// SPDX-License-Identifier: MIT

// Package config loads the daemon configuration with the precedence
// ENV > file > defaults. The file is optional YAML; every value also has
// a TRIALBOT_* environment variable.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	DataDir    string `yaml:"data_dir"`
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	GatewayURL string `yaml:"gateway_url"` // outbound chat gateway; empty logs sends instead

	RateQuota    int           `yaml:"rate_quota"`    // accepted requests per window; <= 0 rejects everything
	RateWindow   time.Duration `yaml:"rate_window"`
	BanThreshold int           `yaml:"ban_threshold"` // suspicious reports before a permanent ban
	DialogTTL    time.Duration `yaml:"dialog_ttl"`

	SchedulerInterval time.Duration `yaml:"scheduler_interval"`
	ReminderWindow    time.Duration `yaml:"reminder_window"`
	AutoSaveInterval  time.Duration `yaml:"autosave_interval"`

	Courses []string `yaml:"courses"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		DataDir:           "./data",
		ListenAddr:        ":8080",
		LogLevel:          "info",
		RateQuota:         20,
		RateWindow:        time.Minute,
		BanThreshold:      5,
		DialogTTL:         30 * time.Minute,
		SchedulerInterval: time.Minute,
		ReminderWindow:    30 * time.Minute,
		AutoSaveInterval:  5 * time.Minute,
		Courses:           []string{"Scratch", "Python", "Web"},
	}
}

// Load builds the configuration: defaults, then the optional YAML file at
// path (empty path skips the file layer), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := mergeFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	mergeEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// StatePath is where the state store snapshot lives.
func (c Config) StatePath() string {
	return filepath.Join(c.DataDir, "state.json")
}

// DBPath is where the booking database lives.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, "bookings.db")
}

// Validate rejects configurations the daemon cannot run with. A quota of
// zero or less is allowed: the guard treats it as "always reject".
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.RateWindow <= 0 {
		return fmt.Errorf("rate_window must be positive, got %s", c.RateWindow)
	}
	if c.DialogTTL <= 0 {
		return fmt.Errorf("dialog_ttl must be positive, got %s", c.DialogTTL)
	}
	if c.SchedulerInterval <= 0 {
		return fmt.Errorf("scheduler_interval must be positive, got %s", c.SchedulerInterval)
	}
	if c.ReminderWindow <= 0 {
		return fmt.Errorf("reminder_window must be positive, got %s", c.ReminderWindow)
	}
	if c.AutoSaveInterval <= 0 {
		return fmt.Errorf("autosave_interval must be positive, got %s", c.AutoSaveInterval)
	}
	if len(c.Courses) == 0 {
		return fmt.Errorf("at least one course must be configured")
	}
	return nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func mergeEnv(cfg *Config) {
	cfg.DataDir = ParseString("TRIALBOT_DATA", cfg.DataDir)
	cfg.ListenAddr = ParseString("TRIALBOT_LISTEN", cfg.ListenAddr)
	cfg.LogLevel = ParseString("TRIALBOT_LOG_LEVEL", cfg.LogLevel)
	cfg.GatewayURL = ParseString("TRIALBOT_GATEWAY_URL", cfg.GatewayURL)

	cfg.RateQuota = ParseInt("TRIALBOT_RATE_QUOTA", cfg.RateQuota)
	cfg.RateWindow = ParseDuration("TRIALBOT_RATE_WINDOW", cfg.RateWindow)
	cfg.BanThreshold = ParseInt("TRIALBOT_BAN_THRESHOLD", cfg.BanThreshold)
	cfg.DialogTTL = ParseDuration("TRIALBOT_DIALOG_TTL", cfg.DialogTTL)

	cfg.SchedulerInterval = ParseDuration("TRIALBOT_SCHEDULER_INTERVAL", cfg.SchedulerInterval)
	cfg.ReminderWindow = ParseDuration("TRIALBOT_REMINDER_WINDOW", cfg.ReminderWindow)
	cfg.AutoSaveInterval = ParseDuration("TRIALBOT_AUTOSAVE_INTERVAL", cfg.AutoSaveInterval)

	if v := ParseString("TRIALBOT_COURSES", ""); v != "" {
		parts := strings.Split(v, ",")
		courses := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				courses = append(courses, p)
			}
		}
		if len(courses) > 0 {
			cfg.Courses = courses
		}
	}
}
