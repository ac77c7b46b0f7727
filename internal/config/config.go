// Package config provides YAML-based configuration loading for Trestle.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Trestle configuration, loaded from trestle.yaml.
// Secrets may be supplied via environment variables instead of the file
// (DISCORD_TOKEN, DISCORD_APPLICATION_ID).
type Config struct {
	Discord      DiscordConfig   `yaml:"discord"`
	ProjectsRoot string          `yaml:"projects_root"`
	DBPath       string          `yaml:"db_path"`
	ClaudeBinary string          `yaml:"claude_binary"`
	Digest       DigestConfig    `yaml:"digest"`
	Dashboard    DashboardConfig `yaml:"dashboard"`
}

// DiscordConfig holds gateway credentials.
type DiscordConfig struct {
	Token         string `yaml:"token"`
	ApplicationID string `yaml:"application_id"`
}

// DigestConfig controls the scheduled usage digest.
type DigestConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`    // 5-field cron expression
	Channel string `yaml:"channel"` // channel the digest is posted to
}

// DashboardConfig controls the diagnostics HTTP server.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file from path and returns a validated Config.
// A missing file is not an error when the required values are present in
// the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		data = nil
	} else if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config, applying
// environment overrides and defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays environment variables onto the config. Environment
// values take precedence over the file so deployments can keep secrets
// out of it.
func (c *Config) applyEnv() {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("DISCORD_APPLICATION_ID"); v != "" {
		c.Discord.ApplicationID = v
	}
	if v := os.Getenv("PROJECTS_DIR"); v != "" {
		c.ProjectsRoot = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.ProjectsRoot == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.ProjectsRoot = filepath.Join(home, "projects")
		}
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join("data", "sessions.db")
	}
	if c.ClaudeBinary == "" {
		c.ClaudeBinary = "claude"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if c.Digest.Cron == "" {
		c.Digest.Cron = "0 9 * * *"
	}
}

// validate checks that all required fields are present.
func (c *Config) validate() error {
	var errs []string
	if c.Discord.Token == "" {
		errs = append(errs, "discord.token is required (or DISCORD_TOKEN)")
	}
	if c.Discord.ApplicationID == "" {
		errs = append(errs, "discord.application_id is required (or DISCORD_APPLICATION_ID)")
	}
	if c.ProjectsRoot == "" {
		errs = append(errs, "projects_root is required")
	}
	if c.Digest.Enabled && c.Digest.Channel == "" {
		errs = append(errs, "digest.channel is required when digest.enabled")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
