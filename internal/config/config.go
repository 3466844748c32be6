package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Assistant     AssistantConfig     `toml:"assistant"`
	Build         BuildConfig         `toml:"build"`
	Usage         UsageConfig         `toml:"usage"`
	Notifications NotificationsConfig `toml:"notifications"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	WorkingDir   string `toml:"working_dir"` // last selected project directory
	DatabasePath string `toml:"database_path"`
}

// AssistantConfig holds settings for the external coding-assistant CLI
type AssistantConfig struct {
	Command           string            `toml:"command"`
	Models            map[string]string `toml:"models"` // quality level -> model id
	DefaultLevel      string            `toml:"default_level"`
	CommitTimeoutSecs int               `toml:"commit_timeout_secs"`
}

// CommitTimeout returns how long to wait for a commit id before a request
// is considered timed out.
func (a AssistantConfig) CommitTimeout() time.Duration {
	return time.Duration(a.CommitTimeoutSecs) * time.Second
}

// BuildConfig holds Unity build settings
type BuildConfig struct {
	UnityPath    string `toml:"unity_path"`
	BuildMethod  string `toml:"build_method"`
	RunAfter     bool   `toml:"run_after"`
	LogTailLines int    `toml:"log_tail_lines"`
}

// UsageConfig holds API usage reporting settings
type UsageConfig struct {
	UsageDays   int    `toml:"usage_days"`
	RefreshCron string `toml:"refresh_cron"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop    bool   `toml:"desktop"`
	WebhookURL string `toml:"webhook_url"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			WorkingDir:   "",
			DatabasePath: filepath.Join(home, ".nolight", "history.db"),
		},
		Assistant: AssistantConfig{
			Command: "aider",
			Models: map[string]string{
				"High":   "gpt-5",
				"Medium": "gpt-5-mini",
				"Low":    "gpt-5-nano",
			},
			DefaultLevel:      "Medium",
			CommitTimeoutSecs: 300,
		},
		Build: BuildConfig{
			BuildMethod:  "RogueLike2D.Editor.BuildScript.PerformBuild",
			RunAfter:     true,
			LogTailLines: 80,
		},
		Usage: UsageConfig{
			UsageDays:   30,
			RefreshCron: "0 * * * *",
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.WorkingDir = ExpandPath(cfg.General.WorkingDir)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.Build.UnityPath = ExpandPath(cfg.Build.UnityPath)

	return cfg, nil
}

// Save writes the configuration to a TOML file, creating parent directories
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Model returns the model id for the given quality level, falling back to
// the default level when the level is unknown.
func (c *Config) Model(level string) string {
	if m, ok := c.Assistant.Models[level]; ok {
		return m
	}
	return c.Assistant.Models[c.Assistant.DefaultLevel]
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "nolight", "config.toml")
}
