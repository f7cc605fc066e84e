// Package config handles relay configuration loading and validation.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for relay.
type Config struct {
	Daemon Daemon `yaml:"daemon"`
	Claude Claude `yaml:"claude"`
	Limits Limits `yaml:"limits"`
	Chat   Chat   `yaml:"chat"`
}

// Daemon defines relayd settings.
type Daemon struct {
	Socket     string `yaml:"socket"`
	DataDir    string `yaml:"data_dir"`
	Database   string `yaml:"database"`
	LogFile    string `yaml:"log_file"`
	LogLevel   string `yaml:"log_level"`
	SentryDSN  string `yaml:"sentry_dsn"`
	AuthSecret string `yaml:"auth_secret"` // HMAC secret for owner tokens; empty disables auth
}

// Claude defines how the external agent CLI is invoked.
type Claude struct {
	// Command is the path to the claude binary. Empty triggers discovery of
	// common install locations, falling back to PATH.
	Command      string        `yaml:"command"`
	Model        string        `yaml:"model"`
	MaxTurns     int           `yaml:"max_turns"`
	AllowedTools []string      `yaml:"allowed_tools"`
	ExitTimeout  time.Duration `yaml:"exit_timeout"`
	// ProjectsDir overrides the external conversation log root. Empty means
	// the claude CLI's own storage locations are probed.
	ProjectsDir string `yaml:"projects_dir"`
}

// Limits defines admission policy for incoming turns.
type Limits struct {
	MaxConcurrent  int64         `yaml:"max_concurrent"`   // global in-flight invocation cap
	PerOwnerActive int           `yaml:"per_owner_active"` // max live processes per owner
	MinInterval    time.Duration `yaml:"min_interval"`     // minimum gap between submissions per owner
}

// Chat defines conversation presentation settings.
type Chat struct {
	PreviewLength int `yaml:"preview_length"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Daemon: Daemon{
			Socket:   "/tmp/relayd.sock",
			DataDir:  filepath.Join(homeDir, ".local/share/relay"),
			Database: filepath.Join(homeDir, ".local/share/relay/relay.db"),
			LogLevel: "info",
		},
		Claude: Claude{
			Model:        "sonnet",
			MaxTurns:     100,
			AllowedTools: []string{"Read", "Write", "Bash"},
			ExitTimeout:  120 * time.Second,
		},
		Limits: Limits{
			MaxConcurrent:  8,
			PerOwnerActive: 1,
			MinInterval:    2 * time.Second,
		},
		Chat: Chat{
			PreviewLength: 50,
		},
	}
}

// Load reads configuration from the default path, returning defaults when no
// file exists.
func Load() (*Config, error) {
	configPath := DefaultConfigPath()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.expandEnvVars()
	return cfg, nil
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	if p := os.Getenv("RELAY_CONFIG"); p != "" {
		return p
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config/relay/config.yaml")
}

func (c *Config) expandEnvVars() {
	c.Daemon.SentryDSN = os.ExpandEnv(c.Daemon.SentryDSN)
	c.Daemon.AuthSecret = os.ExpandEnv(c.Daemon.AuthSecret)
}
