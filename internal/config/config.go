// Package config loads application configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Providers accepted in the provider field.
const (
	ProviderAzureDevOps = "azuredevops"
	ProviderGitHub      = "github"
)

// TokenEnvVar overrides personal_access_token from the config file when set,
// so the secret can be kept out of the file entirely.
const TokenEnvVar = "FASTPR_TOKEN"

// Config holds the application configuration. It is loaded once at startup
// and treated as immutable for the process lifetime.
type Config struct {
	Provider            string    `yaml:"provider"`
	Organization        string    `yaml:"organization"`
	Project             string    `yaml:"project"`
	PersonalAccessToken string    `yaml:"personal_access_token"`
	WatchedUsers        []string  `yaml:"watched_users"`
	ReviewerID          string    `yaml:"reviewer_id"`
	Log                 LogConfig `yaml:"log"`

	PollInterval   time.Duration `yaml:"-"`
	RawInterval    string        `yaml:"poll_interval"`
	RequestTimeout time.Duration `yaml:"-"`
	RawTimeout     string        `yaml:"request_timeout"`

	ApprovalComment string `yaml:"approval_comment"`
}

// LogConfig controls log verbosity and the optional rotating log file.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load reads and validates the config file at path. The personal access
// token may alternatively come from the FASTPR_TOKEN environment variable,
// which takes priority over the file value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if token := os.Getenv(TokenEnvVar); token != "" {
		cfg.PersonalAccessToken = token
	}

	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}

	return &cfg, nil
}

// Save writes the config back to path. Used by the reviewer setup flow to
// persist the selected reviewer_id. File mode 0600 because the file may
// contain the personal access token.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

func (c *Config) setDefaults() error {
	if c.Provider == "" {
		c.Provider = ProviderAzureDevOps
	}

	if c.RawInterval == "" {
		c.RawInterval = "30s"
	}
	interval, err := time.ParseDuration(c.RawInterval)
	if err != nil {
		return fmt.Errorf("parse poll_interval %q: %w", c.RawInterval, err)
	}
	c.PollInterval = interval

	if c.RawTimeout == "" {
		c.RawTimeout = "10s"
	}
	timeout, err := time.ParseDuration(c.RawTimeout)
	if err != nil {
		return fmt.Errorf("parse request_timeout %q: %w", c.RawTimeout, err)
	}
	c.RequestTimeout = timeout

	if c.ApprovalComment == "" {
		c.ApprovalComment = "Auto-approved by fast-ado-pr-reviewer"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	return nil
}

func (c *Config) validate() error {
	if c.Provider != ProviderAzureDevOps && c.Provider != ProviderGitHub {
		return fmt.Errorf("unknown provider %q: expected %q or %q", c.Provider, ProviderAzureDevOps, ProviderGitHub)
	}
	if c.Organization == "" {
		return fmt.Errorf("organization cannot be empty")
	}
	if c.Project == "" {
		return fmt.Errorf("project cannot be empty")
	}
	if c.PersonalAccessToken == "" {
		return fmt.Errorf("personal_access_token cannot be empty (set it in the file or via %s)", TokenEnvVar)
	}
	if len(c.WatchedUsers) == 0 {
		return fmt.Errorf("watched_users cannot be empty")
	}
	for i, user := range c.WatchedUsers {
		if user == "" {
			return fmt.Errorf("watched_users[%d] is empty", i)
		}
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	return nil
}
