// ABOUTME: Configuration loading and parsing for agorai-bridge
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete agorai-bridge configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Agents   []AgentConfig  `yaml:"agents"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the HTTP listen address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds the key salt and the configured agent keys
type AuthConfig struct {
	// Salt keys the HMAC over API keys. Empty falls back to plain
	// SHA-256 with a startup warning.
	Salt string      `yaml:"salt"`
	Keys []KeyConfig `yaml:"keys"`
}

// KeyConfig binds one bearer key to an agent identity
type KeyConfig struct {
	Key            string   `yaml:"key"`
	Name           string   `yaml:"name"`
	Type           string   `yaml:"type"`
	Capabilities   []string `yaml:"capabilities"`
	ClearanceLevel string   `yaml:"clearance_level"`
}

// AgentConfig describes one locally-hosted agent run inside the bridge
// process. The key must also appear under auth.keys.
type AgentConfig struct {
	Name         string `yaml:"name"`
	Key          string `yaml:"key"`
	Mode         string `yaml:"mode"`
	Model        string `yaml:"model"`
	Endpoint     string `yaml:"endpoint"`
	APIKey       string `yaml:"api_key"`
	SystemPrompt string `yaml:"system_prompt"`

	PollInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	PollIntervalRaw string `yaml:"poll_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

var validClearances = map[string]bool{
	"":             true,
	"public":       true,
	"team":         true,
	"confidential": true,
	"restricted":   true,
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	seen := make(map[string]bool, len(c.Auth.Keys))
	for i, key := range c.Auth.Keys {
		if key.Key == "" {
			return fmt.Errorf("auth.keys[%d].key is required", i)
		}
		if key.Name == "" {
			return fmt.Errorf("auth.keys[%d].name is required", i)
		}
		if seen[key.Key] {
			return fmt.Errorf("auth.keys[%d]: duplicate key", i)
		}
		seen[key.Key] = true
		if !validClearances[key.ClearanceLevel] {
			return fmt.Errorf("auth.keys[%d]: unknown clearance_level %q", i, key.ClearanceLevel)
		}
	}

	for i, agent := range c.Agents {
		if agent.Name == "" {
			return fmt.Errorf("agents[%d].name is required", i)
		}
		if agent.Key == "" {
			return fmt.Errorf("agents[%d].key is required", i)
		}
		if !seen[agent.Key] {
			return fmt.Errorf("agents[%d]: key is not listed under auth.keys", i)
		}
		if agent.Model == "" {
			return fmt.Errorf("agents[%d].model is required", i)
		}
		if agent.Endpoint == "" {
			return fmt.Errorf("agents[%d].endpoint is required", i)
		}
		switch agent.Mode {
		case "", "active", "passive":
		default:
			return fmt.Errorf("agents[%d]: unknown mode %q", i, agent.Mode)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	for i := range cfg.Agents {
		raw := cfg.Agents[i].PollIntervalRaw
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parsing agents[%d].poll_interval %q: %w", i, raw, err)
		}
		cfg.Agents[i].PollInterval = d
	}
	return nil
}
