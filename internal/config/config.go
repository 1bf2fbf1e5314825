// ABOUTME: Configuration loading and parsing for ACP agents
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig indicates a missing or malformed configuration value.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultTimeout is used when agent.timeout is not set in a config file.
const DefaultTimeout = 30 * time.Second

// Config represents the complete acp-agent configuration file
type Config struct {
	Agent   AgentConfig   `yaml:"agent" toml:"agent"`
	Broker  BrokerConfig  `yaml:"broker" toml:"broker"`
	Auth    AuthConfig    `yaml:"auth" toml:"auth"`
	Store   StoreConfig   `yaml:"store" toml:"store"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// AgentConfig holds the agent identity and timing
type AgentConfig struct {
	ID        string        `yaml:"id" toml:"id"`
	Role      string        `yaml:"role" toml:"role"`
	Namespace string        `yaml:"namespace" toml:"namespace"`
	Timeout   time.Duration `yaml:"-" toml:"-"`

	// Raw string value for unmarshaling
	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// BrokerConfig holds the pub/sub broker connection settings
type BrokerConfig struct {
	URL  string `yaml:"url" toml:"url"`   // nats://, tls:// or mem://
	Name string `yaml:"name" toml:"name"` // connection name, defaults to the agent id
}

// AuthConfig holds token and secret configuration
type AuthConfig struct {
	JWTToken       string `yaml:"jwt_token" toml:"jwt_token"`
	OperatorSecret string `yaml:"operator_secret" toml:"operator_secret"`
	RequireAuth    bool   `yaml:"require_auth" toml:"require_auth"` // reject development mode
}

// StoreConfig holds mission ledger configuration
type StoreConfig struct {
	Path string `yaml:"path" toml:"path"` // empty disables persistence
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// AgentSettings is the flat set of values an agent is constructed from.
type AgentSettings struct {
	AgentID        string
	Role           string
	Namespace      string
	BrokerURL      string
	BrokerName     string
	JWTToken       string // empty selects development mode
	OperatorSecret string
	RequireAuth    bool
	Timeout        time.Duration
}

// Validate checks the values an agent cannot run without.
func (s AgentSettings) Validate() error {
	if s.AgentID == "" {
		return fmt.Errorf("%w: agent_id is required", ErrInvalidConfig)
	}
	if strings.ContainsAny(s.AgentID, ".*> \t") {
		return fmt.Errorf("%w: agent_id %q must not contain dots, wildcards or whitespace", ErrInvalidConfig, s.AgentID)
	}
	if s.Role == "" {
		return fmt.Errorf("%w: role is required", ErrInvalidConfig)
	}
	if strings.ContainsAny(s.Role, ".*> \t") {
		return fmt.Errorf("%w: role %q must not contain dots, wildcards or whitespace", ErrInvalidConfig, s.Role)
	}
	if s.BrokerURL == "" {
		return fmt.Errorf("%w: broker url is required", ErrInvalidConfig)
	}
	if s.Namespace == "" {
		return fmt.Errorf("%w: namespace is required", ErrInvalidConfig)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be greater than zero", ErrInvalidConfig)
	}
	if s.JWTToken == "" && s.RequireAuth {
		return fmt.Errorf("%w: jwt_token is required when require_auth is set", ErrInvalidConfig)
	}
	return nil
}

// AgentSettings flattens the file sections into constructor settings.
func (c *Config) AgentSettings() AgentSettings {
	name := c.Broker.Name
	if name == "" {
		name = c.Agent.ID
	}
	return AgentSettings{
		AgentID:        c.Agent.ID,
		Role:           c.Agent.Role,
		Namespace:      c.Agent.Namespace,
		BrokerURL:      c.Broker.URL,
		BrokerName:     name,
		JWTToken:       c.Auth.JWTToken,
		OperatorSecret: c.Auth.OperatorSecret,
		RequireAuth:    c.Auth.RequireAuth,
		Timeout:        c.Agent.Timeout,
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

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

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if err := c.AgentSettings().Validate(); err != nil {
		return err
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: logging.level %q must be debug, info, warn or error", ErrInvalidConfig, c.Logging.Level)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: logging.format %q must be text or json", ErrInvalidConfig, c.Logging.Format)
	}

	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Agent.Timeout == 0 && cfg.Agent.TimeoutRaw == "" {
		cfg.Agent.Timeout = DefaultTimeout
	}
	if cfg.Agent.Role == "" {
		cfg.Agent.Role = "ai-assistant"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if strings.HasPrefix(cfg.Store.Path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Store.Path = filepath.Join(home, cfg.Store.Path[2:])
		}
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Agent.TimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Agent.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing agent.timeout %q: %w", cfg.Agent.TimeoutRaw, err)
		}
		cfg.Agent.Timeout = d
	}
	return nil
}
