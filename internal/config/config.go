// ABOUTME: Configuration loading and parsing for toolchat-gateway
// ABOUTME: Supports YAML files with environment variable expansion, defaults and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied to omitted fields.
const (
	DefaultHTTPAddr             = "localhost:8080"
	DefaultMaxReconnectAttempts = 3
	DefaultReconnectBaseDelay   = time.Second
	DefaultApprovalMode         = "auto"
	DefaultApprovalTimeout      = 30 * time.Second
	DefaultProvider             = "openai"
	DefaultModel                = "gpt-4o-mini"
	DefaultMaxTokens            = 1024
	DefaultMaxToolRounds        = 6
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

// Config represents the complete toolchat-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Servers  ServersConfig  `yaml:"servers"`
	Approval ApprovalConfig `yaml:"approval"`
	Parser   ParserConfig   `yaml:"parser"`
	LLM      LLMConfig      `yaml:"llm"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Path may be ":memory:" for a throwaway transcript store.
	Path string `yaml:"path"`
}

// ServersConfig holds tool server registry and reconnect configuration
type ServersConfig struct {
	// RegistryPath is the server registry file (.json, .yaml or .toml).
	RegistryPath         string        `yaml:"registry_path"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `yaml:"-"`

	ReconnectBaseDelayRaw string `yaml:"reconnect_base_delay"`
}

// ApprovalConfig holds approval gate configuration
type ApprovalConfig struct {
	Mode    string        `yaml:"mode"`
	Timeout time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// ParserConfig holds response parser options
type ParserConfig struct {
	// NarrativeMentions defaults to true when omitted.
	NarrativeMentions *bool `yaml:"narrative_mentions"`
}

// NarrativeEnabled reports whether narrative tool mentions are extracted.
func (p ParserConfig) NarrativeEnabled() bool {
	return p.NarrativeMentions == nil || *p.NarrativeMentions
}

// LLMConfig holds language model endpoint configuration
type LLMConfig struct {
	Provider      string `yaml:"provider"`
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	SystemPrompt  string `yaml:"system_prompt"`
	MaxTokens     int    `yaml:"max_tokens"`
	MaxToolRounds int    `yaml:"max_tool_rounds"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// JWTSecret enables bearer-token auth on the HTTP API when set.
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultPath returns the path to the gateway config file.
// Priority: TOOLCHAT_CONFIG env var > XDG_CONFIG_HOME/toolchat/gateway.yaml > ~/.config/toolchat/gateway.yaml
func DefaultPath() string {
	if envPath := os.Getenv("TOOLCHAT_CONFIG"); envPath != "" {
		return envPath
	}
	return filepath.Join(configDir(), "gateway.yaml")
}

func configDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "toolchat" // fallback
		}
		dir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(dir, "toolchat")
}

// DataDir returns the directory for gateway data.
// Priority: XDG_DATA_HOME/toolchat > ~/.local/share/toolchat
func DataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dir, "toolchat")
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration content.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(DataDir(), "gateway.db")
	}
	c.Database.Path = expandHome(c.Database.Path)
	if c.Servers.RegistryPath == "" {
		c.Servers.RegistryPath = filepath.Join(configDir(), "servers.json")
	}
	c.Servers.RegistryPath = expandHome(c.Servers.RegistryPath)
	if c.Servers.MaxReconnectAttempts == 0 {
		c.Servers.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Servers.ReconnectBaseDelayRaw == "" {
		c.Servers.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Approval.Mode == "" {
		c.Approval.Mode = DefaultApprovalMode
	}
	if c.Approval.TimeoutRaw == "" {
		c.Approval.Timeout = DefaultApprovalTimeout
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = DefaultProvider
	}
	if c.LLM.Model == "" {
		c.LLM.Model = DefaultModel
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = DefaultMaxTokens
	}
	if c.LLM.MaxToolRounds == 0 {
		c.LLM.MaxToolRounds = DefaultMaxToolRounds
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
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
	if c.Servers.MaxReconnectAttempts < 0 {
		return fmt.Errorf("servers.max_reconnect_attempts must not be negative")
	}
	if c.Servers.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("servers.reconnect_base_delay must be positive")
	}

	switch c.Approval.Mode {
	case "auto", "external":
	default:
		return fmt.Errorf("approval.mode must be auto or external, got %q", c.Approval.Mode)
	}
	if c.Approval.Timeout <= 0 {
		return fmt.Errorf("approval.timeout must be positive")
	}

	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("llm.provider must be openai or anthropic, got %q", c.LLM.Provider)
	}
	if c.LLM.MaxTokens < 0 {
		return fmt.Errorf("llm.max_tokens must not be negative")
	}
	if c.LLM.MaxToolRounds < 0 {
		return fmt.Errorf("llm.max_tool_rounds must not be negative")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Servers.ReconnectBaseDelayRaw != "" {
		cfg.Servers.ReconnectBaseDelay, err = time.ParseDuration(cfg.Servers.ReconnectBaseDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing reconnect_base_delay %q: %w", cfg.Servers.ReconnectBaseDelayRaw, err)
		}
	}

	if cfg.Approval.TimeoutRaw != "" {
		cfg.Approval.Timeout, err = time.ParseDuration(cfg.Approval.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing approval timeout %q: %w", cfg.Approval.TimeoutRaw, err)
		}
	}

	return nil
}
