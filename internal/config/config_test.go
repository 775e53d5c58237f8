// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, defaults, env var expansion, duration parsing and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:9090"

database:
  path: "./test.db"

servers:
  registry_path: "./servers.yaml"
  max_reconnect_attempts: 5
  reconnect_base_delay: "250ms"

approval:
  mode: "external"
  timeout: "45s"

parser:
  narrative_mentions: false

llm:
  provider: "anthropic"
  base_url: "http://localhost:9999"
  api_key: "sk-test"
  model: "claude-test"
  system_prompt: "Be brief."
  max_tokens: 2048
  max_tool_rounds: 3

auth:
  jwt_secret: "s3cret"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:9090" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:9090")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Servers.RegistryPath != "./servers.yaml" {
		t.Errorf("Servers.RegistryPath = %q", cfg.Servers.RegistryPath)
	}
	if cfg.Servers.MaxReconnectAttempts != 5 {
		t.Errorf("Servers.MaxReconnectAttempts = %d, want 5", cfg.Servers.MaxReconnectAttempts)
	}
	if cfg.Servers.ReconnectBaseDelay != 250*time.Millisecond {
		t.Errorf("Servers.ReconnectBaseDelay = %v, want 250ms", cfg.Servers.ReconnectBaseDelay)
	}
	if cfg.Approval.Mode != "external" || cfg.Approval.Timeout != 45*time.Second {
		t.Errorf("Approval = %+v", cfg.Approval)
	}
	if cfg.Parser.NarrativeEnabled() {
		t.Error("Parser.NarrativeEnabled() = true, want false")
	}
	want := LLMConfig{
		Provider:      "anthropic",
		BaseURL:       "http://localhost:9999",
		APIKey:        "sk-test",
		Model:         "claude-test",
		SystemPrompt:  "Be brief.",
		MaxTokens:     2048,
		MaxToolRounds: 3,
	}
	if cfg.LLM != want {
		t.Errorf("LLM = %+v, want %+v", cfg.LLM, want)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("Auth.JWTSecret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	t.Setenv("XDG_DATA_HOME", "/data")

	cfg, err := Load(writeConfig(t, "logging:\n  level: warn\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, DefaultHTTPAddr)
	}
	if cfg.Database.Path != filepath.Join("/data", "toolchat", "gateway.db") {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Servers.RegistryPath != filepath.Join("/cfg", "toolchat", "servers.json") {
		t.Errorf("Servers.RegistryPath = %q", cfg.Servers.RegistryPath)
	}
	if cfg.Servers.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Errorf("Servers.MaxReconnectAttempts = %d", cfg.Servers.MaxReconnectAttempts)
	}
	if cfg.Servers.ReconnectBaseDelay != DefaultReconnectBaseDelay {
		t.Errorf("Servers.ReconnectBaseDelay = %v", cfg.Servers.ReconnectBaseDelay)
	}
	if cfg.Approval.Mode != "auto" || cfg.Approval.Timeout != DefaultApprovalTimeout {
		t.Errorf("Approval = %+v", cfg.Approval)
	}
	if !cfg.Parser.NarrativeEnabled() {
		t.Error("narrative mentions should default to enabled")
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != DefaultModel {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if cfg.LLM.MaxTokens != DefaultMaxTokens || cfg.LLM.MaxToolRounds != DefaultMaxToolRounds {
		t.Errorf("LLM limits = %d/%d", cfg.LLM.MaxTokens, cfg.LLM.MaxToolRounds)
	}
	if cfg.Logging.Level != "warn" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Auth.JWTSecret != "" {
		t.Error("auth should be disabled by default")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load(writeConfig(t, "database:\n  path: \"~/db/gw.db\"\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != filepath.Join(home, "db", "gw.db") {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
}

func TestLoad_MemoryDatabase(t *testing.T) {
	cfg, err := Load(writeConfig(t, "database:\n  path: \":memory:\"\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != ":memory:" {
		t.Errorf("Database.Path = %q, want :memory:", cfg.Database.Path)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-from-env")
	t.Setenv("TEST_JWT_SECRET", "jwt-from-env")

	cfg, err := Load(writeConfig(t, `
llm:
  api_key: "${TEST_OPENAI_KEY}"
auth:
  jwt_secret: "${TEST_JWT_SECRET}"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LLM.APIKey != "sk-from-env" {
		t.Errorf("LLM.APIKey = %q, want %q", cfg.LLM.APIKey, "sk-from-env")
	}
	if cfg.Auth.JWTSecret != "jwt-from-env" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "jwt-from-env")
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	os.Unsetenv("TOOLCHAT_SURELY_UNSET")

	cfg, err := Load(writeConfig(t, "llm:\n  api_key: \"${TOOLCHAT_SURELY_UNSET}\"\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.APIKey != "" {
		t.Errorf("LLM.APIKey = %q, want empty", cfg.LLM.APIKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server:\n  http_addr: [unclosed\n"))
	if err == nil {
		t.Fatal("Load() expected error for invalid YAML")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{
			name:    "reconnect delay",
			content: "servers:\n  reconnect_base_delay: \"soon\"\n",
			field:   "reconnect_base_delay",
		},
		{
			name:    "approval timeout",
			content: "approval:\n  timeout: \"forever\"\n",
			field:   "approval timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Load() expected error for invalid duration")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q should mention %q", err, tt.field)
			}
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown provider",
			content: "llm:\n  provider: \"palm\"\n",
			wantErr: "llm.provider",
		},
		{
			name:    "unknown approval mode",
			content: "approval:\n  mode: \"manual\"\n",
			wantErr: "approval.mode",
		},
		{
			name:    "zero approval timeout",
			content: "approval:\n  timeout: \"0s\"\n",
			wantErr: "approval.timeout",
		},
		{
			name:    "negative reconnect delay",
			content: "servers:\n  reconnect_base_delay: \"-1s\"\n",
			wantErr: "reconnect_base_delay",
		},
		{
			name:    "negative tool rounds",
			content: "llm:\n  max_tool_rounds: -2\n",
			wantErr: "max_tool_rounds",
		},
		{
			name:    "unknown log format",
			content: "logging:\n  format: \"xml\"\n",
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Load() expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultPath(t *testing.T) {
	t.Run("env var wins", func(t *testing.T) {
		t.Setenv("TOOLCHAT_CONFIG", "/etc/toolchat.yaml")
		if got := DefaultPath(); got != "/etc/toolchat.yaml" {
			t.Errorf("DefaultPath() = %q", got)
		}
	})

	t.Run("xdg config home", func(t *testing.T) {
		t.Setenv("TOOLCHAT_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "/xdg")
		if got := DefaultPath(); got != filepath.Join("/xdg", "toolchat", "gateway.yaml") {
			t.Errorf("DefaultPath() = %q", got)
		}
	})

	t.Run("home fallback", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("TOOLCHAT_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("HOME", home)
		if got := DefaultPath(); got != filepath.Join(home, ".config", "toolchat", "gateway.yaml") {
			t.Errorf("DefaultPath() = %q", got)
		}
	})
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "single env var", input: "${FOO}", expected: "bar"},
		{name: "env var with surrounding text", input: "prefix-${FOO}-suffix", expected: "prefix-bar-suffix"},
		{name: "multiple env vars", input: "${FOO}/${BAZ}", expected: "bar/qux"},
		{name: "no env vars", input: "no-vars-here", expected: "no-vars-here"},
		{name: "unset env var", input: "${UNSET_VAR}", expected: ""},
		{name: "empty string", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
