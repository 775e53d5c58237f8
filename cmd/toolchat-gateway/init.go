// ABOUTME: Interactive config file generator for the init subcommand
// ABOUTME: Prompts for addresses, model endpoint and approval mode and writes gateway.yaml

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/2389/toolchat-gateway/internal/config"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new config file interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// initFile is the subset of the config written by init. Durations are kept
// as strings so the file reads the way a person would write it.
type initFile struct {
	Server struct {
		HTTPAddr string `yaml:"http_addr"`
	} `yaml:"server"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Servers struct {
		RegistryPath string `yaml:"registry_path"`
	} `yaml:"servers"`
	Approval struct {
		Mode    string `yaml:"mode"`
		Timeout string `yaml:"timeout"`
	} `yaml:"approval"`
	LLM struct {
		Provider string `yaml:"provider"`
		BaseURL  string `yaml:"base_url,omitempty"`
		APIKey   string `yaml:"api_key"`
		Model    string `yaml:"model"`
	} `yaml:"llm"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret,omitempty"`
	} `yaml:"auth"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

var apiKeyVars = map[string]string{
	"openai":    "${OPENAI_API_KEY}",
	"anthropic": "${ANTHROPIC_API_KEY}",
}

var defaultModels = map[string]string{
	"openai":    config.DefaultModel,
	"anthropic": "claude-3-5-haiku-latest",
}

func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	defaults := config.Default()

	fmt.Fprintln(out, "toolchat-gateway configuration setup")
	fmt.Fprintln(out, "====================================")
	fmt.Fprintln(out)

	outputFile := prompt(reader, out, "Config file path", config.DefaultPath())

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, out, "File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	var f initFile

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	f.Server.HTTPAddr = prompt(reader, out, "HTTP address", defaults.Server.HTTPAddr)
	f.Database.Path = prompt(reader, out, "SQLite database path", defaults.Database.Path)
	f.Servers.RegistryPath = prompt(reader, out, "Tool server registry file", defaults.Servers.RegistryPath)

	fmt.Fprintln(out, "\n--- Language Model ---")
	f.LLM.Provider = prompt(reader, out, "Provider (openai/anthropic)", defaults.LLM.Provider)
	f.LLM.BaseURL = prompt(reader, out, "Base URL (leave empty for the provider default)", "")
	f.LLM.APIKey = prompt(reader, out, "API key", apiKeyVars[f.LLM.Provider])
	f.LLM.Model = prompt(reader, out, "Model", defaultModels[f.LLM.Provider])

	fmt.Fprintln(out, "\n--- Tool Approval ---")
	f.Approval.Mode = prompt(reader, out, "Approval mode (auto/external)", defaults.Approval.Mode)
	f.Approval.Timeout = prompt(reader, out, "Approval timeout", defaults.Approval.Timeout.String())

	fmt.Fprintln(out, "\n--- Authentication ---")
	if yes(prompt(reader, out, "Require bearer tokens?", "no")) {
		secret, err := randomSecret()
		if err != nil {
			return err
		}
		f.Auth.JWTSecret = secret
	}

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	f.Logging.Level = prompt(reader, out, "Log level (debug/info/warn/error)", defaults.Logging.Level)
	f.Logging.Format = prompt(reader, out, "Log format (text/json)", defaults.Logging.Format)

	body, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	content := "# toolchat-gateway configuration\n# Generated by toolchat-gateway init\n\n" + string(body)

	// Refuse to write something serve would reject.
	if _, err := config.Parse([]byte(content)); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	perm := os.FileMode(0644)
	if f.Auth.JWTSecret != "" {
		perm = 0600
	}
	if err := os.WriteFile(outputFile, []byte(content), perm); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if f.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(f.Database.Path), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintln(out, "  toolchat-gateway serve")
	if f.Auth.JWTSecret != "" {
		fmt.Fprintln(out, "\nTo issue a token:")
		fmt.Fprintln(out, "  toolchat-gateway token --subject you")
	}
	return nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
