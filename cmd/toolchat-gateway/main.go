// ABOUTME: Entry point for the toolchat-gateway server and its operator commands
// ABOUTME: Provides serve, init, health, servers and token subcommands

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/toolchat-gateway/internal/auth"
	"github.com/2389/toolchat-gateway/internal/config"
	"github.com/2389/toolchat-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _              _      _           _
| |_ ___   ___ | | ___| |__   __ _| |_
| __/ _ \ / _ \| |/ __| '_ \ / _' | __|
| || (_) | (_) | | (__| | | | (_| | |_
 \__\___/ \___/|_|\___|_| |_|\__,_|\__|
`

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "toolchat-gateway",
		Short:        "Chat gateway for language models with MCP tool servers",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $TOOLCHAT_CONFIG or ~/.config/toolchat/gateway.yaml)")

	path := func() string {
		if configPath != "" {
			return configPath
		}
		return config.DefaultPath()
	}

	root.AddCommand(
		serveCmd(path),
		initCmd(),
		healthCmd(path),
		serversCmd(path),
		tokenCmd(path),
		versionCmd(),
	)
	return root
}

func serveCmd(path func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, path())
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Servers:   %s\n", cfg.Servers.RegistryPath)
	green.Print("    ▶ ")
	fmt.Printf("Model:     %s ", cfg.LLM.Provider)
	cyan.Println(cfg.LLM.Model)
	green.Print("    ▶ ")
	fmt.Printf("Approval:  %s\n", cfg.Approval.Mode)
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! auth disabled: set auth.jwt_secret to require bearer tokens")
	}
	fmt.Println()

	logger.Info("starting toolchat-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger, gateway.WithVersion(version))
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// loadConfig reads the config file, falling back to defaults when the file
// does not exist yet.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func healthCmd(path func() string) *cobra.Command {
	var ready bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(path())
			if err != nil {
				return err
			}
			endpoint := "/health"
			if ready {
				endpoint = "/health/ready"
			}
			body, err := getEndpoint(cmd.Context(), cfg, endpoint)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), body)
			return nil
		},
	}
	cmd.Flags().BoolVar(&ready, "ready", false, "require at least one connected tool server")
	return cmd
}

func serversCmd(path func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List tool servers known to a running gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(path())
			if err != nil {
				return err
			}
			body, err := getEndpoint(cmd.Context(), cfg, "/servers")
			if err != nil {
				return fmt.Errorf("listing servers: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), body)
			return nil
		},
	}
}

// getEndpoint performs an authenticated GET against the configured gateway
// and returns the body, or an error for any non-200 status.
func getEndpoint(ctx context.Context, cfg *config.Config, endpoint string) (string, error) {
	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	if cfg.Auth.JWTSecret != "" {
		token, err := issueToken(cfg, "toolchat-cli", time.Minute)
		if err != nil {
			return "", err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	return string(body), nil
}

func tokenCmd(path func() string) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API and MCP endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(path())
			if err != nil {
				return err
			}
			token, err := issueToken(cfg, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	return cmd
}

func issueToken(cfg *config.Config, subject string, ttl time.Duration) (string, error) {
	if cfg.Auth.JWTSecret == "" {
		return "", fmt.Errorf("auth.jwt_secret is not configured")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive")
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(subject, ttl)
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return token, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "toolchat-gateway %s\n", version)
		},
	}
}
