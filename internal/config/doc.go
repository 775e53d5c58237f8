// Package config handles configuration loading for toolchat-gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from TOOLCHAT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/toolchat/gateway.yaml
//  3. ~/.config/toolchat/gateway.yaml
//
// Every field is optional; omitted fields take the defaults listed below.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	llm:
//	  api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string. A leading ~ in database.path
// and servers.registry_path is replaced with the home directory.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "localhost:8080"
//
//	database:
//	  path: "~/.local/share/toolchat/gateway.db"   # ":memory:" for no persistence
//
//	servers:
//	  registry_path: "~/.config/toolchat/servers.json"  # .json, .yaml or .toml
//	  max_reconnect_attempts: 3
//	  reconnect_base_delay: "1s"
//
//	approval:
//	  mode: "auto"      # auto, external
//	  timeout: "30s"
//
//	parser:
//	  narrative_mentions: true
//
//	llm:
//	  provider: "openai"  # openai, anthropic
//	  base_url: ""        # provider default when empty
//	  api_key: "${OPENAI_API_KEY}"
//	  model: "gpt-4o-mini"
//	  system_prompt: ""
//	  max_tokens: 1024
//	  max_tool_rounds: 6
//
//	auth:
//	  jwt_secret: ""      # empty leaves the HTTP API unauthenticated
//
//	logging:
//	  level: "info"       # debug, info, warn, error
//	  format: "text"      # text, json
//
// Durations use Go's time.ParseDuration syntax.
package config
