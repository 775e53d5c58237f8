// Package catalog reads and writes the server registry file.
//
// The file maps server IDs to how they are started, in the layout most MCP
// hosts use:
//
//	{
//	  "mcpServers": {
//	    "weather": {"command": "node", "args": ["weather.js"], "env": {"API_KEY": "${WEATHER_KEY}"}},
//	    "notes":   {"enabled": false, "command": "python3", "args": ["notes.py"]}
//	  }
//	}
//
// The same structure can be written as YAML (.yaml, .yml) or TOML (.toml).
// IDs are matched in normalized form, so "mcp-weather" and "Weather" refer
// to the same entry. Entries are enabled unless "enabled" is false; enabled
// entries are connected when the gateway starts. ${VAR} references in env
// values are expanded when a spec is looked up and never written back.
//
// Add records servers connected ad hoc by path or package and rewrites the
// file atomically.
package catalog
