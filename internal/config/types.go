package config

import (
	"fmt"
	"strings"
	"time"
)

// Default settings.
const (
	DefaultOllamaURL      = "http://localhost:11434"
	DefaultModel          = "llama3.2"
	DefaultToolTimeout    = 30 * time.Second
	DefaultHandshakeGrace = 100 * time.Millisecond
)

// Config is the top-level ollamcp configuration.
type Config struct {
	Servers  map[string]ServerConfig `toml:"servers" yaml:"servers" json:"mcp_servers"`
	Settings Settings                `toml:"settings" yaml:"settings" json:"settings"`
}

// Settings holds session-wide options.
type Settings struct {
	OllamaURL      string `toml:"ollama_url" yaml:"ollama_url" json:"ollama_url"`
	DefaultModel   string `toml:"default_model" yaml:"default_model" json:"default_model"`
	Streaming      *bool  `toml:"streaming" yaml:"streaming" json:"streaming"`
	SystemPrompt   string `toml:"system_prompt" yaml:"system_prompt" json:"system_prompt"`
	ToolTimeout    string `toml:"tool_timeout" yaml:"tool_timeout" json:"tool_timeout"`
	HandshakeGrace string `toml:"handshake_grace" yaml:"handshake_grace" json:"handshake_grace"`
	LogLevel       string `toml:"log_level" yaml:"log_level" json:"log_level"`
}

// ServerConfig describes how to reach a single tool server.
type ServerConfig struct {
	Type        string `toml:"type" yaml:"type" json:"type"`
	Description string `toml:"description" yaml:"description" json:"description"`
	Enabled     *bool  `toml:"enabled" yaml:"enabled" json:"enabled"`

	// Subprocess
	Command string            `toml:"command" yaml:"command" json:"command"`
	Args    []string          `toml:"args" yaml:"args" json:"args"`
	Cwd     string            `toml:"cwd" yaml:"cwd" json:"cwd"`
	Env     map[string]string `toml:"env" yaml:"env" json:"env"`

	// Remote
	URL     string            `toml:"url" yaml:"url" json:"url"`
	Headers map[string]string `toml:"headers" yaml:"headers" json:"headers"`

	// In-process
	Provider string `toml:"provider" yaml:"provider" json:"provider"`

	// Caching
	CacheTTL     string   `toml:"cache_ttl" yaml:"cache_ttl" json:"cache_ttl"`
	NoCacheTools []string `toml:"no_cache_tools" yaml:"no_cache_tools" json:"no_cache_tools"`
}

// Kind identifies how a server is reached.
type Kind string

const (
	KindSubprocess Kind = "subprocess"
	KindRemote     Kind = "remote"
	KindInProcess  Kind = "inprocess"
)

// Kind resolves the server kind from Type, accepting the aliases used by
// other MCP clients. An empty Type is inferred from which launch field is
// set.
func (s ServerConfig) Kind() (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s.Type)) {
	case "subprocess", "stdio":
		return KindSubprocess, nil
	case "remote", "http":
		return KindRemote, nil
	case "inprocess", "in-process", "local":
		return KindInProcess, nil
	case "":
	default:
		return "", fmt.Errorf("unknown server type %q", s.Type)
	}

	switch {
	case strings.TrimSpace(s.Command) != "":
		return KindSubprocess, nil
	case strings.TrimSpace(s.URL) != "":
		return KindRemote, nil
	case strings.TrimSpace(s.Provider) != "":
		return KindInProcess, nil
	}
	return "", fmt.Errorf("missing transport, set command (subprocess), url (remote) or provider (inprocess)")
}

// IsEnabled reports whether the server should be started. Servers are
// enabled unless explicitly disabled.
func (s ServerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// DescriptionOr returns the human description, or fallback when unset.
func (s ServerConfig) DescriptionOr(fallback string) string {
	if d := strings.TrimSpace(s.Description); d != "" {
		return d
	}
	return fallback
}

// CacheDuration returns the parsed cache TTL; zero disables caching.
func (s ServerConfig) CacheDuration() time.Duration {
	if s.CacheTTL == "" {
		return 0
	}
	d, err := time.ParseDuration(s.CacheTTL)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// StreamingEnabled reports whether chat responses stream by default.
func (s Settings) StreamingEnabled() bool {
	return s.Streaming == nil || *s.Streaming
}

// ToolTimeoutDuration returns the bound on every blocking tool-server read.
func (s Settings) ToolTimeoutDuration() time.Duration {
	return parseDurationOr(s.ToolTimeout, DefaultToolTimeout)
}

// HandshakeGraceDuration returns the pause between the initialized
// notification and the first tools/list request.
func (s Settings) HandshakeGraceDuration() time.Duration {
	return parseDurationOr(s.HandshakeGrace, DefaultHandshakeGrace)
}

// OllamaURLOr returns the configured backend URL or the default.
func (s Settings) OllamaURLOr() string {
	if u := strings.TrimSpace(s.OllamaURL); u != "" {
		return u
	}
	return DefaultOllamaURL
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
