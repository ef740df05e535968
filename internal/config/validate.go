package config

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"
)

// ConfigError reports a bad or incomplete server definition. The server it
// names is skipped; other servers are unaffected.
type ConfigError struct {
	Server string
	Field  string
	Msg    string
	Err    error
}

func (e *ConfigError) Error() string {
	key := "servers." + e.Server
	if e.Server == "" {
		key = "settings"
	}
	if e.Field != "" {
		key += "." + e.Field
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", key, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", key, e.Msg)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Validate checks configuration invariants and returns actionable errors.
func Validate(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	errs := validateSettings(cfg.Settings)
	for _, name := range names {
		if err := ValidateServer(name, cfg.Servers[name]); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// ValidateSettings checks only the settings block.
func ValidateSettings(s Settings) error {
	return errors.Join(validateSettings(s)...)
}

func validateSettings(s Settings) []error {
	var errs []error
	for _, d := range []struct {
		field string
		raw   string
	}{
		{"tool_timeout", s.ToolTimeout},
		{"handshake_grace", s.HandshakeGrace},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			errs = append(errs, &ConfigError{Field: d.field, Msg: fmt.Sprintf("invalid duration %q", d.raw), Err: err})
		} else if v < 0 {
			errs = append(errs, &ConfigError{Field: d.field, Msg: fmt.Sprintf("must be >= 0, got %q", d.raw)})
		}
	}
	if s.OllamaURL != "" {
		if _, err := url.ParseRequestURI(s.OllamaURL); err != nil {
			errs = append(errs, &ConfigError{Field: "ollama_url", Msg: fmt.Sprintf("invalid URL %q", s.OllamaURL), Err: err})
		}
	}
	return errs
}

// ValidateServer checks a single server definition. The returned error is
// nil or an errors.Join of *ConfigError values.
func ValidateServer(name string, srv ServerConfig) error {
	var errs []error
	if strings.TrimSpace(name) == "" {
		errs = append(errs, &ConfigError{Server: name, Msg: "server name must not be empty"})
	}

	kind, err := srv.Kind()
	if err != nil {
		return errors.Join(append(errs, &ConfigError{Server: name, Msg: err.Error()})...)
	}

	hasCommand := strings.TrimSpace(srv.Command) != ""
	hasURL := strings.TrimSpace(srv.URL) != ""
	hasProvider := strings.TrimSpace(srv.Provider) != ""

	switch kind {
	case KindSubprocess:
		if !hasCommand {
			errs = append(errs, &ConfigError{Server: name, Field: "command", Msg: "required for subprocess servers"})
		}
		if hasURL {
			errs = append(errs, &ConfigError{Server: name, Msg: "configure either command (subprocess) or url (remote), not both"})
		}
	case KindRemote:
		if !hasURL {
			errs = append(errs, &ConfigError{Server: name, Field: "url", Msg: "required for remote servers"})
		} else if _, err := url.ParseRequestURI(srv.URL); err != nil {
			errs = append(errs, &ConfigError{Server: name, Field: "url", Msg: fmt.Sprintf("invalid URL %q", srv.URL), Err: err})
		}
		if hasCommand {
			errs = append(errs, &ConfigError{Server: name, Msg: "configure either command (subprocess) or url (remote), not both"})
		}
	case KindInProcess:
		if !hasProvider {
			errs = append(errs, &ConfigError{Server: name, Field: "provider", Msg: "required for inprocess servers"})
		}
	}

	if srv.CacheTTL != "" {
		ttl, err := time.ParseDuration(srv.CacheTTL)
		if err != nil {
			errs = append(errs, &ConfigError{Server: name, Field: "cache_ttl", Msg: fmt.Sprintf("invalid duration %q", srv.CacheTTL), Err: err})
		} else if ttl <= 0 {
			errs = append(errs, &ConfigError{Server: name, Field: "cache_ttl", Msg: fmt.Sprintf("must be > 0, got %q", srv.CacheTTL)})
		}
	}

	for i, pattern := range srv.NoCacheTools {
		if _, err := path.Match(pattern, "probe"); err != nil {
			errs = append(errs, &ConfigError{Server: name, Field: fmt.Sprintf("no_cache_tools[%d]", i), Msg: fmt.Sprintf("invalid glob %q", pattern), Err: err})
		}
	}

	return errors.Join(errs...)
}
