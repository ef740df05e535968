package mcppool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/lydakis/ollamcp/internal/bootstrap"
	"github.com/lydakis/ollamcp/internal/config"
	"github.com/lydakis/ollamcp/internal/log"
)

// ToolInfo is a normalized tool descriptor. Name is namespaced as
// {server}_{local} and unique across a catalog.
type ToolInfo struct {
	Name        string
	Server      string
	LocalName   string
	Description string
	Params      map[string]Param
	InputSchema json.RawMessage
}

// Param is one entry of a tool's parameter table.
type Param struct {
	Type        string
	Required    bool
	Description string
}

// RawTool is a tool as listed by its server, before normalization.
// Schema holds the declared input schema (or the remote parameters
// document) verbatim.
type RawTool struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Handle is the live state of one configured server. Implementations
// serialize their own access; callers may share a Handle between
// goroutines.
type Handle interface {
	Name() string
	Kind() config.Kind
	Description() string
	// ListTools runs the kind-specific discovery sequence.
	ListTools(ctx context.Context) ([]RawTool, error)
	// CallTool invokes a tool by its local name and returns the raw result
	// payload. Protocol-level tool errors are returned as errors.
	CallTool(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error)
	Close() error
}

// SpawnError reports a subprocess server that could not be started.
type SpawnError struct {
	Server string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Server, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Skip records a configured server that has no handle.
type Skip struct {
	Server string
	Err    error
}

type options struct {
	timeout       time.Duration
	grace         time.Duration
	providers     map[string]Provider
	httpClient    *http.Client
	clientName    string
	clientVersion string
	logger        log.Logger
}

// Option configures a Pool.
type Option func(*options)

// WithTimeout bounds every blocking read on a server.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithHandshakeGrace sets the pause after notifications/initialized.
func WithHandshakeGrace(d time.Duration) Option {
	return func(o *options) { o.grace = d }
}

// WithProvider registers an in-process tool provider under name.
func WithProvider(name string, p Provider) Option {
	return func(o *options) { o.providers[name] = p }
}

// WithHTTPClient sets the client used by remote handles.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithClientInfo sets the identity sent in initialize requests.
func WithClientInfo(name, version string) Option {
	return func(o *options) {
		o.clientName = name
		o.clientVersion = version
	}
}

// WithLogger overrides the pool logger.
func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Pool is the server registry: one Handle per enabled, valid server.
type Pool struct {
	opts *options

	mu      sync.Mutex
	handles map[string]Handle
	skipped []Skip
}

// New builds handles for every enabled server in cfg. Subprocess servers
// are spawned immediately. A server that is misconfigured or fails to
// spawn is recorded in Skipped and does not affect the others.
func New(ctx context.Context, cfg *config.Config, opts ...Option) *Pool {
	o := &options{
		timeout:       config.DefaultToolTimeout,
		grace:         config.DefaultHandshakeGrace,
		providers:     map[string]Provider{},
		httpClient:    http.DefaultClient,
		clientName:    "ollamcp",
		clientVersion: "dev",
		logger:        log.Named("mcppool"),
	}
	for _, opt := range opts {
		opt(o)
	}

	p := &Pool{opts: o, handles: make(map[string]Handle)}
	if cfg == nil {
		return p
	}

	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		srv := cfg.Servers[name]
		if !srv.IsEnabled() {
			o.logger.Debugf("server %s disabled, skipping", name)
			continue
		}
		h, err := p.open(ctx, name, srv)
		if err != nil {
			o.logger.Warnf("server %s skipped: %v", name, err)
			p.skipped = append(p.skipped, Skip{Server: name, Err: err})
			continue
		}
		p.handles[name] = h
	}
	return p
}

func (p *Pool) open(ctx context.Context, name string, srv config.ServerConfig) (Handle, error) {
	if err := config.ValidateServer(name, srv); err != nil {
		return nil, err
	}
	kind, err := srv.Kind()
	if err != nil {
		return nil, &config.ConfigError{Server: name, Field: "type", Msg: err.Error()}
	}

	switch kind {
	case config.KindSubprocess:
		if err := bootstrap.CheckCommand(srv); err != nil {
			return nil, &SpawnError{Server: name, Err: err}
		}
		return newStdioHandle(name, srv, p.opts)
	case config.KindRemote:
		return newRemoteHandle(name, srv, p.opts), nil
	case config.KindInProcess:
		provider, ok := p.opts.providers[srv.Provider]
		if !ok {
			return nil, &config.ConfigError{Server: name, Field: "provider", Msg: fmt.Sprintf("unknown provider %q", srv.Provider)}
		}
		return newInprocHandle(ctx, name, srv, provider, p.opts)
	default:
		return nil, &config.ConfigError{Server: name, Field: "type", Msg: fmt.Sprintf("unsupported kind %q", kind)}
	}
}

// Add registers an externally built handle, replacing any handle with the
// same name.
func (p *Pool) Add(h Handle) {
	p.mu.Lock()
	old := p.handles[h.Name()]
	p.handles[h.Name()] = h
	p.mu.Unlock()

	if old != nil && old != h {
		old.Close() //nolint: errcheck
	}
}

// Get returns the handle for a server.
func (p *Pool) Get(name string) (Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[name]
	return h, ok
}

// Handles returns all live handles sorted by name.
func (p *Pool) Handles() []Handle {
	p.mu.Lock()
	out := make([]Handle, 0, len(p.handles))
	for _, h := range p.handles {
		out = append(out, h)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Describe returns the human description of a server, falling back to
// "{name} server".
func (p *Pool) Describe(name string) string {
	if h, ok := p.Get(name); ok {
		return h.Description()
	}
	return name + " server"
}

// Skipped returns the servers that were configured but have no handle.
func (p *Pool) Skipped() []Skip {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Skip(nil), p.skipped...)
}

// Timeout returns the per-read bound applied to servers.
func (p *Pool) Timeout() time.Duration {
	return p.opts.timeout
}

// Close shuts down one server.
func (p *Pool) Close(name string) error {
	p.mu.Lock()
	h, ok := p.handles[name]
	if ok {
		delete(p.handles, name)
	}
	p.mu.Unlock()

	if !ok {
		return nil
	}
	return h.Close()
}

// CloseAll shuts down every server.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	handles := p.handles
	p.handles = make(map[string]Handle)
	p.mu.Unlock()

	var errs []error
	for name, h := range handles {
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
