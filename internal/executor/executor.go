// Package executor invokes catalog tools on their servers and turns every
// outcome into a Result.
package executor

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/lydakis/ollamcp/internal/cache"
	"github.com/lydakis/ollamcp/internal/config"
	"github.com/lydakis/ollamcp/internal/jsonrpc"
	"github.com/lydakis/ollamcp/internal/log"
	"github.com/lydakis/ollamcp/internal/mcppool"
	"github.com/lydakis/ollamcp/internal/response"
)

// ErrToolNotFound is reported for names missing from the catalog.
var ErrToolNotFound = errors.New("tool not found")

// Result is the outcome of one tool call. Exactly one of Output and Err is
// meaningful.
type Result struct {
	Tool   string
	Output string
	Err    string
}

// Failed reports whether the call produced an error description.
func (r Result) Failed() bool { return r.Err != "" }

// Servers resolves a server name to its live handle.
type Servers interface {
	Get(name string) (mcppool.Handle, bool)
}

// Tools resolves a namespaced tool name.
type Tools interface {
	Lookup(name string) (mcppool.ToolInfo, bool)
}

type cachePolicy struct {
	ttl     time.Duration
	exclude []string
}

// Executor dispatches calls to server handles.
type Executor struct {
	servers Servers
	tools   Tools
	timeout time.Duration
	store   *cache.Store
	caching map[string]cachePolicy
	logger  log.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithTimeout bounds each call. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithCache enables result caching for servers configured with a
// cache_ttl.
func WithCache(store *cache.Store, servers map[string]config.ServerConfig) Option {
	return func(e *Executor) {
		e.store = store
		for name, srv := range servers {
			if ttl := srv.CacheDuration(); ttl > 0 {
				e.caching[name] = cachePolicy{ttl: ttl, exclude: srv.NoCacheTools}
			}
		}
	}
}

// New returns an Executor over servers. tools may be nil when only Call is
// used.
func New(servers Servers, tools Tools, opts ...Option) *Executor {
	e := &Executor{
		servers: servers,
		tools:   tools,
		timeout: config.DefaultToolTimeout,
		caching: map[string]cachePolicy{},
		logger:  log.Named("executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetTools replaces the catalog used by Invoke.
func (e *Executor) SetTools(tools Tools) {
	e.tools = tools
}

// Invoke calls a tool by namespaced name.
func (e *Executor) Invoke(ctx context.Context, name string, args map[string]any) Result {
	if e.tools == nil {
		return Result{Tool: name, Err: fmt.Sprintf("%v: %s", ErrToolNotFound, name)}
	}
	tool, ok := e.tools.Lookup(name)
	if !ok {
		return Result{Tool: name, Err: fmt.Sprintf("%v: %s", ErrToolNotFound, name)}
	}
	return e.Call(ctx, tool, args)
}

// Call invokes tool with args. It always returns a Result; transport,
// protocol and decoding failures become error descriptions.
func (e *Executor) Call(ctx context.Context, tool mcppool.ToolInfo, args map[string]any) (res Result) {
	res.Tool = tool.Name
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorf("tool %s panicked: %v", tool.Name, r)
			res = Result{Tool: tool.Name, Err: fmt.Sprintf("tool %s failed: %v", tool.Name, r)}
		}
	}()

	h, ok := e.servers.Get(tool.Server)
	if !ok {
		return Result{Tool: tool.Name, Err: fmt.Sprintf("server %q not found", tool.Server)}
	}

	args = Coerce(args, tool.Params)
	policy, cacheable := e.cacheable(tool)
	if cacheable {
		if out, hit := e.store.Get(tool.Server, tool.LocalName, args); hit {
			e.logger.Debugf("tool %s: cache hit", tool.Name)
			return Result{Tool: tool.Name, Output: out}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	raw, err := h.CallTool(callCtx, tool.LocalName, args)
	e.logger.Debugf("tool %s: finished in %s", tool.Name, time.Since(start).Round(time.Millisecond))
	if err != nil {
		e.logger.Warnf("tool %s failed: %v", tool.Name, err)
		return Result{Tool: tool.Name, Err: e.describe(err)}
	}

	text := response.Unwrap(raw)
	if text.IsError {
		return Result{Tool: tool.Name, Err: text.Output}
	}
	if cacheable {
		if err := e.store.Put(tool.Server, tool.LocalName, args, text.Output, policy.ttl); err != nil {
			e.logger.Debugf("tool %s: cache write failed: %v", tool.Name, err)
		}
	}
	return Result{Tool: tool.Name, Output: text.Output}
}

func (e *Executor) cacheable(tool mcppool.ToolInfo) (cachePolicy, bool) {
	if e.store == nil {
		return cachePolicy{}, false
	}
	policy, ok := e.caching[tool.Server]
	if !ok {
		return cachePolicy{}, false
	}
	for _, pattern := range policy.exclude {
		if matched, _ := path.Match(pattern, tool.LocalName); matched {
			return cachePolicy{}, false
		}
	}
	return policy, true
}

// describe renders err as the text of a failed Result.
func (e *Executor) describe(err error) string {
	var (
		rpcErr    *jsonrpc.RPCError
		transport *jsonrpc.TransportError
	)
	switch {
	case errors.As(err, &rpcErr):
		return "Tool error: " + rpcErr.Message
	case errors.As(err, &transport) && transport.Timeout():
		return fmt.Sprintf("no response within %s", e.timeout)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("no response within %s", e.timeout)
	default:
		return err.Error()
	}
}
