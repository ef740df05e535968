package mcppool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lydakis/ollamcp/internal/config"
	"github.com/lydakis/ollamcp/internal/jsonrpc"
	"github.com/lydakis/ollamcp/internal/log"
	"github.com/tidwall/gjson"
)

// ProtocolVersion is the MCP revision sent in initialize.
const ProtocolVersion = "2024-11-05"

// stdioHandle owns one tool server subprocess. The process persists across
// discovery and calls; after a transport failure it is replaced on the
// next use.
type stdioHandle struct {
	name   string
	cfg    config.ServerConfig
	opts   *options
	logger log.Logger

	mu    sync.Mutex
	proc  *jsonrpc.Process
	ready bool
}

func newStdioHandle(name string, cfg config.ServerConfig, opts *options) (*stdioHandle, error) {
	h := &stdioHandle{
		name:   name,
		cfg:    cfg,
		opts:   opts,
		logger: opts.logger,
	}
	if err := h.spawn(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *stdioHandle) Name() string        { return h.name }
func (h *stdioHandle) Kind() config.Kind   { return config.KindSubprocess }
func (h *stdioHandle) Description() string { return h.cfg.DescriptionOr(h.name + " server") }

func (h *stdioHandle) spawn() error {
	proc, err := jsonrpc.Spawn(jsonrpc.SpawnConfig{
		Name:    h.name,
		Command: h.cfg.Command,
		Args:    h.cfg.Args,
		Dir:     h.cfg.Cwd,
		Env:     h.cfg.Env,
		Logger:  h.logger,
	})
	if err != nil {
		return &SpawnError{Server: h.name, Err: err}
	}
	h.proc = proc
	h.ready = false
	return nil
}

// ensure returns a process that has completed the handshake, re-spawning
// it when the previous transport broke. Caller holds h.mu.
func (h *stdioHandle) ensure(ctx context.Context) (*jsonrpc.Process, error) {
	if h.proc != nil {
		if err := h.proc.Broken(); err != nil {
			h.logger.Infof("server %s: transport unusable (%v), respawning", h.name, err)
			h.proc.Close() //nolint: errcheck
			h.proc = nil
		}
	}
	if h.proc == nil {
		if err := h.spawn(); err != nil {
			return nil, err
		}
	}
	if !h.ready {
		if err := h.handshake(ctx); err != nil {
			// A half-initialized server is not reused.
			h.proc.Close() //nolint: errcheck
			h.proc = nil
			return nil, err
		}
		h.ready = true
	}
	return h.proc, nil
}

// handshake runs initialize, notifications/initialized and the grace
// pause, in that order.
func (h *stdioHandle) handshake(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    h.opts.clientName,
			"version": h.opts.clientVersion,
		},
	}
	resp, err := h.proc.Call(ctx, "initialize", params, h.opts.timeout)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize: %w", resp.Error)
	}
	h.logger.Debugf("server %s: initialized (%s)", h.name, gjson.GetBytes(resp.Result, "serverInfo.name").String())

	if err := h.proc.Notify(ctx, "notifications/initialized", map[string]any{}); err != nil {
		return fmt.Errorf("notifications/initialized: %w", err)
	}

	if h.opts.grace > 0 {
		timer := time.NewTimer(h.opts.grace)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

func (h *stdioHandle) ListTools(ctx context.Context) ([]RawTool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	proc, err := h.ensure(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := proc.Call(ctx, "tools/list", map[string]any{}, h.opts.timeout)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("tools/list: %w", resp.Error)
	}
	return parseToolList(resp.Result, "inputSchema")
}

func (h *stdioHandle) CallTool(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	proc, err := h.ensure(ctx)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	resp, err := proc.Call(ctx, "tools/call", map[string]any{"name": tool, "arguments": args}, h.opts.timeout)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

func (h *stdioHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.proc == nil {
		return nil
	}
	err := h.proc.Close()
	h.proc = nil
	h.ready = false
	return err
}

// parseToolList extracts the tools array from a tools/list style document.
// schemaFields name the members that may hold each tool's schema, in
// order of preference.
func parseToolList(raw []byte, schemaFields ...string) ([]RawTool, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &jsonrpc.ProtocolError{Method: "tools/list", Reason: "result is not valid JSON", Line: string(raw)}
	}
	tools := gjson.GetBytes(raw, "tools")
	if !tools.IsArray() {
		return nil, &jsonrpc.ProtocolError{Method: "tools/list", Reason: "result has no tools array", Line: string(raw)}
	}

	var out []RawTool
	for _, t := range tools.Array() {
		name := t.Get("name").String()
		if name == "" {
			continue
		}
		rt := RawTool{Name: name, Description: t.Get("description").String()}
		for _, field := range schemaFields {
			if schema := t.Get(field); schema.Exists() {
				rt.Schema = json.RawMessage(schema.Raw)
				break
			}
		}
		out = append(out, rt)
	}
	return out, nil
}
