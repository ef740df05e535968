package mcppool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/lydakis/ollamcp/internal/config"
	"github.com/lydakis/ollamcp/internal/log"
	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Provider builds the MCP server backing an in-process tool server.
type Provider func() *server.MCPServer

// inprocHandle serves tools registered on an mcp-go server living in this
// process.
type inprocHandle struct {
	name   string
	cfg    config.ServerConfig
	opts   *options
	logger log.Logger

	mu     sync.Mutex
	client *mcpclient.Client
	ready  bool
}

func newInprocHandle(ctx context.Context, name string, cfg config.ServerConfig, provider Provider, opts *options) (*inprocHandle, error) {
	srv := provider()
	if srv == nil {
		return nil, &config.ConfigError{Server: name, Field: "provider", Msg: fmt.Sprintf("provider %q returned no server", cfg.Provider)}
	}
	c, err := mcpclient.NewInProcessClient(srv)
	if err != nil {
		return nil, fmt.Errorf("in-process client for %s: %w", name, err)
	}
	if err := c.Start(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("starting in-process client for %s: %w", name, err)
	}
	return &inprocHandle{
		name:   name,
		cfg:    cfg,
		opts:   opts,
		logger: opts.logger,
		client: c,
	}, nil
}

func (h *inprocHandle) Name() string        { return h.name }
func (h *inprocHandle) Kind() config.Kind   { return config.KindInProcess }
func (h *inprocHandle) Description() string { return h.cfg.DescriptionOr(h.name + " server") }

func (h *inprocHandle) ensure(ctx context.Context) (*mcpclient.Client, error) {
	if h.client == nil {
		return nil, fmt.Errorf("server %s is closed", h.name)
	}
	if h.ready {
		return h.client, nil
	}
	if _, err := h.client.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    h.opts.clientName,
				Version: h.opts.clientVersion,
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	h.ready = true
	return h.client, nil
}

func (h *inprocHandle) ListTools(ctx context.Context) ([]RawTool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, err := h.ensure(ctx)
	if err != nil {
		return nil, err
	}
	result, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	out := make([]RawTool, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema, err := marshalInputSchema(t)
		if err != nil {
			h.logger.Warnf("server %s: tool %s has an unencodable schema: %v", h.name, t.Name, err)
		}
		out = append(out, RawTool{Name: t.Name, Description: t.Description, Schema: schema})
	}
	return out, nil
}

func (h *inprocHandle) CallTool(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, err := h.ensure(ctx)
	if err != nil {
		return nil, err
	}
	result, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      tool,
			Arguments: args,
		},
	})
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return raw, nil
}

func (h *inprocHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.client == nil {
		return nil
	}
	err := h.client.Close()
	h.client = nil
	h.ready = false
	return err
}

func marshalInputSchema(t mcp.Tool) (json.RawMessage, error) {
	if len(t.RawInputSchema) > 0 {
		return t.RawInputSchema, nil
	}
	return json.Marshal(t.InputSchema)
}
