package mcppool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lydakis/ollamcp/internal/config"
	"github.com/lydakis/ollamcp/internal/httpheaders"
	"github.com/lydakis/ollamcp/internal/log"
	"github.com/tidwall/gjson"
)

// maxBodySize bounds remote response bodies.
const maxBodySize = 4 << 20

// StatusError reports a non-2xx reply from a remote tool server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote tool call failed with status %d", e.Code)
	}
	return fmt.Sprintf("remote tool call failed with status %d: %s", e.Code, e.Message)
}

// remoteHandle reaches a server over plain HTTP: GET {base}/tools and
// POST {base}/execute. It holds no connection between calls.
type remoteHandle struct {
	name    string
	cfg     config.ServerConfig
	base    string
	client  *http.Client
	headers http.Header
	logger  log.Logger
}

func newRemoteHandle(name string, cfg config.ServerConfig, opts *options) *remoteHandle {
	headers := httpheaders.Merge(httpheaders.Defaults(opts.clientName+"/"+opts.clientVersion), cfg.Headers)
	opts.logger.Debugf("server %s: remote %s headers=%v", name, cfg.URL, httpheaders.Redacted(headers))
	return &remoteHandle{
		name:    name,
		cfg:     cfg,
		base:    strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		client:  opts.httpClient,
		headers: headers,
		logger:  opts.logger,
	}
}

func (h *remoteHandle) Name() string        { return h.name }
func (h *remoteHandle) Kind() config.Kind   { return config.KindRemote }
func (h *remoteHandle) Description() string { return h.cfg.DescriptionOr(h.name + " server") }
func (h *remoteHandle) Close() error        { return nil }

func (h *remoteHandle) ListTools(ctx context.Context) ([]RawTool, error) {
	body, err := h.do(ctx, http.MethodGet, "/tools", nil)
	if err != nil {
		return nil, err
	}

	// Servers that publish MCP-shaped listings use inputSchema instead.
	return parseToolList(body, "parameters", "inputSchema")
}

func (h *remoteHandle) CallTool(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	if args == nil {
		args = map[string]any{}
	}
	payload, err := json.Marshal(map[string]any{"tool": tool, "arguments": args})
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}

	body, err := h.do(ctx, http.MethodPost, "/execute", payload)
	if err != nil {
		return nil, err
	}
	result := gjson.GetBytes(body, "result")
	if !result.Exists() {
		return nil, nil
	}
	return json.RawMessage(result.Raw), nil
}

func (h *remoteHandle) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpheaders.Apply(req, h.headers)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" && !gjson.ValidBytes(body) {
			msg = strings.TrimSpace(string(body))
		}
		return nil, &StatusError{Code: resp.StatusCode, Message: msg}
	}
	h.logger.Debugf("server %s: %s %s -> %d", h.name, method, path, resp.StatusCode)
	return body, nil
}
