package mcppool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lydakis/ollamcp/internal/config"
	"github.com/lydakis/ollamcp/internal/jsonrpc"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	fakeHelperEnv  = "GO_WANT_OLLAMCP_FAKE_SERVER"
	stdioHelperEnv = "GO_WANT_OLLAMCP_STDIO_HELPER"
)

func fakeServer(extraEnv map[string]string) config.ServerConfig {
	env := map[string]string{fakeHelperEnv: "1"}
	for k, v := range extraEnv {
		env[k] = v
	}
	return config.ServerConfig{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestFakeToolServerProcess", "--"},
		Env:     env,
	}
}

func newTestPool(t *testing.T, servers map[string]config.ServerConfig, opts ...Option) *Pool {
	t.Helper()
	opts = append([]Option{WithHandshakeGrace(10 * time.Millisecond), WithTimeout(5 * time.Second)}, opts...)
	p := New(context.Background(), &config.Config{Servers: servers}, opts...)
	t.Cleanup(func() { p.CloseAll() })
	return p
}

func TestStdioHandshakeOrderAndToolList(t *testing.T) {
	p := newTestPool(t, map[string]config.ServerConfig{"fake": fakeServer(nil)})
	h, ok := p.Get("fake")
	require.True(t, ok, "skipped = %#v", p.Skipped())

	ctx := context.Background()
	tools, err := h.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 5)
	assert.Equal(t, "add", tools[0].Name)
	assert.Equal(t, "Adds two integers", tools[0].Description)
	assert.Contains(t, string(tools[0].Schema), `"required":["a"]`)

	raw, err := h.CallTool(ctx, "history", nil)
	require.NoError(t, err)
	assert.Equal(t, "initialize,notifications/initialized,tools/list,tools/call", gotText(t, raw))
}

func TestStdioCallReusesProcess(t *testing.T) {
	p := newTestPool(t, map[string]config.ServerConfig{"fake": fakeServer(nil)})
	h, _ := p.Get("fake")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		raw, err := h.CallTool(ctx, "add", map[string]any{"a": i, "b": 1})
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(i+1), gotText(t, raw))
	}

	raw, err := h.CallTool(ctx, "history", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(gotText(t, raw), "initialize,"), "a persistent handle initializes once")
}

func TestStdioRPCErrorIsReturned(t *testing.T) {
	p := newTestPool(t, map[string]config.ServerConfig{"fake": fakeServer(nil)})
	h, _ := p.Get("fake")

	_, err := h.CallTool(context.Background(), "fail", nil)
	var rpcErr *jsonrpc.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "tool exploded", rpcErr.Message)

	// The handle stays usable after a protocol-level tool error.
	_, err = h.CallTool(context.Background(), "add", map[string]any{"a": 1, "b": 2})
	assert.NoError(t, err)
}

// pidOf reports the current subprocess of a stdio handle, or 0.
func pidOf(t *testing.T, h Handle) int {
	t.Helper()
	sh, ok := h.(*stdioHandle)
	require.True(t, ok)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.proc == nil {
		return 0
	}
	return sh.proc.Pid()
}

func TestStdioTimeoutRespawnsOnNextCall(t *testing.T) {
	p := newTestPool(t, map[string]config.ServerConfig{"fake": fakeServer(nil)}, WithTimeout(300*time.Millisecond))
	h, _ := p.Get("fake")
	ctx := context.Background()
	first := pidOf(t, h)

	_, err := h.CallTool(ctx, "hang", nil)
	var te *jsonrpc.TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Timeout())

	raw, err := h.CallTool(ctx, "add", map[string]any{"a": 2, "b": 3})
	require.NoError(t, err)
	assert.Equal(t, "5", gotText(t, raw))

	second := pidOf(t, h)
	assert.NotZero(t, second)
	assert.NotEqual(t, first, second, "want a new process after the timeout")
}

func TestStdioOutOfStepReplyRespawnsOnNextCall(t *testing.T) {
	p := newTestPool(t, map[string]config.ServerConfig{"fake": fakeServer(nil)})
	h, _ := p.Get("fake")
	ctx := context.Background()
	first := pidOf(t, h)

	_, err := h.CallTool(ctx, "garble", nil)
	var pe *jsonrpc.ProtocolError
	require.ErrorAs(t, err, &pe)

	for i := 0; i < 3; i++ {
		raw, err := h.CallTool(ctx, "add", map[string]any{"a": i, "b": 2})
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(i+2), gotText(t, raw))
	}

	second := pidOf(t, h)
	assert.NotZero(t, second)
	assert.NotEqual(t, first, second, "want a new process after the out-of-step reply")
}

func TestStdioInitializeErrorAbortsDiscovery(t *testing.T) {
	p := newTestPool(t, map[string]config.ServerConfig{
		"fake": fakeServer(map[string]string{"FAKE_REJECT_INIT": "1"}),
	})
	h, _ := p.Get("fake")

	_, err := h.ListTools(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initialize")
}

func TestStdioConcurrentCallsAreSerialized(t *testing.T) {
	p := newTestPool(t, map[string]config.ServerConfig{"fake": fakeServer(nil)})
	h, _ := p.Get("fake")

	const workers = 6
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, err := h.CallTool(context.Background(), "add", map[string]any{"a": i, "b": i})
			if err != nil {
				errs <- err
				return
			}
			if got := string(raw); !strings.Contains(got, fmt.Sprintf(`"text":"%d"`, 2*i)) {
				errs <- fmt.Errorf("add(%d, %d) = %s", i, i, got)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestMCPGoStdioServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := newTestPool(t, map[string]config.ServerConfig{
		"stdio": {
			Command: os.Args[0],
			Args:    []string{"-test.run=TestMCPGoStdioHelperProcess", "--"},
			Env:     map[string]string{stdioHelperEnv: "1"},
		},
	})
	h, ok := p.Get("stdio")
	require.True(t, ok, "skipped = %#v", p.Skipped())

	tools, err := h.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo_tool", tools[0].Name)

	raw, err := h.CallTool(ctx, "echo_tool", map[string]any{"query": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", gotText(t, raw))
}

func TestRemoteListAndExecute(t *testing.T) {
	var (
		mu         sync.Mutex
		seenHeader string
		seenBody   map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/tools":
			fmt.Fprint(w, `{"tools":[{"name":"search","description":"Search the wiki","parameters":{"query":{"type":"string","required":true}}}]}`)
		case r.Method == http.MethodPost && r.URL.Path == "/execute":
			mu.Lock()
			seenHeader = r.Header.Get("X-Api-Key")
			json.NewDecoder(r.Body).Decode(&seenBody) //nolint: errcheck
			mu.Unlock()
			fmt.Fprint(w, `{"result":"Go is a language"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := newTestPool(t, map[string]config.ServerConfig{
		"wiki": {URL: srv.URL + "/", Headers: map[string]string{"X-Api-Key": "k1"}},
	})
	h, _ := p.Get("wiki")
	ctx := context.Background()

	tools, err := h.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "search", tools[0].Name)
	assert.Contains(t, string(tools[0].Schema), `"query"`)

	raw, err := h.CallTool(ctx, "search", map[string]any{"query": "go"})
	require.NoError(t, err)
	assert.Equal(t, `"Go is a language"`, string(raw))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "k1", seenHeader)
	assert.Equal(t, "search", seenBody["tool"])
}

func TestRemoteNon2xxIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":"upstream down"}`)
	}))
	defer srv.Close()

	p := newTestPool(t, map[string]config.ServerConfig{"r": {URL: srv.URL}})
	h, _ := p.Get("r")

	_, err := h.CallTool(context.Background(), "x", nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, "upstream down", se.Message)
}

func TestRemoteUnavailableServerFails(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := newTestPool(t, map[string]config.ServerConfig{"r": {URL: url}})
	h, _ := p.Get("r")
	_, err := h.ListTools(context.Background())
	assert.Error(t, err)
}

func gotText(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(raw, &result), "result %s", raw)
	require.NotEmpty(t, result.Content, "result %s has no content", raw)
	return result.Content[0].Text
}

// TestFakeToolServerProcess is re-executed by the stdio tests as a minimal
// line-oriented tool server that records the methods it receives.
func TestFakeToolServerProcess(t *testing.T) {
	if os.Getenv(fakeHelperEnv) != "1" {
		return
	}

	out := bufio.NewWriter(os.Stdout)
	reply := func(id json.RawMessage, result any, rpcErr map[string]any) {
		msg := map[string]any{"jsonrpc": "2.0", "id": id}
		if rpcErr != nil {
			msg["error"] = rpcErr
		} else {
			msg["result"] = result
		}
		data, _ := json.Marshal(msg)
		out.Write(append(data, '\n')) //nolint: errcheck
		out.Flush()                   //nolint: errcheck
	}
	text := func(s string) map[string]any {
		return map[string]any{"content": []map[string]any{{"type": "text", "text": s}}}
	}

	var seen []string
	initialized := false
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var msg struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			} `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		seen = append(seen, msg.Method)

		switch msg.Method {
		case "initialize":
			if os.Getenv("FAKE_REJECT_INIT") == "1" {
				reply(msg.ID, nil, map[string]any{"code": -32602, "message": "unsupported protocol version"})
				continue
			}
			reply(msg.ID, map[string]any{"protocolVersion": "2024-11-05", "serverInfo": map[string]any{"name": "fake"}}, nil)
		case "notifications/initialized":
			initialized = true
		case "tools/list":
			if !initialized {
				reply(msg.ID, nil, map[string]any{"code": -32002, "message": "not initialized"})
				continue
			}
			reply(msg.ID, map[string]any{"tools": []map[string]any{
				{"name": "add", "description": "Adds two integers", "inputSchema": map[string]any{
					"type":       "object",
					"properties": map[string]any{"a": map[string]any{"type": "integer"}, "b": map[string]any{"type": "integer"}},
					"required":   []string{"a"},
				}},
				{"name": "fail", "description": "Always fails"},
				{"name": "hang", "description": "Never answers"},
				{"name": "garble", "description": "Answers with an id that was never sent"},
				{"name": "history", "description": "Lists received methods"},
			}}, nil)
		case "tools/call":
			switch msg.Params.Name {
			case "add":
				a, _ := msg.Params.Arguments["a"].(float64)
				b, _ := msg.Params.Arguments["b"].(float64)
				reply(msg.ID, text(fmt.Sprint(int(a+b))), nil)
			case "fail":
				reply(msg.ID, nil, map[string]any{"code": -32000, "message": "tool exploded"})
			case "hang":
			case "garble":
				reply(json.RawMessage("9999"), text("lost"), nil)
			case "history":
				reply(msg.ID, text(strings.Join(seen, ",")), nil)
			default:
				reply(msg.ID, nil, map[string]any{"code": -32602, "message": "unknown tool " + msg.Params.Name})
			}
		default:
			if len(msg.ID) > 0 {
				reply(msg.ID, nil, map[string]any{"code": -32601, "message": "method not found"})
			}
		}
	}
	os.Exit(0)
}

func TestMCPGoStdioHelperProcess(t *testing.T) {
	if os.Getenv(stdioHelperEnv) != "1" {
		return
	}

	s := server.NewMCPServer("ollamcp-stdio-helper", "1.0.0")
	s.AddTool(mcp.Tool{
		Name:        "echo_tool",
		Description: "Echoes query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"query": map[string]any{"type": "string"},
			},
			Required: []string{"query"},
		},
	}, func(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(query), nil
	})

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "serve stdio helper: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}
