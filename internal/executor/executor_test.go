package executor

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lydakis/ollamcp/internal/cache"
	"github.com/lydakis/ollamcp/internal/config"
	"github.com/lydakis/ollamcp/internal/jsonrpc"
	"github.com/lydakis/ollamcp/internal/mcppool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callFunc func(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error)

type stubHandle struct {
	name  string
	call  callFunc
	calls atomic.Int32
}

func (s *stubHandle) Name() string        { return s.name }
func (s *stubHandle) Kind() config.Kind   { return config.KindSubprocess }
func (s *stubHandle) Description() string { return s.name }
func (s *stubHandle) Close() error        { return nil }
func (s *stubHandle) ListTools(context.Context) ([]mcppool.RawTool, error) {
	return nil, nil
}
func (s *stubHandle) CallTool(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	s.calls.Add(1)
	return s.call(ctx, tool, args)
}

type servers map[string]mcppool.Handle

func (s servers) Get(name string) (mcppool.Handle, bool) {
	h, ok := s[name]
	return h, ok
}

type tools map[string]mcppool.ToolInfo

func (t tools) Lookup(name string) (mcppool.ToolInfo, bool) {
	info, ok := t[name]
	return info, ok
}

func returning(raw string, err error) callFunc {
	return func(context.Context, string, map[string]any) (json.RawMessage, error) {
		if err != nil {
			return nil, err
		}
		return json.RawMessage(raw), nil
	}
}

var fooTool = mcppool.ToolInfo{Name: "a_foo", Server: "a", LocalName: "foo"}

func newExecutor(call callFunc, opts ...Option) (*Executor, *stubHandle) {
	h := &stubHandle{name: "a", call: call}
	return New(servers{"a": h}, tools{"a_foo": fooTool}, opts...), h
}

func TestCallUnwrapsResults(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Result
	}{
		{name: "content text", raw: `{"content":[{"type":"text","text":"42"}]}`, want: Result{Tool: "a_foo", Output: "42"}},
		{name: "plain value", raw: `17`, want: Result{Tool: "a_foo", Output: "17"}},
		{name: "plain string", raw: `"hello"`, want: Result{Tool: "a_foo", Output: "hello"}},
		{name: "object", raw: `{"sum":3}`, want: Result{Tool: "a_foo", Output: `{"sum":3}`}},
		{name: "empty content", raw: `{"content":[]}`, want: Result{Tool: "a_foo", Output: "No content in result"}},
		{name: "is error", raw: `{"content":[{"type":"text","text":"bad input"}],"isError":true}`, want: Result{Tool: "a_foo", Err: "bad input"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newExecutor(returning(tt.raw, nil))
			assert.Equal(t, tt.want, e.Call(context.Background(), fooTool, nil))
		})
	}
}

func TestCallSendsLocalName(t *testing.T) {
	var gotTool string
	var gotArgs map[string]any
	e, _ := newExecutor(func(_ context.Context, tool string, args map[string]any) (json.RawMessage, error) {
		gotTool, gotArgs = tool, args
		return json.RawMessage(`"ok"`), nil
	})

	res := e.Invoke(context.Background(), "a_foo", map[string]any{"x": 1.0})
	require.False(t, res.Failed())
	assert.Equal(t, "foo", gotTool)
	assert.Equal(t, map[string]any{"x": 1.0}, gotArgs)
}

func TestCallRPCErrorBecomesFailure(t *testing.T) {
	e, _ := newExecutor(returning("", &jsonrpc.RPCError{Code: -32000, Message: "tool exploded"}))

	res := e.Call(context.Background(), fooTool, nil)
	assert.True(t, res.Failed())
	assert.Equal(t, "Tool error: tool exploded", res.Err)
	assert.Empty(t, res.Output)
}

func TestCallTransportErrorBecomesFailure(t *testing.T) {
	e, _ := newExecutor(returning("", &jsonrpc.TransportError{Op: "receive", Err: errors.New("broken pipe")}))

	res := e.Call(context.Background(), fooTool, nil)
	assert.True(t, res.Failed())
	assert.Contains(t, res.Err, "broken pipe")
}

func TestCallTimeout(t *testing.T) {
	e, _ := newExecutor(func(ctx context.Context, _ string, _ map[string]any) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, WithTimeout(50*time.Millisecond))

	start := time.Now()
	res := e.Call(context.Background(), fooTool, nil)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, "no response within 50ms", res.Err)
}

func TestCallRecoversPanics(t *testing.T) {
	e, _ := newExecutor(func(context.Context, string, map[string]any) (json.RawMessage, error) {
		panic("nil map")
	})

	res := e.Call(context.Background(), fooTool, nil)
	assert.True(t, res.Failed())
	assert.Contains(t, res.Err, "nil map")
}

func TestInvokeUnknownTool(t *testing.T) {
	e, h := newExecutor(returning(`"ok"`, nil))

	res := e.Invoke(context.Background(), "a_missing", nil)
	assert.Equal(t, "a_missing", res.Tool)
	assert.Equal(t, "tool not found: a_missing", res.Err)
	assert.EqualValues(t, 0, h.calls.Load())
}

func TestCallUnknownServer(t *testing.T) {
	e := New(servers{}, nil)
	res := e.Call(context.Background(), fooTool, nil)
	assert.Equal(t, `server "a" not found`, res.Err)

	res = e.Invoke(context.Background(), "a_foo", nil)
	assert.Contains(t, res.Err, ErrToolNotFound.Error())
}

func TestCallCachesSuccessfulResults(t *testing.T) {
	store := cache.New(t.TempDir())
	cfg := map[string]config.ServerConfig{"a": {URL: "http://x", CacheTTL: "1m", NoCacheTools: []string{"live_*"}}}
	h := &stubHandle{name: "a", call: returning(`"fresh"`, nil)}
	e := New(servers{"a": h}, nil, WithCache(store, cfg))

	args := map[string]any{"q": "go"}
	for i := 0; i < 3; i++ {
		res := e.Call(context.Background(), fooTool, args)
		require.Equal(t, "fresh", res.Output)
	}
	assert.EqualValues(t, 1, h.calls.Load())

	live := mcppool.ToolInfo{Name: "a_live_feed", Server: "a", LocalName: "live_feed"}
	e.Call(context.Background(), live, args)
	e.Call(context.Background(), live, args)
	assert.EqualValues(t, 3, h.calls.Load())
}

func TestCallDoesNotCacheFailures(t *testing.T) {
	store := cache.New(t.TempDir())
	cfg := map[string]config.ServerConfig{"a": {URL: "http://x", CacheTTL: "1m"}}
	h := &stubHandle{name: "a", call: returning(`{"content":[{"text":"nope"}],"isError":true}`, nil)}
	e := New(servers{"a": h}, nil, WithCache(store, cfg))

	e.Call(context.Background(), fooTool, nil)
	e.Call(context.Background(), fooTool, nil)
	assert.EqualValues(t, 2, h.calls.Load())
}
