package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/lydakis/ollamcp/internal/config"
	"github.com/lydakis/ollamcp/internal/log"
)

// OllamaHost is the environment variable consulted when no host is given.
const OllamaHost = "OLLAMA_HOST"

var _ Backend = (*Ollama)(nil)

// Ollama talks to an Ollama server through its HTTP API.
type Ollama struct {
	host       string
	httpClient *http.Client
	client     *api.Client
	logger     log.Logger
}

// OllamaOption configures an Ollama backend.
type OllamaOption func(*Ollama)

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) OllamaOption {
	return func(o *Ollama) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// NewOllama returns a backend for host. An empty host falls back to
// $OLLAMA_HOST and then to the local default.
func NewOllama(host string, opts ...OllamaOption) *Ollama {
	o := &Ollama{
		httpClient: http.DefaultClient,
		logger:     log.Named("llm.ollama"),
	}
	for _, opt := range opts {
		opt(o)
	}

	if strings.TrimSpace(host) == "" {
		host = os.Getenv(OllamaHost)
	}
	if strings.TrimSpace(host) == "" {
		host = config.DefaultOllamaURL
	}
	base := ParseHost(host)
	o.host = base.String()
	o.client = api.NewClient(base, o.httpClient)
	return o
}

// Host returns the normalized base URL.
func (o *Ollama) Host() string { return o.host }

// ParseHost normalizes an Ollama host value such as "localhost",
// "0.0.0.0:11434" or "https://example.com/ollama" into a base URL.
func ParseHost(raw string) *url.URL {
	defaultPort := "11434"

	s := strings.TrimSpace(raw)
	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
		defaultPort = "80"
	case scheme == "https":
		defaultPort = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = "127.0.0.1", defaultPort
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	}
	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		port = defaultPort
	}

	u := &url.URL{Scheme: scheme, Host: net.JoinHostPort(host, port)}
	if path = strings.Trim(path, "/"); path != "" {
		u.Path = "/" + path
	}
	return u
}

// ListModels returns the names of locally available models.
func (o *Ollama) ListModels(ctx context.Context) ([]string, error) {
	resp, err := o.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		names = append(names, name)
	}
	return names, nil
}

// Chat sends messages and waits for the complete reply.
func (o *Ollama) Chat(ctx context.Context, model string, messages []Message) (Message, error) {
	stream := false
	req := &api.ChatRequest{
		Model:    model,
		Messages: toAPIMessages(messages),
		Stream:   &stream,
	}

	var (
		reply Message
		got   bool
	)
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		reply.Role = resp.Message.Role
		reply.Content += resp.Message.Content
		for _, tc := range resp.Message.ToolCalls {
			call, err := fromAPIToolCall(tc)
			if err != nil {
				return err
			}
			reply.ToolCalls = append(reply.ToolCalls, call)
		}
		got = true
		return nil
	})
	if err != nil {
		return Message{}, fmt.Errorf("chat with %s: %w", model, err)
	}
	if !got {
		return Message{}, fmt.Errorf("chat with %s: empty response", model)
	}
	if reply.Role == "" {
		reply.Role = RoleAssistant
	}
	o.logger.Debugf("chat %s: %d chars, %d tool calls", model, len(reply.Content), len(reply.ToolCalls))
	return reply, nil
}

// ChatStream streams the reply chunk by chunk.
func (o *Ollama) ChatStream(ctx context.Context, model string, messages []Message, fn func(Chunk) error) error {
	stream := true
	req := &api.ChatRequest{
		Model:    model,
		Messages: toAPIMessages(messages),
		Stream:   &stream,
	}
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		return fn(Chunk{Content: resp.Message.Content, Done: resp.Done})
	})
	if err != nil {
		return fmt.Errorf("stream chat with %s: %w", model, err)
	}
	return nil
}

func toAPIMessages(messages []Message) []api.Message {
	out := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, api.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// fromAPIToolCall copies the call arguments through JSON so the result is a
// plain map whatever representation the API uses.
func fromAPIToolCall(tc api.ToolCall) (ToolCall, error) {
	call := ToolCall{Name: tc.Function.Name, Arguments: map[string]any{}}
	data, err := json.Marshal(tc.Function.Arguments)
	if err != nil {
		return ToolCall{}, fmt.Errorf("tool call %s: encode arguments: %w", tc.Function.Name, err)
	}
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &call.Arguments); err != nil {
			return ToolCall{}, fmt.Errorf("tool call %s: decode arguments: %w", tc.Function.Name, err)
		}
	}
	return call, nil
}
