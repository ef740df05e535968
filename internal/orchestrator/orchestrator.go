// Package orchestrator runs chat turns against a backend, advertising the
// tool catalog in the system prompt and executing the tool calls the model
// asks for.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lydakis/ollamcp/internal/executor"
	"github.com/lydakis/ollamcp/internal/llm"
	"github.com/lydakis/ollamcp/internal/log"
)

// ollamaToolPrefix is prepended by some models to structured call names.
const ollamaToolPrefix = "tool."

// State is the streaming state of an Orchestrator.
type State int32

const (
	Idle State = iota
	AwaitingBackend
	StreamingContent
	FallbackNonStreaming
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingBackend:
		return "awaiting-backend"
	case StreamingContent:
		return "streaming-content"
	case FallbackNonStreaming:
		return "fallback-non-streaming"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Call is a tool invocation requested by the model.
type Call struct {
	Name      string
	Arguments map[string]any
}

// Describer renders the tool catalog for the system prompt.
type Describer interface {
	Describe() string
}

// Invoker executes a tool by namespaced name.
type Invoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) executor.Result
}

// Orchestrator mediates between a chat backend and the tool executor.
type Orchestrator struct {
	backend      llm.Backend
	exec         Invoker
	systemPrompt string
	logger       log.Logger

	mu      sync.RWMutex
	catalog Describer

	state atomic.Int32
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSystemPrompt sets the base system prompt the catalog description is
// appended to.
func WithSystemPrompt(prompt string) Option {
	return func(o *Orchestrator) { o.systemPrompt = prompt }
}

// WithLogger overrides the component logger.
func WithLogger(l log.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New returns an Orchestrator. catalog may be nil when no tools are
// available.
func New(backend llm.Backend, catalog Describer, exec Invoker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend: backend,
		exec:    exec,
		catalog: catalog,
		logger:  log.Named("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetCatalog replaces the advertised catalog, typically after rediscovery.
func (o *Orchestrator) SetCatalog(catalog Describer) {
	o.mu.Lock()
	o.catalog = catalog
	o.mu.Unlock()
}

// State reports the current streaming state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	prev := State(o.state.Swap(int32(s)))
	if prev != s {
		o.logger.Debugf("state %s -> %s", prev, s)
	}
}

// SystemPrompt returns the base prompt followed by the catalog description.
func (o *Orchestrator) SystemPrompt() string {
	o.mu.RLock()
	catalog := o.catalog
	o.mu.RUnlock()

	prompt := o.systemPrompt
	if catalog != nil {
		prompt = prompt + "\n\n" + catalog.Describe()
	}
	return strings.TrimSpace(prompt)
}

func (o *Orchestrator) withSystemPrompt(messages []llm.Message) []llm.Message {
	prompt := o.SystemPrompt()
	if prompt == "" {
		return messages
	}
	out := make([]llm.Message, 0, len(messages)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: prompt})
	return append(out, messages...)
}

// Chat runs one non-streaming turn and returns the text to show. Structured
// tool calls replace the model text with their results; otherwise inline
// markers are substituted in place. Only a backend failure is returned as
// an error.
func (o *Orchestrator) Chat(ctx context.Context, model string, messages []llm.Message) (string, error) {
	reply, err := o.backend.Chat(ctx, model, o.withSystemPrompt(messages))
	if err != nil {
		return "", err
	}

	if len(reply.ToolCalls) > 0 {
		calls := make([]Call, 0, len(reply.ToolCalls))
		for _, tc := range reply.ToolCalls {
			calls = append(calls, Call{
				Name:      strings.TrimPrefix(tc.Name, ollamaToolPrefix),
				Arguments: tc.Arguments,
			})
		}
		return o.Execute(ctx, calls), nil
	}
	return o.Substitute(ctx, reply.Content), nil
}

// Execute runs calls in order and renders one line per result.
func (o *Orchestrator) Execute(ctx context.Context, calls []Call) string {
	lines := make([]string, 0, len(calls))
	for _, call := range calls {
		o.logger.Infof("executing %s", call.Name)
		res := o.invoke(ctx, call)
		if res.Failed() {
			lines = append(lines, "❌ Error: "+res.Err)
			continue
		}
		lines = append(lines, fmt.Sprintf("🔧 %s: %s", call.Name, res.Output))
	}
	return strings.Join(lines, "\n")
}

// Substitute replaces every inline marker in text with its tool result.
// A marker whose arguments do not parse is replaced with an error and the
// remaining markers are still processed.
func (o *Orchestrator) Substitute(ctx context.Context, text string) string {
	if !hasMarker(text) {
		return text
	}
	markers := FindMarkers(text)
	if len(markers) == 0 {
		return text
	}

	var b strings.Builder
	last := 0
	for _, m := range markers {
		b.WriteString(text[last:m.Start])
		b.WriteString(o.replacement(ctx, m))
		last = m.End
	}
	b.WriteString(text[last:])
	return b.String()
}

func (o *Orchestrator) replacement(ctx context.Context, m Marker) string {
	name := m.Call.Name
	if m.Err != nil {
		o.logger.Warnf("marker for %s: %v", name, m.Err)
		return fmt.Sprintf("❌ Error calling %s: %v", name, m.Err)
	}
	res := o.invoke(ctx, m.Call)
	if res.Failed() {
		return fmt.Sprintf("❌ Error calling %s: %s", name, res.Err)
	}
	return fmt.Sprintf("🔧 %s: %s", name, res.Output)
}

func (o *Orchestrator) invoke(ctx context.Context, call Call) executor.Result {
	if o.exec == nil {
		return executor.Result{Tool: call.Name, Err: "no tools available"}
	}
	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return o.exec.Invoke(ctx, call.Name, args)
}

// ChatStream runs one streaming turn, passing chunks to emit as they
// arrive. When the backend streams no content before its terminal chunk,
// or the stream fails, the turn is re-run once through Chat and its text
// is emitted as a single chunk before the terminal chunk. ChatStream
// always ends with exactly one chunk that has Done set.
func (o *Orchestrator) ChatStream(ctx context.Context, model string, messages []llm.Message, emit func(llm.Chunk)) {
	o.setState(AwaitingBackend)
	defer o.setState(Idle)

	o.mu.RLock()
	tools := o.catalog != nil
	o.mu.RUnlock()
	if !tools {
		o.streamPlain(ctx, model, messages, emit)
		return
	}

	var (
		sawContent bool
		terminal   *llm.Chunk
	)
	err := o.backend.ChatStream(ctx, model, o.withSystemPrompt(messages), func(c llm.Chunk) error {
		if terminal != nil {
			return nil
		}
		if c.Done {
			terminal = &c
			return nil
		}
		if c.Content == "" {
			return nil
		}
		if !sawContent {
			sawContent = true
			o.setState(StreamingContent)
		}
		emit(c)
		return nil
	})

	switch {
	case err != nil:
		o.logger.Warnf("stream failed, retrying without streaming: %v", err)
	case !sawContent:
		o.logger.Debugf("stream produced no content, retrying without streaming")
	default:
		if terminal == nil {
			terminal = &llm.Chunk{}
		}
		terminal.Done = true
		emit(*terminal)
		return
	}

	o.setState(FallbackNonStreaming)
	text, ferr := o.Chat(ctx, model, messages)
	if ferr != nil {
		text = "❌ Error: " + ferr.Error()
	}
	if text != "" {
		emit(llm.Chunk{Content: text})
	}
	emit(llm.Chunk{Done: true})
}

// streamPlain relays the backend stream as is. Without tools there is
// nothing to fall back for, so a failure is reported as text.
func (o *Orchestrator) streamPlain(ctx context.Context, model string, messages []llm.Message, emit func(llm.Chunk)) {
	done := false
	err := o.backend.ChatStream(ctx, model, o.withSystemPrompt(messages), func(c llm.Chunk) error {
		if done {
			return nil
		}
		if c.Done {
			done = true
			emit(c)
			return nil
		}
		if c.Content != "" {
			o.setState(StreamingContent)
			emit(c)
		}
		return nil
	})
	if err != nil {
		o.logger.Warnf("stream failed: %v", err)
		emit(llm.Chunk{Content: "❌ Error: " + err.Error()})
	}
	if !done {
		emit(llm.Chunk{Done: true})
	}
}
