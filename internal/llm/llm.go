// Package llm defines the chat backend boundary and its Ollama
// implementation.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role      string
	Content   string
	ToolCalls []ToolCall
}

// ToolCall is a structured tool invocation requested by the model.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// Chunk is one element of a streamed reply. The terminal chunk has Done
// set and may carry trailing content.
type Chunk struct {
	Content string
	Done    bool
}

// Backend is a chat model host.
type Backend interface {
	ListModels(ctx context.Context) ([]string, error)
	Chat(ctx context.Context, model string, messages []Message) (Message, error)
	// ChatStream calls fn for every chunk in order. An error returned by fn
	// stops the stream and is returned.
	ChatStream(ctx context.Context, model string, messages []Message, fn func(Chunk) error) error
}
