package cli

import (
	"context"
	"strings"
	"testing"

	"github.com/lydakis/ollamcp/internal/config"
	"github.com/lydakis/ollamcp/internal/llm"
)

func TestChatSessionRunsToolsInBothModes(t *testing.T) {
	out, errOut := captureIO(t, "\ntools\nadd two and three\nstream\nagain\nquit\n")
	backend := &scriptedBackend{
		models: []string{"llama3.2:latest", "qwen2.5:7b"},
		reply:  `Sum: [TOOL:calc_add:{"a":2,"b":3}]`,
	}
	useBackend(t, backend)

	code := runChat(context.Background(), calcConfig(), nil)
	if code != ExitOK {
		t.Fatalf("code = %d, want 0 (stderr %q)", code, errOut.String())
	}

	got := out.String()
	for _, want := range []string{
		"✅ Loaded MCP tools! Found 1 tools from 1 servers:",
		"📡 calc (inprocess): 1 tools - Calculator",
		"🎯 Using model: llama3.2:latest",
		"🔧 Available MCP Tools:",
		"📡 Calculator:",
		"🔄 Streaming mode: OFF",
		"👋 Goodbye!",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	if n := strings.Count(got, "🤖 Assistant: Sum: 🔧 calc_add: 5"); n != 2 {
		t.Fatalf("tool result rendered %d times, want 2:\n%s", n, got)
	}
	if backend.chats != 2 {
		t.Fatalf("non-streaming calls = %d, want 2 (one fallback, one direct)", backend.chats)
	}
	if backend.lastUser != "again" {
		t.Fatalf("last user message = %q, want again", backend.lastUser)
	}
}

func TestChatSessionStreamsContent(t *testing.T) {
	out, _ := captureIO(t, "hello\nexit\n")
	backend := &scriptedBackend{
		chunks: []llm.Chunk{{Content: "Hi"}, {Content: " there"}, {Done: true}},
	}
	useBackend(t, backend)

	code := runChat(context.Background(), &config.Config{}, []string{"--model", "m"})
	if code != ExitOK {
		t.Fatalf("code = %d, want 0", code)
	}
	if !strings.Contains(out.String(), "🤖 Assistant: Hi there\n") {
		t.Fatalf("output = %q", out.String())
	}
	if !strings.Contains(out.String(), "No MCP tools available. Continuing without tools.") {
		t.Fatalf("output missing empty catalog notice: %q", out.String())
	}
	if backend.chats != 0 {
		t.Fatalf("non-streaming calls = %d, want 0", backend.chats)
	}
}

func TestChatSessionNoTools(t *testing.T) {
	out, _ := captureIO(t, "tools\nquit\n")
	useBackend(t, &scriptedBackend{})

	code := runChat(context.Background(), calcConfig(), []string{"--model=m", "--no-tools"})
	if code != ExitOK {
		t.Fatalf("code = %d, want 0", code)
	}
	if !strings.Contains(out.String(), "❌ No MCP tools available.") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestChatSessionNoToolsStreamsPlainly(t *testing.T) {
	out, _ := captureIO(t, "hello\nquit\n")
	backend := &scriptedBackend{
		reply:  "fallback must not run",
		chunks: []llm.Chunk{{Content: "plain answer"}, {Done: true}},
	}
	useBackend(t, backend)

	code := runChat(context.Background(), calcConfig(), []string{"--model=m", "--no-tools"})
	if code != ExitOK {
		t.Fatalf("code = %d, want 0", code)
	}
	if !strings.Contains(out.String(), "🤖 Assistant: plain answer\n") {
		t.Fatalf("output = %q", out.String())
	}
	if backend.chats != 0 {
		t.Fatalf("chats = %d, want 0 without tools", backend.chats)
	}
	if len(backend.streamed) != 1 {
		t.Fatalf("streams = %d, want 1", len(backend.streamed))
	}
	for _, m := range backend.streamed[0] {
		if m.Role == llm.RoleSystem {
			t.Fatalf("system prompt sent without tools: %q", m.Content)
		}
	}
}

func TestSelectModel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		settings config.Settings
		want     string
	}{
		{name: "default first", input: "\n", want: "a:latest"},
		{name: "configured default", input: "\n", settings: config.Settings{DefaultModel: "c"}, want: "c:latest"},
		{name: "by number", input: "2\n", want: "b:7b"},
		{name: "by name", input: "custom\n", want: "custom"},
		{name: "out of range number", input: "9\n", want: "9"},
		{name: "eof", input: "", want: "a:latest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _ := captureIO(t, tt.input)
			backend := &scriptedBackend{models: []string{"a:latest", "b:7b", "c:latest"}}

			c := newScanner(tt.input)
			got, err := selectModel(context.Background(), c, out, backend, tt.settings)
			if err != nil {
				t.Fatalf("selectModel() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("selectModel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSelectModelTruncatesMenu(t *testing.T) {
	out, _ := captureIO(t, "")
	backend := &scriptedBackend{models: []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7"}}

	if _, err := selectModel(context.Background(), newScanner("\n"), out, backend, config.Settings{}); err != nil {
		t.Fatalf("selectModel() error = %v", err)
	}
	if !strings.Contains(out.String(), "... and 2 more") {
		t.Fatalf("output = %q", out.String())
	}
	if strings.Contains(out.String(), "6. m6") {
		t.Fatalf("menu lists more than 5 models: %q", out.String())
	}
}

func TestChatWithoutModelsFails(t *testing.T) {
	out, _ := captureIO(t, "")
	useBackend(t, &scriptedBackend{})

	if code := runChat(context.Background(), &config.Config{}, nil); code != ExitInternal {
		t.Fatalf("code = %d, want %d", code, ExitInternal)
	}
	if !strings.Contains(out.String(), "No models found. Make sure Ollama is running.") {
		t.Fatalf("output = %q", out.String())
	}
}
