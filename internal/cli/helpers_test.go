package cli

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/lydakis/ollamcp/internal/builtin"
	"github.com/lydakis/ollamcp/internal/config"
	"github.com/lydakis/ollamcp/internal/llm"
)

// captureIO swaps the CLI streams for buffers and restores them on cleanup.
func captureIO(t *testing.T, stdin string) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	oldIn, oldOut, oldErr := rootStdin, rootStdout, rootStderr
	t.Cleanup(func() {
		rootStdin, rootStdout, rootStderr = oldIn, oldOut, oldErr
	})

	var out, errOut bytes.Buffer
	rootStdin = strings.NewReader(stdin)
	rootStdout = &out
	rootStderr = &errOut
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	return &out, &errOut
}

func useBackend(t *testing.T, b llm.Backend) {
	t.Helper()
	old := newBackend
	t.Cleanup(func() { newBackend = old })
	newBackend = func(config.Settings) llm.Backend { return b }
}

func calcConfig() *config.Config {
	return &config.Config{Servers: map[string]config.ServerConfig{
		"calc": {Type: "inprocess", Provider: builtin.Name, Description: "Calculator"},
	}}
}

type scriptedBackend struct {
	mu       sync.Mutex
	models   []string
	reply    string
	chunks   []llm.Chunk
	chats    int
	lastUser string
	streamed [][]llm.Message
}

func (b *scriptedBackend) ListModels(context.Context) ([]string, error) {
	return b.models, nil
}

func (b *scriptedBackend) Chat(_ context.Context, _ string, msgs []llm.Message) (llm.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chats++
	b.lastUser = msgs[len(msgs)-1].Content
	return llm.Message{Role: llm.RoleAssistant, Content: b.reply}, nil
}

func (b *scriptedBackend) ChatStream(_ context.Context, _ string, msgs []llm.Message, fn func(llm.Chunk) error) error {
	b.mu.Lock()
	b.streamed = append(b.streamed, msgs)
	b.mu.Unlock()
	if len(b.chunks) == 0 {
		return fn(llm.Chunk{Done: true})
	}
	for _, c := range b.chunks {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newScanner(input string) *bufio.Scanner {
	return bufio.NewScanner(strings.NewReader(input))
}
