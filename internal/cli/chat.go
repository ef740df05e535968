package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lydakis/ollamcp/internal/config"
	"github.com/lydakis/ollamcp/internal/llm"
	"github.com/lydakis/ollamcp/internal/orchestrator"
)

// maxListedModels bounds the model menu.
const maxListedModels = 5

type chatArgs struct {
	model    string
	noStream bool
	noTools  bool
	noCache  bool
}

func parseChatArgs(args []string) (chatArgs, error) {
	var parsed chatArgs
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--no-stream":
			parsed.noStream = true
		case arg == "--no-tools":
			parsed.noTools = true
		case arg == "--no-cache":
			parsed.noCache = true
		case strings.HasPrefix(arg, "--model="):
			parsed.model = strings.TrimPrefix(arg, "--model=")
		case arg == "--model" || arg == "-m":
			if i+1 >= len(args) {
				return chatArgs{}, fmt.Errorf("missing value for %s", arg)
			}
			i++
			parsed.model = args[i]
		default:
			return chatArgs{}, fmt.Errorf("unsupported flag for chat: %s", arg)
		}
	}
	return parsed, nil
}

// chatSession is the interactive loop over one orchestrator.
type chatSession struct {
	in        *bufio.Scanner
	out       io.Writer
	sess      *session
	orch      *orchestrator.Orchestrator
	model     string
	streaming bool
	noTools   bool
}

func runChat(ctx context.Context, cfg *config.Config, args []string) int {
	parsed, err := parseChatArgs(args)
	if err != nil {
		fmt.Fprintf(rootStderr, "ollamcp: %v\n", err)
		return ExitUsageErr
	}

	in := bufio.NewScanner(rootStdin)
	in.Buffer(make([]byte, 0, 64*1024), 1<<20)
	backend := newBackend(cfg.Settings)

	fmt.Fprintln(rootStdout, "🔧 Loading MCP tools from configuration...")
	sess := openSession(ctx, cfg, rootStderr, sessionOptions{noCache: parsed.noCache, noTools: parsed.noTools})
	defer sess.Close()
	printLoadSummary(rootStdout, sess)

	model := parsed.model
	if model == "" {
		model, err = selectModel(ctx, in, rootStdout, backend, cfg.Settings)
		if err != nil {
			fmt.Fprintf(rootStderr, "ollamcp: %v\n", err)
			return ExitInternal
		}
	}

	c := &chatSession{
		in:   in,
		out:  rootStdout,
		sess: sess,
		model:     model,
		streaming: cfg.Settings.StreamingEnabled() && !parsed.noStream,
		noTools:   parsed.noTools,
	}
	c.orch = orchestrator.New(backend, c.toolCatalog(), sess.exec,
		orchestrator.WithSystemPrompt(cfg.Settings.SystemPrompt))
	return c.loop(ctx)
}

// toolCatalog is what the model is told about; nil when tools are off so
// turns run as plain chat.
func (c *chatSession) toolCatalog() orchestrator.Describer {
	if c.noTools {
		return nil
	}
	return c.sess.catalog
}

func printLoadSummary(out io.Writer, sess *session) {
	if sess.catalog.Len() == 0 {
		fmt.Fprintln(out, "⚠️  No MCP tools available. Continuing without tools.")
		return
	}
	servers := sess.catalog.Servers()
	fmt.Fprintf(out, "✅ Loaded MCP tools! Found %d tools from %d servers:\n", sess.catalog.Len(), len(servers))
	for _, name := range servers {
		fmt.Fprintf(out, "   📡 %s (%s): %d tools - %s\n", name, serverKind(sess.cfg.Servers[name]), sess.catalog.Count(name), sess.pool.Describe(name))
	}
}

// selectModel lists the backend's models and reads a choice: empty input
// picks the default, a number picks from the menu, anything else is taken
// as a model name.
func selectModel(ctx context.Context, in *bufio.Scanner, out io.Writer, backend llm.Backend, settings config.Settings) (string, error) {
	fmt.Fprintln(out, "\n📋 Available models:")
	models, err := backend.ListModels(ctx)
	if err != nil || len(models) == 0 {
		fmt.Fprintln(out, "   ❌ No models found. Make sure Ollama is running.")
		if err != nil {
			return "", fmt.Errorf("listing models: %w", err)
		}
		return "", fmt.Errorf("no models available")
	}

	for i, m := range models {
		if i == maxListedModels {
			fmt.Fprintf(out, "   ... and %d more\n", len(models)-maxListedModels)
			break
		}
		fmt.Fprintf(out, "   %d. %s\n", i+1, m)
	}

	def := models[0]
	if want := strings.TrimSpace(settings.DefaultModel); want != "" {
		for _, m := range models {
			if m == want || strings.TrimSuffix(m, ":latest") == want {
				def = m
				break
			}
		}
	}

	fmt.Fprintf(out, "\n🤖 Choose model (default: %s): ", def)
	if !in.Scan() {
		return def, nil
	}
	choice := strings.TrimSpace(in.Text())
	if choice == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(choice); err == nil && n >= 1 && n <= len(models) {
		return models[n-1], nil
	}
	return choice, nil
}

func (c *chatSession) loop(ctx context.Context) int {
	c.printBanner()
	for {
		if ctx.Err() != nil {
			fmt.Fprintln(c.out, "\n\n👋 Goodbye!")
			return ExitOK
		}
		fmt.Fprint(c.out, "\n👤 You: ")
		if !c.in.Scan() {
			fmt.Fprintln(c.out, "\n\n👋 Goodbye!")
			if err := c.in.Err(); err != nil {
				fmt.Fprintf(rootStderr, "ollamcp: reading input: %v\n", err)
				return ExitInternal
			}
			return ExitOK
		}

		input := strings.TrimSpace(c.in.Text())
		if input == "" {
			continue
		}
		switch strings.ToLower(input) {
		case "quit", "exit":
			fmt.Fprintln(c.out, "\n👋 Goodbye!")
			return ExitOK
		case "stream":
			c.streaming = !c.streaming
			fmt.Fprintf(c.out, "🔄 Streaming mode: %s\n", onOff(c.streaming))
		case "tools":
			c.showTools()
		case "servers":
			writeServers(c.out, c.sess)
		case "reload":
			c.sess.discover(ctx, rootStderr)
			c.orch.SetCatalog(c.toolCatalog())
			fmt.Fprintf(c.out, "🔄 Reloaded %d tools.\n", c.sess.catalog.Len())
		default:
			c.turn(ctx, input)
		}
	}
}

func (c *chatSession) printBanner() {
	fmt.Fprintf(c.out, "\n🎯 Using model: %s\n", c.model)
	fmt.Fprintln(c.out, "\n💬 Chat started! Your model has access to MCP tools.")
	fmt.Fprintln(c.out, "   Type 'quit', 'exit', or press Ctrl+C to exit.")
	fmt.Fprintln(c.out, "   Type 'stream' to toggle streaming mode.")
	fmt.Fprintln(c.out, "   Type 'tools' to see available tools.")
	fmt.Fprintln(c.out, "   Type 'servers' to see configured servers.")
	fmt.Fprintln(c.out, strings.Repeat("-", 60))
}

func (c *chatSession) showTools() {
	if c.sess.catalog.Len() == 0 {
		fmt.Fprintln(c.out, "\n❌ No MCP tools available.")
		return
	}
	fmt.Fprintln(c.out, "\n🔧 Available MCP Tools:")
	fmt.Fprintln(c.out, c.sess.catalog.Describe())
}

func (c *chatSession) turn(ctx context.Context, input string) {
	messages := []llm.Message{{Role: llm.RoleUser, Content: input}}
	fmt.Fprint(c.out, "🤖 Assistant: ")

	if c.streaming {
		c.orch.ChatStream(ctx, c.model, messages, func(chunk llm.Chunk) {
			if chunk.Content != "" {
				fmt.Fprint(c.out, chunk.Content)
			}
		})
		fmt.Fprintln(c.out)
		return
	}

	text, err := c.orch.Chat(ctx, c.model, messages)
	switch {
	case err != nil:
		fmt.Fprintf(c.out, "❌ Error getting response: %v\n", err)
	case strings.TrimSpace(text) == "":
		fmt.Fprintln(c.out, "❌ No response received.")
	default:
		fmt.Fprintln(c.out, text)
	}
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}
