package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lydakis/ollamcp/internal/config"
	"github.com/lydakis/ollamcp/internal/llm"
	"github.com/lydakis/ollamcp/internal/log"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitToolErr  = 1
	ExitUsageErr = 2
	ExitInternal = 3
)

// Environment overrides applied on top of the config file.
const (
	EnvOllamaHost = "OLLAMA_HOST"
	EnvLogLevel   = "OLLAMCP_LOG_LEVEL"
)

var (
	rootStdin io.Reader = os.Stdin

	// newBackend builds the chat backend for a session.
	newBackend = func(s config.Settings) llm.Backend {
		return llm.NewOllama(s.OllamaURLOr())
	}
)

// Run is the main CLI entry point. Returns an exit code.
func Run(args []string) int {
	if handled, code := handleRootFlags(args); handled {
		return code
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(rootStderr, "ollamcp: %v\n", err)
		return ExitInternal
	}
	applyEnvOverrides(cfg)
	log.SetLevel(cfg.Settings.LogLevel)

	if err := config.ValidateSettings(cfg.Settings); err != nil {
		fmt.Fprintf(rootStderr, "ollamcp: invalid config: %v\n", err)
		return ExitUsageErr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return dispatch(ctx, cfg, args)
}

func dispatch(ctx context.Context, cfg *config.Config, args []string) int {
	cmd, rest := "chat", args
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, rest = args[0], args[1:]
	}

	switch cmd {
	case "chat":
		return runChat(ctx, cfg, rest)
	case "tools":
		return runTools(ctx, cfg, rest)
	case "servers":
		return runServers(ctx, cfg, rest)
	case "call":
		return runCall(ctx, cfg, rest)
	case "serve":
		return runServe(ctx, cfg, rest)
	case "models":
		return runModels(ctx, cfg, rest)
	case "cache":
		return runCache(rest)
	default:
		fmt.Fprintf(rootStderr, "ollamcp: unknown command: %s\n", cmd)
		fmt.Fprintln(rootStderr, "Run 'ollamcp --help' for usage.")
		return ExitUsageErr
	}
}

// applyEnvOverrides lets the environment win over the config file.
func applyEnvOverrides(cfg *config.Config) {
	if host := strings.TrimSpace(os.Getenv(EnvOllamaHost)); host != "" {
		cfg.Settings.OllamaURL = host
	}
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		cfg.Settings.LogLevel = level
	}
	if cfg.Servers == nil {
		cfg.Servers = make(map[string]config.ServerConfig)
	}
}
