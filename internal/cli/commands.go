package cli

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/lydakis/ollamcp/internal/cache"
	"github.com/lydakis/ollamcp/internal/config"
	"github.com/lydakis/ollamcp/internal/gateway"
)

// DefaultServeAddr is where `ollamcp serve` listens unless --addr is given.
const DefaultServeAddr = "127.0.0.1:8808"

func runTools(ctx context.Context, cfg *config.Config, args []string) int {
	verbose := false
	for _, arg := range args {
		switch arg {
		case "-v", "--verbose":
			verbose = true
		default:
			fmt.Fprintf(rootStderr, "ollamcp: unsupported flag for tool listing: %s\n", arg)
			return ExitUsageErr
		}
	}

	sess := openSession(ctx, cfg, rootStderr, sessionOptions{})
	defer sess.Close()
	if err := writeToolList(rootStdout, sess.catalog.Tools(), verbose); err != nil {
		fmt.Fprintf(rootStderr, "ollamcp: %v\n", err)
		return ExitInternal
	}
	return ExitOK
}

func runServers(ctx context.Context, cfg *config.Config, args []string) int {
	if len(args) > 0 {
		fmt.Fprintf(rootStderr, "ollamcp: unexpected argument: %s\n", args[0])
		return ExitUsageErr
	}
	sess := openSession(ctx, cfg, io.Discard, sessionOptions{})
	defer sess.Close()
	writeServers(rootStdout, sess)
	return ExitOK
}

// writeServers lists every configured server with its status.
func writeServers(out io.Writer, sess *session) {
	if len(sess.cfg.Servers) == 0 {
		fmt.Fprintln(out, "\n❌ No MCP servers configured.")
		fmt.Fprintf(out, "Create a config file at %s\n", config.ExampleConfigPath())
		return
	}

	names := make([]string, 0, len(sess.cfg.Servers))
	for name := range sess.cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(out, "\n📡 Configured MCP Servers:")
	for _, name := range names {
		srv := sess.cfg.Servers[name]
		count := sess.catalog.Count(name)

		status := "⚠️ No tools"
		switch w, failed := sess.warningFor(name); {
		case !srv.IsEnabled():
			status = "⏸️ Disabled"
		case failed:
			status = "❌ Unavailable: " + fmt.Sprint(w.Err)
		case count > 0:
			status = "✅ Active"
		}

		fmt.Fprintf(out, "   • %s (%s) - %s\n", name, serverKind(srv), status)
		fmt.Fprintf(out, "     %s\n", srv.DescriptionOr(name+" server"))
		fmt.Fprintf(out, "     Tools: %d\n", count)
	}
}

func serverKind(srv config.ServerConfig) string {
	kind, err := srv.Kind()
	if err != nil {
		return "invalid"
	}
	return string(kind)
}

func runCall(ctx context.Context, cfg *config.Config, args []string) int {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		fmt.Fprintln(rootStderr, "ollamcp: usage: ollamcp call <tool> [JSON | --key=value ...]")
		return ExitUsageErr
	}
	name := args[0]

	parsed, err := parseToolCallArgs(args[1:], rootStdin, stdinIsTTY(rootStdin))
	if err != nil {
		fmt.Fprintf(rootStderr, "ollamcp: %v\n", err)
		return ExitUsageErr
	}

	warn := rootStderr
	if parsed.quiet {
		warn = io.Discard
	}
	sess := openSession(ctx, cfg, warn, sessionOptions{noCache: parsed.noCache})
	defer sess.Close()

	tool, ok := sess.catalog.Lookup(name)
	if !ok {
		if !parsed.quiet {
			fmt.Fprintf(rootStderr, "ollamcp: unknown tool: %s\n", name)
			if names := toolNames(sess.catalog.Tools()); len(names) > 0 {
				fmt.Fprintf(rootStderr, "Available tools:\n  %s\n", strings.Join(names, "\n  "))
			}
		}
		return ExitUsageErr
	}
	if parsed.help {
		writeToolHelp(rootStdout, tool)
		return ExitOK
	}

	res := sess.exec.Call(ctx, tool, parsed.toolArgs)
	if res.Failed() {
		if !parsed.quiet {
			fmt.Fprintf(rootStderr, "ollamcp: %s\n", res.Err)
		}
		return ExitToolErr
	}
	fmt.Fprintln(rootStdout, res.Output)
	return ExitOK
}

func runServe(ctx context.Context, cfg *config.Config, args []string) int {
	addr := DefaultServeAddr
	noCache := false
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case strings.HasPrefix(arg, "--addr="):
			addr = strings.TrimPrefix(arg, "--addr=")
		case arg == "--addr":
			if i+1 >= len(args) {
				fmt.Fprintln(rootStderr, "ollamcp: missing value for --addr")
				return ExitUsageErr
			}
			i++
			addr = args[i]
		case arg == "--no-cache":
			noCache = true
		default:
			fmt.Fprintf(rootStderr, "ollamcp: unsupported flag for serve: %s\n", arg)
			return ExitUsageErr
		}
	}

	sess := openSession(ctx, cfg, rootStderr, sessionOptions{noCache: noCache})
	defer sess.Close()

	fmt.Fprintf(rootStdout, "Serving %d tools on http://%s\n", sess.catalog.Len(), addr)
	if err := gateway.New(sess.catalog, sess.exec).Serve(ctx, addr); err != nil {
		fmt.Fprintf(rootStderr, "ollamcp: %v\n", err)
		return ExitInternal
	}
	return ExitOK
}

func runModels(ctx context.Context, cfg *config.Config, args []string) int {
	if len(args) > 0 {
		fmt.Fprintf(rootStderr, "ollamcp: unexpected argument: %s\n", args[0])
		return ExitUsageErr
	}
	models, err := newBackend(cfg.Settings).ListModels(ctx)
	if err != nil {
		fmt.Fprintf(rootStderr, "ollamcp: %v\n", err)
		return ExitInternal
	}
	for _, m := range models {
		fmt.Fprintln(rootStdout, m)
	}
	return ExitOK
}

// runCache shows the result cache location, or empties it with "clear".
func runCache(args []string) int {
	store := cache.New("")
	switch {
	case len(args) == 0:
		fmt.Fprintln(rootStdout, store.Dir())
		return ExitOK
	case len(args) == 1 && args[0] == "clear":
		n, err := store.Purge()
		if err != nil {
			fmt.Fprintf(rootStderr, "ollamcp: %v\n", err)
			return ExitInternal
		}
		fmt.Fprintf(rootStdout, "Removed %d cached results\n", n)
		return ExitOK
	default:
		fmt.Fprintln(rootStderr, "ollamcp: usage: ollamcp cache [clear]")
		return ExitUsageErr
	}
}

func stdinIsTTY(r io.Reader) bool {
	file, ok := r.(*os.File)
	if !ok {
		return false
	}
	info, err := file.Stat()
	if err != nil {
		return true
	}
	return info.Mode()&fs.ModeCharDevice != 0
}
