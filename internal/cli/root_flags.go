package cli

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/lydakis/ollamcp/internal/config"
)

var (
	rootStdout   io.Writer = os.Stdout
	rootStderr   io.Writer = os.Stderr
	buildVersion           = "dev"
)

func init() {
	buildVersion = resolveBuildVersion(buildVersion)
}

func handleRootFlags(args []string) (bool, int) {
	if len(args) != 1 {
		return false, 0
	}

	switch args[0] {
	case "--version", "-V":
		fmt.Fprintf(rootStdout, "ollamcp %s\n", buildVersion)
		return true, 0
	case "--help", "-h", "help":
		printRootHelp(rootStdout)
		return true, 0
	default:
		return false, 0
	}
}

func resolveBuildVersion(defaultVersion string) string {
	if defaultVersion != "" && defaultVersion != "dev" {
		return defaultVersion
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return defaultVersion
	}
	if info.Main.Version == "" || info.Main.Version == "(devel)" {
		return defaultVersion
	}
	return info.Main.Version
}

func printRootHelp(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  ollamcp [chat] [--model NAME] [--no-stream] [--no-tools]")
	fmt.Fprintln(out, "  ollamcp tools [--verbose]")
	fmt.Fprintln(out, "  ollamcp servers")
	fmt.Fprintln(out, "  ollamcp call <tool> [JSON | --key=value ...]")
	fmt.Fprintln(out, "  ollamcp serve [--addr HOST:PORT]")
	fmt.Fprintln(out, "  ollamcp models")
	fmt.Fprintln(out, "  ollamcp cache [clear]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Chat commands:")
	fmt.Fprintln(out, "  quit, exit       Leave the session")
	fmt.Fprintln(out, "  stream           Toggle streaming mode")
	fmt.Fprintln(out, "  tools            Show available tools")
	fmt.Fprintln(out, "  servers          Show configured servers")
	fmt.Fprintln(out, "  reload           Re-run tool discovery")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Global flags:")
	fmt.Fprintln(out, "  --help, -h       Show help")
	fmt.Fprintln(out, "  --version, -V    Show version")
	fmt.Fprintln(out, "")
	fmt.Fprintf(out, "Config: %s (override with $%s)\n", config.Path(), config.EnvConfigPath)
}
