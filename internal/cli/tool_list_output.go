package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/lydakis/ollamcp/internal/mcppool"
)

func writeToolList(w io.Writer, tools []mcppool.ToolInfo, verbose bool) error {
	for _, tool := range tools {
		name := strings.TrimSpace(tool.Name)
		if name == "" {
			continue
		}
		line := name
		if desc := strings.TrimSpace(tool.Description); desc != "" {
			if !verbose {
				desc = firstLine(desc)
			}
			line += "\t" + desc
		}
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return fmt.Errorf("writing tool list output: %w", err)
		}
		if verbose {
			for _, p := range paramLines(tool) {
				if _, err := io.WriteString(w, "\t  "+p+"\n"); err != nil {
					return fmt.Errorf("writing tool list output: %w", err)
				}
			}
		}
	}
	return nil
}

func writeToolHelp(w io.Writer, tool mcppool.ToolInfo) {
	fmt.Fprintf(w, "Usage: ollamcp call %s [JSON | --key=value ...]\n", tool.Name)
	fmt.Fprintf(w, "\nDescription:\n  %s\n", tool.Description)
	fmt.Fprintln(w, "\nParameters:")
	lines := paramLines(tool)
	if len(lines) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, l := range lines {
		fmt.Fprintf(w, "  %s\n", l)
	}
	fmt.Fprintln(w, "\nFlags:")
	fmt.Fprintln(w, "  --no-cache       Bypass the result cache for this call.")
	fmt.Fprintln(w, "  --quiet, -q      Suppress stderr output.")
	fmt.Fprintln(w, "  --help, -h       Show this help output.")
}

func paramLines(tool mcppool.ToolInfo) []string {
	names := make([]string, 0, len(tool.Params))
	for name := range tool.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		p := tool.Params[name]
		line := fmt.Sprintf("--%s <%s>", name, p.Type)
		if p.Required {
			line += " (required)"
		}
		if p.Description != "" {
			line += "  " + p.Description
		}
		lines = append(lines, line)
	}
	return lines
}

func toolNames(tools []mcppool.ToolInfo) []string {
	seen := make(map[string]struct{}, len(tools))
	out := make([]string, 0, len(tools))
	for _, tool := range tools {
		name := strings.TrimSpace(tool.Name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
