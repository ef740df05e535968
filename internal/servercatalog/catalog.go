// Package servercatalog aggregates discovered tools into a lookup table
// and renders the capability description advertised to the model.
package servercatalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lydakis/ollamcp/internal/log"
	"github.com/lydakis/ollamcp/internal/mcppool"
	"github.com/tidwall/gjson"
)

// Empty is the description of a catalog without tools.
const Empty = "No MCP tools available."

// Usage is the closing instruction of every non-empty description.
const Usage = `To use a tool, include: [TOOL:tool_name:{"param":"value"}]`

// Describer returns the human description of a server.
type Describer interface {
	Describe(server string) string
}

// Catalog is an immutable set of tools keyed by namespaced name. Rebuild
// it by running discovery again.
type Catalog struct {
	tools    []mcppool.ToolInfo
	byName   map[string]int
	byServer map[string][]int
	servers  []string
	describe Describer
}

// New indexes tools. When two tools share a namespaced name the first one
// is kept and the duplicate is logged.
func New(tools []mcppool.ToolInfo, describer Describer) *Catalog {
	logger := log.Named("catalog")
	c := &Catalog{
		byName:   make(map[string]int, len(tools)),
		byServer: make(map[string][]int),
		describe: describer,
	}
	for _, t := range tools {
		if _, dup := c.byName[t.Name]; dup {
			logger.Warnf("duplicate tool %s from server %s ignored; keeping the first definition", t.Name, t.Server)
			continue
		}
		idx := len(c.tools)
		c.tools = append(c.tools, t)
		c.byName[t.Name] = idx
		if _, seen := c.byServer[t.Server]; !seen {
			c.servers = append(c.servers, t.Server)
		}
		c.byServer[t.Server] = append(c.byServer[t.Server], idx)
	}
	sort.Strings(c.servers)
	return c
}

// Lookup finds a tool by namespaced name.
func (c *Catalog) Lookup(name string) (mcppool.ToolInfo, bool) {
	if c == nil {
		return mcppool.ToolInfo{}, false
	}
	idx, ok := c.byName[name]
	if !ok {
		return mcppool.ToolInfo{}, false
	}
	return c.tools[idx], true
}

// Len returns the number of tools.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.tools)
}

// Tools returns every tool sorted by namespaced name.
func (c *Catalog) Tools() []mcppool.ToolInfo {
	if c == nil {
		return nil
	}
	out := append([]mcppool.ToolInfo(nil), c.tools...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Servers returns the servers that contributed tools, sorted.
func (c *Catalog) Servers() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.servers...)
}

// Count returns how many tools a server contributed.
func (c *Catalog) Count(server string) int {
	if c == nil {
		return 0
	}
	return len(c.byServer[server])
}

// Describe renders the catalog for the system prompt, grouped by server.
func (c *Catalog) Describe() string {
	if c.Len() == 0 {
		return Empty
	}

	var b strings.Builder
	b.WriteString("You have access to these MCP tools:\n\n")
	for _, server := range c.servers {
		fmt.Fprintf(&b, "📡 %s:\n", c.serverDescription(server))
		for _, i := range c.byServer[server] {
			t := c.tools[i]
			fmt.Fprintf(&b, "  - %s: %s\n", t.Name, t.Description)
			if params := formatParams(t); params != "" {
				fmt.Fprintf(&b, "    Parameters: %s\n", params)
			}
		}
	}
	b.WriteString("\n")
	b.WriteString(Usage)
	return b.String()
}

func (c *Catalog) serverDescription(server string) string {
	if c.describe != nil {
		if d := strings.TrimSpace(c.describe.Describe(server)); d != "" {
			return d
		}
	}
	return server + " server"
}

func formatParams(t mcppool.ToolInfo) string {
	if len(t.Params) == 0 {
		return ""
	}
	parts := make([]string, 0, len(t.Params))
	for _, name := range paramOrder(t) {
		p := t.Params[name]
		part := fmt.Sprintf("%s (%s)", name, p.Type)
		if p.Required {
			part += " (required)"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}

// paramOrder lists parameter names in the order the schema declares them.
// Names the schema does not reveal follow in sorted order.
func paramOrder(t mcppool.ToolInfo) []string {
	order := make([]string, 0, len(t.Params))
	seen := make(map[string]bool, len(t.Params))

	if gjson.ValidBytes(t.InputSchema) {
		props := gjson.GetBytes(t.InputSchema, "properties")
		if !props.Exists() {
			props = gjson.ParseBytes(t.InputSchema)
		}
		if props.IsObject() {
			props.ForEach(func(key, _ gjson.Result) bool {
				name := key.String()
				if _, ok := t.Params[name]; ok && !seen[name] {
					order = append(order, name)
					seen[name] = true
				}
				return true
			})
		}
	}

	var rest []string
	for name := range t.Params {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}
