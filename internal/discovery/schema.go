package discovery

import (
	"encoding/json"
	"strings"

	"github.com/lydakis/ollamcp/internal/mcppool"
	"github.com/tidwall/gjson"
)

const (
	defaultParamType   = "string"
	defaultDescription = "No description"
)

// Normalize namespaces a listed tool as {server}_{name} and extracts its
// parameter table.
func Normalize(server string, rt mcppool.RawTool) mcppool.ToolInfo {
	desc := strings.TrimSpace(rt.Description)
	if desc == "" {
		desc = defaultDescription
	}
	return mcppool.ToolInfo{
		Name:        server + "_" + rt.Name,
		Server:      server,
		LocalName:   rt.Name,
		Description: desc,
		Params:      ParseParams(rt.Schema),
		InputSchema: rt.Schema,
	}
}

// ParseParams builds a parameter table from either a JSON schema object
// (properties plus required) or a flat map of name to {type, required}.
func ParseParams(schema json.RawMessage) map[string]mcppool.Param {
	if len(schema) == 0 || !gjson.ValidBytes(schema) {
		return nil
	}
	doc := gjson.ParseBytes(schema)
	if !doc.IsObject() {
		return nil
	}

	props := doc.Get("properties")
	if !props.Exists() {
		if doc.Get("type").Type == gjson.String {
			return nil
		}
		props = doc
	}
	if !props.IsObject() {
		return nil
	}

	required := map[string]bool{}
	for _, r := range doc.Get("required").Array() {
		if r.Type == gjson.String {
			required[r.String()] = true
		}
	}

	params := map[string]mcppool.Param{}
	props.ForEach(func(key, value gjson.Result) bool {
		if !value.IsObject() {
			return true
		}
		name := key.String()
		params[name] = mcppool.Param{
			Type:        paramType(value.Get("type")),
			Required:    required[name] || value.Get("required").Type == gjson.True,
			Description: value.Get("description").String(),
		}
		return true
	})
	if len(params) == 0 {
		return nil
	}
	return params
}

// paramType reduces a schema type to one name; union types use their
// first non-null member.
func paramType(t gjson.Result) string {
	switch {
	case t.Type == gjson.String && t.String() != "":
		return t.String()
	case t.IsArray():
		for _, member := range t.Array() {
			if s := member.String(); s != "" && s != "null" {
				return s
			}
		}
	}
	return defaultParamType
}
