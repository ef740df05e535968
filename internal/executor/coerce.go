package executor

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/lydakis/ollamcp/internal/mcppool"
)

// Coerce converts string-encoded argument values to the types their
// parameters declare. Models often quote numbers and booleans. Values that
// do not convert cleanly, and arguments without a declared parameter, are
// passed through unchanged for the server to judge.
func Coerce(args map[string]any, params map[string]mcppool.Param) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	if len(params) == 0 {
		return args
	}

	out := make(map[string]any, len(args))
	for key, value := range args {
		p, ok := params[key]
		if !ok {
			out[key] = value
			continue
		}
		out[key] = coerceValue(value, p.Type)
	}
	return out
}

func coerceValue(value any, typ string) any {
	switch strings.ToLower(typ) {
	case "integer":
		switch v := value.(type) {
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return i
			}
		case float64:
			if math.Trunc(v) == v && math.Abs(v) < 1<<53 {
				return int64(v)
			}
		}
	case "number":
		if s, ok := value.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f
			}
		}
	case "boolean":
		if s, ok := value.(string); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
				return b
			}
		}
	case "array", "object":
		if s, ok := value.(string); ok {
			trimmed := strings.TrimSpace(s)
			if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
				var parsed any
				if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
					return parsed
				}
			}
		}
	}
	return value
}
