package httpheaders

import (
	"net/http"
	"sort"
	"strings"
)

// Defaults returns the headers every remote tool request carries.
func Defaults(userAgent string) map[string]string {
	h := map[string]string{"Accept": "application/json"}
	if userAgent != "" {
		h["User-Agent"] = userAgent
	}
	return h
}

// Merge layers configured headers over base. Names are compared
// case-insensitively and configured values win. Blank names are dropped.
func Merge(base, configured map[string]string) http.Header {
	out := make(http.Header, len(base)+len(configured))
	for _, src := range []map[string]string{base, configured} {
		for _, key := range sortedKeys(src) {
			name := strings.TrimSpace(key)
			if name == "" {
				continue
			}
			out.Set(name, src[key])
		}
	}
	return out
}

// Apply copies h onto req, replacing any existing values.
func Apply(req *http.Request, h http.Header) {
	for name, values := range h {
		req.Header.Del(name)
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
}

// Redacted returns h with credential-bearing values masked, for logging.
func Redacted(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name := range h {
		v := h.Get(name)
		if isSensitive(name) && v != "" {
			v = "***"
		}
		out[name] = v
	}
	return out
}

func isSensitive(name string) bool {
	lower := strings.ToLower(name)
	return lower == "authorization" || strings.Contains(lower, "token") ||
		strings.Contains(lower, "secret") || strings.Contains(lower, "api-key")
}

func sortedKeys(src map[string]string) []string {
	keys := make([]string, 0, len(src))
	for key := range src {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
