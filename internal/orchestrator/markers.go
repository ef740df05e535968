package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// markerHead matches the start of an inline tool marker, [TOOL:name:
var markerHead = regexp.MustCompile(`\[TOOL:([^:\]\s]+):`)

// Marker is an inline tool invocation found in model text.
type Marker struct {
	Start, End int // byte offsets of the whole marker in the text
	Call       Call
	Err        error // non-nil when the arguments could not be parsed
}

// ArgumentError reports marker arguments that are not a JSON object.
type ArgumentError struct {
	Tool string
	Raw  string
	Err  error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments %q: %v", e.Raw, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

var errNotObject = errors.New("arguments must be a JSON object")

// FindMarkers returns the inline markers in text in order. Arguments are
// read as one JSON value so objects containing ']' are handled; when they
// do not decode the marker ends at the next ']'.
func FindMarkers(text string) []Marker {
	var markers []Marker
	offset := 0
	for offset < len(text) {
		loc := markerHead.FindStringSubmatchIndex(text[offset:])
		if loc == nil {
			break
		}
		start := offset + loc[0]
		name := text[offset+loc[2] : offset+loc[3]]
		argsStart := offset + loc[1]

		m, ok := parseMarker(text, start, argsStart, name)
		if !ok {
			offset = argsStart
			continue
		}
		markers = append(markers, m)
		offset = m.End
	}
	return markers
}

func parseMarker(text string, start, argsStart int, name string) (Marker, bool) {
	rest := text[argsStart:]

	if trimmed := strings.TrimLeft(rest, " \t"); strings.HasPrefix(trimmed, "]") {
		end := argsStart + (len(rest) - len(trimmed)) + 1
		return Marker{Start: start, End: end, Call: Call{Name: name, Arguments: map[string]any{}}}, true
	}

	dec := json.NewDecoder(strings.NewReader(rest))
	var value any
	if err := dec.Decode(&value); err == nil {
		consumed := int(dec.InputOffset())
		after := strings.TrimLeft(rest[consumed:], " \t")
		if strings.HasPrefix(after, "]") {
			end := argsStart + (len(rest) - len(after)) + 1
			raw := strings.TrimSpace(rest[:consumed])
			args, ok := value.(map[string]any)
			if !ok {
				return Marker{Start: start, End: end, Call: Call{Name: name},
					Err: &ArgumentError{Tool: name, Raw: raw, Err: errNotObject}}, true
			}
			return Marker{Start: start, End: end, Call: Call{Name: name, Arguments: args}}, true
		}
	}

	// Fall back to the first closing bracket, reporting why the text
	// between is not usable.
	closing := strings.IndexByte(rest, ']')
	if closing < 0 {
		return Marker{}, false
	}
	raw := rest[:closing]
	var probe any
	err := json.Unmarshal([]byte(raw), &probe)
	if err == nil {
		err = errNotObject
	}
	return Marker{
		Start: start,
		End:   argsStart + closing + 1,
		Call:  Call{Name: name},
		Err:   &ArgumentError{Tool: name, Raw: raw, Err: err},
	}, true
}

// hasMarker reports whether text might contain a marker at all.
func hasMarker(text string) bool {
	return strings.Contains(text, "[TOOL:")
}
