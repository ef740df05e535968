package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// toolCallArgs is the parsed tail of `ollamcp call <tool> ...`.
type toolCallArgs struct {
	toolArgs map[string]any
	noCache  bool
	quiet    bool
	help     bool
}

// callArgScanner walks call arguments once. Tool arguments come from one
// source only: a positional JSON object, --key flags, or piped stdin.
type callArgScanner struct {
	args []string
	pos  int
	out  *toolCallArgs

	rawJSON    string
	sawFlag    bool
	sawToolArg bool
}

func parseToolCallArgs(args []string, stdin io.Reader, stdinIsTTY bool) (*toolCallArgs, error) {
	s := &callArgScanner{args: args, out: &toolCallArgs{toolArgs: map[string]any{}}}
	if err := s.scan(); err != nil {
		return nil, err
	}

	switch {
	case s.rawJSON != "":
		obj, err := parseJSONObject(s.rawJSON)
		if err != nil {
			return nil, err
		}
		s.out.toolArgs = obj
	case !s.sawFlag && !stdinIsTTY && stdin != nil:
		obj, err := readStdinObject(stdin)
		if err != nil {
			return nil, err
		}
		if obj != nil {
			s.out.toolArgs = obj
		}
	}
	return s.out, nil
}

func (s *callArgScanner) scan() error {
	literal := false
	for ; s.pos < len(s.args); s.pos++ {
		arg := s.args[s.pos]
		if arg == "--" && !literal {
			literal = true
			continue
		}
		if !literal && s.control(arg) {
			s.sawFlag = true
			continue
		}

		var err error
		switch {
		case strings.HasPrefix(arg, "--"):
			err = s.toolFlag(arg)
		case strings.HasPrefix(arg, "-"):
			err = fmt.Errorf("unsupported short flag: %s", arg)
		default:
			err = s.positional(arg)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// control consumes flags that steer ollamcp itself rather than the tool.
func (s *callArgScanner) control(arg string) bool {
	switch arg {
	case "-q", "--quiet":
		s.out.quiet = true
	case "-h", "--help":
		s.out.help = true
	case "--no-cache":
		s.out.noCache = true
	default:
		return false
	}
	return true
}

func (s *callArgScanner) toolFlag(arg string) error {
	if s.rawJSON != "" {
		return errors.New("cannot mix positional JSON arguments with --flags")
	}
	// --tool-<name> reaches a tool parameter that shadows a control flag.
	if rest, ok := strings.CutPrefix(arg, "--tool-"); ok {
		arg = "--" + rest
	}
	key, value, err := parseLongFlagValue(s.args, &s.pos, arg)
	if err != nil {
		return err
	}
	putArgValue(s.out.toolArgs, key, value)
	s.sawFlag = true
	s.sawToolArg = true
	return nil
}

func (s *callArgScanner) positional(arg string) error {
	switch {
	case s.sawToolArg:
		return fmt.Errorf("unexpected positional argument: %s", arg)
	case s.rawJSON != "":
		return errors.New("multiple positional arguments are not supported")
	}
	s.rawJSON = arg
	return nil
}

func readStdinObject(r io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return nil, nil
	}
	return parseJSONObject(raw)
}

func parseJSONObject(raw string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, errors.New("JSON arguments must be an object")
		}
		return nil, fmt.Errorf("invalid JSON arguments: %w", err)
	}
	if obj == nil {
		return nil, errors.New("JSON arguments must be an object")
	}
	return obj, nil
}

// parseLongFlagValue reads --key=value, --key value, or a bare --key
// (true). A bare --no-key is false. *idx advances past a consumed value.
func parseLongFlagValue(args []string, idx *int, token string) (string, any, error) {
	body := strings.TrimPrefix(token, "--")
	if key, value, ok := strings.Cut(body, "="); ok {
		if key == "" {
			return "", nil, fmt.Errorf("invalid flag: %s", token)
		}
		return key, value, nil
	}
	if body == "" {
		return "", nil, fmt.Errorf("invalid flag: %s", token)
	}

	if next := *idx + 1; next < len(args) && !strings.HasPrefix(args[next], "--") {
		*idx = next
		return body, args[next], nil
	}
	if key, ok := strings.CutPrefix(body, "no-"); ok && key != "" {
		return key, false, nil
	}
	return body, true, nil
}

// putArgValue stores value under key; a repeated key collects into a list.
func putArgValue(dst map[string]any, key string, value any) {
	existing, ok := dst[key]
	if !ok {
		dst[key] = value
		return
	}
	if list, isList := existing.([]any); isList {
		dst[key] = append(list, value)
		return
	}
	dst[key] = []any{existing, value}
}
