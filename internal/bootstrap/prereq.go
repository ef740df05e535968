package bootstrap

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/lydakis/ollamcp/internal/config"
)

// MissingCommandError reports a subprocess server whose executable cannot
// be resolved before spawning.
type MissingCommandError struct {
	Command string
	Wrapped bool
}

func (e *MissingCommandError) Error() string {
	if e.Wrapped {
		return fmt.Sprintf("command %q started through env not found in PATH", e.Command)
	}
	return fmt.Sprintf("command %q not found in PATH", e.Command)
}

type lookPathFunc func(file string) (string, error)

// CheckCommand verifies that a subprocess server's command can be
// executed. Commands given as a relative path are resolved against the
// server's cwd. When the command is env, the program env would exec is
// checked too.
func CheckCommand(srv config.ServerConfig) error {
	return checkCommand(srv, exec.LookPath)
}

func checkCommand(srv config.ServerConfig, lookPath lookPathFunc) error {
	if kind, err := srv.Kind(); err != nil || kind != config.KindSubprocess {
		return nil
	}
	command := strings.TrimSpace(srv.Command)
	if command == "" {
		return nil
	}

	if _, err := lookPath(resolveAgainst(srv.Cwd, command)); err != nil {
		return &MissingCommandError{Command: command}
	}
	if filepath.Base(command) != "env" {
		return nil
	}

	program := programAfterEnv(srv.Args)
	if program == "" {
		return nil
	}
	if _, err := lookPath(resolveAgainst(srv.Cwd, program)); err != nil {
		return &MissingCommandError{Command: program, Wrapped: true}
	}
	return nil
}

// resolveAgainst joins a relative path containing a separator onto dir.
// Bare names are left for PATH lookup.
func resolveAgainst(dir, command string) string {
	if dir == "" || filepath.IsAbs(command) || !strings.ContainsRune(command, filepath.Separator) {
		return command
	}
	return filepath.Join(dir, command)
}

// programAfterEnv returns the program env(1) would execute for args,
// skipping options and NAME=value assignments.
func programAfterEnv(args []string) string {
	for i := 0; i < len(args); i++ {
		tok := strings.TrimSpace(args[i])
		switch {
		case tok == "":
		case tok == "--":
			return firstProgram(args[i+1:])
		case tok == "-S" || tok == "--split-string":
			if i+1 >= len(args) {
				return ""
			}
			i++
			if p := programAfterEnv(strings.Fields(args[i])); p != "" {
				return p
			}
		case strings.HasPrefix(tok, "-S="), strings.HasPrefix(tok, "--split-string="):
			_, rest, _ := strings.Cut(tok, "=")
			if p := programAfterEnv(strings.Fields(rest)); p != "" {
				return p
			}
		case tok == "-u" || tok == "--unset" || tok == "-C" || tok == "--chdir":
			i++
		case strings.HasPrefix(tok, "-"):
		case strings.Index(tok, "=") > 0:
		default:
			return unquote(tok)
		}
	}
	return ""
}

func firstProgram(args []string) string {
	for _, raw := range args {
		tok := unquote(strings.TrimSpace(raw))
		if tok == "" || strings.Index(tok, "=") > 0 {
			continue
		}
		return tok
	}
	return ""
}

func unquote(tok string) string {
	if len(tok) >= 2 {
		first, last := tok[0], tok[len(tok)-1]
		if first == last && (first == '"' || first == '\'') {
			return tok[1 : len(tok)-1]
		}
	}
	return tok
}
