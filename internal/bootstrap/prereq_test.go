package bootstrap

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/lydakis/ollamcp/internal/config"
)

func lookupOnly(found ...string) lookPathFunc {
	return func(bin string) (string, error) {
		for _, f := range found {
			if f == bin {
				return bin, nil
			}
		}
		return "", errors.New("not found")
	}
}

func TestCheckCommandMissingProgram(t *testing.T) {
	err := checkCommand(config.ServerConfig{
		Command: "npx",
		Args:    []string{"-y", "@modelcontextprotocol/server-filesystem"},
	}, lookupOnly())

	var missing *MissingCommandError
	if !errors.As(err, &missing) {
		t.Fatalf("checkCommand() error = %v, want *MissingCommandError", err)
	}
	if missing.Command != "npx" || missing.Wrapped {
		t.Fatalf("checkCommand() error = %+v, want npx unwrapped", missing)
	}
	if got, want := err.Error(), `command "npx" not found in PATH`; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestCheckCommandFound(t *testing.T) {
	err := checkCommand(config.ServerConfig{Command: "python3", Args: []string{"server.py"}}, lookupOnly("python3"))
	if err != nil {
		t.Fatalf("checkCommand() error = %v, want nil", err)
	}
}

func TestCheckCommandEnvWrapper(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "assignment", args: []string{"UV_CACHE_DIR=/tmp/uv", "uvx", "mcp-server"}, want: "uvx"},
		{name: "split string", args: []string{"-S", "npx -y server"}, want: "npx"},
		{name: "split string inline", args: []string{"--split-string=npx -y server"}, want: "npx"},
		{name: "unset consumes value", args: []string{"-u", "PYTHONPATH", "uvx", "mcp-server"}, want: "uvx"},
		{name: "chdir consumes value", args: []string{"--chdir", "/tmp", "uvx"}, want: "uvx"},
		{name: "double dash", args: []string{"--", "A=1", "uvx", "mcp-server"}, want: "uvx"},
		{name: "quoted", args: []string{"'uvx'"}, want: "uvx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkCommand(config.ServerConfig{Command: "/usr/bin/env", Args: tt.args}, lookupOnly("/usr/bin/env"))
			var missing *MissingCommandError
			if !errors.As(err, &missing) {
				t.Fatalf("checkCommand() error = %v, want *MissingCommandError", err)
			}
			if missing.Command != tt.want || !missing.Wrapped {
				t.Fatalf("checkCommand() missing = %+v, want wrapped %q", missing, tt.want)
			}
		})
	}
}

func TestCheckCommandEnvWithoutProgram(t *testing.T) {
	err := checkCommand(config.ServerConfig{Command: "env", Args: []string{"-i", "A=1"}}, lookupOnly("env"))
	if err != nil {
		t.Fatalf("checkCommand() error = %v, want nil", err)
	}
}

func TestCheckCommandResolvesRelativeToCwd(t *testing.T) {
	dir := t.TempDir()
	want := filepath.Join(dir, "bin", "server")

	var looked string
	err := checkCommand(config.ServerConfig{Command: "./bin/server", Cwd: dir}, func(bin string) (string, error) {
		looked = bin
		return bin, nil
	})
	if err != nil {
		t.Fatalf("checkCommand() error = %v, want nil", err)
	}
	if looked != want {
		t.Fatalf("lookup path = %q, want %q", looked, want)
	}
}

func TestCheckCommandSkipsOtherKinds(t *testing.T) {
	fail := func(string) (string, error) { return "", errors.New("should not be called") }
	for _, srv := range []config.ServerConfig{
		{URL: "http://localhost:8080"},
		{Provider: "builtin"},
	} {
		if err := checkCommand(srv, fail); err != nil {
			t.Fatalf("checkCommand(%+v) error = %v, want nil", srv, err)
		}
	}
}
