package jsonrpc

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/lydakis/ollamcp/internal/log"
)

// stopGrace is how long Close waits for the child to exit after its stdin
// is closed before signalling it.
const stopGrace = 2 * time.Second

// SpawnConfig describes a tool server subprocess.
type SpawnConfig struct {
	Name    string
	Command string
	Args    []string
	Dir     string
	// Env entries override variables inherited from this process.
	Env    map[string]string
	Logger log.Logger
}

// Process is a running tool server with a Transport bound to its pipes.
// The Process exclusively owns the child and all three pipes.
type Process struct {
	*Transport

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger log.Logger
}

// Spawn starts the subprocess described by cfg.
func Spawn(cfg SpawnConfig) (*Process, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Named("jsonrpc")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = MergeEnv(os.Environ(), cfg.Env)
	cmd.SysProcAttr = sysProcAttr()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}

	logger.Debugf("%s: started %s (pid %d)", cfg.Name, cfg.Command, cmd.Process.Pid)
	go drainStderr(cfg.Name, stderr, logger)

	return &Process{
		Transport: NewTransport(cfg.Name, stdin, stdout, stdin, logger),
		cmd:       cmd,
		stdin:     stdin,
		logger:    logger,
	}, nil
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Close closes stdin, waits briefly for the child to exit on its own, then
// terminates its process group.
func (p *Process) Close() error {
	_ = p.Transport.Close()
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()

	select {
	case <-done:
		return nil
	case <-time.After(stopGrace):
	}

	p.logger.Debugf("%s: pid %d did not exit, terminating", p.Transport.name, p.Pid())
	terminate(p.cmd.Process)
	select {
	case <-done:
	case <-time.After(stopGrace):
		_ = p.cmd.Process.Kill()
		<-done
	}
	return nil
}

func drainStderr(name string, r io.Reader, logger log.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		logger.Debugf("%s stderr: %s", name, scanner.Text())
	}
}

// MergeEnv returns base with overrides applied. Override keys replace any
// inherited entry with the same name; new keys are appended in sorted order.
func MergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return append([]string(nil), base...)
	}

	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}
