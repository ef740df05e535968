//go:build unix

package jsonrpc

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// sysProcAttr puts the child in its own process group so terminate can
// reach any helpers it forks.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func terminate(p *os.Process) {
	if err := unix.Kill(-p.Pid, unix.SIGTERM); err != nil {
		_ = p.Kill()
	}
}
