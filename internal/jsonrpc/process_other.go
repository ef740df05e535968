//go:build !unix

package jsonrpc

import (
	"os"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

func terminate(p *os.Process) {
	_ = p.Kill()
}
