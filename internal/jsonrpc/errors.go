package jsonrpc

import (
	"errors"
	"fmt"
)

// ErrClosed is returned once a transport has been closed.
var ErrClosed = errors.New("transport closed")

// ProtocolError reports a malformed or unexpected message. It aborts the
// current call. The transport stays usable, except when the reply carries
// an id that was never sent: then Broken reports the error and the
// transport must be replaced.
type ProtocolError struct {
	Method string
	Reason string
	Line   string
}

func (e *ProtocolError) Error() string {
	msg := "protocol error"
	if e.Method != "" {
		msg += " during " + e.Method
	}
	msg += ": " + e.Reason
	if e.Line != "" {
		msg += fmt.Sprintf(" (line %q)", truncate(e.Line, 120))
	}
	return msg
}

// TransportError reports an I/O failure: a broken pipe, EOF from the peer,
// a cancelled context or a read timeout. The transport is unusable after
// one of these and must be replaced.
type TransportError struct {
	Op      string
	Err     error
	timeout bool
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the error was caused by the read deadline.
func (e *TransportError) Timeout() bool { return e.timeout }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
