package jsonrpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/lydakis/ollamcp/internal/log"
)

// readBufferSize is the initial reader buffer. Longer lines still read in
// full; tool results can be large.
const readBufferSize = 1 << 20

// Transport exchanges newline-delimited JSON-RPC messages with a peer over
// a writer/reader pair. All methods are safe for concurrent use; access is
// serialized by a single mutex, so a second caller waits until the first
// call's response has been read.
type Transport struct {
	name   string
	logger log.Logger

	mu      sync.Mutex
	w       *bufio.Writer
	closer  io.Closer
	reader  *bufio.Reader
	nextID  int64
	pending int64
	broken  error
}

// NewTransport wraps w and r. closer, when non-nil, is closed by Close
// (typically the subprocess stdin).
func NewTransport(name string, w io.Writer, r io.Reader, closer io.Closer, logger log.Logger) *Transport {
	if logger == nil {
		logger = log.Named("jsonrpc")
	}
	return &Transport{
		name:   name,
		logger: logger,
		w:      bufio.NewWriter(w),
		closer: closer,
		reader: bufio.NewReaderSize(r, readBufferSize),
	}
}

// Send writes a request for method and returns its id. It fails with a
// ProtocolError if a previous request has not been answered yet.
func (t *Transport) Send(ctx context.Context, method string, params any) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.send(ctx, method, params)
}

// ReceiveMatching reads the next response and checks it answers id. A
// non-positive timeout waits until ctx is done.
func (t *Transport) ReceiveMatching(ctx context.Context, id int64, timeout time.Duration) (*Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.receive(ctx, "", id, timeout)
}

// Call sends a request and waits for its response while holding the
// transport, so no other request can be interleaved.
func (t *Transport) Call(ctx context.Context, method string, params any, timeout time.Duration) (*Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, err := t.send(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return t.receive(ctx, method, id, timeout)
}

// Notify writes a notification. No response is read.
func (t *Transport) Notify(ctx context.Context, method string, params any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.usable(ctx, "notify"); err != nil {
		return err
	}
	return t.writeMessage("notify", NewNotification(method, params))
}

// Broken returns the error that made the transport unusable, or nil.
func (t *Transport) Broken() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.broken
}

// Close marks the transport closed and closes the underlying writer.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if errors.Is(t.broken, ErrClosed) {
		return nil
	}
	t.broken = ErrClosed
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

func (t *Transport) send(ctx context.Context, method string, params any) (int64, error) {
	if err := t.usable(ctx, "send"); err != nil {
		return 0, err
	}
	if t.pending != 0 {
		return 0, &ProtocolError{
			Method: method,
			Reason: fmt.Sprintf("request %d is still awaiting a response", t.pending),
		}
	}

	t.nextID++
	id := t.nextID
	if err := t.writeMessage("send", NewRequest(id, method, params)); err != nil {
		return 0, err
	}
	t.pending = id
	t.logger.Debugf("%s: sent %s id=%d", t.name, method, id)
	return id, nil
}

func (t *Transport) receive(ctx context.Context, method string, id int64, timeout time.Duration) (*Response, error) {
	if t.pending == 0 || t.pending != id {
		return nil, &ProtocolError{
			Method: method,
			Reason: fmt.Sprintf("no pending request with id %d", id),
		}
	}
	// The slot is freed whatever the outcome; a failed call is not retried
	// on the same id.
	defer func() { t.pending = 0 }()

	if err := t.usable(ctx, "receive"); err != nil {
		return nil, err
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		line, err := t.readLine(ctx, deadline, timeout)
		if err != nil {
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return nil, &ProtocolError{Method: method, Reason: "malformed JSON: " + err.Error(), Line: string(line)}
		}

		if env.Method != "" {
			if !env.hasID() {
				t.logger.Debugf("%s: skipping server notification %s", t.name, env.Method)
				continue
			}
			t.rejectServerRequest(env)
			continue
		}

		if !env.hasID() {
			return nil, &ProtocolError{Method: method, Reason: "response without id", Line: string(line)}
		}
		got, ok := env.numericID()
		if ok && got < id {
			// A late reply to a call that already failed.
			t.logger.Debugf("%s: skipping stale response id=%d", t.name, got)
			continue
		}
		if !ok || got != id {
			// The peer answered a request we never sent; later replies
			// cannot be matched either.
			return nil, t.desync(&ProtocolError{
				Method: method,
				Reason: fmt.Sprintf("response id %s does not match pending request %d", string(env.ID), id),
				Line:   string(line),
			})
		}
		if env.Result == nil && env.Error == nil {
			return nil, &ProtocolError{Method: method, Reason: "response has neither result nor error", Line: string(line)}
		}

		return &Response{
			JSONRPC: env.JSONRPC,
			ID:      got,
			Result:  env.Result,
			Error:   env.Error,
		}, nil
	}
}

// readResult is the outcome of a single line read.
type readResult struct {
	line []byte
	err  error
}

// readLine reads one line in a goroutine so a timeout or cancellation can
// abandon a blocked read. Abandoning a read leaves the reader in use, so
// the transport is marked broken.
func (t *Transport) readLine(ctx context.Context, deadline <-chan time.Time, timeout time.Duration) ([]byte, error) {
	ch := make(chan readResult, 1)
	reader := t.reader
	go func() {
		line, err := reader.ReadBytes('\n')
		ch <- readResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, t.fail(&TransportError{Op: "receive", Err: ctx.Err()})
	case <-deadline:
		return nil, t.fail(&TransportError{
			Op:      "receive",
			Err:     fmt.Errorf("no response within %s", timeout),
			timeout: true,
		})
	case res := <-ch:
		if res.err != nil {
			if len(res.line) > 0 && errors.Is(res.err, io.EOF) {
				// Final line without a trailing newline.
				t.fail(&TransportError{Op: "receive", Err: io.ErrUnexpectedEOF})
				return res.line, nil
			}
			return nil, t.fail(&TransportError{Op: "receive", Err: res.err})
		}
		return res.line, nil
	}
}

// rejectServerRequest answers a server-initiated request with
// method-not-found so the peer does not wait on us.
func (t *Transport) rejectServerRequest(env envelope) {
	t.logger.Debugf("%s: rejecting server request %s", t.name, env.Method)
	reply := struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Error   *RPCError       `json:"error"`
	}{
		JSONRPC: Version,
		ID:      env.ID,
		Error:   &RPCError{Code: CodeMethodNotFound, Message: "method not supported by client: " + env.Method},
	}
	if err := t.writeMessage("send", reply); err != nil {
		t.logger.Debugf("%s: reply to server request failed: %v", t.name, err)
	}
}

func (t *Transport) writeMessage(op string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", op, err)
	}
	data = append(data, '\n')
	if _, err := t.w.Write(data); err != nil {
		return t.fail(&TransportError{Op: op, Err: err})
	}
	if err := t.w.Flush(); err != nil {
		return t.fail(&TransportError{Op: op, Err: err})
	}
	return nil
}

func (t *Transport) usable(ctx context.Context, op string) error {
	if t.broken != nil {
		return &TransportError{Op: op, Err: t.broken}
	}
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: op, Err: err}
	}
	return nil
}

// desync marks the transport unusable after a reply that leaves request
// and response ids out of step, so the owner replaces it.
func (t *Transport) desync(err *ProtocolError) error {
	if t.broken == nil {
		t.broken = err
		t.logger.Debugf("%s: transport out of sync: %v", t.name, err)
	}
	return err
}

// fail records err as the reason the transport is unusable and returns it.
func (t *Transport) fail(err *TransportError) error {
	if t.broken == nil {
		t.broken = err
		t.logger.Debugf("%s: transport unusable: %v", t.name, err)
	}
	return err
}
