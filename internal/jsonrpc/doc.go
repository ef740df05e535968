// Package jsonrpc frames JSON-RPC 2.0 messages over a tool server's
// standard input and output, one message per line.
//
// The engine is strictly request-then-response: a Transport holds at most
// one outstanding request, and the next response line must carry that
// request's id. Servers that interleave responses are rejected with a
// ProtocolError rather than demultiplexed.
package jsonrpc
