// Package gateway re-exports the aggregated tool catalog over HTTP using the
// remote tool-server protocol, so another ollamcp can mount it as a remote
// server.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"

	"github.com/lydakis/ollamcp/internal/executor"
	"github.com/lydakis/ollamcp/internal/log"
	"github.com/lydakis/ollamcp/internal/mcppool"
)

const maxRequestBody = 1 << 20

// Catalog is the set of tools the gateway exposes.
type Catalog interface {
	Tools() []mcppool.ToolInfo
	Lookup(name string) (mcppool.ToolInfo, bool)
}

// Caller executes a resolved tool.
type Caller interface {
	Call(ctx context.Context, tool mcppool.ToolInfo, args map[string]any) executor.Result
}

// Server serves GET /tools, POST /execute and GET /healthz.
type Server struct {
	catalog Catalog
	caller  Caller
	router  *mux.Router
	logger  log.Logger
}

// New returns a gateway over catalog and caller.
func New(catalog Catalog, caller Caller) *Server {
	s := &Server{
		catalog: catalog,
		caller:  caller,
		router:  mux.NewRouter(),
		logger:  log.Named("gateway"),
	}
	s.router.Use(s.logRequests)
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/tools", s.handleListTools).Methods(http.MethodGet)
	s.router.HandleFunc("/execute", s.handleExecute).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Infof("serving %d tools on %s", len(s.catalog.Tools()), ln.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

type toolEntry struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type executeRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

type content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type callResult struct {
	Content []content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools := s.catalog.Tools()
	entries := make([]toolEntry, 0, len(tools))
	for _, t := range tools {
		entries = append(entries, toolEntry{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  parametersOf(t),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": entries})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request: "+err.Error())
		return
	}
	var req executeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Tool == "" {
		writeError(w, http.StatusBadRequest, "missing tool")
		return
	}

	tool, ok := s.catalog.Lookup(req.Tool)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%v: %s", executor.ErrToolNotFound, req.Tool))
		return
	}
	if req.Arguments == nil {
		req.Arguments = map[string]any{}
	}

	res := s.caller.Call(r.Context(), tool, req.Arguments)
	if res.Failed() {
		writeJSON(w, http.StatusOK, map[string]any{
			"result": callResult{Content: []content{{Type: "text", Text: res.Err}}, IsError: true},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result": callResult{Content: []content{{Type: "text", Text: res.Output}}},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "tools": len(s.catalog.Tools())})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debugf("%s %s in %s", r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}

// parametersOf returns the tool's declared schema, or one rebuilt from its
// parameter table.
func parametersOf(t mcppool.ToolInfo) json.RawMessage {
	if len(t.InputSchema) > 0 && json.Valid(t.InputSchema) {
		return t.InputSchema
	}

	props := make(map[string]any, len(t.Params))
	required := make([]string, 0)
	for name, p := range t.Params {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[name] = prop
		if p.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return data
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
