// Package discovery enumerates the tools of every registered server and
// normalizes them into namespaced descriptors.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lydakis/ollamcp/internal/log"
	"github.com/lydakis/ollamcp/internal/mcppool"
	"github.com/panjf2000/ants/v2"
)

// maxParallel caps how many servers are discovered at once.
const maxParallel = 8

// Source provides the handles to discover.
type Source interface {
	Handles() []mcppool.Handle
}

// skipper is implemented by registries that record servers they could not
// start.
type skipper interface {
	Skipped() []mcppool.Skip
}

// Warning records a server whose discovery produced no tools.
type Warning struct {
	Server string
	Err    error
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %v", w.Server, w.Err)
}

// Report is the outcome of one discovery run.
type Report struct {
	Tools    []mcppool.ToolInfo
	Warnings []Warning
	// Counts maps each discovered server to its number of tools.
	Counts map[string]int
}

type job struct {
	idx    int
	ctx    context.Context
	handle mcppool.Handle
	tools  [][]mcppool.ToolInfo
	errs   []error
	wg     *sync.WaitGroup
}

// Run discovers every handle of src concurrently. A failing server yields
// zero tools and a warning; it never affects the others. Tools are ordered
// by server, then as each server listed them.
func Run(ctx context.Context, src Source) *Report {
	logger := log.Named("discovery")
	handles := src.Handles()
	report := &Report{Counts: make(map[string]int, len(handles))}

	if s, ok := src.(skipper); ok {
		for _, skip := range s.Skipped() {
			report.Warnings = append(report.Warnings, Warning{Server: skip.Server, Err: skip.Err})
		}
	}
	if len(handles) == 0 {
		return report
	}

	tools := make([][]mcppool.ToolInfo, len(handles))
	errs := make([]error, len(handles))
	var wg sync.WaitGroup

	size := len(handles)
	if size > maxParallel {
		size = maxParallel
	}
	pool, err := ants.NewPoolWithFunc(size, func(arg any) {
		j := arg.(*job)
		defer j.wg.Done()
		j.tools[j.idx], j.errs[j.idx] = Discover(j.ctx, j.handle)
	})
	if err != nil {
		logger.Warnf("worker pool unavailable, discovering sequentially: %v", err)
	} else {
		defer pool.Release()
	}

	for i, h := range handles {
		wg.Add(1)
		j := &job{idx: i, ctx: ctx, handle: h, tools: tools, errs: errs, wg: &wg}
		if pool == nil || pool.Invoke(j) != nil {
			tools[i], errs[i] = Discover(ctx, h)
			wg.Done()
		}
	}
	wg.Wait()

	for i, h := range handles {
		if errs[i] != nil {
			logger.Warnf("server %s: discovery failed: %v", h.Name(), errs[i])
			report.Warnings = append(report.Warnings, Warning{Server: h.Name(), Err: errs[i]})
			continue
		}
		logger.Infof("server %s: discovered %d tools", h.Name(), len(tools[i]))
		report.Counts[h.Name()] = len(tools[i])
		report.Tools = append(report.Tools, tools[i]...)
	}
	sort.SliceStable(report.Warnings, func(a, b int) bool {
		return report.Warnings[a].Server < report.Warnings[b].Server
	})
	return report
}

// Discover lists one server's tools and normalizes them. Any failure
// returns no tools.
func Discover(ctx context.Context, h mcppool.Handle) (tools []mcppool.ToolInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			tools, err = nil, fmt.Errorf("panic during discovery: %v", r)
		}
	}()

	raw, err := h.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	tools = make([]mcppool.ToolInfo, 0, len(raw))
	for _, rt := range raw {
		tools = append(tools, Normalize(h.Name(), rt))
	}
	return tools, nil
}
