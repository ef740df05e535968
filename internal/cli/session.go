package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/lydakis/ollamcp/internal/builtin"
	"github.com/lydakis/ollamcp/internal/cache"
	"github.com/lydakis/ollamcp/internal/config"
	"github.com/lydakis/ollamcp/internal/discovery"
	"github.com/lydakis/ollamcp/internal/executor"
	"github.com/lydakis/ollamcp/internal/log"
	"github.com/lydakis/ollamcp/internal/mcppool"
	"github.com/lydakis/ollamcp/internal/servercatalog"
)

// session owns the live servers and the catalog built from them.
type session struct {
	id      string
	cfg     *config.Config
	pool    *mcppool.Pool
	report  *discovery.Report
	catalog *servercatalog.Catalog
	exec    *executor.Executor
	logger  log.Logger
}

type sessionOptions struct {
	noCache bool
	// noTools skips every configured server.
	noTools bool
}

// openSession starts the configured servers and discovers their tools.
// Per-server failures are printed to warn and never abort the session.
func openSession(ctx context.Context, cfg *config.Config, warn io.Writer, opts sessionOptions) *session {
	id := uuid.NewString()
	s := &session{
		id:     id,
		cfg:    cfg,
		logger: log.Named("session." + id[:8]),
	}

	serverCfg := cfg
	if opts.noTools {
		serverCfg = &config.Config{Settings: cfg.Settings, Servers: map[string]config.ServerConfig{}}
	}

	poolOpts := []mcppool.Option{
		mcppool.WithTimeout(cfg.Settings.ToolTimeoutDuration()),
		mcppool.WithHandshakeGrace(cfg.Settings.HandshakeGraceDuration()),
		mcppool.WithClientInfo("ollamcp", buildVersion),
	}
	for name, p := range builtin.Providers() {
		poolOpts = append(poolOpts, mcppool.WithProvider(name, p))
	}
	s.pool = mcppool.New(ctx, serverCfg, poolOpts...)

	execOpts := []executor.Option{executor.WithTimeout(cfg.Settings.ToolTimeoutDuration())}
	if !opts.noCache {
		execOpts = append(execOpts, executor.WithCache(cache.New(""), cfg.Servers))
	}
	s.exec = executor.New(s.pool, nil, execOpts...)

	s.discover(ctx, warn)
	return s
}

// discover (re)builds the catalog from the live servers.
func (s *session) discover(ctx context.Context, warn io.Writer) {
	s.report = discovery.Run(ctx, s.pool)
	for _, w := range s.report.Warnings {
		fmt.Fprintf(warn, "ollamcp: warning: %s\n", w)
	}
	s.catalog = servercatalog.New(s.report.Tools, s.pool)
	s.exec.SetTools(s.catalog)
	s.logger.Infof("discovered %d tools from %d servers", s.catalog.Len(), len(s.catalog.Servers()))
}

// warningFor returns the discovery warning recorded for server, if any.
func (s *session) warningFor(server string) (discovery.Warning, bool) {
	for _, w := range s.report.Warnings {
		if w.Server == server {
			return w, true
		}
	}
	return discovery.Warning{}, false
}

func (s *session) Close() error {
	return s.pool.CloseAll()
}
