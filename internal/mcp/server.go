package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/fmridesign/internal/catalog"
	"github.com/nvandessel/fmridesign/internal/config"
	"github.com/nvandessel/fmridesign/internal/logging"
)

// Server wraps the MCP SDK server and provides fmridesign tools.
type Server struct {
	server   *sdk.Server
	catalog  *catalog.Store
	settings *config.Config
	root     string
	logger   *slog.Logger
	journal  *logging.Journal
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "fmridesign")
	Version string // Server version
	Root    string // Directory tool paths are confined to

	// Settings supplies build defaults; nil means config.Default().
	Settings *config.Config

	// CatalogPath overrides Settings.CatalogPath().
	CatalogPath string

	// Logger receives operational output; nil discards it.
	Logger *slog.Logger
}

// NewServer creates a new MCP server with fmridesign tools.
func NewServer(cfg *Config) (*Server, error) {
	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving server root: %w", err)
	}

	catalogPath := cfg.CatalogPath
	if catalogPath == "" {
		if catalogPath, err = settings.CatalogPath(); err != nil {
			return nil, err
		}
	}
	store, err := catalog.Open(context.Background(), catalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			logger.Debug("client initialized")
		},
	})

	var journal *logging.Journal
	if dir, err := config.Dir(); err == nil {
		journal = logging.NewJournal(dir, settings.Logging.Level)
	}

	s := &Server{
		server:   mcpServer,
		catalog:  store,
		settings: settings,
		root:     root,
		logger:   logger,
		journal:  journal,
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.serve(ctx, &sdk.StdioTransport{})
}

// serve runs a session on t until the client disconnects, ctx is done or
// a shutdown signal arrives, then closes the server.
func (s *Server) serve(ctx context.Context, t sdk.Transport) error {
	ctx, stop := signal.NotifyContext(ctx, shutdownSignals...)
	defer stop()

	err := s.server.Run(ctx, t)
	s.Close()
	if ctx.Err() != nil {
		s.logger.Debug("mcp session stopped", "reason", context.Cause(ctx))
	}
	return err
}

// Close closes the server and releases resources.
func (s *Server) Close() error {
	s.journal.Close()
	return s.catalog.Close()
}

// auditTool logs a finished tool call and records it in the journal.
func (s *Server) auditTool(tool string, start time.Time, err error, params map[string]any) {
	elapsed := time.Since(start)
	fields := map[string]any{
		"tool":        tool,
		"duration_ms": elapsed.Milliseconds(),
		"status":      "success",
	}
	for k, v := range params {
		fields[k] = v
	}
	if err != nil {
		fields["status"] = "error"
		fields["error"] = err.Error()
		s.logger.Warn("tool failed", "tool", tool, "error", err)
	} else {
		s.logger.Debug("tool completed", "tool", tool, "duration", elapsed)
	}
	s.journal.Record("tool", fields)
}
