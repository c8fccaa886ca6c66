package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/ankur0405/personal-documents-handler/internal/indexer"
	"github.com/ankur0405/personal-documents-handler/internal/searcher"
	"github.com/ankur0405/personal-documents-handler/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "personal-documents-handler"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Syncer runs sync cycles. *indexer.Indexer satisfies it.
type Syncer interface {
	Sync(ctx context.Context, root string) (*indexer.SyncResult, error)
	Busy() bool
}

// Searcher answers queries. *searcher.Searcher satisfies it.
type Searcher interface {
	Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error)
	Invalidate()
}

// StatusSource reports index statistics. storage.Store satisfies it.
type StatusSource interface {
	Status(ctx context.Context) (*storage.Status, error)
}

// Deps are the application components the tools call into.
type Deps struct {
	Indexer  Syncer
	Searcher Searcher
	Store    StatusSource
	Root     string // Configured document root
	Logger   *slog.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	indexer  Syncer
	searcher Searcher
	store    StatusSource
	root     string
	logger   *slog.Logger
}

// NewServer creates a new MCP server instance and registers its tools.
// The caller owns the dependencies and closes them after Serve returns.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		indexer:  deps.Indexer,
		searcher: deps.Searcher,
		store:    deps.Store,
		root:     deps.Root,
		logger:   logger,
	}
	s.registerTools()
	return s
}

// Serve speaks MCP on stdin/stdout until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp server listening on stdio", "root", s.root)
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(syncDocumentsTool(), s.handleSyncDocuments)
	s.mcp.AddTool(searchDocumentsTool(), s.handleSearchDocuments)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
