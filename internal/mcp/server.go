package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/bookshelf-mcp/internal/app"
	"github.com/dshills/bookshelf-mcp/internal/logger"
)

const (
	// ServerName is the MCP server name
	ServerName = "bookshelf-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server exposes one App over the MCP protocol
type Server struct {
	mcp *server.MCPServer
	app *app.App
}

// NewServer registers the library tools for a
func NewServer(a *app.App) *Server {
	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		mcp: mcpServer,
		app: a,
	}
	s.registerTools()
	return s
}

// Serve answers MCP requests on stdio until ctx is cancelled or stdin
// closes. The App stays open; the caller owns it.
func (s *Server) Serve(ctx context.Context) error {
	logger.Info("%s %s listening on stdio", ServerName, ServerVersion)
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(syncLibraryTool(), s.handleSyncLibrary)
	s.mcp.AddTool(searchTool(), s.handleSearch)
	s.mcp.AddTool(browseTool(), s.handleBrowse)
	s.mcp.AddTool(getBookTool(), s.handleGetBook)
	s.mcp.AddTool(listSubjectsTool(), s.handleListSubjects)
	s.mcp.AddTool(getStatsTool(), s.handleGetStats)
	s.mcp.AddTool(modelStatusTool(), s.handleModelStatus)
	s.mcp.AddTool(downloadModelTool(), s.handleDownloadModel)
	s.mcp.AddTool(clearEnrichmentTool(), s.handleClearEnrichment)
	s.mcp.AddTool(exportCatalogTool(), s.handleExportCatalog)
}
