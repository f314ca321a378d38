package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/bookshelf-mcp/internal/embedder"
	"github.com/dshills/bookshelf-mcp/internal/logger"
	"github.com/dshills/bookshelf-mcp/internal/pipeline"
	"github.com/dshills/bookshelf-mcp/internal/searcher"
	"github.com/dshills/bookshelf-mcp/internal/source"
	"github.com/dshills/bookshelf-mcp/internal/storage"
	"github.com/dshills/bookshelf-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams    = -32602 // Invalid method parameters
	ErrorCodeInternalError    = -32603 // Internal JSON-RPC error
	ErrorCodeNotFound         = -32001 // Book or source file does not exist
	ErrorCodeSyncInProgress   = -32002 // Another sync holds the lease
	ErrorCodeEmptyQuery       = -32004 // Query parameter is empty
	ErrorCodeModelUnavailable = -32005 // Embedding model is not installed
)

// handleSyncLibrary handles the sync_library tool invocation
func (s *Server) handleSyncLibrary(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	path := strings.TrimSpace(getStringDefault(args, "source", ""))
	if path != "" {
		if err := validatePath(path); err != nil {
			code := ErrorCodeInvalidParams
			if errors.Is(err, ErrPathNotFound) {
				code = ErrorCodeNotFound
			}
			return nil, newMCPError(code, "invalid source", map[string]interface{}{
				"param":  "source",
				"reason": err.Error(),
			})
		}
	}

	notify := s.progressNotifier(ctx, request)
	sink := func(p types.Progress) {
		logger.Debug("[%s] %s", p.Stage, p.Message)
		current, total := 0, 0
		if p.Current != nil {
			current = *p.Current
		}
		if p.Total != nil {
			total = *p.Total
		}
		notify(float64(current), float64(total), fmt.Sprintf("%s: %s", p.Stage, p.Message))
	}

	result, err := s.app.Sync(ctx, path, sink)
	if err != nil {
		return nil, toMCPError("sync failed", err)
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleSearch handles the search tool invocation
func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	query := strings.TrimSpace(getStringDefault(args, "q", ""))
	if query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "q parameter is required and cannot be empty", map[string]interface{}{
			"param":  "q",
			"reason": "missing or empty",
		})
	}

	mode, err := searcher.ParseMode(getStringDefault(args, "mode", ""))
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid mode", map[string]interface{}{
			"param":   "mode",
			"value":   args["mode"],
			"allowed": []string{"auto", "semantic", "fts", "keyword"},
		})
	}

	limit := getIntDefault(args, "limit", searcher.DefaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", searcher.MaxLimit), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	resp, err := s.app.Searcher.Search(ctx, searcher.Request{Query: query, Mode: mode, Limit: limit})
	if err != nil {
		return nil, toMCPError("search failed", err)
	}

	response := map[string]interface{}{
		"mode":      resp.Mode,
		"count":     len(resp.Results),
		"results":   resp.Results,
		"fell_back": resp.FellBack,
	}
	if mode == searcher.ModeSemantic && len(resp.Results) == 0 && !s.app.ModelStatus().Available {
		response["message"] = "Embedding model is not installed. Run download_model to enable semantic search."
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleBrowse handles the browse tool invocation
func (s *Server) handleBrowse(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var req storage.BrowseRequest
	if err := decodeArguments(request, &req); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", map[string]interface{}{
			"reason": err.Error(),
		})
	}

	page, err := s.app.Searcher.Browse(ctx, req)
	if err != nil {
		return nil, toMCPError("browse failed", err)
	}
	return mcp.NewToolResultText(formatJSON(page)), nil
}

// handleGetBook handles the get_book tool invocation
func (s *Server) handleGetBook(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	id := strings.TrimSpace(getStringDefault(args, "id", ""))
	if id == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "id parameter is required", map[string]interface{}{
			"param":  "id",
			"reason": "missing or empty",
		})
	}

	book, err := s.app.Searcher.Book(ctx, id)
	if err != nil {
		return nil, toMCPError("failed to get book", err)
	}
	return mcp.NewToolResultText(formatJSON(book)), nil
}

func (s *Server) handleListSubjects(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	subjects, err := s.app.Searcher.Subjects(ctx)
	if err != nil {
		return nil, toMCPError("failed to list subjects", err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"count":    len(subjects),
		"subjects": subjects,
	})), nil
}

func (s *Server) handleGetStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.app.Stats(ctx)
	if err != nil {
		return nil, toMCPError("failed to get stats", err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"statistics": stats,
		"model":      s.app.ModelStatus(),
	})), nil
}

func (s *Server) handleModelStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(formatJSON(s.app.ModelStatus())), nil
}

// handleDownloadModel handles the download_model tool invocation
func (s *Server) handleDownloadModel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	notify := s.progressNotifier(ctx, request)
	status, err := s.app.DownloadModel(ctx, func(p embedder.DownloadProgress) {
		notify(float64(p.BytesDownloaded), float64(p.TotalBytes), fmt.Sprintf("%s %.0f%%", p.File, p.Percent))
	})
	if err != nil {
		return nil, toMCPError("model download failed", err)
	}
	return mcp.NewToolResultText(formatJSON(status)), nil
}

// handleClearEnrichment handles the clear_enrichment tool invocation
func (s *Server) handleClearEnrichment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	var ids []string
	if raw, ok := args["ids"]; ok && raw != nil {
		list, ok := raw.([]interface{})
		if !ok {
			return nil, newMCPError(ErrorCodeInvalidParams, "ids must be an array of strings", map[string]interface{}{
				"param": "ids",
			})
		}
		for _, v := range list {
			id, ok := v.(string)
			if !ok || strings.TrimSpace(id) == "" {
				return nil, newMCPError(ErrorCodeInvalidParams, "ids must be non-empty strings", map[string]interface{}{
					"param": "ids",
					"value": v,
				})
			}
			ids = append(ids, strings.TrimSpace(id))
		}
	}

	n, err := s.app.ClearEnrichment(ctx, ids)
	if err != nil {
		return nil, toMCPError("failed to clear enrichment", err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"cleared": n,
	})), nil
}

// handleExportCatalog handles the export_catalog tool invocation
func (s *Server) handleExportCatalog(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	path := strings.TrimSpace(getStringDefault(args, "path", ""))
	if path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	if !filepath.IsAbs(path) {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": ErrPathNotAbsolute.Error(),
		})
	}

	includeEnrichment := getBoolDefault(args, "include_enrichment", false)
	n, err := s.app.ExportFile(ctx, path, includeEnrichment)
	if err != nil {
		return nil, toMCPError("export failed", err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"path":    path,
		"records": n,
	})), nil
}

// progressNotifier returns a function that forwards progress to the client
// when the request carried a progress token, and does nothing otherwise
func (s *Server) progressNotifier(ctx context.Context, request mcp.CallToolRequest) func(progress, total float64, message string) {
	if request.Params.Meta == nil || request.Params.Meta.ProgressToken == nil {
		return func(float64, float64, string) {}
	}
	token := request.Params.Meta.ProgressToken
	srv := server.ServerFromContext(ctx)
	if srv == nil {
		srv = s.mcp
	}

	var last float64
	return func(progress, total float64, message string) {
		// progress must increase between notifications
		if progress <= last {
			progress = last + 1
		}
		last = progress

		params := map[string]interface{}{
			"progressToken": token,
			"progress":      progress,
			"message":       message,
		}
		if total > 0 {
			params["total"] = total
		}
		if err := srv.SendNotificationToClient(ctx, "notifications/progress", params); err != nil {
			logger.Debug("progress notification dropped: %v", err)
		}
	}
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// toMCPError maps a domain error onto its protocol error code
func toMCPError(message string, err error) error {
	code := ErrorCodeInternalError
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, os.ErrNotExist):
		code = ErrorCodeNotFound
	case errors.Is(err, pipeline.ErrSyncInProgress):
		code = ErrorCodeSyncInProgress
	case errors.Is(err, embedder.ErrModelUnavailable):
		code = ErrorCodeModelUnavailable
	case errors.Is(err, storage.ErrInvalidFilter),
		errors.Is(err, storage.ErrInvalidSort),
		errors.Is(err, storage.ErrInvalidPage),
		errors.Is(err, searcher.ErrInvalidMode),
		errors.Is(err, source.ErrUnsupported),
		errors.Is(err, source.ErrUndecodable):
		code = ErrorCodeInvalidParams
	}
	if code == ErrorCodeInternalError {
		logger.Error("%s: %v", message, err)
	}
	return newMCPError(code, message, map[string]interface{}{
		"error": err.Error(),
	})
}

// arguments returns the call's argument object; a call without arguments
// yields an empty map
func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

// decodeArguments re-decodes the argument object into a typed struct
func decodeArguments(request mcp.CallToolRequest, v interface{}) error {
	if request.Params.Arguments == nil {
		return nil
	}
	raw, err := json.Marshal(request.Params.Arguments)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// validatePath checks that a sync source exists and is readable
func validatePath(path string) error {
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	if !info.IsDir() {
		f, err := os.Open(path)
		if err != nil {
			return ErrPathNotReadable
		}
		_ = f.Close()
	}
	return nil
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
)
