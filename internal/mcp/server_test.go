package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/bookshelf-mcp/internal/app"
	"github.com/dshills/bookshelf-mcp/internal/app/apptest"
	"github.com/dshills/bookshelf-mcp/internal/pipeline"
)

type handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	upstream := apptest.NewUpstream(t, apptest.Work{
		Key:         "/works/OL893415W",
		Title:       "Dune",
		Authors:     []string{"Frank Herbert"},
		Subjects:    []string{"Science fiction", "Desert"},
		Description: "A desert planet and its spice.",
		Year:        1965,
	})

	a, err := app.New(upstream.Config(dir), upstream.Client(), app.WithRuntime(apptest.Runtime))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	page := apptest.WriteLibraryPage(t, dir,
		apptest.Book{ID: "X1", Title: "Dune", Authors: []string{"Frank Herbert"}},
		apptest.Book{ID: "X2", Title: "Foundation", Authors: []string{"Isaac Asimov"}},
	)
	return NewServer(a), page
}

func call(t *testing.T, h handler, args map[string]interface{}) (map[string]interface{}, error) {
	t.Helper()
	var req mcp.CallToolRequest
	if args != nil {
		req.Params.Arguments = args
	}
	result, err := h(context.Background(), req)
	if err != nil {
		return nil, err
	}
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out, nil
}

func errorCode(t *testing.T, err error) int {
	t.Helper()
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected MCPError, got %v", err)
	return mcpErr.Code
}

func syncPage(t *testing.T, s *Server, page string) map[string]interface{} {
	t.Helper()
	out, err := call(t, s.handleSyncLibrary, map[string]interface{}{"source": page})
	require.NoError(t, err)
	return out
}

func TestServer_ToolsRegistered(t *testing.T) {
	s, _ := newTestServer(t)

	msg := json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)
	resp := s.mcp.HandleMessage(context.Background(), msg)
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	var names []string
	for _, tool := range decoded.Result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"sync_library", "search", "browse", "get_book", "list_subjects",
		"get_stats", "model_status", "download_model", "clear_enrichment", "export_catalog",
	}, names)
}

func TestServer_SyncLibrary(t *testing.T) {
	s, page := newTestServer(t)

	t.Run("imports and enriches", func(t *testing.T) {
		out := syncPage(t, s, page)
		assert.EqualValues(t, 2, out["imported"])
		assert.EqualValues(t, 1, out["enriched"])
		assert.EqualValues(t, 1, out["not_found"])
		assert.Equal(t, true, out["embed_skipped"])
		assert.NotEmpty(t, out["run_id"])
	})

	t.Run("resume only without source", func(t *testing.T) {
		out, err := call(t, s.handleSyncLibrary, nil)
		require.NoError(t, err)
		assert.EqualValues(t, 0, out["imported"])
	})

	t.Run("relative source", func(t *testing.T) {
		_, err := call(t, s.handleSyncLibrary, map[string]interface{}{"source": "library.html"})
		assert.Equal(t, ErrorCodeInvalidParams, errorCode(t, err))
	})

	t.Run("missing source", func(t *testing.T) {
		_, err := call(t, s.handleSyncLibrary, map[string]interface{}{
			"source": filepath.Join(t.TempDir(), "missing.html"),
		})
		assert.Equal(t, ErrorCodeNotFound, errorCode(t, err))
	})

	t.Run("sync in progress", func(t *testing.T) {
		lease := pipeline.NewFileLease(s.app.Config.DBPath + ".sync.lock")
		ok, err := lease.TryAcquire()
		require.NoError(t, err)
		require.True(t, ok)
		defer func() { _ = lease.Release() }()

		_, err = call(t, s.handleSyncLibrary, nil)
		assert.Equal(t, ErrorCodeSyncInProgress, errorCode(t, err))
	})
}

func TestServer_Search(t *testing.T) {
	s, page := newTestServer(t)
	syncPage(t, s, page)

	t.Run("falls back to keyword without model", func(t *testing.T) {
		out, err := call(t, s.handleSearch, map[string]interface{}{"q": "spice"})
		require.NoError(t, err)
		assert.Equal(t, "fts", out["mode"])
		assert.Equal(t, true, out["fell_back"])
		assert.EqualValues(t, 1, out["count"])
	})

	t.Run("semantic without model", func(t *testing.T) {
		out, err := call(t, s.handleSearch, map[string]interface{}{"q": "spice", "mode": "semantic"})
		require.NoError(t, err)
		assert.EqualValues(t, 0, out["count"])
		assert.Contains(t, out["message"], "download_model")
	})

	t.Run("empty query", func(t *testing.T) {
		_, err := call(t, s.handleSearch, map[string]interface{}{"q": "   "})
		assert.Equal(t, ErrorCodeEmptyQuery, errorCode(t, err))
	})

	t.Run("invalid mode", func(t *testing.T) {
		_, err := call(t, s.handleSearch, map[string]interface{}{"q": "dune", "mode": "hybrid"})
		assert.Equal(t, ErrorCodeInvalidParams, errorCode(t, err))
	})

	t.Run("limit out of range", func(t *testing.T) {
		_, err := call(t, s.handleSearch, map[string]interface{}{"q": "dune", "limit": float64(500)})
		assert.Equal(t, ErrorCodeInvalidParams, errorCode(t, err))
	})
}

func TestServer_BrowseAndLookups(t *testing.T) {
	s, page := newTestServer(t)
	syncPage(t, s, page)

	t.Run("browse with filter", func(t *testing.T) {
		out, err := call(t, s.handleBrowse, map[string]interface{}{
			"filters": []interface{}{
				map[string]interface{}{"field": "author", "operator": "contains", "value": "asimov"},
			},
		})
		require.NoError(t, err)
		assert.EqualValues(t, 1, out["total"])
		items := out["items"].([]interface{})
		require.Len(t, items, 1)
		assert.Equal(t, "X2", items[0].(map[string]interface{})["id"])
	})

	t.Run("browse bad sort", func(t *testing.T) {
		_, err := call(t, s.handleBrowse, map[string]interface{}{"sort_by": "price"})
		assert.Equal(t, ErrorCodeInvalidParams, errorCode(t, err))
	})

	t.Run("browse unknown argument", func(t *testing.T) {
		_, err := call(t, s.handleBrowse, map[string]interface{}{"colour": "red"})
		assert.Equal(t, ErrorCodeInvalidParams, errorCode(t, err))
	})

	t.Run("get book", func(t *testing.T) {
		out, err := call(t, s.handleGetBook, map[string]interface{}{"id": "X1"})
		require.NoError(t, err)
		assert.Equal(t, "Dune", out["title"])
		enrichment := out["enrichment"].(map[string]interface{})
		assert.Equal(t, "A desert planet and its spice.", enrichment["description"])
	})

	t.Run("get missing book", func(t *testing.T) {
		_, err := call(t, s.handleGetBook, map[string]interface{}{"id": "NOPE"})
		assert.Equal(t, ErrorCodeNotFound, errorCode(t, err))
	})

	t.Run("get book without id", func(t *testing.T) {
		_, err := call(t, s.handleGetBook, map[string]interface{}{})
		assert.Equal(t, ErrorCodeInvalidParams, errorCode(t, err))
	})

	t.Run("subjects", func(t *testing.T) {
		out, err := call(t, s.handleListSubjects, nil)
		require.NoError(t, err)
		assert.EqualValues(t, 2, out["count"])
		assert.ElementsMatch(t, []interface{}{"Science fiction", "Desert"}, out["subjects"])
	})

	t.Run("stats", func(t *testing.T) {
		out, err := call(t, s.handleGetStats, nil)
		require.NoError(t, err)
		stats := out["statistics"].(map[string]interface{})
		assert.EqualValues(t, 2, stats["total_records"])
		assert.EqualValues(t, 1, stats["enriched_count"])
		assert.EqualValues(t, 1, stats["not_found_count"])
	})
}

func TestServer_ModelTools(t *testing.T) {
	s, page := newTestServer(t)
	syncPage(t, s, page)

	out, err := call(t, s.handleModelStatus, nil)
	require.NoError(t, err)
	assert.Equal(t, false, out["available"])

	out, err = call(t, s.handleDownloadModel, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["available"])

	out = syncPage(t, s, page)
	assert.EqualValues(t, 2, out["embedded"])

	out, err = call(t, s.handleSearch, map[string]interface{}{"q": "desert planet spice"})
	require.NoError(t, err)
	assert.Equal(t, "semantic", out["mode"])
	assert.Equal(t, false, out["fell_back"])
}

func TestServer_ClearEnrichment(t *testing.T) {
	s, page := newTestServer(t)
	syncPage(t, s, page)

	t.Run("rejects non-string ids", func(t *testing.T) {
		_, err := call(t, s.handleClearEnrichment, map[string]interface{}{"ids": []interface{}{float64(1)}})
		assert.Equal(t, ErrorCodeInvalidParams, errorCode(t, err))
	})

	t.Run("clears listed ids", func(t *testing.T) {
		out, err := call(t, s.handleClearEnrichment, map[string]interface{}{"ids": []interface{}{"X1"}})
		require.NoError(t, err)
		assert.EqualValues(t, 1, out["cleared"])

		book, err := call(t, s.handleGetBook, map[string]interface{}{"id": "X1"})
		require.NoError(t, err)
		assert.Nil(t, book["enrichment"])
	})
}

func TestServer_ExportCatalog(t *testing.T) {
	s, page := newTestServer(t)
	syncPage(t, s, page)

	t.Run("writes csv", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "catalog.csv")
		out, err := call(t, s.handleExportCatalog, map[string]interface{}{
			"path":               path,
			"include_enrichment": true,
		})
		require.NoError(t, err)
		assert.EqualValues(t, 2, out["records"])
		assert.FileExists(t, path)
	})

	t.Run("relative path", func(t *testing.T) {
		_, err := call(t, s.handleExportCatalog, map[string]interface{}{"path": "catalog.csv"})
		assert.Equal(t, ErrorCodeInvalidParams, errorCode(t, err))
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := call(t, s.handleExportCatalog, map[string]interface{}{})
		assert.Equal(t, ErrorCodeInvalidParams, errorCode(t, err))
	})
}
