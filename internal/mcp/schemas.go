package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/bookshelf-mcp/internal/searcher"
	"github.com/dshills/bookshelf-mcp/internal/storage"
)

func noArgs() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: map[string]interface{}{},
	}
}

// syncLibraryTool returns the tool definition for sync_library
func syncLibraryTool() mcp.Tool {
	return mcp.Tool{
		Name: "sync_library",
		Description: "Import a Kindle library export, then look up missing bibliographic details and " +
			"embed new books. Without a source only outstanding enrichment and embedding work runs.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"source": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to a saved library page, web archive, .mhtml file or Amazon data export folder",
				},
			},
		},
	}
}

// searchTool returns the tool definition for search
func searchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search",
		Description: "Search the library by meaning or by keywords",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"q": map[string]interface{}{
					"type":        "string",
					"description": "Search text",
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "semantic, fts (or keyword), or auto to use semantic when the model is installed",
					"enum":        []string{"auto", string(searcher.ModeSemantic), string(searcher.ModeFTS), string(searcher.ModeKeyword)},
					"default":     "auto",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results",
					"default":     searcher.DefaultLimit,
					"minimum":     1,
					"maximum":     searcher.MaxLimit,
				},
			},
			Required: []string{"q"},
		},
	}
}

// browseTool returns the tool definition for browse
func browseTool() mcp.Tool {
	return mcp.Tool{
		Name:        "browse",
		Description: "List books with structured filters, sorting and pagination",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"filters": map[string]interface{}{
					"type":        "array",
					"description": "Predicates that must all hold",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"field": map[string]interface{}{
								"type": "string",
								"enum": []string{storage.FieldAll, storage.FieldTitle, storage.FieldAuthor, storage.FieldDescription, storage.FieldSubject},
							},
							"operator": map[string]interface{}{
								"type":    "string",
								"enum":    []string{storage.OpContains, storage.OpHas},
								"default": storage.OpContains,
							},
							"value": map[string]interface{}{
								"type": "string",
							},
						},
						"required": []string{"field", "value"},
					},
				},
				"sort_by": map[string]interface{}{
					"type":    "string",
					"enum":    []string{storage.SortTitle, storage.SortAuthor, storage.SortYear},
					"default": storage.SortTitle,
				},
				"sort_dir": map[string]interface{}{
					"type":    "string",
					"enum":    []string{storage.SortAsc, storage.SortDesc},
					"default": storage.SortAsc,
				},
				"page": map[string]interface{}{
					"type":    "integer",
					"minimum": 1,
					"default": 1,
				},
				"per_page": map[string]interface{}{
					"type":    "integer",
					"minimum": 1,
					"maximum": storage.MaxPerPage,
					"default": storage.DefaultPerPage,
				},
			},
		},
	}
}

// getBookTool returns the tool definition for get_book
func getBookTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_book",
		Description: "Fetch one book with its enrichment",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "string",
					"description": "Book identifier (ASIN)",
				},
			},
			Required: []string{"id"},
		},
	}
}

func listSubjectsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_subjects",
		Description: "List every distinct subject in the library",
		InputSchema: noArgs(),
	}
}

func getStatsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_stats",
		Description: "Count books, enriched books, embedded books and catalog misses",
		InputSchema: noArgs(),
	}
}

func modelStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "model_status",
		Description: "Report whether the local embedding model is installed",
		InputSchema: noArgs(),
	}
}

func downloadModelTool() mcp.Tool {
	return mcp.Tool{
		Name:        "download_model",
		Description: "Download the local embedding model so semantic search becomes available",
		InputSchema: noArgs(),
	}
}

// clearEnrichmentTool returns the tool definition for clear_enrichment
func clearEnrichmentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "clear_enrichment",
		Description: "Forget looked-up details so the next sync fetches them again. Embeddings of cleared books are dropped too.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"ids": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Books to clear; omit to clear the whole library",
				},
			},
		},
	}
}

// exportCatalogTool returns the tool definition for export_catalog
func exportCatalogTool() mcp.Tool {
	return mcp.Tool{
		Name:        "export_catalog",
		Description: "Write the library to a CSV file",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path of the CSV file to write",
				},
				"include_enrichment": map[string]interface{}{
					"type":        "boolean",
					"description": "Add description, subjects, ISBN and year columns",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}
