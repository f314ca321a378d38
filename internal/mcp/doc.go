// Package mcp exposes a personal book library over the Model Context
// Protocol (MCP).
//
// Ten tools are registered:
//   - sync_library: import a Kindle export, enrich and embed new books
//   - search: semantic or keyword search
//   - browse: structured filters, sort and pagination
//   - get_book, list_subjects, get_stats: read-only lookups
//   - model_status, download_model: manage the local embedding model
//   - clear_enrichment: forget looked-up details so they are fetched again
//   - export_catalog: write the library as CSV
//
// # Basic Usage
//
// The server is started by the serve command and speaks JSON-RPC 2.0 over
// stdio:
//
//	bookshelf serve
//
// # Tool: sync_library
//
//	Request:
//	{
//	  "name": "sync_library",
//	  "arguments": {"source": "/home/me/Downloads/Kindle Library.html"}
//	}
//
//	Response:
//	{
//	  "run_id": "0b7c...",
//	  "imported": 412,
//	  "enriched": 398,
//	  "embedded": 412,
//	  "not_found": 14,
//	  "cancelled": false,
//	  "duration_ms": 183402,
//	  "errors": []
//	}
//
// When the request carries a progress token, each pipeline event is also
// sent as a notifications/progress message.
//
// # Tool: search
//
//	Request:
//	{
//	  "name": "search",
//	  "arguments": {"q": "desert planet politics", "mode": "auto", "limit": 10}
//	}
//
// An unpinned query runs semantically when the model is installed and as a
// keyword query otherwise; the response then reports "fell_back": true.
//
// # MCP Client Configuration
//
//	{
//	  "mcpServers": {
//	    "bookshelf": {
//	      "command": "/usr/local/bin/bookshelf",
//	      "args": ["serve"]
//	    }
//	  }
//	}
//
// # Error Handling
//
// Errors are JSON-RPC errors with a data object naming the offending
// parameter or the underlying cause:
//   - -32602: invalid params
//   - -32603: internal error
//   - -32001: book or source file not found
//   - -32002: another sync is running
//   - -32004: empty query
//   - -32005: embedding model not installed
//
// The server logs to stderr; stdout is reserved for the protocol.
package mcp
