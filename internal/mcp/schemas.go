package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ankur0405/personal-documents-handler/internal/searcher"
)

// syncDocumentsTool returns the tool definition for sync_documents
func syncDocumentsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "sync_documents",
		Description: "Bring the document index up to date with the files on disk. New and modified files are extracted and embedded, deleted files are removed.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Document root to sync. Defaults to the configured root and must match it when one is configured.",
				},
			},
		},
	}
}

// searchDocumentsTool returns the tool definition for search_documents
func searchDocumentsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_documents",
		Description: "Search indexed personal documents with a natural language query. Returns matching chunks with file, page and score.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     searcher.DefaultLimit,
					"minimum":     1,
					"maximum":     searcher.MaxLimit,
				},
			},
			Required: []string{"query"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index statistics and the outcome of the last sync",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
