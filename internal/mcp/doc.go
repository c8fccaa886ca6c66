// Package mcp implements the Model Context Protocol (MCP) server for the
// personal documents index.
//
// The server exposes three tools to MCP clients:
//   - sync_documents: bring the index up to date with the document root
//   - search_documents: semantic search over indexed chunks
//   - get_status: index statistics and the last sync run
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server is started by the mcp command:
//
//	pdh mcp --config ~/.config/pdh/config.yaml
//
// Logs go to stderr so they never corrupt the protocol stream on stdout.
//
// # Tool: sync_documents
//
//	Request:
//	{
//	  "name": "sync_documents",
//	  "arguments": {"path": "/home/me/Documents"}
//	}
//
//	Response:
//	{
//	  "chunks_written": 42,
//	  "files_indexed": 3,
//	  "files_deleted": 1,
//	  "files_failed": 0,
//	  "changed": true,
//	  "duration_ms": 5230
//	}
//
// path is optional. The index covers a single root, so when a root is
// configured the path must name that same directory.
//
// # Tool: search_documents
//
//	Request:
//	{
//	  "name": "search_documents",
//	  "arguments": {"query": "passport renewal", "limit": 5}
//	}
//
//	Response:
//	{
//	  "results": [
//	    {
//	      "id": "3f2a..._p2_0",
//	      "filename": "passport.pdf",
//	      "file_path": "/home/me/Documents/passport.pdf",
//	      "page_number": 2,
//	      "content": "...",
//	      "score": 0.81
//	    }
//	  ],
//	  "total": 1,
//	  "cache_hit": false
//	}
//
// # Tool: get_status
//
// Takes no arguments and returns row counts, the pinned index settings
// (model, dimension, metric) and the last sync run.
//
// # Error Codes
//
//	-32602  Invalid params (bad limit, foreign or relative path)
//	-32603  Internal error
//	-32001  Document root not found
//	-32002  Sync already in progress
//	-32003  Index incompatible with the configured embedder
//	-32004  Empty query
package mcp
