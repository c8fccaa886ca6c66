// Package httpapi serves the document index over a small JSON API.
//
//	GET  /api/health             liveness
//	GET  /api/search?q=&limit=   semantic search (msgpack when Accept asks for it)
//	POST /api/sync               run one sync cycle; 409 while another runs
//	GET  /api/status             index statistics and the last sync run
package httpapi
