//go:build purego || !sqlite_vec

package storage

// This file is compiled by default and with the purego tag. It uses a pure
// Go SQLite implementation; distances are computed in Go over a full scan
// of embedded rows.
//
// Build command:
//   CGO_ENABLED=0 go build ./...
//
// Driver used: modernc.org/sqlite

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = false

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
