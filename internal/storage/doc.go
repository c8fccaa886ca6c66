// Package storage provides SQLite-based persistence for indexed documents.
//
// The storage layer manages:
//   - Document records: one row per indexed chunk, with its vector
//   - Index settings fixed on first use (model, dimension, metric)
//   - Files skipped by earlier syncs
//   - Sync run history
//
// # Database Schema
//
// Tables:
//   - documents: records keyed by a non-unique id; rowid orders insertion
//   - meta: key/value index settings
//   - skipped_files: files that produced no record, keyed by path
//   - sync_runs: one row per sync cycle
//   - schema_version: applied migrations
//
// Vectors are stored as little-endian float32 blobs. Only rows with a
// non-zero vector (embedded = 1) take part in similarity search.
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("~/.pdh/index.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.EnsureIndexSettings(ctx, storage.IndexSettings{
//	    Model:     "nomic-embed-text",
//	    Dimension: 768,
//	    Metric:    types.MetricL2,
//	}); err != nil {
//	    return err // ErrSchemaMismatch: the store was built with another model
//	}
//
//	n, err := db.UpsertRecords(ctx, records)
//
// UpsertRecords and AppendRecords write a whole batch in one transaction.
// DeleteByPaths bounds the number of paths per statement; DeleteRows removes
// exact rows, which is how duplicate ids are collapsed.
//
// # Build Modes
//
// CGO Build (sqlite_vec tag):
//   - Driver: github.com/mattn/go-sqlite3
//   - sqlite-vec registered at init; distances computed in SQL
//   - Build: CGO_ENABLED=1 go build -tags "sqlite_vec"
//
// Pure Go Build (default):
//   - Driver: modernc.org/sqlite
//   - Distances computed in Go over embedded rows
//   - Build: CGO_ENABLED=0 go build
//
// Check build mode at runtime:
//
//	fmt.Println(storage.BuildMode) // "cgo" or "purego"
//
// # Concurrency
//
// The connection pool holds a single connection, so writes are serialized
// by the driver. ScanRows holds that connection while it runs: its callback
// must not call back into the store.
package storage
