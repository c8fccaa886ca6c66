// Package indexer keeps the document index in step with a directory tree.
//
// A sync cycle runs these stages in order:
//
//  1. Walk the root, leaving out hidden directories, ._ shadow files,
//     symlinks, unsupported extensions and oversized files.
//  2. Load the metadata of every persisted row and build a change plan
//     (see package changes).
//  3. Remove duplicate rows, then every row of a stale or missing path.
//     When every indexed path is affected the table is cleared in one
//     statement instead.
//  4. Hash the remaining tasks. Content that is already indexed under
//     another path is remembered as a duplicate and not extracted.
//  5. Work through the tasks in batches of Config.Workers files: extract
//     in a fresh worker pool, chunk, embed once per batch, upsert.
//
// A batch whose embedding or store call fails is logged, counted and
// dropped; its files stay stale and are retried by the next cycle.
// Cancelling the context stops the cycle between batches.
//
// Only one cycle runs at a time per Indexer; a concurrent call gets
// ErrSyncInProgress.
//
//	idx := indexer.New(store, emb, chunks, table, pools, indexer.Config{Workers: 4})
//	res, err := idx.Sync(ctx, "/Volumes/Documents")
package indexer
