// Package types provides shared type definitions for the document indexer.
//
// # Records
//
// FileRecord is the persisted unit. Metadata skeletons use the content hash
// as their id; chunk records use ChunkID:
//
//	rec := types.FileRecord{
//	    ID:          types.ChunkID(hash, 2, 800),
//	    ContentHash: hash,
//	    FilePath:    "/docs/report.pdf",
//	    Filename:    "report.pdf",
//	    FileType:    types.StorageType(".pdf"),
//	    PageNumber:  2,
//	    Content:     window,
//	}
//
// A zero vector means "not yet embedded". Records with a zero vector are
// never returned by search and are always treated as stale by change
// detection.
//
// # Extensions
//
// Extensions exist in two forms. Dispatch tables use the lower-case,
// dot-prefixed form returned by NormalizeExt (".pdf"); records store the
// dot-stripped form returned by StorageType ("pdf").
//
// # Scores
//
// Metric.Score converts a store distance into a confidence in [0, 1]:
//
//	types.MetricL2.Score(0)       // 1.0
//	types.MetricL2.Score(1)       // 0.5
//	types.MetricCosine.Score(0.2) // 0.8
package types
