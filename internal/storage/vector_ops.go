package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/ankur0405/personal-documents-handler/pkg/types"
)

// searchVector returns the nearest embedded records to queryVector
func searchVector(ctx context.Context, db *sql.DB, queryVector []float32, metric types.Metric, limit int) ([]VectorHit, error) {
	if limit <= 0 || len(queryVector) == 0 {
		return []VectorHit{}, nil
	}
	// Use optimized SQL-based search when sqlite-vec is available
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, db, queryVector, metric, limit)
	}
	// Fall back to Go-based computation for purego builds
	return searchVectorFallback(ctx, db, queryVector, metric, limit)
}

// distanceFunctions maps metrics to their sqlite-vec SQL function
var distanceFunctions = map[types.Metric]string{
	types.MetricL2:     "vec_distance_l2",
	types.MetricCosine: "vec_distance_cosine",
}

// searchVectorOptimized computes distances in SQL with sqlite-vec. Rows
// whose vector length differs from the query are never compared.
func searchVectorOptimized(ctx context.Context, db *sql.DB, queryVector []float32, metric types.Metric, limit int) ([]VectorHit, error) {
	fn, ok := distanceFunctions[metric]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownMetric, metric)
	}
	blob := serializeVector(queryVector)

	query := `
		SELECT rowid, ` + recordColumns + `, ` + fn + `(vector, ?) AS distance
		FROM documents
		WHERE embedded = 1 AND length(vector) = ?
		ORDER BY distance ASC
		LIMIT ?
	`
	rows, err := db.QueryContext(ctx, query, blob, len(blob), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]VectorHit, 0, limit)
	for rows.Next() {
		var hit VectorHit
		r, _, err := scanRecordWithDistance(rows, &hit.Distance)
		if err != nil {
			return nil, err
		}
		hit.Record = r
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func scanRecordWithDistance(rows *sql.Rows, distance *float64) (types.FileRecord, int64, error) {
	return scanRecord(distanceScanner{rows: rows, distance: distance}, false)
}

// distanceScanner appends the distance column to a record scan
type distanceScanner struct {
	rows     *sql.Rows
	distance *float64
}

func (d distanceScanner) Scan(dest ...interface{}) error {
	return d.rows.Scan(append(dest, d.distance)...)
}

// searchVectorFallback computes distances in Go over every embedded row.
// Only the best limit candidates are kept in memory.
func searchVectorFallback(ctx context.Context, db *sql.DB, queryVector []float32, metric types.Metric, limit int) ([]VectorHit, error) {
	distance, err := distanceFunc(metric)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT rowid, vector FROM documents WHERE embedded = 1")
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}

	var candidates []candidate
	for rows.Next() {
		var (
			rowID int64
			blob  []byte
		)
		if err := rows.Scan(&rowID, &blob); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		vector := deserializeVector(blob)
		if len(vector) != len(queryVector) {
			continue // Dimension mismatch, skip
		}
		candidates = append(candidates, candidate{rowID: rowID, distance: distance(queryVector, vector)})
		if len(candidates) >= 4*limit {
			sortCandidates(candidates)
			candidates = candidates[:limit]
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	sortCandidates(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return loadHits(ctx, db, candidates)
}

// loadHits fetches the records of the ranked candidates, keeping their order
func loadHits(ctx context.Context, db *sql.DB, candidates []candidate) ([]VectorHit, error) {
	hits := make([]VectorHit, 0, len(candidates))
	if len(candidates) == 0 {
		return hits, nil
	}

	args := make([]interface{}, len(candidates))
	for i, c := range candidates {
		args[i] = c.rowID
	}
	query := "SELECT rowid, " + recordColumns + " FROM documents WHERE rowid IN (" + placeholders(len(args)) + ")"
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load search hits: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byRow := make(map[int64]types.FileRecord, len(candidates))
	for rows.Next() {
		r, rowID, err := scanRecord(rows, false)
		if err != nil {
			return nil, err
		}
		byRow[rowID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, c := range candidates {
		r, ok := byRow[c.rowID]
		if !ok {
			continue // Deleted between the two queries
		}
		hits = append(hits, VectorHit{Record: r, Distance: c.distance})
	}
	return hits, nil
}

func distanceFunc(metric types.Metric) (func(a, b []float32) float64, error) {
	switch metric {
	case types.MetricL2:
		return l2Distance, nil
	case types.MetricCosine:
		return cosineDistance, nil
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownMetric, metric)
	}
}

// serializeVector converts a float32 slice to a byte blob (little-endian),
// the layout sqlite-vec reads
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// l2Distance is the Euclidean distance between two vectors
func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// cosineDistance is 1 minus the cosine similarity. A zero vector is at
// distance 1 from everything.
func cosineDistance(a, b []float32) float64 {
	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dotProduct/(math.Sqrt(normA)*math.Sqrt(normB))
}

// candidate represents a row with its distance to the query
type candidate struct {
	rowID    int64
	distance float64
}

// sortCandidates sorts candidates by distance, nearest first, breaking ties
// by insertion order
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].rowID < candidates[j].rowID
	})
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}
