package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/ankur0405/personal-documents-handler/internal/changes"
	"github.com/ankur0405/personal-documents-handler/internal/identity"
	"github.com/ankur0405/personal-documents-handler/pkg/types"
)

// scanBatchSize is the number of skeletons merged per store call.
const scanBatchSize = 100

// ScanResult reports a metadata scan.
type ScanResult struct {
	Root         string
	FilesSeen    int
	Inserted     int // Skeleton rows written
	Known        int // Files that already had rows
	Duplicates   int // Files whose content already has a skeleton row
	FilesSkipped int // Unreadable or oversized files
	Duration     time.Duration
}

// Scan registers every supported file under root as a metadata skeleton:
// id = content hash, empty content, zero vector. Files that already have
// rows are left untouched. Skeletons are stale by construction, so the
// next Sync extracts and embeds them. Skeleton ids are content hashes, so
// a file repeating content that already has a skeleton is counted as a
// duplicate and left to Sync.
func (idx *Indexer) Scan(ctx context.Context, root string) (*ScanResult, error) {
	root, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}
	if err := idx.lock.acquire("scan", idx.now()); err != nil {
		return nil, err
	}
	defer idx.lock.release()

	start := idx.now()
	log := idx.logger.With("op", "scan")
	res := &ScanResult{Root: root}

	walked, err := idx.walk(ctx, root, log)
	if err != nil {
		return nil, err
	}
	res.FilesSeen = len(walked.files)
	res.FilesSkipped = walked.oversized

	known := make(map[string]bool)
	skeletons := make(map[string]bool) // content hashes with a skeleton row
	err = idx.store.ScanRows(ctx, func(r changes.Row) error {
		known[r.FilePath] = true
		if r.ID == r.ContentHash {
			skeletons[r.ContentHash] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load persisted rows: %w", err)
	}

	dim := idx.embedder.Dimension()
	batch := make([]types.FileRecord, 0, scanBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := idx.store.UpsertRecords(ctx, batch)
		if err != nil {
			return fmt.Errorf("store skeletons: %w", err)
		}
		res.Inserted += n
		batch = batch[:0]
		return nil
	}

	for _, st := range walked.files {
		if known[st.Path] {
			res.Known++
			continue
		}
		if err := ctx.Err(); err != nil {
			res.Duration = idx.now().Sub(start)
			return res, err
		}
		hash, err := identity.Hash(st.Path)
		if err != nil {
			log.Warn("skipping file", "path", st.Path, "error", err)
			res.FilesSkipped++
			continue
		}
		if skeletons[hash] {
			log.Debug("content already registered", "path", st.Path, "hash", hash)
			res.Duplicates++
			continue
		}
		skeletons[hash] = true
		meta := types.FileMeta{
			Path:         st.Path,
			ContentHash:  hash,
			SizeBytes:    st.SizeBytes,
			CreationDate: st.CreationDate,
			ModTime:      st.ModTime,
		}
		batch = append(batch, meta.Skeleton(dim))
		if len(batch) == scanBatchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	res.Duration = idx.now().Sub(start)
	log.Info("scan finished", "files", res.FilesSeen, "inserted", res.Inserted, "known", res.Known, "duplicates", res.Duplicates, "skipped", res.FilesSkipped)
	return res, nil
}

// Dedupe removes rows that repeat an id or an older content version of
// their path. The first row seen wins. Rows are deleted individually, so
// an interrupted run never loses a survivor.
func (idx *Indexer) Dedupe(ctx context.Context) (int, error) {
	if err := idx.lock.acquire("dedupe", idx.now()); err != nil {
		return 0, err
	}
	defer idx.lock.release()

	rows, err := idx.loadRows(ctx)
	if err != nil {
		return 0, err
	}
	dupes := changes.Duplicates(rows)
	if len(dupes) == 0 {
		return 0, nil
	}
	n, err := idx.store.DeleteRows(ctx, dupes)
	if err != nil {
		return 0, fmt.Errorf("remove duplicate rows: %w", err)
	}
	idx.logger.Info("removed duplicate rows", "count", n, "rows_scanned", len(rows))
	return n, nil
}
