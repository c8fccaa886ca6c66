package indexer

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/ankur0405/personal-documents-handler/internal/changes"
	"github.com/ankur0405/personal-documents-handler/internal/identity"
)

type walkResult struct {
	files     []changes.FileState
	oversized int
}

// walk lists the supported files under root. Hidden directories, metadata
// shadow files, symlinks and files above MaxFileSize are left out.
// Unreadable directories are logged and skipped.
func (idx *Indexer) walk(ctx context.Context, root string, log *slog.Logger) (*walkResult, error) {
	res := &walkResult{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				return err
			}
			log.Warn("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()
		if d.IsDir() {
			if path != root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 || !d.Type().IsRegular() {
			return nil
		}
		if identity.IsShadow(name) || !idx.table.Supports(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			log.Warn("skipping unreadable file", "path", path, "error", err)
			return nil
		}
		if idx.cfg.MaxFileSize > 0 && info.Size() > idx.cfg.MaxFileSize {
			log.Info("skipping oversized file", "path", path, "size", info.Size())
			res.oversized++
			return nil
		}
		res.files = append(res.files, changes.StateOf(path, info))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
