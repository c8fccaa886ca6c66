package types

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultCategory is stored in Category until a classifier fills it in.
const DefaultCategory = "Unsorted"

// FileRecord is one indexed content unit: a whole file in skeleton mode or
// one chunk of one page in chunked mode.
type FileRecord struct {
	ID            string
	ContentHash   string
	FilePath      string // Absolute path
	Filename      string
	FileType      string // Lower-case extension without the dot
	FileSizeBytes int64
	CreationDate  float64 // Unix seconds
	LastModified  float64 // Unix seconds; processing time once embedded
	PageNumber    int
	Content       string
	Vector        []float32
	Summary       string
	Category      string
}

// Validate checks the fields every persisted record must carry.
func (r *FileRecord) Validate() error {
	if r.ID == "" {
		return ErrEmptyRecordID
	}
	if r.ContentHash == "" {
		return ErrEmptyContentHash
	}
	if r.FilePath == "" {
		return ErrEmptyFilePath
	}
	if r.PageNumber < 1 {
		return ErrInvalidPage
	}
	return nil
}

// Embedded reports whether the record carries a real vector.
func (r *FileRecord) Embedded() bool {
	return len(r.Vector) > 0 && !IsZeroVector(r.Vector)
}

// Unit is one natural subdivision of a document: a PDF page, a slide, or
// unit 1 for formats without pagination.
type Unit struct {
	Index int    `msgpack:"index"`
	Text  string `msgpack:"text"`
}

// WholeFileID is the record id used by metadata skeletons.
func WholeFileID(contentHash string) string {
	return contentHash
}

// ChunkID builds the id of the chunk starting at offset within unit.
// The same content processed twice yields the same ids.
func ChunkID(contentHash string, unit, offset int) string {
	return fmt.Sprintf("%s_p%d_%d", contentHash, unit, offset)
}

// NormalizeExt returns the lower-cased, dot-prefixed extension used for
// dispatch lookups.
func NormalizeExt(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// StorageType returns the dot-stripped extension stored in FileType.
func StorageType(ext string) string {
	return strings.TrimPrefix(strings.ToLower(ext), ".")
}

// DispatchExt converts a stored FileType back to its lookup form.
func DispatchExt(fileType string) string {
	if fileType == "" || strings.HasPrefix(fileType, ".") {
		return strings.ToLower(fileType)
	}
	return "." + strings.ToLower(fileType)
}

// ZeroVector returns the "not yet embedded" sentinel of dimension dim.
func ZeroVector(dim int) []float32 {
	return make([]float32, dim)
}

// IsZeroVector reports whether every component of v is zero.
// An empty vector counts as zero.
func IsZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// FileMeta is the filesystem state captured for one file at scan time.
type FileMeta struct {
	Path         string
	ContentHash  string
	SizeBytes    int64
	CreationDate float64
	ModTime      float64
}

// Filename returns the base name of the file.
func (m FileMeta) Filename() string {
	return filepath.Base(m.Path)
}

// FileType returns the stored form of the file extension.
func (m FileMeta) FileType() string {
	return StorageType(NormalizeExt(m.Path))
}

// Skeleton builds the metadata-only record written by a scan: the id is the
// content hash, the vector is zero and the content is empty.
func (m FileMeta) Skeleton(dim int) FileRecord {
	return FileRecord{
		ID:            WholeFileID(m.ContentHash),
		ContentHash:   m.ContentHash,
		FilePath:      m.Path,
		Filename:      m.Filename(),
		FileType:      m.FileType(),
		FileSizeBytes: m.SizeBytes,
		CreationDate:  m.CreationDate,
		LastModified:  m.ModTime,
		PageNumber:    1,
		Vector:        ZeroVector(dim),
		Category:      DefaultCategory,
	}
}
