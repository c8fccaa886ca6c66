package chunker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ankur0405/personal-documents-handler/pkg/types"
)

const (
	// DefaultChunkSize is the window length in characters
	DefaultChunkSize = 1000

	// DefaultOverlap is the number of characters shared by adjacent windows
	DefaultOverlap = 200
)

// ErrInvalidWindow is returned when size and overlap leave no forward stride.
var ErrInvalidWindow = errors.New("invalid chunk window")

// Window is one slice of a unit's text and its character offset.
type Window struct {
	Start int
	Text  string
}

// Chunker splits extracted units into overlapping fixed-size windows and
// turns each window into a candidate record.
type Chunker struct {
	size    int
	overlap int
}

// New creates a Chunker. overlap must be strictly less than size.
func New(size, overlap int) (*Chunker, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the configured window length.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

func validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: size %d must be positive", ErrInvalidWindow, size)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: overlap %d must not be negative", ErrInvalidWindow, overlap)
	}
	if overlap >= size {
		return fmt.Errorf("%w: overlap %d must be less than size %d", ErrInvalidWindow, overlap, size)
	}
	return nil
}

// Split cuts text into windows. Window i starts at i*(size-overlap) and holds
// at most size characters; the sequence stops with the first window that
// reaches the end of the text. Offsets count runes, not bytes.
func Split(text string, size, overlap int) ([]Window, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}

	stride := size - overlap
	windows := make([]Window, 0, len(runes)/stride+1)
	for start := 0; ; start += stride {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		windows = append(windows, Window{Start: start, Text: string(runes[start:end])})
		if end == len(runes) {
			break
		}
	}
	return windows, nil
}

// Split applies the configured window to text.
func (c *Chunker) Split(text string) []Window {
	// validated in New
	windows, _ := Split(text, c.size, c.overlap)
	return windows
}

// Records builds one candidate record per non-blank window of every unit.
// Vectors are left nil for the embedding stage to fill.
func (c *Chunker) Records(meta types.FileMeta, units []types.Unit) []types.FileRecord {
	var records []types.FileRecord
	for _, u := range units {
		page := u.Index
		if page < 1 {
			page = 1
		}
		for _, w := range c.Split(u.Text) {
			if strings.TrimSpace(w.Text) == "" {
				continue
			}
			records = append(records, types.FileRecord{
				ID:            types.ChunkID(meta.ContentHash, page, w.Start),
				ContentHash:   meta.ContentHash,
				FilePath:      meta.Path,
				Filename:      meta.Filename(),
				FileType:      meta.FileType(),
				FileSizeBytes: meta.SizeBytes,
				CreationDate:  meta.CreationDate,
				LastModified:  meta.ModTime,
				PageNumber:    page,
				Content:       w.Text,
				Category:      types.DefaultCategory,
			})
		}
	}
	return records
}

// EmbeddingText is the text sent to the embedding model for a record. The
// filename and page anchor the vector to the document's identity.
func EmbeddingText(r *types.FileRecord) string {
	return fmt.Sprintf("Filename: %s Page: %d Content: %s", r.Filename, r.PageNumber, r.Content)
}

// EmbeddingTexts maps EmbeddingText over records.
func EmbeddingTexts(records []types.FileRecord) []string {
	texts := make([]string, len(records))
	for i := range records {
		texts[i] = EmbeddingText(&records[i])
	}
	return texts
}
