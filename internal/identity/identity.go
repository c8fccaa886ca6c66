// Package identity computes path-independent content hashes for files.
package identity

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// ShadowPrefix marks resource-fork shadow files written by macOS on
// foreign filesystems. They share headers with the real file.
const ShadowPrefix = "._"

// BlockSize is the read size used when streaming a file through the hash.
const BlockSize = 8 * 1024

// ErrShadowFile is returned when asked to hash a metadata shadow file.
var ErrShadowFile = errors.New("metadata shadow file")

// IsShadow reports whether path names a metadata shadow file.
func IsShadow(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ShadowPrefix)
}

// Hash streams the file at path through xxh3 and returns the 64-bit digest
// as 16 lower-case hex digits. Open and read failures are returned wrapped;
// callers skip the file and keep going.
func Hash(path string) (string, error) {
	if IsShadow(path) {
		return "", fmt.Errorf("%s: %w", path, ErrShadowFile)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	return HashReader(f)
}

// HashReader hashes everything readable from r.
func HashReader(r io.Reader) (string, error) {
	h := xxh3.New()
	buf := make([]byte, BlockSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	return format(h.Sum64()), nil
}

func format(sum uint64) string {
	s := strconv.FormatUint(sum, 16)
	if len(s) < 16 {
		s = strings.Repeat("0", 16-len(s)) + s
	}
	return s
}
