package identity

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/xxh3"
)

// oneShot is the single-call digest that the streaming hash must agree with.
func oneShot(b []byte) string {
	return format(xxh3.Hash(b))
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0644))
	return p
}

func TestHash_StableAcrossPaths(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte("quarterly tax statement "), 2000)

	a := writeFile(t, dir, "a.pdf", content)
	b := writeFile(t, dir, "renamed copy.pdf", content)

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 16)
	assert.Equal(t, oneShot(content), ha)
}

func TestHash_DifferentContent(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", []byte("alpha"))
	b := writeFile(t, dir, "b.txt", []byte("alphb"))

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestHash_EmptyFile(t *testing.T) {
	p := writeFile(t, t.TempDir(), "empty.txt", nil)
	h, err := Hash(p)
	require.NoError(t, err)
	assert.Equal(t, oneShot(nil), h)
}

func TestHash_ShadowFileRejected(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "._report.pdf", []byte("%PDF-1.4"))

	assert.True(t, IsShadow(p))
	assert.False(t, IsShadow(filepath.Join(dir, "report.pdf")))

	_, err := Hash(p)
	assert.ErrorIs(t, err, ErrShadowFile)
}

func TestHash_MissingFile(t *testing.T) {
	_, err := Hash(filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestHash_PermissionDenied(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits not enforced")
	}
	p := writeFile(t, t.TempDir(), "locked.txt", []byte("secret"))
	require.NoError(t, os.Chmod(p, 0))
	t.Cleanup(func() { _ = os.Chmod(p, 0644) })

	_, err := Hash(p)
	assert.ErrorIs(t, err, os.ErrPermission)
}
