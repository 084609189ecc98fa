package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseDir: "  "})
	require.Error(t, err)
	require.Contains(t, err.Error(), "base directory is required")
}

func TestNewCreatesMissingBaseDir(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "archive")
	store, err := New(Config{BaseDir: base})
	require.NoError(t, err)
	require.NotNil(t, store)

	info, err := os.Stat(base)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestNewRejectsFileAsBaseDir(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	_, err := New(Config{BaseDir: path})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a directory")
}

func TestPutObjectWritesFileAndReturnsURI(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := New(Config{BaseDir: base})
	require.NoError(t, err)

	payload := []byte("<html><body>Молоко 930 мл</body></html>")
	uri, err := store.PutObject(context.Background(), "raw/ozon/166279183/snap-1.html", "text/html", payload)
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(base, "raw/ozon/166279183/snap-1.html"), uri)

	got, err := os.ReadFile(filepath.Join(base, "raw", "ozon", "166279183", "snap-1.html"))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestPutObjectRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "", "text/html", []byte("x"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "path is required")
}

func TestPutObjectBlocksPathTraversal(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "../escape.html", "text/html", []byte("x"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "path traversal")
}
