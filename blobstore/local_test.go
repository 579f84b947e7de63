package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/vecgraph/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBlobStore_Lifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalStore(tmpDir)

	ctx := context.Background()

	// 1. Create a blob
	blobName := "ws/graph-001.bak"
	data := []byte("hello world, this is a test blob for vecgraph")

	w, err := store.Create(ctx, blobName)
	require.NoError(t, err)

	n, err := w.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	// Not visible before commit
	names, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Empty(t, names)

	require.NoError(t, w.Close())

	// Verify file exists on disk
	_, err = os.Stat(filepath.Join(tmpDir, "ws", "graph-001.bak"))
	require.NoError(t, err)

	// 2. Open and read back
	got, err := ReadAll(ctx, store, blobName)
	require.NoError(t, err)
	require.Equal(t, data, got)

	// 3. Put and List
	require.NoError(t, store.Put(ctx, "ws/manifest.json", []byte("{}")))
	require.NoError(t, store.Put(ctx, "other/x", []byte("x")))

	names, err = store.List(ctx, "ws/")
	require.NoError(t, err)
	require.Equal(t, []string{blobName, "ws/manifest.json"}, names)

	// 4. Delete
	require.NoError(t, store.Delete(ctx, blobName))
	require.NoError(t, store.Delete(ctx, blobName))

	names, err = store.List(ctx, "ws/")
	require.NoError(t, err)
	require.Equal(t, []string{"ws/manifest.json"}, names)

	_, err = store.Open(ctx, blobName)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalBlobStore_Abort(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalStore(tmpDir)
	ctx := context.Background()

	w, err := store.Create(ctx, "partial.bin")
	require.NoError(t, err)
	_, err = w.Write([]byte("0123456789"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = w.Write([]byte("x"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestLocalBlobStore_MissingRoot(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "missing"))

	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"", "/abs", "../escape", "a//b", "a/./b"} {
		assert.ErrorIs(t, ValidateName(name), errs.ErrInvalid, name)
	}
	assert.NoError(t, ValidateName("ws/backup-1.vgb"))
}
