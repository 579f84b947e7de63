package s3

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecgraph/blobstore"
)

// Runs against a real bucket when S3_BUCKET is set.
func TestStoreIntegration(t *testing.T) {
	bucket := os.Getenv("S3_BUCKET")
	if bucket == "" {
		t.Skip("S3_BUCKET not set")
	}

	ctx := context.Background()
	prefix := fmt.Sprintf("vecgraph-it-%d/", time.Now().UnixNano())
	store, err := New(ctx, bucket, WithPrefix(prefix), WithUploadConfig(UploadConfig{
		PartSize:       5 * 1024 * 1024,
		Concurrency:    2,
		EnableChecksum: true,
	}))
	require.NoError(t, err)

	// Larger than one part so the multipart path is taken.
	archive := make([]byte, 6*1024*1024)
	_, _ = rand.Read(archive)

	w, err := store.Create(ctx, "acme/graph.backup")
	require.NoError(t, err)
	_, err = io.Copy(w, bytes.NewReader(archive))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, store.Put(ctx, "acme/backup.json", []byte(`{"workspace":"acme"}`)))

	names, err := store.List(ctx, "acme/")
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/backup.json", "acme/graph.backup"}, names)

	size, err := store.Size(ctx, "acme/graph.backup")
	require.NoError(t, err)
	assert.Equal(t, int64(len(archive)), size)

	got, err := blobstore.ReadAll(ctx, store, "acme/graph.backup")
	require.NoError(t, err)
	assert.Equal(t, archive, got)

	for _, name := range names {
		require.NoError(t, store.Delete(ctx, name))
	}

	_, err = store.Open(ctx, "acme/graph.backup")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
