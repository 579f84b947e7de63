package minio

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecgraph/blobstore"
)

func TestNew(t *testing.T) {
	_, err := New("localhost:9000", "")
	require.Error(t, err)

	s, err := New("localhost:9000", "backups", WithPrefix("ws/"), WithCredentials("a", "b"), WithSecure(false))
	require.NoError(t, err)
	assert.Equal(t, "ws/graph.backup", s.key("graph.backup"))

	_, err = s.Create(context.Background(), "../escape")
	assert.Error(t, err)
}

// Requires a running MinIO; set MINIO_ENDPOINT to enable.
func TestStoreIntegration(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_ENDPOINT not set")
	}

	ctx := context.Background()
	store, err := New(endpoint, "test-vecgraph",
		WithPrefix("it/"),
		WithCredentials("minioadmin", "minioadmin"),
		WithSecure(false),
	)
	require.NoError(t, err)
	if err := store.EnsureBucket(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	require.NoError(t, store.Put(ctx, "acme/backup.json", []byte(`{"workspace":"acme"}`)))

	got, err := blobstore.ReadAll(ctx, store, "acme/backup.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"workspace":"acme"}`, string(got))

	wb, err := store.Create(ctx, "acme/graph.backup")
	require.NoError(t, err)
	_, err = wb.Write([]byte("archive"))
	require.NoError(t, err)
	require.NoError(t, wb.Close())

	names, err := store.List(ctx, "acme/")
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/backup.json", "acme/graph.backup"}, names)

	aborted, err := store.Create(ctx, "acme/partial.backup")
	require.NoError(t, err)
	_, _ = aborted.Write([]byte("half"))
	require.NoError(t, aborted.Abort())

	_, err = store.Open(ctx, "acme/partial.backup")
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	for _, name := range names {
		require.NoError(t, store.Delete(ctx, name))
	}
}
