package vecgraph

import (
	"context"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecgraph/blobstore"
	"github.com/hupe1980/vecgraph/model"
	"github.com/hupe1980/vecgraph/persistence"
	"github.com/hupe1980/vecgraph/query"
)

func seedWorkspace(t *testing.T, ws *Workspace) (alice, acme *model.Entity) {
	t.Helper()
	ctx := context.Background()
	var err error
	alice, _, err = ws.UpsertEntity(ctx, entity("Alice", model.Person, 1, 0, 0, 0))
	require.NoError(t, err)
	acme, _, err = ws.UpsertEntity(ctx, entity("Acme Corp", model.Organization, 0, 1, 0, 0))
	require.NoError(t, err)
	_, _, err = ws.UpsertRelation(ctx, model.RelationInput{SourceID: alice.ID, TargetID: acme.ID, Label: "WORKS_AT"})
	require.NoError(t, err)
	_, _, err = ws.UpsertChunk(ctx, model.ChunkInput{ID: "c1", Text: "Alice works at Acme.", Embedding: []float32{0, 0, 1, 0}})
	require.NoError(t, err)
	return alice, acme
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	tests := []struct {
		name        string
		compression persistence.Compression
	}{
		{"none", persistence.CompressionNone},
		{"lz4", persistence.CompressionLZ4},
		{"zstd", persistence.CompressionZstd},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := blobstore.NewMemoryStore()

			src := openTestWorkspace(t, openTestDB(t, WithCompression(tt.compression)), "docs")
			alice, acme := seedWorkspace(t, src)

			info, err := src.Backup(ctx, store)
			require.NoError(t, err)
			assert.Equal(t, tt.compression.String(), info.Compression)
			assert.Equal(t, testDim, info.Manifest.Dimension)
			assert.Positive(t, info.Size)

			names, err := store.List(ctx, "docs/")
			require.NoError(t, err)
			assert.Equal(t, []string{"docs/backup.json", "docs/graph.backup"}, names)

			dst := openTestWorkspace(t, openTestDB(t), "docs")
			_, _, err = dst.UpsertEntity(ctx, entity("Stale", model.Concept, 0, 0, 0, 1))
			require.NoError(t, err)

			restored, err := dst.Restore(ctx, store)
			require.NoError(t, err)
			assert.Equal(t, info.Checksum, restored.Checksum)

			_, err = dst.EntityByKey("Stale", model.Concept)
			assert.ErrorIs(t, err, ErrNotFound)

			got, err := dst.EntityByKey("alice", model.Person)
			require.NoError(t, err)
			assert.Equal(t, alice.ID, got.ID)

			resp, err := dst.Query(ctx, query.Query{
				Vector:     []float32{1, 0, 0, 0},
				TopK:       5,
				Constraint: &query.Constraint{AnchorID: acme.ID, Depth: 1},
			})
			require.NoError(t, err)
			require.Len(t, resp.Results, 1)
			assert.Equal(t, alice.ID, resp.Results[0].ID)

			chunks, err := dst.SearchChunks(ctx, []float32{0, 0, 1, 0}, 1)
			require.NoError(t, err)
			require.Len(t, chunks.Results, 1)
			assert.Equal(t, "c1", chunks.Results[0].Chunk.ID)

			st, err := dst.Stats()
			require.NoError(t, err)
			assert.Equal(t, 2, st.Graph.Entities)
			assert.Equal(t, 2, st.Entities.Live)
		})
	}
}

func TestBackupToLocalStore(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewLocalStore(t.TempDir())

	src := openTestWorkspace(t, openTestDB(t, WithDir(t.TempDir())), "docs")
	seedWorkspace(t, src)
	_, err := src.Backup(ctx, store)
	require.NoError(t, err)

	dst := openTestWorkspace(t, openTestDB(t, WithDir(t.TempDir())), "docs")
	_, err = dst.Restore(ctx, store)
	require.NoError(t, err)

	st, err := dst.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, st.Graph.Entities)
	assert.Equal(t, 1, st.Graph.Relations)
	assert.Equal(t, 1, st.Graph.Chunks)
}

func TestRestoreRejectsIncompatibleWorkspace(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	src := openTestWorkspace(t, openTestDB(t), "docs")
	seedWorkspace(t, src)
	_, err := src.Backup(ctx, store)
	require.NoError(t, err)

	dst, err := openTestDB(t).Workspace(ctx, "docs", WorkspaceConfig{Dimension: 8})
	require.NoError(t, err)
	_, err = dst.Restore(ctx, store)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestRestoreDetectsCorruptArchive(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	src := openTestWorkspace(t, openTestDB(t), "docs")
	seedWorkspace(t, src)
	_, err := src.Backup(ctx, store)
	require.NoError(t, err)

	name := path.Join("docs", backupGraphName)
	data, err := blobstore.ReadAll(ctx, store, name)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xFF
	require.NoError(t, store.Put(ctx, name, data))

	dst := openTestWorkspace(t, openTestDB(t), "docs")
	keep, _, err := dst.UpsertEntity(ctx, entity("Keep", model.Concept, 0, 0, 0, 1))
	require.NoError(t, err)

	_, err = dst.Restore(ctx, store)
	assert.ErrorIs(t, err, ErrIndexCorruption)

	got, err := dst.Entity(keep.ID)
	require.NoError(t, err)
	assert.Equal(t, "Keep", got.Name)
}

func TestRestoreMissingBackup(t *testing.T) {
	ws := openTestWorkspace(t, openTestDB(t), "docs")
	_, err := ws.Restore(context.Background(), blobstore.NewMemoryStore())
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
