package vecgraph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/hupe1980/vecgraph/blobstore"
	"github.com/hupe1980/vecgraph/errs"
	"github.com/hupe1980/vecgraph/manifest"
	"github.com/hupe1980/vecgraph/persistence"
)

const (
	backupInfoName  = "backup.json"
	backupGraphName = "graph.backup"
)

// BackupInfo describes a workspace backup. It is stored next to the graph
// archive as <workspace>/backup.json.
type BackupInfo struct {
	Workspace   string             `json:"workspace"`
	Manifest    *manifest.Manifest `json:"manifest"`
	Compression string             `json:"compression"`
	// Version is the graph store version the archive was taken at.
	Version   uint64    `json:"version"`
	Size      int64     `json:"size"`
	Checksum  uint32    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
}

// Backup streams the graph store of w to store under <workspace>/ and
// writes a BackupInfo beside it. Vector collections are not archived;
// Restore rebuilds them from the graph.
func (w *Workspace) Backup(ctx context.Context, store blobstore.Store) (*BackupInfo, error) {
	if err := w.rlock(); err != nil {
		return nil, err
	}
	defer w.mu.RUnlock()

	release, err := w.db.resources.BackgroundSlot(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	info, err := w.backup(ctx, store)
	if err != nil {
		w.logger.ErrorContext(ctx, "backup failed", "error", err)
		return nil, err
	}
	w.logger.InfoContext(ctx, "backup completed",
		"version", info.Version,
		"bytes", info.Size,
		"compression", info.Compression,
		"elapsed", time.Since(start),
	)
	return info, nil
}

func (w *Workspace) backup(ctx context.Context, store blobstore.Store) (*BackupInfo, error) {
	compression := w.db.opts.compression

	blob, err := store.Create(ctx, path.Join(w.name, backupGraphName))
	if err != nil {
		return nil, fmt.Errorf("create backup blob: %w", err)
	}

	sum := persistence.NewChecksumWriter(w.db.resources.Writer(ctx, blob))
	cw, err := persistence.NewCompressWriter(compression, sum)
	if err != nil {
		return nil, errors.Join(err, blob.Abort())
	}

	version, err := w.graph.Backup(cw)
	if err == nil {
		err = cw.Close()
	}
	if err == nil {
		err = blob.Close()
	}
	if err != nil {
		return nil, errors.Join(fmt.Errorf("backup graph: %w", err), blob.Abort())
	}

	info := &BackupInfo{
		Workspace:   w.name,
		Manifest:    w.currentManifest(),
		Compression: compression.String(),
		Version:     version,
		Size:        sum.Count(),
		Checksum:    sum.Sum(),
		CreatedAt:   time.Now().UTC(),
	}
	data, err := w.codec.Marshal(info)
	if err != nil {
		return nil, err
	}
	if err := store.Put(ctx, path.Join(w.name, backupInfoName), data); err != nil {
		return nil, fmt.Errorf("write backup info: %w", err)
	}
	return info, nil
}

// currentManifest returns the manifest of w, synthesizing one for
// in-memory workspaces.
func (w *Workspace) currentManifest() *manifest.Manifest {
	if w.manifest != nil {
		m := *w.manifest
		return &m
	}
	return &manifest.Manifest{
		Version:        manifest.CurrentVersion,
		Workspace:      w.name,
		Dimension:      w.dimension,
		Metric:         w.metric.String(),
		Codec:          w.codec.Name(),
		EmbeddingMerge: w.db.opts.embeddingMerge.String(),
		WeightMerge:    w.db.opts.weightMerge.String(),
	}
}

// Restore replaces the contents of w with the backup of the same workspace
// name in store and rebuilds both vector collections. The backup must have
// been taken from a workspace with the same dimension and metric. The
// archive checksum is verified before anything is replaced.
func (w *Workspace) Restore(ctx context.Context, store blobstore.Store) (*BackupInfo, error) {
	if err := w.lock(); err != nil {
		return nil, err
	}
	defer w.mu.Unlock()

	start := time.Now()
	info, err := w.restore(ctx, store)
	if err != nil {
		w.logger.ErrorContext(ctx, "restore failed", "error", err)
		return nil, err
	}
	w.logger.InfoContext(ctx, "restore completed",
		"version", info.Version,
		"elapsed", time.Since(start),
	)
	return info, nil
}

func (w *Workspace) restore(ctx context.Context, store blobstore.Store) (*BackupInfo, error) {
	data, err := blobstore.ReadAll(ctx, store, path.Join(w.name, backupInfoName))
	if err != nil {
		return nil, fmt.Errorf("read backup info: %w", err)
	}
	var info BackupInfo
	if err := w.codec.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode backup info: %w", err)
	}
	if info.Manifest == nil || info.Manifest.Version != manifest.CurrentVersion {
		return nil, fmt.Errorf("%w: backup of workspace %q has no compatible manifest", errs.ErrIncompatibleFormat, info.Workspace)
	}
	if err := info.Manifest.Compatible(w.dimension, w.metric.String()); err != nil {
		return nil, err
	}
	compression, err := persistence.ParseCompression(info.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIncompatibleFormat, err)
	}

	name := path.Join(w.name, backupGraphName)
	if err := verifyBackup(ctx, store, name, &info); err != nil {
		return nil, err
	}

	r, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	dr, err := persistence.NewDecompressReader(compression, r)
	if err != nil {
		return nil, err
	}
	defer func() { _ = dr.Close() }()

	if err := w.graph.Restore(dr); err != nil {
		// The graph is now empty; drop the vectors it no longer backs.
		_, eerr := w.entities.Rebuild(ctx)
		_, cerr := w.chunks.Rebuild(ctx)
		return nil, errors.Join(err, eerr, cerr)
	}

	// The collections may hold ids the restored graph reuses.
	if _, err := w.entities.Rebuild(ctx); err != nil {
		return nil, fmt.Errorf("rebuild entities: %w", err)
	}
	if _, err := w.chunks.Rebuild(ctx); err != nil {
		return nil, fmt.Errorf("rebuild chunks: %w", err)
	}
	report, err := w.manager.Recover(ctx)
	w.logger.LogRecovery(ctx, report, err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &info, nil
}

// verifyBackup reads the archive once and checks its size and checksum.
func verifyBackup(ctx context.Context, store blobstore.Store, name string, info *BackupInfo) error {
	r, err := store.Open(ctx, name)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	cr := persistence.NewChecksumReader(r)
	if _, err := io.Copy(io.Discard, cr); err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if err := cr.Verify(info.Size, info.Checksum); err != nil {
		return fmt.Errorf("backup %s: %w", name, err)
	}
	return nil
}
