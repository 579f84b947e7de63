// Package minio stores workspace backups in MinIO or any other
// S3-compatible object store (Ceph, Garage, SeaweedFS).
//
//	store, err := minio.New("localhost:9000", "backups",
//	    minio.WithPrefix("vecgraph/"),
//	    minio.WithCredentials("minioadmin", "minioadmin"),
//	    minio.WithSecure(false),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := store.EnsureBucket(ctx); err != nil {
//	    return err
//	}
//	info, err := ws.Backup(ctx, store)
//
// Backups are streamed through a multipart upload, so the archive never
// needs to fit in memory. Without explicit credentials the MINIO_ACCESS_KEY
// and MINIO_SECRET_KEY environment variables are used.
package minio
