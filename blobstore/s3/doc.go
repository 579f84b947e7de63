// Package s3 stores workspace backups in Amazon S3.
//
// New loads the default AWS configuration chain (environment, shared
// config, instance role). Graph archives are streamed through the
// multipart uploader; backup descriptors are written with a single
// PutObject carrying a CRC32C checksum.
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("vecgraph/"),
//	    s3.WithRegion("eu-central-1"),
//	)
//	if err != nil {
//	    return err
//	}
//	remote := blobstore.NewBreaker(store, blobstore.DefaultBreakerConfig("s3"))
//	info, err := ws.Backup(ctx, remote)
//
// WithEndpoint points the store at LocalStack or another S3 emulator.
package s3
