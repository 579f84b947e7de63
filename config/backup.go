package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/vecgraph/blobstore"
	"github.com/hupe1980/vecgraph/blobstore/minio"
	"github.com/hupe1980/vecgraph/blobstore/s3"
)

// ErrNoBackupStore is returned by BackupStore when backup.store is "none".
var ErrNoBackupStore = errors.New("no backup store configured")

// BackupConfig selects where workspace backups are written.
type BackupConfig struct {
	Store string `mapstructure:"store"` // none, local, s3, minio
	// Path is the root directory of the local store.
	Path      string `mapstructure:"path"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Insecure  bool   `mapstructure:"insecure"`
	// Breaker wraps remote stores in a circuit breaker.
	Breaker bool `mapstructure:"breaker"`
}

// BackupStore builds the configured backup target. Remote stores are
// wrapped in a circuit breaker unless backup.breaker is false.
func (c *Config) BackupStore(ctx context.Context) (blobstore.Store, error) {
	b := c.Backup

	var (
		store blobstore.Store
		err   error
	)

	switch kind := strings.ToLower(b.Store); kind {
	case "", "none":
		return nil, ErrNoBackupStore
	case "local":
		if b.Path == "" {
			return nil, errors.New("backup.path: required for the local store")
		}
		return blobstore.NewLocalStore(b.Path), nil
	case "s3":
		if b.Bucket == "" {
			return nil, errors.New("backup.bucket: required for the s3 store")
		}
		opts := []func(*s3.Options){s3.WithPrefix(b.Prefix), s3.WithRegion(b.Region)}
		if b.Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(b.Endpoint, true))
		}
		store, err = s3.New(ctx, b.Bucket, opts...)
	case "minio":
		if b.Endpoint == "" {
			return nil, errors.New("backup.endpoint: required for the minio store")
		}
		store, err = minio.New(b.Endpoint, b.Bucket,
			minio.WithPrefix(b.Prefix),
			minio.WithRegion(b.Region),
			minio.WithCredentials(b.AccessKey, b.SecretKey),
			minio.WithSecure(!b.Insecure),
		)
	default:
		return nil, fmt.Errorf("backup.store: unknown store %q", b.Store)
	}
	if err != nil {
		return nil, fmt.Errorf("backup.store: %w", err)
	}

	if !b.Breaker {
		return store, nil
	}

	bc := blobstore.DefaultBreakerConfig("backup-" + strings.ToLower(b.Store))
	if logger, lerr := c.Logger(); lerr == nil {
		bc.Logger = logger.Logger
	}
	return blobstore.NewBreaker(store, bc), nil
}
