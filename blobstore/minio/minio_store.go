package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/vecgraph/blobstore"
)

// Options configures New.
type Options struct {
	// Prefix is prepended to every backup name, e.g. "vecgraph/".
	Prefix    string
	AccessKey string
	SecretKey string
	Region    string
	// Secure selects HTTPS. Defaults to true.
	Secure bool
}

func WithPrefix(prefix string) func(*Options) {
	return func(o *Options) { o.Prefix = prefix }
}

func WithCredentials(accessKey, secretKey string) func(*Options) {
	return func(o *Options) {
		o.AccessKey = accessKey
		o.SecretKey = secretKey
	}
}

func WithRegion(region string) func(*Options) {
	return func(o *Options) { o.Region = region }
}

func WithSecure(secure bool) func(*Options) {
	return func(o *Options) { o.Secure = secure }
}

// Store implements blobstore.Store on a MinIO bucket.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
	region string
}

var _ blobstore.Store = (*Store)(nil)

// New connects to the MinIO endpoint and returns a store for bucket.
// The bucket is not created; call EnsureBucket for that.
func New(endpoint, bucket string, optFns ...func(*Options)) (*Store, error) {
	if bucket == "" {
		return nil, errors.New("minio: bucket must not be empty")
	}

	opts := Options{Secure: true}
	for _, fn := range optFns {
		fn(&opts)
	}

	creds := credentials.NewEnvMinio()
	if opts.AccessKey != "" {
		creds = credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, "")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: opts.Secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: connect %s: %w", endpoint, err)
	}

	s := NewStore(client, bucket, opts.Prefix)
	s.region = opts.Region
	return s, nil
}

// NewStore wraps an existing client. rootPrefix is prepended to every
// backup name.
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
	}
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("minio: bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		// Another writer may have won the race.
		if code := minio.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return fmt.Errorf("minio: create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// Open streams a stored backup blob.
func (s *Store) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	key := s.key(name)

	// GetObject is lazy; stat first so a missing key fails here.
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, name)
		}
		return nil, err
	}
	return s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
}

// Put uploads a small blob, such as the backup descriptor, in one request.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	if err := blobstore.ValidateName(name); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return err
}

// Create starts a streamed upload. The object becomes visible on Close.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	if err := blobstore.ValidateName(name); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	upload := &upload{
		pw:   pw,
		done: make(chan error, 1),
	}

	// An unknown size makes the client use a multipart upload, which is
	// completed only on EOF.
	go func() {
		_, err := s.client.PutObject(ctx, s.bucket, s.key(name), pr, -1, minio.PutObjectOptions{})
		_ = pr.CloseWithError(err)
		upload.done <- err
	}()

	return upload, nil
}

// Delete removes a blob. A missing blob is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// List returns the sorted names under prefix, relative to the store prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	full := s.key(prefix)
	if strings.HasSuffix(prefix, "/") {
		full += "/"
	}

	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    full,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name := strings.TrimPrefix(strings.TrimPrefix(obj.Key, s.prefix), "/")
		if name != "" {
			names = append(names, name)
		}
	}

	slices.Sort(names)
	return names, nil
}

type upload struct {
	pw       *io.PipeWriter
	done     chan error
	finished atomic.Bool
}

func (u *upload) Write(p []byte) (int, error) {
	if u.finished.Load() {
		return 0, io.ErrClosedPipe
	}
	return u.pw.Write(p)
}

func (u *upload) Close() error {
	if !u.finished.CompareAndSwap(false, true) {
		return io.ErrClosedPipe
	}
	if err := u.pw.Close(); err != nil {
		return err
	}
	return <-u.done
}

// Abort cancels the multipart upload; nothing becomes visible.
func (u *upload) Abort() error {
	if !u.finished.CompareAndSwap(false, true) {
		return nil
	}
	_ = u.pw.CloseWithError(errors.New("minio: upload aborted"))
	<-u.done
	return nil
}
