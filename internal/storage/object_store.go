package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by read operations when the requested object
// does not exist. Retrieval maps it to a 404, never to another job's data.
var ErrObjectNotFound = errors.New("object not found")

type Object struct {
	Name string
	Size int64
}

type ObjectStore interface {
	CreateBucket(ctx context.Context, bucket string) error

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error

	GetObject(ctx context.Context, bucket, key string) ([]byte, error)

	GetObjectStream(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	DownloadObject(ctx context.Context, bucket, key, filename string) error

	UploadDir(ctx context.Context, bucket, prefix, src string) error

	ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error)

	DeleteObjects(ctx context.Context, bucket, prefix string) error
}
