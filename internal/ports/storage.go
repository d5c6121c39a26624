package ports

import (
	"context"
	"io"
)

type PutObjectInput struct {
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	Size        int64
}

type PutObjectOutput struct {
	// localfs echoes the object key; gdrive returns the Drive file id, which is
	// the key later reads must use.
	ObjectKey string
	Size      int64
}

// StorageProvider is the asset store the worker stages inputs from and
// archives renders to (localfs, gdrive).
type StorageProvider interface {
	Provider() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error)

	// Ping checks the store is reachable; used by the deep health check.
	Ping(ctx context.Context) error
}
