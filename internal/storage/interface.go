package storage

import (
	"context"
	"io"
	"time"
)

// BucketHandle is one writable object bucket.
type BucketHandle interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error
	PublicURL(key string) string
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ObjectStore hands out bucket handles. Bucket may fail when the backing
// store is unconfigured or unreachable; callers treat that as non-fatal.
type ObjectStore interface {
	Bucket(name string) (BucketHandle, error)
}
