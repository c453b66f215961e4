package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"
)

// Simulator is an ObjectStore for local runs without R2 configured. Uploads
// are discarded and URLs are deterministic, so the rest of the pipeline
// behaves exactly as in production.
type Simulator struct {
	endpoint string
}

func NewSimulator(endpoint string) *Simulator {
	return &Simulator{endpoint: strings.TrimSpace(endpoint)}
}

func (s *Simulator) Bucket(name string) (BucketHandle, error) {
	if strings.TrimSpace(name) == "" {
		name = "page-mirror"
	}
	return &simBucket{endpoint: s.endpoint, name: name}, nil
}

type simBucket struct {
	endpoint string
	name     string
}

func (b *simBucket) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := io.Copy(io.Discard, body)
	return err
}

func (b *simBucket) PublicURL(key string) string {
	ep := b.endpoint
	if ep == "" {
		ep = "https://r2.example.invalid"
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(ep, "/"), b.name, key)
}

func (b *simBucket) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	sum := sha256.Sum256([]byte(b.name + ":" + key))
	return b.PublicURL(key) + "?sig=" + hex.EncodeToString(sum[:8]), nil
}
