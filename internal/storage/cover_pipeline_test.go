package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"page-mirror/internal/models"
)

type memBucket struct {
	objects map[string][]byte
	upErr   error
}

func newMemBucket() *memBucket {
	return &memBucket{objects: map[string][]byte{}}
}

func (b *memBucket) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	if b.upErr != nil {
		return b.upErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	b.objects[key] = data
	return nil
}

func (b *memBucket) PublicURL(key string) string {
	return "https://pub.example/" + key
}

func (b *memBucket) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://signed.example/" + key + "?exp=" + ttl.String(), nil
}

type memStore struct {
	bucket    *memBucket
	bucketErr error
}

func (s *memStore) Bucket(name string) (BucketHandle, error) {
	if s.bucketErr != nil {
		return nil, s.bucketErr
	}
	return s.bucket, nil
}

func coveredEvent(src string) *models.UpstreamEvent {
	return &models.UpstreamEvent{
		ID:    "e1",
		Name:  "Covered",
		Cover: &models.UpstreamCover{Source: src},
	}
}

func testPipeline(store ObjectStore, opts PipelineOptions) *Pipeline {
	return NewPipeline(slog.New(slog.DiscardHandler), store, "covers-bucket", opts)
}

func imageServer(t *testing.T, status int, contentType string, body []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestProcessCoverImage_NoCover(t *testing.T) {
	p := testPipeline(&memStore{bucket: newMemBucket()}, PipelineOptions{})
	ev := &models.UpstreamEvent{ID: "e1", Name: "Bare"}

	if got := p.ProcessCoverImage(t.Context(), ev, "p1"); got != "" {
		t.Errorf("got %q, want empty string for coverless event", got)
	}
}

func TestProcessCoverImage_NilStoreFallsBack(t *testing.T) {
	p := testPipeline(nil, PipelineOptions{})
	ev := coveredEvent("https://cdn.example/a.jpg")

	if got := p.ProcessCoverImage(t.Context(), ev, "p1"); got != "https://cdn.example/a.jpg" {
		t.Errorf("got %q, want original source", got)
	}
}

func TestProcessCoverImage_BucketErrorFallsBack(t *testing.T) {
	p := testPipeline(&memStore{bucketErr: errors.New("bucket misconfigured")}, PipelineOptions{})
	ev := coveredEvent("https://cdn.example/a.jpg")

	if got := p.ProcessCoverImage(t.Context(), ev, "p1"); got != "https://cdn.example/a.jpg" {
		t.Errorf("got %q, want original source", got)
	}
}

func TestProcessCoverImage_Success(t *testing.T) {
	srv, _ := imageServer(t, http.StatusOK, "image/jpeg", []byte("jpegbytes"))
	bucket := newMemBucket()
	p := testPipeline(&memStore{bucket: bucket}, PipelineOptions{})

	got := p.ProcessCoverImage(t.Context(), coveredEvent(srv.URL+"/c.jpg"), "p1")

	want := "https://pub.example/covers/p1/e1.jpg"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if string(bucket.objects["covers/p1/e1.jpg"]) != "jpegbytes" {
		t.Error("object body not stored")
	}
}

func TestProcessCoverImage_SignedMode(t *testing.T) {
	srv, _ := imageServer(t, http.StatusOK, "image/png", []byte("pngbytes"))
	p := testPipeline(&memStore{bucket: newMemBucket()}, PipelineOptions{
		URLMode:   "signed",
		SignedTTL: 30 * time.Minute,
	})

	got := p.ProcessCoverImage(t.Context(), coveredEvent(srv.URL+"/c.png"), "p1")
	want := "https://signed.example/covers/p1/e1.png?exp=30m0s"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

// A 404 on the source is permanent: no retries, fall back to the source URL.
func TestProcessCoverImage_NotFoundNotRetried(t *testing.T) {
	srv, hits := imageServer(t, http.StatusNotFound, "", nil)
	p := testPipeline(&memStore{bucket: newMemBucket()}, PipelineOptions{})

	src := srv.URL + "/gone.jpg"
	if got := p.ProcessCoverImage(t.Context(), coveredEvent(src), "p1"); got != src {
		t.Errorf("got %q, want original source", got)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("download attempted %d times, want 1", n)
	}
}

// Server errors are retried until the policy gives up, then the source URL
// is used as-is.
func TestProcessCoverImage_TransientRetriedThenFallsBack(t *testing.T) {
	srv, hits := imageServer(t, http.StatusBadGateway, "", nil)
	p := testPipeline(&memStore{bucket: newMemBucket()}, PipelineOptions{})

	src := srv.URL + "/flaky.jpg"
	if got := p.ProcessCoverImage(t.Context(), coveredEvent(src), "p1"); got != src {
		t.Errorf("got %q, want original source", got)
	}
	if n := hits.Load(); n != 3 {
		t.Errorf("download attempted %d times, want 3", n)
	}
}

func TestProcessCoverImage_EmptyBodyFallsBack(t *testing.T) {
	srv, hits := imageServer(t, http.StatusOK, "image/jpeg", nil)
	p := testPipeline(&memStore{bucket: newMemBucket()}, PipelineOptions{})

	src := srv.URL + "/empty.jpg"
	if got := p.ProcessCoverImage(t.Context(), coveredEvent(src), "p1"); got != src {
		t.Errorf("got %q, want original source", got)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("empty body is permanent, attempted %d times, want 1", n)
	}
}

func TestProcessCoverImage_UploadErrorFallsBack(t *testing.T) {
	srv, _ := imageServer(t, http.StatusOK, "image/jpeg", []byte("jpegbytes"))
	bucket := newMemBucket()
	bucket.upErr = errors.New("access forbidden")
	p := testPipeline(&memStore{bucket: bucket}, PipelineOptions{})

	src := srv.URL + "/c.jpg"
	if got := p.ProcessCoverImage(t.Context(), coveredEvent(src), "p1"); got != src {
		t.Errorf("got %q, want original source", got)
	}
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		src         string
		want        string
	}{
		{"jpeg content type", "image/jpeg", "https://cdn.example/x", ".jpg"},
		{"png content type", "image/png", "https://cdn.example/x", ".png"},
		{"webp content type", "image/webp", "https://cdn.example/x", ".webp"},
		{"url path fallback", "", "https://cdn.example/pic.gif?w=200", ".gif"},
		{"no hints", "", "https://cdn.example/download", ".jpg"},
		{"overlong path ext ignored", "", "https://cdn.example/x.verylong", ".jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extensionFor(tt.contentType, tt.src); got != tt.want {
				t.Errorf("extensionFor(%q, %q) = %q, want %q", tt.contentType, tt.src, got, tt.want)
			}
		})
	}
}
