package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"page-mirror/internal/models"
	"page-mirror/internal/retry"
)

const (
	maxCoverBytes   = 10 * 1024 * 1024
	downloadTimeout = 30 * time.Second
	defaultExt      = ".jpg"
	thumbMaxSize    = 512
)

// PipelineOptions configure how ingested cover URLs are minted.
type PipelineOptions struct {
	URLMode    string // "public" or "signed"
	SignedTTL  time.Duration
	Thumbnails bool
}

// Pipeline downloads an event's cover image and re-hosts it in the object
// store. It degrades instead of failing: without a cover it returns "",
// without a usable bucket or after exhausted retries it returns the
// original upstream URL. No error ever reaches the caller.
type Pipeline struct {
	store      ObjectStore
	bucketName string
	httpClient *http.Client
	policy     retry.Policy
	opts       PipelineOptions
	logger     *slog.Logger
}

func NewPipeline(logger *slog.Logger, store ObjectStore, bucketName string, opts PipelineOptions) *Pipeline {
	policy := retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		IsRetryable: func(err error) bool { return !isPermanent(err) },
	}

	if opts.URLMode == "" {
		opts.URLMode = "public"
	}
	if opts.SignedTTL <= 0 {
		opts.SignedTTL = time.Hour
	}

	return &Pipeline{
		store:      store,
		bucketName: bucketName,
		httpClient: &http.Client{Timeout: downloadTimeout},
		policy:     policy,
		opts:       opts,
		logger:     logger,
	}
}

// permanentError marks a failure that retrying cannot fix (source gone or
// access denied).
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// ProcessCoverImage resolves the hosted cover URL for an event. Returns ""
// when the event has no cover source, and the original upstream URL when
// the bucket is unavailable or ingestion ultimately fails.
func (p *Pipeline) ProcessCoverImage(ctx context.Context, ev *models.UpstreamEvent, pageID string) (result string) {
	src := ev.CoverSource()
	if src == "" {
		return ""
	}

	// ingestion must never abort the caller's sync or reconciliation
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("cover_pipeline_panic", "event_id", ev.ID, "panic", fmt.Sprint(r))
			result = src
		}
	}()

	if p.store == nil {
		return src
	}
	bucket, err := p.store.Bucket(p.bucketName)
	if err != nil || bucket == nil {
		p.logger.Debug("cover_bucket_unavailable", "event_id", ev.ID, "error", err)
		return src
	}

	var hosted string
	err = p.policy.Do(ctx, func() error {
		var ingestErr error
		hosted, ingestErr = p.ingest(ctx, bucket, ev.ID, pageID, src)
		return ingestErr
	})
	if err != nil {
		p.logger.Warn("cover_ingest_failed",
			"event_id", ev.ID,
			"page_id", pageID,
			"error", err,
		)
		return src
	}
	return hosted
}

func (p *Pipeline) ingest(ctx context.Context, bucket BucketHandle, eventID, pageID, src string) (string, error) {
	data, contentType, err := p.download(ctx, src)
	if err != nil {
		return "", err
	}

	ext := extensionFor(contentType, src)
	key := fmt.Sprintf("covers/%s/%s%s", pageID, eventID, ext)

	if err := bucket.Upload(ctx, key, bytes.NewReader(data), contentType); err != nil {
		if msg := strings.ToLower(err.Error()); strings.Contains(msg, "not found") || strings.Contains(msg, "forbidden") {
			return "", &permanentError{err: err}
		}
		return "", err
	}

	if p.opts.Thumbnails {
		p.uploadThumbnail(ctx, bucket, pageID, eventID, data)
	}

	if p.opts.URLMode == "signed" {
		return bucket.SignedURL(ctx, key, p.opts.SignedTTL)
	}
	return bucket.PublicURL(key), nil
}

func (p *Pipeline) download(ctx context.Context, src string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, "", &permanentError{err: fmt.Errorf("bad cover url: %w", err)}
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("cover download failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusForbidden:
		return nil, "", &permanentError{err: fmt.Errorf("cover download: status %d", resp.StatusCode)}
	default:
		return nil, "", fmt.Errorf("cover download: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCoverBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("cover read failed: %w", err)
	}
	if len(data) == 0 {
		return nil, "", &permanentError{err: errors.New("empty cover body")}
	}
	if len(data) > maxCoverBytes {
		return nil, "", &permanentError{err: fmt.Errorf("cover too large: > %d bytes", maxCoverBytes)}
	}

	contentType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return data, strings.TrimSpace(contentType), nil
}

// uploadThumbnail adds a small preview object next to the original. Covers
// that do not decode are simply skipped; a thumbnail is never worth failing
// the ingest for.
func (p *Pipeline) uploadThumbnail(ctx context.Context, bucket BucketHandle, pageID, eventID string, data []byte) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		p.logger.Debug("cover_thumbnail_skipped", "event_id", eventID, "error", err)
		return
	}

	img = imaging.Fit(img, thumbMaxSize, thumbMaxSize, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		p.logger.Debug("cover_thumbnail_skipped", "event_id", eventID, "error", err)
		return
	}

	key := fmt.Sprintf("covers/%s/%s_thumb.png", pageID, eventID)
	if err := bucket.Upload(ctx, key, &buf, "image/png"); err != nil {
		p.logger.Debug("cover_thumbnail_upload_failed", "event_id", eventID, "error", err)
	}
}

// extensionFor picks a file extension: response content type first, then
// the URL path, then the default.
func extensionFor(contentType, src string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	if contentType != "" {
		if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}

	if u, err := url.Parse(src); err == nil {
		if ext := path.Ext(u.Path); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	return defaultExt
}
