package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"page-mirror/internal/models"
)

var (
	ErrPageNotFound  = errors.New("page not found")
	ErrEventNotFound = errors.New("event not found")
)

// Store is the event/page persistence layer. All event writes are
// idempotent upserts keyed by the upstream event id, so a retried or
// partially committed batch is always safe to replay.
type Store struct {
	db     *DB
	logger *slog.Logger
}

func NewStore(dbConn *DB, logger *slog.Logger) *Store {
	return &Store{db: dbConn, logger: logger}
}

// GetActivePages returns subscriptions eligible for sync: active and not
// token-expired.
func (s *Store) GetActivePages(ctx context.Context) ([]models.PageSubscription, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT id, name, active, token_status, token_expires_at, created_at, updated_at
		 FROM pages
		 WHERE active = TRUE AND token_status != $1
		 ORDER BY id`,
		string(models.TokenExpired),
	)
	if err != nil {
		return nil, fmt.Errorf("query active pages: %w", err)
	}
	defer rows.Close()

	var pages []models.PageSubscription
	for rows.Next() {
		var p models.PageSubscription
		if err := rows.Scan(&p.ID, &p.Name, &p.Active, &p.TokenStatus, &p.TokenExpiresAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

func (s *Store) GetPage(ctx context.Context, pageID string) (*models.PageSubscription, error) {
	var p models.PageSubscription
	err := s.db.Pool.QueryRow(ctx,
		`SELECT id, name, active, token_status, token_expires_at, created_at, updated_at
		 FROM pages WHERE id = $1`,
		pageID,
	).Scan(&p.ID, &p.Name, &p.Active, &p.TokenStatus, &p.TokenExpiresAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertPage registers or refreshes a subscription. One row per upstream
// page id.
func (s *Store) UpsertPage(ctx context.Context, p models.PageSubscription) error {
	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO pages (id, name, active, token_status, token_expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now(), now())
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   active = EXCLUDED.active,
		   token_status = EXCLUDED.token_status,
		   token_expires_at = EXCLUDED.token_expires_at,
		   updated_at = now()`,
		p.ID, p.Name, p.Active, string(p.TokenStatus), p.TokenExpiresAt,
	)
	return err
}

// BatchConfig holds configuration for chunked batch writes.
type BatchConfig struct {
	ChunkSize  int
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultBatchConfig bounds each write to the store's per-call limit.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		ChunkSize:  100,
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
	}
}

// BatchUpsertEvents writes events in sequentially committed chunks. There is
// no atomicity across chunks; a partial commit is repaired by the next run
// because every row is an upsert keyed by event id. Returns rows written.
func (s *Store) BatchUpsertEvents(ctx context.Context, items []models.EventRecord) (int, error) {
	return s.BatchUpsertEventsWithConfig(ctx, items, DefaultBatchConfig())
}

func (s *Store) BatchUpsertEventsWithConfig(ctx context.Context, items []models.EventRecord, cfg BatchConfig) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultBatchConfig().ChunkSize
	}

	start := time.Now()
	written := 0
	for i := 0; i < len(items); i += cfg.ChunkSize {
		end := i + cfg.ChunkSize
		if end > len(items) {
			end = len(items)
		}

		if err := s.upsertChunk(ctx, items[i:end], cfg.MaxRetries, cfg.RetryDelay); err != nil {
			s.logger.Error("batch_upsert_failed",
				"offset", i,
				"written", written,
				"error", err,
			)
			return written, fmt.Errorf("batch upsert failed at offset %d: %w", i, err)
		}
		written += end - i

		s.logger.Debug("batch_progress",
			"written", written,
			"total", len(items),
		)
	}

	s.logger.Info("batch_upsert_complete",
		"rows", written,
		"elapsed", time.Since(start).String(),
	)
	return written, nil
}

func (s *Store) upsertChunk(ctx context.Context, chunk []models.EventRecord, maxRetries int, retryDelay time.Duration) error {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if lastErr = s.execChunk(ctx, chunk); lastErr == nil {
			return nil
		}
		if attempt < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	return lastErr
}

func (s *Store) execChunk(ctx context.Context, chunk []models.EventRecord) error {
	batch := &pgx.Batch{}
	for _, ev := range chunk {
		batch.Queue(
			`INSERT INTO events (id, page_id, title, description, start_time, end_time, place, cover_image_url, event_url, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
			 ON CONFLICT (id) DO UPDATE SET
			   page_id = EXCLUDED.page_id,
			   title = EXCLUDED.title,
			   description = EXCLUDED.description,
			   start_time = EXCLUDED.start_time,
			   end_time = EXCLUDED.end_time,
			   place = EXCLUDED.place,
			   cover_image_url = EXCLUDED.cover_image_url,
			   event_url = EXCLUDED.event_url,
			   updated_at = now()`,
			ev.ID, ev.PageID, ev.Title, ev.Description, ev.StartTime, ev.EndTime, ev.Place, ev.CoverImageURL, ev.EventURL,
		)
	}

	br := s.db.Pool.SendBatch(ctx, batch)
	defer br.Close()

	for range chunk {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// DeleteEvent removes one record by upstream event id. Deleting an absent
// id is a no-op, which keeps redelivered delete changes idempotent.
func (s *Store) DeleteEvent(ctx context.Context, eventID string) error {
	_, err := s.db.Pool.Exec(ctx, `DELETE FROM events WHERE id = $1`, eventID)
	return err
}

func (s *Store) GetEvent(ctx context.Context, eventID string) (*models.EventRecord, error) {
	var ev models.EventRecord
	err := s.db.Pool.QueryRow(ctx,
		`SELECT id, page_id, title, description, start_time, end_time, place, cover_image_url, event_url, created_at, updated_at
		 FROM events WHERE id = $1`,
		eventID,
	).Scan(&ev.ID, &ev.PageID, &ev.Title, &ev.Description, &ev.StartTime, &ev.EndTime, &ev.Place, &ev.CoverImageURL, &ev.EventURL, &ev.CreatedAt, &ev.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// ListEventsByPage returns a page's mirrored events ordered by start time.
func (s *Store) ListEventsByPage(ctx context.Context, pageID string, limit int) ([]models.EventRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Pool.Query(ctx,
		`SELECT id, page_id, title, description, start_time, end_time, place, cover_image_url, event_url, created_at, updated_at
		 FROM events
		 WHERE page_id = $1
		 ORDER BY start_time
		 LIMIT $2`,
		pageID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query page events: %w", err)
	}
	defer rows.Close()

	var events []models.EventRecord
	for rows.Next() {
		var ev models.EventRecord
		if err := rows.Scan(&ev.ID, &ev.PageID, &ev.Title, &ev.Description, &ev.StartTime, &ev.EndTime, &ev.Place, &ev.CoverImageURL, &ev.EventURL, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
