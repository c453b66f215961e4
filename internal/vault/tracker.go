package vault

import (
	"context"
	"log/slog"
	"time"

	"page-mirror/internal/db"
)

// ExpiryCheck classifies one page credential against a warning window.
type ExpiryCheck struct {
	IsExpiring      bool
	DaysUntilExpiry int
	ExpiresAt       time.Time
}

// Tracker watches credential lifetimes. An unreadable or missing expiry is
// classified as expiring right now: a spurious warning is cheaper than a
// page silently going dark when the credential lapses.
type Tracker struct {
	db     *db.DB
	store  *Store
	logger *slog.Logger
	now    func() time.Time
}

func NewTracker(logger *slog.Logger, dbConn *db.DB, store *Store) *Tracker {
	return &Tracker{
		db:     dbConn,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// CheckExpiry reports whether the page's credential expires within
// warningDays.
func (t *Tracker) CheckExpiry(ctx context.Context, pageID string, warningDays int) ExpiryCheck {
	now := t.now()

	var expiresAt *time.Time
	err := t.db.Pool.QueryRow(ctx,
		`SELECT expires_at FROM page_credentials WHERE page_id = $1`,
		pageID,
	).Scan(&expiresAt)
	if err != nil || expiresAt == nil {
		t.logger.Warn("credential_expiry_unreadable", "page_id", pageID)
		return ExpiryCheck{IsExpiring: true, DaysUntilExpiry: 0, ExpiresAt: now}
	}

	return Classify(now, *expiresAt, warningDays)
}

// Classify is the pure expiry computation, split out for direct testing.
func Classify(now, expiresAt time.Time, warningDays int) ExpiryCheck {
	days := int(expiresAt.Sub(now).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return ExpiryCheck{
		IsExpiring:      days <= warningDays,
		DaysUntilExpiry: days,
		ExpiresAt:       expiresAt,
	}
}

// MarkExpired delegates to the credential store, which owns the transition.
func (t *Tracker) MarkExpired(ctx context.Context, pageID string) error {
	return t.store.MarkExpired(ctx, pageID)
}
