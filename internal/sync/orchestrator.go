package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"page-mirror/internal/models"
	"page-mirror/internal/platform"
	"page-mirror/internal/vault"
)

// Collaborator surfaces the orchestrator consumes. Defined here so the run
// can be exercised against fakes.

type ContentClient interface {
	GetRelevantEvents(ctx context.Context, pageID, credential string, daysBack int) ([]models.UpstreamEvent, error)
}

type CredentialStore interface {
	Get(ctx context.Context, pageID string) (string, error)
	MarkExpired(ctx context.Context, pageID string) error
}

type ExpiryChecker interface {
	CheckExpiry(ctx context.Context, pageID string, warningDays int) vault.ExpiryCheck
}

type Persistence interface {
	GetActivePages(ctx context.Context) ([]models.PageSubscription, error)
	BatchUpsertEvents(ctx context.Context, items []models.EventRecord) (int, error)
}

type CoverResolver interface {
	ProcessCoverImage(ctx context.Context, ev *models.UpstreamEvent, pageID string) string
}

type OrchestratorConfig struct {
	DaysBack         int
	TokenWarningDays int
}

// Orchestrator drives a full sync run: every active page, sequentially,
// each one isolated so a bad page never aborts the run. Only the final
// batch write (and the initial page load) can fail the run as a whole.
type Orchestrator struct {
	client  ContentClient
	creds   CredentialStore
	tracker ExpiryChecker
	store   Persistence
	covers  CoverResolver
	cfg     OrchestratorConfig
	logger  *slog.Logger
}

func NewOrchestrator(logger *slog.Logger, client ContentClient, creds CredentialStore, tracker ExpiryChecker, store Persistence, covers CoverResolver, cfg OrchestratorConfig) *Orchestrator {
	if cfg.DaysBack <= 0 {
		cfg.DaysBack = 30
	}
	if cfg.TokenWarningDays <= 0 {
		cfg.TokenWarningDays = 7
	}
	return &Orchestrator{
		client:  client,
		creds:   creds,
		tracker: tracker,
		store:   store,
		covers:  covers,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run executes one full synchronization pass.
func (o *Orchestrator) Run(ctx context.Context) (models.SyncRunResult, error) {
	result := models.SyncRunResult{ExpiringTokens: []models.ExpiringToken{}}

	pages, err := o.store.GetActivePages(ctx)
	if err != nil {
		return result, fmt.Errorf("load active pages: %w", err)
	}
	if len(pages) == 0 {
		o.logger.Info("sync_run_no_active_pages")
		return result, nil
	}

	o.logger.Info("sync_run_started", "pages", len(pages))

	var buffer []models.EventRecord
	for i := range pages {
		page := pages[i]
		result.SyncedPages++

		records := o.syncPage(ctx, page, &result)
		buffer = append(buffer, records...)
	}

	// the only step whose failure escapes the run
	written, err := o.store.BatchUpsertEvents(ctx, buffer)
	if err != nil {
		return result, fmt.Errorf("persist events: %w", err)
	}
	result.SyncedEvents = written

	o.logger.Info("sync_run_complete",
		"synced_pages", result.SyncedPages,
		"synced_events", result.SyncedEvents,
		"expiring_tokens", len(result.ExpiringTokens),
	)
	return result, nil
}

// syncPage handles one page end to end. Every failure mode ends here; none
// escapes to the run loop.
func (o *Orchestrator) syncPage(ctx context.Context, page models.PageSubscription, result *models.SyncRunResult) []models.EventRecord {
	check := o.tracker.CheckExpiry(ctx, page.ID, o.cfg.TokenWarningDays)
	if check.IsExpiring {
		result.ExpiringTokens = append(result.ExpiringTokens, models.ExpiringToken{
			PageID:          page.ID,
			PageName:        page.Name,
			DaysUntilExpiry: check.DaysUntilExpiry,
			ExpiresAt:       check.ExpiresAt,
		})
	}

	credential, err := o.creds.Get(ctx, page.ID)
	if err != nil {
		if errors.Is(err, vault.ErrNoCredential) {
			// page connected but never finished authorization; nothing to do
			o.logger.Debug("sync_page_no_credential", "page_id", page.ID)
			return nil
		}
		o.logger.Warn("sync_page_credential_error", "page_id", page.ID, "error", err)
		return nil
	}

	events, err := o.client.GetRelevantEvents(ctx, page.ID, credential, o.cfg.DaysBack)
	if err != nil {
		if platform.IsAuthInvalid(err) {
			o.logger.Warn("sync_page_auth_invalid", "page_id", page.ID)
			if markErr := o.creds.MarkExpired(ctx, page.ID); markErr != nil {
				o.logger.Error("mark_expired_failed", "page_id", page.ID, "error", markErr)
			}
			return nil
		}
		o.logger.Warn("sync_page_fetch_failed", "page_id", page.ID, "error", err)
		return nil
	}

	records := make([]models.EventRecord, 0, len(events))
	for i := range events {
		ev := events[i]
		coverURL := o.covers.ProcessCoverImage(ctx, &ev, page.ID)
		records = append(records, Normalize(ev, page.ID, coverURL))
	}

	o.logger.Debug("sync_page_complete", "page_id", page.ID, "events", len(records))
	return records
}
