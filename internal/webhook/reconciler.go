package webhook

import (
	"context"
	"errors"
	"log/slog"

	"page-mirror/internal/db"
	"page-mirror/internal/models"
	"page-mirror/internal/platform"
	"page-mirror/internal/sync"
	"page-mirror/internal/vault"
)

// Persistence is the store surface the reconciler writes through.
type Persistence interface {
	GetPage(ctx context.Context, pageID string) (*models.PageSubscription, error)
	BatchUpsertEvents(ctx context.Context, items []models.EventRecord) (int, error)
	DeleteEvent(ctx context.Context, eventID string) error
}

// Summary aggregates one processed delivery.
type Summary struct {
	Processed int                           `json:"processed"`
	Failed    int                           `json:"failed"`
	Skipped   int                           `json:"skipped"`
	Details   []models.WebhookChangeOutcome `json:"details"`
}

// Reconciler applies webhook-delivered changes against the local mirror.
// Every change is applied idempotently and in isolation; redelivered or
// reordered notifications converge to the last successfully applied write
// for each event id.
type Reconciler struct {
	client   sync.ContentClient
	creds    sync.CredentialStore
	covers   sync.CoverResolver
	store    Persistence
	daysBack int
	logger   *slog.Logger
}

func NewReconciler(logger *slog.Logger, client sync.ContentClient, creds sync.CredentialStore, covers sync.CoverResolver, store Persistence, daysBack int) *Reconciler {
	if daysBack <= 0 {
		daysBack = 30
	}
	return &Reconciler{
		client:   client,
		creds:    creds,
		covers:   covers,
		store:    store,
		daysBack: daysBack,
		logger:   logger,
	}
}

// ProcessPayload applies every events-field change in a delivery, each one
// independently. It never returns an error: per-change failures land in the
// summary, mirroring the per-page isolation of a full sync run.
func (r *Reconciler) ProcessPayload(ctx context.Context, payload Payload) Summary {
	summary := Summary{Details: []models.WebhookChangeOutcome{}}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != eventsField {
				continue
			}

			verb, ok := ParseVerb(change.Value.Verb)
			if !ok {
				// validation rejects these at the boundary; stay defensive
				// against a caller skipping it
				summary.Failed++
				summary.Details = append(summary.Details, models.WebhookChangeOutcome{
					EventID: change.Value.EventID,
					Verb:    change.Value.Verb,
					PageID:  entry.ID,
					Status:  models.ChangeFailed,
					Reason:  "Unsupported verb",
				})
				continue
			}

			outcome := r.ApplyChange(ctx, change.Value.EventID, verb, entry.ID)
			summary.Details = append(summary.Details, outcome)
			switch outcome.Status {
			case models.ChangeSuccess:
				summary.Processed++
			case models.ChangeFailed:
				summary.Failed++
			case models.ChangeSkipped:
				summary.Skipped++
			}
		}
	}

	r.logger.Info("webhook_payload_processed",
		"processed", summary.Processed,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)
	return summary
}

// ApplyChange reconciles one event against believed-current upstream
// truth. Failure reasons are sanitized; raw upstream or internal error
// detail never leaves this method.
func (r *Reconciler) ApplyChange(ctx context.Context, eventID string, verb Verb, pageID string) models.WebhookChangeOutcome {
	outcome := models.WebhookChangeOutcome{
		EventID: eventID,
		Verb:    verb.String(),
		PageID:  pageID,
	}

	page, err := r.store.GetPage(ctx, pageID)
	if err != nil && !errors.Is(err, db.ErrPageNotFound) {
		r.logger.Error("webhook_page_lookup_failed", "page_id", pageID, "error", err)
		outcome.Status = models.ChangeFailed
		outcome.Reason = "Internal error"
		return outcome
	}
	if page == nil || !page.Active || page.TokenStatus == models.TokenExpired {
		outcome.Status = models.ChangeSkipped
		outcome.Reason = "Page not active"
		return outcome
	}

	switch verb {
	case VerbDelete:
		return r.applyDelete(ctx, outcome)
	case VerbCreate, VerbUpdate:
		return r.applyUpsert(ctx, outcome)
	}

	outcome.Status = models.ChangeFailed
	outcome.Reason = "Unsupported verb"
	return outcome
}

func (r *Reconciler) applyDelete(ctx context.Context, outcome models.WebhookChangeOutcome) models.WebhookChangeOutcome {
	if err := r.store.DeleteEvent(ctx, outcome.EventID); err != nil {
		r.logger.Error("webhook_delete_failed", "event_id", outcome.EventID, "error", err)
		outcome.Status = models.ChangeFailed
		outcome.Reason = "Failed to delete event"
		return outcome
	}

	r.logger.Info("webhook_event_deleted", "event_id", outcome.EventID, "page_id", outcome.PageID)
	outcome.Status = models.ChangeSuccess
	return outcome
}

// applyUpsert re-reads current upstream truth for the page and applies it
// for the target event: found means refresh, not found means the event was
// removed upstream and the local record goes with it.
func (r *Reconciler) applyUpsert(ctx context.Context, outcome models.WebhookChangeOutcome) models.WebhookChangeOutcome {
	credential, err := r.creds.Get(ctx, outcome.PageID)
	if err != nil {
		if errors.Is(err, vault.ErrNoCredential) {
			outcome.Status = models.ChangeFailed
			outcome.Reason = "No access token"
			return outcome
		}
		r.logger.Error("webhook_credential_error", "page_id", outcome.PageID, "error", err)
		outcome.Status = models.ChangeFailed
		outcome.Reason = "Internal error"
		return outcome
	}

	events, err := r.client.GetRelevantEvents(ctx, outcome.PageID, credential, r.daysBack)
	if err != nil {
		if platform.IsAuthInvalid(err) {
			r.logger.Warn("webhook_auth_invalid", "page_id", outcome.PageID)
			if markErr := r.creds.MarkExpired(ctx, outcome.PageID); markErr != nil {
				r.logger.Error("mark_expired_failed", "page_id", outcome.PageID, "error", markErr)
			}
			outcome.Status = models.ChangeFailed
			outcome.Reason = "Access token invalid"
			return outcome
		}
		r.logger.Warn("webhook_fetch_failed", "page_id", outcome.PageID, "error", err)
		outcome.Status = models.ChangeFailed
		outcome.Reason = "Failed to fetch events"
		return outcome
	}

	var target *models.UpstreamEvent
	for i := range events {
		if events[i].ID == outcome.EventID {
			target = &events[i]
			break
		}
	}

	if target == nil {
		if err := r.store.DeleteEvent(ctx, outcome.EventID); err != nil {
			r.logger.Error("webhook_cleanup_failed", "event_id", outcome.EventID, "error", err)
			outcome.Status = models.ChangeFailed
			outcome.Reason = "Failed to remove stale event"
			return outcome
		}
		outcome.Status = models.ChangeSuccess
		outcome.Reason = "Event not found, removed from DB"
		return outcome
	}

	coverURL := r.covers.ProcessCoverImage(ctx, target, outcome.PageID)
	record := sync.Normalize(*target, outcome.PageID, coverURL)

	if _, err := r.store.BatchUpsertEvents(ctx, []models.EventRecord{record}); err != nil {
		r.logger.Error("webhook_upsert_failed", "event_id", outcome.EventID, "error", err)
		outcome.Status = models.ChangeFailed
		outcome.Reason = "Failed to save event"
		return outcome
	}

	r.logger.Info("webhook_event_upserted", "event_id", outcome.EventID, "page_id", outcome.PageID)
	outcome.Status = models.ChangeSuccess
	return outcome
}
