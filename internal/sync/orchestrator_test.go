package sync

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"page-mirror/internal/models"
	"page-mirror/internal/platform"
	"page-mirror/internal/vault"
)

type stubClient struct {
	perPage map[string][]models.UpstreamEvent
	perErr  map[string]error
}

func (s *stubClient) GetRelevantEvents(ctx context.Context, pageID, credential string, daysBack int) ([]models.UpstreamEvent, error) {
	if err, ok := s.perErr[pageID]; ok {
		return nil, err
	}
	return s.perPage[pageID], nil
}

type stubCreds struct {
	secrets map[string]string
	getErr  map[string]error
	expired []string
}

func (s *stubCreds) Get(ctx context.Context, pageID string) (string, error) {
	if err, ok := s.getErr[pageID]; ok {
		return "", err
	}
	if tok, ok := s.secrets[pageID]; ok {
		return tok, nil
	}
	return "", vault.ErrNoCredential
}

func (s *stubCreds) MarkExpired(ctx context.Context, pageID string) error {
	s.expired = append(s.expired, pageID)
	return nil
}

type stubTracker struct {
	expiring map[string]vault.ExpiryCheck
}

func (s *stubTracker) CheckExpiry(ctx context.Context, pageID string, warningDays int) vault.ExpiryCheck {
	if c, ok := s.expiring[pageID]; ok {
		return c
	}
	return vault.ExpiryCheck{}
}

type stubPersistence struct {
	pages     []models.PageSubscription
	pagesErr  error
	written   []models.EventRecord
	upsertErr error
}

func (s *stubPersistence) GetActivePages(ctx context.Context) ([]models.PageSubscription, error) {
	return s.pages, s.pagesErr
}

func (s *stubPersistence) BatchUpsertEvents(ctx context.Context, items []models.EventRecord) (int, error) {
	if s.upsertErr != nil {
		return 0, s.upsertErr
	}
	s.written = append(s.written, items...)
	return len(items), nil
}

type passthroughCovers struct{}

func (passthroughCovers) ProcessCoverImage(ctx context.Context, ev *models.UpstreamEvent, pageID string) string {
	return ev.CoverSource()
}

func newTestOrchestrator(client ContentClient, creds CredentialStore, tracker ExpiryChecker, store Persistence) *Orchestrator {
	return NewOrchestrator(slog.New(slog.DiscardHandler), client, creds, tracker, store, passthroughCovers{}, OrchestratorConfig{})
}

func page(id string) models.PageSubscription {
	return models.PageSubscription{ID: id, Name: "Page " + id, Active: true, TokenStatus: models.TokenValid}
}

func upstreamEvent(id string) models.UpstreamEvent {
	return models.UpstreamEvent{
		ID:        id,
		Name:      "Event " + id,
		StartTime: models.UpstreamTime{Time: time.Now().Add(time.Hour)},
	}
}

func TestRun_NoActivePages(t *testing.T) {
	store := &stubPersistence{}
	o := newTestOrchestrator(&stubClient{}, &stubCreds{}, &stubTracker{}, store)

	result, err := o.Run(t.Context())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SyncedPages != 0 || result.SyncedEvents != 0 || len(result.ExpiringTokens) != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
}

func TestRun_PageLoadErrorPropagates(t *testing.T) {
	store := &stubPersistence{pagesErr: errors.New("db down")}
	o := newTestOrchestrator(&stubClient{}, &stubCreds{}, &stubTracker{}, store)

	if _, err := o.Run(t.Context()); err == nil {
		t.Fatal("expected error from page load")
	}
}

// A failing page never aborts the run; every attempted page is counted.
func TestRun_PerPageIsolation(t *testing.T) {
	store := &stubPersistence{pages: []models.PageSubscription{page("p1"), page("p2"), page("p3")}}
	creds := &stubCreds{
		secrets: map[string]string{"p1": "t1", "p2": "t2", "p3": "t3"},
	}
	client := &stubClient{
		perPage: map[string][]models.UpstreamEvent{
			"p1": {upstreamEvent("a")},
			"p3": {upstreamEvent("b"), upstreamEvent("c")},
		},
		perErr: map[string]error{"p2": errors.New("upstream timeout")},
	}

	o := newTestOrchestrator(client, creds, &stubTracker{}, store)
	result, err := o.Run(t.Context())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SyncedPages != 3 {
		t.Errorf("synced_pages = %d, want 3", result.SyncedPages)
	}
	if result.SyncedEvents != 3 {
		t.Errorf("synced_events = %d, want 3", result.SyncedEvents)
	}
	if len(store.written) != 3 {
		t.Errorf("wrote %d records, want 3", len(store.written))
	}
}

func TestRun_AuthInvalidMarksExpired(t *testing.T) {
	store := &stubPersistence{pages: []models.PageSubscription{page("p1"), page("p2")}}
	creds := &stubCreds{secrets: map[string]string{"p1": "t1", "p2": "t2"}}
	client := &stubClient{
		perPage: map[string][]models.UpstreamEvent{"p2": {upstreamEvent("a")}},
		perErr:  map[string]error{"p1": &platform.APIError{HTTPStatus: 401, Code: 190}},
	}

	o := newTestOrchestrator(client, creds, &stubTracker{}, store)
	result, err := o.Run(t.Context())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(creds.expired) != 1 || creds.expired[0] != "p1" {
		t.Errorf("expected p1 marked expired, got %v", creds.expired)
	}
	if result.SyncedPages != 2 || result.SyncedEvents != 1 {
		t.Errorf("unexpected result: %+v", result)
	}
}

// A transient fetch error must not mark the credential expired.
func TestRun_TransientErrorLeavesCredential(t *testing.T) {
	store := &stubPersistence{pages: []models.PageSubscription{page("p1")}}
	creds := &stubCreds{secrets: map[string]string{"p1": "t1"}}
	client := &stubClient{perErr: map[string]error{"p1": &platform.APIError{HTTPStatus: 503}}}

	o := newTestOrchestrator(client, creds, &stubTracker{}, store)
	if _, err := o.Run(t.Context()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(creds.expired) != 0 {
		t.Errorf("transient error must not expire credentials, got %v", creds.expired)
	}
}

func TestRun_MissingCredentialSkipsQuietly(t *testing.T) {
	store := &stubPersistence{pages: []models.PageSubscription{page("p1")}}
	o := newTestOrchestrator(&stubClient{}, &stubCreds{}, &stubTracker{}, store)

	result, err := o.Run(t.Context())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SyncedPages != 1 || result.SyncedEvents != 0 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestRun_CollectsExpiringTokens(t *testing.T) {
	expiresAt := time.Now().Add(72 * time.Hour)
	store := &stubPersistence{pages: []models.PageSubscription{page("p1"), page("p2")}}
	creds := &stubCreds{secrets: map[string]string{"p1": "t1", "p2": "t2"}}
	tracker := &stubTracker{expiring: map[string]vault.ExpiryCheck{
		"p1": {IsExpiring: true, DaysUntilExpiry: 3, ExpiresAt: expiresAt},
	}}

	o := newTestOrchestrator(&stubClient{}, creds, tracker, store)
	result, err := o.Run(t.Context())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.ExpiringTokens) != 1 {
		t.Fatalf("expected one expiring token, got %d", len(result.ExpiringTokens))
	}
	warn := result.ExpiringTokens[0]
	if warn.PageID != "p1" || warn.PageName != "Page p1" || warn.DaysUntilExpiry != 3 {
		t.Errorf("unexpected warning: %+v", warn)
	}
}

func TestRun_BatchWriteErrorPropagates(t *testing.T) {
	store := &stubPersistence{
		pages:     []models.PageSubscription{page("p1")},
		upsertErr: errors.New("write conflict"),
	}
	creds := &stubCreds{secrets: map[string]string{"p1": "t1"}}
	client := &stubClient{perPage: map[string][]models.UpstreamEvent{"p1": {upstreamEvent("a")}}}

	o := newTestOrchestrator(client, creds, &stubTracker{}, store)
	result, err := o.Run(t.Context())
	if err == nil {
		t.Fatal("expected batch write error to propagate")
	}
	if result.SyncedPages != 1 {
		t.Errorf("pages attempted before the failure stay counted, got %d", result.SyncedPages)
	}
}
