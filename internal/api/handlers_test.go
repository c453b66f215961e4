package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"

	"page-mirror/internal/config"
	"page-mirror/internal/db"
	"page-mirror/internal/models"
	"page-mirror/internal/vault"
	"page-mirror/internal/webhook"
)

const (
	testAppSecret   = "test-app-secret"
	testVerifyToken = "verify-me"
)

type noopClient struct{}

func (noopClient) GetRelevantEvents(ctx context.Context, pageID, credential string, daysBack int) ([]models.UpstreamEvent, error) {
	return nil, nil
}

type noopCreds struct{}

func (noopCreds) Get(ctx context.Context, pageID string) (string, error) {
	return "", vault.ErrNoCredential
}
func (noopCreds) MarkExpired(ctx context.Context, pageID string) error { return nil }

type noopCovers struct{}

func (noopCovers) ProcessCoverImage(ctx context.Context, ev *models.UpstreamEvent, pageID string) string {
	return ""
}

type emptyStore struct{}

func (emptyStore) GetPage(ctx context.Context, pageID string) (*models.PageSubscription, error) {
	return nil, db.ErrPageNotFound
}
func (emptyStore) BatchUpsertEvents(ctx context.Context, items []models.EventRecord) (int, error) {
	return len(items), nil
}
func (emptyStore) DeleteEvent(ctx context.Context, eventID string) error { return nil }

func testServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := slog.New(slog.DiscardHandler)
	reconciler := webhook.NewReconciler(log, noopClient{}, noopCreds{}, noopCovers{}, emptyStore{}, 30)
	cfg := config.Config{
		AppSecret:          testAppSecret,
		WebhookVerifyToken: testVerifyToken,
	}
	return NewServer(log, nil, nil, nil, nil, reconciler, cfg)
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testAppSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookChallenge(t *testing.T) {
	srv := testServer(t)

	tests := []struct {
		name       string
		query      url.Values
		wantStatus int
		wantBody   string
	}{
		{
			name: "valid handshake",
			query: url.Values{
				"hub.mode":         {"subscribe"},
				"hub.challenge":    {"1158201444"},
				"hub.verify_token": {testVerifyToken},
			},
			wantStatus: http.StatusOK,
			wantBody:   "1158201444",
		},
		{
			name: "wrong token",
			query: url.Values{
				"hub.mode":         {"subscribe"},
				"hub.challenge":    {"1158201444"},
				"hub.verify_token": {"guess"},
			},
			wantStatus: http.StatusForbidden,
		},
		{
			name: "wrong mode",
			query: url.Values{
				"hub.mode":         {"unsubscribe"},
				"hub.challenge":    {"1158201444"},
				"hub.verify_token": {testVerifyToken},
			},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "missing params",
			query:      url.Values{},
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/webhook?"+tt.query.Encode(), nil)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want raw challenge %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func deliver(srv *Server, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestWebhookDelivery_BadSignature(t *testing.T) {
	srv := testServer(t)
	body := []byte(`{"object":"page","entry":[]}`)

	for _, sig := range []string{"", "sha256=deadbeef", signBody([]byte("other"))} {
		rec := deliver(srv, body, sig)
		if rec.Code != http.StatusForbidden {
			t.Errorf("signature %q: status = %d, want 403", sig, rec.Code)
		}
	}
}

func TestWebhookDelivery_InvalidPayload(t *testing.T) {
	srv := testServer(t)
	body := []byte(`{"object":"user","entry":[{"id":"p1","changes":[{"field":"events","value":{"event_id":"","verb":"explode"}}]}]}`)

	rec := deliver(srv, body, signBody(body))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var resp struct {
		Error struct {
			Code    string   `json:"code"`
			Details []string `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error.Code != "invalid_payload" {
		t.Errorf("error code = %q", resp.Error.Code)
	}
	if len(resp.Error.Details) != 3 {
		t.Errorf("details = %v, want all 3 violations reported", resp.Error.Details)
	}
}

func TestWebhookDelivery_Accepted(t *testing.T) {
	srv := testServer(t)
	body := []byte(`{"object":"page","entry":[{"id":"unknown-page","changes":[{"field":"events","value":{"event_id":"e1","verb":"update"}}]}]}`)

	rec := deliver(srv, body, signBody(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success   bool `json:"success"`
		Processed int  `json:"processed"`
		Skipped   int  `json:"skipped"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Error("expected success=true")
	}
	if resp.Processed != 0 || resp.Skipped != 1 {
		t.Errorf("processed=%d skipped=%d, want 0/1 for an unknown page", resp.Processed, resp.Skipped)
	}
}

func TestHealthz(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
