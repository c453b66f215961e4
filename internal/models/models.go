package models

import "time"

type TokenStatus string

const (
	TokenValid    TokenStatus = "valid"
	TokenExpiring TokenStatus = "expiring"
	TokenExpired  TokenStatus = "expired"
)

// PageSubscription is one connected upstream page. Keyed by the upstream
// page id; active=false or token_status=expired gates the page out of sync
// and reconciliation until it is re-authorized.
type PageSubscription struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Active         bool        `json:"active"`
	TokenStatus    TokenStatus `json:"token_status"`
	TokenExpiresAt *time.Time  `json:"token_expires_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// EventRecord is the normalized local copy of one upstream event. Keyed
// globally by the upstream event id. Optional fields stay nil when the
// upstream value is absent; nil is never serialized as a placeholder.
type EventRecord struct {
	ID            string     `json:"id"`
	PageID        string     `json:"page_id"`
	Title         string     `json:"title"`
	Description   *string    `json:"description,omitempty"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	Place         *string    `json:"place,omitempty"`
	CoverImageURL *string    `json:"cover_image_url,omitempty"`
	EventURL      string     `json:"event_url"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ExpiringToken is one warning entry in a sync run result.
type ExpiringToken struct {
	PageID          string    `json:"page_id"`
	PageName        string    `json:"page_name"`
	DaysUntilExpiry int       `json:"days_until_expiry"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// SyncRunResult aggregates one full sync run. SyncedPages counts pages
// attempted, including ones that failed or were skipped.
type SyncRunResult struct {
	SyncedPages    int             `json:"synced_pages"`
	SyncedEvents   int             `json:"synced_events"`
	ExpiringTokens []ExpiringToken `json:"expiring_tokens"`
}

type ChangeStatus string

const (
	ChangeSuccess ChangeStatus = "success"
	ChangeFailed  ChangeStatus = "failed"
	ChangeSkipped ChangeStatus = "skipped"
)

// WebhookChangeOutcome reports one applied webhook change.
type WebhookChangeOutcome struct {
	EventID string       `json:"event_id"`
	Verb    string       `json:"verb"`
	PageID  string       `json:"page_id"`
	Status  ChangeStatus `json:"status"`
	Reason  string       `json:"reason,omitempty"`
}
