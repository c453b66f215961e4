package vault

import (
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		expiresAt   time.Time
		warningDays int
		wantWarn    bool
		wantDays    int
	}{
		{"far in the future", now.AddDate(0, 0, 45), 7, false, 45},
		{"just outside window", now.AddDate(0, 0, 8), 7, false, 8},
		{"exactly at window", now.AddDate(0, 0, 7), 7, true, 7},
		{"inside window", now.AddDate(0, 0, 3), 7, true, 3},
		{"expires today", now.Add(6 * time.Hour), 7, true, 0},
		{"already expired", now.AddDate(0, 0, -2), 7, true, 0},
		{"partial day rounds down", now.Add(7*24*time.Hour + 12*time.Hour), 7, true, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(now, tt.expiresAt, tt.warningDays)
			if got.IsExpiring != tt.wantWarn {
				t.Errorf("IsExpiring = %v, want %v", got.IsExpiring, tt.wantWarn)
			}
			if got.DaysUntilExpiry != tt.wantDays {
				t.Errorf("DaysUntilExpiry = %d, want %d", got.DaysUntilExpiry, tt.wantDays)
			}
			if !got.ExpiresAt.Equal(tt.expiresAt) {
				t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, tt.expiresAt)
			}
		})
	}
}
