package sync

import (
	"testing"
	"time"

	"page-mirror/internal/models"
)

func TestNormalize_FullEvent(t *testing.T) {
	start := time.Date(2026, 9, 10, 20, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Hour)
	desc := "Weekly open stage night"
	raw := models.UpstreamEvent{
		ID:          "e1",
		Name:        "Open Stage",
		Description: &desc,
		StartTime:   models.UpstreamTime{Time: start},
		EndTime:     &models.UpstreamTime{Time: end},
		Place:       &models.UpstreamPlace{Name: "Kulturhaus"},
		Cover:       &models.UpstreamCover{Source: "https://cdn.example/raw.jpg"},
	}

	rec := Normalize(raw, "p1", "https://bucket.example/covers/p1/e1.jpg")

	if rec.ID != "e1" || rec.PageID != "p1" || rec.Title != "Open Stage" {
		t.Errorf("unexpected identity fields: %+v", rec)
	}
	if rec.Description == nil || *rec.Description != "Weekly open stage night" {
		t.Errorf("description = %v", rec.Description)
	}
	if !rec.StartTime.Equal(start) {
		t.Errorf("start = %v, want %v", rec.StartTime, start)
	}
	if rec.EndTime == nil || !rec.EndTime.Equal(end) {
		t.Errorf("end = %v, want %v", rec.EndTime, end)
	}
	if rec.Place == nil || *rec.Place != "Kulturhaus" {
		t.Errorf("place = %v", rec.Place)
	}
	if rec.CoverImageURL == nil || *rec.CoverImageURL != "https://bucket.example/covers/p1/e1.jpg" {
		t.Errorf("cover = %v", rec.CoverImageURL)
	}
	if rec.EventURL != "https://www.facebook.com/events/e1" {
		t.Errorf("event_url = %q", rec.EventURL)
	}
}

// Absent optional fields stay nil; no empty-string placeholders.
func TestNormalize_MinimalEvent(t *testing.T) {
	raw := models.UpstreamEvent{
		ID:        "e2",
		Name:      "Minimal",
		StartTime: models.UpstreamTime{Time: time.Now()},
	}

	rec := Normalize(raw, "p1", "")

	if rec.Description != nil {
		t.Errorf("description = %v, want nil", rec.Description)
	}
	if rec.EndTime != nil {
		t.Errorf("end_time = %v, want nil", rec.EndTime)
	}
	if rec.Place != nil {
		t.Errorf("place = %v, want nil", rec.Place)
	}
	if rec.CoverImageURL != nil {
		t.Errorf("cover = %v, want nil", rec.CoverImageURL)
	}
}

func TestNormalize_CoverPrecedence(t *testing.T) {
	raw := models.UpstreamEvent{
		ID:        "e3",
		Name:      "Covered",
		StartTime: models.UpstreamTime{Time: time.Now()},
		Cover:     &models.UpstreamCover{Source: "https://cdn.example/original.jpg"},
	}

	// resolved URL wins over the raw source
	rec := Normalize(raw, "p1", "https://bucket.example/mirrored.jpg")
	if rec.CoverImageURL == nil || *rec.CoverImageURL != "https://bucket.example/mirrored.jpg" {
		t.Errorf("cover = %v, want mirrored URL", rec.CoverImageURL)
	}

	// no resolved URL falls back to the raw source
	rec = Normalize(raw, "p1", "")
	if rec.CoverImageURL == nil || *rec.CoverImageURL != "https://cdn.example/original.jpg" {
		t.Errorf("cover = %v, want original source", rec.CoverImageURL)
	}
}

func TestNormalize_EndTimeIsCopied(t *testing.T) {
	end := models.UpstreamTime{Time: time.Date(2026, 9, 10, 23, 0, 0, 0, time.UTC)}
	raw := models.UpstreamEvent{
		ID:        "e4",
		Name:      "Aliased",
		StartTime: models.UpstreamTime{Time: time.Now()},
		EndTime:   &end,
	}

	rec := Normalize(raw, "p1", "")
	end.Time = end.Add(time.Hour)
	if !rec.EndTime.Equal(time.Date(2026, 9, 10, 23, 0, 0, 0, time.UTC)) {
		t.Error("record end time must not alias the upstream struct")
	}
}
