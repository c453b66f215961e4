package sync

import (
	"time"

	"page-mirror/internal/models"
)

const eventURLBase = "https://www.facebook.com/events/"

// Normalize maps one raw upstream event to the stable local schema. Pure:
// no I/O, no clock beyond the updated timestamp. Cover precedence is the
// resolved (re-hosted) URL, then the raw upstream cover, then absent.
// Optional fields absent upstream stay nil; the persistence layer never
// receives a placeholder value.
func Normalize(raw models.UpstreamEvent, pageID, resolvedCoverURL string) models.EventRecord {
	now := time.Now().UTC()

	rec := models.EventRecord{
		ID:        raw.ID,
		PageID:    pageID,
		Title:     raw.Name,
		StartTime: raw.StartTime.Time,
		EventURL:  eventURLBase + raw.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if raw.Description != nil && *raw.Description != "" {
		rec.Description = raw.Description
	}
	if raw.EndTime != nil {
		end := raw.EndTime.Time
		rec.EndTime = &end
	}
	if raw.Place != nil && raw.Place.Name != "" {
		place := raw.Place.Name
		rec.Place = &place
	}

	switch {
	case resolvedCoverURL != "":
		rec.CoverImageURL = &resolvedCoverURL
	case raw.CoverSource() != "":
		cover := raw.CoverSource()
		rec.CoverImageURL = &cover
	}

	return rec
}
