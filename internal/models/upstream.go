package models

import (
	"fmt"
	"strings"
	"time"
)

// Raw upstream shapes. The platform API is loosely typed: place, cover and
// end_time come and go per event, so everything optional is a pointer and is
// validated at the ingress boundary before normalization.

type UpstreamPage struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token,omitempty"`
}

type UpstreamCover struct {
	Source string `json:"source"`
	ID     string `json:"id,omitempty"`
}

type UpstreamPlace struct {
	Name string `json:"name"`
}

// UpstreamTime parses the platform's ISO8601 timestamps. The zone offset
// comes without a colon (+0000), which strict RFC 3339 parsing rejects.
type UpstreamTime struct {
	time.Time
}

var upstreamTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02",
}

func (t *UpstreamTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	for _, layout := range upstreamTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			t.Time = ts
			return nil
		}
	}
	return fmt.Errorf("unparseable upstream timestamp %q", s)
}

func (t UpstreamTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Format(time.RFC3339) + `"`), nil
}

type UpstreamEvent struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description *string        `json:"description,omitempty"`
	StartTime   UpstreamTime   `json:"start_time"`
	EndTime     *UpstreamTime  `json:"end_time,omitempty"`
	Place       *UpstreamPlace `json:"place,omitempty"`
	Cover       *UpstreamCover `json:"cover,omitempty"`
}

// CoverSource returns the cover image URL, or "" when the event has none.
func (e *UpstreamEvent) CoverSource() string {
	if e.Cover == nil {
		return ""
	}
	return e.Cover.Source
}

// Paging is the cursor envelope the upstream returns alongside each data
// page. An empty After cursor and no Next link means the listing is done.
type Paging struct {
	Cursors struct {
		Before string `json:"before"`
		After  string `json:"after"`
	} `json:"cursors"`
	Next string `json:"next,omitempty"`
}
