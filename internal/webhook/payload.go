package webhook

import (
	"encoding/json"
	"fmt"
)

const (
	// payload shape the upstream delivers for page subscriptions
	expectedObject = "page"
	eventsField    = "events"
)

type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	EventID string `json:"event_id"`
	Verb    string `json:"verb"`
}

// ValidatePayload structurally checks a raw delivery body, accumulating
// every violation instead of failing on the first. On success the typed
// payload is returned alongside an empty error list.
func ValidatePayload(raw []byte) (Payload, []string) {
	var errs []string

	var loose map[string]json.RawMessage
	if err := json.Unmarshal(raw, &loose); err != nil {
		return Payload{}, []string{"payload must be a JSON object"}
	}

	var object string
	if rawObj, ok := loose["object"]; !ok || json.Unmarshal(rawObj, &object) != nil {
		errs = append(errs, "object must be a string")
	} else if object != expectedObject {
		errs = append(errs, fmt.Sprintf("object must be %q", expectedObject))
	}

	rawEntry, ok := loose["entry"]
	if !ok {
		errs = append(errs, "entry is required")
		return Payload{}, errs
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(rawEntry, &entries); err != nil {
		errs = append(errs, "entry must be an array")
		return Payload{}, errs
	}

	payload := Payload{Object: object}
	for i, rawEnt := range entries {
		entry, entryErrs := validateEntry(i, rawEnt)
		errs = append(errs, entryErrs...)
		payload.Entry = append(payload.Entry, entry)
	}

	if len(errs) > 0 {
		return Payload{}, errs
	}
	return payload, nil
}

func validateEntry(i int, raw json.RawMessage) (Entry, []string) {
	var errs []string

	var loose map[string]json.RawMessage
	if err := json.Unmarshal(raw, &loose); err != nil {
		return Entry{}, []string{fmt.Sprintf("entry[%d] must be an object", i)}
	}

	var entry Entry
	if rawID, ok := loose["id"]; !ok || json.Unmarshal(rawID, &entry.ID) != nil || entry.ID == "" {
		errs = append(errs, fmt.Sprintf("entry[%d].id must be a non-empty string", i))
	}

	rawChanges, ok := loose["changes"]
	if !ok {
		errs = append(errs, fmt.Sprintf("entry[%d].changes is required", i))
		return entry, errs
	}

	var changes []Change
	if err := json.Unmarshal(rawChanges, &changes); err != nil {
		errs = append(errs, fmt.Sprintf("entry[%d].changes must be an array", i))
		return entry, errs
	}
	entry.Changes = changes

	for j, change := range changes {
		if change.Field != eventsField {
			// other subscription fields pass through untouched; the
			// reconciler ignores them
			continue
		}
		if change.Value.EventID == "" {
			errs = append(errs, fmt.Sprintf("entry[%d].changes[%d].value.event_id must be a non-empty string", i, j))
		}
		if _, ok := ParseVerb(change.Value.Verb); !ok {
			errs = append(errs, fmt.Sprintf("entry[%d].changes[%d].value.verb must be one of create, update, delete", i, j))
		}
	}

	return entry, errs
}
