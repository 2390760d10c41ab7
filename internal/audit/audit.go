package audit

import (
	"context"
	"fmt"
	"time"
)

// FieldChange records one field's before/after values.
type FieldChange struct {
	Field string `json:"field"`
	Old   any    `json:"old,omitempty"`
	New   any    `json:"new,omitempty"`
}

// Entry is one persisted audit event. Entries are append-only.
type Entry struct {
	ID           string        `json:"id"`
	ActorID      string        `json:"actor_id"`
	ActorEmail   string        `json:"actor_email,omitempty"`
	Action       string        `json:"action"`
	ResourceType string        `json:"resource_type"`
	ResourceID   string        `json:"resource_id,omitempty"`
	ResourceName string        `json:"resource_name,omitempty"`
	Changes      []FieldChange `json:"changes,omitempty"`
	IP           string        `json:"ip,omitempty"`
	UserAgent    string        `json:"user_agent,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Query restricts an audit listing.
type Query struct {
	ActorID      string
	Action       string
	ResourceType string
	Limit        int
}

// Store persists audit entries.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context, q Query) ([]Entry, error)
}

// Diff builds field changes for values that actually differ. Unchanged
// fields are dropped so entries stay small.
func Diff(fields map[string][2]any) []FieldChange {
	var out []FieldChange
	for field, pair := range fields {
		if fmt.Sprint(pair[0]) == fmt.Sprint(pair[1]) {
			continue
		}
		out = append(out, FieldChange{Field: field, Old: pair[0], New: pair[1]})
	}
	return out
}
