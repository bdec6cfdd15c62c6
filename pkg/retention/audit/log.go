package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"permafrost-hq/permafrost/pkg/retention"
)

// Query defines filter parameters for reading back audit events.
type Query struct {
	// KBName filters by knowledge base. Empty matches all KBs.
	KBName string `json:"kb_name,omitempty"`

	// Action filters by action kind. Empty matches all actions.
	Action retention.Action `json:"action,omitempty"`

	// StartTime is the inclusive lower bound on event timestamps.
	StartTime *time.Time `json:"start_time,omitempty"`

	// EndTime is the inclusive upper bound on event timestamps.
	EndTime *time.Time `json:"end_time,omitempty"`

	// Limit is the maximum number of events to return. 0 means all.
	Limit int `json:"limit,omitempty"`
}

// Log is the append-only retention event sink. Implementations must be
// safe for concurrent use: scheduled tasks for different KBs append
// concurrently.
type Log interface {
	// Append records one retention event. The event's ID and Timestamp
	// are assigned by the log if unset.
	Append(ctx context.Context, event *retention.Event) error

	// Query returns events matching the filters, newest first.
	Query(ctx context.Context, query *Query) ([]*retention.Event, error)

	// Count returns the number of events matching the filters.
	Count(ctx context.Context, query *Query) (int64, error)

	// Close releases resources held by the log.
	Close() error
}

// stamp fills in the event identity fields if the caller left them
// unset.
func stamp(event *retention.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
}

// matches reports whether the event passes every filter in the query.
func matches(event *retention.Event, query *Query) bool {
	if query == nil {
		return true
	}
	if query.KBName != "" && event.KBName != query.KBName {
		return false
	}
	if query.Action != "" && event.Action != query.Action {
		return false
	}
	if query.StartTime != nil && event.Timestamp.Before(*query.StartTime) {
		return false
	}
	if query.EndTime != nil && event.Timestamp.After(*query.EndTime) {
		return false
	}
	return true
}
