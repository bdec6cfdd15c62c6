package audit

import (
	"context"
	"sort"
	"sync"

	"permafrost-hq/permafrost/pkg/retention"
)

// MemoryLog implements Log using an in-memory slice. It is intended for
// tests and short-lived tooling; durable deployments use SQLiteLog.
type MemoryLog struct {
	mu     sync.RWMutex
	events []*retention.Event
}

// NewMemoryLog creates a new in-memory event log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append records one retention event.
func (l *MemoryLog) Append(ctx context.Context, event *retention.Event) error {
	stamp(event)

	l.mu.Lock()
	defer l.mu.Unlock()

	// Copy so later caller mutation cannot rewrite history.
	eventCopy := *event
	l.events = append(l.events, &eventCopy)

	return nil
}

// Query returns matching events, newest first.
func (l *MemoryLog) Query(ctx context.Context, query *Query) ([]*retention.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var results []*retention.Event
	for _, event := range l.events {
		if matches(event, query) {
			eventCopy := *event
			results = append(results, &eventCopy)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Timestamp.After(results[j].Timestamp)
	})

	if query != nil && query.Limit > 0 && len(results) > query.Limit {
		results = results[:query.Limit]
	}

	return results, nil
}

// Count returns the number of matching events.
func (l *MemoryLog) Count(ctx context.Context, query *Query) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var count int64
	for _, event := range l.events {
		if matches(event, query) {
			count++
		}
	}
	return count, nil
}

// Close releases no resources for the in-memory log.
func (l *MemoryLog) Close() error {
	return nil
}
