package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Notification is one escalation message handed to the external sink.
type Notification struct {
	// To is the delivery target (address, channel, pager key).
	To string `json:"to"`

	// Subject is the short summary line.
	Subject string `json:"subject"`

	// Body is the full message text.
	Body string `json:"body"`
}

// Notifier delivers escalation notifications. Implementations must not
// block task execution for long; slow transports should buffer
// internally.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the structured log. It is the
// default sink when no external transport is configured, so
// escalations are never silently dropped.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed notification sink.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{
		logger: slog.Default().With("component", "retention.notify"),
	}
}

// Send logs the notification at warning level.
func (n *LogNotifier) Send(ctx context.Context, notification Notification) error {
	n.logger.Warn("retention escalation",
		"to", notification.To,
		"subject", notification.Subject,
		"body", notification.Body,
	)
	return nil
}

// MemoryNotifier collects notifications in memory for tests.
type MemoryNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

// NewMemoryNotifier creates an in-memory notification sink.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

// Send records the notification.
func (n *MemoryNotifier) Send(ctx context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return nil
}

// Sent returns a copy of everything sent so far.
func (n *MemoryNotifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.sent...)
}
