package alerting

import (
	"context"
	"time"
)

// RuleRepository reads alert rules authored by the admin surface.
type RuleRepository interface {
	// ListActive returns the active rules for an event type.
	ListActive(ctx context.Context, eventType string) ([]*Rule, error)

	// FindByID retrieves one rule, nil when absent.
	FindByID(ctx context.Context, id int64) (*Rule, error)
}

// LogRepository persists the alert audit trail.
type LogRepository interface {
	Create(ctx context.Context, log *Log) error

	// MarkDelivered moves a pending row to sent or failed.
	MarkDelivered(ctx context.Context, id int64, status LogStatus, sentAt time.Time, errorMsg string) error

	// CountSince returns rows per status created at or after the cutoff.
	CountSince(ctx context.Context, since time.Time) (map[LogStatus]int64, error)
}
