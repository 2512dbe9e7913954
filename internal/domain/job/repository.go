package job

import (
	"context"
	"time"
)

// LogRepository persists job outcomes.
type LogRepository interface {
	Create(ctx context.Context, log *Log) error

	// ListRecent returns the newest outcomes for a job type, most
	// recent first.
	ListRecent(ctx context.Context, jobType string, limit int) ([]*Log, error)

	// ListSince returns outcomes for a job type created at or after
	// the cutoff.
	ListSince(ctx context.Context, jobType string, since time.Time) ([]*Log, error)

	// SuccessRate returns (completed, failed) counts since the cutoff
	// across all job types.
	SuccessRate(ctx context.Context, since time.Time) (completed int64, failed int64, err error)
}

// DeadLetterRepository persists exhausted jobs.
type DeadLetterRepository interface {
	Create(ctx context.Context, entry *DeadLetter) error
	CountSince(ctx context.Context, since time.Time) (int64, error)
	ListRecent(ctx context.Context, limit int) ([]*DeadLetter, error)
}
