package job

import "time"

// Status is the terminal outcome of one job execution.
type Status string

const (
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusDeadLetter Status = "DEAD_LETTER"
)

// Log is one job outcome row, written by the worker pool completion
// hooks and read back by the health monitor.
type Log struct {
	ID           int64
	JobType      string
	JobID        string
	Lane         string
	Status       Status
	DurationMS   int64
	ErrorMessage string
	Result       map[string]any
	AttemptsMade int
	CreatedAt    time.Time
}

// DeadLetter is the immutable terminal record for a job that exhausted
// its retry budget.
type DeadLetter struct {
	ID            int64
	OriginalQueue string
	OriginalJobID string
	OriginalName  string
	Payload       map[string]any
	Error         string
	AttemptsMade  int
	FailedAt      time.Time
}
