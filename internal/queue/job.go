package queue

import (
	"encoding/json"
	"time"
)

// Lane names are the wire contract between producers and workers.
const (
	LaneInventory    = "inventory"
	LanePriceSync    = "price-sync"
	LaneOrderSync    = "order-sync"
	LaneNotification = "notification"
	LaneMaintenance  = "maintenance"
)

// Job names carried on those lanes.
const (
	JobInventoryCheck   = "inventory-check"
	JobPriceSync        = "price-sync"
	JobOrderSync        = "order-sync"
	JobSendNotification = "send-notification"
	JobProcessBatch     = "process-batch"
	JobScheduledResumes = "process-scheduled-resumes"
	JobHealthCheck      = "health-check"
	JobRateRefresh      = "exchange-rate-refresh"
	JobLogCleanup       = "job-log-cleanup"
)

// Job is one unit of work on a lane. Payload stays raw JSON so the
// producer and consumer can deploy independently; processors decode
// defensively and ignore unknown fields.
type Job struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Lane         string          `json:"lane"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	AttemptsMade int             `json:"attemptsMade"`
	MaxAttempts  int             `json:"maxAttempts"`
	Priority     int             `json:"priority,omitempty"`
	EnqueuedAt   time.Time       `json:"enqueuedAt"`
}

// LastAttempt reports whether the current attempt exhausted the retry
// budget.
func (j *Job) LastAttempt() bool {
	return j.AttemptsMade >= j.MaxAttempts
}

// DecodePayload unmarshals the payload into out, tolerating an empty
// payload.
func (j *Job) DecodePayload(out any) error {
	if len(j.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(j.Payload, out)
}

// Option tweaks a single enqueue.
type Option func(*enqueueOptions)

type enqueueOptions struct {
	delay       time.Duration
	jobID       string
	priority    int
	maxAttempts int
}

// WithDelay schedules the job to become ready after d.
func WithDelay(d time.Duration) Option {
	return func(o *enqueueOptions) { o.delay = d }
}

// WithJobID pins the job id. Enqueues sharing an id within the dedup
// window collapse into one job, which is what makes repeat
// registration ticks idempotent across scheduler processes.
func WithJobID(id string) Option {
	return func(o *enqueueOptions) { o.jobID = id }
}

// WithHighPriority puts the job at the front of the lane.
func WithHighPriority() Option {
	return func(o *enqueueOptions) { o.priority = 1 }
}

// WithMaxAttempts overrides the lane default retry budget.
func WithMaxAttempts(n int) Option {
	return func(o *enqueueOptions) { o.maxAttempts = n }
}
