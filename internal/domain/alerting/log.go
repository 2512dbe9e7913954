package alerting

import "time"

// LogStatus is the delivery state of one (rule, event) match.
type LogStatus string

const (
	LogPending   LogStatus = "pending"
	LogThrottled LogStatus = "throttled"
	LogBatched   LogStatus = "batched"
	LogSent      LogStatus = "sent"
	LogFailed    LogStatus = "failed"
)

// Log is the append-only audit row written for every rule match.
// throttled and batched are terminal; pending transitions to sent or
// failed once the notification dispatcher reports back.
type Log struct {
	ID        int64
	RuleID    int64
	EventType string
	Severity  Severity
	Title     string
	Message   string
	Metadata  map[string]any
	Channels  []string
	Status    LogStatus
	SentAt    *time.Time
	ErrorMsg  string
	CreatedAt time.Time
}
