package inventory

import (
	"time"

	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/alerting"
)

// AlertType classifies one observed stock/availability transition.
type AlertType string

const (
	AlertStockOut            AlertType = "STOCK_OUT"
	AlertStockLow            AlertType = "STOCK_LOW"
	AlertStockRecovered      AlertType = "STOCK_RECOVERED"
	AlertAvailabilityChanged AlertType = "AVAILABILITY_CHANGED"
	AlertListingResumed      AlertType = "LISTING_RESUMED"
)

// Action is the compensating action the state machine took.
type Action string

const (
	ActionPauseListing   Action = "PAUSE_LISTING"
	ActionScheduleResume Action = "SCHEDULE_RESUME"
	ActionResumeListing  Action = "RESUME_LISTING"
	ActionNotifyOnly     Action = "NOTIFY_ONLY"
	ActionNone           Action = "NONE"
)

// Observation is one stock/availability reading for a product, with
// the previous reading when known. Nil previous values mean unknown.
type Observation struct {
	ProductID         string
	ListingID         string
	PreviousStock     *int
	CurrentStock      int
	PreviousAvailable *bool
	CurrentAvailable  bool
	Reason            string
}

// Alert is the append-only audit row for one observed transition.
type Alert struct {
	ID                int64
	ProductID         string
	ListingID         string
	AlertType         AlertType
	Severity          alerting.Severity
	PreviousStock     *int
	CurrentStock      int
	PreviousAvailable *bool
	CurrentAvailable  bool
	Reason            string
	ThresholdUsed     int
	Suppressed        bool
	SuppressReason    string
	ActionTaken       Action
	ActionDetails     string
	CreatedAt         time.Time
}
