package inventory

import "github.com/shelfjetlabs/shelfjet-worker/internal/domain/alerting"

// Classification is the pure outcome of one observation: which alert
// type it maps to and how urgent it is. Side effects are decided by
// the service layer.
type Classification struct {
	Type     AlertType
	Severity alerting.Severity
	Reason   string
}

// Classify maps a stock/availability transition onto an alert type.
// Returns false when nothing changed. lowThreshold is the inclusive
// low-stock boundary.
func Classify(obs Observation, lowThreshold int) (Classification, bool) {
	stockChanged := obs.PreviousStock == nil || *obs.PreviousStock != obs.CurrentStock
	availChanged := obs.PreviousAvailable == nil || *obs.PreviousAvailable != obs.CurrentAvailable

	if obs.PreviousStock != nil && obs.PreviousAvailable != nil && !stockChanged && !availChanged {
		return Classification{}, false
	}

	switch {
	case obs.CurrentStock == 0 && (obs.PreviousStock == nil || *obs.PreviousStock > 0):
		return Classification{
			Type:     AlertStockOut,
			Severity: alerting.SeverityHigh,
			Reason:   "stock depleted",
		}, true

	case obs.CurrentStock > 0 && obs.CurrentStock <= lowThreshold &&
		(obs.PreviousStock == nil || *obs.PreviousStock > lowThreshold):
		return Classification{
			Type:     AlertStockLow,
			Severity: alerting.SeverityMedium,
			Reason:   "stock at or below threshold",
		}, true

	case obs.CurrentStock > 0 && (obs.PreviousStock == nil || *obs.PreviousStock == 0):
		return Classification{
			Type:     AlertStockRecovered,
			Severity: alerting.SeverityLow,
			Reason:   "stock recovered",
		}, true

	case availChanged && obs.PreviousAvailable != nil:
		sev := alerting.SeverityLow
		reason := "listing became available"
		if !obs.CurrentAvailable {
			sev = alerting.SeverityHigh
			reason = "listing became unavailable"
		}
		return Classification{
			Type:     AlertAvailabilityChanged,
			Severity: sev,
			Reason:   reason,
		}, true
	}

	return Classification{}, false
}
