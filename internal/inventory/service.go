// Package inventory executes the compensating actions behind stock and
// availability transitions: auto-pausing listings, scheduling dwell-time
// resumes and sweeping due resumes back to ACTIVE.
package inventory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/alerting"
	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/inventory"
)

// EventSink receives the domain events the state machine emits, so
// user-facing notification rules can pick transitions up.
type EventSink interface {
	ProcessEvent(ctx context.Context, event *alerting.Event) error
}

// SweepResult summarizes one scheduled-resume sweep.
type SweepResult struct {
	Processed int `json:"processed"`
	Resumed   int `json:"resumed"`
	Failed    int `json:"failed"`
}

// Service is the inventory state machine.
type Service struct {
	listings inventory.ListingRepository
	alerts   inventory.AlertRepository
	events   EventSink
	logger   *zap.Logger

	lowThreshold   int
	alertCooldown  time.Duration
	resumeDelay    time.Duration
	sweepBatchSize int
	now            func() time.Time
}

func NewService(
	listings inventory.ListingRepository,
	alerts inventory.AlertRepository,
	events EventSink,
	logger *zap.Logger,
	lowThreshold int,
	alertCooldown time.Duration,
	resumeDelay time.Duration,
	sweepBatchSize int,
) *Service {
	if sweepBatchSize <= 0 {
		sweepBatchSize = 100
	}
	return &Service{
		listings:       listings,
		alerts:         alerts,
		events:         events,
		logger:         logger.Named("inventory"),
		lowThreshold:   lowThreshold,
		alertCooldown:  alertCooldown,
		resumeDelay:    resumeDelay,
		sweepBatchSize: sweepBatchSize,
		now:            time.Now,
	}
}

// Observe classifies one stock/availability reading and runs the
// compensating action. Returns the audit row, nil when the reading
// carried no transition.
func (s *Service) Observe(ctx context.Context, obs inventory.Observation) (*inventory.Alert, error) {
	class, ok := inventory.Classify(obs, s.lowThreshold)
	if !ok {
		return nil, nil
	}

	alert := &inventory.Alert{
		ProductID:         obs.ProductID,
		ListingID:         obs.ListingID,
		AlertType:         class.Type,
		Severity:          class.Severity,
		PreviousStock:     obs.PreviousStock,
		CurrentStock:      obs.CurrentStock,
		PreviousAvailable: obs.PreviousAvailable,
		CurrentAvailable:  obs.CurrentAvailable,
		Reason:            class.Reason,
		ThresholdUsed:     s.lowThreshold,
		ActionTaken:       inventory.ActionNone,
		CreatedAt:         s.now().UTC(),
	}

	suppressed, err := s.suppressed(ctx, obs.ProductID, class.Type)
	if err != nil {
		return nil, err
	}
	if suppressed {
		alert.Suppressed = true
		alert.SuppressReason = "repeat alert within cooldown window"
		if err := s.alerts.Create(ctx, alert); err != nil {
			return nil, fmt.Errorf("write suppressed alert: %w", err)
		}
		s.logger.Debug("inventory_alert_suppressed",
			zap.String("product_id", obs.ProductID),
			zap.String("alert_type", string(class.Type)),
		)
		return alert, nil
	}

	if err := s.executeAction(ctx, alert, obs); err != nil {
		return nil, err
	}

	s.logger.Info("inventory_alert",
		zap.String("product_id", obs.ProductID),
		zap.String("alert_type", string(class.Type)),
		zap.String("severity", string(class.Severity)),
		zap.String("action", string(alert.ActionTaken)),
	)
	return alert, nil
}

// suppressed checks the per-(product, alertType) cooldown window
// against the audit trail.
func (s *Service) suppressed(ctx context.Context, productID string, alertType inventory.AlertType) (bool, error) {
	if s.alertCooldown <= 0 {
		return false, nil
	}
	last, err := s.alerts.LastUnsuppressed(ctx, productID, alertType)
	if err != nil {
		return false, fmt.Errorf("load last alert: %w", err)
	}
	return last != nil && s.now().Sub(*last) < s.alertCooldown, nil
}

func (s *Service) executeAction(ctx context.Context, alert *inventory.Alert, obs inventory.Observation) error {
	alert.ActionTaken = inventory.ActionNotifyOnly

	var listing *inventory.Listing
	if obs.ListingID != "" {
		var err error
		listing, err = s.listings.FindByID(ctx, obs.ListingID)
		if err != nil {
			return fmt.Errorf("load listing %s: %w", obs.ListingID, err)
		}
	}

	switch {
	case listing != nil && listing.AutoStatusEnabled &&
		s.shouldPause(alert.AlertType, obs) && listing.Status == inventory.ListingActive:
		listing.PauseByInventory()
		alert.ActionTaken = inventory.ActionPauseListing
		alert.ActionDetails = "listing paused by inventory"
		if err := s.listings.SaveWithAlert(ctx, listing, alert); err != nil {
			return fmt.Errorf("pause listing %s: %w", listing.ID, err)
		}
		s.emit(ctx, &alerting.Event{
			Type:      alerting.EventListingPaused,
			ProductID: obs.ProductID,
			ListingID: listing.ID,
			Data: map[string]any{
				"listingId":   listing.ID,
				"marketplace": listing.Marketplace,
				"reason":      alert.Reason,
			},
		})
		return nil

	case listing != nil && listing.AutoStatusEnabled &&
		alert.AlertType == inventory.AlertStockRecovered && listing.PausedByInventory:
		resumeAt := s.now().Add(s.resumeDelay)
		listing.ScheduleResume(resumeAt)
		alert.ActionTaken = inventory.ActionScheduleResume
		alert.ActionDetails = fmt.Sprintf("resume scheduled for %s", resumeAt.UTC().Format(time.RFC3339))
		if err := s.listings.SaveWithAlert(ctx, listing, alert); err != nil {
			return fmt.Errorf("schedule resume for %s: %w", listing.ID, err)
		}
		return nil

	default:
		if err := s.alerts.Create(ctx, alert); err != nil {
			return fmt.Errorf("write alert: %w", err)
		}
		if alert.AlertType == inventory.AlertStockOut {
			s.emit(ctx, &alerting.Event{
				Type:      alerting.EventStockOut,
				ProductID: obs.ProductID,
				ListingID: obs.ListingID,
				Data: map[string]any{
					"productId": obs.ProductID,
					"stock":     obs.CurrentStock,
					"reason":    alert.Reason,
				},
			})
		}
		return nil
	}
}

func (s *Service) shouldPause(alertType inventory.AlertType, obs inventory.Observation) bool {
	if alertType == inventory.AlertStockOut {
		return true
	}
	return alertType == inventory.AlertAvailabilityChanged && !obs.CurrentAvailable
}

// ProcessScheduledResumes resumes every system-paused listing whose
// dwell time has passed. Each listing runs in its own transaction so
// one failure never blocks the rest.
func (s *Service) ProcessScheduledResumes(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	due, err := s.listings.ListResumable(ctx, s.now(), s.sweepBatchSize)
	if err != nil {
		return result, fmt.Errorf("list resumable listings: %w", err)
	}
	result.Processed = len(due)

	for _, listing := range due {
		if err := s.resume(ctx, listing, "scheduled resume after dwell time", ""); err != nil {
			result.Failed++
			s.logger.Error("scheduled_resume_failed",
				zap.String("listing_id", listing.ID),
				zap.Error(err),
			)
			continue
		}
		result.Resumed++
	}

	if result.Processed > 0 {
		s.logger.Info("resume_sweep_done",
			zap.Int("processed", result.Processed),
			zap.Int("resumed", result.Resumed),
			zap.Int("failed", result.Failed),
		)
	}
	return result, nil
}

// SetAutoStatusEnabled toggles the compensating-action opt-in flag.
func (s *Service) SetAutoStatusEnabled(ctx context.Context, listingID string, enabled bool) error {
	if err := s.listings.SetAutoStatus(ctx, listingID, enabled); err != nil {
		return fmt.Errorf("set auto status on %s: %w", listingID, err)
	}
	s.logger.Info("auto_status_changed",
		zap.String("listing_id", listingID),
		zap.Bool("enabled", enabled),
	)
	return nil
}

// ForceResumeListing resumes a paused listing immediately, bypassing
// the dwell time.
func (s *Service) ForceResumeListing(ctx context.Context, listingID string) error {
	listing, err := s.listings.FindByID(ctx, listingID)
	if err != nil {
		return fmt.Errorf("load listing %s: %w", listingID, err)
	}
	if listing == nil {
		return inventory.ErrListingNotFound
	}
	if listing.Status != inventory.ListingPaused {
		return inventory.ErrNotPaused
	}
	return s.resume(ctx, listing, "manual resume", "manual override")
}

func (s *Service) resume(ctx context.Context, listing *inventory.Listing, reason, details string) error {
	listing.Resume()
	alert := &inventory.Alert{
		ProductID:        listing.ProductID,
		ListingID:        listing.ID,
		AlertType:        inventory.AlertListingResumed,
		Severity:         alerting.SeverityLow,
		CurrentAvailable: true,
		Reason:           reason,
		ThresholdUsed:    s.lowThreshold,
		ActionTaken:      inventory.ActionResumeListing,
		ActionDetails:    details,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.listings.SaveWithAlert(ctx, listing, alert); err != nil {
		return fmt.Errorf("resume listing %s: %w", listing.ID, err)
	}
	s.emit(ctx, &alerting.Event{
		Type:      alerting.EventListingResumed,
		ProductID: listing.ProductID,
		ListingID: listing.ID,
		Data: map[string]any{
			"listingId":   listing.ID,
			"marketplace": listing.Marketplace,
			"reason":      reason,
		},
	})
	return nil
}

// emit is best-effort: a rule engine failure never rolls back an
// already-committed listing mutation.
func (s *Service) emit(ctx context.Context, event *alerting.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.ProcessEvent(ctx, event); err != nil {
		s.logger.Error("event_emit_failed", zap.String("event_type", event.Type), zap.Error(err))
	}
}
