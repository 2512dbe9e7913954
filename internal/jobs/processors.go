// Package jobs holds the processors behind every recurring job, the
// boot-time schedule registrations and the lane bindings that connect
// them to the worker pool.
package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shelfjetlabs/shelfjet-worker/internal/alert"
	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/alerting"
	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/currency"
	inventorydomain "github.com/shelfjetlabs/shelfjet-worker/internal/domain/inventory"
	"github.com/shelfjetlabs/shelfjet-worker/internal/health"
	"github.com/shelfjetlabs/shelfjet-worker/internal/inventory"
	"github.com/shelfjetlabs/shelfjet-worker/internal/queue"
)

// inventoryMachine is the slice of the inventory service the sync and
// sweep jobs use.
type inventoryMachine interface {
	Observe(ctx context.Context, obs inventorydomain.Observation) (*inventorydomain.Alert, error)
	ProcessScheduledResumes(ctx context.Context) (inventory.SweepResult, error)
}

// eventEngine is the slice of the alert engine the processors use.
type eventEngine interface {
	ProcessEvent(ctx context.Context, event *alerting.Event) error
	FlushBatch(ctx context.Context, ruleID int64, eventType string) error
}

// healthReporter runs the scheduled health sweep.
type healthReporter interface {
	NotifyHealthIssues(ctx context.Context) (*health.Report, error)
}

// logPruner deletes aged job outcomes (the postgres job log repository).
type logPruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Processors implements every job the worker runs.
type Processors struct {
	machine inventoryMachine
	engine  eventEngine
	monitor healthReporter
	rates   currency.RateRepository
	pruner  logPruner

	clients    []MarketplaceClient
	rateSource RateSource
	ratePair   string
	retention  time.Duration

	logger *zap.Logger
	now    func() time.Time
}

func NewProcessors(
	machine inventoryMachine,
	engine eventEngine,
	monitor healthReporter,
	rates currency.RateRepository,
	pruner logPruner,
	clients []MarketplaceClient,
	rateSource RateSource,
	ratePair string,
	retention time.Duration,
	logger *zap.Logger,
) *Processors {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Processors{
		machine:    machine,
		engine:     engine,
		monitor:    monitor,
		rates:      rates,
		pruner:     pruner,
		clients:    clients,
		rateSource: rateSource,
		ratePair:   ratePair,
		retention:  retention,
		logger:     logger.Named("jobs"),
		now:        time.Now,
	}
}

// InventoryCheck pulls current stock readings from every marketplace
// and feeds each one through the inventory state machine. Per-client
// and per-observation failures are isolated; the job fails only when
// every client failed.
func (p *Processors) InventoryCheck(ctx context.Context, j *queue.Job) (map[string]any, error) {
	var observations, alerts, failures int
	clientErrors := 0

	for _, client := range p.clients {
		obs, err := client.FetchInventory(ctx)
		if err != nil {
			clientErrors++
			p.reportSyncError(ctx, client.Name(), j.Name, err)
			continue
		}
		for _, o := range obs {
			observations++
			a, err := p.machine.Observe(ctx, o)
			if err != nil {
				failures++
				p.logger.Error("inventory_observe_failed",
					zap.String("product_id", o.ProductID),
					zap.Error(err),
				)
				continue
			}
			if a != nil {
				alerts++
			}
		}
	}

	if len(p.clients) > 0 && clientErrors == len(p.clients) {
		return nil, fmt.Errorf("inventory check: all %d marketplace clients failed", clientErrors)
	}
	return map[string]any{
		"observations": observations,
		"alerts":       alerts,
		"failures":     failures,
		"clientErrors": clientErrors,
	}, nil
}

// PriceSync pushes prices out per marketplace and raises a price-drop
// event for every downward movement.
func (p *Processors) PriceSync(ctx context.Context, j *queue.Job) (map[string]any, error) {
	var changes, drops int
	clientErrors := 0

	for _, client := range p.clients {
		moved, err := client.SyncPrices(ctx)
		if err != nil {
			clientErrors++
			p.reportSyncError(ctx, client.Name(), j.Name, err)
			continue
		}
		changes += len(moved)
		for _, change := range moved {
			if !change.Dropped() {
				continue
			}
			drops++
			p.emit(ctx, &alerting.Event{
				Type:      alerting.EventPriceDrop,
				ProductID: change.ProductID,
				ListingID: change.ListingID,
				Data: map[string]any{
					"productId":   change.ProductID,
					"listingId":   change.ListingID,
					"marketplace": change.Marketplace,
					"oldPrice":    change.PreviousPrice.String(),
					"newPrice":    change.CurrentPrice.String(),
				},
			})
		}
	}

	if len(p.clients) > 0 && clientErrors == len(p.clients) {
		return nil, fmt.Errorf("price sync: all %d marketplace clients failed", clientErrors)
	}
	return map[string]any{
		"changes":      changes,
		"drops":        drops,
		"clientErrors": clientErrors,
	}, nil
}

// OrderSync imports new orders per marketplace and raises one
// order-received event each.
func (p *Processors) OrderSync(ctx context.Context, j *queue.Job) (map[string]any, error) {
	var imported int
	clientErrors := 0

	for _, client := range p.clients {
		orders, err := client.SyncOrders(ctx)
		if err != nil {
			clientErrors++
			p.reportSyncError(ctx, client.Name(), j.Name, err)
			continue
		}
		imported += len(orders)
		for _, order := range orders {
			p.emit(ctx, &alerting.Event{
				Type:      alerting.EventOrderReceived,
				ProductID: order.ProductID,
				Data: map[string]any{
					"orderId":     order.OrderID,
					"productId":   order.ProductID,
					"marketplace": order.Marketplace,
					"total":       order.Total.String(),
				},
			})
		}
	}

	if len(p.clients) > 0 && clientErrors == len(p.clients) {
		return nil, fmt.Errorf("order sync: all %d marketplace clients failed", clientErrors)
	}
	return map[string]any{
		"orders":       imported,
		"clientErrors": clientErrors,
	}, nil
}

// ProcessBatch flushes one alert batch window.
func (p *Processors) ProcessBatch(ctx context.Context, j *queue.Job) (map[string]any, error) {
	var payload alert.FlushPayload
	if err := j.DecodePayload(&payload); err != nil {
		return nil, fmt.Errorf("decode flush payload: %w", err)
	}
	if payload.RuleID == 0 || payload.EventType == "" {
		return nil, fmt.Errorf("flush payload missing rule id or event type")
	}
	if err := p.engine.FlushBatch(ctx, payload.RuleID, payload.EventType); err != nil {
		return nil, err
	}
	return map[string]any{
		"ruleId":    payload.RuleID,
		"eventType": payload.EventType,
	}, nil
}

// ScheduledResumes sweeps system-paused listings whose dwell time has
// passed.
func (p *Processors) ScheduledResumes(ctx context.Context, j *queue.Job) (map[string]any, error) {
	result, err := p.machine.ProcessScheduledResumes(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"processed": result.Processed,
		"resumed":   result.Resumed,
		"failed":    result.Failed,
	}, nil
}

// HealthCheck runs the system health sweep and escalates breaches.
func (p *Processors) HealthCheck(ctx context.Context, j *queue.Job) (map[string]any, error) {
	report, err := p.monitor.NotifyHealthIssues(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"healthy": report.Healthy,
		"checks":  len(report.Checks),
	}, nil
}

// RateRefresh fetches the configured currency pair and appends it to
// the rate series.
func (p *Processors) RateRefresh(ctx context.Context, j *queue.Job) (map[string]any, error) {
	value, source, err := p.rateSource.Fetch(ctx, p.ratePair)
	if err != nil {
		return nil, fmt.Errorf("fetch rate %s: %w", p.ratePair, err)
	}
	rate := &currency.Rate{
		Pair:      p.ratePair,
		Value:     value,
		Source:    source,
		FetchedAt: p.now().UTC(),
	}
	if err := p.rates.Create(ctx, rate); err != nil {
		return nil, fmt.Errorf("store rate %s: %w", p.ratePair, err)
	}
	return map[string]any{
		"pair":   p.ratePair,
		"value":  value.String(),
		"source": source,
	}, nil
}

// LogCleanup prunes job outcomes past the retention window.
func (p *Processors) LogCleanup(ctx context.Context, j *queue.Job) (map[string]any, error) {
	cutoff := p.now().Add(-p.retention)
	deleted, err := p.pruner.DeleteBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("prune job logs: %w", err)
	}
	return map[string]any{
		"deleted": deleted,
		"cutoff":  cutoff.UTC().Format(time.RFC3339),
	}, nil
}

// reportSyncError logs a marketplace client failure and raises a
// sync-error event so notification rules can pick it up.
func (p *Processors) reportSyncError(ctx context.Context, marketplace, jobName string, err error) {
	p.logger.Error("marketplace_sync_failed",
		zap.String("marketplace", marketplace),
		zap.String("job", jobName),
		zap.Error(err),
	)
	p.emit(ctx, &alerting.Event{
		Type: alerting.EventSyncError,
		Data: map[string]any{
			"marketplace": marketplace,
			"job":         jobName,
			"error":       err.Error(),
		},
	})
}

// emit is best-effort: a rule engine failure never fails the job.
func (p *Processors) emit(ctx context.Context, event *alerting.Event) {
	if err := p.engine.ProcessEvent(ctx, event); err != nil {
		p.logger.Error("event_emit_failed", zap.String("event_type", event.Type), zap.Error(err))
	}
}
