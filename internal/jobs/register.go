package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/shelfjetlabs/shelfjet-worker/internal/queue"
)

// Cron patterns for the boot registrations. Order sync runs offset
// from price sync because both hit the same marketplace APIs.
const (
	patternInventoryCheck = "0 * * * *"
	patternPriceSync      = "0 */6 * * *"
	patternResumeSweep    = "*/5 * * * *"
	patternHealthCheck    = "*/15 * * * *"
	patternRateRefresh    = "0 3 * * *"
	patternLogCleanup     = "30 3 * * *"

	orderSyncOffsetMinutes = 30
)

// RegisterSchedules declares every recurring job. Idempotent; runs on
// every process start.
func RegisterSchedules(ctx context.Context, s *queue.Scheduler) error {
	orderSyncPattern, err := queue.OffsetPattern(patternPriceSync, orderSyncOffsetMinutes)
	if err != nil {
		return fmt.Errorf("derive order-sync pattern: %w", err)
	}

	regs := []struct {
		name    string
		lane    string
		pattern string
	}{
		{queue.JobInventoryCheck, queue.LaneInventory, patternInventoryCheck},
		{queue.JobPriceSync, queue.LanePriceSync, patternPriceSync},
		{queue.JobOrderSync, queue.LaneOrderSync, orderSyncPattern},
		{queue.JobScheduledResumes, queue.LaneInventory, patternResumeSweep},
		{queue.JobHealthCheck, queue.LaneMaintenance, patternHealthCheck},
		{queue.JobRateRefresh, queue.LaneMaintenance, patternRateRefresh},
		{queue.JobLogCleanup, queue.LaneMaintenance, patternLogCleanup},
	}
	for _, reg := range regs {
		if err := s.RegisterRecurring(ctx, reg.name, reg.lane, reg.pattern, nil, reg.name); err != nil {
			return fmt.Errorf("register %s: %w", reg.name, err)
		}
	}
	return nil
}

// BindLanes attaches the processors to the worker pool. notifier is
// the notification dispatch consumer. Marketplace lanes are rate
// limited; external APIs throttle hard past these budgets.
func BindLanes(m *queue.Manager, p *Processors, notifier queue.Processor) {
	m.Bind(queue.LaneInventory, 2, nil, route(map[string]queue.Processor{
		queue.JobInventoryCheck:   p.InventoryCheck,
		queue.JobScheduledResumes: p.ScheduledResumes,
	}))

	m.Bind(queue.LanePriceSync, 1, &queue.RateLimit{Max: 10, Per: time.Minute},
		route(map[string]queue.Processor{
			queue.JobPriceSync: p.PriceSync,
		}))

	m.Bind(queue.LaneOrderSync, 1, &queue.RateLimit{Max: 10, Per: time.Minute},
		route(map[string]queue.Processor{
			queue.JobOrderSync: p.OrderSync,
		}))

	m.Bind(queue.LaneNotification, 4, nil, route(map[string]queue.Processor{
		queue.JobSendNotification: notifier,
		queue.JobProcessBatch:     p.ProcessBatch,
	}))

	m.Bind(queue.LaneMaintenance, 1, nil, route(map[string]queue.Processor{
		queue.JobHealthCheck: p.HealthCheck,
		queue.JobRateRefresh: p.RateRefresh,
		queue.JobLogCleanup:  p.LogCleanup,
	}))
}

// route dispatches a lane's jobs by name. Unknown names fail the job
// so a producer/consumer version skew surfaces in the dead letters.
func route(handlers map[string]queue.Processor) queue.Processor {
	return func(ctx context.Context, j *queue.Job) (map[string]any, error) {
		h, ok := handlers[j.Name]
		if !ok {
			return nil, fmt.Errorf("no handler for job %q on lane %q", j.Name, j.Lane)
		}
		return h(ctx, j)
	}
}
