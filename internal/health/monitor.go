// Package health watches job outcomes and system-wide indicators,
// escalating breaches through the shared cooldown store so every
// worker process agrees on what was already reported.
package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/alerting"
	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/currency"
	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/inventory"
	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/job"
	"github.com/shelfjetlabs/shelfjet-worker/internal/throttle"
)

// CheckStatus grades one health check.
type CheckStatus string

const (
	CheckOK      CheckStatus = "ok"
	CheckWarning CheckStatus = "warning"
	CheckError   CheckStatus = "error"
)

// Check is one named health probe result.
type Check struct {
	Name   string      `json:"name"`
	Status CheckStatus `json:"status"`
	Detail string      `json:"detail"`
}

// Report is the full system health snapshot. Healthy iff no check is
// in error.
type Report struct {
	Healthy   bool      `json:"healthy"`
	Checks    []Check   `json:"checks"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Escalator carries breach notifications out of the system.
type Escalator interface {
	Escalate(ctx context.Context, title, message string, severity alerting.Severity, meta map[string]any) error
}

// Thresholds are the breach boundaries. Defaults follow the config
// package.
type Thresholds struct {
	EscalationAttemptsMin   int
	ConsecutiveFailureLimit int
	FailureRateThresholdPct int
	FailureRateWindow       time.Duration
	FailureRateMinSamples   int
	Cooldown                time.Duration
	RatePair                string
}

// Monitor is the error/health monitor.
type Monitor struct {
	jobLogs     job.LogRepository
	deadLetters job.DeadLetterRepository
	products    inventory.ProductStats
	rates       currency.RateRepository
	cooldown    throttle.Store
	escalator   Escalator
	logger      *zap.Logger

	thresholds Thresholds
	now        func() time.Time
}

func NewMonitor(
	jobLogs job.LogRepository,
	deadLetters job.DeadLetterRepository,
	products inventory.ProductStats,
	rates currency.RateRepository,
	cooldown throttle.Store,
	escalator Escalator,
	logger *zap.Logger,
	thresholds Thresholds,
) *Monitor {
	if thresholds.FailureRateWindow <= 0 {
		thresholds.FailureRateWindow = time.Hour
	}
	if thresholds.Cooldown <= 0 {
		thresholds.Cooldown = 30 * time.Minute
	}
	return &Monitor{
		jobLogs:     jobLogs,
		deadLetters: deadLetters,
		products:    products,
		rates:       rates,
		cooldown:    cooldown,
		escalator:   escalator,
		logger:      logger.Named("health"),
		thresholds:  thresholds,
		now:         time.Now,
	}
}

// RecordError handles one job failure: immediate escalation past the
// attempt threshold, then the two rolling checks. Each escalation kind
// is cooldown-gated per job type so a burst of failures yields one
// alert per kind per window.
func (m *Monitor) RecordError(ctx context.Context, jobType, jobID string, jobErr error, attemptsMade int) {
	if attemptsMade >= m.thresholds.EscalationAttemptsMin {
		m.escalate(ctx, throttle.JobKey(jobType, "job-failed"),
			"Job failed: "+jobType,
			fmt.Sprintf("Job %s (%s) failed on attempt %d: %v", jobType, jobID, attemptsMade, jobErr),
			alerting.SeverityHigh,
			map[string]any{"jobType": jobType, "jobId": jobID, "attemptsMade": attemptsMade},
		)
	}

	m.checkConsecutiveFailures(ctx, jobType)
	m.checkFailureRate(ctx, jobType)
}

func (m *Monitor) checkConsecutiveFailures(ctx context.Context, jobType string) {
	limit := m.thresholds.ConsecutiveFailureLimit
	if limit <= 0 {
		return
	}
	recent, err := m.jobLogs.ListRecent(ctx, jobType, limit)
	if err != nil {
		m.logger.Error("consecutive_check_failed", zap.String("job_type", jobType), zap.Error(err))
		return
	}
	if len(recent) < limit {
		return
	}
	for _, l := range recent {
		if l.Status == job.StatusCompleted {
			return
		}
	}
	m.escalate(ctx, throttle.JobKey(jobType, "consecutive"),
		"Consecutive failures: "+jobType,
		fmt.Sprintf("The last %d runs of %s all failed.", limit, jobType),
		alerting.SeverityCritical,
		map[string]any{"jobType": jobType, "count": limit},
	)
}

func (m *Monitor) checkFailureRate(ctx context.Context, jobType string) {
	outcomes, err := m.jobLogs.ListSince(ctx, jobType, m.now().Add(-m.thresholds.FailureRateWindow))
	if err != nil {
		m.logger.Error("failure_rate_check_failed", zap.String("job_type", jobType), zap.Error(err))
		return
	}
	if len(outcomes) < m.thresholds.FailureRateMinSamples {
		return
	}
	failed := 0
	for _, l := range outcomes {
		if l.Status != job.StatusCompleted {
			failed++
		}
	}
	pct := failed * 100 / len(outcomes)
	if pct < m.thresholds.FailureRateThresholdPct {
		return
	}
	m.escalate(ctx, throttle.JobKey(jobType, "failure-rate"),
		"High failure rate: "+jobType,
		fmt.Sprintf("%d of %d runs of %s failed (%d%%) within %s.",
			failed, len(outcomes), jobType, pct, m.thresholds.FailureRateWindow),
		alerting.SeverityCritical,
		map[string]any{"jobType": jobType, "failed": failed, "total": len(outcomes), "percent": pct},
	)
}

// escalate acquires the cooldown atomically and sends only on
// acquisition, so concurrent workers produce one alert per window.
func (m *Monitor) escalate(ctx context.Context, key, title, message string, severity alerting.Severity, meta map[string]any) {
	acquired, err := m.cooldown.SetIfAbsent(ctx, key, m.thresholds.Cooldown)
	if err != nil {
		m.logger.Error("escalation_cooldown_failed", zap.String("key", key), zap.Error(err))
		return
	}
	if !acquired {
		return
	}
	if err := m.escalator.Escalate(ctx, title, message, severity, meta); err != nil {
		m.logger.Error("escalation_send_failed", zap.String("title", title), zap.Error(err))
		return
	}
	m.logger.Warn("escalation_sent",
		zap.String("title", title),
		zap.String("severity", string(severity)),
	)
}

// CheckSystemHealth runs every system-wide probe. Probe errors degrade
// the probe to warning rather than failing the whole snapshot.
func (m *Monitor) CheckSystemHealth(ctx context.Context) *Report {
	now := m.now()
	checks := []Check{
		m.checkJobSuccessRate(ctx, now),
		m.checkOutOfStockRatio(ctx),
		m.checkErrorListings(ctx),
		m.checkDeadLetters(ctx, now),
		m.checkRateStaleness(ctx, now),
	}

	healthy := true
	for _, c := range checks {
		if c.Status == CheckError {
			healthy = false
		}
	}
	return &Report{Healthy: healthy, Checks: checks, CheckedAt: now.UTC()}
}

func (m *Monitor) checkJobSuccessRate(ctx context.Context, now time.Time) Check {
	const name = "job_success_rate_24h"
	completed, failed, err := m.jobLogs.SuccessRate(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return probeDegraded(name, err)
	}
	total := completed + failed
	if total == 0 {
		return Check{Name: name, Status: CheckOK, Detail: "no jobs in window"}
	}
	pct := completed * 100 / total
	detail := fmt.Sprintf("%d%% of %d jobs succeeded", pct, total)
	switch {
	case pct < 70:
		return Check{Name: name, Status: CheckError, Detail: detail}
	case pct < 90:
		return Check{Name: name, Status: CheckWarning, Detail: detail}
	default:
		return Check{Name: name, Status: CheckOK, Detail: detail}
	}
}

func (m *Monitor) checkOutOfStockRatio(ctx context.Context) Check {
	const name = "out_of_stock_ratio"
	total, outOfStock, err := m.products.StockCounts(ctx)
	if err != nil {
		return probeDegraded(name, err)
	}
	if total == 0 {
		return Check{Name: name, Status: CheckOK, Detail: "no products"}
	}
	pct := outOfStock * 100 / total
	detail := fmt.Sprintf("%d of %d products out of stock (%d%%)", outOfStock, total, pct)
	switch {
	case pct > 60:
		return Check{Name: name, Status: CheckError, Detail: detail}
	case pct > 30:
		return Check{Name: name, Status: CheckWarning, Detail: detail}
	default:
		return Check{Name: name, Status: CheckOK, Detail: detail}
	}
}

func (m *Monitor) checkErrorListings(ctx context.Context) Check {
	const name = "error_listings"
	count, err := m.products.ErrorListingCount(ctx)
	if err != nil {
		return probeDegraded(name, err)
	}
	detail := fmt.Sprintf("%d listings in ERROR status", count)
	switch {
	case count > 20:
		return Check{Name: name, Status: CheckError, Detail: detail}
	case count > 0:
		return Check{Name: name, Status: CheckWarning, Detail: detail}
	default:
		return Check{Name: name, Status: CheckOK, Detail: detail}
	}
}

func (m *Monitor) checkDeadLetters(ctx context.Context, now time.Time) Check {
	const name = "dead_letters_24h"
	count, err := m.deadLetters.CountSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return probeDegraded(name, err)
	}
	detail := fmt.Sprintf("%d dead letters in 24h", count)
	switch {
	case count > 25:
		return Check{Name: name, Status: CheckError, Detail: detail}
	case count > 0:
		return Check{Name: name, Status: CheckWarning, Detail: detail}
	default:
		return Check{Name: name, Status: CheckOK, Detail: detail}
	}
}

func (m *Monitor) checkRateStaleness(ctx context.Context, now time.Time) Check {
	const name = "exchange_rate_staleness"
	rate, err := m.rates.Latest(ctx, m.thresholds.RatePair)
	if err != nil {
		return probeDegraded(name, err)
	}
	if rate == nil {
		return Check{Name: name, Status: CheckWarning, Detail: "no rate fetched yet"}
	}
	age := rate.Age(now)
	detail := fmt.Sprintf("%s rate is %s old", rate.Pair, age.Round(time.Minute))
	switch {
	case age > 50*time.Hour:
		return Check{Name: name, Status: CheckError, Detail: detail}
	case age > 26*time.Hour:
		return Check{Name: name, Status: CheckWarning, Detail: detail}
	default:
		return Check{Name: name, Status: CheckOK, Detail: detail}
	}
}

// probeDegraded turns a probe failure into a warning: a broken probe
// is itself a signal, but not proof the system is unhealthy.
func probeDegraded(name string, err error) Check {
	return Check{Name: name, Status: CheckWarning, Detail: "probe failed: " + err.Error()}
}

// NotifyHealthIssues sends one consolidated escalation when the
// snapshot is unhealthy, cooldown-gated.
func (m *Monitor) NotifyHealthIssues(ctx context.Context) (*Report, error) {
	report := m.CheckSystemHealth(ctx)
	if report.Healthy {
		return report, nil
	}

	var broken []string
	for _, c := range report.Checks {
		if c.Status == CheckError {
			broken = append(broken, fmt.Sprintf("%s: %s", c.Name, c.Detail))
		}
	}
	m.escalate(ctx, throttle.JobKey("system", "health"),
		"System health degraded",
		"Failing checks: "+strings.Join(broken, "; "),
		alerting.SeverityCritical,
		map[string]any{"checks": report.Checks},
	)
	return report, nil
}
