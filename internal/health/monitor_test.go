package health

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	redisstore "github.com/shelfjetlabs/shelfjet-worker/internal/adapter/keyvalue/redis"
	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/alerting"
	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/currency"
	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/job"
)

type memJobLogs struct {
	mu   sync.Mutex
	logs []*job.Log
}

func (m *memJobLogs) Create(_ context.Context, l *job.Log) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, l)
	return nil
}

func (m *memJobLogs) ListRecent(_ context.Context, jobType string, limit int) ([]*job.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*job.Log
	for _, l := range m.logs {
		if l.JobType == jobType {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memJobLogs) ListSince(_ context.Context, jobType string, since time.Time) ([]*job.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*job.Log
	for _, l := range m.logs {
		if l.JobType == jobType && !l.CreatedAt.Before(since) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memJobLogs) SuccessRate(_ context.Context, since time.Time) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var completed, failed int64
	for _, l := range m.logs {
		if l.CreatedAt.Before(since) {
			continue
		}
		if l.Status == job.StatusCompleted {
			completed++
		} else {
			failed++
		}
	}
	return completed, failed, nil
}

type memDeadLetters struct {
	count int64
	err   error
}

func (m *memDeadLetters) Create(context.Context, *job.DeadLetter) error { return nil }

func (m *memDeadLetters) CountSince(context.Context, time.Time) (int64, error) {
	return m.count, m.err
}

func (m *memDeadLetters) ListRecent(context.Context, int) ([]*job.DeadLetter, error) {
	return nil, nil
}

type memProducts struct {
	total, outOfStock, errorListings int64
	err                              error
}

func (m *memProducts) StockCounts(context.Context) (int64, int64, error) {
	return m.total, m.outOfStock, m.err
}

func (m *memProducts) ErrorListingCount(context.Context) (int64, error) {
	return m.errorListings, m.err
}

type memRates struct {
	latest *currency.Rate
}

func (m *memRates) Create(context.Context, *currency.Rate) error { return nil }

func (m *memRates) Latest(context.Context, string) (*currency.Rate, error) {
	return m.latest, nil
}

type memEscalator struct {
	mu     sync.Mutex
	titles []string
}

func (m *memEscalator) Escalate(_ context.Context, title, _ string, _ alerting.Severity, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titles = append(m.titles, title)
	return nil
}

func (m *memEscalator) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.titles...)
}

type monitorFixture struct {
	monitor     *Monitor
	jobLogs     *memJobLogs
	deadLetters *memDeadLetters
	products    *memProducts
	rates       *memRates
	escalator   *memEscalator
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &monitorFixture{
		jobLogs:     &memJobLogs{},
		deadLetters: &memDeadLetters{},
		products:    &memProducts{total: 10},
		rates: &memRates{latest: &currency.Rate{
			Pair:      "USD/JPY",
			Value:     decimal.NewFromFloat(148.2),
			FetchedAt: time.Now().Add(-time.Hour),
		}},
		escalator: &memEscalator{},
	}
	f.monitor = NewMonitor(f.jobLogs, f.deadLetters, f.products, f.rates,
		redisstore.NewStore(client), f.escalator, zap.NewNop(), Thresholds{
			EscalationAttemptsMin:   2,
			ConsecutiveFailureLimit: 3,
			FailureRateThresholdPct: 50,
			FailureRateWindow:       time.Hour,
			FailureRateMinSamples:   5,
			Cooldown:                30 * time.Minute,
			RatePair:                "USD/JPY",
		})
	return f
}

func (f *monitorFixture) addOutcomes(jobType string, statuses ...job.Status) {
	base := time.Now().Add(-time.Duration(len(statuses)) * time.Minute)
	for i, s := range statuses {
		_ = f.jobLogs.Create(context.Background(), &job.Log{
			JobType:   jobType,
			Status:    s,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
}

func TestFailureRateBreachFiresOnce(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()

	// 3 failures out of 5 samples: 60% >= 50% threshold.
	f.addOutcomes("price-sync",
		job.StatusCompleted, job.StatusFailed, job.StatusFailed,
		job.StatusCompleted, job.StatusFailed)

	f.monitor.RecordError(ctx, "price-sync", "j-1", errors.New("timeout"), 1)

	sent := f.escalator.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "High failure rate: price-sync", sent[0])

	// Second breach inside the cooldown is silent.
	f.monitor.RecordError(ctx, "price-sync", "j-2", errors.New("timeout"), 1)
	assert.Len(t, f.escalator.sent(), 1)
}

func TestFailureRateNeedsMinimumSamples(t *testing.T) {
	f := newMonitorFixture(t)

	f.addOutcomes("order-sync", job.StatusFailed, job.StatusFailed)
	f.monitor.RecordError(context.Background(), "order-sync", "j-1", errors.New("boom"), 1)

	assert.Empty(t, f.escalator.sent())
}

func TestAttemptThresholdEscalatesImmediately(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()

	f.monitor.RecordError(ctx, "inventory-check", "j-1", errors.New("boom"), 1)
	assert.Empty(t, f.escalator.sent())

	f.monitor.RecordError(ctx, "inventory-check", "j-1", errors.New("boom"), 2)
	sent := f.escalator.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Job failed: inventory-check", sent[0])
}

func TestConsecutiveFailuresEscalate(t *testing.T) {
	f := newMonitorFixture(t)

	f.addOutcomes("price-sync", job.StatusFailed, job.StatusFailed, job.StatusFailed)
	f.monitor.RecordError(context.Background(), "price-sync", "j-1", errors.New("boom"), 1)

	assert.Contains(t, f.escalator.sent(), "Consecutive failures: price-sync")
}

func TestConsecutiveFailuresResetByCompletion(t *testing.T) {
	f := newMonitorFixture(t)

	f.addOutcomes("price-sync", job.StatusFailed, job.StatusFailed, job.StatusCompleted)
	f.monitor.RecordError(context.Background(), "price-sync", "j-1", errors.New("boom"), 1)

	assert.NotContains(t, f.escalator.sent(), "Consecutive failures: price-sync")
}

func TestCheckSystemHealthAllGreen(t *testing.T) {
	f := newMonitorFixture(t)
	f.addOutcomes("inventory-check",
		job.StatusCompleted, job.StatusCompleted, job.StatusCompleted)

	report := f.monitor.CheckSystemHealth(context.Background())
	assert.True(t, report.Healthy)
	require.Len(t, report.Checks, 5)
	for _, c := range report.Checks {
		assert.Equal(t, CheckOK, c.Status, c.Name)
	}
}

func TestCheckSystemHealthGrades(t *testing.T) {
	f := newMonitorFixture(t)

	// 1 of 2 jobs succeeded: 50% < 70% is an error.
	f.addOutcomes("inventory-check", job.StatusCompleted, job.StatusFailed)
	// 7 of 10 products out of stock: 70% > 60% is an error.
	f.products.outOfStock = 7
	// One error listing is a warning.
	f.products.errorListings = 1
	// Dead letters above the error bound.
	f.deadLetters.count = 30
	// Rate older than 50h is an error.
	f.rates.latest.FetchedAt = time.Now().Add(-72 * time.Hour)

	report := f.monitor.CheckSystemHealth(context.Background())
	assert.False(t, report.Healthy)

	byName := make(map[string]CheckStatus)
	for _, c := range report.Checks {
		byName[c.Name] = c.Status
	}
	assert.Equal(t, CheckError, byName["job_success_rate_24h"])
	assert.Equal(t, CheckError, byName["out_of_stock_ratio"])
	assert.Equal(t, CheckWarning, byName["error_listings"])
	assert.Equal(t, CheckError, byName["dead_letters_24h"])
	assert.Equal(t, CheckError, byName["exchange_rate_staleness"])
}

func TestProbeFailureDegradesToWarning(t *testing.T) {
	f := newMonitorFixture(t)
	f.products.err = errors.New("connection refused")

	report := f.monitor.CheckSystemHealth(context.Background())
	assert.True(t, report.Healthy)

	byName := make(map[string]Check)
	for _, c := range report.Checks {
		byName[c.Name] = c
	}
	assert.Equal(t, CheckWarning, byName["out_of_stock_ratio"].Status)
	assert.Contains(t, byName["out_of_stock_ratio"].Detail, "probe failed")
}

func TestNotifyHealthIssues(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()

	// Healthy: nothing sent.
	report, err := f.monitor.NotifyHealthIssues(ctx)
	require.NoError(t, err)
	assert.True(t, report.Healthy)
	assert.Empty(t, f.escalator.sent())

	// Unhealthy: one consolidated alert, cooldown-gated.
	f.deadLetters.count = 30
	report, err = f.monitor.NotifyHealthIssues(ctx)
	require.NoError(t, err)
	assert.False(t, report.Healthy)
	require.Len(t, f.escalator.sent(), 1)
	assert.Equal(t, "System health degraded", f.escalator.sent()[0])

	_, err = f.monitor.NotifyHealthIssues(ctx)
	require.NoError(t, err)
	assert.Len(t, f.escalator.sent(), 1)
}

func TestMissingRateIsWarning(t *testing.T) {
	f := newMonitorFixture(t)
	f.rates.latest = nil

	report := f.monitor.CheckSystemHealth(context.Background())
	assert.True(t, report.Healthy)

	for _, c := range report.Checks {
		if c.Name == "exchange_rate_staleness" {
			assert.Equal(t, CheckWarning, c.Status)
		}
	}
}
