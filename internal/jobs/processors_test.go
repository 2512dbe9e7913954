package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shelfjetlabs/shelfjet-worker/internal/alert"
	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/alerting"
	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/currency"
	inventorydomain "github.com/shelfjetlabs/shelfjet-worker/internal/domain/inventory"
	"github.com/shelfjetlabs/shelfjet-worker/internal/health"
	"github.com/shelfjetlabs/shelfjet-worker/internal/inventory"
	"github.com/shelfjetlabs/shelfjet-worker/internal/queue"
)

type fakeMachine struct {
	observed   []inventorydomain.Observation
	alertEvery bool
	observeErr error
	sweep      inventory.SweepResult
	sweepErr   error
}

func (f *fakeMachine) Observe(ctx context.Context, obs inventorydomain.Observation) (*inventorydomain.Alert, error) {
	f.observed = append(f.observed, obs)
	if f.observeErr != nil {
		return nil, f.observeErr
	}
	if f.alertEvery {
		return &inventorydomain.Alert{ProductID: obs.ProductID}, nil
	}
	return nil, nil
}

func (f *fakeMachine) ProcessScheduledResumes(ctx context.Context) (inventory.SweepResult, error) {
	return f.sweep, f.sweepErr
}

type fakeEngine struct {
	events   []*alerting.Event
	flushed  []alert.FlushPayload
	flushErr error
}

func (f *fakeEngine) ProcessEvent(ctx context.Context, event *alerting.Event) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEngine) FlushBatch(ctx context.Context, ruleID int64, eventType string) error {
	f.flushed = append(f.flushed, alert.FlushPayload{RuleID: ruleID, EventType: eventType})
	return f.flushErr
}

type fakeMonitor struct {
	report *health.Report
}

func (f *fakeMonitor) NotifyHealthIssues(ctx context.Context) (*health.Report, error) {
	return f.report, nil
}

type memRates struct {
	rates []*currency.Rate
}

func (m *memRates) Create(ctx context.Context, rate *currency.Rate) error {
	m.rates = append(m.rates, rate)
	return nil
}

func (m *memRates) Latest(ctx context.Context, pair string) (*currency.Rate, error) {
	if len(m.rates) == 0 {
		return nil, nil
	}
	return m.rates[len(m.rates)-1], nil
}

type fakePruner struct {
	cutoff  time.Time
	deleted int64
}

func (f *fakePruner) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.deleted, nil
}

type fakeClient struct {
	name   string
	obs    []inventorydomain.Observation
	prices []PriceChange
	orders []OrderSummary
	err    error
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) FetchInventory(ctx context.Context) ([]inventorydomain.Observation, error) {
	return f.obs, f.err
}

func (f *fakeClient) SyncPrices(ctx context.Context) ([]PriceChange, error) {
	return f.prices, f.err
}

func (f *fakeClient) SyncOrders(ctx context.Context) ([]OrderSummary, error) {
	return f.orders, f.err
}

type jobsFixture struct {
	processors *Processors
	machine    *fakeMachine
	engine     *fakeEngine
	monitor    *fakeMonitor
	rates      *memRates
	pruner     *fakePruner
}

func newJobsFixture(t *testing.T, clients ...MarketplaceClient) *jobsFixture {
	t.Helper()

	f := &jobsFixture{
		machine: &fakeMachine{alertEvery: true},
		engine:  &fakeEngine{},
		monitor: &fakeMonitor{report: &health.Report{Healthy: true}},
		rates:   &memRates{},
		pruner:  &fakePruner{deleted: 12},
	}
	f.processors = NewProcessors(
		f.machine, f.engine, f.monitor, f.rates, f.pruner,
		clients,
		StaticRateSource{Value: decimal.RequireFromString("151.42")},
		"USD/JPY",
		30*24*time.Hour,
		zaptest.NewLogger(t),
	)
	return f
}

func testJob(name string, payload any) *queue.Job {
	j := &queue.Job{ID: "j-1", Name: name, Lane: "test"}
	if payload != nil {
		b, _ := json.Marshal(payload)
		j.Payload = b
	}
	return j
}

func intp(n int) *int { return &n }

func TestInventoryCheckObservesEveryReading(t *testing.T) {
	client := &fakeClient{
		name: "rakuten",
		obs: []inventorydomain.Observation{
			{ProductID: "p-1", PreviousStock: intp(5), CurrentStock: 0, CurrentAvailable: true},
			{ProductID: "p-2", PreviousStock: intp(5), CurrentStock: 5, CurrentAvailable: true},
		},
	}
	f := newJobsFixture(t, client)

	result, err := f.processors.InventoryCheck(context.Background(), testJob(queue.JobInventoryCheck, nil))

	require.NoError(t, err)
	assert.Len(t, f.machine.observed, 2)
	assert.Equal(t, 2, result["observations"])
	assert.Equal(t, 2, result["alerts"])
	assert.Equal(t, 0, result["clientErrors"])
}

func TestInventoryCheckPartialClientFailure(t *testing.T) {
	good := &fakeClient{name: "rakuten", obs: []inventorydomain.Observation{{ProductID: "p-1", CurrentStock: 3}}}
	bad := &fakeClient{name: "yahoo", err: errors.New("api down")}
	f := newJobsFixture(t, good, bad)

	result, err := f.processors.InventoryCheck(context.Background(), testJob(queue.JobInventoryCheck, nil))

	require.NoError(t, err)
	assert.Equal(t, 1, result["clientErrors"])

	require.Len(t, f.engine.events, 1)
	assert.Equal(t, alerting.EventSyncError, f.engine.events[0].Type)
	assert.Equal(t, "yahoo", f.engine.events[0].Data["marketplace"])
}

func TestInventoryCheckAllClientsFailed(t *testing.T) {
	f := newJobsFixture(t,
		&fakeClient{name: "rakuten", err: errors.New("down")},
		&fakeClient{name: "yahoo", err: errors.New("down")},
	)

	_, err := f.processors.InventoryCheck(context.Background(), testJob(queue.JobInventoryCheck, nil))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 marketplace clients failed")
}

func TestPriceSyncEmitsDropEvents(t *testing.T) {
	client := &fakeClient{
		name: "rakuten",
		prices: []PriceChange{
			{
				ProductID:     "p-1",
				ListingID:     "l-1",
				Marketplace:   "rakuten",
				PreviousPrice: decimal.RequireFromString("1000"),
				CurrentPrice:  decimal.RequireFromString("800"),
			},
			{
				ProductID:     "p-2",
				Marketplace:   "rakuten",
				PreviousPrice: decimal.RequireFromString("500"),
				CurrentPrice:  decimal.RequireFromString("600"),
			},
		},
	}
	f := newJobsFixture(t, client)

	result, err := f.processors.PriceSync(context.Background(), testJob(queue.JobPriceSync, nil))

	require.NoError(t, err)
	assert.Equal(t, 2, result["changes"])
	assert.Equal(t, 1, result["drops"])

	require.Len(t, f.engine.events, 1)
	event := f.engine.events[0]
	assert.Equal(t, alerting.EventPriceDrop, event.Type)
	assert.Equal(t, "p-1", event.ProductID)
	assert.Equal(t, "1000", event.Data["oldPrice"])
	assert.Equal(t, "800", event.Data["newPrice"])
}

func TestOrderSyncEmitsOrderEvents(t *testing.T) {
	client := &fakeClient{
		name: "rakuten",
		orders: []OrderSummary{
			{OrderID: "o-1", ProductID: "p-1", Marketplace: "rakuten", Total: decimal.RequireFromString("2980")},
		},
	}
	f := newJobsFixture(t, client)

	result, err := f.processors.OrderSync(context.Background(), testJob(queue.JobOrderSync, nil))

	require.NoError(t, err)
	assert.Equal(t, 1, result["orders"])

	require.Len(t, f.engine.events, 1)
	assert.Equal(t, alerting.EventOrderReceived, f.engine.events[0].Type)
	assert.Equal(t, "o-1", f.engine.events[0].Data["orderId"])
}

func TestProcessBatchFlushesWindow(t *testing.T) {
	f := newJobsFixture(t)

	payload := alert.FlushPayload{RuleID: 7, EventType: alerting.EventPriceDrop}
	result, err := f.processors.ProcessBatch(context.Background(), testJob(queue.JobProcessBatch, payload))

	require.NoError(t, err)
	assert.Equal(t, int64(7), result["ruleId"])
	require.Len(t, f.engine.flushed, 1)
	assert.Equal(t, payload, f.engine.flushed[0])
}

func TestProcessBatchRejectsEmptyPayload(t *testing.T) {
	f := newJobsFixture(t)

	_, err := f.processors.ProcessBatch(context.Background(), testJob(queue.JobProcessBatch, nil))

	require.Error(t, err)
	assert.Empty(t, f.engine.flushed)
}

func TestScheduledResumesReportsSweep(t *testing.T) {
	f := newJobsFixture(t)
	f.machine.sweep = inventory.SweepResult{Processed: 3, Resumed: 2, Failed: 1}

	result, err := f.processors.ScheduledResumes(context.Background(), testJob(queue.JobScheduledResumes, nil))

	require.NoError(t, err)
	assert.Equal(t, 3, result["processed"])
	assert.Equal(t, 2, result["resumed"])
	assert.Equal(t, 1, result["failed"])
}

func TestRateRefreshStoresSample(t *testing.T) {
	f := newJobsFixture(t)

	result, err := f.processors.RateRefresh(context.Background(), testJob(queue.JobRateRefresh, nil))

	require.NoError(t, err)
	assert.Equal(t, "USD/JPY", result["pair"])
	assert.Equal(t, "151.42", result["value"])

	require.Len(t, f.rates.rates, 1)
	assert.Equal(t, "USD/JPY", f.rates.rates[0].Pair)
	assert.Equal(t, "static", f.rates.rates[0].Source)
}

func TestLogCleanupUsesRetentionCutoff(t *testing.T) {
	f := newJobsFixture(t)

	result, err := f.processors.LogCleanup(context.Background(), testJob(queue.JobLogCleanup, nil))

	require.NoError(t, err)
	assert.Equal(t, int64(12), result["deleted"])
	assert.WithinDuration(t, time.Now().Add(-30*24*time.Hour), f.pruner.cutoff, time.Minute)
}

func TestRouteRejectsUnknownJob(t *testing.T) {
	handler := route(map[string]queue.Processor{
		queue.JobHealthCheck: func(ctx context.Context, j *queue.Job) (map[string]any, error) {
			return map[string]any{"ok": true}, nil
		},
	})

	_, err := handler(context.Background(), testJob("mystery-job", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler")

	result, err := handler(context.Background(), testJob(queue.JobHealthCheck, nil))
	require.NoError(t, err)
	assert.Equal(t, true, result["ok"])
}

func TestRegisterSchedulesIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := zaptest.NewLogger(t)
	q := queue.New(rdb, logger, 3, time.Second)
	s := queue.NewScheduler(q, rdb, logger, time.Second)

	ctx := context.Background()
	require.NoError(t, RegisterSchedules(ctx, s))
	require.NoError(t, RegisterSchedules(ctx, s))

	fields, err := rdb.HLen(ctx, "shelfjet:queue:repeat").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(7), fields)
}
