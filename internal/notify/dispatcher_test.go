package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shelfjetlabs/shelfjet-worker/internal/alert"
	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/alerting"
	"github.com/shelfjetlabs/shelfjet-worker/internal/queue"
)

type fakeAdapter struct {
	mu   sync.Mutex
	name string
	sent []*Message
	err  error
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Send(_ context.Context, msg *Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.sent = append(a.sent, msg)
	return nil
}

type fakeAlertLogs struct {
	mu      sync.Mutex
	updates []struct {
		ID     int64
		Status alerting.LogStatus
		ErrMsg string
	}
}

func (f *fakeAlertLogs) Create(context.Context, *alerting.Log) error { return nil }

func (f *fakeAlertLogs) MarkDelivered(_ context.Context, id int64, status alerting.LogStatus, _ time.Time, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, struct {
		ID     int64
		Status alerting.LogStatus
		ErrMsg string
	}{id, status, errMsg})
	return nil
}

func (f *fakeAlertLogs) CountSince(context.Context, time.Time) (map[alerting.LogStatus]int64, error) {
	return nil, nil
}

func notificationJob(t *testing.T, payload alert.Payload) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{
		ID:      "j-1",
		Name:    queue.JobSendNotification,
		Lane:    queue.LaneNotification,
		Payload: raw,
	}
}

func TestDispatcherSendsAndMarksSent(t *testing.T) {
	adapter := &fakeAdapter{name: "slack"}
	logs := &fakeAlertLogs{}
	d := NewDispatcher(NewRegistry(adapter), logs, zap.NewNop())

	j := notificationJob(t, alert.Payload{
		Channel:    "slack",
		Template:   alerting.EventStockOut,
		AlertLogID: 42,
		Data: map[string]any{
			"title":    "Out of stock: Camera",
			"message":  "Product \"Camera\" is out of stock.",
			"severity": "HIGH",
			"link":     "http://localhost:3001/products/p-1",
		},
	})

	result, err := d.Process(context.Background(), j)
	require.NoError(t, err)
	assert.Equal(t, "slack", result["channel"])

	require.Len(t, adapter.sent, 1)
	msg := adapter.sent[0]
	assert.Equal(t, "Out of stock: Camera", msg.Title)
	assert.Equal(t, "HIGH", msg.Severity)
	assert.Equal(t, "http://localhost:3001/products/p-1", msg.Link)

	require.Len(t, logs.updates, 1)
	assert.Equal(t, int64(42), logs.updates[0].ID)
	assert.Equal(t, alerting.LogSent, logs.updates[0].Status)
}

func TestDispatcherRendersBatchSummary(t *testing.T) {
	adapter := &fakeAdapter{name: "email"}
	d := NewDispatcher(NewRegistry(adapter), &fakeAlertLogs{}, zap.NewNop())

	j := notificationJob(t, alert.Payload{
		Channel:  "email",
		Template: "PRICE_DROP_DETECTED_BATCH",
		BatchID:  "batch-1",
		Data: map[string]any{
			"count":     float64(3),
			"eventType": "PRICE_DROP_DETECTED",
			"severity":  "MEDIUM",
		},
	})

	_, err := d.Process(context.Background(), j)
	require.NoError(t, err)

	require.Len(t, adapter.sent, 1)
	assert.Equal(t, "3 alerts: PRICE_DROP_DETECTED", adapter.sent[0].Title)
	assert.Contains(t, adapter.sent[0].Body, "3 events of type PRICE_DROP_DETECTED")
}

func TestDispatcherMarksFailedOnSendError(t *testing.T) {
	adapter := &fakeAdapter{name: "slack", err: errors.New("rate limited")}
	logs := &fakeAlertLogs{}
	d := NewDispatcher(NewRegistry(adapter), logs, zap.NewNop())

	j := notificationJob(t, alert.Payload{
		Channel:    "slack",
		Template:   alerting.EventStockOut,
		AlertLogID: 7,
		Data:       map[string]any{"title": "t", "message": "m"},
	})

	_, err := d.Process(context.Background(), j)
	require.Error(t, err)

	require.Len(t, logs.updates, 1)
	assert.Equal(t, alerting.LogFailed, logs.updates[0].Status)
	assert.Contains(t, logs.updates[0].ErrMsg, "rate limited")
}

func TestDispatcherRejectsUnknownChannel(t *testing.T) {
	logs := &fakeAlertLogs{}
	d := NewDispatcher(NewRegistry(), logs, zap.NewNop())

	j := notificationJob(t, alert.Payload{
		Channel:    "pager",
		Template:   alerting.EventStockOut,
		AlertLogID: 9,
		Data:       map[string]any{},
	})

	_, err := d.Process(context.Background(), j)
	require.Error(t, err)
	require.Len(t, logs.updates, 1)
	assert.Equal(t, alerting.LogFailed, logs.updates[0].Status)
}

func TestRegistryLookupAndChannels(t *testing.T) {
	r := NewRegistry(&fakeAdapter{name: "slack"}, &fakeAdapter{name: "email"})

	a, err := r.Lookup("slack")
	require.NoError(t, err)
	assert.Equal(t, "slack", a.Name())

	_, err = r.Lookup("missing")
	assert.Error(t, err)

	assert.Equal(t, []string{"email", "slack"}, r.Channels())
}
