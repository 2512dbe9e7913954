package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/alerting"
)

func TestEscalatePostsWebhook(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewEscalationNotifier(srv.URL, zap.NewNop())
	err := n.Escalate(context.Background(), "High failure rate: price-sync",
		"3 of 5 runs failed", alerting.SeverityCritical,
		map[string]any{"jobType": "price-sync"})
	require.NoError(t, err)

	assert.Equal(t, "High failure rate: price-sync", got["title"])
	assert.Equal(t, "CRITICAL", got["severity"])
	assert.NotEmpty(t, got["timestamp"])
}

func TestEscalateRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewEscalationNotifier(srv.URL, zap.NewNop())
	n.retry.BaseDelay = 0

	err := n.Escalate(context.Background(), "t", "m", alerting.SeverityHigh, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEscalateReturnsErrorWhenExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewEscalationNotifier(srv.URL, zap.NewNop())
	n.retry.BaseDelay = 0

	err := n.Escalate(context.Background(), "t", "m", alerting.SeverityHigh, nil)
	assert.Error(t, err)
}

func TestEscalateWithoutWebhookIsLogOnly(t *testing.T) {
	n := NewEscalationNotifier("", zap.NewNop())

	err := n.Escalate(context.Background(), "t", "m", alerting.SeverityLow, nil)
	assert.NoError(t, err)
}

func TestNotifyJobFailureSwallowsDeliveryErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewEscalationNotifier(srv.URL, zap.NewNop())
	n.retry.BaseDelay = 0

	// Must not panic or propagate.
	n.NotifyJobFailure(context.Background(), "price-sync", "price-sync", "j-1",
		assert.AnError, 2)
}
