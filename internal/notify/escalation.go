package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/alerting"
)

// RetryPolicy retries a webhook delivery with linear backoff.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func (r RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= r.MaxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fn()
		if err == nil {
			return nil
		}
		time.Sleep(r.BaseDelay * time.Duration(i+1))
	}
	return err
}

// EscalationNotifier posts operational breaches to a webhook. With no
// webhook configured it degrades to log-only, which keeps local
// development quiet but visible.
type EscalationNotifier struct {
	webhookURL string
	http       *http.Client
	retry      RetryPolicy
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewEscalationNotifier(webhookURL string, logger *zap.Logger) *EscalationNotifier {
	return &EscalationNotifier{
		webhookURL: webhookURL,
		http:       &http.Client{Timeout: 10 * time.Second},
		retry:      RetryPolicy{MaxRetries: 2, BaseDelay: time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "escalation-webhook",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.Requests >= 3 && counts.TotalFailures >= 3
			},
		}),
		logger: logger.Named("escalation"),
	}
}

// Escalate delivers one breach notification.
func (n *EscalationNotifier) Escalate(ctx context.Context, title, message string, severity alerting.Severity, meta map[string]any) error {
	if n.webhookURL == "" {
		n.logger.Warn("escalation",
			zap.String("title", title),
			zap.String("message", message),
			zap.String("severity", string(severity)),
			zap.Any("meta", meta),
		)
		return nil
	}

	body := map[string]any{
		"title":     title,
		"message":   message,
		"severity":  string(severity),
		"meta":      meta,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	_, err := n.breaker.Execute(func() (any, error) {
		return nil, n.retry.Do(ctx, func() error {
			return n.post(ctx, body)
		})
	})
	if err != nil {
		return fmt.Errorf("deliver escalation %q: %w", title, err)
	}
	return nil
}

// NotifyJobFailure is the best-effort per-failure hook used by the
// worker pool; delivery problems are logged, never propagated.
func (n *EscalationNotifier) NotifyJobFailure(ctx context.Context, lane, jobName, jobID string, jobErr error, attemptsMade int) {
	err := n.Escalate(ctx,
		"Job failure: "+jobName,
		fmt.Sprintf("Job %s (%s) on lane %s failed on attempt %d: %v", jobName, jobID, lane, attemptsMade, jobErr),
		alerting.SeverityMedium,
		map[string]any{
			"lane":         lane,
			"jobType":      jobName,
			"jobId":        jobID,
			"attemptsMade": attemptsMade,
		},
	)
	if err != nil {
		n.logger.Error("job_failure_escalation_failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (n *EscalationNotifier) post(ctx context.Context, body map[string]any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal escalation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %s: %s", resp.Status, string(payload))
	}
	return nil
}
