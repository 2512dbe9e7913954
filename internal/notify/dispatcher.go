package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shelfjetlabs/shelfjet-worker/internal/alert"
	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/alerting"
	"github.com/shelfjetlabs/shelfjet-worker/internal/queue"
)

// Dispatcher consumes the notification lane: it renders the payload,
// hands it to the channel adapter and reports delivery back to the
// alert log.
type Dispatcher struct {
	registry *Registry
	logs     alerting.LogRepository
	logger   *zap.Logger
	now      func() time.Time
}

func NewDispatcher(registry *Registry, logs alerting.LogRepository, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logs:     logs,
		logger:   logger.Named("dispatch"),
		now:      time.Now,
	}
}

// Process handles one send-notification job. A failed send marks the
// alert log failed and returns the error so the queue retries; a later
// successful attempt flips the row to sent.
func (d *Dispatcher) Process(ctx context.Context, j *queue.Job) (map[string]any, error) {
	var payload alert.Payload
	if err := j.DecodePayload(&payload); err != nil {
		return nil, fmt.Errorf("decode notification payload: %w", err)
	}
	if payload.Channel == "" {
		return nil, fmt.Errorf("notification payload without channel")
	}

	msg := render(&payload)

	adapter, err := d.registry.Lookup(payload.Channel)
	if err != nil {
		d.markDelivered(ctx, payload.AlertLogID, alerting.LogFailed, err.Error())
		return nil, err
	}

	if err := adapter.Send(ctx, msg); err != nil {
		d.markDelivered(ctx, payload.AlertLogID, alerting.LogFailed, err.Error())
		return nil, fmt.Errorf("send via %s: %w", payload.Channel, err)
	}

	d.markDelivered(ctx, payload.AlertLogID, alerting.LogSent, "")
	d.logger.Info("notification_sent",
		zap.String("channel", payload.Channel),
		zap.String("template", payload.Template),
		zap.String("batch_id", payload.BatchID),
	)
	return map[string]any{"channel": payload.Channel, "template": payload.Template}, nil
}

func (d *Dispatcher) markDelivered(ctx context.Context, logID int64, status alerting.LogStatus, errMsg string) {
	if logID == 0 {
		return
	}
	if err := d.logs.MarkDelivered(ctx, logID, status, d.now().UTC(), errMsg); err != nil {
		d.logger.Error("alert_log_update_failed", zap.Int64("alert_log_id", logID), zap.Error(err))
	}
}

// render builds the channel message. Immediate payloads carry a
// pre-rendered title and message; batch payloads are summarized here.
func render(payload *alert.Payload) *Message {
	msg := &Message{
		Channel:  payload.Channel,
		Template: payload.Template,
		Data:     payload.Data,
	}
	if s, ok := payload.Data["severity"].(string); ok {
		msg.Severity = s
	}
	if s, ok := payload.Data["link"].(string); ok {
		msg.Link = s
	}

	if strings.HasSuffix(payload.Template, alert.BatchTemplateSuffix) {
		eventType := strings.TrimSuffix(payload.Template, alert.BatchTemplateSuffix)
		count := payload.Data["count"]
		msg.Title = fmt.Sprintf("%v alerts: %s", count, eventType)
		msg.Body = fmt.Sprintf("%v events of type %s were collected during the batch window.", count, eventType)
		return msg
	}

	if s, ok := payload.Data["title"].(string); ok {
		msg.Title = s
	} else {
		msg.Title = payload.Template
	}
	if s, ok := payload.Data["message"].(string); ok {
		msg.Body = s
	}
	return msg
}
