// Package alert evaluates declarative alert rules against domain
// events and decides per matching rule: throttle, batch, or dispatch
// now. Cross-process state (cooldowns, batch buffers, flush guards,
// daily stats) lives in the shared key-value store.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/alerting"
	"github.com/shelfjetlabs/shelfjet-worker/internal/queue"
	"github.com/shelfjetlabs/shelfjet-worker/internal/throttle"
	"github.com/shelfjetlabs/shelfjet-worker/pkg/metrics"
)

const batchKeyPrefix = "shelfjet:alert:batch:"

// Payload is the wire contract between the engine and the
// notification dispatcher on the notification lane.
type Payload struct {
	Channel    string         `json:"channel"`
	Template   string         `json:"template"`
	Data       map[string]any `json:"data"`
	AlertLogID int64          `json:"alertLogId,omitempty"`
	BatchID    string         `json:"batchId,omitempty"`
}

// FlushPayload is carried by the delayed batch-flush job.
type FlushPayload struct {
	RuleID    int64  `json:"ruleId"`
	EventType string `json:"eventType"`
}

// Buffer holds open batch windows in the shared store.
type Buffer interface {
	Append(ctx context.Context, key string, entry []byte, ttl time.Duration) error
	AcquireGuard(ctx context.Context, guardKey string, ttl time.Duration) (bool, error)
	Drain(ctx context.Context, key, guardKey string) ([]string, error)
}

// StatsStore keeps the per-day dispatch counters.
type StatsStore interface {
	IncrStat(ctx context.Context, day time.Time, field string, n int64) error
	StatsRange(ctx context.Context, now time.Time, days int) (map[string]map[string]int64, error)
}

// bufferedEntry is the stored form of one batched event.
type bufferedEntry struct {
	Event     *alerting.Event `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
}

// Engine is the alert rule engine. Construct with NewEngine and hand
// ProcessEvent to event producers; the flush job processor calls
// FlushBatch.
type Engine struct {
	rules    alerting.RuleRepository
	logs     alerting.LogRepository
	queue    *queue.Queue
	cooldown throttle.Store
	buffer   Buffer
	stats    StatsStore
	logger   *zap.Logger
	metrics  *metrics.Metrics

	webAppURL string
	now       func() time.Time
}

func NewEngine(
	rules alerting.RuleRepository,
	logs alerting.LogRepository,
	q *queue.Queue,
	cooldown throttle.Store,
	buffer Buffer,
	stats StatsStore,
	logger *zap.Logger,
	m *metrics.Metrics,
	webAppURL string,
) *Engine {
	return &Engine{
		rules:     rules,
		logs:      logs,
		queue:     q,
		cooldown:  cooldown,
		buffer:    buffer,
		stats:     stats,
		logger:    logger.Named("alert"),
		metrics:   m,
		webAppURL: webAppURL,
		now:       time.Now,
	}
}

func batchKey(eventType string, ruleID int64) string {
	return fmt.Sprintf("%s%s:%d", batchKeyPrefix, eventType, ruleID)
}

func guardKey(eventType string, ruleID int64) string {
	return batchKey(eventType, ruleID) + ":scheduled"
}

// ProcessEvent runs the rule pipeline for one event. Rule failures are
// isolated: one broken rule never blocks the rest.
func (e *Engine) ProcessEvent(ctx context.Context, event *alerting.Event) error {
	rules, err := e.rules.ListActive(ctx, event.Type)
	if err != nil {
		return fmt.Errorf("load rules for %s: %w", event.Type, err)
	}

	for _, rule := range rules {
		if !rule.Matches(event.Data) {
			continue
		}
		if err := e.applyRule(ctx, rule, event); err != nil {
			e.logger.Error("rule_apply_failed",
				zap.Int64("rule_id", rule.ID),
				zap.String("event_type", event.Type),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (e *Engine) applyRule(ctx context.Context, rule *alerting.Rule, event *alerting.Event) error {
	if rule.CooldownMinutes > 0 {
		active, err := e.cooldown.Exists(ctx, throttle.RuleKey(rule.ID))
		if err != nil {
			return fmt.Errorf("cooldown check: %w", err)
		}
		if active {
			return e.markThrottled(ctx, rule, event)
		}
	}

	if rule.BatchWindowMinutes > 0 {
		return e.batchEvent(ctx, rule, event)
	}
	return e.dispatchNow(ctx, rule, event)
}

func (e *Engine) markThrottled(ctx context.Context, rule *alerting.Rule, event *alerting.Event) error {
	e.metrics.AlertsDispatched.WithLabelValues("throttled").Inc()
	e.incrStat(ctx, "throttled", 1)
	e.logger.Debug("alert_throttled",
		zap.Int64("rule_id", rule.ID),
		zap.String("event_type", event.Type),
	)
	return e.logs.Create(ctx, &alerting.Log{
		RuleID:    rule.ID,
		EventType: event.Type,
		Severity:  rule.Severity,
		Title:     Title(event),
		Message:   Message(event),
		Metadata:  event.Data,
		Channels:  rule.Channels,
		Status:    alerting.LogThrottled,
		CreatedAt: e.now().UTC(),
	})
}

// batchEvent buffers the event and guarantees exactly one delayed
// flush job per open window. The guard key's existence, not the
// buffer's, decides whether a flush is already scheduled.
func (e *Engine) batchEvent(ctx context.Context, rule *alerting.Rule, event *alerting.Event) error {
	window := time.Duration(rule.BatchWindowMinutes) * time.Minute
	key := batchKey(event.Type, rule.ID)

	entry, err := json.Marshal(bufferedEntry{Event: event, Timestamp: e.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal buffered event: %w", err)
	}
	if err := e.buffer.Append(ctx, key, entry, 2*window); err != nil {
		return fmt.Errorf("append to batch buffer: %w", err)
	}

	acquired, err := e.buffer.AcquireGuard(ctx, guardKey(event.Type, rule.ID), window)
	if err != nil {
		return fmt.Errorf("acquire flush guard: %w", err)
	}
	if acquired {
		_, err := e.queue.Enqueue(ctx, queue.LaneNotification, queue.JobProcessBatch,
			FlushPayload{RuleID: rule.ID, EventType: event.Type},
			queue.WithDelay(window))
		if err != nil {
			return fmt.Errorf("schedule batch flush: %w", err)
		}
		e.logger.Info("batch_flush_scheduled",
			zap.Int64("rule_id", rule.ID),
			zap.String("event_type", event.Type),
			zap.Duration("window", window),
		)
	}

	e.metrics.AlertsDispatched.WithLabelValues("batched").Inc()
	return e.logs.Create(ctx, &alerting.Log{
		RuleID:    rule.ID,
		EventType: event.Type,
		Severity:  rule.Severity,
		Title:     Title(event),
		Message:   Message(event),
		Metadata:  event.Data,
		Channels:  rule.Channels,
		Status:    alerting.LogBatched,
		CreatedAt: e.now().UTC(),
	})
}

// dispatchNow acquires the cooldown atomically before sending, so two
// near-simultaneous events for one rule produce exactly one dispatch.
func (e *Engine) dispatchNow(ctx context.Context, rule *alerting.Rule, event *alerting.Event) error {
	if rule.CooldownMinutes > 0 {
		cooldown := time.Duration(rule.CooldownMinutes) * time.Minute
		acquired, err := e.cooldown.SetIfAbsent(ctx, throttle.RuleKey(rule.ID), cooldown)
		if err != nil {
			return fmt.Errorf("acquire cooldown: %w", err)
		}
		if !acquired {
			return e.markThrottled(ctx, rule, event)
		}
	}

	title := Title(event)
	message := Message(event)
	link := DeepLink(e.webAppURL, event)

	logRow := &alerting.Log{
		RuleID:    rule.ID,
		EventType: event.Type,
		Severity:  rule.Severity,
		Title:     title,
		Message:   message,
		Metadata:  event.Data,
		Channels:  rule.Channels,
		Status:    alerting.LogPending,
		CreatedAt: e.now().UTC(),
	}
	if err := e.logs.Create(ctx, logRow); err != nil {
		return fmt.Errorf("write alert log: %w", err)
	}

	data := map[string]any{
		"title":     title,
		"message":   message,
		"severity":  string(rule.Severity),
		"link":      link,
		"eventType": event.Type,
	}
	for k, v := range event.Data {
		if _, taken := data[k]; !taken {
			data[k] = v
		}
	}

	for _, channel := range rule.Channels {
		payload := Payload{
			Channel:    channel,
			Template:   event.Type,
			Data:       data,
			AlertLogID: logRow.ID,
		}
		if _, err := e.queue.Enqueue(ctx, queue.LaneNotification, queue.JobSendNotification, payload); err != nil {
			return fmt.Errorf("enqueue notification for %s: %w", channel, err)
		}
	}

	e.metrics.AlertsDispatched.WithLabelValues("sent").Inc()
	e.incrStat(ctx, "sent", int64(len(rule.Channels)))
	e.logger.Info("alert_dispatched",
		zap.Int64("rule_id", rule.ID),
		zap.String("event_type", event.Type),
		zap.String("severity", string(rule.Severity)),
		zap.Int("channels", len(rule.Channels)),
	)
	return nil
}

// FlushBatch drains one batch buffer and sends a single summarized
// notification per channel. Runs as the delayed process-batch job; an
// empty drain means a concurrent flush already ran.
func (e *Engine) FlushBatch(ctx context.Context, ruleID int64, eventType string) error {
	entries, err := e.buffer.Drain(ctx, batchKey(eventType, ruleID), guardKey(eventType, ruleID))
	if err != nil {
		return fmt.Errorf("drain batch buffer: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	rule, err := e.rules.FindByID(ctx, ruleID)
	if err != nil {
		return fmt.Errorf("reload rule %d: %w", ruleID, err)
	}
	if rule == nil || !rule.IsActive {
		e.logger.Info("batch_dropped_rule_inactive", zap.Int64("rule_id", ruleID))
		return nil
	}

	alerts := make([]map[string]any, 0, len(entries))
	for _, raw := range entries {
		var entry bufferedEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			e.logger.Error("batched_entry_decode_failed", zap.Int64("rule_id", ruleID), zap.Error(err))
			continue
		}
		item := make(map[string]any, len(entry.Event.Data)+1)
		for k, v := range entry.Event.Data {
			item[k] = v
		}
		item["timestamp"] = entry.Timestamp
		alerts = append(alerts, item)
	}

	batchID := fmt.Sprintf("batch-%d", e.now().UnixMilli())
	data := map[string]any{
		"count":     len(alerts),
		"eventType": eventType,
		"severity":  string(rule.Severity),
		"alerts":    alerts,
	}
	for _, channel := range rule.Channels {
		payload := Payload{
			Channel:  channel,
			Template: eventType + BatchTemplateSuffix,
			Data:     data,
			BatchID:  batchID,
		}
		if _, err := e.queue.Enqueue(ctx, queue.LaneNotification, queue.JobSendNotification, payload); err != nil {
			return fmt.Errorf("enqueue batch notification for %s: %w", channel, err)
		}
	}

	if rule.CooldownMinutes > 0 {
		cooldown := time.Duration(rule.CooldownMinutes) * time.Minute
		if _, err := e.cooldown.SetIfAbsent(ctx, throttle.RuleKey(rule.ID), cooldown); err != nil {
			e.logger.Error("cooldown_set_failed", zap.Int64("rule_id", rule.ID), zap.Error(err))
		}
	}

	e.metrics.AlertsDispatched.WithLabelValues("flushed").Inc()
	e.incrStat(ctx, "batched", int64(len(rule.Channels)))
	e.logger.Info("batch_flushed",
		zap.Int64("rule_id", ruleID),
		zap.String("event_type", eventType),
		zap.Int("count", len(alerts)),
		zap.String("batch_id", batchID),
	)
	return nil
}

// Stats returns the per-day dispatch counters for the last days days.
func (e *Engine) Stats(ctx context.Context, days int) (map[string]map[string]int64, error) {
	if days <= 0 {
		days = 7
	}
	return e.stats.StatsRange(ctx, e.now(), days)
}

// DeliveryCounts returns audit-trail rows per delivery status over the
// last days days. Unlike Stats this reads the database, so it also
// reflects rows written before the counter retention window.
func (e *Engine) DeliveryCounts(ctx context.Context, days int) (map[alerting.LogStatus]int64, error) {
	if days <= 0 {
		days = 7
	}
	return e.logs.CountSince(ctx, e.now().UTC().AddDate(0, 0, -days))
}

// incrStat is best-effort: stats never fail the pipeline.
func (e *Engine) incrStat(ctx context.Context, field string, n int64) {
	if err := e.stats.IncrStat(ctx, e.now(), field, n); err != nil {
		e.logger.Warn("alert_stats_update_failed", zap.String("field", field), zap.Error(err))
	}
}
