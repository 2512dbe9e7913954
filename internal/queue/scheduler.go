package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const repeatKey = "shelfjet:queue:repeat"

// ErrBadPattern wraps cron parse failures.
var ErrBadPattern = errors.New("scheduler: invalid cron pattern")

// registration is the stored form of one recurring job.
type registration struct {
	FixedID string          `json:"fixedId"`
	Name    string          `json:"name"`
	Lane    string          `json:"lane"`
	Pattern string          `json:"pattern"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func repeatField(lane, fixedID string) string {
	return lane + "/" + fixedID
}

// Scheduler owns repeat registrations and one-shot triggers. Every
// worker process runs one; fixed per-tick job ids keep concurrent
// schedulers from double-firing.
type Scheduler struct {
	queue  *Queue
	rdb    *redis.Client
	logger *zap.Logger
	parser cron.Parser

	tick     time.Duration
	lastTick time.Time
}

func NewScheduler(q *Queue, rdb *redis.Client, logger *zap.Logger, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = 15 * time.Second
	}
	return &Scheduler{
		queue:  q,
		rdb:    rdb,
		logger: logger.Named("scheduler"),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		tick:   tick,
	}
}

// RegisterRecurring declares one recurring job. Idempotent: the stale
// registration under the same fixed id is removed first, so calling
// this on every process start never produces duplicate timers.
func (s *Scheduler) RegisterRecurring(ctx context.Context, name, lane, pattern string, payload any, fixedID string) error {
	if _, err := s.parser.Parse(pattern); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrBadPattern, pattern, err)
	}

	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		raw = b
	}

	reg := registration{
		FixedID: fixedID,
		Name:    name,
		Lane:    lane,
		Pattern: pattern,
		Payload: raw,
	}
	b, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("marshal registration: %w", err)
	}

	field := repeatField(lane, fixedID)
	if err := s.rdb.HDel(ctx, repeatKey, field).Err(); err != nil {
		return fmt.Errorf("remove stale registration: %w", err)
	}
	if err := s.rdb.HSet(ctx, repeatKey, field, b).Err(); err != nil {
		return fmt.Errorf("store registration: %w", err)
	}

	s.logger.Info("recurring_registered",
		zap.String("name", name),
		zap.String("lane", lane),
		zap.String("pattern", pattern),
		zap.String("fixed_id", fixedID),
	)
	return nil
}

// Unregister drops a recurring job.
func (s *Scheduler) Unregister(ctx context.Context, lane, fixedID string) error {
	return s.rdb.HDel(ctx, repeatKey, repeatField(lane, fixedID)).Err()
}

// TriggerNow enqueues a one-off high-priority job alongside the
// recurring stream and returns the job id for the caller to poll.
func (s *Scheduler) TriggerNow(ctx context.Context, lane, name string, payload any) (string, error) {
	return s.queue.Enqueue(ctx, lane, name, payload, WithHighPriority())
}

// Run fires due registrations until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.lastTick = time.Now()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := s.fireDue(ctx, now); err != nil && ctx.Err() == nil {
				s.logger.Error("scheduler_tick_failed", zap.Error(err))
			}
			s.lastTick = now
		}
	}
}

// fireDue enqueues one job per registration whose cron schedule fired
// inside (lastTick, now]. The per-tick job id makes the enqueue
// idempotent across scheduler processes.
func (s *Scheduler) fireDue(ctx context.Context, now time.Time) error {
	entries, err := s.rdb.HGetAll(ctx, repeatKey).Result()
	if err != nil {
		return fmt.Errorf("load registrations: %w", err)
	}

	for field, raw := range entries {
		var reg registration
		if err := json.Unmarshal([]byte(raw), &reg); err != nil {
			s.logger.Error("registration_decode_failed", zap.String("field", field), zap.Error(err))
			continue
		}
		sched, err := s.parser.Parse(reg.Pattern)
		if err != nil {
			s.logger.Error("registration_pattern_invalid", zap.String("field", field), zap.Error(err))
			continue
		}

		fireAt := sched.Next(s.lastTick)
		if fireAt.After(now) {
			continue
		}

		jobID := fmt.Sprintf("%s@%d", reg.FixedID, fireAt.Unix())
		var payload any
		if len(reg.Payload) > 0 {
			payload = reg.Payload
		}
		_, err = s.queue.Enqueue(ctx, reg.Lane, reg.Name, payload, WithJobID(jobID))
		if err != nil {
			if errors.Is(err, ErrDuplicate) {
				continue // another scheduler already fired this tick
			}
			return fmt.Errorf("fire %s: %w", reg.FixedID, err)
		}

		s.logger.Info("recurring_fired",
			zap.String("name", reg.Name),
			zap.String("lane", reg.Lane),
			zap.String("job_id", jobID),
		)
	}
	return nil
}

// OffsetPattern shifts the minute field of a cron pattern by the given
// offset, so two recurring tasks sharing an external API never fire at
// the same instant ("0 */6 * * *" +30 → "30 */6 * * *"). The minute
// field must be a plain number.
func OffsetPattern(pattern string, offsetMinutes int) (string, error) {
	fields := strings.Fields(pattern)
	if len(fields) != 5 {
		return "", fmt.Errorf("%w: %q", ErrBadPattern, pattern)
	}
	minute, err := strconv.Atoi(fields[0])
	if err != nil {
		return "", fmt.Errorf("%w: minute field %q is not numeric", ErrBadPattern, fields[0])
	}
	shifted := (minute + offsetMinutes) % 60
	if shifted < 0 {
		shifted += 60
	}
	fields[0] = strconv.Itoa(shifted)
	return strings.Join(fields, " "), nil
}
