// Package queue is the shared job substrate: named lanes over one
// Redis instance, at-least-once delivery, bounded retries with backoff
// and dead-letter escalation handled by the worker pool.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	readyKeyPrefix   = "shelfjet:queue:"
	delayedKeySuffix = ":delayed"
	dedupKeySuffix   = ":ids:"

	// dedupTTL bounds how long a fixed job id suppresses duplicates.
	dedupTTL = 24 * time.Hour
)

// ErrDuplicate is returned when a fixed job id was already enqueued
// within the dedup window.
var ErrDuplicate = errors.New("queue: duplicate job id")

// Queue is the substrate handle shared by producers and workers.
type Queue struct {
	rdb    *redis.Client
	logger *zap.Logger

	defaultMaxAttempts int
	backoffBase        time.Duration
}

func New(rdb *redis.Client, logger *zap.Logger, defaultMaxAttempts int, backoffBase time.Duration) *Queue {
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = 3
	}
	if backoffBase <= 0 {
		backoffBase = 5 * time.Second
	}
	return &Queue{
		rdb:                rdb,
		logger:             logger.Named("queue"),
		defaultMaxAttempts: defaultMaxAttempts,
		backoffBase:        backoffBase,
	}
}

func readyKey(lane string) string   { return readyKeyPrefix + lane }
func delayedKey(lane string) string { return readyKeyPrefix + lane + delayedKeySuffix }
func dedupKey(lane, id string) string {
	return readyKeyPrefix + lane + dedupKeySuffix + id
}

// Enqueue adds a job to a lane. payload is marshalled to JSON; pass
// nil for payload-less jobs.
func (q *Queue) Enqueue(ctx context.Context, lane, name string, payload any, opts ...Option) (string, error) {
	var o enqueueOptions
	for _, opt := range opts {
		opt(&o)
	}

	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("marshal payload: %w", err)
		}
		raw = b
	}

	jobID := o.jobID
	if jobID == "" {
		jobID = uuid.NewString()
	} else {
		acquired, err := q.rdb.SetNX(ctx, dedupKey(lane, jobID), "1", dedupTTL).Result()
		if err != nil {
			return "", fmt.Errorf("dedup check: %w", err)
		}
		if !acquired {
			return jobID, ErrDuplicate
		}
	}

	maxAttempts := o.maxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.defaultMaxAttempts
	}

	job := &Job{
		ID:          jobID,
		Name:        name,
		Lane:        lane,
		Payload:     raw,
		MaxAttempts: maxAttempts,
		Priority:    o.priority,
		EnqueuedAt:  time.Now().UTC(),
	}

	if o.delay > 0 {
		if err := q.addDelayed(ctx, job, time.Now().Add(o.delay)); err != nil {
			return "", err
		}
	} else {
		if err := q.push(ctx, job); err != nil {
			return "", err
		}
	}

	q.logger.Debug("job_enqueued",
		zap.String("lane", lane),
		zap.String("job", name),
		zap.String("job_id", jobID),
		zap.Duration("delay", o.delay),
	)
	return jobID, nil
}

func (q *Queue) push(ctx context.Context, job *Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	// Workers lease from the right: LPUSH keeps FIFO order, RPUSH
	// lets high-priority jobs jump the line.
	if job.Priority > 0 {
		return q.rdb.RPush(ctx, readyKey(job.Lane), b).Err()
	}
	return q.rdb.LPush(ctx, readyKey(job.Lane), b).Err()
}

func (q *Queue) addDelayed(ctx context.Context, job *Job, fireAt time.Time) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.rdb.ZAdd(ctx, delayedKey(job.Lane), redis.Z{
		Score:  float64(fireAt.UnixMilli()),
		Member: b,
	}).Err()
}

// Lease blocks up to timeout for the next ready job on the lane. A nil
// job with nil error means the timeout elapsed. The attempt counter is
// already incremented on the returned job.
func (q *Queue) Lease(ctx context.Context, lane string, timeout time.Duration) (*Job, error) {
	res, err := q.rdb.BRPop(ctx, timeout, readyKey(lane)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	// BRPOP returns [key, value].
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	job.AttemptsMade++
	return &job, nil
}

// Retry puts a failed job back with exponential backoff.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	backoff := q.backoffBase << (job.AttemptsMade - 1)
	return q.addDelayed(ctx, job, time.Now().Add(backoff))
}

// PromoteDelayed moves due jobs from the delayed set of each lane onto
// its ready list. Remove-then-push keeps a job from being promoted by
// two processes at once; a crash between the two steps loses at most
// one delayed job, which retries cover at the next registration tick.
func (q *Queue) PromoteDelayed(ctx context.Context, lanes []string) error {
	now := float64(time.Now().UnixMilli())
	for _, lane := range lanes {
		key := delayedKey(lane)
		members, err := q.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
			Min: "-inf",
			Max: fmt.Sprintf("%f", now),
		}).Result()
		if err != nil {
			return fmt.Errorf("scan delayed %s: %w", lane, err)
		}
		for _, member := range members {
			removed, err := q.rdb.ZRem(ctx, key, member).Result()
			if err != nil {
				return fmt.Errorf("remove delayed %s: %w", lane, err)
			}
			if removed == 0 {
				continue // another promoter won the race
			}
			var job Job
			if err := json.Unmarshal([]byte(member), &job); err != nil {
				q.logger.Error("delayed_job_decode_failed", zap.String("lane", lane), zap.Error(err))
				continue
			}
			if err := q.push(ctx, &job); err != nil {
				return fmt.Errorf("promote %s: %w", lane, err)
			}
		}
	}
	return nil
}

// RunPromoter ticks PromoteDelayed until the context is cancelled.
func (q *Queue) RunPromoter(ctx context.Context, lanes []string, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.PromoteDelayed(ctx, lanes); err != nil && ctx.Err() == nil {
				q.logger.Error("delayed_promotion_failed", zap.Error(err))
			}
		}
	}
}

// Depth returns ready and delayed counts for a lane.
func (q *Queue) Depth(ctx context.Context, lane string) (ready int64, delayed int64, err error) {
	ready, err = q.rdb.LLen(ctx, readyKey(lane)).Result()
	if err != nil {
		return 0, 0, err
	}
	delayed, err = q.rdb.ZCard(ctx, delayedKey(lane)).Result()
	if err != nil {
		return 0, 0, err
	}
	return ready, delayed, nil
}
