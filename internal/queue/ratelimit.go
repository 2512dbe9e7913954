package queue

import (
	"context"
	"fmt"
	"time"
)

const (
	rateKeySuffix = ":ratelimit"

	// rateRetryMax bounds how long a worker sleeps before re-checking
	// an exhausted lane budget.
	rateRetryMax = 250 * time.Millisecond
)

func rateKey(lane string) string { return readyKeyPrefix + lane + rateKeySuffix }

// TryAcquireSlot reserves one unit of the lane's rate budget. The
// budget is a counter keyed per lane with the window as its TTL, so
// every worker process bound to the lane draws from the same
// allowance. When the window is exhausted the second return value is
// how long to wait before retrying.
func (q *Queue) TryAcquireSlot(ctx context.Context, lane string, max int, per time.Duration) (bool, time.Duration, error) {
	key := rateKey(lane)
	n, err := q.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("lane budget incr: %w", err)
	}
	if n == 1 {
		if err := q.rdb.PExpire(ctx, key, per).Err(); err != nil {
			return false, 0, fmt.Errorf("lane budget expire: %w", err)
		}
	}
	if n <= int64(max) {
		return true, 0, nil
	}

	ttl, err := q.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("lane budget ttl: %w", err)
	}
	if ttl <= 0 {
		// Counter left without a TTL (expire lost between the two
		// steps above, or the key just expired): re-arm the window
		// instead of waiting on it forever.
		if err := q.rdb.PExpire(ctx, key, per).Err(); err != nil {
			return false, 0, fmt.Errorf("lane budget re-arm: %w", err)
		}
		ttl = per
	}
	wait := ttl
	if wait > rateRetryMax {
		wait = rateRetryMax
	}
	return false, wait, nil
}

// WaitSlot blocks until the lane budget admits one more job or the
// context ends.
func (q *Queue) WaitSlot(ctx context.Context, lane string, max int, per time.Duration) error {
	for {
		ok, wait, err := q.TryAcquireSlot(ctx, lane, max, per)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
