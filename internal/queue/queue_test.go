package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestQueue(t *testing.T) (*Queue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, zap.NewNop(), 3, 5*time.Second), client
}

func TestEnqueueLeaseFIFO(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, LaneInventory, JobInventoryCheck, map[string]any{"n": 1})
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, LaneInventory, JobInventoryCheck, map[string]any{"n": 2})
	require.NoError(t, err)

	j1, err := q.Lease(ctx, LaneInventory, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, j1)
	assert.Equal(t, first, j1.ID)
	assert.Equal(t, 1, j1.AttemptsMade)

	j2, err := q.Lease(ctx, LaneInventory, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, j2)
	assert.Equal(t, second, j2.ID)
}

func TestLeaseTimeoutReturnsNil(t *testing.T) {
	q, _ := newTestQueue(t)

	j, err := q.Lease(context.Background(), LanePriceSync, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestHighPriorityJumpsTheLine(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, LaneOrderSync, JobOrderSync, nil)
	require.NoError(t, err)
	urgent, err := q.Enqueue(ctx, LaneOrderSync, JobOrderSync, nil, WithHighPriority())
	require.NoError(t, err)

	j, err := q.Lease(ctx, LaneOrderSync, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, urgent, j.ID)
}

func TestFixedJobIDDeduplicates(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, LaneMaintenance, JobHealthCheck, nil, WithJobID("health@100"))
	require.NoError(t, err)
	assert.Equal(t, "health@100", id)

	_, err = q.Enqueue(ctx, LaneMaintenance, JobHealthCheck, nil, WithJobID("health@100"))
	assert.ErrorIs(t, err, ErrDuplicate)

	ready, _, err := q.Depth(ctx, LaneMaintenance)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ready)

	// A different tick id is a different job.
	_, err = q.Enqueue(ctx, LaneMaintenance, JobHealthCheck, nil, WithJobID("health@200"))
	require.NoError(t, err)
}

func TestDelayedJobPromotion(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, LaneNotification, JobSendNotification, nil, WithDelay(20*time.Millisecond))
	require.NoError(t, err)

	ready, delayed, err := q.Depth(ctx, LaneNotification)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ready)
	assert.Equal(t, int64(1), delayed)

	// Not due yet.
	require.NoError(t, q.PromoteDelayed(ctx, []string{LaneNotification}))
	ready, _, err = q.Depth(ctx, LaneNotification)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ready)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, q.PromoteDelayed(ctx, []string{LaneNotification}))

	ready, delayed, err = q.Depth(ctx, LaneNotification)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ready)
	assert.Equal(t, int64(0), delayed)
}

func TestRetryMovesJobToDelayed(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, LaneInventory, JobInventoryCheck, nil)
	require.NoError(t, err)

	j, err := q.Lease(ctx, LaneInventory, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, j)

	require.NoError(t, q.Retry(ctx, j))

	ready, delayed, err := q.Depth(ctx, LaneInventory)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ready)
	assert.Equal(t, int64(1), delayed)
}

func TestRetryPreservesAttemptCount(t *testing.T) {
	q, client := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, LaneInventory, JobInventoryCheck, nil)
	require.NoError(t, err)

	j, err := q.Lease(ctx, LaneInventory, 100*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, q.Retry(ctx, j))

	// Force the delayed member due and promote.
	members, err := client.ZRange(ctx, delayedKey(LaneInventory), 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.NoError(t, client.ZAdd(ctx, delayedKey(LaneInventory), redis.Z{Score: 0, Member: members[0]}).Err())
	require.NoError(t, q.PromoteDelayed(ctx, []string{LaneInventory}))

	again, err := q.Lease(ctx, LaneInventory, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, 2, again.AttemptsMade)
	assert.Equal(t, j.ID, again.ID)
}

func TestDecodePayload(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	type payload struct {
		ProductID string `json:"productId"`
	}
	_, err := q.Enqueue(ctx, LaneInventory, JobInventoryCheck, payload{ProductID: "p-1"})
	require.NoError(t, err)

	j, err := q.Lease(ctx, LaneInventory, 100*time.Millisecond)
	require.NoError(t, err)

	var got payload
	require.NoError(t, j.DecodePayload(&got))
	assert.Equal(t, "p-1", got.ProductID)
}
