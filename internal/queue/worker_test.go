package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/job"
	"github.com/shelfjetlabs/shelfjet-worker/pkg/metrics"
)

type memJobLogs struct {
	mu   sync.Mutex
	logs []*job.Log
}

func (m *memJobLogs) Create(_ context.Context, l *job.Log) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, l)
	return nil
}

func (m *memJobLogs) ListRecent(context.Context, string, int) ([]*job.Log, error) {
	return nil, nil
}

func (m *memJobLogs) ListSince(context.Context, string, time.Time) ([]*job.Log, error) {
	return nil, nil
}

func (m *memJobLogs) SuccessRate(context.Context, time.Time) (int64, int64, error) {
	return 0, 0, nil
}

func (m *memJobLogs) byStatus(status job.Status) []*job.Log {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*job.Log
	for _, l := range m.logs {
		if l.Status == status {
			out = append(out, l)
		}
	}
	return out
}

type memDeadLetters struct {
	mu      sync.Mutex
	entries []*job.DeadLetter
}

func (m *memDeadLetters) Create(_ context.Context, e *job.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memDeadLetters) CountSince(context.Context, time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.entries)), nil
}

func (m *memDeadLetters) ListRecent(context.Context, int) ([]*job.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*job.DeadLetter(nil), m.entries...), nil
}

func (m *memDeadLetters) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type memRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (m *memRecorder) RecordError(_ context.Context, jobType, jobID string, _ error, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, jobType+"/"+jobID)
}

func (m *memRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type memTracker struct {
	mu   sync.Mutex
	errs []error
}

func (m *memTracker) CaptureException(_ context.Context, err error, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
}

func (m *memTracker) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errs)
}

type workerFixture struct {
	manager     *Manager
	queue       *Queue
	mr          *miniredis.Miniredis
	jobLogs     *memJobLogs
	deadLetters *memDeadLetters
	recorder    *memRecorder
	tracker     *memTracker
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := New(client, zap.NewNop(), 3, 10*time.Millisecond)
	f := &workerFixture{
		queue:       q,
		mr:          mr,
		jobLogs:     &memJobLogs{},
		deadLetters: &memDeadLetters{},
		recorder:    &memRecorder{},
		tracker:     &memTracker{},
	}
	f.manager = NewManager(q, zap.NewNop(), metrics.New(),
		f.jobLogs, f.deadLetters, f.recorder, nil, f.tracker,
		10*time.Millisecond)
	f.manager.leaseTimeout = 50 * time.Millisecond
	return f
}

func (f *workerFixture) start(t *testing.T) {
	t.Helper()
	f.manager.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.manager.Shutdown(ctx)
	})
}

func TestWorkerCompletesJob(t *testing.T) {
	f := newWorkerFixture(t)

	f.manager.Bind(LaneInventory, 1, nil, func(_ context.Context, j *Job) (map[string]any, error) {
		return map[string]any{"checked": 7}, nil
	})
	f.start(t)

	_, err := f.queue.Enqueue(context.Background(), LaneInventory, JobInventoryCheck, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(f.jobLogs.byStatus(job.StatusCompleted)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	logs := f.jobLogs.byStatus(job.StatusCompleted)
	assert.Equal(t, JobInventoryCheck, logs[0].JobType)
	assert.Equal(t, 1, logs[0].AttemptsMade)
	assert.Equal(t, float64(7), logs[0].Result["checked"])
	assert.Zero(t, f.recorder.count())
	assert.Zero(t, f.deadLetters.count())
}

func TestWorkerRetriesThenSucceeds(t *testing.T) {
	f := newWorkerFixture(t)

	var mu sync.Mutex
	attempts := 0
	f.manager.Bind(LanePriceSync, 1, nil, func(_ context.Context, j *Job) (map[string]any, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return nil, errors.New("marketplace timeout")
		}
		return nil, nil
	})
	f.start(t)

	_, err := f.queue.Enqueue(context.Background(), LanePriceSync, JobPriceSync, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(f.jobLogs.byStatus(job.StatusCompleted)) == 1
	}, 3*time.Second, 10*time.Millisecond)

	failed := f.jobLogs.byStatus(job.StatusFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "marketplace timeout", failed[0].ErrorMessage)

	completed := f.jobLogs.byStatus(job.StatusCompleted)
	assert.Equal(t, 2, completed[0].AttemptsMade)

	assert.Equal(t, 1, f.recorder.count())
	assert.Zero(t, f.deadLetters.count())
}

func TestWorkerDeadLettersOnExhaustion(t *testing.T) {
	f := newWorkerFixture(t)

	f.manager.Bind(LaneOrderSync, 1, nil, func(_ context.Context, j *Job) (map[string]any, error) {
		return nil, errors.New("permanent failure")
	})
	f.start(t)

	_, err := f.queue.Enqueue(context.Background(), LaneOrderSync, JobOrderSync,
		map[string]any{"orderId": "o-9"}, WithMaxAttempts(2))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.deadLetters.count() == 1
	}, 3*time.Second, 10*time.Millisecond)

	entry, err := f.deadLetters.ListRecent(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, LaneOrderSync, entry[0].OriginalQueue)
	assert.Equal(t, JobOrderSync, entry[0].OriginalName)
	assert.Equal(t, 2, entry[0].AttemptsMade)
	assert.Equal(t, "permanent failure", entry[0].Error)
	assert.Equal(t, "o-9", entry[0].Payload["orderId"])

	assert.Len(t, f.jobLogs.byStatus(job.StatusFailed), 1)
	assert.Len(t, f.jobLogs.byStatus(job.StatusDeadLetter), 1)
	assert.Equal(t, 2, f.recorder.count())
	assert.Equal(t, 1, f.tracker.count())

	// Nothing left to retry.
	ready, delayed, err := f.queue.Depth(context.Background(), LaneOrderSync)
	require.NoError(t, err)
	assert.Zero(t, ready)
	assert.Zero(t, delayed)
}

func TestWorkerRecoversFromProcessorPanic(t *testing.T) {
	f := newWorkerFixture(t)

	f.manager.Bind(LaneMaintenance, 1, nil, func(_ context.Context, j *Job) (map[string]any, error) {
		panic("boom")
	})
	f.start(t)

	_, err := f.queue.Enqueue(context.Background(), LaneMaintenance, JobLogCleanup, nil, WithMaxAttempts(1))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.deadLetters.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	entry, err := f.deadLetters.ListRecent(context.Background(), 1)
	require.NoError(t, err)
	assert.Contains(t, entry[0].Error, "processor panic")
}

func TestWorkerShutdownDrains(t *testing.T) {
	f := newWorkerFixture(t)

	release := make(chan struct{})
	f.manager.Bind(LaneInventory, 1, nil, func(_ context.Context, j *Job) (map[string]any, error) {
		<-release
		return nil, nil
	})
	f.manager.Start(context.Background())

	_, err := f.queue.Enqueue(context.Background(), LaneInventory, JobInventoryCheck, nil)
	require.NoError(t, err)

	// Wait until the job is leased.
	require.Eventually(t, func() bool {
		ready, _, err := f.queue.Depth(context.Background(), LaneInventory)
		return err == nil && ready == 0
	}, 2*time.Second, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		done <- f.manager.Shutdown(ctx)
	}()

	close(release)
	require.NoError(t, <-done)

	assert.Len(t, f.jobLogs.byStatus(job.StatusCompleted), 1)
}

// spinClock keeps the miniredis clock in step with wall time so the
// lane budget windows expire while the workers run.
func spinClock(t *testing.T, mr *miniredis.Miniredis) {
	t.Helper()
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				mr.FastForward(20 * time.Millisecond)
			}
		}
	}()
}

func TestRateLimitThrottlesLane(t *testing.T) {
	f := newWorkerFixture(t)
	spinClock(t, f.mr)

	var mu sync.Mutex
	var stamps []time.Time
	f.manager.Bind(LanePriceSync, 2, &RateLimit{Max: 1, Per: 100 * time.Millisecond}, func(_ context.Context, j *Job) (map[string]any, error) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		return nil, nil
	})
	f.start(t)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.queue.Enqueue(ctx, LanePriceSync, JobPriceSync, nil)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(stamps) == 3
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// One job per 100ms window: the three jobs cannot all run inside
	// a single window.
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[0]), 100*time.Millisecond)
}
