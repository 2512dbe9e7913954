package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/job"
	"github.com/shelfjetlabs/shelfjet-worker/pkg/metrics"
)

// Processor handles one job. A returned error counts as a failed
// attempt; the queue retries until the budget runs out.
type Processor func(ctx context.Context, j *Job) (map[string]any, error)

// RateLimit caps a lane at Max jobs per Per, shared by every worker
// process bound to the lane: the budget counter lives in Redis, so
// adding processes never multiplies the configured rate.
type RateLimit struct {
	Max int
	Per time.Duration
}

// FailureRecorder receives per-job failure records (the health monitor).
type FailureRecorder interface {
	RecordError(ctx context.Context, jobType, jobID string, jobErr error, attemptsMade int)
}

// Escalator delivers best-effort failure notifications.
type Escalator interface {
	NotifyJobFailure(ctx context.Context, lane, jobName, jobID string, jobErr error, attemptsMade int)
}

// ErrorTracker is the external error-tracking collaborator, invoked
// only on terminal failures.
type ErrorTracker interface {
	CaptureException(ctx context.Context, err error, tags map[string]string)
}

type binding struct {
	lane        string
	concurrency int
	limit       *RateLimit
	limiter     *rate.Limiter
	processor   Processor
}

// Manager binds processors to lanes and runs them with bounded
// concurrency, per-lane rate limits, outcome logging and dead-letter
// escalation.
type Manager struct {
	queue   *Queue
	logger  *zap.Logger
	metrics *metrics.Metrics

	jobLogs     job.LogRepository
	deadLetters job.DeadLetterRepository
	recorder    FailureRecorder
	escalator   Escalator
	tracker     ErrorTracker

	leaseTimeout time.Duration
	promoteTick  time.Duration

	mu       sync.Mutex
	bindings []binding

	stopping atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewManager(
	q *Queue,
	logger *zap.Logger,
	m *metrics.Metrics,
	jobLogs job.LogRepository,
	deadLetters job.DeadLetterRepository,
	recorder FailureRecorder,
	escalator Escalator,
	tracker ErrorTracker,
	promoteTick time.Duration,
) *Manager {
	if promoteTick <= 0 {
		promoteTick = time.Second
	}
	return &Manager{
		queue:        q,
		logger:       logger.Named("worker"),
		metrics:      m,
		jobLogs:      jobLogs,
		deadLetters:  deadLetters,
		recorder:     recorder,
		escalator:    escalator,
		tracker:      tracker,
		leaseTimeout: 2 * time.Second,
		promoteTick:  promoteTick,
	}
}

// Bind attaches a processor to a lane. Must be called before Start.
func (m *Manager) Bind(lane string, concurrency int, rl *RateLimit, processor Processor) {
	if concurrency <= 0 {
		concurrency = 1
	}
	var limit *RateLimit
	var limiter *rate.Limiter
	if rl != nil && rl.Max > 0 && rl.Per > 0 {
		limit = &RateLimit{Max: rl.Max, Per: rl.Per}
		// Local smoother only; the real budget is the shared counter
		// consulted after each lease.
		limiter = rate.NewLimiter(rate.Limit(float64(rl.Max)/rl.Per.Seconds()), rl.Max)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings = append(m.bindings, binding{
		lane:        lane,
		concurrency: concurrency,
		limit:       limit,
		limiter:     limiter,
		processor:   processor,
	})
}

// Lanes returns the bound lane names.
func (m *Manager) Lanes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	lanes := make([]string, 0, len(m.bindings))
	for _, b := range m.bindings {
		lanes = append(lanes, b.lane)
	}
	return lanes
}

// Start launches the lane workers and the delayed-job promoter.
func (m *Manager) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.mu.Lock()
	bindings := make([]binding, len(m.bindings))
	copy(bindings, m.bindings)
	m.mu.Unlock()

	lanes := make([]string, 0, len(bindings))
	for _, b := range bindings {
		lanes = append(lanes, b.lane)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.queue.RunPromoter(runCtx, lanes, m.promoteTick)
	}()

	for _, b := range bindings {
		for i := 0; i < b.concurrency; i++ {
			m.wg.Add(1)
			go func(b binding) {
				defer m.wg.Done()
				m.runLoop(runCtx, b)
			}(b)
		}
		m.logger.Info("lane_bound",
			zap.String("lane", b.lane),
			zap.Int("concurrency", b.concurrency),
			zap.Bool("rate_limited", b.limit != nil),
		)
	}
}

// Shutdown stops leasing and waits for in-flight jobs until the
// context deadline, then gives up.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.stopping.CompareAndSwap(false, true) {
		return nil
	}
	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("worker_pool_drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool shutdown timed out: %w", ctx.Err())
	}
}

func (m *Manager) runLoop(ctx context.Context, b binding) {
	for {
		if ctx.Err() != nil || m.stopping.Load() {
			return
		}
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return
			}
		}

		j, err := m.queue.Lease(ctx, b.lane, m.leaseTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Error("lease_failed", zap.String("lane", b.lane), zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if j == nil {
			continue
		}

		if b.limit != nil {
			// The leased job holds until the shared lane budget admits
			// it, so the configured rate holds across every process.
			if err := m.queue.WaitSlot(ctx, b.lane, b.limit.Max, b.limit.Per); err != nil {
				// The job is already off the ready list; dropping it
				// here would lose it, so it runs through shutdown.
				m.logger.Warn("rate_wait_interrupted", zap.String("lane", b.lane), zap.Error(err))
			}
		}

		// In-flight work finishes on its own context so shutdown
		// cancellation doesn't abort it mid-write.
		m.process(context.WithoutCancel(ctx), b, j)
	}
}

func (m *Manager) process(ctx context.Context, b binding, j *Job) {
	start := time.Now()
	m.logger.Info("job_start",
		zap.String("lane", j.Lane),
		zap.String("job", j.Name),
		zap.String("job_id", j.ID),
		zap.Int("attempt", j.AttemptsMade),
	)

	result, err := m.runProcessor(ctx, b.processor, j)
	duration := time.Since(start)
	m.metrics.JobDuration.WithLabelValues(j.Lane, j.Name).Observe(duration.Seconds())

	if err == nil {
		m.metrics.JobsProcessed.WithLabelValues(j.Lane, j.Name, "completed").Inc()
		m.logger.Info("job_completed",
			zap.String("lane", j.Lane),
			zap.String("job", j.Name),
			zap.String("job_id", j.ID),
			zap.Duration("duration", duration),
		)
		m.writeLog(ctx, j, job.StatusCompleted, duration, "", result)
		return
	}

	m.logger.Error("job_failed",
		zap.String("lane", j.Lane),
		zap.String("job", j.Name),
		zap.String("job_id", j.ID),
		zap.Int("attempt", j.AttemptsMade),
		zap.Duration("duration", duration),
		zap.Error(err),
	)
	m.recorder.RecordError(ctx, j.Name, j.ID, err, j.AttemptsMade)
	if m.escalator != nil {
		m.escalator.NotifyJobFailure(ctx, j.Lane, j.Name, j.ID, err, j.AttemptsMade)
	}

	if j.LastAttempt() {
		m.metrics.JobsProcessed.WithLabelValues(j.Lane, j.Name, "dead_letter").Inc()
		m.metrics.DeadLetters.Inc()
		m.writeLog(ctx, j, job.StatusDeadLetter, duration, err.Error(), nil)
		m.moveToDeadLetter(ctx, j, err)
		return
	}

	m.metrics.JobsProcessed.WithLabelValues(j.Lane, j.Name, "failed").Inc()
	m.writeLog(ctx, j, job.StatusFailed, duration, err.Error(), nil)
	if retryErr := m.queue.Retry(ctx, j); retryErr != nil {
		m.logger.Error("job_retry_enqueue_failed",
			zap.String("job_id", j.ID),
			zap.Error(retryErr),
		)
	}
}

// runProcessor converts processor panics into errors so one bad job
// cannot take down a lane worker.
func (m *Manager) runProcessor(ctx context.Context, p Processor, j *Job) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return p(ctx, j)
}

func (m *Manager) writeLog(ctx context.Context, j *Job, status job.Status, duration time.Duration, errMsg string, result map[string]any) {
	entry := &job.Log{
		JobType:      j.Name,
		JobID:        j.ID,
		Lane:         j.Lane,
		Status:       status,
		DurationMS:   duration.Milliseconds(),
		ErrorMessage: errMsg,
		Result:       result,
		AttemptsMade: j.AttemptsMade,
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.jobLogs.Create(ctx, entry); err != nil {
		m.logger.Error("job_log_write_failed", zap.String("job_id", j.ID), zap.Error(err))
	}
}

func (m *Manager) moveToDeadLetter(ctx context.Context, j *Job, jobErr error) {
	var payload map[string]any
	if err := j.DecodePayload(&payload); err != nil {
		payload = map[string]any{"raw": string(j.Payload)}
	}

	entry := &job.DeadLetter{
		OriginalQueue: j.Lane,
		OriginalJobID: j.ID,
		OriginalName:  j.Name,
		Payload:       payload,
		Error:         jobErr.Error(),
		AttemptsMade:  j.AttemptsMade,
		FailedAt:      time.Now().UTC(),
	}
	if err := m.deadLetters.Create(ctx, entry); err != nil {
		m.logger.Error("dead_letter_write_failed", zap.String("job_id", j.ID), zap.Error(err))
		return
	}

	if m.tracker != nil {
		m.tracker.CaptureException(ctx, jobErr, map[string]string{
			"lane":   j.Lane,
			"job":    j.Name,
			"job_id": j.ID,
		})
	}

	m.logger.Error("job_dead_lettered",
		zap.String("lane", j.Lane),
		zap.String("job", j.Name),
		zap.String("job_id", j.ID),
		zap.Int("attempts", j.AttemptsMade),
	)
}
