package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TaskExecutor executes one task. The orchestrator implements this and
// routes by task kind.
type TaskExecutor interface {
	Execute(ctx context.Context, task *Task) error
}

// Config holds task runner configuration
type Config struct {
	Workers      int
	QueueSize    int
	TaskTimeout  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxRetryBackoff caps the exponential backoff delay
	MaxRetryBackoff time.Duration
}

// DefaultConfig returns default runner configuration
func DefaultConfig() Config {
	return Config{
		Workers:         4,
		QueueSize:       256,
		TaskTimeout:     15 * time.Minute,
		MaxRetries:      3,
		RetryBackoff:    30 * time.Second,
		MaxRetryBackoff: time.Hour,
	}
}

// Runner is the asynchronous execution substrate: a worker pool pulling
// tasks from a queue, with per-key deduplication, delayed execution, and
// retry with exponential backoff.
type Runner struct {
	cfg      Config
	executor TaskExecutor
	logger   *zap.Logger

	tasks  chan *Task
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	isRunning bool
	// pending holds outstanding tasks by dedup key; a key stays held from
	// Submit until terminal completion so overlapping triggers collapse
	pending map[string]*Task
	timers  map[uuid.UUID]*time.Timer
}

// NewRunner creates a task runner
func NewRunner(cfg Config, executor TaskExecutor, logger *zap.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultConfig().TaskTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	if cfg.MaxRetryBackoff <= 0 {
		cfg.MaxRetryBackoff = DefaultConfig().MaxRetryBackoff
	}
	return &Runner{
		cfg:      cfg,
		executor: executor,
		logger:   logger.Named("scheduler"),
		tasks:    make(chan *Task, cfg.QueueSize),
		pending:  make(map[string]*Task),
		timers:   make(map[uuid.UUID]*time.Timer),
	}
}

// Start starts the worker pool
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = true
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}

	r.logger.Info("Task runner started",
		zap.Int("workers", r.cfg.Workers),
		zap.Duration("task_timeout", r.cfg.TaskTimeout),
	)
	return nil
}

// Stop gracefully stops the runner, waiting for in-flight tasks up to the
// context deadline
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	for id, timer := range r.timers {
		timer.Stop()
		delete(r.timers, id)
	}
	// Closing under the lock serializes with enqueue, so a racing timer
	// can never send on a closed channel.
	close(r.tasks)
	r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Task runner stopped gracefully")
		return nil
	case <-ctx.Done():
		r.logger.Warn("Task runner stop timed out")
		return ctx.Err()
	}
}

// Submit schedules a task. A task whose dedup key is already outstanding is
// rejected with ErrDuplicateTask; a task with NextRunAt in the future is
// held back until due.
func (r *Runner) Submit(task *Task) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return ErrRunnerNotRunning
	}
	key := task.DedupKey()
	if _, exists := r.pending[key]; exists {
		r.mu.Unlock()
		return ErrDuplicateTask
	}
	r.pending[key] = task
	r.mu.Unlock()

	if delay := timeUntil(task.NextRunAt); delay > 0 {
		r.armTimer(task, delay)
		r.logger.Debug("Task scheduled with delay",
			zap.String("task_id", task.ID.String()),
			zap.String("kind", string(task.Kind)),
			zap.Duration("delay", delay),
		)
		return nil
	}

	if err := r.enqueue(task); err != nil {
		r.release(task)
		return err
	}
	return nil
}

// PendingCount reports the number of outstanding tasks
func (r *Runner) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// armTimer re-queues the task when its delay elapses
func (r *Runner) armTimer(task *Task, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isRunning {
		delete(r.pending, task.DedupKey())
		return
	}
	r.timers[task.ID] = time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.timers, task.ID)
		r.mu.Unlock()
		if err := r.enqueue(task); err != nil {
			r.logger.Warn("Failed to enqueue delayed task",
				zap.String("task_id", task.ID.String()),
				zap.Error(err),
			)
			r.release(task)
		}
	})
}

// enqueue puts a task on the worker queue without blocking
func (r *Runner) enqueue(task *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isRunning {
		return ErrRunnerNotRunning
	}

	select {
	case r.tasks <- task:
		return nil
	default:
		return ErrTaskQueueFull
	}
}

// release frees the task's dedup key
func (r *Runner) release(task *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, task.DedupKey())
}

// worker processes tasks from the queue
func (r *Runner) worker(ctx context.Context, workerID int) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-r.tasks:
			if !ok {
				return
			}
			r.processTask(ctx, task, workerID)
		}
	}
}

// processTask executes one task, scheduling a retry on failure while budget
// remains. The dedup key stays held across retries and is released only on
// terminal completion.
func (r *Runner) processTask(ctx context.Context, task *Task, workerID int) {
	// A task can surface before its due time when a timer races Stop; push
	// it back rather than running early.
	if delay := timeUntil(task.NextRunAt); delay > 10*time.Millisecond {
		r.armTimer(task, delay)
		return
	}

	task.Start()
	r.logger.Info("Processing task",
		zap.Int("worker_id", workerID),
		zap.String("task_id", task.ID.String()),
		zap.String("kind", string(task.Kind)),
		zap.String("tenant_id", task.TenantID.String()),
		zap.Int("retry_count", task.RetryCount),
	)

	taskCtx, cancel := context.WithTimeout(ctx, r.cfg.TaskTimeout)
	defer cancel()

	err := r.executor.Execute(taskCtx, task)
	if err != nil {
		task.Fail(err.Error())
		r.logger.Error("Task failed",
			zap.Int("worker_id", workerID),
			zap.String("task_id", task.ID.String()),
			zap.String("kind", string(task.Kind)),
			zap.Error(err),
		)

		if task.ShouldRetry() {
			delay := r.backoffDelay(task.RetryCount)
			task.ScheduleRetry(delay)
			r.logger.Info("Task scheduled for retry",
				zap.String("task_id", task.ID.String()),
				zap.Int("retry_count", task.RetryCount),
				zap.Int("max_retries", task.MaxRetries),
				zap.Duration("delay", delay),
			)
			r.armTimer(task, delay)
			return
		}

		r.release(task)
		return
	}

	task.Complete()
	r.release(task)
	r.logger.Info("Task completed",
		zap.Int("worker_id", workerID),
		zap.String("task_id", task.ID.String()),
		zap.String("kind", string(task.Kind)),
	)
}

// backoffDelay doubles the base delay per completed attempt, capped
func (r *Runner) backoffDelay(retryCount int) time.Duration {
	delay := r.cfg.RetryBackoff
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= r.cfg.MaxRetryBackoff {
			return r.cfg.MaxRetryBackoff
		}
	}
	return delay
}

// timeUntil returns how far in the future t is, zero for nil or past times
func timeUntil(t *time.Time) time.Duration {
	if t == nil {
		return 0
	}
	return time.Until(*t)
}
