package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/functionland/fulasync/internal/logger"
	"github.com/functionland/fulasync/pkg/crypto/keys"
	"github.com/functionland/fulasync/pkg/store/state"
)

// ErrNotConfigured is returned when processing is attempted before the
// queue has a transfer engine and key resolver.
var ErrNotConfigured = errors.New("queue is not configured for processing")

// WorkResult summarizes a bounded processing pass.
type WorkResult struct {
	// Processed is the number of tasks that completed successfully.
	Processed int

	// Failed is the number of tasks that failed, whether requeued or
	// marked failed for good.
	Failed int

	// Remaining is the number of pending tasks left when the pass ended.
	Remaining int
}

// ProcessOnce claims and runs the single oldest eligible pending task.
// Returns false when no task is eligible. Task-level failures are recorded
// on the task, not returned; the error return is reserved for store
// failures, which halt processing.
func (q *Queue) ProcessOnce(ctx context.Context) (bool, error) {
	claimed, _, err := q.runNext(ctx)
	return claimed, err
}

// ProcessPendingWork drains eligible pending tasks until the queue is
// empty or the time budget runs out. Designed for host platforms that
// grant short background execution windows.
func (q *Queue) ProcessPendingWork(ctx context.Context, budget time.Duration) (WorkResult, error) {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var result WorkResult
	for {
		claimed, succeeded, err := q.runNext(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			return result, err
		}
		if !claimed {
			break
		}
		if succeeded {
			result.Processed++
		} else if ctx.Err() == nil {
			result.Failed++
		}
		if ctx.Err() != nil {
			// The budget expired mid-task; the task was unclaimed, not
			// failed.
			break
		}
	}

	pending, err := q.store.ListTasks(context.WithoutCancel(ctx), state.TaskPending)
	if err != nil {
		return result, err
	}
	result.Remaining = len(pending)
	q.metrics.SetQueueDepth(len(pending))
	return result, nil
}

// Run processes the queue with a pool of workers until ctx is canceled.
// Store write failures are fatal: continuing without durable transitions
// would break crash recovery, so Run returns the error instead.
func (q *Queue) Run(ctx context.Context) error {
	if !q.IsConfigured() {
		return ErrNotConfigured
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fatal := make(chan error, q.cfg.Workers)
	done := make(chan struct{})

	var workers int
	for w := 0; w < q.cfg.Workers; w++ {
		workers++
		go func() {
			defer func() { done <- struct{}{} }()
			for {
				claimed, _, err := q.runNext(ctx)
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return
					}
					fatal <- err
					return
				}
				if !claimed {
					select {
					case <-time.After(q.cfg.PollInterval):
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	var firstErr error
	select {
	case firstErr = <-fatal:
		cancel()
	case <-ctx.Done():
	}

	for i := 0; i < workers; i++ {
		<-done
	}
	return firstErr
}

// runNext claims the oldest eligible pending task and processes it.
// Returns claimed=false when nothing is eligible, succeeded for the task
// outcome, and a non-nil error only for store failures or cancellation.
func (q *Queue) runNext(ctx context.Context) (claimed, succeeded bool, err error) {
	task, err := q.claim(ctx)
	if err != nil || task == nil {
		return false, false, err
	}
	taskCtx, cancel := q.register(ctx, task.ID)
	defer cancel()
	defer q.release(task)

	succeeded, err = q.processTask(taskCtx, task)
	return true, succeeded, err
}

// register derives the task's own cancelable context so Cancel can stop one
// running transfer without touching the worker pool's shutdown context.
func (q *Queue) register(ctx context.Context, id string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.cancels[id] = cancel
	q.mu.Unlock()
	return ctx, cancel
}

// takeCanceled consumes the task's cancellation marker, distinguishing an
// explicit Cancel from a pool shutdown.
func (q *Queue) takeCanceled(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	was := q.canceled[id]
	delete(q.canceled, id)
	return was
}

// claim finds the oldest pending task whose backoff has elapsed and whose
// target object has no task in flight, and transitions it to in_progress.
// The transition is persisted before the task is handed to a worker.
func (q *Queue) claim(ctx context.Context) (*state.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.engine == nil || q.resolver == nil {
		return nil, ErrNotConfigured
	}

	pending, err := q.store.ListTasks(ctx, state.TaskPending)
	if err != nil {
		return nil, err
	}
	q.metrics.SetQueueDepth(len(pending))

	now := time.Now()
	for _, task := range pending {
		if task.NextRetryAt.After(now) {
			continue
		}
		if q.inFlight[task.TargetKey()] {
			continue
		}

		started := now.UTC()
		task.Status = state.TaskInProgress
		task.StartedAt = &started
		if err := q.store.SaveTask(ctx, task); err != nil {
			return nil, fmt.Errorf("failed to claim task %s: %w", task.ID, err)
		}
		q.inFlight[task.TargetKey()] = true
		return task, nil
	}
	return nil, nil
}

func (q *Queue) release(task *state.Task) {
	q.mu.Lock()
	delete(q.inFlight, task.TargetKey())
	delete(q.cancels, task.ID)
	delete(q.canceled, task.ID)
	q.mu.Unlock()
}

// processTask runs one claimed task end to end and persists its outcome.
func (q *Queue) processTask(ctx context.Context, task *state.Task) (bool, error) {
	q.emit(EventStarted, task, nil)

	q.mu.Lock()
	engine, resolver := q.engine, q.resolver
	q.mu.Unlock()

	var dek []byte
	var runErr error
	if task.Encrypt {
		dek, runErr = resolver.DEKFor(ctx, task)
	}
	if runErr == nil {
		switch task.Direction {
		case state.DirectionUpload:
			_, runErr = engine.Upload(ctx, task, dek)
		case state.DirectionDownload:
			_, runErr = engine.Download(ctx, task, dek)
		default:
			runErr = fmt.Errorf("unknown direction %q", task.Direction)
		}
	}
	if dek != nil {
		keys.Wipe(dek)
	}

	if runErr == nil {
		return true, q.complete(ctx, task)
	}
	return false, q.fail(ctx, task, runErrOrCtx(ctx, runErr))
}

func (q *Queue) complete(ctx context.Context, task *state.Task) error {
	completed := time.Now().UTC()
	task.Status = state.TaskCompleted
	task.CompletedAt = &completed
	task.ErrorMessage = ""
	if err := q.store.SaveTask(context.WithoutCancel(ctx), task); err != nil {
		return fmt.Errorf("failed to record completion of task %s: %w", task.ID, err)
	}

	q.metrics.TaskCompleted(completed.Sub(task.CreatedAt))
	q.emit(EventCompleted, task, nil)
	logger.Info("task %s completed: %s %s/%s", task.ID, task.Direction, task.Bucket, task.Key)
	return nil
}

// fail records a task failure, requeueing with backoff when the retry
// supervisor allows it. An explicit Cancel deletes the task; a pool
// shutdown puts it back to pending with no retry charge, since the run was
// interrupted, not refused.
func (q *Queue) fail(ctx context.Context, task *state.Task, runErr error) error {
	store := context.WithoutCancel(ctx)

	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
		if q.takeCanceled(task.ID) {
			if err := q.store.DeleteTask(store, task.ID); err != nil {
				return fmt.Errorf("failed to delete canceled task %s: %w", task.ID, err)
			}
			q.emit(EventCanceled, task, nil)
			logger.Info("task %s canceled: %s %s/%s", task.ID, task.Direction, task.Bucket, task.Key)
			return nil
		}

		task.Status = state.TaskPending
		task.StartedAt = nil
		if err := q.store.SaveTask(store, task); err != nil {
			return fmt.Errorf("failed to unclaim task %s: %w", task.ID, err)
		}
		return nil
	}

	if q.retry.ShouldRetry(runErr, task.RetryCount) {
		delay := q.retry.NextDelay(task.RetryCount)
		task.Status = state.TaskPending
		task.StartedAt = nil
		task.RetryCount++
		task.NextRetryAt = time.Now().Add(delay)
		task.ErrorMessage = runErr.Error()
		if err := q.store.SaveTask(store, task); err != nil {
			return fmt.Errorf("failed to requeue task %s: %w", task.ID, err)
		}

		q.metrics.TaskRequeued()
		q.emit(EventRequeued, task, runErr)
		logger.Warn("task %s failed (attempt %d/%d), retrying in %s: %v",
			task.ID, task.RetryCount, q.retry.MaxRetries(), delay.Round(time.Millisecond), runErr)
		return nil
	}

	completed := time.Now().UTC()
	task.Status = state.TaskFailed
	task.CompletedAt = &completed
	task.ErrorMessage = runErr.Error()
	task.Permanent = IsPermanent(runErr)
	if err := q.store.SaveTask(store, task); err != nil {
		return fmt.Errorf("failed to record failure of task %s: %w", task.ID, err)
	}

	q.metrics.TaskFailed()
	q.emit(EventFailed, task, runErr)
	logger.Error("task %s failed permanently after %d retries: %v", task.ID, task.RetryCount, runErr)
	return nil
}

// runErrOrCtx prefers the context's verdict when the run failed because
// the context ended; transport errors wrapping a cancel vary by backend.
func runErrOrCtx(ctx context.Context, runErr error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return runErr
}
