// Package syncer implements the durable sync task queue.
//
// Tasks are persisted before they are worked on and every status
// transition is written through to the state store, so a crash at any
// point leaves a queue that can be restored on the next start. Processing
// is FIFO with one exception: tasks addressing the same remote object are
// serialized so two workers never race on one target.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/functionland/fulasync/internal/logger"
	"github.com/functionland/fulasync/pkg/store/state"
	"github.com/functionland/fulasync/pkg/transfer"
)

// DefaultWorkers is the number of concurrent transfer workers.
const DefaultWorkers = 3

// DefaultPollInterval is how often idle workers check for new work.
const DefaultPollInterval = time.Second

// eventBuffer bounds the events channel; slow listeners lose events
// rather than stalling the queue.
const eventBuffer = 64

// EventType labels a queue lifecycle event.
type EventType string

const (
	EventEnqueued  EventType = "enqueued"
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventRequeued  EventType = "requeued"
	EventCanceled  EventType = "canceled"
)

// Event is a queue lifecycle notification. Task is a snapshot; mutating it
// has no effect on the stored record.
type Event struct {
	Type  EventType
	Task  *state.Task
	Error string
}

// Config tunes the queue.
type Config struct {
	// Workers is the number of concurrent transfer workers in Run. Zero
	// means DefaultWorkers.
	Workers int `mapstructure:"workers"`

	// PollInterval is how often idle workers check for new work. Zero
	// means DefaultPollInterval.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Retry tunes the retry supervisor.
	Retry RetryConfig `mapstructure:"retry"`
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Transferer moves task payloads. *transfer.Engine is the production
// implementation.
type Transferer interface {
	Upload(ctx context.Context, task *state.Task, dek []byte) (*transfer.Result, error)
	Download(ctx context.Context, task *state.Task, dek []byte) (*transfer.Result, error)
}

// EnqueueRequest describes a transfer to queue.
type EnqueueRequest struct {
	LocalPath string
	Bucket    string
	Key       string
	Direction state.Direction
	Encrypt   bool
}

// Queue is the durable sync task queue.
//
// Thread Safety: Safe for concurrent use. The inFlight map serializes
// tasks per remote target; the store provides durability.
type Queue struct {
	store    state.Store
	engine   Transferer
	resolver KeyResolver
	retry    *RetrySupervisor
	metrics  Metrics
	cfg      Config

	events chan Event

	mu       sync.Mutex
	inFlight map[string]bool
	cancels  map[string]context.CancelFunc
	canceled map[string]bool
}

// NewQueue creates a queue over the given store.
//
// engine and resolver may be nil, leaving the queue unconfigured: tasks
// can still be enqueued and listed, but processing refuses to start until
// both are set via Configure.
func NewQueue(store state.Store, engine Transferer, resolver KeyResolver, cfg Config, metrics Metrics) (*Queue, error) {
	if store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Queue{
		store:    store,
		engine:   engine,
		resolver: resolver,
		retry:    NewRetrySupervisor(cfg.Retry),
		metrics:  metrics,
		cfg:      cfg.withDefaults(),
		events:   make(chan Event, eventBuffer),
		inFlight: make(map[string]bool),
		cancels:  make(map[string]context.CancelFunc),
		canceled: make(map[string]bool),
	}, nil
}

// Configure attaches the transfer engine and key resolver, enabling
// processing. Typically called once credentials become available.
func (q *Queue) Configure(engine Transferer, resolver KeyResolver) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.engine = engine
	q.resolver = resolver
}

// IsConfigured reports whether the queue can process tasks.
func (q *Queue) IsConfigured() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.engine != nil && q.resolver != nil
}

// Events returns the queue's event stream. Events are dropped when the
// buffer is full; the store remains the source of truth.
func (q *Queue) Events() <-chan Event {
	return q.events
}

// Enqueue persists a new pending task and returns it. Task IDs are
// time-ordered, so store order equals enqueue order.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*state.Task, error) {
	if req.Bucket == "" || req.Key == "" {
		return nil, fmt.Errorf("bucket and key are required")
	}
	if req.LocalPath == "" {
		return nil, fmt.Errorf("local path is required")
	}
	if req.Direction != state.DirectionUpload && req.Direction != state.DirectionDownload {
		return nil, fmt.Errorf("invalid direction %q", req.Direction)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate task ID: %w", err)
	}

	task := &state.Task{
		ID:        id.String(),
		LocalPath: req.LocalPath,
		Bucket:    req.Bucket,
		Key:       req.Key,
		Direction: req.Direction,
		Encrypt:   req.Encrypt,
		Status:    state.TaskPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := q.store.SaveTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}

	q.metrics.TaskEnqueued()
	q.emit(EventEnqueued, task, nil)
	logger.Debug("enqueued %s task %s: %s -> %s/%s", task.Direction, task.ID, task.LocalPath, task.Bucket, task.Key)
	return snapshot(task), nil
}

// Get returns a task by ID.
func (q *Queue) Get(ctx context.Context, id string) (*state.Task, error) {
	return q.store.GetTask(ctx, id)
}

// List returns tasks with the given statuses, all tasks if none given.
func (q *Queue) List(ctx context.Context, statuses ...state.TaskStatus) ([]*state.Task, error) {
	return q.store.ListTasks(ctx, statuses...)
}

// Cancel removes a task from the queue. Pending tasks are deleted
// immediately. In-progress tasks are canceled cooperatively: the running
// transfer observes its context and stops at the next part boundary, after
// which the worker deletes the record. Finished and failed tasks cannot be
// canceled.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	task, err := q.store.GetTask(ctx, id)
	if err != nil {
		return err
	}

	switch task.Status {
	case state.TaskPending:
		if err := q.store.DeleteTask(ctx, id); err != nil {
			return fmt.Errorf("failed to delete task %s: %w", id, err)
		}
		q.emit(EventCanceled, task, nil)
		return nil
	case state.TaskInProgress:
		q.mu.Lock()
		cancel, running := q.cancels[id]
		if running {
			q.canceled[id] = true
		}
		q.mu.Unlock()
		if !running {
			return fmt.Errorf("task %s is not running in this processor", id)
		}
		cancel()
		return nil
	default:
		return fmt.Errorf("task %s is %s; only pending or in-progress tasks can be canceled", id, task.Status)
	}
}

// RetryFailed requeues failed tasks still eligible for retry, each with a
// fresh retry budget. Tasks that failed permanently are skipped: another
// attempt cannot succeed without outside intervention, so only re-enqueuing
// the task makes it run again. Returns how many tasks were requeued.
func (q *Queue) RetryFailed(ctx context.Context) (int, error) {
	failed, err := q.store.ListTasks(ctx, state.TaskFailed)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, task := range failed {
		if task.Permanent {
			continue
		}
		task.Status = state.TaskPending
		task.RetryCount = 0
		task.NextRetryAt = time.Time{}
		task.ErrorMessage = ""
		task.StartedAt = nil
		task.CompletedAt = nil
		if err := q.store.SaveTask(ctx, task); err != nil {
			return requeued, fmt.Errorf("failed to requeue task %s: %w", task.ID, err)
		}
		requeued++
		q.emit(EventRequeued, task, nil)
	}
	return requeued, nil
}

// RestoreQueue resets tasks left in_progress by a crash back to pending.
// Called once at startup before processing begins. Returns how many tasks
// were restored.
func (q *Queue) RestoreQueue(ctx context.Context) (int, error) {
	stuck, err := q.store.ListTasks(ctx, state.TaskInProgress)
	if err != nil {
		return 0, err
	}

	for _, task := range stuck {
		task.Status = state.TaskPending
		task.StartedAt = nil
		if err := q.store.SaveTask(ctx, task); err != nil {
			return 0, fmt.Errorf("failed to restore task %s: %w", task.ID, err)
		}
		logger.Info("restored interrupted task %s (%s %s/%s)", task.ID, task.Direction, task.Bucket, task.Key)
	}
	return len(stuck), nil
}

// emit sends an event without blocking. Task is snapshotted so listeners
// never see later mutations.
func (q *Queue) emit(t EventType, task *state.Task, err error) {
	ev := Event{Type: t, Task: snapshot(task)}
	if err != nil {
		ev.Error = err.Error()
	}
	select {
	case q.events <- ev:
	default:
	}
}

func snapshot(task *state.Task) *state.Task {
	clone := *task
	return &clone
}
