// Package state defines the durable local state consumed by the sync core:
// transfer tasks, per-object key records, and multipart upload sessions.
//
// Implementations live in subpackages (badger for persistent deployments,
// memory for tests and ephemeral runs), following the same store pairing as
// the object store side.
package state

import (
	"context"
	"errors"
	"time"
)

// TaskStatus is the lifecycle state of a sync task.
//
// Valid transitions: pending → in_progress → {completed, failed}.
// failed → pending happens only through an explicit requeue that increments
// RetryCount; terminal records are never mutated in place.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Direction is the transfer direction of a task.
type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

// Task is one unit of transfer work.
type Task struct {
	// ID is unique and time-ordered (UUIDv7), so lexical order matches
	// creation order.
	ID string `json:"id"`

	LocalPath string    `json:"local_path"`
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	Direction Direction `json:"direction"`

	// Encrypt requests client-side encryption for uploads and decryption
	// for downloads.
	Encrypt bool `json:"encrypt"`

	Status       TaskStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	RetryCount   int        `json:"retry_count"`

	// Permanent marks a terminal failure no retry can fix (authentication,
	// missing objects, quota). RetryFailed skips such tasks.
	Permanent bool `json:"permanent,omitempty"`

	// NextRetryAt gates dispatch of a requeued task until its backoff
	// delay has elapsed. Zero means immediately eligible.
	NextRetryAt time.Time `json:"next_retry_at,omitempty"`
}

// TargetKey returns the identity used to serialize tasks hitting the same
// remote object.
func (t *Task) TargetKey() string {
	return t.Bucket + "\x00" + t.Key
}

// ObjectKeyRecord stores the wrapped DEK for a self-owned encrypted object,
// keyed by (bucket, key). The DEK is sealed with the master key and never
// leaves the device in clear.
type ObjectKeyRecord struct {
	Bucket     string    `json:"bucket"`
	Key        string    `json:"key"`
	Ciphertext []byte    `json:"ciphertext"`
	Nonce      []byte    `json:"nonce"`
	CreatedAt  time.Time `json:"created_at"`
}

// MultipartSession records an in-flight multipart upload so sessions
// orphaned by a crash can be aborted on the next startup.
type MultipartSession struct {
	UploadID  string    `json:"upload_id"`
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the durable state store.
//
// Writes must be visible to subsequent reads once the call returns; the
// queue processor relies on this to persist every task transition before
// dispatching the next task.
type Store interface {
	// SaveTask creates or replaces a task record.
	SaveTask(ctx context.Context, task *Task) error

	// GetTask returns the task with the given ID, or ErrNotFound.
	GetTask(ctx context.Context, id string) (*Task, error)

	// DeleteTask removes a task record. Deleting a missing task is not an
	// error.
	DeleteTask(ctx context.Context, id string) error

	// ListTasks returns tasks with any of the given statuses (all tasks if
	// none given), ordered by ID ascending (== creation order).
	ListTasks(ctx context.Context, statuses ...TaskStatus) ([]*Task, error)

	// SaveObjectKey stores the wrapped DEK record for an object.
	SaveObjectKey(ctx context.Context, rec *ObjectKeyRecord) error

	// GetObjectKey returns the wrapped DEK record for (bucket, key), or
	// ErrNotFound.
	GetObjectKey(ctx context.Context, bucket, key string) (*ObjectKeyRecord, error)

	// SaveMultipartSession records an in-flight multipart upload.
	SaveMultipartSession(ctx context.Context, session *MultipartSession) error

	// DeleteMultipartSession removes a session record. Missing sessions are
	// not an error.
	DeleteMultipartSession(ctx context.Context, uploadID string) error

	// ListMultipartSessions returns all recorded sessions.
	ListMultipartSessions(ctx context.Context) ([]*MultipartSession, error)

	// LoadKeyRecord and SaveKeyRecord persist small named key-material
	// records (KDF salt, verifier, wrapped identity key).
	LoadKeyRecord(ctx context.Context, name string) ([]byte, bool, error)
	SaveKeyRecord(ctx context.Context, name string, data []byte) error

	// Close flushes and releases the store.
	Close() error
}
