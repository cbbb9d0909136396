package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/functionland/fulasync/pkg/store/state"
)

// SaveTask creates or replaces a task record.
//
// The write is committed before this returns, which is what lets the queue
// processor treat a saved transition as durable.
func (s *Store) SaveTask(ctx context.Context, task *state.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if task.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	return s.setJSON(keyTask(task.ID), task)
}

// GetTask returns the task with the given ID, or state.ErrNotFound.
func (s *Store) GetTask(ctx context.Context, id string) (*state.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var task state.Task
	err := s.getJSON(keyTask(id), &task)
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("task %s: %w", id, state.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return &task, nil
}

// DeleteTask removes a task record.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.delete(keyTask(id))
}

// ListTasks returns tasks filtered by status, ordered by ID ascending.
// Task IDs are UUIDv7, so key order is creation order and no sort pass is
// needed beyond the prefix scan.
func (s *Store) ListTasks(ctx context.Context, statuses ...state.TaskStatus) ([]*state.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tasks []*state.Task
	err := s.scanPrefix(prefixTask, func(val []byte) error {
		var task state.Task
		if err := json.Unmarshal(val, &task); err != nil {
			return fmt.Errorf("corrupt task record: %w", err)
		}
		if len(statuses) == 0 || slices.Contains(statuses, task.Status) {
			tasks = append(tasks, &task)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	return tasks, nil
}

// SaveObjectKey stores the wrapped DEK record for an object.
func (s *Store) SaveObjectKey(ctx context.Context, rec *state.ObjectKeyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.setJSON(keyObjectKey(rec.Bucket, rec.Key), rec)
}

// GetObjectKey returns the wrapped DEK record for (bucket, key).
func (s *Store) GetObjectKey(ctx context.Context, bucket, key string) (*state.ObjectKeyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec state.ObjectKeyRecord
	err := s.getJSON(keyObjectKey(bucket, key), &rec)
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("object key for %s/%s: %w", bucket, key, state.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object key: %w", err)
	}
	return &rec, nil
}

// SaveMultipartSession records an in-flight multipart upload.
func (s *Store) SaveMultipartSession(ctx context.Context, session *state.MultipartSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.setJSON(keySession(session.UploadID), session)
}

// DeleteMultipartSession removes a session record.
func (s *Store) DeleteMultipartSession(ctx context.Context, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.delete(keySession(uploadID))
}

// ListMultipartSessions returns all recorded sessions.
func (s *Store) ListMultipartSessions(ctx context.Context) ([]*state.MultipartSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var sessions []*state.MultipartSession
	err := s.scanPrefix(prefixSession, func(val []byte) error {
		var session state.MultipartSession
		if err := json.Unmarshal(val, &session); err != nil {
			return fmt.Errorf("corrupt session record: %w", err)
		}
		sessions = append(sessions, &session)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list multipart sessions: %w", err)
	}

	return sessions, nil
}

// LoadKeyRecord returns the named key-material record.
func (s *Store) LoadKeyRecord(ctx context.Context, name string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyRecord(name))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load key record %s: %w", name, err)
	}
	return data, true, nil
}

// SaveKeyRecord durably writes the named key-material record.
func (s *Store) SaveKeyRecord(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyRecord(name), data)
	})
}
