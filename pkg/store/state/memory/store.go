// Package memory implements the state store in process memory.
//
// Nothing survives a restart; this store exists for tests and for ephemeral
// runs where durability is explicitly not wanted. It implements the same
// interfaces as the badger store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/functionland/fulasync/pkg/share"
	"github.com/functionland/fulasync/pkg/store/state"
)

// Store is the in-memory state store.
//
// Thread Safety: a single read-write mutex protects all maps. Coarse but
// correct, and contention is irrelevant at test scale.
type Store struct {
	mu         sync.RWMutex
	tasks      map[string]*state.Task
	objectKeys map[string]*state.ObjectKeyRecord
	sessions   map[string]*state.MultipartSession
	tokens     map[string]*share.Token
	accepted   map[string]*share.AcceptedRecord
	keyRecords map[string][]byte
	closed     bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		tasks:      make(map[string]*state.Task),
		objectKeys: make(map[string]*state.ObjectKeyRecord),
		sessions:   make(map[string]*state.MultipartSession),
		tokens:     make(map[string]*share.Token),
		accepted:   make(map[string]*share.AcceptedRecord),
		keyRecords: make(map[string][]byte),
	}
}

func (s *Store) SaveTask(ctx context.Context, task *state.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if task.ID == "" {
		return fmt.Errorf("task ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *task
	s.tasks[task.ID] = &clone
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*state.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, state.ErrNotFound)
	}
	clone := *task
	return &clone, nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *Store) ListTasks(ctx context.Context, statuses ...state.TaskStatus) ([]*state.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	match := func(status state.TaskStatus) bool {
		if len(statuses) == 0 {
			return true
		}
		for _, want := range statuses {
			if status == want {
				return true
			}
		}
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var tasks []*state.Task
	for _, task := range s.tasks {
		if match(task.Status) {
			clone := *task
			tasks = append(tasks, &clone)
		}
	}

	// IDs are UUIDv7; lexical order is creation order.
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].ID < tasks[j].ID
	})

	return tasks, nil
}

func (s *Store) SaveObjectKey(ctx context.Context, rec *state.ObjectKeyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *rec
	s.objectKeys[rec.Bucket+"/"+rec.Key] = &clone
	return nil
}

func (s *Store) GetObjectKey(ctx context.Context, bucket, key string) (*state.ObjectKeyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.objectKeys[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("object key for %s/%s: %w", bucket, key, state.ErrNotFound)
	}
	clone := *rec
	return &clone, nil
}

func (s *Store) SaveMultipartSession(ctx context.Context, session *state.MultipartSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *session
	s.sessions[session.UploadID] = &clone
	return nil
}

func (s *Store) DeleteMultipartSession(ctx context.Context, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, uploadID)
	return nil
}

func (s *Store) ListMultipartSessions(ctx context.Context) ([]*state.MultipartSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var sessions []*state.MultipartSession
	for _, session := range s.sessions {
		clone := *session
		sessions = append(sessions, &clone)
	}
	return sessions, nil
}

func (s *Store) LoadKeyRecord(ctx context.Context, name string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.keyRecords[name]
	if !ok {
		return nil, false, nil
	}
	return append([]byte{}, data...), true, nil
}

func (s *Store) SaveKeyRecord(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyRecords[name] = append([]byte{}, data...)
	return nil
}

func (s *Store) SaveToken(ctx context.Context, token *share.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if token.ID == "" {
		return fmt.Errorf("token ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *token
	s.tokens[token.ID] = &clone
	return nil
}

func (s *Store) GetToken(ctx context.Context, id string) (*share.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[id]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", id, share.ErrTokenNotFound)
	}
	clone := *token
	return &clone, nil
}

func (s *Store) ListTokens(ctx context.Context) ([]*share.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var tokens []*share.Token
	for _, token := range s.tokens {
		clone := *token
		tokens = append(tokens, &clone)
	}
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})
	return tokens, nil
}

func (s *Store) SaveAcceptedShare(ctx context.Context, rec *share.AcceptedRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Token == nil || rec.Token.ID == "" {
		return fmt.Errorf("accepted share requires a token with an ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *rec
	s.accepted[rec.Token.ID] = &clone
	return nil
}

func (s *Store) GetAcceptedShare(ctx context.Context, shareID string) (*share.AcceptedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.accepted[shareID]
	if !ok {
		return nil, fmt.Errorf("accepted share %s: %w", shareID, share.ErrTokenNotFound)
	}
	clone := *rec
	return &clone, nil
}

func (s *Store) ListAcceptedShares(ctx context.Context) ([]*share.AcceptedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*share.AcceptedRecord
	for _, rec := range s.accepted {
		clone := *rec
		records = append(records, &clone)
	}
	return records, nil
}

// Close marks the store closed. No resources to release.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
