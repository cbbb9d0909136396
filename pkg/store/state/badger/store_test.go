package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/functionland/fulasync/pkg/share"
	"github.com/functionland/fulasync/pkg/store/state"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), Config{Path: t.TempDir(), SyncWrites: false})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testTask(id string, status state.TaskStatus) *state.Task {
	return &state.Task{
		ID:        id,
		LocalPath: "/tmp/photo.jpg",
		Bucket:    "fula-user",
		Key:       "photos/photo.jpg",
		Direction: state.DirectionUpload,
		Encrypt:   true,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
}

func TestTaskRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	task := testTask("0190a000-0000-7000-8000-000000000001", state.TaskPending)
	require.NoError(t, store.SaveTask(ctx, task))

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, task.Bucket, got.Bucket)
	assert.Equal(t, task.Key, got.Key)
	assert.Equal(t, state.TaskPending, got.Status)
	assert.True(t, got.Encrypt)
}

func TestGetTask_NotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetTask(context.Background(), "missing")
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestListTasks_FilterAndOrder(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	// UUIDv7-style IDs: lexical order is creation order.
	ids := []string{
		"0190a000-0000-7000-8000-000000000001",
		"0190a000-0000-7000-8000-000000000002",
		"0190a000-0000-7000-8000-000000000003",
	}
	require.NoError(t, store.SaveTask(ctx, testTask(ids[0], state.TaskPending)))
	require.NoError(t, store.SaveTask(ctx, testTask(ids[1], state.TaskFailed)))
	require.NoError(t, store.SaveTask(ctx, testTask(ids[2], state.TaskPending)))

	pending, err := store.ListTasks(ctx, state.TaskPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, ids[0], pending[0].ID)
	assert.Equal(t, ids[2], pending[1].ID)

	all, err := store.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestTaskSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := New(ctx, Config{Path: dir})
	require.NoError(t, err)

	task := testTask("0190a000-0000-7000-8000-00000000000a", state.TaskInProgress)
	require.NoError(t, store.SaveTask(ctx, task))
	require.NoError(t, store.Close())

	reopened, err := New(ctx, Config{Path: dir})
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskInProgress, got.Status)
}

func TestObjectKeyRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	rec := &state.ObjectKeyRecord{
		Bucket:     "fula-user",
		Key:        "photos/img.jpg",
		Ciphertext: []byte{1, 2, 3},
		Nonce:      []byte{4, 5, 6},
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.SaveObjectKey(ctx, rec))

	got, err := store.GetObjectKey(ctx, "fula-user", "photos/img.jpg")
	require.NoError(t, err)
	assert.Equal(t, rec.Ciphertext, got.Ciphertext)
	assert.Equal(t, rec.Nonce, got.Nonce)

	_, err = store.GetObjectKey(ctx, "fula-user", "other.jpg")
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestMultipartSessions(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	session := &state.MultipartSession{
		UploadID:  "upload-1",
		Bucket:    "fula-user",
		Key:       "videos/large.mp4",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveMultipartSession(ctx, session))

	sessions, err := store.ListMultipartSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "upload-1", sessions[0].UploadID)

	require.NoError(t, store.DeleteMultipartSession(ctx, "upload-1"))
	sessions, err = store.ListMultipartSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	// Deleting again is not an error.
	require.NoError(t, store.DeleteMultipartSession(ctx, "upload-1"))
}

func TestKeyRecords(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, found, err := store.LoadKeyRecord(ctx, "kdf-salt")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.SaveKeyRecord(ctx, "kdf-salt", []byte("salt-bytes")))

	data, found, err := store.LoadKeyRecord(ctx, "kdf-salt")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("salt-bytes"), data)
}

func TestShareTokens(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	expiry := time.Now().UTC().Add(24 * time.Hour)
	token := &share.Token{
		ID:                 "share-1",
		OwnerPublicKey:     []byte{1},
		RecipientPublicKey: []byte{2},
		WrappedDEK:         []byte{3},
		WrapNonce:          []byte{4},
		EphemeralPublicKey: []byte{5},
		PathScope:          "/photos/vacation/",
		Bucket:             "fula-user",
		Permissions:        share.PermissionReadOnly,
		CreatedAt:          time.Now().UTC(),
		ExpiresAt:          &expiry,
	}
	require.NoError(t, store.SaveToken(ctx, token))

	got, err := store.GetToken(ctx, "share-1")
	require.NoError(t, err)
	assert.Equal(t, token.PathScope, got.PathScope)
	assert.False(t, got.Revoked)

	// Flip revocation and persist.
	got.Revoked = true
	require.NoError(t, store.SaveToken(ctx, got))

	again, err := store.GetToken(ctx, "share-1")
	require.NoError(t, err)
	assert.True(t, again.Revoked)

	_, err = store.GetToken(ctx, "missing")
	assert.ErrorIs(t, err, share.ErrTokenNotFound)
}

func TestAcceptedShares(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	rec := &share.AcceptedRecord{
		Token:         &share.Token{ID: "share-2", PathScope: "/docs/"},
		WrappedDEK:    []byte{9, 9},
		WrapNonce:     []byte{8, 8},
		AcceptedAt:    time.Now().UTC(),
		SchemaVersion: 1,
	}
	require.NoError(t, store.SaveAcceptedShare(ctx, rec))

	got, err := store.GetAcceptedShare(ctx, "share-2")
	require.NoError(t, err)
	assert.Equal(t, rec.WrappedDEK, got.WrappedDEK)

	all, err := store.ListAcceptedShares(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
