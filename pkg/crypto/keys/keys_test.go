package keys

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory key record store for tests.
type memStore struct {
	records map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string][]byte)}
}

func (s *memStore) LoadKeyRecord(_ context.Context, name string) ([]byte, bool, error) {
	data, ok := s.records[name]
	return data, ok, nil
}

func (s *memStore) SaveKeyRecord(_ context.Context, name string, data []byte) error {
	s.records[name] = append([]byte{}, data...)
	return nil
}

func TestDeriveMasterKey_Deterministic(t *testing.T) {
	credential := []byte("signed-credential-material")
	salt := []byte("fixed-salt-for-test")

	key1 := DeriveMasterKey(credential, salt, 1000)
	key2 := DeriveMasterKey(credential, salt, 1000)

	if !bytes.Equal(key1, key2) {
		t.Errorf("expected same result for same inputs, got different")
	}
	if len(key1) != KeySize {
		t.Errorf("expected %d byte key, got %d", KeySize, len(key1))
	}
}

func TestDeriveMasterKey_DifferentSalts(t *testing.T) {
	credential := []byte("signed-credential-material")

	key1 := DeriveMasterKey(credential, []byte("salt-1"), 1000)
	key2 := DeriveMasterKey(credential, []byte("salt-2"), 1000)

	if bytes.Equal(key1, key2) {
		t.Errorf("expected different keys for different salts")
	}
}

func TestProvider_UnlockFirstUse(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	p := NewProvider(store)

	assert.False(t, p.IsUnlocked())

	err := p.Unlock(ctx, []byte("credential"))
	require.NoError(t, err)
	assert.True(t, p.IsUnlocked())

	// Salt, verifier and identity records were created.
	for _, name := range []string{recordSalt, recordVerifier, recordIdentity} {
		_, found, err := store.LoadKeyRecord(ctx, name)
		require.NoError(t, err)
		assert.True(t, found, "record %s should exist", name)
	}
}

func TestProvider_UnlockSecondSession(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	first := NewProvider(store)
	require.NoError(t, first.Unlock(ctx, []byte("credential")))
	pub1, err := first.PublicKey()
	require.NoError(t, err)

	// A new provider over the same store recovers the same identity.
	second := NewProvider(store)
	require.NoError(t, second.Unlock(ctx, []byte("credential")))
	pub2, err := second.PublicKey()
	require.NoError(t, err)

	assert.Equal(t, pub1, pub2)
}

func TestProvider_WrongCredential(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	first := NewProvider(store)
	require.NoError(t, first.Unlock(ctx, []byte("correct")))

	second := NewProvider(store)
	err := second.Unlock(ctx, []byte("wrong"))
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.False(t, second.IsUnlocked())
}

func TestProvider_LockedErrors(t *testing.T) {
	p := NewProvider(newMemStore())

	_, err := p.PublicKey()
	assert.ErrorIs(t, err, ErrLocked)

	_, err = p.PrivateKey()
	assert.ErrorIs(t, err, ErrLocked)

	_, err = p.WrapDEK(make([]byte, KeySize))
	assert.ErrorIs(t, err, ErrLocked)

	_, err = p.UnwrapDEK(WrappedKey{})
	assert.ErrorIs(t, err, ErrLocked)
}

func TestProvider_WrapUnwrapDEK(t *testing.T) {
	ctx := context.Background()
	p := NewProvider(newMemStore())
	require.NoError(t, p.Unlock(ctx, []byte("credential")))

	dek, err := p.NewDEK()
	require.NoError(t, err)
	require.Len(t, dek, KeySize)

	wrapped, err := p.WrapDEK(dek)
	require.NoError(t, err)
	assert.NotEqual(t, dek, wrapped.Ciphertext)

	recovered, err := p.UnwrapDEK(wrapped)
	require.NoError(t, err)
	assert.Equal(t, dek, recovered)
}

func TestProvider_NewDEKsAreUnique(t *testing.T) {
	p := NewProvider(newMemStore())

	dek1, err := p.NewDEK()
	require.NoError(t, err)
	dek2, err := p.NewDEK()
	require.NoError(t, err)

	assert.NotEqual(t, dek1, dek2)
}

func TestProvider_Wipe(t *testing.T) {
	ctx := context.Background()
	p := NewProvider(newMemStore())
	require.NoError(t, p.Unlock(ctx, []byte("credential")))

	p.Wipe()
	assert.False(t, p.IsUnlocked())

	_, err := p.PublicKey()
	assert.ErrorIs(t, err, ErrLocked)
}

func TestWipe_ZerosBuffer(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5}
	Wipe(buf)
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("expected buf[%d]==0, got %d", i, v)
		}
	}
	Wipe(nil)
}
