package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/functionland/fulasync/pkg/crypto/keys"
	"github.com/functionland/fulasync/pkg/share"
	"github.com/functionland/fulasync/pkg/store/state"
)

// KeyResolver supplies the content key for an encrypted task. Unencrypted
// tasks never reach the resolver.
type KeyResolver interface {
	// DEKFor returns the DEK for the task's target object. The caller owns
	// the returned slice and wipes it after the transfer.
	DEKFor(ctx context.Context, task *state.Task) ([]byte, error)
}

// StoreKeyResolver resolves DEKs from the local state store.
//
// Uploads reuse the object's recorded DEK or mint a fresh one on first
// upload, persisting it wrapped with the master key. Downloads use the
// recorded DEK for self-owned objects and fall back to accepted shares
// whose scope covers the object.
type StoreKeyResolver struct {
	provider *keys.Provider
	store    state.Store
	shares   share.TokenStore
}

// NewKeyResolver creates a resolver. shares may be nil when share support
// is disabled; downloads then only cover self-owned objects.
func NewKeyResolver(provider *keys.Provider, store state.Store, shares share.TokenStore) (*StoreKeyResolver, error) {
	if provider == nil {
		return nil, fmt.Errorf("key provider is required")
	}
	if store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	return &StoreKeyResolver{provider: provider, store: store, shares: shares}, nil
}

func (r *StoreKeyResolver) DEKFor(ctx context.Context, task *state.Task) ([]byte, error) {
	rec, err := r.store.GetObjectKey(ctx, task.Bucket, task.Key)
	switch {
	case err == nil:
		return r.provider.UnwrapDEK(keys.WrappedKey{Ciphertext: rec.Ciphertext, Nonce: rec.Nonce})
	case !errors.Is(err, state.ErrNotFound):
		return nil, err
	}

	if task.Direction == state.DirectionUpload {
		return r.mintDEK(ctx, task)
	}
	return r.sharedDEK(ctx, task)
}

// mintDEK creates and records the DEK for an object's first upload.
func (r *StoreKeyResolver) mintDEK(ctx context.Context, task *state.Task) ([]byte, error) {
	dek, err := r.provider.NewDEK()
	if err != nil {
		return nil, err
	}

	wrapped, err := r.provider.WrapDEK(dek)
	if err != nil {
		keys.Wipe(dek)
		return nil, err
	}

	rec := &state.ObjectKeyRecord{
		Bucket:     task.Bucket,
		Key:        task.Key,
		Ciphertext: wrapped.Ciphertext,
		Nonce:      wrapped.Nonce,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.store.SaveObjectKey(ctx, rec); err != nil {
		keys.Wipe(dek)
		return nil, fmt.Errorf("failed to record object key: %w", err)
	}
	return dek, nil
}

// sharedDEK looks for an accepted share covering the object.
func (r *StoreKeyResolver) sharedDEK(ctx context.Context, task *state.Task) ([]byte, error) {
	if r.shares == nil {
		return nil, fmt.Errorf("no key recorded for %s/%s", task.Bucket, task.Key)
	}

	accepted, err := r.shares.ListAcceptedShares(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for _, rec := range accepted {
		tok := rec.Token
		if tok == nil || tok.Bucket != task.Bucket || !tok.IsValid(now) {
			continue
		}
		if !tok.HasAccessTo(scopePath(task.Key)) {
			continue
		}
		return r.provider.UnwrapDEK(keys.WrappedKey{Ciphertext: rec.WrappedDEK, Nonce: rec.WrapNonce})
	}

	return nil, fmt.Errorf("no key recorded for %s/%s and no accepted share covers it", task.Bucket, task.Key)
}

// scopePath normalizes an object key for share scope matching. Scopes are
// rooted paths while object keys have no leading separator.
func scopePath(key string) string {
	if strings.HasPrefix(key, "/") {
		return key
	}
	return "/" + key
}
