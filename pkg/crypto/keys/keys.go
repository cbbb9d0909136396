// Package keys manages the per-user master key and the X25519 identity
// keypair used for sharing.
//
// The master key is derived from authentication-provider-issued credential
// material via PBKDF2-HMAC-SHA256 with a per-installation random salt and a
// versioned iteration count. Per-object DEKs are random and wrapped with the
// master key before they touch persistent storage; nothing derived from the
// credential is ever uploaded.
package keys

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/functionland/fulasync/pkg/crypto/content"
)

const (
	// KeySize is the master key and DEK size in bytes.
	KeySize = 32

	// SaltSize is the per-installation KDF salt size in bytes.
	SaltSize = 32

	// kdfVersion tags persisted salt records so the iteration count can be
	// raised later without breaking existing installations.
	kdfVersion = 1

	// kdfIterations is the PBKDF2 iteration count for kdfVersion 1.
	kdfIterations = 100_000
)

// Persisted record names.
const (
	recordSalt     = "kdf-salt"
	recordVerifier = "verifier"
	recordIdentity = "identity-key"
)

var (
	// ErrLocked is returned when key material is requested before Unlock.
	ErrLocked = errors.New("key provider is locked")

	// ErrInvalidCredential indicates the supplied credential material does
	// not match the persisted verifier.
	ErrInvalidCredential = errors.New("invalid credential material")
)

// Store persists small named key records (salt, verifier, wrapped identity
// key). Implementations must treat the records as opaque bytes.
type Store interface {
	// LoadKeyRecord returns the named record, or found == false if it has
	// never been written.
	LoadKeyRecord(ctx context.Context, name string) (data []byte, found bool, err error)

	// SaveKeyRecord durably writes the named record.
	SaveKeyRecord(ctx context.Context, name string, data []byte) error
}

// WrappedKey is a DEK sealed with the master key for local storage.
type WrappedKey struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
}

// Provider derives and holds the master key and identity keypair.
//
// A Provider starts locked. Unlock must be called once per session with the
// credential material supplied by the authentication collaborator; all other
// methods fail with ErrLocked until then.
//
// Thread Safety: Safe for concurrent use.
type Provider struct {
	mu        sync.RWMutex
	store     Store
	masterKey []byte
	identity  *ecdh.PrivateKey
}

// saltRecord is the persisted KDF parameter set.
type saltRecord struct {
	Version    int    `json:"version"`
	Iterations int    `json:"iterations"`
	Salt       []byte `json:"salt"`
}

// identityRecord is the persisted identity keypair. The private key is
// wrapped with the master key; only the public key is stored in clear.
type identityRecord struct {
	PublicKey  []byte     `json:"public_key"`
	PrivateKey WrappedKey `json:"private_key"`
}

// NewProvider creates a locked Provider backed by the given record store.
func NewProvider(store Store) *Provider {
	return &Provider{store: store}
}

// DeriveMasterKey derives a 32-byte master key from credential material.
func DeriveMasterKey(credential, salt []byte, iterations int) []byte {
	return pbkdf2.Key(credential, salt, iterations, KeySize, sha256.New)
}

// Unlock derives the master key from the credential and loads or creates
// the identity keypair.
//
// On first use a random salt is generated and persisted together with a
// verifier; on later sessions the credential is checked against the
// verifier and ErrInvalidCredential is returned on mismatch.
func (p *Provider) Unlock(ctx context.Context, credential []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	salt, iterations, err := p.loadOrCreateSalt(ctx)
	if err != nil {
		return err
	}

	masterKey := DeriveMasterKey(credential, salt, iterations)

	if err := p.checkOrStoreVerifier(ctx, masterKey); err != nil {
		Wipe(masterKey)
		return err
	}

	p.masterKey = masterKey

	if err := p.loadOrCreateIdentity(ctx); err != nil {
		p.masterKey = nil
		Wipe(masterKey)
		return err
	}

	return nil
}

// IsUnlocked reports whether Unlock has completed successfully.
func (p *Provider) IsUnlocked() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.masterKey != nil
}

// PublicKey returns the raw X25519 public key used for sharing.
func (p *Provider) PublicKey() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.identity == nil {
		return nil, ErrLocked
	}
	return p.identity.PublicKey().Bytes(), nil
}

// PrivateKey returns the X25519 private key for unwrapping received shares.
// The key never leaves the process; callers must not persist it.
func (p *Provider) PrivateKey() (*ecdh.PrivateKey, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.identity == nil {
		return nil, ErrLocked
	}
	return p.identity, nil
}

// NewDEK generates a fresh random 32-byte data encryption key.
func (p *Provider) NewDEK() ([]byte, error) {
	dek := make([]byte, KeySize)
	if _, err := rand.Read(dek); err != nil {
		return nil, fmt.Errorf("failed to generate DEK: %w", err)
	}
	return dek, nil
}

// WrapDEK seals a DEK with the master key for local storage.
func (p *Provider) WrapDEK(dek []byte) (WrappedKey, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.masterKey == nil {
		return WrappedKey{}, ErrLocked
	}

	ciphertext, nonce, err := content.Encrypt(dek, p.masterKey)
	if err != nil {
		return WrappedKey{}, fmt.Errorf("failed to wrap DEK: %w", err)
	}

	return WrappedKey{Ciphertext: ciphertext, Nonce: nonce}, nil
}

// UnwrapDEK recovers a DEK wrapped by WrapDEK.
func (p *Provider) UnwrapDEK(w WrappedKey) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.masterKey == nil {
		return nil, ErrLocked
	}

	return content.Decrypt(w.Ciphertext, w.Nonce, p.masterKey)
}

// Wipe zeroes held key material and locks the provider again. Called at
// shutdown.
func (p *Provider) Wipe() {
	p.mu.Lock()
	defer p.mu.Unlock()
	Wipe(p.masterKey)
	p.masterKey = nil
	p.identity = nil
}

func (p *Provider) loadOrCreateSalt(ctx context.Context) ([]byte, int, error) {
	data, found, err := p.store.LoadKeyRecord(ctx, recordSalt)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load salt record: %w", err)
	}

	if found {
		var rec saltRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, 0, fmt.Errorf("corrupt salt record: %w", err)
		}
		if rec.Version != kdfVersion {
			return nil, 0, fmt.Errorf("unsupported KDF version %d", rec.Version)
		}
		return rec.Salt, rec.Iterations, nil
	}

	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, 0, fmt.Errorf("failed to generate salt: %w", err)
	}

	rec := saltRecord{Version: kdfVersion, Iterations: kdfIterations, Salt: salt}
	data, err = json.Marshal(rec)
	if err != nil {
		return nil, 0, err
	}
	if err := p.store.SaveKeyRecord(ctx, recordSalt, data); err != nil {
		return nil, 0, fmt.Errorf("failed to persist salt record: %w", err)
	}

	return salt, kdfIterations, nil
}

func (p *Provider) checkOrStoreVerifier(ctx context.Context, masterKey []byte) error {
	verifier := sha256.Sum256(masterKey)

	stored, found, err := p.store.LoadKeyRecord(ctx, recordVerifier)
	if err != nil {
		return fmt.Errorf("failed to load verifier: %w", err)
	}

	if !found {
		if err := p.store.SaveKeyRecord(ctx, recordVerifier, verifier[:]); err != nil {
			return fmt.Errorf("failed to persist verifier: %w", err)
		}
		return nil
	}

	if subtle.ConstantTimeCompare(stored, verifier[:]) != 1 {
		return ErrInvalidCredential
	}
	return nil
}

func (p *Provider) loadOrCreateIdentity(ctx context.Context) error {
	curve := ecdh.X25519()

	data, found, err := p.store.LoadKeyRecord(ctx, recordIdentity)
	if err != nil {
		return fmt.Errorf("failed to load identity record: %w", err)
	}

	if found {
		var rec identityRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("corrupt identity record: %w", err)
		}

		raw, err := content.Decrypt(rec.PrivateKey.Ciphertext, rec.PrivateKey.Nonce, p.masterKey)
		if err != nil {
			return fmt.Errorf("failed to unwrap identity key: %w", err)
		}
		defer Wipe(raw)

		priv, err := curve.NewPrivateKey(raw)
		if err != nil {
			return fmt.Errorf("corrupt identity private key: %w", err)
		}
		p.identity = priv
		return nil
	}

	priv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate identity keypair: %w", err)
	}

	raw := priv.Bytes()
	ciphertext, nonce, err := content.Encrypt(raw, p.masterKey)
	Wipe(raw)
	if err != nil {
		return fmt.Errorf("failed to wrap identity key: %w", err)
	}

	rec := identityRecord{
		PublicKey:  priv.PublicKey().Bytes(),
		PrivateKey: WrappedKey{Ciphertext: ciphertext, Nonce: nonce},
	}
	data, err = json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := p.store.SaveKeyRecord(ctx, recordIdentity, data); err != nil {
		return fmt.Errorf("failed to persist identity record: %w", err)
	}

	p.identity = priv
	return nil
}

// Wipe zeroes a byte slice in place. Nil-safe.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
