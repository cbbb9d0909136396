package share

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/functionland/fulasync/internal/logger"
	"github.com/functionland/fulasync/pkg/crypto/content"
	"github.com/functionland/fulasync/pkg/crypto/keys"
	"github.com/functionland/fulasync/pkg/crypto/wrap"
)

// ShareLinkScheme prefixes encoded tokens for URL and QR transport.
const ShareLinkScheme = "fula://share/"

// DefaultQRSize is the edge length in pixels of generated QR codes.
const DefaultQRSize = 256

// Manager creates, accepts, and revokes share tokens.
//
// The owner side wraps an object DEK to a recipient's public key and hands
// the resulting token out of band. The recipient side validates the token,
// recovers the DEK with its identity key, and stores it re-wrapped under
// its own master key. The raw DEK never touches persistent storage on
// either side.
type Manager struct {
	provider *keys.Provider
	store    TokenStore
}

// NewManager creates a share manager. The provider must be unlocked before
// any operation that touches key material.
func NewManager(provider *keys.Provider, store TokenStore) (*Manager, error) {
	if provider == nil {
		return nil, fmt.Errorf("key provider is required")
	}
	if store == nil {
		return nil, fmt.Errorf("token store is required")
	}
	return &Manager{provider: provider, store: store}, nil
}

// CreateShareParams describes a share to create.
type CreateShareParams struct {
	// PathScope is the rooted path prefix the share grants access to.
	PathScope string

	// Bucket is the bucket holding the shared objects.
	Bucket string

	// RecipientPublicKey is the recipient's X25519 identity public key.
	RecipientPublicKey []byte

	// DEK is the content key covering the shared scope.
	DEK []byte

	// Permissions is the access level granted.
	Permissions Permission

	// ExpiresAt is an optional expiry. Nil shares never expire.
	ExpiresAt *time.Time

	// Label is an optional human-readable note.
	Label string
}

// CreateShare wraps the DEK for the recipient and persists the resulting
// token on the owner side.
func (m *Manager) CreateShare(ctx context.Context, p CreateShareParams) (*Token, error) {
	if p.PathScope == "" {
		return nil, fmt.Errorf("path scope is required")
	}
	if p.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if !p.Permissions.Valid() {
		return nil, fmt.Errorf("invalid permission %q", p.Permissions)
	}
	if len(p.DEK) != content.KeySize {
		return nil, fmt.Errorf("DEK must be %d bytes", content.KeySize)
	}

	ownerPub, err := m.provider.PublicKey()
	if err != nil {
		return nil, err
	}

	wrapped, ephemeralPub, err := wrap.ForRecipient(p.DEK, p.RecipientPublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap DEK for recipient: %w", err)
	}

	token := &Token{
		ID:                 uuid.NewString(),
		OwnerPublicKey:     ownerPub,
		RecipientPublicKey: p.RecipientPublicKey,
		WrappedDEK:         wrapped.Ciphertext,
		WrapNonce:          wrapped.Nonce,
		EphemeralPublicKey: ephemeralPub,
		PathScope:          p.PathScope,
		Bucket:             p.Bucket,
		Permissions:        p.Permissions,
		Label:              p.Label,
		CreatedAt:          time.Now().UTC(),
		ExpiresAt:          p.ExpiresAt,
	}

	if err := m.store.SaveToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to persist share token: %w", err)
	}

	logger.Info("created share %s: scope=%s bucket=%s perms=%s", token.ID, token.PathScope, token.Bucket, token.Permissions)
	return token, nil
}

// AcceptShare validates an encoded token, recovers its DEK with the local
// identity key, and persists the share with the DEK re-wrapped under the
// local master key. The returned AcceptedShare carries the raw DEK; the
// caller wipes it when done.
func (m *Manager) AcceptShare(ctx context.Context, encoded string) (*AcceptedShare, error) {
	token, err := Decode(encoded)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if token.Revoked {
		return nil, ErrShareRevoked
	}
	if token.IsExpired(now) {
		return nil, ErrShareExpired
	}

	priv, err := m.provider.PrivateKey()
	if err != nil {
		return nil, err
	}

	dek, err := wrap.Unwrap(wrap.Wrapped{
		Ciphertext: token.WrappedDEK,
		Nonce:      token.WrapNonce,
	}, token.EphemeralPublicKey, priv)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap shared DEK: %w", err)
	}

	rewrapped, err := m.provider.WrapDEK(dek)
	if err != nil {
		keys.Wipe(dek)
		return nil, err
	}

	accepted := &AcceptedShare{
		Token:      token,
		DEK:        dek,
		AcceptedAt: now.UTC(),
	}
	rec := &AcceptedRecord{
		Token:         token,
		WrappedDEK:    rewrapped.Ciphertext,
		WrapNonce:     rewrapped.Nonce,
		AcceptedAt:    accepted.AcceptedAt,
		SchemaVersion: acceptedSchemaVersion,
	}
	if err := m.store.SaveAcceptedShare(ctx, rec); err != nil {
		keys.Wipe(dek)
		return nil, fmt.Errorf("failed to persist accepted share: %w", err)
	}

	logger.Info("accepted share %s: scope=%s bucket=%s", token.ID, token.PathScope, token.Bucket)
	return accepted, nil
}

// RevokeShare marks a token revoked on the owner side. Copies of the token
// already handed out stop validating wherever this record is consulted,
// but a recipient that extracted the DEK keeps it; revocation cannot reach
// into other devices.
func (m *Manager) RevokeShare(ctx context.Context, id string) error {
	token, err := m.store.GetToken(ctx, id)
	if err != nil {
		return err
	}
	if token.Revoked {
		return nil
	}

	token.Revoked = true
	if err := m.store.SaveToken(ctx, token); err != nil {
		return fmt.Errorf("failed to persist revocation of share %s: %w", id, err)
	}

	logger.Info("revoked share %s", id)
	return nil
}

// ListShares returns all owner-side tokens.
func (m *Manager) ListShares(ctx context.Context) ([]*Token, error) {
	return m.store.ListTokens(ctx)
}

// ListAccepted returns all recipient-side accepted shares.
func (m *Manager) ListAccepted(ctx context.Context) ([]*AcceptedRecord, error) {
	return m.store.ListAcceptedShares(ctx)
}

// ShareLink renders a token as a fula:// URI.
func ShareLink(t *Token) (string, error) {
	encoded, err := t.Encode()
	if err != nil {
		return "", err
	}
	return ShareLinkScheme + encoded, nil
}

// ParseShareLink decodes a fula:// share URI back into a token.
func ParseShareLink(link string) (*Token, error) {
	if !strings.HasPrefix(link, ShareLinkScheme) {
		return nil, fmt.Errorf("%w: unexpected scheme", ErrMalformedToken)
	}
	return Decode(strings.TrimPrefix(link, ShareLinkScheme))
}

// QRCode renders a token's share link as a PNG image. size is the edge
// length in pixels; zero means DefaultQRSize.
func QRCode(t *Token, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultQRSize
	}
	link, err := ShareLink(t)
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(link, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to render share QR code: %w", err)
	}
	return png, nil
}
