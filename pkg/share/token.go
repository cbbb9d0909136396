// Package share implements scoped, revocable, time-limited sharing of
// encrypted content.
//
// A share token carries a DEK wrapped for the recipient's X25519 public key
// together with the path scope and permissions it grants. Tokens travel out
// of band (link or QR code) as base64-encoded JSON and are accepted by the
// recipient's own sync core, which unwraps the DEK with its private key.
package share

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Permission is the capability level granted by a share. Capabilities are
// monotonic: full ⊇ readWrite ⊇ readOnly.
type Permission string

const (
	PermissionReadOnly  Permission = "readOnly"
	PermissionReadWrite Permission = "readWrite"
	PermissionFull      Permission = "full"
)

// rank orders permissions for monotonic capability checks.
func (p Permission) rank() int {
	switch p {
	case PermissionReadOnly:
		return 1
	case PermissionReadWrite:
		return 2
	case PermissionFull:
		return 3
	default:
		return 0
	}
}

// Valid reports whether p is a known permission level.
func (p Permission) Valid() bool {
	return p.rank() > 0
}

// Allows reports whether p grants at least the capability of required.
func (p Permission) Allows(required Permission) bool {
	return p.rank() >= required.rank() && required.rank() > 0
}

var (
	// ErrTokenNotFound is returned when a share ID is unknown.
	ErrTokenNotFound = errors.New("share token not found")

	// ErrShareExpired indicates the token's expiry has passed.
	ErrShareExpired = errors.New("share token expired")

	// ErrShareRevoked indicates the owner revoked the token.
	ErrShareRevoked = errors.New("share token revoked")

	// ErrMalformedToken indicates an encoded token that cannot be decoded.
	ErrMalformedToken = errors.New("malformed share token")
)

// Token is a capability granting a recipient access to a path scope.
//
// Binary fields are base64 inside the JSON wire form (Go's encoding/json
// does this for []byte). Tokens are immutable after creation except for the
// Revoked flag, which only the owner flips.
type Token struct {
	ID                 string     `json:"id"`
	OwnerPublicKey     []byte     `json:"ownerPublicKey"`
	RecipientPublicKey []byte     `json:"recipientPublicKey"`
	WrappedDEK         []byte     `json:"wrappedDek"`
	WrapNonce          []byte     `json:"wrapNonce"`
	EphemeralPublicKey []byte     `json:"ephemeralPublicKey"`
	PathScope          string     `json:"pathScope"`
	Bucket             string     `json:"bucket"`
	Permissions        Permission `json:"permissions"`
	Label              string     `json:"label,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	ExpiresAt          *time.Time `json:"expiresAt,omitempty"`
	Revoked            bool       `json:"isRevoked"`
}

// IsExpired reports whether the token's expiry has passed at the given time.
// Tokens without an expiry never expire.
func (t *Token) IsExpired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// IsValid reports whether the token is neither expired nor revoked.
// Revocation is authoritative only where this check is performed; a
// recipient that already extracted the DEK cannot be retroactively denied.
func (t *Token) IsValid(now time.Time) bool {
	return !t.IsExpired(now) && !t.Revoked
}

// HasAccessTo reports whether path falls inside the token's scope.
//
// The scope is normalized with a trailing separator before prefix matching,
// so "/docs2/file" is not in scope "/docs" while "/docs/file" is. The scope
// path itself is always in scope.
func (t *Token) HasAccessTo(path string) bool {
	scope := t.PathScope
	if scope == "" {
		return false
	}

	trimmed := strings.TrimSuffix(scope, "/")
	if path == trimmed || path == trimmed+"/" {
		return true
	}

	return strings.HasPrefix(path, trimmed+"/")
}

// Encode serializes the token as base64(JSON), safe for URL or QR
// transport. Decode(Encode(t)) round-trips field for field.
func (t *Token) Encode() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to encode share token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// Decode parses a token produced by Encode.
func Decode(encoded string) (*Token, error) {
	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	return &token, nil
}

// AcceptedShare is the recipient-side materialization of a token plus the
// recovered DEK. The DEK is wrapped with the recipient's master key before
// it reaches persistent storage; the in-memory copy belongs to the caller
// and should be wiped after use.
type AcceptedShare struct {
	Token      *Token    `json:"token"`
	DEK        []byte    `json:"-"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// TokenStore persists share tokens on the owner side and accepted shares on
// the recipient side.
type TokenStore interface {
	// SaveToken creates or replaces a token record.
	SaveToken(ctx context.Context, token *Token) error

	// GetToken returns the token with the given ID, or ErrTokenNotFound.
	GetToken(ctx context.Context, id string) (*Token, error)

	// ListTokens returns all stored tokens ordered by creation time.
	ListTokens(ctx context.Context) ([]*Token, error)

	// SaveAcceptedShare persists an accepted share. rec.DEK must already be
	// wrapped by the caller; implementations store the record as given.
	SaveAcceptedShare(ctx context.Context, rec *AcceptedRecord) error

	// GetAcceptedShare returns the accepted-share record for a share ID, or
	// ErrTokenNotFound.
	GetAcceptedShare(ctx context.Context, shareID string) (*AcceptedRecord, error)

	// ListAcceptedShares returns all accepted-share records.
	ListAcceptedShares(ctx context.Context) ([]*AcceptedRecord, error)
}

// AcceptedRecord is the persisted form of an accepted share: the token plus
// the DEK wrapped with the recipient's master key. The raw DEK never
// touches the store.
type AcceptedRecord struct {
	Token         *Token    `json:"token"`
	WrappedDEK    []byte    `json:"wrapped_dek"`
	WrapNonce     []byte    `json:"wrap_nonce"`
	AcceptedAt    time.Time `json:"accepted_at"`
	SchemaVersion int       `json:"schema_version"`
}

// acceptedSchemaVersion is the current AcceptedRecord layout version.
const acceptedSchemaVersion = 1
