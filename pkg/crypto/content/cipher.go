// Package content implements symmetric encryption of object payloads.
//
// All content is encrypted with AES-256-GCM under a per-object data
// encryption key (DEK). Small payloads are sealed in a single call; large
// payloads use a chunked construction where every chunk is authenticated
// independently, so no unauthenticated plaintext ever crosses a chunk
// boundary during streaming transfers.
package content

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	// KeySize is the DEK size in bytes (AES-256).
	KeySize = 32

	// NonceSize is the GCM nonce size in bytes (96 bits).
	NonceSize = 12

	// TagSize is the GCM authentication tag size in bytes.
	TagSize = 16
)

// ErrAuthenticationFailed indicates a GCM tag mismatch: the ciphertext was
// tampered with, corrupted, or decrypted with the wrong key. Callers must
// treat this as terminal for the affected object.
var ErrAuthenticationFailed = errors.New("content authentication failed")

// Encrypt seals plaintext with AES-256-GCM under the given DEK.
//
// A fresh random 96-bit nonce is generated for every call, which is what
// guarantees (key, nonce) uniqueness per DEK. The 16-byte authentication tag
// is appended to the returned ciphertext by Seal.
//
// Parameters:
//   - plaintext: Data to encrypt
//   - dek: 32-byte data encryption key
//
// Returns:
//   - ciphertext: Sealed data including the authentication tag
//   - nonce: The randomly generated nonce (needed for Decrypt)
//   - error: Key setup or entropy failures
func Encrypt(plaintext, dek []byte) (ciphertext, nonce []byte, err error) {
	aead, err := newAEAD(dek)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt opens ciphertext sealed by Encrypt.
//
// The authentication tag is verified before any plaintext is returned. A tag
// mismatch yields ErrAuthenticationFailed and no partial plaintext.
func Decrypt(ciphertext, nonce, dek []byte) ([]byte, error) {
	aead, err := newAEAD(dek)
	if err != nil {
		return nil, err
	}

	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("invalid nonce size %d: %w", len(nonce), ErrAuthenticationFailed)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}

	return plaintext, nil
}

func newAEAD(dek []byte) (cipher.AEAD, error) {
	if len(dek) != KeySize {
		return nil, fmt.Errorf("invalid DEK size: expected %d bytes, got %d", KeySize, len(dek))
	}

	block, err := aes.NewCipher(dek)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return aead, nil
}
