// Package wrap implements HPKE-style wrapping of data encryption keys for
// a recipient's X25519 public key.
//
// A fresh ephemeral X25519 keypair is generated per wrap. The DEK is sealed
// with AES-256-GCM under a key derived (HKDF-SHA256) from the ECDH shared
// secret between the ephemeral private key and the recipient's public key.
// The owner's long-term private key never participates in the exchange, so
// compromise of one share's ephemeral secret exposes neither the owner's
// keys nor any other share's DEK.
package wrap

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// PublicKeySize is the size of an X25519 public key in bytes.
	PublicKeySize = 32

	// nonceSize is the GCM nonce size in bytes.
	nonceSize = 12

	// hkdfInfo is the domain separation context for the wrap KDF. Changing
	// it invalidates all existing wrapped DEKs, so it is versioned.
	hkdfInfo = "fulasync/dek-wrap/v1"
)

// ErrUnwrapFailed indicates the wrapped DEK could not be recovered: wrong
// private key, tampered ciphertext, or malformed ephemeral key.
var ErrUnwrapFailed = errors.New("key unwrap failed")

// Wrapped is a DEK sealed for a single recipient.
type Wrapped struct {
	// Ciphertext is the sealed DEK including the GCM tag.
	Ciphertext []byte

	// Nonce is the GCM nonce used to seal the DEK.
	Nonce []byte
}

// ForRecipient wraps a DEK for the holder of recipientPub.
//
// Returns the wrapped DEK and the ephemeral public key the recipient needs
// for unwrapping. The ephemeral private key is discarded before returning.
func ForRecipient(dek []byte, recipientPub []byte) (Wrapped, []byte, error) {
	curve := ecdh.X25519()

	peer, err := curve.NewPublicKey(recipientPub)
	if err != nil {
		return Wrapped{}, nil, fmt.Errorf("invalid recipient public key: %w", err)
	}

	ephemeral, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return Wrapped{}, nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	secret, err := ephemeral.ECDH(peer)
	if err != nil {
		return Wrapped{}, nil, fmt.Errorf("ECDH failed: %w", err)
	}

	kek, err := deriveKEK(secret)
	if err != nil {
		return Wrapped{}, nil, err
	}

	aead, err := newAEAD(kek)
	if err != nil {
		return Wrapped{}, nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Wrapped{}, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return Wrapped{
		Ciphertext: aead.Seal(nil, nonce, dek, nil),
		Nonce:      nonce,
	}, ephemeral.PublicKey().Bytes(), nil
}

// Unwrap recovers a DEK wrapped by ForRecipient using the recipient's
// private key. Any mismatch yields ErrUnwrapFailed.
func Unwrap(w Wrapped, ephemeralPub []byte, recipientPriv *ecdh.PrivateKey) ([]byte, error) {
	if recipientPriv == nil {
		return nil, ErrUnwrapFailed
	}

	curve := ecdh.X25519()

	peer, err := curve.NewPublicKey(ephemeralPub)
	if err != nil {
		return nil, ErrUnwrapFailed
	}

	secret, err := recipientPriv.ECDH(peer)
	if err != nil {
		return nil, ErrUnwrapFailed
	}

	kek, err := deriveKEK(secret)
	if err != nil {
		return nil, err
	}

	aead, err := newAEAD(kek)
	if err != nil {
		return nil, err
	}

	if len(w.Nonce) != nonceSize {
		return nil, ErrUnwrapFailed
	}

	dek, err := aead.Open(nil, w.Nonce, w.Ciphertext, nil)
	if err != nil {
		return nil, ErrUnwrapFailed
	}

	return dek, nil
}

// deriveKEK derives the AES-256 key-encryption key from an ECDH shared
// secret using HKDF-SHA256 with the versioned domain separation string.
func deriveKEK(secret []byte) ([]byte, error) {
	kek := make([]byte, 32)
	reader := hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(reader, kek); err != nil {
		return nil, fmt.Errorf("HKDF failed: %w", err)
	}
	return kek, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}
