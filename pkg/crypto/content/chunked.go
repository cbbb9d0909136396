package content

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// ChunkOverhead is the number of bytes added to each sealed chunk
// (nonce prefix plus GCM tag).
const ChunkOverhead = NonceSize + TagSize

// DefaultChunkSize is the plaintext chunk size used for streaming
// encryption of large payloads.
const DefaultChunkSize = 1 << 20 // 1 MiB

// ChunkSealer seals a sequence of plaintext chunks for streaming upload.
//
// Each chunk gets its own random nonce and is authenticated together with
// its position in the stream and a final-chunk marker. This binds chunk
// order and stream length into the ciphertext: reordering, dropping, or
// truncating chunks is detected by the matching ChunkOpener.
//
// Sealed chunk layout: nonce (12 B) || ciphertext+tag.
//
// A sealer is single-use and not safe for concurrent use; chunks must be
// sealed in stream order.
type ChunkSealer struct {
	aead  cipher.AEAD
	index uint64
	done  bool
}

// NewChunkSealer creates a sealer for one stream under the given DEK.
func NewChunkSealer(dek []byte) (*ChunkSealer, error) {
	aead, err := newAEAD(dek)
	if err != nil {
		return nil, err
	}
	return &ChunkSealer{aead: aead}, nil
}

// Seal encrypts the next chunk in the stream. final must be true for the
// last chunk and false otherwise; sealing past the final chunk is an error.
func (s *ChunkSealer) Seal(chunk []byte, final bool) ([]byte, error) {
	if s.done {
		return nil, fmt.Errorf("chunk stream already finalized")
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate chunk nonce: %w", err)
	}

	sealed := make([]byte, NonceSize, NonceSize+len(chunk)+TagSize)
	copy(sealed, nonce)
	sealed = s.aead.Seal(sealed, nonce, chunk, chunkAAD(s.index, final))

	s.index++
	if final {
		s.done = true
	}

	return sealed, nil
}

// ChunkOpener verifies and decrypts a stream sealed by ChunkSealer.
//
// Chunks must be opened in stream order. Any tag mismatch, out-of-order
// chunk, or wrong final marker yields ErrAuthenticationFailed.
type ChunkOpener struct {
	aead  cipher.AEAD
	index uint64
	done  bool
}

// NewChunkOpener creates an opener for one stream under the given DEK.
func NewChunkOpener(dek []byte) (*ChunkOpener, error) {
	aead, err := newAEAD(dek)
	if err != nil {
		return nil, err
	}
	return &ChunkOpener{aead: aead}, nil
}

// Open authenticates and decrypts the next chunk in the stream.
func (o *ChunkOpener) Open(sealed []byte, final bool) ([]byte, error) {
	if o.done {
		return nil, fmt.Errorf("chunk stream already finalized")
	}

	if len(sealed) < ChunkOverhead {
		return nil, ErrAuthenticationFailed
	}

	nonce := sealed[:NonceSize]
	plaintext, err := o.aead.Open(nil, nonce, sealed[NonceSize:], chunkAAD(o.index, final))
	if err != nil {
		return nil, ErrAuthenticationFailed
	}

	o.index++
	if final {
		o.done = true
	}

	return plaintext, nil
}

// Finalized reports whether the final chunk has been opened. A download
// that ends before Finalized returns true was truncated.
func (o *ChunkOpener) Finalized() bool {
	return o.done
}

// SealedSize returns the on-wire size of a stream of plaintextSize bytes
// sealed in chunks of chunkSize.
func SealedSize(plaintextSize int64, chunkSize int64) int64 {
	if plaintextSize == 0 {
		return ChunkOverhead
	}
	chunks := (plaintextSize + chunkSize - 1) / chunkSize
	return plaintextSize + chunks*ChunkOverhead
}

// chunkAAD builds the additional authenticated data binding a chunk to its
// stream position: 8-byte big-endian index plus a final-chunk marker byte.
func chunkAAD(index uint64, final bool) []byte {
	aad := make([]byte, 9)
	binary.BigEndian.PutUint64(aad, index)
	if final {
		aad[8] = 1
	}
	return aad
}
