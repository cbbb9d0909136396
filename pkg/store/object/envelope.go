package object

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// Metadata keys for the encryption envelope. S3-compatible backends fold
// user metadata to lowercase, so all keys here are lowercase.
const (
	metaEncrypted           = "x-fula-encrypted"
	metaNonce               = "x-fula-nonce"
	metaOriginalFilename    = "x-fula-original-filename"
	metaFilenameEncoding    = "x-fula-filename-encoding"
	metaOriginalContentType = "x-fula-original-content-type"
	metaChunkSize           = "x-fula-chunk-size"

	filenameEncodingBase64 = "base64"
)

// Envelope describes how a stored object was encrypted and what it was
// named before upload. It travels as user metadata on the object, never
// in the object body.
type Envelope struct {
	// Encrypted is true when the object body is ciphertext.
	Encrypted bool

	// Nonce is the AES-GCM nonce for single-shot objects. Chunked objects
	// carry per-chunk nonces inline in the body and leave this empty.
	Nonce []byte

	// OriginalFilename is the client-side file name at upload time.
	OriginalFilename string

	// OriginalContentType is the MIME type of the plaintext.
	OriginalContentType string

	// ChunkSize is the plaintext chunk size of a chunk-sealed object. Zero
	// for single-shot objects.
	ChunkSize int64
}

// ToMetadata encodes the envelope as S3 user metadata. Filenames that are
// not printable ASCII are base64-encoded and flagged with an encoding
// marker, since HTTP headers cannot carry arbitrary bytes.
func (e *Envelope) ToMetadata() map[string]string {
	md := make(map[string]string, 5)
	if e.Encrypted {
		md[metaEncrypted] = "true"
	}
	if len(e.Nonce) > 0 {
		md[metaNonce] = base64.StdEncoding.EncodeToString(e.Nonce)
	}
	if e.OriginalFilename != "" {
		if isHeaderSafe(e.OriginalFilename) {
			md[metaOriginalFilename] = e.OriginalFilename
		} else {
			md[metaOriginalFilename] = base64.StdEncoding.EncodeToString([]byte(e.OriginalFilename))
			md[metaFilenameEncoding] = filenameEncodingBase64
		}
	}
	if e.OriginalContentType != "" {
		md[metaOriginalContentType] = e.OriginalContentType
	}
	if e.ChunkSize > 0 {
		md[metaChunkSize] = strconv.FormatInt(e.ChunkSize, 10)
	}
	return md
}

// EnvelopeFromMetadata decodes an envelope from object metadata. Returns
// nil when the metadata carries no envelope fields at all.
//
// Objects written by early clients used bare metadata keys without the
// x-fula- prefix; those are still readable here.
func EnvelopeFromMetadata(md map[string]string) *Envelope {
	if len(md) == 0 {
		return nil
	}

	lookup := func(key string) (string, bool) {
		if v, ok := md[key]; ok {
			return v, true
		}
		// Legacy writers omitted the prefix.
		if v, ok := md[strings.TrimPrefix(key, "x-fula-")]; ok {
			return v, true
		}
		return "", false
	}

	var env Envelope
	var found bool

	if v, ok := lookup(metaEncrypted); ok {
		env.Encrypted = v == "true"
		found = true
	}
	if v, ok := lookup(metaNonce); ok {
		if nonce, err := base64.StdEncoding.DecodeString(v); err == nil {
			env.Nonce = nonce
			found = true
		}
	}
	if v, ok := lookup(metaOriginalFilename); ok {
		env.OriginalFilename = v
		if enc, ok := lookup(metaFilenameEncoding); ok && enc == filenameEncodingBase64 {
			if name, err := base64.StdEncoding.DecodeString(v); err == nil {
				env.OriginalFilename = string(name)
			}
		}
		found = true
	}
	if v, ok := lookup(metaOriginalContentType); ok {
		env.OriginalContentType = v
		found = true
	}
	if v, ok := lookup(metaChunkSize); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			env.ChunkSize = n
			found = true
		}
	}

	if !found {
		return nil
	}
	return &env
}

// isHeaderSafe reports whether s consists only of printable ASCII, which
// is the character set user metadata values can carry verbatim.
func isHeaderSafe(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
