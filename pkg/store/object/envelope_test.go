package object

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env := &Envelope{
		Encrypted:           true,
		Nonce:               []byte("abcdefghijkl"),
		OriginalFilename:    "notes.txt",
		OriginalContentType: "text/plain",
	}

	md := env.ToMetadata()
	assert.Equal(t, "true", md["x-fula-encrypted"])
	assert.Equal(t, "notes.txt", md["x-fula-original-filename"])
	assert.NotContains(t, md, "x-fula-filename-encoding")

	got := EnvelopeFromMetadata(md)
	require.NotNil(t, got)
	assert.Equal(t, env, got)
}

func TestEnvelopeNonASCIIFilename(t *testing.T) {
	env := &Envelope{OriginalFilename: "résumé 2026.pdf"}

	md := env.ToMetadata()
	assert.Equal(t, filenameEncodingBase64, md["x-fula-filename-encoding"])
	decoded, err := base64.StdEncoding.DecodeString(md["x-fula-original-filename"])
	require.NoError(t, err)
	assert.Equal(t, "résumé 2026.pdf", string(decoded))

	got := EnvelopeFromMetadata(md)
	require.NotNil(t, got)
	assert.Equal(t, "résumé 2026.pdf", got.OriginalFilename)
}

func TestEnvelopeControlCharsInFilename(t *testing.T) {
	env := &Envelope{OriginalFilename: "bad\nname"}
	md := env.ToMetadata()
	assert.Equal(t, filenameEncodingBase64, md["x-fula-filename-encoding"])
	assert.Equal(t, "bad\nname", EnvelopeFromMetadata(md).OriginalFilename)
}

func TestEnvelopeFromLegacyMetadata(t *testing.T) {
	// Early clients wrote metadata keys without the x-fula- prefix.
	md := map[string]string{
		"encrypted":         "true",
		"nonce":             base64.StdEncoding.EncodeToString([]byte("legacynonce!")),
		"original-filename": "old.doc",
	}

	got := EnvelopeFromMetadata(md)
	require.NotNil(t, got)
	assert.True(t, got.Encrypted)
	assert.Equal(t, []byte("legacynonce!"), got.Nonce)
	assert.Equal(t, "old.doc", got.OriginalFilename)
}

func TestEnvelopeFromUnrelatedMetadata(t *testing.T) {
	assert.Nil(t, EnvelopeFromMetadata(nil))
	assert.Nil(t, EnvelopeFromMetadata(map[string]string{"cache-control": "no-store"}))
}

func TestEnvelopeEmptyFieldsOmitted(t *testing.T) {
	env := &Envelope{Encrypted: false}
	assert.Empty(t, env.ToMetadata())
}
