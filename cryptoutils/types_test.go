package cryptoutils

import (
	"bytes"
	"crypto/sha512"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDigestType(t *testing.T) {
	tests := []struct {
		input    string
		expected DigestType
		wantErr  bool
	}{
		{input: "SHA-512", expected: SHA512},
		{input: "sha512", expected: SHA512},
		{input: "sha_256", expected: SHA256},
		{input: "SHA3-512", expected: SHA3_512},
		{input: "blake2b-512", expected: BLAKE2B512},
		{input: "MD5", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			dt, err := ParseDigestType(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedDigestType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, dt)
		})
	}
}

func TestDigestReader(t *testing.T) {
	data := []byte("archival object content")
	expected := sha512.Sum512(data)

	digest, size, err := DigestReader(SHA512, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(expected[:]), digest)
	assert.Equal(t, int64(len(data)), size)
}

func TestAllDigestTypesProduceDistinctSums(t *testing.T) {
	data := []byte("same bytes")
	seen := map[string]DigestType{}
	for _, dt := range []DigestType{SHA256, SHA384, SHA512, SHA3_512, BLAKE2B512} {
		assert.True(t, dt.Valid())
		sum, err := DigestBytes(dt, data)
		require.NoError(t, err)
		_, dup := seen[sum]
		assert.False(t, dup, "digest collision for %s", dt)
		seen[sum] = dt
	}
}

func TestEqualDigests(t *testing.T) {
	assert.True(t, EqualDigests("ABCDEF", "abcdef"))
	assert.False(t, EqualDigests("", ""))
	assert.False(t, EqualDigests("abc", "abd"))
}
