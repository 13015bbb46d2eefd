package cryptoutils

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// DigestType names a digest algorithm used to fingerprint stored objects.
type DigestType string

const (
	SHA256     DigestType = "SHA-256"
	SHA384     DigestType = "SHA-384"
	SHA512     DigestType = "SHA-512"
	SHA3_512   DigestType = "SHA3-512"
	BLAKE2B512 DigestType = "BLAKE2B-512"

	// DefaultDigestType is used when no algorithm is configured.
	DefaultDigestType = SHA512
)

// ErrUnsupportedDigestType is returned for algorithm names outside the supported set.
var ErrUnsupportedDigestType = errors.New("unsupported digest type")

// ParseDigestType parses an algorithm name. Matching is case-insensitive and
// tolerates a missing dash ("sha512").
func ParseDigestType(name string) (DigestType, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(name, "_", "-"))
	for _, dt := range []DigestType{SHA256, SHA384, SHA512, SHA3_512, BLAKE2B512} {
		if normalized == string(dt) || normalized == strings.ReplaceAll(string(dt), "-", "") {
			return dt, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedDigestType, name)
}

// String returns the algorithm name.
func (dt DigestType) String() string {
	return string(dt)
}

// Valid reports whether the algorithm is supported.
func (dt DigestType) Valid() bool {
	_, err := dt.New()
	return err == nil
}

// New returns a fresh hash for the algorithm.
func (dt DigestType) New() (hash.Hash, error) {
	switch dt {
	case SHA256:
		return sha256.New(), nil
	case SHA384:
		return sha512.New384(), nil
	case SHA512:
		return sha512.New(), nil
	case SHA3_512:
		return sha3.New512(), nil
	case BLAKE2B512:
		return blake2b.New512(nil)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDigestType, string(dt))
	}
}

// Digest accumulates bytes and renders the hex-encoded sum.
type Digest struct {
	h    hash.Hash
	kind DigestType
}

// NewDigest creates an empty digest for the given algorithm.
func NewDigest(dt DigestType) (*Digest, error) {
	h, err := dt.New()
	if err != nil {
		return nil, err
	}
	return &Digest{h: h, kind: dt}, nil
}

// Write implements io.Writer.
func (d *Digest) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// Type returns the digest algorithm.
func (d *Digest) Type() DigestType {
	return d.kind
}

// Hex returns the hex-encoded sum of everything written so far.
func (d *Digest) Hex() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// DigestReader consumes r and returns its hex digest and length.
func DigestReader(dt DigestType, r io.Reader) (string, int64, error) {
	d, err := NewDigest(dt)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(d, r)
	if err != nil {
		return "", n, err
	}
	return d.Hex(), n, nil
}

// DigestBytes returns the hex digest of data.
func DigestBytes(dt DigestType, data []byte) (string, error) {
	d, err := NewDigest(dt)
	if err != nil {
		return "", err
	}
	d.Write(data)
	return d.Hex(), nil
}

// EqualDigests compares two hex digests, ignoring case.
func EqualDigests(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}
