// Package cryptoutils computes the object digests recorded by the storage
// distribution: DigestType names an algorithm, NewDigest and DigestReader
// produce hex encoded digests. SHA-2, SHA-3 and BLAKE2b are supported.
package cryptoutils
