// Package digest computes the keys and fingerprints consumed by the
// tracker.
//
// A key identifies an idempotent operation instance (for HTTP, the
// Idempotency-Key header scoped to the request path). A fingerprint is a
// digest of the operation's input payload, letting the tracker reject key
// reuse across differing requests.
//
// Both are produced by a Hasher over an ordered list of parts. Parts are
// length-prefixed before hashing so that ("ab","c") and ("a","bc") never
// collide.
package digest

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/zeebo/xxh3"
)

// Hasher turns an ordered list of byte parts into a stable digest.
//
// Implementations must be deterministic: the same parts in the same order
// always produce the same digest, across processes and architectures.
type Hasher interface {
	// Sum computes the digest of the given parts.
	Sum(parts ...[]byte) []byte

	// Name returns a short identifier for the algorithm.
	Name() string
}

// SHA256 hashes parts with crypto/sha256. The default Hasher; use it
// whenever digests may be stored durably or compared across versions.
type SHA256 struct{}

var _ Hasher = SHA256{}

func (SHA256) Sum(parts ...[]byte) []byte {
	h := sha256.New()
	writeParts(h.Write, parts)
	return h.Sum(nil)
}

func (SHA256) Name() string { return "sha256" }

// XXH3 hashes parts with the 128-bit xxh3 variant. Faster than SHA256 and
// adequate when digests only live for the entry TTL; not suitable where
// collision resistance against an adversary matters.
type XXH3 struct{}

var _ Hasher = XXH3{}

func (XXH3) Sum(parts ...[]byte) []byte {
	h := xxh3.New()
	writeParts(func(p []byte) (int, error) { return h.Write(p) }, parts)

	sum := h.Sum128()
	out := make([]byte, 16)
	binary.BigEndian.PutUint64(out[:8], sum.Hi)
	binary.BigEndian.PutUint64(out[8:], sum.Lo)

	return out
}

func (XXH3) Name() string { return "xxh3" }

// writeParts feeds each part to write with a fixed-width length prefix so
// part boundaries survive concatenation.
func writeParts(write func([]byte) (int, error), parts [][]byte) {
	var prefix [8]byte
	for _, part := range parts {
		binary.BigEndian.PutUint64(prefix[:], uint64(len(part)))
		_, _ = write(prefix[:])
		_, _ = write(part)
	}
}

// Key digests the parts identifying an operation instance using the
// default SHA256 hasher.
func Key(parts ...[]byte) []byte {
	return SHA256{}.Sum(parts...)
}

// Fingerprint digests the parts describing an operation's input payload
// using the default SHA256 hasher.
func Fingerprint(parts ...[]byte) []byte {
	return SHA256{}.Sum(parts...)
}
