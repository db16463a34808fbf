// Package crypto provides hashing primitives for the tray engine.
package crypto

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// DigestSize is the length of a digest in bytes.
const DigestSize = 32

// Digest is a BLAKE3-256 hash value.
type Digest [DigestSize]byte

// Hex returns the hex encoding of the digest.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 8 hex characters, for log fields.
func (d Digest) Short() string {
	return d.Hex()[:8]
}

// IsZero returns true if the digest is all zeros.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) Digest {
	return blake3.Sum256(data)
}

// HashConcat hashes the concatenation of two digests.
func HashConcat(a, b Digest) Digest {
	var buf [2 * DigestSize]byte
	copy(buf[:DigestSize], a[:])
	copy(buf[DigestSize:], b[:])
	return Hash(buf[:])
}

// HashParts hashes a sequence of byte strings. Each part is length-prefixed
// so that ("ab","c") and ("a","bc") hash differently.
func HashParts(parts ...[]byte) Digest {
	h := blake3.New()
	var lenBuf [4]byte
	for _, p := range parts {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(p)))
		h.Write(lenBuf[:])
		h.Write(p)
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}
