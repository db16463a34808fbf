package wallet

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// SealVersion is the current sealed-seed format.
//
//	version(1) | salt(16) | memory(4) | iterations(4) | parallelism(1) | nonce(24) | ciphertext
const SealVersion = 1

const (
	saltSize       = 16
	sealHeaderSize = 1 + saltSize + 4 + 4 + 1
)

// ErrWrongPassword is returned when a sealed seed cannot be opened.
var ErrWrongPassword = errors.New("wrong password or corrupted seed")

// KDFParams holds Argon2id parameters.
type KDFParams struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
}

// DefaultKDFParams returns the Argon2id parameters used for new wallets.
func DefaultKDFParams() KDFParams {
	return KDFParams{Memory: 64 * 1024, Iterations: 3, Parallelism: 4}
}

func (p KDFParams) key(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, p.Iterations, p.Memory, p.Parallelism, chacha20poly1305.KeySize)
}

// SealSeed encrypts seed under password. The label (the wallet name) is
// bound as associated data, so a sealed seed copied into a different wallet
// file does not open.
func SealSeed(seed, password []byte, label string, params KDFParams) ([]byte, error) {
	if params.Iterations == 0 || params.Parallelism == 0 {
		return nil, fmt.Errorf("seal: invalid kdf params %+v", params)
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	key := params.key(password, salt)
	defer clear(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, sealHeaderSize+len(nonce)+len(seed)+aead.Overhead())
	out = append(out, SealVersion)
	out = append(out, salt...)
	out = binary.LittleEndian.AppendUint32(out, params.Memory)
	out = binary.LittleEndian.AppendUint32(out, params.Iterations)
	out = append(out, params.Parallelism)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, seed, []byte(label)), nil
}

// OpenSeed decrypts a seed produced by SealSeed.
func OpenSeed(sealed, password []byte, label string) ([]byte, error) {
	minSize := sealHeaderSize + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
	if len(sealed) < minSize {
		return nil, fmt.Errorf("sealed seed too short: %d bytes, need at least %d", len(sealed), minSize)
	}
	if sealed[0] != SealVersion {
		return nil, fmt.Errorf("unsupported seal version %d", sealed[0])
	}
	off := 1
	salt := sealed[off : off+saltSize]
	off += saltSize
	params := KDFParams{
		Memory:      binary.LittleEndian.Uint32(sealed[off:]),
		Iterations:  binary.LittleEndian.Uint32(sealed[off+4:]),
		Parallelism: sealed[off+8],
	}
	if params.Iterations == 0 || params.Parallelism == 0 {
		return nil, fmt.Errorf("sealed seed has invalid kdf params %+v", params)
	}
	off = sealHeaderSize
	nonce := sealed[off : off+chacha20poly1305.NonceSizeX]
	ciphertext := sealed[off+chacha20poly1305.NonceSizeX:]

	key := params.key(password, salt)
	defer clear(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	seed, err := aead.Open(nil, nonce, ciphertext, []byte(label))
	if err != nil {
		return nil, ErrWrongPassword
	}
	return seed, nil
}
