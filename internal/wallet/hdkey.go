package wallet

import (
	"crypto/ed25519"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/tyler-smith/go-bip32"
)

// BIP-44 derivation path constants.
// Tray path: m/44'/501'/0'/0'/kind'/index'
const (
	// PurposeBIP44 is the BIP-44 purpose field (hardened).
	PurposeBIP44 = bip32.FirstHardenedChild + 44

	// CoinTypeSolana is the SLIP-44 coin type of the chain (hardened).
	CoinTypeSolana = bip32.FirstHardenedChild + 501

	// AccountZero is the only account the tray uses (hardened).
	AccountZero = bip32.FirstHardenedChild + 0

	// ChangeZero is the fixed change level (hardened).
	ChangeZero = bip32.FirstHardenedChild + 0
)

// HDKey is a hierarchical deterministic key (BIP-32).
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates a master HD key from a 64-byte seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes, got %d", ErrInvalidRootKey, SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: create master key: %v", ErrInvalidRootKey, err)
	}
	return &HDKey{key: master}, nil
}

// DeriveChild derives a child key at the given index.
// For hardened derivation, add bip32.FirstHardenedChild to the index.
func (k *HDKey) DeriveChild(index uint32) (*HDKey, error) {
	child, err := k.key.NewChildKey(index)
	if err != nil {
		return nil, fmt.Errorf("derive child %d: %w", index, err)
	}
	return &HDKey{key: child}, nil
}

// DerivePath derives a key along a sequence of indices.
func (k *HDKey) DerivePath(indices ...uint32) (*HDKey, error) {
	current := k
	for _, idx := range indices {
		child, err := current.DeriveChild(idx)
		if err != nil {
			return nil, err
		}
		current = child
	}
	return current, nil
}

// PrivateKeyBytes returns the raw 32-byte private key.
// Returns nil if this is a public-only key.
func (k *HDKey) PrivateKeyBytes() []byte {
	if !k.key.IsPrivate {
		return nil
	}
	// bip32 Key.Key is 33 bytes with a leading 0x00 for private keys.
	raw := k.key.Key
	if len(raw) == 33 && raw[0] == 0 {
		return raw[1:]
	}
	return raw
}

// Depth returns the derivation depth (0 for master).
func (k *HDKey) Depth() uint8 {
	return k.key.Depth
}

// Ed25519 returns the ed25519 key pair seeded by this node's private key.
func (k *HDKey) Ed25519() (solana.PrivateKey, error) {
	priv := k.PrivateKeyBytes()
	if len(priv) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: private key must be %d bytes, got %d", ErrInvalidRootKey, ed25519.SeedSize, len(priv))
	}
	return solana.PrivateKey(ed25519.NewKeyFromSeed(priv)), nil
}
