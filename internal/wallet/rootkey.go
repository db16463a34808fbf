package wallet

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/tyler-smith/go-bip32"
)

// ErrInvalidRootKey is returned when the root key material cannot be used.
var ErrInvalidRootKey = errors.New("invalid root key")

// MaxIndex is the largest per-kind index (hardened derivation).
const MaxIndex = bip32.FirstHardenedChild - 1

// RootKey is the session's master signing key. It is only ever used to
// derive sub-account keys.
type RootKey struct {
	master *HDKey
}

// NewRootKey builds a root key from a BIP-39 seed.
func NewRootKey(seed []byte) (*RootKey, error) {
	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	return &RootKey{master: master}, nil
}

// RootKeyFromMnemonic builds a root key from a mnemonic and passphrase.
func RootKeyFromMnemonic(mnemonic, passphrase string) (*RootKey, error) {
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	return NewRootKey(seed)
}

// DerivationPath returns the BIP-32 path of a sub-account.
//
//	legacy: m/44'/501'/0'/0'
//	other:  m/44'/501'/0'/0'/kind'/index'
func DerivationPath(kind AccountKind, index uint32) []uint32 {
	base := []uint32{PurposeBIP44, CoinTypeSolana, AccountZero, ChangeZero}
	if kind == KindLegacyPrimary {
		return base
	}
	return append(base,
		bip32.FirstHardenedChild+uint32(kind),
		bip32.FirstHardenedChild+index,
	)
}

// Derive returns the key pair of the sub-account (kind, index). The result
// is a pure function of its inputs: the same root, kind and index always
// yield the same key pair. The legacy account ignores index.
func Derive(root *RootKey, kind AccountKind, index uint32) (solana.PrivateKey, error) {
	if root == nil || root.master == nil {
		return nil, fmt.Errorf("%w: no root key", ErrInvalidRootKey)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("derive: unknown account kind %d", kind)
	}
	if index > MaxIndex {
		return nil, fmt.Errorf("derive %s: index %d exceeds %d", kind, index, MaxIndex)
	}
	node, err := root.master.DerivePath(DerivationPath(kind, index)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRootKey, err)
	}
	return node.Ed25519()
}

// Owner returns the legacy owner key pair.
func (r *RootKey) Owner() (solana.PrivateKey, error) {
	return Derive(r, KindLegacyPrimary, 0)
}
