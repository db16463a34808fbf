package session

import (
	"sync"

	"github.com/Klingon-tech/klingnet-tray/internal/wallet"
)

// AuthProvider supplies the root key of the logged-in user.
type AuthProvider interface {
	// RootKey returns the root key, or false when no user is authenticated.
	RootKey() (*wallet.RootKey, bool)
	// Revoked is closed when the authentication ends.
	Revoked() <-chan struct{}
}

// StaticAuth authenticates a fixed root key until Revoke is called.
type StaticAuth struct {
	root    *wallet.RootKey
	once    sync.Once
	revoked chan struct{}
}

// NewStaticAuth creates a provider for root.
func NewStaticAuth(root *wallet.RootKey) *StaticAuth {
	return &StaticAuth{root: root, revoked: make(chan struct{})}
}

func (a *StaticAuth) RootKey() (*wallet.RootKey, bool) {
	select {
	case <-a.revoked:
		return nil, false
	default:
		return a.root, true
	}
}

func (a *StaticAuth) Revoked() <-chan struct{} { return a.revoked }

// Revoke ends the authentication. It is safe to call more than once.
func (a *StaticAuth) Revoke() {
	a.once.Do(func() { close(a.revoked) })
}

// IndexStore persists the rotation index of each sub-account kind.
type IndexStore interface {
	Indices() (map[wallet.AccountKind]uint32, error)
	SetIndex(kind wallet.AccountKind, index uint32) error
}

// KeystoreIndices stores indices alongside a named wallet in a keystore.
type KeystoreIndices struct {
	Keystore *wallet.Keystore
	Name     string
}

func (k KeystoreIndices) Indices() (map[wallet.AccountKind]uint32, error) {
	return k.Keystore.Indices(k.Name)
}

func (k KeystoreIndices) SetIndex(kind wallet.AccountKind, index uint32) error {
	return k.Keystore.SetIndex(k.Name, kind, index)
}
