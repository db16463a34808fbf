// Package organizer holds the session's tray of derived sub-accounts and
// their last-known on-chain balances.
package organizer

import (
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go"

	"github.com/Klingon-tech/klingnet-tray/internal/wallet"
	"github.com/Klingon-tech/klingnet-tray/pkg/crypto"
	"github.com/Klingon-tech/klingnet-tray/pkg/instruction"
	"github.com/Klingon-tech/klingnet-tray/pkg/kin"
)

// SubAccount is one derived account of a tray.
type SubAccount struct {
	Kind      wallet.AccountKind
	Index     uint32
	Authority solana.PrivateKey
	Vault     solana.PublicKey // token account holding the balance
	VaultBump uint8

	Balance          kin.Quarks
	PendingMigration bool
}

// Owner returns the authority's public key.
func (a SubAccount) Owner() solana.PublicKey {
	return a.Authority.PublicKey()
}

// NewSubAccount derives the sub-account (kind, index) from root.
func NewSubAccount(root *wallet.RootKey, kind wallet.AccountKind, index uint32) (SubAccount, error) {
	if kind == wallet.KindLegacyPrimary {
		index = 0
	}
	key, err := wallet.Derive(root, kind, index)
	if err != nil {
		return SubAccount{}, err
	}
	vault, bump, err := instruction.FindVaultAddress(key.PublicKey())
	if err != nil {
		return SubAccount{}, fmt.Errorf("vault address for %s/%d: %w", kind, index, err)
	}
	return SubAccount{
		Kind:      kind,
		Index:     index,
		Authority: key,
		Vault:     vault,
		VaultBump: bump,
	}, nil
}

// Tray is an immutable, kind-ordered set of sub-accounts. A tray never holds
// two sub-accounts of the same kind. Mutating helpers return a new tray.
type Tray struct {
	accounts []SubAccount
}

// NewTray builds a tray from accounts, ordering them by kind.
func NewTray(accounts ...SubAccount) (*Tray, error) {
	seen := make(map[wallet.AccountKind]bool, len(accounts))
	sorted := make([]SubAccount, 0, len(accounts))
	for _, a := range accounts {
		if !a.Kind.Valid() {
			return nil, fmt.Errorf("tray: unknown account kind %d", a.Kind)
		}
		if seen[a.Kind] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKind, a.Kind)
		}
		seen[a.Kind] = true
		sorted = append(sorted, a)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Kind < sorted[j].Kind })
	return &Tray{accounts: sorted}, nil
}

// DeriveTray derives a full tray from root. indices holds the current index
// of each kind; kinds not present use index 0.
func DeriveTray(root *wallet.RootKey, indices map[wallet.AccountKind]uint32) (*Tray, error) {
	accounts := make([]SubAccount, 0, len(wallet.Kinds))
	for _, kind := range wallet.Kinds {
		a, err := NewSubAccount(root, kind, indices[kind])
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return NewTray(accounts...)
}

// Len returns the number of sub-accounts.
func (t *Tray) Len() int {
	return len(t.accounts)
}

// Accounts returns a copy of the sub-accounts in kind order.
func (t *Tray) Accounts() []SubAccount {
	out := make([]SubAccount, len(t.accounts))
	copy(out, t.accounts)
	return out
}

// Account returns the sub-account of the given kind.
func (t *Tray) Account(kind wallet.AccountKind) (SubAccount, bool) {
	for _, a := range t.accounts {
		if a.Kind == kind {
			return a, true
		}
	}
	return SubAccount{}, false
}

// ByVault returns the sub-account whose vault is addr.
func (t *Tray) ByVault(addr solana.PublicKey) (SubAccount, bool) {
	for _, a := range t.accounts {
		if a.Vault.Equals(addr) {
			return a, true
		}
	}
	return SubAccount{}, false
}

// Vaults returns the vault addresses in kind order.
func (t *Tray) Vaults() []solana.PublicKey {
	out := make([]solana.PublicKey, len(t.accounts))
	for i, a := range t.accounts {
		out[i] = a.Vault
	}
	return out
}

// Available sums the balances of sub-accounts not pending migration.
func (t *Tray) Available() kin.Quarks {
	var sum kin.Quarks
	for _, a := range t.accounts {
		if !a.PendingMigration {
			sum += a.Balance
		}
	}
	return sum
}

// Total sums every balance, pending or not.
func (t *Tray) Total() kin.Quarks {
	var sum kin.Quarks
	for _, a := range t.accounts {
		sum += a.Balance
	}
	return sum
}

// With returns a copy of the tray with the sub-account of a.Kind replaced
// (or added).
func (t *Tray) With(a SubAccount) *Tray {
	out := make([]SubAccount, 0, len(t.accounts)+1)
	replaced := false
	for _, cur := range t.accounts {
		if cur.Kind == a.Kind {
			out = append(out, a)
			replaced = true
			continue
		}
		out = append(out, cur)
	}
	if !replaced {
		out = append(out, a)
		sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	}
	return &Tray{accounts: out}
}

// Fingerprint identifies the tray's membership: it changes whenever any
// sub-account is swapped for another, and ignores balances.
func (t *Tray) Fingerprint() crypto.Digest {
	parts := make([][]byte, 0, 2*len(t.accounts))
	for _, a := range t.accounts {
		parts = append(parts, []byte{byte(a.Kind)}, a.Vault.Bytes())
	}
	return crypto.HashParts(parts...)
}

// Indices returns the index of every sub-account by kind.
func (t *Tray) Indices() map[wallet.AccountKind]uint32 {
	out := make(map[wallet.AccountKind]uint32, len(t.accounts))
	for _, a := range t.accounts {
		out[a.Kind] = a.Index
	}
	return out
}
