package wallet

import "fmt"

// AccountKind identifies the role of a sub-account within a tray.
type AccountKind uint8

// Sub-account kinds. The numeric value is part of the derivation path and
// must never change.
const (
	KindPrimaryVault AccountKind = iota
	KindIncomingTemporary
	KindOutgoingTemporary
	KindConsolidation
	KindRemainder
	// KindLegacyPrimary is the pre-privacy owner account. It pays fees and
	// is the migration source.
	KindLegacyPrimary
)

// Kinds lists every kind in tray order.
var Kinds = []AccountKind{
	KindPrimaryVault,
	KindIncomingTemporary,
	KindOutgoingTemporary,
	KindConsolidation,
	KindRemainder,
	KindLegacyPrimary,
}

var kindNames = map[AccountKind]string{
	KindPrimaryVault:      "primary",
	KindIncomingTemporary: "incoming",
	KindOutgoingTemporary: "outgoing",
	KindConsolidation:     "consolidation",
	KindRemainder:         "remainder",
	KindLegacyPrimary:     "legacy",
}

// String returns the short kind name.
func (k AccountKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k is a known kind.
func (k AccountKind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Required reports whether an account of this kind must exist on-chain for
// the tray to be usable.
func (k AccountKind) Required() bool {
	return k != KindLegacyPrimary
}

// Rotates reports whether the kind is a temporary account whose index
// advances after use.
func (k AccountKind) Rotates() bool {
	return k == KindIncomingTemporary || k == KindOutgoingTemporary
}

// ParseAccountKind parses a kind name.
func ParseAccountKind(s string) (AccountKind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown account kind %q", s)
}
