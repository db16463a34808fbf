package wallet

import (
	"bytes"
	"errors"
	"testing"

	"github.com/tyler-smith/go-bip32"
)

func testRoot(t *testing.T) *RootKey {
	t.Helper()
	root, err := RootKeyFromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatalf("RootKeyFromMnemonic: %v", err)
	}
	return root
}

func TestDerive_Deterministic(t *testing.T) {
	a := testRoot(t)
	b := testRoot(t)
	for _, kind := range Kinds {
		for _, idx := range []uint32{0, 1, 7} {
			k1, err := Derive(a, kind, idx)
			if err != nil {
				t.Fatalf("Derive(%s, %d): %v", kind, idx, err)
			}
			k2, err := Derive(b, kind, idx)
			if err != nil {
				t.Fatalf("Derive(%s, %d): %v", kind, idx, err)
			}
			if !bytes.Equal(k1, k2) {
				t.Errorf("Derive(%s, %d) not deterministic", kind, idx)
			}
			if len(k1) != 64 {
				t.Errorf("key length = %d, want 64", len(k1))
			}
		}
	}
}

func TestDerive_NoCollisions(t *testing.T) {
	root := testRoot(t)
	seen := map[string]string{}
	for _, kind := range Kinds {
		for idx := uint32(0); idx < 4; idx++ {
			if kind == KindLegacyPrimary && idx > 0 {
				continue
			}
			key, err := Derive(root, kind, idx)
			if err != nil {
				t.Fatalf("Derive: %v", err)
			}
			pub := key.PublicKey().String()
			label := kind.String()
			if prev, ok := seen[pub]; ok {
				t.Fatalf("%s/%d collides with %s", label, idx, prev)
			}
			seen[pub] = label
		}
	}
}

func TestDerive_LegacyIgnoresIndex(t *testing.T) {
	root := testRoot(t)
	a, _ := Derive(root, KindLegacyPrimary, 0)
	b, _ := Derive(root, KindLegacyPrimary, 9)
	if !bytes.Equal(a, b) {
		t.Fatal("legacy key depends on index")
	}
	owner, err := root.Owner()
	if err != nil {
		t.Fatalf("Owner: %v", err)
	}
	if !bytes.Equal(a, owner) {
		t.Fatal("Owner differs from legacy derivation")
	}
}

func TestDerive_InvalidRoot(t *testing.T) {
	if _, err := Derive(nil, KindPrimaryVault, 0); !errors.Is(err, ErrInvalidRootKey) {
		t.Fatalf("nil root err = %v, want ErrInvalidRootKey", err)
	}
	if _, err := Derive(&RootKey{}, KindPrimaryVault, 0); !errors.Is(err, ErrInvalidRootKey) {
		t.Fatalf("empty root err = %v, want ErrInvalidRootKey", err)
	}
	if _, err := NewRootKey(make([]byte, 16)); !errors.Is(err, ErrInvalidRootKey) {
		t.Fatalf("short seed err = %v, want ErrInvalidRootKey", err)
	}
}

func TestDerive_BadArguments(t *testing.T) {
	root := testRoot(t)
	if _, err := Derive(root, AccountKind(42), 0); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if _, err := Derive(root, KindPrimaryVault, bip32.FirstHardenedChild); err == nil {
		t.Fatal("expected error for hardened index")
	}
}

func TestDerivationPath(t *testing.T) {
	h := bip32.FirstHardenedChild
	tests := []struct {
		kind  AccountKind
		index uint32
		want  []uint32
	}{
		{KindLegacyPrimary, 3, []uint32{h + 44, h + 501, h, h}},
		{KindPrimaryVault, 0, []uint32{h + 44, h + 501, h, h, h, h}},
		{KindIncomingTemporary, 5, []uint32{h + 44, h + 501, h, h, h + 1, h + 5}},
		{KindRemainder, 2, []uint32{h + 44, h + 501, h, h, h + 4, h + 2}},
	}
	for _, tt := range tests {
		got := DerivationPath(tt.kind, tt.index)
		if len(got) != len(tt.want) {
			t.Fatalf("%s: path length = %d, want %d", tt.kind, len(got), len(tt.want))
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%s: path[%d] = %d, want %d", tt.kind, i, got[i], tt.want[i])
			}
		}
	}
}

func TestHDKey_Depth(t *testing.T) {
	seed, _ := SeedFromMnemonic(testMnemonic, "")
	master, err := NewMasterKey(seed)
	if err != nil {
		t.Fatalf("NewMasterKey: %v", err)
	}
	if master.Depth() != 0 {
		t.Fatalf("master depth = %d", master.Depth())
	}
	child, err := master.DerivePath(DerivationPath(KindConsolidation, 1)...)
	if err != nil {
		t.Fatalf("DerivePath: %v", err)
	}
	if child.Depth() != 6 {
		t.Fatalf("child depth = %d, want 6", child.Depth())
	}
	if len(child.PrivateKeyBytes()) != 32 {
		t.Fatalf("private key length = %d", len(child.PrivateKeyBytes()))
	}
}

func TestAccountKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseAccountKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseAccountKind(%q) = %v, %v", k.String(), got, err)
		}
		if k.Required() == (k == KindLegacyPrimary) {
			t.Errorf("%s: Required = %v", k, k.Required())
		}
	}
	if _, err := ParseAccountKind("savings"); err == nil {
		t.Error("expected error for unknown kind name")
	}
	if AccountKind(99).Valid() {
		t.Error("kind 99 reported valid")
	}
}
