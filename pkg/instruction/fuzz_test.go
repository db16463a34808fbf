package instruction

import (
	"bytes"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/google/go-cmp/cmp"
)

var fuzzPrograms = []solana.PublicKey{ComputeBudgetProgramID, TimelockProgramID, MemoProgramID}

// fixedAccount reports program and sysvar accounts Build appends on its own.
func fixedAccount(k solana.PublicKey) bool {
	return k.Equals(TokenProgramID) || k.Equals(SystemProgramID) || k.Equals(RentSysvarID)
}

// FuzzDecode checks that Decode never panics on arbitrary data and that
// anything it accepts encodes back to the same bytes and accounts.
func FuzzDecode(f *testing.F) {
	for _, ix := range allInstructions() {
		built := Encode(ix)
		data, _ := built.Data()
		for i, p := range fuzzPrograms {
			if p.Equals(built.ProgramID()) {
				f.Add(uint8(i), data, uint8(len(built.Accounts())))
			}
		}
	}
	f.Add(uint8(1), []byte{1, 0, 0, 0}, uint8(7))
	f.Add(uint8(0), []byte{}, uint8(0))
	f.Add(uint8(2), []byte{0xff}, uint8(0))

	f.Fuzz(func(t *testing.T, sel uint8, data []byte, nAccounts uint8) {
		program := fuzzPrograms[int(sel)%len(fuzzPrograms)]
		accounts := make([]*solana.AccountMeta, int(nAccounts)%12)
		for i := range accounts {
			accounts[i] = solana.NewAccountMeta(testKey(byte(i+1)), true, false)
		}

		ix, err := Decode(program, accounts, data)
		if err != nil {
			return
		}

		again := Encode(ix)
		got, err := again.Data()
		if err != nil {
			t.Fatalf("Data() error: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("%T re-encoded to %x, decoded from %x", ix, got, data)
		}
		for i, meta := range again.Accounts() {
			if fixedAccount(meta.PublicKey) || i >= len(accounts) {
				continue
			}
			if !meta.PublicKey.Equals(accounts[i].PublicKey) {
				t.Fatalf("%T account %d = %s, decoded from %s", ix, i, meta.PublicKey, accounts[i].PublicKey)
			}
		}

		back, err := DecodeGeneric(again)
		if err != nil {
			t.Fatalf("DecodeGeneric(%T) error: %v", ix, err)
		}
		if diff := cmp.Diff(ix, back); diff != "" {
			t.Fatalf("%T round trip mismatch (-first +second):\n%s", ix, diff)
		}
	})
}
