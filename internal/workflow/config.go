package workflow

import (
	"github.com/gagliardetto/solana-go"

	"github.com/Klingon-tech/klingnet-tray/pkg/kin"
)

// Config holds the parameters of the transactions the workflow builds.
type Config struct {
	Mint           solana.PublicKey
	UnlockDuration uint64 // seconds, for new vaults
	ComputeUnits   uint32
	MicroLamports  uint64
	MigrationMemo  string
	Swap           SwapPolicy
	// DustLimit is the most a retired incoming vault may burn to close.
	DustLimit kin.Quarks
}

// SwapPolicy decides when fragment accounts are consolidated into the
// primary vault. A zero field disables that trigger.
type SwapPolicy struct {
	Threshold    kin.Quarks // consolidate once the fragments hold this much
	MinFragments int        // or once this many fragments are non-empty
}

// Due reports whether n non-empty fragments holding sum should be swapped.
func (p SwapPolicy) Due(n int, sum kin.Quarks) bool {
	if n == 0 || sum == 0 {
		return false
	}
	if p.MinFragments > 0 && n >= p.MinFragments {
		return true
	}
	return p.Threshold > 0 && sum >= p.Threshold
}

// DefaultConfig returns mainnet transaction parameters with the given mint.
func DefaultConfig(mint solana.PublicKey) Config {
	return Config{
		Mint:           mint,
		UnlockDuration: 21 * 24 * 60 * 60,
		ComputeUnits:   200_000,
		MicroLamports:  1_000,
		MigrationMemo:  "tray:migrate:v1",
		Swap: SwapPolicy{
			Threshold:    kin.FromKin(100),
			MinFragments: 2,
		},
		DustLimit: 100,
	}
}
