// Package instruction encodes and decodes the binary instruction layouts of
// the on-chain programs used by the tray engine.
//
// Every program-owned instruction is laid out as a 4-byte little-endian
// command ordinal followed by fixed-width fields in declared order. The
// layout is an external contract with the on-chain programs: field order and
// widths must not change without a matching program upgrade.
package instruction

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Codec errors.
var (
	ErrMalformedInstructionData = errors.New("malformed instruction data")
	ErrUnknownCommand           = errors.New("unknown instruction command")
	ErrUnknownProgram           = errors.New("unknown program")
)

// Program addresses.
var (
	ComputeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")
	TimelockProgramID      = solana.MustPublicKeyFromBase58("time2Z2SCnn3qYg3ULKVtdkh8YmZ5jFdKicnA1W2YnJ")
	MemoProgramID          = solana.MemoProgramID
	TokenProgramID         = solana.TokenProgramID
	SystemProgramID        = solana.SystemProgramID
	RentSysvarID           = solana.SysVarRentPubkey
)

// Command is the 4-byte command ordinal that prefixes instruction data.
type Command uint32

// Instruction is implemented by every instruction this package understands.
// The set is closed: Decode returns one of the concrete types in this
// package and nothing else.
type Instruction interface {
	// Program returns the address of the program executing the instruction.
	Program() solana.PublicKey
	// Build encodes the instruction into its wire form.
	Build() *solana.GenericInstruction
	sealed()
}

// Encode builds the wire form of an instruction.
func Encode(ix Instruction) *solana.GenericInstruction {
	return ix.Build()
}

// Decode parses a wire instruction into its typed form. It never returns a
// partial result: any shortfall in data or accounts is an error.
func Decode(program solana.PublicKey, accounts []*solana.AccountMeta, data []byte) (Instruction, error) {
	switch {
	case program.Equals(ComputeBudgetProgramID):
		return decodeComputeBudget(data)
	case program.Equals(TimelockProgramID):
		return decodeTimelock(accounts, data)
	case program.Equals(MemoProgramID):
		return decodeMemo(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProgram, program)
	}
}

// DecodeGeneric is a convenience wrapper over Decode for a built instruction.
func DecodeGeneric(ix solana.Instruction) (Instruction, error) {
	data, err := ix.Data()
	if err != nil {
		return nil, fmt.Errorf("instruction data: %w", err)
	}
	return Decode(ix.ProgramID(), ix.Accounts(), data)
}

// accountAt returns the public key of the i-th account, or an error if the
// account list is too short.
func accountAt(accounts []*solana.AccountMeta, i int) (solana.PublicKey, error) {
	if i >= len(accounts) || accounts[i] == nil {
		return solana.PublicKey{}, fmt.Errorf("%w: missing account %d (have %d)", ErrMalformedInstructionData, i, len(accounts))
	}
	return accounts[i].PublicKey, nil
}
