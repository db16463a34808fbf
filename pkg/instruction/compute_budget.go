package instruction

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Compute budget commands.
const (
	CommandRequestUnits        Command = 0
	CommandRequestHeapFrame    Command = 1
	CommandSetComputeUnitLimit Command = 2
	CommandSetComputeUnitPrice Command = 3
)

// RequestUnits requests a compute unit limit for the transaction.
//
// Layout: command(4) | bump(1) | limit(8)
type RequestUnits struct {
	Bump  uint8
	Limit uint64
}

func (RequestUnits) Program() solana.PublicKey { return ComputeBudgetProgramID }
func (RequestUnits) sealed()                   {}

// Build encodes the instruction.
func (ix RequestUnits) Build() *solana.GenericInstruction {
	w := newWriter(CommandRequestUnits)
	w.u8(ix.Bump)
	w.u64(ix.Limit)
	return solana.NewInstruction(ComputeBudgetProgramID, solana.AccountMetaSlice{}, w.bytes())
}

// SetComputeUnitLimit caps the compute units the transaction may use.
//
// Layout: command(4) | units(4)
type SetComputeUnitLimit struct {
	Units uint32
}

func (SetComputeUnitLimit) Program() solana.PublicKey { return ComputeBudgetProgramID }
func (SetComputeUnitLimit) sealed()                   {}

// Build encodes the instruction.
func (ix SetComputeUnitLimit) Build() *solana.GenericInstruction {
	w := newWriter(CommandSetComputeUnitLimit)
	w.u32(ix.Units)
	return solana.NewInstruction(ComputeBudgetProgramID, solana.AccountMetaSlice{}, w.bytes())
}

// SetComputeUnitPrice sets the priority fee in micro-lamports per unit.
//
// Layout: command(4) | micro_lamports(8)
type SetComputeUnitPrice struct {
	MicroLamports uint64
}

func (SetComputeUnitPrice) Program() solana.PublicKey { return ComputeBudgetProgramID }
func (SetComputeUnitPrice) sealed()                   {}

// Build encodes the instruction.
func (ix SetComputeUnitPrice) Build() *solana.GenericInstruction {
	w := newWriter(CommandSetComputeUnitPrice)
	w.u64(ix.MicroLamports)
	return solana.NewInstruction(ComputeBudgetProgramID, solana.AccountMetaSlice{}, w.bytes())
}

func decodeComputeBudget(data []byte) (Instruction, error) {
	r := newReader(data)
	cmd := r.command()
	if r.err != nil {
		return nil, r.err
	}

	var ix Instruction
	switch cmd {
	case CommandRequestUnits:
		v := RequestUnits{}
		v.Bump = r.u8("bump")
		v.Limit = r.u64("limit")
		ix = v
	case CommandSetComputeUnitLimit:
		ix = SetComputeUnitLimit{Units: r.u32("units")}
	case CommandSetComputeUnitPrice:
		ix = SetComputeUnitPrice{MicroLamports: r.u64("micro_lamports")}
	default:
		return nil, fmt.Errorf("%w: compute budget command %d", ErrUnknownCommand, cmd)
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return ix, nil
}
