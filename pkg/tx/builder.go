package tx

import (
	"github.com/gagliardetto/solana-go"

	"github.com/Klingon-tech/klingnet-tray/pkg/instruction"
)

// Builder constructs transactions incrementally.
type Builder struct {
	tx *Transaction
}

// NewBuilder creates a builder for a transaction paid by feePayer.
func NewBuilder(purpose Purpose, feePayer solana.PrivateKey) *Builder {
	return &Builder{
		tx: &Transaction{Purpose: purpose, FeePayer: feePayer},
	}
}

// ComputeBudget prepends nothing but appends the compute budget
// instructions; call it first so they lead the transaction.
func (b *Builder) ComputeBudget(units uint32, microLamports uint64) *Builder {
	if units > 0 {
		b.tx.Instructions = append(b.tx.Instructions, instruction.SetComputeUnitLimit{Units: units})
	}
	if microLamports > 0 {
		b.tx.Instructions = append(b.tx.Instructions, instruction.SetComputeUnitPrice{MicroLamports: microLamports})
	}
	return b
}

// Add appends instructions.
func (b *Builder) Add(ixs ...instruction.Instruction) *Builder {
	b.tx.Instructions = append(b.tx.Instructions, ixs...)
	return b
}

// Memo appends a memo instruction.
func (b *Builder) Memo(text string) *Builder {
	if text != "" {
		b.tx.Instructions = append(b.tx.Instructions, instruction.Memo{Text: text})
	}
	return b
}

// SignWith records additional signing keys. Duplicates are dropped.
func (b *Builder) SignWith(keys ...solana.PrivateKey) *Builder {
	for _, k := range keys {
		if b.tx.KeyFor(k.PublicKey()) == nil {
			b.tx.Signers = append(b.tx.Signers, k)
		}
	}
	return b
}

// Len returns the number of instructions so far.
func (b *Builder) Len() int {
	return len(b.tx.Instructions)
}

// Build validates and returns the transaction.
func (b *Builder) Build() (*Transaction, error) {
	if err := b.tx.Validate(); err != nil {
		return nil, err
	}
	return b.tx, nil
}
