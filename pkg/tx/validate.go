package tx

import (
	"errors"
	"fmt"
)

// MaxInstructions bounds a single transaction.
const MaxInstructions = 24

// Validation errors.
var (
	ErrNoInstructions      = errors.New("transaction has no instructions")
	ErrTooManyInstructions = errors.New("too many instructions")
	ErrMissingFeePayer     = errors.New("transaction has no fee payer")
	ErrMissingSigner       = errors.New("required signer has no key")
	ErrNoPurpose           = errors.New("transaction has no purpose")
)

// Validate checks that the transaction is complete: a purpose, a fee payer,
// at least one instruction, and a key for every account an instruction
// marks as signer.
func (tx *Transaction) Validate() error {
	if tx.Purpose == 0 {
		return ErrNoPurpose
	}
	if tx.FeePayer == nil {
		return ErrMissingFeePayer
	}
	if len(tx.Instructions) == 0 {
		return ErrNoInstructions
	}
	if len(tx.Instructions) > MaxInstructions {
		return fmt.Errorf("%w: %d, max %d", ErrTooManyInstructions, len(tx.Instructions), MaxInstructions)
	}
	for i, ix := range tx.Instructions {
		for _, m := range ix.Build().AccountValues {
			if m.IsSigner && tx.KeyFor(m.PublicKey) == nil {
				return fmt.Errorf("instruction %d: %w: %s", i, ErrMissingSigner, m.PublicKey)
			}
		}
	}
	return nil
}
