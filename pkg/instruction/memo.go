package instruction

import (
	"fmt"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
)

// Memo attaches a UTF-8 note to a transaction. Memo data carries no command
// ordinal.
type Memo struct {
	Text string
}

func (Memo) Program() solana.PublicKey { return MemoProgramID }
func (Memo) sealed()                   {}

// Build encodes the instruction.
func (ix Memo) Build() *solana.GenericInstruction {
	return solana.NewInstruction(MemoProgramID, solana.AccountMetaSlice{}, []byte(ix.Text))
}

func decodeMemo(data []byte) (Instruction, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: memo is not valid utf-8", ErrMalformedInstructionData)
	}
	return Memo{Text: string(data)}, nil
}
