package instruction

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Timelock program commands the tray builds. The program's other commands
// are not decoded.
const (
	CommandInitialize            Command = 0
	CommandTransferWithAuthority Command = 3
	CommandBurnDustWithAuthority Command = 4
	CommandCloseAccounts         Command = 6
)

// VaultSeed prefixes the program-derived address of a vault.
var VaultSeed = []byte("timelock_vault")

// FindVaultAddress derives the vault token account owned by authority.
func FindVaultAddress(authority solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{VaultSeed, authority.Bytes()}, TimelockProgramID)
}

// Initialize opens the vault for an authority.
//
// Layout: command(4) | vault_bump(1) | unlock_duration(8)
//
// Accounts: vault(w), authority(s), payer(w,s), mint, token program,
// system program, rent sysvar.
type Initialize struct {
	Vault          solana.PublicKey
	Authority      solana.PublicKey
	Payer          solana.PublicKey
	Mint           solana.PublicKey
	VaultBump      uint8
	UnlockDuration uint64
}

func (Initialize) Program() solana.PublicKey { return TimelockProgramID }
func (Initialize) sealed()                   {}

// Build encodes the instruction.
func (ix Initialize) Build() *solana.GenericInstruction {
	w := newWriter(CommandInitialize)
	w.u8(ix.VaultBump)
	w.u64(ix.UnlockDuration)
	return solana.NewInstruction(TimelockProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(ix.Vault, true, false),
		solana.NewAccountMeta(ix.Authority, false, true),
		solana.NewAccountMeta(ix.Payer, true, true),
		solana.NewAccountMeta(ix.Mint, false, false),
		solana.NewAccountMeta(TokenProgramID, false, false),
		solana.NewAccountMeta(SystemProgramID, false, false),
		solana.NewAccountMeta(RentSysvarID, false, false),
	}, w.bytes())
}

// TransferWithAuthority moves Amount quarks between two vaults.
//
// Layout: command(4) | vault_bump(1) | amount(8)
//
// Accounts: source vault(w), authority(s), payer(w,s), destination(w),
// token program.
type TransferWithAuthority struct {
	Source      solana.PublicKey
	Authority   solana.PublicKey
	Payer       solana.PublicKey
	Destination solana.PublicKey
	VaultBump   uint8
	Amount      uint64
}

func (TransferWithAuthority) Program() solana.PublicKey { return TimelockProgramID }
func (TransferWithAuthority) sealed()                   {}

// Build encodes the instruction.
func (ix TransferWithAuthority) Build() *solana.GenericInstruction {
	w := newWriter(CommandTransferWithAuthority)
	w.u8(ix.VaultBump)
	w.u64(ix.Amount)
	return solana.NewInstruction(TimelockProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(ix.Source, true, false),
		solana.NewAccountMeta(ix.Authority, false, true),
		solana.NewAccountMeta(ix.Payer, true, true),
		solana.NewAccountMeta(ix.Destination, true, false),
		solana.NewAccountMeta(TokenProgramID, false, false),
	}, w.bytes())
}

// BurnDustWithAuthority burns up to MaxAmount quarks of dust left in a vault.
//
// Layout: command(4) | vault_bump(1) | max_amount(8)
//
// Accounts: vault(w), authority(s), payer(w,s), mint(w), token program.
type BurnDustWithAuthority struct {
	Vault     solana.PublicKey
	Authority solana.PublicKey
	Payer     solana.PublicKey
	Mint      solana.PublicKey
	VaultBump uint8
	MaxAmount uint64
}

func (BurnDustWithAuthority) Program() solana.PublicKey { return TimelockProgramID }
func (BurnDustWithAuthority) sealed()                   {}

// Build encodes the instruction.
func (ix BurnDustWithAuthority) Build() *solana.GenericInstruction {
	w := newWriter(CommandBurnDustWithAuthority)
	w.u8(ix.VaultBump)
	w.u64(ix.MaxAmount)
	return solana.NewInstruction(TimelockProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(ix.Vault, true, false),
		solana.NewAccountMeta(ix.Authority, false, true),
		solana.NewAccountMeta(ix.Payer, true, true),
		solana.NewAccountMeta(ix.Mint, true, false),
		solana.NewAccountMeta(TokenProgramID, false, false),
	}, w.bytes())
}

// CloseAccounts closes an empty vault and returns its rent to the payer.
//
// Layout: command(4) | vault_bump(1)
//
// Accounts: vault(w), authority(s), payer(w,s), token program, system program.
type CloseAccounts struct {
	Vault     solana.PublicKey
	Authority solana.PublicKey
	Payer     solana.PublicKey
	VaultBump uint8
}

func (CloseAccounts) Program() solana.PublicKey { return TimelockProgramID }
func (CloseAccounts) sealed()                   {}

// Build encodes the instruction.
func (ix CloseAccounts) Build() *solana.GenericInstruction {
	w := newWriter(CommandCloseAccounts)
	w.u8(ix.VaultBump)
	return solana.NewInstruction(TimelockProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(ix.Vault, true, false),
		solana.NewAccountMeta(ix.Authority, false, true),
		solana.NewAccountMeta(ix.Payer, true, true),
		solana.NewAccountMeta(TokenProgramID, false, false),
		solana.NewAccountMeta(SystemProgramID, false, false),
	}, w.bytes())
}

// timelockAccountCounts is the number of non-program accounts each decoded
// command reads back.
var timelockAccountCounts = map[Command]int{
	CommandInitialize:            4,
	CommandTransferWithAuthority: 4,
	CommandBurnDustWithAuthority: 4,
	CommandCloseAccounts:         3,
}

func decodeTimelock(accounts []*solana.AccountMeta, data []byte) (Instruction, error) {
	r := newReader(data)
	cmd := r.command()
	if r.err != nil {
		return nil, r.err
	}

	// keys resolves the first n accounts in order.
	keys := func(n int) ([]solana.PublicKey, error) {
		out := make([]solana.PublicKey, n)
		for i := range out {
			k, err := accountAt(accounts, i)
			if err != nil {
				return nil, err
			}
			out[i] = k
		}
		return out, nil
	}

	keyN, ok := timelockAccountCounts[cmd]
	if !ok {
		return nil, fmt.Errorf("%w: timelock command %d", ErrUnknownCommand, cmd)
	}
	k, err := keys(keyN)
	if err != nil {
		return nil, err
	}

	var ix Instruction
	switch cmd {
	case CommandInitialize:
		v := Initialize{Vault: k[0], Authority: k[1], Payer: k[2], Mint: k[3]}
		v.VaultBump = r.u8("vault_bump")
		v.UnlockDuration = r.u64("unlock_duration")
		ix = v
	case CommandTransferWithAuthority:
		v := TransferWithAuthority{Source: k[0], Authority: k[1], Payer: k[2], Destination: k[3]}
		v.VaultBump = r.u8("vault_bump")
		v.Amount = r.u64("amount")
		ix = v
	case CommandBurnDustWithAuthority:
		v := BurnDustWithAuthority{Vault: k[0], Authority: k[1], Payer: k[2], Mint: k[3]}
		v.VaultBump = r.u8("vault_bump")
		v.MaxAmount = r.u64("max_amount")
		ix = v
	case CommandCloseAccounts:
		v := CloseAccounts{Vault: k[0], Authority: k[1], Payer: k[2]}
		v.VaultBump = r.u8("vault_bump")
		ix = v
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return ix, nil
}
