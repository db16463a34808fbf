package workflow

import (
	"context"
	"fmt"

	"github.com/Klingon-tech/klingnet-tray/internal/events"
	"github.com/Klingon-tech/klingnet-tray/internal/organizer"
	"github.com/Klingon-tech/klingnet-tray/internal/wallet"
	"github.com/Klingon-tech/klingnet-tray/pkg/instruction"
	"github.com/Klingon-tech/klingnet-tray/pkg/kin"
	"github.com/Klingon-tech/klingnet-tray/pkg/tx"
)

// fragmentKinds are consolidated into the primary vault by SwapIfNeeded.
var fragmentKinds = []wallet.AccountKind{
	wallet.KindOutgoingTemporary,
	wallet.KindConsolidation,
	wallet.KindRemainder,
}

func (w *Workflow) transfer(from, to, payer organizer.SubAccount, amount kin.Quarks) instruction.TransferWithAuthority {
	return instruction.TransferWithAuthority{
		Source:      from.Vault,
		Authority:   from.Owner(),
		Payer:       payer.Owner(),
		Destination: to.Vault,
		VaultBump:   from.VaultBump,
		Amount:      uint64(amount),
	}
}

// retire empties a vault of dust and closes it. Funds above DustLimit make
// the close fail, and with it the whole transaction.
func (w *Workflow) retire(a, payer organizer.SubAccount) []instruction.Instruction {
	var ixs []instruction.Instruction
	if w.cfg.DustLimit > 0 {
		ixs = append(ixs, instruction.BurnDustWithAuthority{
			Vault:     a.Vault,
			Authority: a.Owner(),
			Payer:     payer.Owner(),
			Mint:      w.cfg.Mint,
			VaultBump: a.VaultBump,
			MaxAmount: uint64(w.cfg.DustLimit),
		})
	}
	return append(ixs, instruction.CloseAccounts{
		Vault:     a.Vault,
		Authority: a.Owner(),
		Payer:     payer.Owner(),
		VaultBump: a.VaultBump,
	})
}

// nextIncoming derives the account after in and reports whether its vault
// is already open. It is open when an earlier rotation landed but its index
// was never stored.
func (w *Workflow) nextIncoming(ctx context.Context, in organizer.SubAccount) (organizer.SubAccount, bool, error) {
	next, err := organizer.NewSubAccount(w.root, in.Kind, in.Index+1)
	if err != nil {
		return organizer.SubAccount{}, false, fmt.Errorf("derive next incoming: %w", err)
	}
	infos, err := w.fetcher.Lookup(ctx, next.Vault)
	if err != nil {
		return organizer.SubAccount{}, false, err
	}
	for _, info := range infos {
		if info.Address.Equals(next.Vault) && info.Exists {
			next.Balance = info.Balance
			return next, true, nil
		}
	}
	return next, false, nil
}

// ReceiveFromIncoming moves the incoming account's balance into the primary
// vault, retires the emptied vault and rotates the incoming account to the
// next index, so a deposit address is never reused. It is a no-op when
// nothing has arrived.
func (w *Workflow) ReceiveFromIncoming(ctx context.Context, org *organizer.Organizer) error {
	tray, gen := org.Snapshot()
	in, ok := tray.Account(wallet.KindIncomingTemporary)
	if !ok || in.Balance == 0 || in.PendingMigration {
		return nil
	}
	primary, ok := tray.Account(wallet.KindPrimaryVault)
	if !ok {
		return fmt.Errorf("receive: tray has no primary vault")
	}
	payer, err := feePayer(tray)
	if err != nil {
		return err
	}
	next, opened, err := w.nextIncoming(ctx, in)
	if err != nil {
		return fmt.Errorf("receive: %w", err)
	}

	b := tx.NewBuilder(tx.PurposeReceive, payer.Authority).
		ComputeBudget(w.cfg.ComputeUnits, w.cfg.MicroLamports)
	if !opened {
		b.Add(w.initialize(next, payer)).SignWith(next.Authority)
	}
	b.Add(w.transfer(in, primary, payer, in.Balance)).
		Add(w.retire(in, payer)...).
		SignWith(in.Authority)
	sig, err := w.send(ctx, b)
	if err != nil {
		return fmt.Errorf("receive: %w", err)
	}

	primary.Balance += in.Balance
	if err := org.ReplaceTray(gen, tray.With(primary).With(next)); err != nil {
		return fmt.Errorf("receive: %w", err)
	}
	w.emit(events.Event{Kind: events.FundsReceived, Amount: in.Balance, Accounts: []wallet.AccountKind{wallet.KindIncomingTemporary}, Signature: sig})
	l := logger(ctx)
	l.Info().
		Uint64("amount", uint64(in.Balance)).
		Uint32("next_index", next.Index).
		Bool("reused", opened).
		Msg("Received incoming funds")

	if w.recordIndex != nil {
		if err := w.recordIndex(in.Kind, next.Index); err != nil {
			return fmt.Errorf("receive: %w %d: %v", ErrIndexNotStored, next.Index, err)
		}
	}
	return nil
}

// SwapIfNeeded consolidates non-empty fragment accounts into the primary
// vault when the swap policy says so.
func (w *Workflow) SwapIfNeeded(ctx context.Context, org *organizer.Organizer) error {
	tray, gen := org.Snapshot()
	var (
		frags []organizer.SubAccount
		kinds []wallet.AccountKind
		sum   kin.Quarks
	)
	for _, kind := range fragmentKinds {
		a, ok := tray.Account(kind)
		if !ok || a.Balance == 0 || a.PendingMigration {
			continue
		}
		frags = append(frags, a)
		kinds = append(kinds, kind)
		sum += a.Balance
	}
	if !w.cfg.Swap.Due(len(frags), sum) {
		return nil
	}
	primary, ok := tray.Account(wallet.KindPrimaryVault)
	if !ok {
		return fmt.Errorf("swap: tray has no primary vault")
	}
	payer, err := feePayer(tray)
	if err != nil {
		return err
	}

	b := tx.NewBuilder(tx.PurposeSwap, payer.Authority).
		ComputeBudget(w.cfg.ComputeUnits, w.cfg.MicroLamports)
	for _, f := range frags {
		b.Add(w.transfer(f, primary, payer, f.Balance)).SignWith(f.Authority)
	}
	sig, err := w.send(ctx, b)
	if err != nil {
		return fmt.Errorf("swap: %w", err)
	}

	next := tray
	for _, f := range frags {
		f.Balance = 0
		next = next.With(f)
	}
	primary.Balance += sum
	if err := org.ReplaceTray(gen, next.With(primary)); err != nil {
		return fmt.Errorf("swap: %w", err)
	}
	w.emit(events.Event{Kind: events.TrayConsolidated, Amount: sum, Accounts: kinds, Signature: sig})
	l := logger(ctx)
	l.Info().
		Int("fragments", len(frags)).
		Uint64("amount", uint64(sum)).
		Msg("Tray consolidated")
	return nil
}
