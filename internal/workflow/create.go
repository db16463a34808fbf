package workflow

import (
	"context"
	"fmt"

	"github.com/Klingon-tech/klingnet-tray/internal/events"
	"github.com/Klingon-tech/klingnet-tray/internal/organizer"
	"github.com/Klingon-tech/klingnet-tray/internal/wallet"
	"github.com/Klingon-tech/klingnet-tray/pkg/instruction"
	"github.com/Klingon-tech/klingnet-tray/pkg/tx"
)

// initialize returns the instruction opening a's vault.
func (w *Workflow) initialize(a, payer organizer.SubAccount) instruction.Initialize {
	return instruction.Initialize{
		Vault:          a.Vault,
		Authority:      a.Owner(),
		Payer:          payer.Owner(),
		Mint:           w.cfg.Mint,
		VaultBump:      a.VaultBump,
		UnlockDuration: w.cfg.UnlockDuration,
	}
}

// create opens every missing account in one transaction.
func (w *Workflow) create(ctx context.Context, tray *organizer.Tray, missing []wallet.AccountKind) error {
	payer, err := feePayer(tray)
	if err != nil {
		return err
	}
	b := tx.NewBuilder(tx.PurposeCreate, payer.Authority).
		ComputeBudget(w.cfg.ComputeUnits, w.cfg.MicroLamports)
	for _, kind := range missing {
		a, ok := tray.Account(kind)
		if !ok {
			return fmt.Errorf("create: tray has no %s account", kind)
		}
		b.Add(w.initialize(a, payer)).SignWith(a.Authority)
	}

	sig, err := w.send(ctx, b)
	if err != nil {
		return fmt.Errorf("create accounts: %w", err)
	}
	w.emit(events.Event{Kind: events.AccountsCreated, Accounts: missing, Signature: sig})
	l := logger(ctx)
	l.Info().Int("accounts", len(missing)).Msg("Accounts created")
	return nil
}
