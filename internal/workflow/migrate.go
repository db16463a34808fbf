package workflow

import (
	"context"
	"fmt"

	"github.com/Klingon-tech/klingnet-tray/internal/events"
	"github.com/Klingon-tech/klingnet-tray/internal/fetcher"
	"github.com/Klingon-tech/klingnet-tray/internal/organizer"
	"github.com/Klingon-tech/klingnet-tray/internal/wallet"
	"github.com/Klingon-tech/klingnet-tray/pkg/instruction"
	"github.com/Klingon-tech/klingnet-tray/pkg/tx"
)

// migrate moves the flagged amount from the source account into the
// primary vault and marks the source migrated.
func (w *Workflow) migrate(ctx context.Context, org *organizer.Organizer, tray *organizer.Tray, c fetcher.MigrationRequired) error {
	src, ok := tray.ByVault(c.Source)
	if !ok {
		return fmt.Errorf("migrate: %s is not in the tray", c.Source)
	}
	if src.Kind == wallet.KindPrimaryVault {
		return ErrMigrateIntoPrimary
	}
	primary, ok := tray.Account(wallet.KindPrimaryVault)
	if !ok {
		return fmt.Errorf("migrate: tray has no primary vault")
	}
	payer, err := feePayer(tray)
	if err != nil {
		return err
	}

	w.emit(events.Event{Kind: events.MigrationStarted, Amount: c.Amount, Accounts: []wallet.AccountKind{src.Kind}})

	b := tx.NewBuilder(tx.PurposeMigrate, payer.Authority).
		ComputeBudget(w.cfg.ComputeUnits, w.cfg.MicroLamports).
		Add(instruction.TransferWithAuthority{
			Source:      src.Vault,
			Authority:   src.Owner(),
			Payer:       payer.Owner(),
			Destination: primary.Vault,
			VaultBump:   src.VaultBump,
			Amount:      uint64(c.Amount),
		}).
		Memo(w.cfg.MigrationMemo).
		SignWith(src.Authority)

	sig, err := w.send(ctx, b)
	if err != nil {
		return fmt.Errorf("migrate %s: %w", src.Kind, err)
	}
	if err := org.MarkMigrated(src.Vault); err != nil {
		return err
	}
	w.emit(events.Event{Kind: events.MigrationCompleted, Amount: c.Amount, Accounts: []wallet.AccountKind{src.Kind}, Signature: sig})
	l := logger(ctx)
	l.Info().
		Str("source", src.Kind.String()).
		Uint64("amount", uint64(c.Amount)).
		Msg("Migration completed")
	return nil
}
