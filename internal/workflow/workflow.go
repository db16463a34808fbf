// Package workflow drives one balance refresh: it reacts to the fetcher's
// classification by creating missing accounts, migrating legacy funds, or,
// once the tray is healthy, receiving incoming funds and consolidating
// fragments.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-tray/internal/events"
	"github.com/Klingon-tech/klingnet-tray/internal/fetcher"
	"github.com/Klingon-tech/klingnet-tray/internal/log"
	"github.com/Klingon-tech/klingnet-tray/internal/organizer"
	"github.com/Klingon-tech/klingnet-tray/internal/wallet"
	"github.com/Klingon-tech/klingnet-tray/pkg/tx"
)

// Workflow errors.
var (
	ErrAccountsStillMissing = errors.New("accounts still missing after creation")
	ErrTooManySteps         = errors.New("refresh did not converge")
	ErrNoFeePayer           = errors.New("tray has no fee payer")
	ErrMigrateIntoPrimary   = errors.New("primary vault cannot be a migration source")
	ErrIndexNotStored       = errors.New("rotated index not stored")
)

// Submitter sends a transaction to the network and waits for it to land.
type Submitter interface {
	Submit(ctx context.Context, transaction *tx.Transaction) (solana.Signature, error)
}

// Emitter receives lifecycle events.
type Emitter interface {
	Emit(e events.Event)
}

// IndexRecorder persists a rotated sub-account index.
type IndexRecorder func(kind wallet.AccountKind, index uint32) error

// Workflow runs refresh passes against one organizer.
type Workflow struct {
	fetcher *fetcher.Fetcher
	submit  Submitter
	root    *wallet.RootKey
	cfg     Config

	emitter     Emitter
	recordIndex IndexRecorder
}

// New creates a workflow.
func New(f *fetcher.Fetcher, sub Submitter, root *wallet.RootKey, cfg Config) *Workflow {
	return &Workflow{fetcher: f, submit: sub, root: root, cfg: cfg}
}

// SetEmitter installs the lifecycle event sink.
func (w *Workflow) SetEmitter(e Emitter) {
	w.emitter = e
}

// SetIndexRecorder installs the callback that persists rotated indices.
func (w *Workflow) SetIndexRecorder(fn IndexRecorder) {
	w.recordIndex = fn
}

func (w *Workflow) emit(e events.Event) {
	if w.emitter != nil {
		w.emitter.Emit(e)
	}
}

// logger returns the refresh-scoped logger carried by ctx, if any.
func logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Workflow
}

// Reconcile runs one refresh pass. Each step is fetch, then one corrective
// action, then fetch again, until the tray is healthy. Creation is tried at
// most once; each flagged account is migrated at most once. Errors from
// the network are returned unchanged and never retried here.
func (w *Workflow) Reconcile(ctx context.Context, org *organizer.Organizer) error {
	defer log.Benchmark("reconcile")()
	l := logger(ctx)

	created := false
	maxSteps := len(wallet.Kinds) + 2
	for step := 0; step < maxSteps; step++ {
		res, err := w.fetcher.Fetch(ctx, org)
		if err != nil {
			return err
		}
		l.Debug().Int("step", step).Str("class", res.Classification.String()).Msg("Classified tray")

		switch c := res.Classification.(type) {
		case fetcher.NotFound:
			if created {
				return fmt.Errorf("%w: %v", ErrAccountsStillMissing, c.Err())
			}
			if err := w.create(ctx, res.Tray, c.Missing); err != nil {
				return err
			}
			created = true
		case fetcher.MigrationRequired:
			if err := w.migrate(ctx, org, res.Tray, c); err != nil {
				return err
			}
		case fetcher.Healthy:
			if err := org.ApplyAccountInfo(res.Generation, res.Infos); err != nil {
				return fmt.Errorf("apply account info: %w", err)
			}
			if err := w.ReceiveFromIncoming(ctx, org); err != nil {
				return err
			}
			return w.SwapIfNeeded(ctx, org)
		default:
			return fmt.Errorf("unexpected classification %T", c)
		}
	}
	return ErrTooManySteps
}

func feePayer(tray *organizer.Tray) (organizer.SubAccount, error) {
	payer, ok := tray.Account(wallet.KindLegacyPrimary)
	if !ok {
		return organizer.SubAccount{}, ErrNoFeePayer
	}
	return payer, nil
}

func (w *Workflow) send(ctx context.Context, b *tx.Builder) (solana.Signature, error) {
	transaction, err := b.Build()
	if err != nil {
		return solana.Signature{}, err
	}
	l := logger(ctx)
	l.Info().
		Str("purpose", transaction.Purpose.String()).
		Str("intent", transaction.Hash().Short()).
		Int("instructions", len(transaction.Instructions)).
		Uint64("fee", tx.EstimateFee(transaction, w.cfg.ComputeUnits, w.cfg.MicroLamports)).
		Msg("Submitting transaction")
	sig, err := w.submit.Submit(ctx, transaction)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("submit %s: %w", transaction.Purpose, err)
	}
	return sig, nil
}
