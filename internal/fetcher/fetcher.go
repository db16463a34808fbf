// Package fetcher reads the on-chain state of a tray and classifies it.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/Klingon-tech/klingnet-tray/internal/log"
	"github.com/Klingon-tech/klingnet-tray/internal/organizer"
	"github.com/Klingon-tech/klingnet-tray/internal/wallet"
)

// DefaultTimeout bounds a single fetch.
const DefaultTimeout = 15 * time.Second

// Fetcher errors.
var (
	ErrFetchTimedOut      = errors.New("account state fetch timed out")
	ErrIncompleteSnapshot = errors.New("state source omitted accounts")
)

// StateSource returns the state of the given accounts, in any order.
// Accounts that do not exist on-chain are reported with Exists=false.
type StateSource interface {
	FetchAccountState(ctx context.Context, addrs []solana.PublicKey) ([]organizer.AccountInfo, error)
}

// MigrationLedger reports accounts already migrated this session.
type MigrationLedger interface {
	IsMigrated(addr solana.PublicKey) bool
}

// Result is a classified fetch. It is never applied by the fetcher.
type Result struct {
	Tray           *organizer.Tray
	Generation     uint64
	Infos          []organizer.AccountInfo // in tray order
	Classification Classification
}

// Fetcher queries a StateSource with a bounded timeout.
type Fetcher struct {
	src     StateSource
	timeout time.Duration
}

// New creates a fetcher. A non-positive timeout selects DefaultTimeout.
func New(src StateSource, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{src: src, timeout: timeout}
}

// Timeout returns the per-fetch bound.
func (f *Fetcher) Timeout() time.Duration {
	return f.timeout
}

// Fetch reads the organizer's current tray, queries its vaults and
// classifies the result. It never mutates the organizer.
func (f *Fetcher) Fetch(ctx context.Context, org *organizer.Organizer) (*Result, error) {
	tray, gen := org.Snapshot()
	infos, err := f.query(ctx, tray.Vaults())
	if err != nil {
		return nil, err
	}
	ordered, err := normalize(tray, infos)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Tray:           tray,
		Generation:     gen,
		Infos:          ordered,
		Classification: Classify(tray, ordered, org),
	}
	log.Fetcher.Debug().
		Str("class", res.Classification.String()).
		Str("tray", tray.Fingerprint().Short()).
		Uint64("generation", gen).
		Msg("Fetched account state")
	return res, nil
}

// Lookup returns the state of addrs outside any tray, under the same
// timeout as Fetch.
func (f *Fetcher) Lookup(ctx context.Context, addrs ...solana.PublicKey) ([]organizer.AccountInfo, error) {
	return f.query(ctx, addrs)
}

// query runs the source call under the timeout. A source that ignores its
// context is abandoned when the deadline passes.
func (f *Fetcher) query(ctx context.Context, addrs []solana.PublicKey) ([]organizer.AccountInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	type reply struct {
		infos []organizer.AccountInfo
		err   error
	}
	ch := make(chan reply, 1)
	go func() {
		infos, err := f.src.FetchAccountState(ctx, addrs)
		ch <- reply{infos, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %v", ErrFetchTimedOut, r.err)
			}
			return nil, fmt.Errorf("fetch account state: %w", r.err)
		}
		return r.infos, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrFetchTimedOut, f.timeout)
		}
		return nil, ctx.Err()
	}
}

// normalize orders infos by tray and sets the migration flag on a legacy
// account that still holds funds.
func normalize(tray *organizer.Tray, infos []organizer.AccountInfo) ([]organizer.AccountInfo, error) {
	byAddr := make(map[solana.PublicKey]organizer.AccountInfo, len(infos))
	for _, info := range infos {
		byAddr[info.Address] = info
	}
	accounts := tray.Accounts()
	out := make([]organizer.AccountInfo, 0, len(accounts))
	for _, a := range accounts {
		info, ok := byAddr[a.Vault]
		if !ok {
			return nil, fmt.Errorf("%w: %s %s", ErrIncompleteSnapshot, a.Kind, a.Vault)
		}
		if !info.Exists {
			info.Balance = 0
		}
		if a.Kind == wallet.KindLegacyPrimary && info.Balance > 0 {
			info.RequiresMigration = true
		}
		out = append(out, info)
	}
	return out, nil
}

// Classify applies the classification rules to tray-ordered infos:
// a missing required account wins, then the first flagged account not yet
// migrated, otherwise Healthy.
func Classify(tray *organizer.Tray, infos []organizer.AccountInfo, ledger MigrationLedger) Classification {
	var missing []wallet.AccountKind
	for _, info := range infos {
		a, ok := tray.ByVault(info.Address)
		if !ok {
			continue
		}
		if a.Kind.Required() && !info.Exists {
			missing = append(missing, a.Kind)
		}
	}
	if len(missing) > 0 {
		return NotFound{Missing: missing}
	}

	for _, info := range infos {
		if !info.RequiresMigration || info.Balance == 0 {
			continue
		}
		if ledger != nil && ledger.IsMigrated(info.Address) {
			continue
		}
		a, _ := tray.ByVault(info.Address)
		return MigrationRequired{Kind: a.Kind, Source: info.Address, Amount: info.Balance}
	}
	return Healthy{}
}
