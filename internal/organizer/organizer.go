package organizer

import (
	"errors"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/Klingon-tech/klingnet-tray/internal/log"
	"github.com/Klingon-tech/klingnet-tray/pkg/kin"
)

// Organizer errors.
var (
	ErrClosed          = errors.New("organizer closed")
	ErrStaleGeneration = errors.New("tray replaced since snapshot was taken")
	ErrDuplicateKind   = errors.New("duplicate account kind in tray")
	ErrNilTray         = errors.New("tray is nil")
)

// AccountInfo is one account's on-chain state as returned by a fetch.
type AccountInfo struct {
	Address           solana.PublicKey
	Balance           kin.Quarks
	Exists            bool
	RequiresMigration bool
}

// ChangeHandler is called after a mutation changed the available balance.
type ChangeHandler func(available kin.Quarks)

// Organizer owns the session's tray. Reads are concurrent; mutations are
// serialized and swap the whole tray, so a reader never sees a mix of old
// and new sub-accounts.
type Organizer struct {
	wmu sync.Mutex // serializes writers and change notifications

	mu         sync.RWMutex
	tray       *Tray
	generation uint64
	migrated   map[solana.PublicKey]struct{}
	closed     bool

	onChange ChangeHandler
}

// New creates an organizer owning tray.
func New(tray *Tray) (*Organizer, error) {
	if tray == nil {
		return nil, ErrNilTray
	}
	return &Organizer{
		tray:       tray,
		generation: 1,
		migrated:   make(map[solana.PublicKey]struct{}),
	}, nil
}

// SetChangeHandler installs the handler called after every mutation that
// changes the available balance. The handler runs outside the read lock but
// must not mutate the organizer.
func (o *Organizer) SetChangeHandler(fn ChangeHandler) {
	o.wmu.Lock()
	defer o.wmu.Unlock()
	o.onChange = fn
}

// Tray returns the current tray. Trays are immutable.
func (o *Organizer) Tray() *Tray {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.tray
}

// Snapshot returns the current tray together with its generation. The
// generation is bumped every time the tray is replaced.
func (o *Organizer) Snapshot() (*Tray, uint64) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.tray, o.generation
}

// AvailableBalance returns the spendable balance of the current tray.
func (o *Organizer) AvailableBalance() kin.Quarks {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.tray.Available()
}

// SetAccountInfo applies a fetch result. Each sub-account whose vault
// matches a snapshot takes its balance and migration flag; sub-accounts
// without a snapshot keep their previous values.
func (o *Organizer) SetAccountInfo(infos []AccountInfo) error {
	return o.apply(0, false, infos)
}

// ApplyAccountInfo is SetAccountInfo guarded by the generation the snapshot
// was taken at. It fails with ErrStaleGeneration if the tray was replaced
// in between.
func (o *Organizer) ApplyAccountInfo(generation uint64, infos []AccountInfo) error {
	return o.apply(generation, true, infos)
}

func (o *Organizer) apply(generation uint64, guarded bool, infos []AccountInfo) error {
	o.wmu.Lock()
	defer o.wmu.Unlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if guarded && generation != o.generation {
		o.mu.Unlock()
		return ErrStaleGeneration
	}

	byAddr := make(map[solana.PublicKey]AccountInfo, len(infos))
	for _, info := range infos {
		byAddr[info.Address] = info
	}

	changed := false
	accounts := o.tray.Accounts()
	for i, a := range accounts {
		info, ok := byAddr[a.Vault]
		if !ok {
			continue
		}
		if a.Balance != info.Balance || a.PendingMigration != info.RequiresMigration {
			accounts[i].Balance = info.Balance
			accounts[i].PendingMigration = info.RequiresMigration
			changed = true
		}
	}
	if !changed {
		o.mu.Unlock()
		return nil
	}
	o.tray = &Tray{accounts: accounts}
	available := o.tray.Available()
	o.mu.Unlock()

	log.Organizer.Debug().
		Uint64("available", uint64(available)).
		Int("snapshots", len(infos)).
		Msg("Account info applied")
	o.notify(available)
	return nil
}

// SetTray replaces the tray atomically and bumps the generation.
func (o *Organizer) SetTray(tray *Tray) error {
	return o.replace(0, false, tray)
}

// ReplaceTray is SetTray guarded by generation.
func (o *Organizer) ReplaceTray(generation uint64, tray *Tray) error {
	return o.replace(generation, true, tray)
}

func (o *Organizer) replace(generation uint64, guarded bool, tray *Tray) error {
	if tray == nil {
		return ErrNilTray
	}
	o.wmu.Lock()
	defer o.wmu.Unlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if guarded && generation != o.generation {
		o.mu.Unlock()
		return ErrStaleGeneration
	}
	before := o.tray.Available()
	o.tray = tray
	o.generation++
	gen := o.generation
	available := tray.Available()
	o.mu.Unlock()

	log.Organizer.Debug().
		Uint64("generation", gen).
		Str("fingerprint", tray.Fingerprint().Short()).
		Uint64("available", uint64(available)).
		Msg("Tray replaced")
	if available != before {
		o.notify(available)
	}
	return nil
}

// MarkMigrated records that addr has been migrated. It is never unmarked.
func (o *Organizer) MarkMigrated(addr solana.PublicKey) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	o.migrated[addr] = struct{}{}
	return nil
}

// IsMigrated reports whether addr was migrated in this session.
func (o *Organizer) IsMigrated(addr solana.PublicKey) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.migrated[addr]
	return ok
}

// Close tears the organizer down. Every later mutation fails with ErrClosed.
func (o *Organizer) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
}

// Closed reports whether Close was called.
func (o *Organizer) Closed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.closed
}

// notify must be called with wmu held.
func (o *Organizer) notify(available kin.Quarks) {
	if o.onChange != nil {
		o.onChange(available)
	}
}
