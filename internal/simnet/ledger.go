// Package simnet is an in-memory ledger that executes the tray's
// instructions. It backs the "simnet" network and the engine's tests.
package simnet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/Klingon-tech/klingnet-tray/internal/log"
	"github.com/Klingon-tech/klingnet-tray/internal/organizer"
	"github.com/Klingon-tech/klingnet-tray/pkg/instruction"
	"github.com/Klingon-tech/klingnet-tray/pkg/kin"
	"github.com/Klingon-tech/klingnet-tray/pkg/tx"
)

// Execution errors.
var (
	ErrAccountExists       = errors.New("account already exists")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrUnauthorized        = errors.New("authority did not sign or does not own vault")
	ErrUnsupportedProgram  = errors.New("instruction not supported by simnet")
	ErrInjectedSubmitError = errors.New("injected submit failure")
)

type account struct {
	balance           kin.Quarks
	requiresMigration bool
}

// Ledger is a single-node, in-memory chain. Submitted transactions are
// executed atomically: either every instruction applies or none does.
type Ledger struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey]*account

	latency   time.Duration
	submitErr error

	fetches     int
	inflight    int
	maxInflight int
	submitted   []*tx.Transaction
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{accounts: make(map[solana.PublicKey]*account)}
}

// SetLatency delays every fetch and submit by d.
func (l *Ledger) SetLatency(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.latency = d
}

// FailNextSubmit makes the next Submit fail with err without executing.
func (l *Ledger) FailNextSubmit(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		err = ErrInjectedSubmitError
	}
	l.submitErr = err
}

// Open creates addr with a zero balance if it does not exist.
func (l *Ledger) Open(addr solana.PublicKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[addr]; !ok {
		l.accounts[addr] = &account{}
	}
}

// Deposit credits amount to addr, creating it if needed.
func (l *Ledger) Deposit(addr solana.PublicKey, amount kin.Quarks) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[addr]
	if !ok {
		a = &account{}
		l.accounts[addr] = a
	}
	a.balance += amount
}

// FlagMigration marks addr as holding funds that must be migrated.
func (l *Ledger) FlagMigration(addr solana.PublicKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.accounts[addr]; ok {
		a.requiresMigration = true
	}
}

// Balance returns the balance of addr and whether it exists.
func (l *Ledger) Balance(addr solana.PublicKey) (kin.Quarks, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[addr]
	if !ok {
		return 0, false
	}
	return a.balance, true
}

// Supply sums every balance on the ledger.
func (l *Ledger) Supply() kin.Quarks {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sum kin.Quarks
	for _, a := range l.accounts {
		sum += a.balance
	}
	return sum
}

// Fetches returns the number of FetchAccountState calls.
func (l *Ledger) Fetches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fetches
}

// MaxConcurrentFetches returns the highest number of fetches that were in
// flight at once.
func (l *Ledger) MaxConcurrentFetches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxInflight
}

// Submitted returns every successfully executed transaction.
func (l *Ledger) Submitted() []*tx.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*tx.Transaction, len(l.submitted))
	copy(out, l.submitted)
	return out
}

func (l *Ledger) wait(ctx context.Context) error {
	l.mu.Lock()
	d := l.latency
	l.mu.Unlock()
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchAccountState implements fetcher.StateSource.
func (l *Ledger) FetchAccountState(ctx context.Context, addrs []solana.PublicKey) ([]organizer.AccountInfo, error) {
	l.mu.Lock()
	l.fetches++
	l.inflight++
	if l.inflight > l.maxInflight {
		l.maxInflight = l.inflight
	}
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.inflight--
		l.mu.Unlock()
	}()

	if err := l.wait(ctx); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]organizer.AccountInfo, len(addrs))
	for i, addr := range addrs {
		info := organizer.AccountInfo{Address: addr}
		if a, ok := l.accounts[addr]; ok {
			info.Exists = true
			info.Balance = a.balance
			info.RequiresMigration = a.requiresMigration
		}
		out[i] = info
	}
	return out, nil
}

// Submit implements workflow.Submitter. Every instruction goes through its
// wire encoding and back before execution.
func (l *Ledger) Submit(ctx context.Context, transaction *tx.Transaction) (solana.Signature, error) {
	if err := transaction.Validate(); err != nil {
		return solana.Signature{}, fmt.Errorf("simnet: %w", err)
	}
	if err := l.wait(ctx); err != nil {
		return solana.Signature{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.submitErr; err != nil {
		l.submitErr = nil
		return solana.Signature{}, err
	}

	state := make(map[solana.PublicKey]account, len(l.accounts))
	for k, v := range l.accounts {
		state[k] = *v
	}
	for i, built := range transaction.Built() {
		ix, err := instruction.DecodeGeneric(built)
		if err != nil {
			return solana.Signature{}, fmt.Errorf("simnet: instruction %d: %w", i, err)
		}
		if err := execute(state, transaction, ix); err != nil {
			return solana.Signature{}, fmt.Errorf("simnet: instruction %d (%T): %w", i, ix, err)
		}
	}

	for k := range l.accounts {
		if _, ok := state[k]; !ok {
			delete(l.accounts, k)
		}
	}
	for k, v := range state {
		a := v
		l.accounts[k] = &a
	}
	l.submitted = append(l.submitted, transaction)

	var sig solana.Signature
	h := transaction.Hash()
	copy(sig[:], h[:])
	copy(sig[32:], h[:])
	log.RPC.Debug().
		Str("purpose", transaction.Purpose.String()).
		Str("intent", h.Short()).
		Msg("Simnet executed transaction")
	return sig, nil
}

func execute(state map[solana.PublicKey]account, transaction *tx.Transaction, ix instruction.Instruction) error {
	switch v := ix.(type) {
	case instruction.SetComputeUnitLimit, instruction.SetComputeUnitPrice, instruction.RequestUnits, instruction.Memo:
		return nil
	case instruction.Initialize:
		if err := authorize(transaction, v.Authority, v.Vault); err != nil {
			return err
		}
		if _, ok := state[v.Vault]; ok {
			return fmt.Errorf("%w: %s", ErrAccountExists, v.Vault)
		}
		state[v.Vault] = account{}
		return nil
	case instruction.TransferWithAuthority:
		if err := authorize(transaction, v.Authority, v.Source); err != nil {
			return err
		}
		src, ok := state[v.Source]
		if !ok {
			return fmt.Errorf("%w: source %s", ErrAccountNotFound, v.Source)
		}
		dst, ok := state[v.Destination]
		if !ok {
			return fmt.Errorf("%w: destination %s", ErrAccountNotFound, v.Destination)
		}
		amount := kin.Quarks(v.Amount)
		if src.balance < amount {
			return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, src.balance, amount)
		}
		src.balance -= amount
		if src.balance == 0 {
			src.requiresMigration = false
		}
		dst.balance += amount
		state[v.Source] = src
		state[v.Destination] = dst
		return nil
	case instruction.BurnDustWithAuthority:
		if err := authorize(transaction, v.Authority, v.Vault); err != nil {
			return err
		}
		a, ok := state[v.Vault]
		if !ok {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, v.Vault)
		}
		a.balance -= min(a.balance, kin.Quarks(v.MaxAmount))
		state[v.Vault] = a
		return nil
	case instruction.CloseAccounts:
		if err := authorize(transaction, v.Authority, v.Vault); err != nil {
			return err
		}
		a, ok := state[v.Vault]
		if !ok {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, v.Vault)
		}
		if a.balance != 0 {
			return fmt.Errorf("close %s: balance %d is not zero", v.Vault, a.balance)
		}
		delete(state, v.Vault)
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedProgram, ix)
	}
}

// authorize checks that authority signed and owns vault.
func authorize(transaction *tx.Transaction, authority, vault solana.PublicKey) error {
	if transaction.KeyFor(authority) == nil {
		return fmt.Errorf("%w: %s not a signer", ErrUnauthorized, authority)
	}
	want, _, err := instruction.FindVaultAddress(authority)
	if err != nil {
		return err
	}
	if !want.Equals(vault) {
		return fmt.Errorf("%w: %s is not the vault of %s", ErrUnauthorized, vault, authority)
	}
	return nil
}
