package fetcher

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/Klingon-tech/klingnet-tray/internal/wallet"
	"github.com/Klingon-tech/klingnet-tray/pkg/kin"
)

// Classification is the outcome of a fetch: Healthy, NotFound or
// MigrationRequired.
type Classification interface {
	// Err returns nil for Healthy and a typed error otherwise.
	Err() error
	String() string
	isClassification()
}

// Healthy means every required sub-account exists and nothing needs
// migrating.
type Healthy struct{}

// NotFound lists the required sub-accounts missing on-chain.
type NotFound struct {
	Missing []wallet.AccountKind
}

// MigrationRequired names the first account holding funds that must move
// into the primary vault.
type MigrationRequired struct {
	Kind   wallet.AccountKind
	Source solana.PublicKey
	Amount kin.Quarks
}

func (Healthy) isClassification()           {}
func (NotFound) isClassification()          {}
func (MigrationRequired) isClassification() {}

func (Healthy) Err() error { return nil }

func (c NotFound) Err() error {
	return &NotFoundError{Missing: c.Missing}
}

func (c MigrationRequired) Err() error {
	return &MigrationRequiredError{Kind: c.Kind, Source: c.Source, Amount: c.Amount}
}

func (Healthy) String() string { return "healthy" }

func (c NotFound) String() string { return "not_found" }

func (c MigrationRequired) String() string { return "migration_required" }

// NotFoundError is returned when required sub-accounts do not exist.
type NotFoundError struct {
	Missing []wallet.AccountKind
}

func (e *NotFoundError) Error() string {
	names := make([]string, len(e.Missing))
	for i, k := range e.Missing {
		names[i] = k.String()
	}
	return fmt.Sprintf("accounts not found: %s", strings.Join(names, ", "))
}

// MigrationRequiredError is returned when funds must be migrated first.
type MigrationRequiredError struct {
	Kind   wallet.AccountKind
	Source solana.PublicKey
	Amount kin.Quarks
}

func (e *MigrationRequiredError) Error() string {
	return fmt.Sprintf("migration required: %s kin in %s account %s", e.Amount, e.Kind, e.Source)
}
