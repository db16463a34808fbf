// Package kin defines the currency amount types used by the tray engine.
package kin

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// QuarksPerKin is the number of quarks in one whole Kin.
const QuarksPerKin = 100_000

// Decimals is the number of fractional digits of a Kin value.
const Decimals = 5

// Quarks is an amount in the smallest indivisible currency unit.
type Quarks uint64

// FromKin converts a whole-Kin amount into quarks.
func FromKin(whole uint64) Quarks {
	return Quarks(whole * QuarksPerKin)
}

// Decimal returns the amount in whole Kin as an exact decimal.
func (q Quarks) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(q)), -Decimals)
}

// Whole returns the amount truncated to whole Kin.
func (q Quarks) Whole() uint64 {
	return uint64(q) / QuarksPerKin
}

// String formats the amount as Kin with all fractional digits.
func (q Quarks) String() string {
	return fmt.Sprintf("%d.%05d", uint64(q)/QuarksPerKin, uint64(q)%QuarksPerKin)
}

// QuarksFromDecimal converts a whole-Kin decimal into quarks, truncating any
// precision beyond one quark. Negative values are rejected.
func QuarksFromDecimal(d decimal.Decimal) (Quarks, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("negative kin amount %s", d)
	}
	q := d.Shift(Decimals).Truncate(0)
	b := q.BigInt()
	if !b.IsUint64() {
		return 0, fmt.Errorf("kin amount %s overflows quarks", d)
	}
	return Quarks(b.Uint64()), nil
}
