package kin

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Rate is the fiat value of one whole Kin in Currency.
type Rate struct {
	Fx       decimal.Decimal `json:"fx"`
	Currency CurrencyCode    `json:"currency"`
}

// OneToOne is the identity rate used for Kin-denominated values.
var OneToOne = Rate{Fx: decimal.NewFromInt(1), Currency: KIN}

// Fiat is a fiat-only amount.
type Fiat struct {
	Currency CurrencyCode
	Amount   decimal.Decimal
}

// KinAmount pairs a quark amount with the rate and fiat value it was
// exchanged at. Values are never mutated after construction.
type KinAmount struct {
	Kin  Quarks
	Fiat decimal.Decimal
	Rate Rate
}

// NewKinAmountFromKin values kin at rate.
func NewKinAmountFromKin(q Quarks, rate Rate) KinAmount {
	return KinAmount{
		Kin:  q,
		Fiat: q.Decimal().Mul(rate.Fx),
		Rate: rate,
	}
}

// NewKinAmountFromFiat converts a fiat amount into kin at rate, truncating to
// whole quarks.
func NewKinAmountFromFiat(fiat decimal.Decimal, rate Rate) (KinAmount, error) {
	if !rate.Fx.IsPositive() {
		return KinAmount{}, fmt.Errorf("rate for %s must be positive, got %s", rate.Currency, rate.Fx)
	}
	q, err := QuarksFromDecimal(fiat.DivRound(rate.Fx, Decimals+8))
	if err != nil {
		return KinAmount{}, err
	}
	return KinAmount{Kin: q, Fiat: fiat, Rate: rate}, nil
}

// Equal reports whether two amounts carry the same kin, fiat and rate.
func (a KinAmount) Equal(b KinAmount) bool {
	return a.Kin == b.Kin &&
		a.Fiat.Equal(b.Fiat) &&
		a.Rate.Currency == b.Rate.Currency &&
		a.Rate.Fx.Equal(b.Rate.Fx)
}

// GenericAmount is either an Exact amount (kin plus the fiat rate at time of
// send) or a Partial fiat-only amount whose kin value is not yet known.
type GenericAmount interface {
	Currency() CurrencyCode
	FiatValue() decimal.Decimal
	isGenericAmount()
}

// Exact is a fully resolved amount.
type Exact struct {
	Amount KinAmount
}

// Partial is a pending fiat-only amount.
type Partial struct {
	Fiat Fiat
}

func (e Exact) Currency() CurrencyCode       { return e.Amount.Rate.Currency }
func (e Exact) FiatValue() decimal.Decimal   { return e.Amount.Fiat }
func (Exact) isGenericAmount()               {}
func (p Partial) Currency() CurrencyCode     { return p.Fiat.Currency }
func (p Partial) FiatValue() decimal.Decimal { return p.Fiat.Amount }
func (Partial) isGenericAmount()             {}

// Resolve converts any GenericAmount into an exact KinAmount using rate for
// partial amounts. The rate currency must match the partial currency.
func Resolve(g GenericAmount, rate Rate) (KinAmount, error) {
	switch a := g.(type) {
	case Exact:
		return a.Amount, nil
	case Partial:
		if a.Fiat.Currency != rate.Currency {
			return KinAmount{}, fmt.Errorf("rate currency %s does not match amount currency %s", rate.Currency, a.Fiat.Currency)
		}
		return NewKinAmountFromFiat(a.Fiat.Amount, rate)
	default:
		return KinAmount{}, fmt.Errorf("unknown amount type %T", g)
	}
}

// ParseGenericAmount parses "<value>" as an exact Kin amount and
// "<value> <currency>" as a partial fiat amount. A KIN currency is exact.
func ParseGenericAmount(s string) (GenericAmount, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 || len(fields) > 2 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	value, err := decimal.NewFromString(fields[0])
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if value.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q: negative", s)
	}
	currency := KIN
	if len(fields) == 2 {
		if currency, err = ParseCurrencyCode(fields[1]); err != nil {
			return nil, err
		}
	}
	if currency != KIN {
		return Partial{Fiat: Fiat{Currency: currency, Amount: value}}, nil
	}
	q, err := QuarksFromDecimal(value)
	if err != nil {
		return nil, err
	}
	return Exact{Amount: NewKinAmountFromKin(q, OneToOne)}, nil
}
