package kin

import (
	"fmt"
	"strings"
)

// CurrencyCode is an ISO-4217 style currency identifier (upper case).
type CurrencyCode string

// Supported fiat currencies.
const (
	USD CurrencyCode = "USD"
	EUR CurrencyCode = "EUR"
	GBP CurrencyCode = "GBP"
	CAD CurrencyCode = "CAD"
	AUD CurrencyCode = "AUD"
	JPY CurrencyCode = "JPY"
	CHF CurrencyCode = "CHF"
	MXN CurrencyCode = "MXN"
	KIN CurrencyCode = "KIN"
)

var currencySymbols = map[CurrencyCode]string{
	USD: "$",
	EUR: "€",
	GBP: "£",
	CAD: "CA$",
	AUD: "A$",
	JPY: "¥",
	CHF: "CHF ",
	MXN: "MX$",
	KIN: "K ",
}

// ParseCurrencyCode parses a currency code case-insensitively.
func ParseCurrencyCode(s string) (CurrencyCode, error) {
	code := CurrencyCode(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := currencySymbols[code]; !ok {
		return "", fmt.Errorf("unsupported currency %q", s)
	}
	return code, nil
}

// Symbol returns the display prefix for the currency.
func (c CurrencyCode) Symbol() string {
	if s, ok := currencySymbols[c]; ok {
		return s
	}
	return string(c) + " "
}

// Decimals returns the number of minor-unit digits shown for the currency.
func (c CurrencyCode) Decimals() int32 {
	switch c {
	case JPY:
		return 0
	case KIN:
		return Decimals
	default:
		return 2
	}
}
