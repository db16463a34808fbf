// Package balance turns the organizer's available balance into a
// display-ready fiat value and publishes it to subscribers.
//
// The publisher keeps the last value of each input (rate, balance,
// connectivity, currency) and recomputes the display from all of them
// whenever one changes. Identical displays are not republished.
package balance

import (
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/Klingon-tech/klingnet-tray/internal/log"
	"github.com/Klingon-tech/klingnet-tray/pkg/kin"
)

// DefaultSuffix follows the formatted fiat value.
const DefaultSuffix = "of Kin"

// DefaultLocale decides digit grouping and the decimal mark when none is
// set.
var DefaultLocale = language.AmericanEnglish

// RateLookup resolves the current rate for a currency.
type RateLookup interface {
	RateFor(currency kin.CurrencyCode) (kin.Rate, bool)
}

// Display is a formatted balance.
type Display struct {
	MarketValue decimal.Decimal
	Text        string
	Currency    kin.CurrencyCode
}

// Equal compares value and text.
func (d Display) Equal(o Display) bool {
	return d.MarketValue.Equal(o.MarketValue) && d.Text == o.Text
}

// Publisher recomputes and republishes the balance display.
type Publisher struct {
	rates  RateLookup
	suffix string

	mu         sync.Mutex
	locale     language.Tag
	currency   kin.CurrencyCode
	balance    kin.Quarks
	hasBalance bool
	connected  bool
	last       *Display
	subs       map[int]chan Display
	nextSub    int
}

// NewPublisher creates a publisher valuing balances in currency.
func NewPublisher(rates RateLookup, currency kin.CurrencyCode, suffix string) *Publisher {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	return &Publisher{
		rates:     rates,
		suffix:    suffix,
		locale:    DefaultLocale,
		currency:  currency,
		connected: true,
		subs:      make(map[int]chan Display),
	}
}

// SetBalance records a new available balance.
func (p *Publisher) SetBalance(q kin.Quarks) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balance = q
	p.hasBalance = true
	p.recompute()
}

// SetCurrency switches the display currency.
func (p *Publisher) SetCurrency(c kin.CurrencyCode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currency = c
	p.recompute()
}

// SetLocale switches the number format of the display.
func (p *Publisher) SetLocale(tag language.Tag) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locale = tag
	p.recompute()
}

// SetConnected records network connectivity.
func (p *Publisher) SetConnected(connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = connected
	p.recompute()
}

// RatesChanged tells the publisher the rate table was refreshed.
func (p *Publisher) RatesChanged() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recompute()
}

// Reset forgets the balance and the last display, so nothing is shown until
// the next SetBalance. Undelivered displays are dropped from subscribers.
func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balance = 0
	p.hasBalance = false
	p.connected = true
	p.last = nil
	for _, ch := range p.subs {
		select {
		case <-ch:
		default:
		}
	}
	log.Balance.Debug().Msg("Balance display reset")
}

// Connected reports the last recorded connectivity.
func (p *Publisher) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Current returns the last published display.
func (p *Publisher) Current() (Display, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return Display{}, false
	}
	return *p.last, true
}

// Subscribe returns a channel that always holds the latest display. A slow
// reader skips intermediate values. The current display, if any, is
// delivered first.
func (p *Publisher) Subscribe() (<-chan Display, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan Display, 1)
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	if p.last != nil {
		ch <- *p.last
	}
	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(ch)
		}
	}
}

// recompute must be called with mu held.
func (p *Publisher) recompute() {
	if !p.hasBalance {
		return
	}
	rate, ok := p.rates.RateFor(p.currency)
	if !ok {
		log.Balance.Debug().Str("currency", string(p.currency)).Msg("No rate yet, keeping previous display")
		return
	}

	d := FormatLocale(p.locale, kin.NewKinAmountFromKin(p.balance, rate), p.suffix)
	if p.last != nil && p.last.Equal(d) {
		return
	}
	p.last = &d
	log.Balance.Debug().
		Str("display", d.Text).
		Bool("connected", p.connected).
		Msg("Balance display updated")

	for _, ch := range p.subs {
		select {
		case <-ch:
		default:
		}
		ch <- d
	}
}

// Format renders amount in DefaultLocale as symbol, grouped value and
// suffix, for example "$1,234.57 of Kin".
func Format(amount kin.KinAmount, suffix string) Display {
	return FormatLocale(DefaultLocale, amount, suffix)
}

// FormatLocale is Format with the grouping and decimal mark of tag, so
// German renders "$1.234,57 of Kin".
func FormatLocale(tag language.Tag, amount kin.KinAmount, suffix string) Display {
	currency := amount.Rate.Currency
	places := min(currency.Decimals(), 2)
	value := amount.Fiat.Round(places)

	var b strings.Builder
	if value.IsNegative() {
		b.WriteByte('-')
	}
	b.WriteString(currency.Symbol())
	p := message.NewPrinter(tag)
	b.WriteString(p.Sprint(number.Decimal(value.Abs().InexactFloat64(), number.Scale(int(places)))))
	if suffix != "" {
		b.WriteByte(' ')
		b.WriteString(suffix)
	}
	return Display{MarketValue: value, Text: b.String(), Currency: currency}
}
