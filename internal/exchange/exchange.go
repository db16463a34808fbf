// Package exchange fetches fiat exchange rates for Kin and caches them in
// storage so a restart does not need the network to value the balance.
package exchange

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Klingon-tech/klingnet-tray/internal/log"
	"github.com/Klingon-tech/klingnet-tray/internal/storage"
	"github.com/Klingon-tech/klingnet-tray/pkg/kin"
)

// DefaultMaxAge is how long fetched rates stay fresh.
const DefaultMaxAge = 15 * time.Minute

// HistoryRetention is how long fetched rate tables are kept for History.
const HistoryRetention = 7 * 24 * time.Hour

var (
	latestKey     = []byte("latest")
	historyPrefix = []byte("history/")
	errStopScan   = errors.New("stop")
)

// historyKey orders entries by fetch time: big-endian unix nanoseconds.
func historyKey(t time.Time) []byte {
	k := make([]byte, len(historyPrefix)+8)
	copy(k, historyPrefix)
	binary.BigEndian.PutUint64(k[len(historyPrefix):], uint64(t.UnixNano()))
	return k
}

func historyTime(key []byte) time.Time {
	if len(key) != len(historyPrefix)+8 {
		return time.Time{}
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(key[len(historyPrefix):])))
}

// Fetch errors.
var (
	ErrNoRates  = errors.New("no exchange rates")
	ErrNoSource = errors.New("exchange has no rate source")
)

// Rates is a table of the fiat value of one Kin per currency.
type Rates struct {
	AsOf time.Time                            `json:"asOf"`
	Fx   map[kin.CurrencyCode]decimal.Decimal `json:"fx"`
}

// RateSource fetches the current rate table.
type RateSource interface {
	FetchRates(ctx context.Context) (Rates, error)
}

type cachedRates struct {
	Rates
	FetchedAt time.Time `json:"fetchedAt"`
}

// Exchange serves rates from a cache refreshed from a RateSource.
type Exchange struct {
	src    RateSource
	db     storage.DB
	maxAge time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	current *cachedRates
}

// New creates an exchange and loads any cached rates from db. A nil src
// serves the cache only.
func New(src RateSource, db storage.DB, maxAge time.Duration) (*Exchange, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	e := &Exchange{src: src, db: db, maxAge: maxAge, now: time.Now}

	var cached cachedRates
	switch err := storage.GetJSON(db, latestKey, &cached); {
	case err == nil:
		e.current = &cached
		log.Exchange.Debug().
			Time("fetched_at", cached.FetchedAt).
			Int("currencies", len(cached.Fx)).
			Msg("Loaded cached rates")
	case errors.Is(err, storage.ErrNotFound):
	default:
		return nil, fmt.Errorf("load cached rates: %w", err)
	}
	return e, nil
}

// FetchedAt returns when the current rates were fetched, or the zero time.
func (e *Exchange) FetchedAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return time.Time{}
	}
	return e.current.FetchedAt
}

// Stale reports whether the cache is empty or older than MaxAge.
func (e *Exchange) Stale() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current == nil || e.now().Sub(e.current.FetchedAt) >= e.maxAge
}

// FetchRatesIfNeeded refreshes the cache when it is stale. It reports
// whether a fetch happened. On failure the previous rates stay in place.
func (e *Exchange) FetchRatesIfNeeded(ctx context.Context) (bool, error) {
	if !e.Stale() {
		return false, nil
	}
	return true, e.FetchRates(ctx)
}

// FetchRates unconditionally refreshes the cache.
func (e *Exchange) FetchRates(ctx context.Context) error {
	if e.src == nil {
		return ErrNoSource
	}
	rates, err := e.src.FetchRates(ctx)
	if err != nil {
		return fmt.Errorf("fetch rates: %w", err)
	}
	if len(rates.Fx) == 0 {
		return ErrNoRates
	}

	cached := &cachedRates{Rates: rates, FetchedAt: e.now()}
	if err := e.store(cached); err != nil {
		return fmt.Errorf("store rates: %w", err)
	}

	e.mu.Lock()
	e.current = cached
	e.mu.Unlock()

	log.Exchange.Info().
		Time("as_of", rates.AsOf).
		Int("currencies", len(rates.Fx)).
		Msg("Rates updated")
	return nil
}

// store writes cached as the latest table, appends it to the history and
// prunes entries past HistoryRetention. Stores that support batches apply
// all of it atomically.
func (e *Exchange) store(cached *cachedRates) error {
	data, err := json.Marshal(cached)
	if err != nil {
		return err
	}

	cutoff := cached.FetchedAt.Add(-HistoryRetention)
	var expired [][]byte
	err = e.db.ForEach(historyPrefix, func(key, _ []byte) error {
		if !historyTime(key).Before(cutoff) {
			return errStopScan
		}
		expired = append(expired, key)
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return err
	}

	if b, ok := e.db.(storage.Batcher); ok {
		batch := b.NewBatch()
		if err := batch.Put(latestKey, data); err != nil {
			return err
		}
		if err := batch.Put(historyKey(cached.FetchedAt), data); err != nil {
			return err
		}
		for _, k := range expired {
			if err := batch.Delete(k); err != nil {
				return err
			}
		}
		return batch.Commit()
	}

	if err := e.db.Put(latestKey, data); err != nil {
		return err
	}
	if err := e.db.Put(historyKey(cached.FetchedAt), data); err != nil {
		return err
	}
	for _, k := range expired {
		if err := e.db.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// HistoryPoint is the rate of one currency at a fetch.
type HistoryPoint struct {
	FetchedAt time.Time
	AsOf      time.Time
	Fx        decimal.Decimal
}

// History returns the stored rates for currency fetched at or after since,
// oldest first. Fetches that did not include currency are skipped.
func (e *Exchange) History(currency kin.CurrencyCode, since time.Time) ([]HistoryPoint, error) {
	var out []HistoryPoint
	err := e.db.ForEach(historyPrefix, func(key, value []byte) error {
		if historyTime(key).Before(since) {
			return nil
		}
		var c cachedRates
		if err := json.Unmarshal(value, &c); err != nil {
			return fmt.Errorf("decode %x: %w", key, err)
		}
		if fx, ok := c.Fx[currency]; ok {
			out = append(out, HistoryPoint{FetchedAt: c.FetchedAt, AsOf: c.AsOf, Fx: fx})
		}
		return nil
	})
	return out, err
}

// RateFor returns the rate for currency. Kin is always available at 1:1.
func (e *Exchange) RateFor(currency kin.CurrencyCode) (kin.Rate, bool) {
	if currency == kin.KIN {
		return kin.OneToOne, true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return kin.Rate{}, false
	}
	fx, ok := e.current.Fx[currency]
	if !ok || !fx.IsPositive() {
		return kin.Rate{}, false
	}
	return kin.Rate{Fx: fx, Currency: currency}, true
}
