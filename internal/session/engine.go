// Package session is the engine facade: it owns the organizer of the
// logged-in user and coordinates balance refreshes, rate updates and
// lifecycle events around it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"github.com/Klingon-tech/klingnet-tray/internal/balance"
	"github.com/Klingon-tech/klingnet-tray/internal/events"
	"github.com/Klingon-tech/klingnet-tray/internal/exchange"
	"github.com/Klingon-tech/klingnet-tray/internal/fetcher"
	"github.com/Klingon-tech/klingnet-tray/internal/log"
	"github.com/Klingon-tech/klingnet-tray/internal/organizer"
	"github.com/Klingon-tech/klingnet-tray/internal/poll"
	"github.com/Klingon-tech/klingnet-tray/internal/wallet"
	"github.com/Klingon-tech/klingnet-tray/internal/workflow"
	"github.com/Klingon-tech/klingnet-tray/pkg/kin"
)

// DefaultRefreshTimeout bounds one end-to-end balance refresh.
const DefaultRefreshTimeout = 15 * time.Second

// Session errors.
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrMissingOrganizer = errors.New("authenticated session has no organizer")
	ErrNoStateSource    = errors.New("engine has no state source")
	ErrNoRate           = errors.New("no exchange rate")
)

// Config configures an Engine.
type Config struct {
	RefreshTimeout  time.Duration
	RefreshInterval time.Duration // 0 disables automatic refresh
	RatesInterval   time.Duration // 0 disables automatic rate refresh
	Currency        kin.CurrencyCode
	Suffix          string
	Locale          language.Tag // number format of the display; Und keeps the default
	Workflow        workflow.Config
}

// Deps are the engine's collaborators. Rates and Indices are optional.
type Deps struct {
	Source    fetcher.StateSource
	Submitter workflow.Submitter
	Rates     *exchange.Exchange
	Indices   IndexStore
}

type state struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	org    *organizer.Organizer
	wf     *workflow.Workflow
	tasks  []*poll.Task
}

// Engine serves one user session at a time.
type Engine struct {
	cfg       Config
	deps      Deps
	rates     balance.RateLookup
	publisher *balance.Publisher
	bus       *events.Bus
	flights   singleflight.Group

	mu   sync.Mutex
	auth AuthProvider
	sess *state
}

// New creates a logged-out engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Source == nil {
		return nil, ErrNoStateSource
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	if cfg.Currency == "" {
		cfg.Currency = kin.USD
	}
	var rates balance.RateLookup = kinOnly{}
	if deps.Rates != nil {
		rates = deps.Rates
	}
	publisher := balance.NewPublisher(rates, cfg.Currency, cfg.Suffix)
	if cfg.Locale != language.Und {
		publisher.SetLocale(cfg.Locale)
	}
	return &Engine{
		cfg:       cfg,
		deps:      deps,
		rates:     rates,
		publisher: publisher,
		bus:       events.NewBus(events.DefaultBuffer),
	}, nil
}

// kinOnly values balances in Kin when no exchange is configured.
type kinOnly struct{}

func (kinOnly) RateFor(c kin.CurrencyCode) (kin.Rate, bool) {
	if c == kin.KIN {
		return kin.OneToOne, true
	}
	return kin.Rate{}, false
}

// Login starts a session for the user of provider, replacing any current
// session. If the tray cannot be derived the provider stays installed and
// refreshes report ErrMissingOrganizer.
func (e *Engine) Login(provider AuthProvider) error {
	e.Logout()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.auth = provider

	root, ok := provider.RootKey()
	if !ok {
		return ErrNotAuthenticated
	}

	var indices map[wallet.AccountKind]uint32
	if e.deps.Indices != nil {
		var err error
		if indices, err = e.deps.Indices.Indices(); err != nil {
			return fmt.Errorf("load indices: %w", err)
		}
	}
	tray, err := organizer.DeriveTray(root, indices)
	if err != nil {
		log.Session.Error().Err(err).Msg("Cannot derive tray")
		return fmt.Errorf("derive tray: %w", err)
	}
	org, err := organizer.New(tray)
	if err != nil {
		return err
	}
	wf := workflow.New(fetcher.New(e.deps.Source, e.cfg.RefreshTimeout), e.deps.Submitter, root, e.cfg.Workflow)
	wf.SetEmitter(e.bus)
	if e.deps.Indices != nil {
		wf.SetIndexRecorder(e.deps.Indices.SetIndex)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &state{id: uuid.NewString(), ctx: ctx, cancel: cancel, org: org, wf: wf}
	e.sess = s
	org.SetChangeHandler(func(q kin.Quarks) { e.publish(s, q) })

	if e.cfg.RefreshInterval > 0 {
		s.tasks = append(s.tasks, poll.New("refresh", e.cfg.RefreshInterval, e.RefreshBalance))
	}
	if e.deps.Rates != nil && e.cfg.RatesInterval > 0 {
		s.tasks = append(s.tasks, poll.New("rates", e.cfg.RatesInterval, e.RefreshRates))
	}
	for _, t := range s.tasks {
		if err := t.Start(ctx); err != nil {
			return err
		}
	}
	go e.watchRevocation(provider, s)

	log.Session.Info().
		Str("session", s.id).
		Str("tray", tray.Fingerprint().Short()).
		Msg("Logged in")
	return nil
}

func (e *Engine) watchRevocation(provider AuthProvider, s *state) {
	select {
	case <-provider.Revoked():
		e.mu.Lock()
		current := e.sess == s
		e.mu.Unlock()
		if current {
			log.Session.Info().Str("session", s.id).Msg("Authentication revoked")
			e.Logout()
		}
	case <-s.ctx.Done():
	}
}

// Logout tears down the session. In-flight network calls are abandoned and
// their results discarded.
func (e *Engine) Logout() {
	e.mu.Lock()
	s := e.sess
	e.sess = nil
	e.auth = nil
	e.mu.Unlock()
	if s == nil {
		return
	}

	s.cancel()
	for _, t := range s.tasks {
		t.Stop()
	}
	s.org.Close()
	e.publisher.Reset()
	log.Session.Info().Str("session", s.id).Msg("Logged out")
}

// publish forwards a balance of session s to the publisher. Balances of a
// session that is no longer current are dropped.
func (e *Engine) publish(s *state, q kin.Quarks) {
	e.whileCurrent(s, func() { e.publisher.SetBalance(q) })
}

// whileCurrent runs fn if s is still the current session, holding mu so a
// concurrent Logout cannot interleave.
func (e *Engine) whileCurrent(s *state, fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != s {
		log.Session.Debug().Str("session", s.id).Msg("Dropped update of ended session")
		return
	}
	fn()
}

// Close logs out and closes every event subscription.
func (e *Engine) Close() {
	e.Logout()
	e.bus.Close()
}

// LoggedIn reports whether a session is active.
func (e *Engine) LoggedIn() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess != nil
}

// Organizer returns the session's organizer, or nil when logged out.
func (e *Engine) Organizer() *organizer.Organizer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return nil
	}
	return e.sess.org
}

func (e *Engine) current() (*state, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.auth == nil {
		return nil, ErrNotAuthenticated
	}
	if _, ok := e.auth.RootKey(); !ok {
		return nil, ErrNotAuthenticated
	}
	if e.sess == nil || e.sess.org == nil {
		return nil, ErrMissingOrganizer
	}
	return e.sess, nil
}

// RefreshBalance fetches the tray's state and reconciles it. Concurrent
// calls share one in-flight refresh; a caller whose ctx ends stops waiting
// without cancelling the shared refresh. Without an authenticated user this
// is a no-op.
func (e *Engine) RefreshBalance(ctx context.Context) error {
	s, err := e.current()
	if errors.Is(err, ErrNotAuthenticated) {
		log.Session.Debug().Msg("Refresh skipped, not authenticated")
		return nil
	}
	if err != nil {
		log.Session.Error().Err(err).Msg("Refresh failed")
		return err
	}

	ch := e.flights.DoChan(s.id, func() (any, error) {
		return nil, e.refresh(s)
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) refresh(s *state) error {
	logger := log.WithRefresh(log.Session, uuid.NewString())
	ctx, cancel := context.WithTimeout(s.ctx, e.cfg.RefreshTimeout)
	defer cancel()
	ctx = logger.WithContext(ctx)

	start := time.Now()
	logger.Debug().Str("session", s.id).Msg("Refreshing balance")
	err := s.wf.Reconcile(ctx, s.org)

	if s.ctx.Err() != nil {
		// Session torn down mid-refresh: nothing the refresh did is kept.
		logger.Info().AnErr("late", err).Msg("Refresh discarded after logout")
		return nil
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, fetcher.ErrFetchTimedOut) {
			err = fmt.Errorf("%w after %s: %v", fetcher.ErrFetchTimedOut, e.cfg.RefreshTimeout, err)
		}
		if errors.Is(err, organizer.ErrClosed) {
			logger.Info().Msg("Refresh discarded, organizer closed")
			return nil
		}
		if !isDomainError(err) {
			e.whileCurrent(s, func() { e.publisher.SetConnected(false) })
		}
		logger.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("Refresh failed")
		return err
	}

	available := s.org.AvailableBalance()
	e.whileCurrent(s, func() {
		e.publisher.SetConnected(true)
		e.publisher.SetBalance(available)
	})
	logger.Info().
		Str("available", available.String()).
		Dur("elapsed", time.Since(start)).
		Msg("Balance refreshed")
	return nil
}

// isDomainError reports errors that say nothing about connectivity.
func isDomainError(err error) bool {
	return errors.Is(err, workflow.ErrAccountsStillMissing) ||
		errors.Is(err, workflow.ErrTooManySteps) ||
		errors.Is(err, workflow.ErrNoFeePayer) ||
		errors.Is(err, workflow.ErrMigrateIntoPrimary) ||
		errors.Is(err, workflow.ErrIndexNotStored) ||
		errors.Is(err, organizer.ErrStaleGeneration)
}

// RefreshRates updates the rate cache when stale and republishes the
// balance display.
func (e *Engine) RefreshRates(ctx context.Context) error {
	if e.deps.Rates == nil {
		return nil
	}
	fetched, err := e.deps.Rates.FetchRatesIfNeeded(ctx)
	if err != nil {
		return err
	}
	if fetched {
		e.publisher.RatesChanged()
	}
	return nil
}

// SetCurrency changes the display currency.
func (e *Engine) SetCurrency(c kin.CurrencyCode) {
	e.publisher.SetCurrency(c)
}

// AvailableBalanceQuarks returns the spendable balance, or 0 when logged
// out.
func (e *Engine) AvailableBalanceQuarks() uint64 {
	if org := e.Organizer(); org != nil {
		return uint64(org.AvailableBalance())
	}
	return 0
}

// Balance returns the last published balance display.
func (e *Engine) Balance() (balance.Display, bool) {
	return e.publisher.Current()
}

// Quote resolves amount to Kin. A partial fiat amount is valued at the
// current rate of its currency.
func (e *Engine) Quote(amount kin.GenericAmount) (kin.KinAmount, error) {
	var rate kin.Rate
	if _, partial := amount.(kin.Partial); partial {
		var ok bool
		if rate, ok = e.rates.RateFor(amount.Currency()); !ok {
			return kin.KinAmount{}, fmt.Errorf("%w for %s", ErrNoRate, amount.Currency())
		}
	}
	return kin.Resolve(amount, rate)
}

// Connected reports whether the last refresh reached the network.
func (e *Engine) Connected() bool {
	return e.publisher.Connected()
}

// SubscribeBalance returns a latest-wins channel of balance displays.
func (e *Engine) SubscribeBalance() (<-chan balance.Display, func()) {
	return e.publisher.Subscribe()
}

// SubscribeEvents returns a channel of lifecycle events.
func (e *Engine) SubscribeEvents() (<-chan events.Event, func()) {
	return e.bus.Subscribe()
}
