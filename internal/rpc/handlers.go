package rpc

import (
	"context"
	"errors"

	"github.com/Klingon-tech/klingnet-tray/internal/fetcher"
	"github.com/Klingon-tech/klingnet-tray/internal/organizer"
	"github.com/Klingon-tech/klingnet-tray/internal/session"
	"github.com/Klingon-tech/klingnet-tray/pkg/kin"
)

var errNotLoggedIn = &Error{Code: CodeNotFound, Message: "no wallet is logged in"}

func (s *Server) balanceResult() *BalanceResult {
	q := s.backend.AvailableBalanceQuarks()
	res := &BalanceResult{Quarks: q, Kin: kin.Quarks(q).String(), Connected: s.backend.Connected()}
	if d, ok := s.backend.Balance(); ok {
		res.Display = d.Text
		res.MarketValue = d.MarketValue.String()
		res.Currency = string(d.Currency)
	}
	return res
}

func (s *Server) handleGetBalance() (any, *Error) {
	if !s.backend.LoggedIn() {
		return nil, errNotLoggedIn
	}
	return s.balanceResult(), nil
}

func (s *Server) handleRefresh(ctx context.Context) (any, *Error) {
	if !s.backend.LoggedIn() {
		return nil, errNotLoggedIn
	}
	if err := s.backend.RefreshBalance(ctx); err != nil {
		return nil, refreshError(err)
	}
	return s.balanceResult(), nil
}

func refreshError(err error) *Error {
	switch {
	case errors.Is(err, fetcher.ErrFetchTimedOut), errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: CodeTimeout, Message: err.Error()}
	case errors.Is(err, session.ErrMissingOrganizer), errors.Is(err, organizer.ErrClosed):
		return &Error{Code: CodeNotFound, Message: err.Error()}
	default:
		return &Error{Code: CodeInternalError, Message: err.Error()}
	}
}

func (s *Server) handleGetAccounts() (any, *Error) {
	org := s.backend.Organizer()
	if org == nil {
		return nil, errNotLoggedIn
	}
	tray, gen := org.Snapshot()
	accounts := tray.Accounts()
	res := &AccountsResult{
		Fingerprint: tray.Fingerprint().Hex(),
		Generation:  gen,
		Available:   uint64(tray.Available()),
		Total:       uint64(tray.Total()),
		Accounts:    make([]AccountResult, 0, len(accounts)),
	}
	for _, a := range accounts {
		res.Accounts = append(res.Accounts, AccountResult{
			Kind:             a.Kind.String(),
			Index:            a.Index,
			Authority:        a.Owner().String(),
			Vault:            a.Vault.String(),
			Balance:          uint64(a.Balance),
			PendingMigration: a.PendingMigration,
		})
	}
	return res, nil
}

func (s *Server) handleSetCurrency(ctx context.Context, req *Request) (any, *Error) {
	var p CurrencyParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	c, err := kin.ParseCurrencyCode(p.Currency)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}
	s.backend.SetCurrency(c)
	if err := s.backend.RefreshRates(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Rate refresh after currency change failed")
	}
	return s.balanceResult(), nil
}
