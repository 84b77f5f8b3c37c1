// Package pnl reports realized and unrealized profit and loss per owner.
package pnl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/simaogato/tokenledger-backend/internal/domain"
	"github.com/simaogato/tokenledger-backend/internal/fixedpoint"
	"github.com/simaogato/tokenledger-backend/internal/usecase/ledger"
)

// Ledger is the part of the ledger service the P&L reports need
type Ledger interface {
	ActiveMethod(ctx context.Context, ownerID string) (domain.CostBasisMethod, error)
	Recompute(ctx context.Context, ownerID, token string, method domain.CostBasisMethod) (*ledger.Recomputation, error)
}

// Filter narrows a report. Zero From/To are open bounds; empty Token means every token.
type Filter struct {
	From  time.Time
	To    time.Time
	Token string
}

func (f Filter) dateRange() domain.DateRange {
	return domain.DateRange{From: f.From, To: f.To}
}

// RealizedReport lists the disposals inside the requested range
type RealizedReport struct {
	Method  domain.CostBasisMethod
	Records []*domain.RealizedPnLRecord
	ByToken map[string]decimal.Decimal
	Total   decimal.Decimal
	Errors  []domain.ItemError
}

// UnrealizedLine is the mark-to-market result of one holding
type UnrealizedLine struct {
	Token          string
	Quantity       decimal.Decimal
	CostBasis      decimal.Decimal
	Price          decimal.Decimal
	MarketValue    decimal.Decimal
	Amount         decimal.Decimal
	Percent        decimal.Decimal
	PriceAvailable bool
}

// UnrealizedReport marks every open holding to its current price
type UnrealizedReport struct {
	Method domain.CostBasisMethod
	Lines  []UnrealizedLine
	Total  decimal.Decimal
	Errors []domain.ItemError
}

// SummaryLine combines both kinds of P&L for one token
type SummaryLine struct {
	Token      string
	Realized   decimal.Decimal
	Unrealized decimal.Decimal
	Total      decimal.Decimal
}

// Summary is the portfolio P&L. Every total is the exact sum of its lines.
type Summary struct {
	Method     domain.CostBasisMethod
	Lines      []SummaryLine
	Realized   decimal.Decimal
	Unrealized decimal.Decimal
	Total      decimal.Decimal
	Errors     []domain.ItemError
}

// PnLService handles profit and loss reporting
type PnLService struct {
	TransactionRepo domain.TransactionRepository
	HoldingRepo     domain.HoldingRepository
	RealizedRepo    domain.RealizedPnLRepository
	Prices          domain.PriceLookup
	Ledger          Ledger

	priceTimeout time.Duration
	logger       *slog.Logger
}

// NewPnLService creates a new PnLService instance
func NewPnLService(
	transactionRepo domain.TransactionRepository,
	holdingRepo domain.HoldingRepository,
	realizedRepo domain.RealizedPnLRepository,
	prices domain.PriceLookup,
	ledgerService Ledger,
	priceTimeout time.Duration,
	logger *slog.Logger,
) *PnLService {
	if logger == nil {
		logger = slog.Default()
	}
	if priceTimeout <= 0 {
		priceTimeout = 10 * time.Second
	}
	return &PnLService{
		TransactionRepo: transactionRepo,
		HoldingRepo:     holdingRepo,
		RealizedRepo:    realizedRepo,
		Prices:          prices,
		Ledger:          ledgerService,
		priceTimeout:    priceTimeout,
		logger:          logger,
	}
}

// CalculateRealizedPnL replays each token under the owner's active method,
// refreshing the stored records, and reports the stored disposals inside the range.
func (s *PnLService) CalculateRealizedPnL(ctx context.Context, ownerID string, filter Filter) (*RealizedReport, error) {
	if err := validateFilter(ownerID, filter); err != nil {
		return nil, err
	}
	method, err := s.Ledger.ActiveMethod(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.realized(ctx, ownerID, method, filter)
}

// CalculateUnrealizedPnL marks every open aggregate holding to its current price.
// A token without a usable price contributes zero and is listed in Errors.
func (s *PnLService) CalculateUnrealizedPnL(ctx context.Context, ownerID string, filter Filter) (*UnrealizedReport, error) {
	if err := validateFilter(ownerID, filter); err != nil {
		return nil, err
	}
	method, err := s.Ledger.ActiveMethod(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.unrealized(ctx, ownerID, method, filter)
}

// CalculatePnLSummary combines realized P&L over the range with current
// unrealized P&L, per token and for the whole portfolio.
func (s *PnLService) CalculatePnLSummary(ctx context.Context, ownerID string, filter Filter) (*Summary, error) {
	if err := validateFilter(ownerID, filter); err != nil {
		return nil, err
	}
	method, err := s.Ledger.ActiveMethod(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	realized, err := s.realized(ctx, ownerID, method, filter)
	if err != nil {
		return nil, err
	}
	unrealized, err := s.unrealized(ctx, ownerID, method, filter)
	if err != nil {
		return nil, err
	}

	lines := make(map[string]*SummaryLine)
	line := func(token string) *SummaryLine {
		l, ok := lines[token]
		if !ok {
			l = &SummaryLine{Token: token, Realized: decimal.Zero, Unrealized: decimal.Zero}
			lines[token] = l
		}
		return l
	}
	for token, amount := range realized.ByToken {
		line(token).Realized = amount
	}
	for _, u := range unrealized.Lines {
		l := line(u.Token)
		l.Unrealized = l.Unrealized.Add(u.Amount)
	}

	summary := &Summary{
		Method:     method,
		Lines:      make([]SummaryLine, 0, len(lines)),
		Realized:   decimal.Zero,
		Unrealized: decimal.Zero,
		Total:      decimal.Zero,
	}
	for _, l := range lines {
		l.Total = l.Realized.Add(l.Unrealized)
		summary.Lines = append(summary.Lines, *l)
		summary.Realized = summary.Realized.Add(l.Realized)
		summary.Unrealized = summary.Unrealized.Add(l.Unrealized)
		summary.Total = summary.Total.Add(l.Total)
	}
	sort.Slice(summary.Lines, func(i, j int) bool {
		return summary.Lines[i].Token < summary.Lines[j].Token
	})

	summary.Errors = append(summary.Errors, realized.Errors...)
	summary.Errors = append(summary.Errors, unrealized.Errors...)
	return summary, nil
}

func (s *PnLService) realized(ctx context.Context, ownerID string, method domain.CostBasisMethod, filter Filter) (*RealizedReport, error) {
	tokens, err := s.tokens(ctx, ownerID, filter)
	if err != nil {
		return nil, err
	}

	report := &RealizedReport{
		Method:  method,
		Records: []*domain.RealizedPnLRecord{},
		ByToken: make(map[string]decimal.Decimal),
		Total:   decimal.Zero,
	}

	failed := make(map[string]bool)
	for _, token := range tokens {
		if _, err := s.Ledger.Recompute(ctx, ownerID, token, method); err != nil {
			s.logger.Error("realized pnl replay failed", "owner_id", ownerID, "token", token, "error", err)
			report.Errors = append(report.Errors, domain.ItemError{Item: token, Err: err})
			failed[token] = true
		}
	}
	if len(tokens) == len(failed) {
		return report, nil
	}

	records, err := s.RealizedRepo.List(ctx, ownerID, method, domain.RealizedPnLFilter{
		Range: filter.dateRange(),
		Token: domain.NormalizeToken(filter.Token),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list realized pnl records: %w", err)
	}

	for _, r := range records {
		if failed[r.Token] {
			continue
		}
		report.Records = append(report.Records, r)
		report.ByToken[r.Token] = report.ByToken[r.Token].Add(r.Amount)
		report.Total = report.Total.Add(r.Amount)
	}
	return report, nil
}

func (s *PnLService) unrealized(ctx context.Context, ownerID string, method domain.CostBasisMethod, filter Filter) (*UnrealizedReport, error) {
	holdings, err := s.holdings(ctx, ownerID, method, domain.NormalizeToken(filter.Token))
	if err != nil {
		return nil, err
	}

	report := &UnrealizedReport{
		Method: method,
		Lines:  []UnrealizedLine{},
		Total:  decimal.Zero,
	}
	for _, h := range holdings {
		if h.Quantity.IsZero() {
			continue
		}

		line := UnrealizedLine{
			Token:       h.Token,
			Quantity:    h.Quantity,
			CostBasis:   h.CostBasis,
			Price:       decimal.Zero,
			MarketValue: decimal.Zero,
			Amount:      decimal.Zero,
			Percent:     decimal.Zero,
		}

		price, err := s.currentPrice(ctx, h.Token)
		if err != nil {
			s.logger.Warn("no current price, unrealized pnl counted as zero",
				"owner_id", ownerID, "token", h.Token, "error", err)
			report.Errors = append(report.Errors, domain.ItemError{Item: h.Token, Err: err})
			report.Lines = append(report.Lines, line)
			continue
		}

		line.PriceAvailable = true
		line.Price = price
		line.MarketValue = fixedpoint.Value(price.Mul(h.Quantity))
		line.Amount = line.MarketValue.Sub(h.CostBasis)
		line.Percent = fixedpoint.Percent(line.Amount, h.CostBasis)

		report.Lines = append(report.Lines, line)
		report.Total = report.Total.Add(line.Amount)
	}

	return report, nil
}

// holdings loads the aggregate holdings under method, or the single holding of token
func (s *PnLService) holdings(ctx context.Context, ownerID string, method domain.CostBasisMethod, token string) ([]*domain.Holding, error) {
	if token == "" {
		holdings, err := s.HoldingRepo.List(ctx, ownerID, domain.WalletScopeAll, method)
		if err != nil {
			return nil, fmt.Errorf("failed to list holdings: %w", err)
		}
		return holdings, nil
	}

	holding, err := s.HoldingRepo.Get(ctx, ownerID, domain.WalletScopeAll, token, method)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load holding for %s: %w", token, err)
	}
	return []*domain.Holding{holding}, nil
}

func (s *PnLService) currentPrice(ctx context.Context, token string) (decimal.Decimal, error) {
	priceCtx, cancel := context.WithTimeout(ctx, s.priceTimeout)
	defer cancel()

	price, ok, err := s.Prices.CurrentPrice(priceCtx, token)
	if err != nil {
		if errors.Is(err, domain.ErrPriceUnavailable) {
			return decimal.Zero, err
		}
		return decimal.Zero, fmt.Errorf("%w: %s: %w", domain.ErrPriceUnavailable, token, err)
	}
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no quote for %s", domain.ErrPriceUnavailable, token)
	}
	return price, nil
}

func (s *PnLService) tokens(ctx context.Context, ownerID string, filter Filter) ([]string, error) {
	if token := domain.NormalizeToken(filter.Token); token != "" {
		return []string{token}, nil
	}
	tokens, err := s.TransactionRepo.ListTokens(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	return tokens, nil
}

func validateFilter(ownerID string, filter Filter) error {
	if ownerID == "" {
		return domain.NewValidationError("owner_id", "owner is required")
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return domain.NewValidationError("range", "end of range is before its start")
	}
	return nil
}
