// Package ledger replays the transaction log into holdings and realized P&L records.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/simaogato/tokenledger-backend/internal/domain"
	"github.com/simaogato/tokenledger-backend/internal/fixedpoint"
	"github.com/simaogato/tokenledger-backend/internal/usecase/costbasis"
)

// KeyedMutex serializes work per key
type KeyedMutex interface {
	Lock(key string) (unlock func())
}

// Recomputation is the outcome of replaying one (owner, token) pair
type Recomputation struct {
	Holding *domain.Holding
	Records []*domain.RealizedPnLRecord
	// Warnings lists disposals that found no (or too few) lots to consume
	Warnings []domain.ItemError
}

// MethodChange reports a wholesale recompute after switching methods
type MethodChange struct {
	Method         domain.CostBasisMethod
	Holdings       []*domain.Holding
	WalletHoldings []*domain.Holding
	Errors         []domain.ItemError
}

// LedgerService handles holdings replay and cost-basis queries
type LedgerService struct {
	TransactionRepo domain.TransactionRepository
	HoldingRepo     domain.HoldingRepository
	RealizedRepo    domain.RealizedPnLRepository
	SettingsRepo    domain.SettingsRepository

	locks         KeyedMutex
	defaultMethod domain.CostBasisMethod
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures a LedgerService
type Option func(*LedgerService)

// WithLogger sets the logger used for data-quality warnings
func WithLogger(logger *slog.Logger) Option {
	return func(s *LedgerService) { s.logger = logger }
}

// WithDefaultMethod sets the method used for owners who never chose one
func WithDefaultMethod(method domain.CostBasisMethod) Option {
	return func(s *LedgerService) { s.defaultMethod = method }
}

// WithClock overrides the time source for LastUpdated/ComputedAt stamps
func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) { s.now = now }
}

// NewLedgerService creates a new LedgerService instance
func NewLedgerService(
	transactionRepo domain.TransactionRepository,
	holdingRepo domain.HoldingRepository,
	realizedRepo domain.RealizedPnLRepository,
	settingsRepo domain.SettingsRepository,
	locks KeyedMutex,
	opts ...Option,
) *LedgerService {
	s := &LedgerService{
		TransactionRepo: transactionRepo,
		HoldingRepo:     holdingRepo,
		RealizedRepo:    realizedRepo,
		SettingsRepo:    settingsRepo,
		locks:           locks,
		defaultMethod:   domain.MethodFIFO,
		logger:          slog.Default(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ActiveMethod returns the owner's chosen method, or the default when unset
func (s *LedgerService) ActiveMethod(ctx context.Context, ownerID string) (domain.CostBasisMethod, error) {
	method, err := s.SettingsRepo.GetMethod(ctx, ownerID)
	if errors.Is(err, domain.ErrNotFound) {
		return s.defaultMethod, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load cost basis method: %w", err)
	}
	return method, nil
}

// resolveMethod validates an explicit method or falls back to the owner's active one
func (s *LedgerService) resolveMethod(ctx context.Context, ownerID string, method domain.CostBasisMethod) (domain.CostBasisMethod, error) {
	if method == "" {
		return s.ActiveMethod(ctx, ownerID)
	}
	if err := method.Validate(); err != nil {
		return "", err
	}
	return method, nil
}

// RecomputeHoldings replays every transaction of (owner, token) and overwrites the
// aggregate holding and the realized P&L records for method.
func (s *LedgerService) RecomputeHoldings(ctx context.Context, ownerID, token string, method domain.CostBasisMethod) (*domain.Holding, error) {
	rec, err := s.Recompute(ctx, ownerID, token, method)
	if err != nil {
		return nil, err
	}
	return rec.Holding, nil
}

// Recompute is RecomputeHoldings returning the regenerated records as well.
// An empty method means the owner's active method. A token without transactions
// yields an empty holding that is not stored.
func (s *LedgerService) Recompute(ctx context.Context, ownerID, token string, method domain.CostBasisMethod) (*Recomputation, error) {
	token = domain.NormalizeToken(token)
	if ownerID == "" {
		return nil, domain.NewValidationError("owner_id", "owner is required")
	}
	if token == "" {
		return nil, domain.NewValidationError("token", "token is required")
	}
	method, err := s.resolveMethod(ctx, ownerID, method)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(pairKey(ownerID, token))
	defer unlock()

	txs, err := s.TransactionRepo.ListByToken(ctx, ownerID, token, domain.TransactionFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions for %s: %w", token, err)
	}

	replay, err := costbasis.ReplayTransactions(txs, method)
	if err != nil {
		return nil, fmt.Errorf("failed to replay %s: %w", token, err)
	}

	now := s.now().UTC()
	result := &Recomputation{
		Holding: replay.Holding(ownerID, domain.WalletScopeAll, token, now),
		Records: make([]*domain.RealizedPnLRecord, 0, len(replay.Disposals)),
	}

	if len(txs) == 0 {
		return result, nil
	}

	for _, d := range replay.Disposals {
		result.Records = append(result.Records, NewRealizedRecord(ownerID, token, method, d, now))
		if warning := s.checkHistory(ownerID, token, d); warning != nil {
			result.Warnings = append(result.Warnings, *warning)
		}
	}

	if err := s.HoldingRepo.Upsert(ctx, result.Holding); err != nil {
		return nil, fmt.Errorf("failed to save holding for %s: %w", token, err)
	}
	if err := s.RealizedRepo.Upsert(ctx, result.Records); err != nil {
		return nil, fmt.Errorf("failed to save realized pnl for %s: %w", token, err)
	}

	return result, nil
}

// RecomputeWalletHoldings replays (owner, token) restricted to one wallet and
// overwrites that wallet's holding. Realized records stay owner-wide.
func (s *LedgerService) RecomputeWalletHoldings(ctx context.Context, ownerID, walletAddress, token string, method domain.CostBasisMethod) (*domain.Holding, error) {
	token = domain.NormalizeToken(token)
	walletAddress = domain.NormalizeWalletAddress(walletAddress)
	if walletAddress == "" || walletAddress == domain.WalletScopeAll {
		return nil, domain.NewValidationError("wallet_address", "a concrete wallet is required")
	}
	method, err := s.resolveMethod(ctx, ownerID, method)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(pairKey(ownerID, token))
	defer unlock()

	txs, err := s.TransactionRepo.ListByToken(ctx, ownerID, token, domain.TransactionFilter{WalletAddress: walletAddress})
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions for %s: %w", token, err)
	}

	replay, err := costbasis.ReplayTransactions(txs, method)
	if err != nil {
		return nil, fmt.Errorf("failed to replay %s: %w", token, err)
	}

	holding := replay.Holding(ownerID, walletAddress, token, s.now().UTC())
	if len(txs) == 0 {
		return holding, nil
	}
	if err := s.HoldingRepo.Upsert(ctx, holding); err != nil {
		return nil, fmt.Errorf("failed to save holding for %s: %w", token, err)
	}
	return holding, nil
}

// GetCostBasis computes the cost basis a hypothetical disposal of quantity at asOf
// would have, from the lots left by every transaction up to asOf. Nothing is persisted.
func (s *LedgerService) GetCostBasis(ctx context.Context, ownerID, token string, quantity decimal.Decimal, asOf time.Time, method domain.CostBasisMethod) (*costbasis.Result, error) {
	token = domain.NormalizeToken(token)
	method, err := s.resolveMethod(ctx, ownerID, method)
	if err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		asOf = s.now()
	}

	txs, err := s.TransactionRepo.ListByToken(ctx, ownerID, token, domain.TransactionFilter{Until: asOf})
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions for %s: %w", token, err)
	}

	replay, err := costbasis.ReplayTransactions(txs, method)
	if err != nil {
		return nil, fmt.Errorf("failed to replay %s: %w", token, err)
	}

	return costbasis.Compute(replay.Lots, quantity, method)
}

// SetMethod stores the owner's active method and recomputes every token under it,
// the aggregate holding first and then each wallet holding the token.
// A failing token or wallet is reported and does not stop the others.
func (s *LedgerService) SetMethod(ctx context.Context, ownerID string, method domain.CostBasisMethod) (*MethodChange, error) {
	if err := method.Validate(); err != nil {
		return nil, err
	}
	if err := s.SettingsRepo.SetMethod(ctx, ownerID, method); err != nil {
		return nil, fmt.Errorf("failed to save cost basis method: %w", err)
	}

	tokens, err := s.TransactionRepo.ListTokens(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}

	change := &MethodChange{Method: method}
	for _, token := range tokens {
		holding, err := s.RecomputeHoldings(ctx, ownerID, token, method)
		if err != nil {
			s.logger.Error("recompute after method change failed",
				"owner_id", ownerID, "token", token, "method", method, "error", err)
			change.Errors = append(change.Errors, domain.ItemError{Item: token, Err: err})
			continue
		}
		change.Holdings = append(change.Holdings, holding)

		s.recomputeWallets(ctx, ownerID, token, method, change)
	}

	s.logger.Info("cost basis method changed",
		"owner_id", ownerID, "method", method, "tokens", len(tokens), "failed", len(change.Errors))
	return change, nil
}

func (s *LedgerService) recomputeWallets(ctx context.Context, ownerID, token string, method domain.CostBasisMethod, change *MethodChange) {
	wallets, err := s.TransactionRepo.ListWallets(ctx, ownerID, token)
	if err != nil {
		s.logger.Error("listing wallets after method change failed",
			"owner_id", ownerID, "token", token, "error", err)
		change.Errors = append(change.Errors, domain.ItemError{Item: token, Err: fmt.Errorf("failed to list wallets: %w", err)})
		return
	}

	for _, wallet := range wallets {
		holding, err := s.RecomputeWalletHoldings(ctx, ownerID, wallet, token, method)
		if err != nil {
			s.logger.Error("wallet recompute after method change failed",
				"owner_id", ownerID, "wallet", wallet, "token", token, "method", method, "error", err)
			change.Errors = append(change.Errors, domain.ItemError{Item: token + "@" + wallet, Err: err})
			continue
		}
		change.WalletHoldings = append(change.WalletHoldings, holding)
	}
}

// checkHistory logs and reports disposals that were not fully covered by lots
func (s *LedgerService) checkHistory(ownerID, token string, d costbasis.Disposal) *domain.ItemError {
	if !d.Unmatched.IsPositive() {
		return nil
	}

	var err error
	if d.Unmatched.Equal(d.Transaction.Quantity) {
		err = domain.ErrInsufficientHistory
		s.logger.Warn("disposal without purchase history, using zero cost basis",
			"owner_id", ownerID, "token", token, "hash", d.Transaction.Hash,
			"quantity", d.Transaction.Quantity.String())
	} else {
		err = fmt.Errorf("%w: %s of %s units unmatched", domain.ErrInsufficientHistory,
			d.Unmatched.String(), d.Transaction.Quantity.String())
		s.logger.Warn("disposal exceeds holdings, uncovered quantity gets zero cost basis",
			"owner_id", ownerID, "token", token, "hash", d.Transaction.Hash,
			"unmatched", d.Unmatched.String())
	}
	return &domain.ItemError{Item: d.Transaction.Hash, Err: err}
}

// NewRealizedRecord prices one disposal. Every term is rounded half-even to
// value precision and Amount = Proceeds - Cost - Fees exactly.
func NewRealizedRecord(ownerID, token string, method domain.CostBasisMethod, d costbasis.Disposal, now time.Time) *domain.RealizedPnLRecord {
	tx := d.Transaction
	proceeds := fixedpoint.Value(tx.UnitPrice.Mul(tx.Quantity))
	cost := fixedpoint.Value(d.UnitCostBasis.Mul(tx.Quantity))
	fees := decimal.Zero
	if tx.HasFee() {
		fees = fixedpoint.Value(tx.FeeUnitPrice.Mul(tx.FeeQuantity))
	}

	return &domain.RealizedPnLRecord{
		ID:            uuid.NewSHA1(tx.ID, []byte(method)),
		OwnerID:       ownerID,
		Token:         token,
		Method:        method,
		TransactionID: tx.ID,
		Quantity:      tx.Quantity,
		UnitCostBasis: d.UnitCostBasis,
		Proceeds:      proceeds,
		Cost:          cost,
		Fees:          fees,
		Amount:        proceeds.Sub(cost).Sub(fees),
		Timestamp:     tx.Timestamp,
		ComputedAt:    now,
	}
}

func pairKey(ownerID, token string) string {
	return ownerID + "|" + token
}
