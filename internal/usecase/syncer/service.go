// Package syncer ingests wallet transactions from an external source into the ledger.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/simaogato/tokenledger-backend/internal/domain"
	"github.com/simaogato/tokenledger-backend/internal/fixedpoint"
)

// Ledger is the part of the ledger service a sync needs
type Ledger interface {
	ActiveMethod(ctx context.Context, ownerID string) (domain.CostBasisMethod, error)
	RecomputeHoldings(ctx context.Context, ownerID, token string, method domain.CostBasisMethod) (*domain.Holding, error)
	RecomputeWalletHoldings(ctx context.Context, ownerID, walletAddress, token string, method domain.CostBasisMethod) (*domain.Holding, error)
}

// Config bounds the external calls made during a sync
type Config struct {
	FetchTimeout time.Duration
	PriceTimeout time.Duration
	// Concurrency caps the wallets synced at once by SyncWallets
	Concurrency int
}

// DefaultConfig returns the timeouts used when none are configured
func DefaultConfig() Config {
	return Config{
		FetchTimeout: 30 * time.Second,
		PriceTimeout: 10 * time.Second,
		Concurrency:  4,
	}
}

// Result summarizes the sync of one wallet
type Result struct {
	Wallet              string
	NewTransactionCount int
	// Skipped counts facts that were already stored
	Skipped          int
	Errors           []domain.ItemError
	TokensRecomputed []string
	// Err is set by SyncWallets when the wallet could not be synced at all
	Err error
}

// SyncService handles wallet synchronization
type SyncService struct {
	TransactionRepo domain.TransactionRepository
	Source          domain.TransactionSource
	Prices          domain.PriceLookup
	Locker          domain.WalletLocker
	Ledger          Ledger

	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewSyncService creates a new SyncService instance
func NewSyncService(
	transactionRepo domain.TransactionRepository,
	source domain.TransactionSource,
	prices domain.PriceLookup,
	locker domain.WalletLocker,
	ledger Ledger,
	cfg Config,
	logger *slog.Logger,
) *SyncService {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.PriceTimeout <= 0 {
		cfg.PriceTimeout = def.PriceTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	return &SyncService{
		TransactionRepo: transactionRepo,
		Source:          source,
		Prices:          prices,
		Locker:          locker,
		Ledger:          ledger,
		cfg:             cfg,
		logger:          logger,
		now:             time.Now,
	}
}

// SyncWallet fetches the wallet's transactions, stores the new ones with their
// historical prices and recomputes the holdings of every token that changed.
//
// A second sync of the same wallet while one is running fails with
// domain.ErrSyncInProgress, whichever owner asks for it. Malformed or unpriceable facts are reported in
// Result.Errors and skipped; they never abort the wallet.
func (s *SyncService) SyncWallet(ctx context.Context, ownerID, walletAddress string) (*Result, error) {
	if ownerID == "" {
		return nil, domain.NewValidationError("owner_id", "owner is required")
	}
	wallet := domain.NormalizeWalletAddress(walletAddress)
	if wallet == "" {
		return nil, domain.NewValidationError("wallet_address", "wallet address is required")
	}

	release, err := s.Locker.TryLock(ctx, lockKey(wallet))
	if err != nil {
		return nil, err
	}
	defer release()

	logger := s.logger.With("owner_id", ownerID, "wallet", wallet)
	started := s.now()

	facts, err := s.fetch(ctx, wallet)
	if err != nil {
		logger.Error("transaction source failed", "error", err)
		return nil, err
	}

	result := &Result{Wallet: wallet}
	touched := make(map[string]struct{})

	for _, fact := range facts {
		tx, err := s.ingest(ctx, ownerID, wallet, fact)
		if err != nil {
			logger.Warn("skipping transaction", "hash", fact.Hash, "error", err)
			result.Errors = append(result.Errors, domain.ItemError{Item: fact.Hash, Err: err})
			continue
		}
		if tx == nil {
			result.Skipped++
			continue
		}
		result.NewTransactionCount++
		touched[tx.Token] = struct{}{}
	}

	if len(touched) > 0 {
		s.recompute(ctx, ownerID, wallet, touched, result)
	}

	logger.Info("wallet synced",
		"new_transactions", result.NewTransactionCount,
		"skipped", result.Skipped,
		"errors", len(result.Errors),
		"duration", s.now().Sub(started).String())

	return result, nil
}

// SyncWallets syncs several wallets of one owner concurrently.
// Every wallet gets its own Result; a failing wallet does not affect the others.
func (s *SyncService) SyncWallets(ctx context.Context, ownerID string, wallets []string) ([]*Result, error) {
	if ownerID == "" {
		return nil, domain.NewValidationError("owner_id", "owner is required")
	}

	results := make([]*Result, len(wallets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i, wallet := range wallets {
		i, wallet := i, wallet
		g.Go(func() error {
			result, err := s.SyncWallet(gctx, ownerID, wallet)
			if err != nil {
				result = &Result{Wallet: domain.NormalizeWalletAddress(wallet), Err: err}
			}
			results[i] = result
			// Per-wallet failures are reported, never propagated to siblings
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (s *SyncService) fetch(ctx context.Context, wallet string) ([]domain.RawFact, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	facts, err := s.Source.FetchTransactions(fetchCtx, wallet)
	if err != nil {
		return nil, fmt.Errorf("%w: wallet %s: %w", domain.ErrPartialSourceFailure, wallet, err)
	}
	return facts, nil
}

// ingest validates, prices and stores one fact. It returns nil, nil when the
// fact is already in the ledger.
func (s *SyncService) ingest(ctx context.Context, ownerID, wallet string, fact domain.RawFact) (*domain.Transaction, error) {
	tx, err := newTransaction(ownerID, wallet, fact)
	if err != nil {
		return nil, err
	}

	exists, err := s.TransactionRepo.Exists(ctx, ownerID, tx.Hash, wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to check transaction: %w", err)
	}
	if exists {
		return nil, nil
	}

	tx.UnitPrice, err = s.historicalPrice(ctx, tx.Token, tx.Timestamp)
	if err != nil {
		return nil, err
	}
	if tx.HasFee() {
		if tx.FeeToken == tx.Token {
			tx.FeeUnitPrice = tx.UnitPrice
		} else if tx.FeeUnitPrice, err = s.historicalPrice(ctx, tx.FeeToken, tx.Timestamp); err != nil {
			return nil, fmt.Errorf("fee %w", err)
		}
	}

	tx.ID = uuid.New()
	tx.CreatedAt = s.now().UTC()

	inserted, err := s.TransactionRepo.CreateIfAbsent(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to store transaction: %w", err)
	}
	if !inserted {
		return nil, nil
	}
	return tx, nil
}

func (s *SyncService) historicalPrice(ctx context.Context, token string, at time.Time) (decimal.Decimal, error) {
	priceCtx, cancel := context.WithTimeout(ctx, s.cfg.PriceTimeout)
	defer cancel()

	price, err := s.Prices.HistoricalPrice(priceCtx, token, at)
	if err != nil {
		if !errors.Is(err, domain.ErrPriceUnavailable) {
			err = fmt.Errorf("%w: %s at %s: %w", domain.ErrPriceUnavailable, token, at.Format(time.RFC3339), err)
		}
		return decimal.Zero, err
	}
	if price.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative price for %s", domain.ErrPriceUnavailable, token)
	}
	return fixedpoint.Value(price), nil
}

// recompute refreshes the aggregate and wallet holdings of every touched token
func (s *SyncService) recompute(ctx context.Context, ownerID, wallet string, touched map[string]struct{}, result *Result) {
	tokens := make([]string, 0, len(touched))
	for token := range touched {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	method, err := s.Ledger.ActiveMethod(ctx, ownerID)
	if err != nil {
		for _, token := range tokens {
			result.Errors = append(result.Errors, domain.ItemError{Item: token, Err: err})
		}
		return
	}

	for _, token := range tokens {
		if _, err := s.Ledger.RecomputeHoldings(ctx, ownerID, token, method); err != nil {
			result.Errors = append(result.Errors, domain.ItemError{Item: token, Err: err})
			continue
		}
		if _, err := s.Ledger.RecomputeWalletHoldings(ctx, ownerID, wallet, token, method); err != nil {
			result.Errors = append(result.Errors, domain.ItemError{Item: token, Err: err})
			continue
		}
		result.TokensRecomputed = append(result.TokensRecomputed, token)
	}
}

// newTransaction turns a raw fact into an unpriced ledger transaction
func newTransaction(ownerID, wallet string, fact domain.RawFact) (*domain.Transaction, error) {
	kind, err := domain.ParseKind(fact.Kind)
	if err != nil {
		return nil, err
	}
	direction, err := domain.ParseDirection(fact.Direction)
	if err != nil {
		return nil, err
	}

	quantity, err := fixedpoint.ParseQuantity(fact.Quantity)
	if err != nil {
		return nil, &domain.ValidationError{Field: "quantity", Message: err.Error(), Err: err}
	}

	feeQuantity := decimal.Zero
	if strings.TrimSpace(fact.FeeQuantity) != "" {
		if feeQuantity, err = fixedpoint.ParseQuantity(fact.FeeQuantity); err != nil {
			return nil, &domain.ValidationError{Field: "fee_quantity", Message: err.Error(), Err: err}
		}
	}

	tx := &domain.Transaction{
		OwnerID:       ownerID,
		WalletAddress: wallet,
		Chain:         strings.ToLower(strings.TrimSpace(fact.Chain)),
		Token:         domain.NormalizeToken(fact.Token),
		Kind:          kind,
		Direction:     direction,
		Quantity:      quantity,
		FeeQuantity:   feeQuantity,
		FeeToken:      domain.NormalizeToken(fact.FeeToken),
		Timestamp:     fact.Timestamp.UTC(),
		Hash:          strings.TrimSpace(fact.Hash),
		Source:        fact.Source,
	}
	if tx.Direction == "" {
		tx.Direction = tx.EffectiveDirection()
	}

	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return tx, nil
}

func lockKey(wallet string) string {
	return "sync:" + wallet
}
