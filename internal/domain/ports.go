package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RawFact is a transaction as delivered by an external transaction source.
// Numeric fields stay strings until validated by the sync service.
type RawFact struct {
	Chain       string
	Token       string
	Kind        string
	Direction   string
	Quantity    string
	FeeQuantity string
	FeeToken    string
	Timestamp   time.Time
	Hash        string
	Source      string
}

// TransactionSource retrieves raw transactions of a wallet
type TransactionSource interface {
	FetchTransactions(ctx context.Context, walletAddress string) ([]RawFact, error)
}

// PriceLookup resolves reference-currency prices
type PriceLookup interface {
	// HistoricalPrice returns the price at (or closest to, within a bounded window) at.
	// It fails with ErrPriceUnavailable when nothing is close enough.
	HistoricalPrice(ctx context.Context, token string, at time.Time) (decimal.Decimal, error)

	// CurrentPrice returns the latest price; ok is false when the token has no quote
	CurrentPrice(ctx context.Context, token string) (price decimal.Decimal, ok bool, err error)
}

// WalletLocker is a keyed advisory lock held for the duration of one sync
type WalletLocker interface {
	// TryLock acquires the lock without waiting. It returns ErrSyncInProgress when
	// the key is held and otherwise a release function.
	TryLock(ctx context.Context, key string) (release func(), err error)
}
