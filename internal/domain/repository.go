package domain

import (
	"context"
	"time"
)

// TransactionFilter narrows a per-token transaction listing
type TransactionFilter struct {
	// WalletAddress restricts the listing to one wallet; empty means every wallet
	WalletAddress string
	// Until excludes transactions after this instant; zero means no bound
	Until time.Time
}

// TransactionRepository defines the interface for transaction persistence operations
type TransactionRepository interface {
	// Exists reports whether (owner, hash, wallet) is already stored
	Exists(ctx context.Context, ownerID, hash, walletAddress string) (bool, error)

	// CreateIfAbsent inserts the transaction unless (owner, hash, wallet) exists.
	// It reports whether a row was actually inserted.
	CreateIfAbsent(ctx context.Context, tx *Transaction) (bool, error)

	// ListByToken returns an owner's transactions for one token ordered by
	// timestamp, then insertion order
	ListByToken(ctx context.Context, ownerID, token string, filter TransactionFilter) ([]*Transaction, error)

	// ListTokens returns every token with at least one transaction for the owner
	ListTokens(ctx context.Context, ownerID string) ([]string, error)

	// ListWallets returns every wallet with at least one transaction of token for the owner
	ListWallets(ctx context.Context, ownerID, token string) ([]string, error)
}

// HoldingRepository defines the interface for holding persistence operations
type HoldingRepository interface {
	// Upsert overwrites the holding keyed by (owner, scope, token, method)
	Upsert(ctx context.Context, holding *Holding) error

	// Get returns ErrNotFound when the holding has never been computed
	Get(ctx context.Context, ownerID, walletScope, token string, method CostBasisMethod) (*Holding, error)

	// List returns every holding of an owner for one scope and method
	List(ctx context.Context, ownerID, walletScope string, method CostBasisMethod) ([]*Holding, error)
}

// RealizedPnLFilter narrows a realized P&L record listing
type RealizedPnLFilter struct {
	Range DateRange
	Token string
}

// RealizedPnLRepository defines the interface for realized P&L record persistence
type RealizedPnLRepository interface {
	// Upsert writes records, overwriting any with the same (owner, transaction, method)
	Upsert(ctx context.Context, records []*RealizedPnLRecord) error

	// List returns an owner's records for one method ordered by disposal time
	List(ctx context.Context, ownerID string, method CostBasisMethod, filter RealizedPnLFilter) ([]*RealizedPnLRecord, error)
}

// SettingsRepository stores per-owner preferences
type SettingsRepository interface {
	// GetMethod returns ErrNotFound when the owner never chose a method
	GetMethod(ctx context.Context, ownerID string) (CostBasisMethod, error)

	// SetMethod stores the owner's active cost-basis method
	SetMethod(ctx context.Context, ownerID string, method CostBasisMethod) error
}
