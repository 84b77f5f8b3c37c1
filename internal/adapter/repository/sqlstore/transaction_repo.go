package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/simaogato/tokenledger-backend/internal/domain"
)

// transactionRepository implements domain.TransactionRepository
type transactionRepository struct {
	db *DB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *DB) domain.TransactionRepository {
	return &transactionRepository{db: db}
}

const transactionColumns = `id, owner_id, wallet_address, chain, token, kind, direction,
	quantity, unit_price, fee_quantity, fee_token, fee_unit_price,
	occurred_at, hash, source, created_at`

// Exists reports whether (owner, hash, wallet) is already stored
func (r *transactionRepository) Exists(ctx context.Context, ownerID, hash, walletAddress string) (bool, error) {
	query := r.db.rebind(`
		SELECT 1 FROM transactions
		WHERE owner_id = $1 AND hash = $2 AND wallet_address = $3
	`)

	var one int
	err := r.db.QueryRowContext(ctx, query, ownerID, hash, walletAddress).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check transaction existence: %w", err)
	}
	return true, nil
}

// CreateIfAbsent inserts the transaction unless its (owner, hash, wallet) key exists.
// Concurrent inserts of the same key are resolved by the unique constraint.
func (r *transactionRepository) CreateIfAbsent(ctx context.Context, tx *domain.Transaction) (bool, error) {
	query := r.db.rebind(`
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (owner_id, hash, wallet_address) DO NOTHING
	`)

	res, err := r.db.ExecContext(ctx, query,
		tx.ID,
		tx.OwnerID,
		tx.WalletAddress,
		tx.Chain,
		tx.Token,
		string(tx.Kind),
		string(tx.Direction),
		tx.Quantity.String(),
		tx.UnitPrice.String(),
		tx.FeeQuantity.String(),
		tx.FeeToken,
		tx.FeeUnitPrice.String(),
		r.db.timeArg(tx.Timestamp),
		tx.Hash,
		tx.Source,
		r.db.timeArg(tx.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read inserted row count: %w", err)
	}
	return n == 1, nil
}

// ListByToken returns an owner's transactions for one token in replay order
func (r *transactionRepository) ListByToken(ctx context.Context, ownerID, token string, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + transactionColumns + ` FROM transactions WHERE owner_id = $1 AND token = $2`)
	args := []interface{}{ownerID, token}

	if filter.WalletAddress != "" {
		args = append(args, filter.WalletAddress)
		fmt.Fprintf(&sb, ` AND wallet_address = $%d`, len(args))
	}
	if !filter.Until.IsZero() {
		args = append(args, r.db.timeArg(filter.Until))
		fmt.Fprintf(&sb, ` AND occurred_at <= $%d`, len(args))
	}
	sb.WriteString(` ORDER BY occurred_at ASC, seq ASC`)

	rows, err := r.db.QueryContext(ctx, r.db.rebind(sb.String()), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return txs, nil
}

// ListTokens returns every token the owner has transacted
func (r *transactionRepository) ListTokens(ctx context.Context, ownerID string) ([]string, error) {
	query := r.db.rebind(`
		SELECT DISTINCT token FROM transactions
		WHERE owner_id = $1
		ORDER BY token ASC
	`)

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tokens: %w", err)
	}

	return tokens, nil
}

func scanTransaction(rows *sql.Rows) (*domain.Transaction, error) {
	var (
		tx                                          domain.Transaction
		kind, direction                             string
		quantity, unitPrice, feeQuantity, feePrice string
		occurredAt, createdAt                       dbTime
	)

	err := rows.Scan(
		&tx.ID,
		&tx.OwnerID,
		&tx.WalletAddress,
		&tx.Chain,
		&tx.Token,
		&kind,
		&direction,
		&quantity,
		&unitPrice,
		&feeQuantity,
		&tx.FeeToken,
		&feePrice,
		&occurredAt,
		&tx.Hash,
		&tx.Source,
		&createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.Kind = domain.TransactionKind(kind)
	tx.Direction = domain.Direction(direction)
	tx.Timestamp = occurredAt.Time
	tx.CreatedAt = createdAt.Time

	decimals := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"quantity", quantity, &tx.Quantity},
		{"unit_price", unitPrice, &tx.UnitPrice},
		{"fee_quantity", feeQuantity, &tx.FeeQuantity},
		{"fee_unit_price", feePrice, &tx.FeeUnitPrice},
	}
	for _, d := range decimals {
		v, err := decimal.NewFromString(d.raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", d.name, err)
		}
		*d.dst = v
	}

	return &tx, nil
}

// ListWallets returns every wallet holding transactions of token for the owner
func (r *transactionRepository) ListWallets(ctx context.Context, ownerID, token string) ([]string, error) {
	query := r.db.rebind(`
		SELECT DISTINCT wallet_address FROM transactions
		WHERE owner_id = $1 AND token = $2
		ORDER BY wallet_address ASC
	`)

	rows, err := r.db.QueryContext(ctx, query, ownerID, token)
	if err != nil {
		return nil, fmt.Errorf("failed to query wallets: %w", err)
	}
	defer rows.Close()

	var wallets []string
	for rows.Next() {
		var wallet string
		if err := rows.Scan(&wallet); err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, wallet)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wallets: %w", err)
	}

	return wallets, nil
}
