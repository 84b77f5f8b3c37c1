package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/simaogato/tokenledger-backend/internal/domain"
)

// holdingRepository implements domain.HoldingRepository
type holdingRepository struct {
	db *DB
}

// NewHoldingRepository creates a new holding repository
func NewHoldingRepository(db *DB) domain.HoldingRepository {
	return &holdingRepository{db: db}
}

// Upsert overwrites the holding row for (owner, scope, token, method)
func (r *holdingRepository) Upsert(ctx context.Context, h *domain.Holding) error {
	if err := h.Validate(); err != nil {
		return err
	}

	query := r.db.rebind(`
		INSERT INTO holdings (owner_id, wallet_scope, token, method, quantity, cost_basis, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (owner_id, wallet_scope, token, method) DO UPDATE SET
			quantity = excluded.quantity,
			cost_basis = excluded.cost_basis,
			last_updated = excluded.last_updated
	`)

	_, err := r.db.ExecContext(ctx, query,
		h.OwnerID,
		h.WalletScope,
		h.Token,
		string(h.Method),
		h.Quantity.String(),
		h.CostBasis.String(),
		r.db.timeArg(h.LastUpdated),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert holding: %w", err)
	}

	return nil
}

// Get retrieves one holding
func (r *holdingRepository) Get(ctx context.Context, ownerID, walletScope, token string, method domain.CostBasisMethod) (*domain.Holding, error) {
	query := r.db.rebind(`
		SELECT owner_id, wallet_scope, token, method, quantity, cost_basis, last_updated
		FROM holdings
		WHERE owner_id = $1 AND wallet_scope = $2 AND token = $3 AND method = $4
	`)

	row := r.db.QueryRowContext(ctx, query, ownerID, walletScope, token, string(method))
	h, err := scanHolding(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("holding %s/%s/%s/%s: %w", ownerID, walletScope, token, method, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get holding: %w", err)
	}
	return h, nil
}

// List retrieves every holding of an owner for one scope and method
func (r *holdingRepository) List(ctx context.Context, ownerID, walletScope string, method domain.CostBasisMethod) ([]*domain.Holding, error) {
	query := r.db.rebind(`
		SELECT owner_id, wallet_scope, token, method, quantity, cost_basis, last_updated
		FROM holdings
		WHERE owner_id = $1 AND wallet_scope = $2 AND method = $3
		ORDER BY token ASC
	`)

	rows, err := r.db.QueryContext(ctx, query, ownerID, walletScope, string(method))
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	var holdings []*domain.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holdings: %w", err)
	}

	return holdings, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanHolding(s scanner) (*domain.Holding, error) {
	var (
		h                   domain.Holding
		method              string
		quantity, costBasis string
		lastUpdated         dbTime
	)

	if err := s.Scan(&h.OwnerID, &h.WalletScope, &h.Token, &method, &quantity, &costBasis, &lastUpdated); err != nil {
		return nil, err
	}

	var err error
	if h.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, fmt.Errorf("failed to parse quantity: %w", err)
	}
	if h.CostBasis, err = decimal.NewFromString(costBasis); err != nil {
		return nil, fmt.Errorf("failed to parse cost_basis: %w", err)
	}
	h.Method = domain.CostBasisMethod(method)
	h.LastUpdated = lastUpdated.Time

	return &h, nil
}
