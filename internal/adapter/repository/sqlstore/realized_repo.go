package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/simaogato/tokenledger-backend/internal/domain"
)

// realizedPnLRepository implements domain.RealizedPnLRepository
type realizedPnLRepository struct {
	db *DB
}

// NewRealizedPnLRepository creates a new realized P&L repository
func NewRealizedPnLRepository(db *DB) domain.RealizedPnLRepository {
	return &realizedPnLRepository{db: db}
}

// Upsert writes all records in one database transaction
func (r *realizedPnLRepository) Upsert(ctx context.Context, records []*domain.RealizedPnLRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// The id column is left untouched on conflict so record ids stay stable
	stmt, err := tx.PrepareContext(ctx, r.db.rebind(`
		INSERT INTO realized_pnl_records (
			id, owner_id, token, method, transaction_id, quantity, unit_cost_basis,
			proceeds, cost, fees, amount, occurred_at, computed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (owner_id, transaction_id, method) DO UPDATE SET
			token = excluded.token,
			quantity = excluded.quantity,
			unit_cost_basis = excluded.unit_cost_basis,
			proceeds = excluded.proceeds,
			cost = excluded.cost,
			fees = excluded.fees,
			amount = excluded.amount,
			occurred_at = excluded.occurred_at,
			computed_at = excluded.computed_at
	`))
	if err != nil {
		return fmt.Errorf("failed to prepare realized pnl upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			rec.ID.String(),
			rec.OwnerID,
			rec.Token,
			string(rec.Method),
			rec.TransactionID.String(),
			rec.Quantity.String(),
			rec.UnitCostBasis.String(),
			rec.Proceeds.String(),
			rec.Cost.String(),
			rec.Fees.String(),
			rec.Amount.String(),
			r.db.timeArg(rec.Timestamp),
			r.db.timeArg(rec.ComputedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert realized pnl for transaction %s: %w", rec.TransactionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit realized pnl records: %w", err)
	}
	return nil
}

// List returns records ordered by disposal time
func (r *realizedPnLRepository) List(ctx context.Context, ownerID string, method domain.CostBasisMethod, filter domain.RealizedPnLFilter) ([]*domain.RealizedPnLRecord, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, owner_id, token, method, transaction_id, quantity, unit_cost_basis,
			proceeds, cost, fees, amount, occurred_at, computed_at
		FROM realized_pnl_records
		WHERE owner_id = $1 AND method = $2`)
	args := []interface{}{ownerID, string(method)}

	if filter.Token != "" {
		args = append(args, filter.Token)
		fmt.Fprintf(&sb, ` AND token = $%d`, len(args))
	}
	if !filter.Range.From.IsZero() {
		args = append(args, r.db.timeArg(filter.Range.From))
		fmt.Fprintf(&sb, ` AND occurred_at >= $%d`, len(args))
	}
	if !filter.Range.To.IsZero() {
		args = append(args, r.db.timeArg(filter.Range.To))
		fmt.Fprintf(&sb, ` AND occurred_at <= $%d`, len(args))
	}
	sb.WriteString(` ORDER BY occurred_at ASC, token ASC`)

	rows, err := r.db.QueryContext(ctx, r.db.rebind(sb.String()), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query realized pnl records: %w", err)
	}
	defer rows.Close()

	var records []*domain.RealizedPnLRecord
	for rows.Next() {
		var (
			rec                                       domain.RealizedPnLRecord
			method                                    string
			qty, unitCost, proceeds, cost, fees, amt string
			occurredAt, computedAt                    dbTime
		)
		err := rows.Scan(
			&rec.ID,
			&rec.OwnerID,
			&rec.Token,
			&method,
			&rec.TransactionID,
			&qty,
			&unitCost,
			&proceeds,
			&cost,
			&fees,
			&amt,
			&occurredAt,
			&computedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan realized pnl record: %w", err)
		}

		rec.Method = domain.CostBasisMethod(method)
		rec.Timestamp = occurredAt.Time
		rec.ComputedAt = computedAt.Time

		for _, f := range []struct {
			raw string
			dst *decimal.Decimal
		}{
			{qty, &rec.Quantity},
			{unitCost, &rec.UnitCostBasis},
			{proceeds, &rec.Proceeds},
			{cost, &rec.Cost},
			{fees, &rec.Fees},
			{amt, &rec.Amount},
		} {
			v, err := decimal.NewFromString(f.raw)
			if err != nil {
				return nil, fmt.Errorf("failed to parse realized pnl amount: %w", err)
			}
			*f.dst = v
		}

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating realized pnl records: %w", err)
	}

	return records, nil
}
