package sqlstore

import (
	"context"
	"fmt"
	"strings"
)

// schema is written for PostgreSQL; sqliteTypes rewrites column types for SQLite
var schema = []string{
	`CREATE TABLE IF NOT EXISTS transactions (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		owner_id TEXT NOT NULL,
		wallet_address TEXT NOT NULL,
		chain TEXT NOT NULL,
		token TEXT NOT NULL,
		kind TEXT NOT NULL,
		direction TEXT NOT NULL DEFAULT '',
		quantity NUMERIC(48,18) NOT NULL,
		unit_price NUMERIC(48,18) NOT NULL,
		fee_quantity NUMERIC(48,18) NOT NULL DEFAULT 0,
		fee_token TEXT NOT NULL DEFAULT '',
		fee_unit_price NUMERIC(48,18) NOT NULL DEFAULT 0,
		occurred_at TIMESTAMPTZ NOT NULL,
		hash TEXT NOT NULL,
		source TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (owner_id, hash, wallet_address)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_owner_token
		ON transactions (owner_id, token, occurred_at, seq)`,
	`CREATE TABLE IF NOT EXISTS holdings (
		owner_id TEXT NOT NULL,
		wallet_scope TEXT NOT NULL,
		token TEXT NOT NULL,
		method TEXT NOT NULL,
		quantity NUMERIC(48,18) NOT NULL,
		cost_basis NUMERIC(48,18) NOT NULL,
		last_updated TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (owner_id, wallet_scope, token, method)
	)`,
	`CREATE TABLE IF NOT EXISTS realized_pnl_records (
		id UUID PRIMARY KEY,
		owner_id TEXT NOT NULL,
		token TEXT NOT NULL,
		method TEXT NOT NULL,
		transaction_id UUID NOT NULL,
		quantity NUMERIC(48,18) NOT NULL,
		unit_cost_basis NUMERIC(48,18) NOT NULL,
		proceeds NUMERIC(48,18) NOT NULL,
		cost NUMERIC(48,18) NOT NULL,
		fees NUMERIC(48,18) NOT NULL,
		amount NUMERIC(48,18) NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		computed_at TIMESTAMPTZ NOT NULL,
		UNIQUE (owner_id, transaction_id, method)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_realized_owner_method
		ON realized_pnl_records (owner_id, method, occurred_at)`,
	`CREATE TABLE IF NOT EXISTS owner_settings (
		owner_id TEXT PRIMARY KEY,
		cost_basis_method TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

var sqliteTypes = strings.NewReplacer(
	"seq BIGSERIAL PRIMARY KEY", "seq INTEGER PRIMARY KEY AUTOINCREMENT",
	"NUMERIC(48,18)", "TEXT",
	"TIMESTAMPTZ", "TEXT",
	"UUID", "TEXT",
)

// Migrate creates the ledger tables if they do not exist
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if db.dialect == DialectSQLite {
			stmt = sqliteTypes.Replace(stmt)
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}
