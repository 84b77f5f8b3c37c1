package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/simaogato/tokenledger-backend/internal/domain"
)

// settingsRepository implements domain.SettingsRepository
type settingsRepository struct {
	db *DB
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db *DB) domain.SettingsRepository {
	return &settingsRepository{db: db}
}

// GetMethod returns the owner's active cost-basis method
func (r *settingsRepository) GetMethod(ctx context.Context, ownerID string) (domain.CostBasisMethod, error) {
	query := r.db.rebind(`SELECT cost_basis_method FROM owner_settings WHERE owner_id = $1`)

	var method string
	err := r.db.QueryRowContext(ctx, query, ownerID).Scan(&method)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("settings for owner %s: %w", ownerID, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get cost basis method: %w", err)
	}

	return domain.ParseCostBasisMethod(method)
}

// SetMethod stores the owner's active cost-basis method
func (r *settingsRepository) SetMethod(ctx context.Context, ownerID string, method domain.CostBasisMethod) error {
	if err := method.Validate(); err != nil {
		return err
	}

	query := r.db.rebind(`
		INSERT INTO owner_settings (owner_id, cost_basis_method, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id) DO UPDATE SET
			cost_basis_method = excluded.cost_basis_method,
			updated_at = excluded.updated_at
	`)

	if _, err := r.db.ExecContext(ctx, query, ownerID, string(method), r.db.timeArg(time.Now())); err != nil {
		return fmt.Errorf("failed to set cost basis method: %w", err)
	}
	return nil
}
