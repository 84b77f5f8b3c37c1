package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/tokenledger-backend/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("DB_CONN_STR", "")
	t.Setenv("DB_NAME", "ledger_test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Contains(t, cfg.DSN(), "dbname=ledger_test")
	assert.Equal(t, 24*time.Hour, cfg.PriceFallbackWindow)
	assert.Equal(t, domain.MethodFIFO, cfg.DefaultCostBasisMethod)
	assert.Equal(t, 4, cfg.SyncConcurrency)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("SQLITE_PATH", ":memory:")
	t.Setenv("PRICE_FALLBACK_WINDOW", "6h")
	t.Setenv("FETCH_TIMEOUT", "not-a-duration")
	t.Setenv("SYNC_CONCURRENCY", "8")
	t.Setenv("PRICE_RATE_LIMIT", "0.5")
	t.Setenv("DEFAULT_COST_BASIS_METHOD", "weighted-average")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, ":memory:", cfg.DSN())
	assert.Equal(t, 6*time.Hour, cfg.PriceFallbackWindow)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 8, cfg.SyncConcurrency)
	assert.Equal(t, 0.5, cfg.PriceRateLimit)
	assert.Equal(t, domain.MethodWeightedAverage, cfg.DefaultCostBasisMethod)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"driver", "DB_DRIVER", "mysql"},
		{"method", "DEFAULT_COST_BASIS_METHOD", "HIFO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
