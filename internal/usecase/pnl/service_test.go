package pnl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/tokenledger-backend/internal/adapter/lock/memory"
	"github.com/simaogato/tokenledger-backend/internal/adapter/repository/sqlstore"
	"github.com/simaogato/tokenledger-backend/internal/domain"
	"github.com/simaogato/tokenledger-backend/internal/usecase/ledger"
)

// MockPrices is a mock implementation of PriceLookup for testing
type MockPrices struct {
	mock.Mock
}

func (m *MockPrices) HistoricalPrice(ctx context.Context, token string, at time.Time) (decimal.Decimal, error) {
	args := m.Called(ctx, token, at)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockPrices) CurrentPrice(ctx context.Context, token string) (decimal.Decimal, bool, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(decimal.Decimal), args.Bool(1), args.Error(2)
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	txRepo   domain.TransactionRepository
	ledger   *ledger.LedgerService
	settings domain.SettingsRepository
	holdings domain.HoldingRepository
	realized domain.RealizedPnLRepository
	prices   *MockPrices
	service  *PnLService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlstore.Open(context.Background(), sqlstore.DialectSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		txRepo:   sqlstore.NewTransactionRepository(db),
		settings: sqlstore.NewSettingsRepository(db),
		prices:   new(MockPrices),
	}
	f.holdings = sqlstore.NewHoldingRepository(db)
	f.realized = sqlstore.NewRealizedPnLRepository(db)
	f.ledger = ledger.NewLedgerService(f.txRepo, f.holdings, f.realized, f.settings, memory.NewLocker())
	f.service = NewPnLService(f.txRepo, f.holdings, f.realized, f.prices, f.ledger, time.Second, nil)
	return f
}

func (f *fixture) add(t *testing.T, hash, token string, kind domain.TransactionKind, qty, price string, day int) {
	t.Helper()
	_, err := f.txRepo.CreateIfAbsent(context.Background(), &domain.Transaction{
		ID:            uuid.New(),
		OwnerID:       "alice",
		WalletAddress: "0xabc",
		Chain:         "ethereum",
		Token:         token,
		Kind:          kind,
		Quantity:      decimal.RequireFromString(qty),
		UnitPrice:     decimal.RequireFromString(price),
		Timestamp:     t0.AddDate(0, 0, day),
		Hash:          hash,
		Source:        "test",
		CreatedAt:     t0,
	})
	require.NoError(t, err)
}

// Buy 10@1000, buy 10@1500, sell 15@2000
func (f *fixture) scenario(t *testing.T) {
	f.add(t, "h1", "ETH", domain.KindBuy, "10", "1000", 0)
	f.add(t, "h2", "ETH", domain.KindBuy, "10", "1500", 1)
	f.add(t, "h3", "ETH", domain.KindSell, "15", "2000", 2)
}

func TestCalculateRealizedPnL_FIFOScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.scenario(t)

	report, err := f.service.CalculateRealizedPnL(ctx, "alice", Filter{})
	require.NoError(t, err)

	assert.Equal(t, domain.MethodFIFO, report.Method)
	require.Len(t, report.Records, 1)
	assert.True(t, decimal.RequireFromString("12500.00").Equal(report.Total.Round(2)), report.Total.String())
	assert.True(t, report.Total.Equal(report.ByToken["ETH"]))
	assert.Empty(t, report.Errors)
}

func TestCalculateRealizedPnL_FollowsActiveMethod(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.scenario(t)

	_, err := f.ledger.SetMethod(ctx, "alice", domain.MethodLIFO)
	require.NoError(t, err)

	report, err := f.service.CalculateRealizedPnL(ctx, "alice", Filter{})
	require.NoError(t, err)

	// 30000 - 15 * 1333.33333333
	assert.Equal(t, domain.MethodLIFO, report.Method)
	assert.True(t, decimal.RequireFromString("10000.00000005").Equal(report.Total), report.Total.String())
}

func TestCalculateRealizedPnL_SellWithoutBuys(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, "h1", "BTC", domain.KindSell, "2", "30000", 0)

	report, err := f.service.CalculateRealizedPnL(ctx, "alice", Filter{})
	require.NoError(t, err)

	// Zero cost basis: the whole proceeds are realized
	assert.True(t, decimal.NewFromInt(60000).Equal(report.Total))
	assert.Empty(t, report.Errors)
}

func TestCalculateRealizedPnL_Range(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.scenario(t)

	tests := []struct {
		name    string
		filter  Filter
		records int
	}{
		{"open range", Filter{}, 1},
		{"range covering the sell", Filter{From: t0, To: t0.AddDate(0, 0, 2)}, 1},
		{"range after the sell", Filter{From: t0.AddDate(0, 0, 3)}, 0},
		{"range before the sell", Filter{To: t0.AddDate(0, 0, 1)}, 0},
		{"other token", Filter{Token: "btc"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := f.service.CalculateRealizedPnL(ctx, "alice", tt.filter)
			require.NoError(t, err)
			assert.Len(t, report.Records, tt.records)
			if tt.records == 0 {
				assert.True(t, report.Total.IsZero())
			}
		})
	}

	_, err := f.service.CalculateRealizedPnL(ctx, "alice", Filter{From: t0.AddDate(0, 0, 2), To: t0})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCalculateRealizedPnL_ReadsStoredRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.scenario(t)

	for i := 0; i < 2; i++ {
		report, err := f.service.CalculateRealizedPnL(ctx, "alice", Filter{Token: "eth"})
		require.NoError(t, err)
		require.Len(t, report.Records, 1)
	}

	stored, err := f.realized.List(ctx, "alice", domain.MethodFIFO, domain.RealizedPnLFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 1)

	report, err := f.service.CalculateRealizedPnL(ctx, "alice", Filter{})
	require.NoError(t, err)
	assert.Equal(t, stored[0].ID, report.Records[0].ID)
	assert.True(t, stored[0].Amount.Equal(report.Total))
}

func TestCalculatePnL_UntradedTokenStoresNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.scenario(t)

	realized, err := f.service.CalculateRealizedPnL(ctx, "alice", Filter{Token: "doge"})
	require.NoError(t, err)
	assert.Empty(t, realized.Records)
	assert.True(t, realized.Total.IsZero())

	unrealized, err := f.service.CalculateUnrealizedPnL(ctx, "alice", Filter{Token: "doge"})
	require.NoError(t, err)
	assert.Empty(t, unrealized.Lines)

	_, err = f.holdings.Get(ctx, "alice", domain.WalletScopeAll, "DOGE", domain.MethodFIFO)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCalculateUnrealizedPnL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.scenario(t)
	f.add(t, "h4", "SOL", domain.KindBuy, "4", "25", 0)

	for _, token := range []string{"ETH", "SOL"} {
		_, err := f.ledger.RecomputeHoldings(ctx, "alice", token, domain.MethodFIFO)
		require.NoError(t, err)
	}

	f.prices.On("CurrentPrice", mock.Anything, "ETH").Return(decimal.NewFromInt(2000), true, nil)
	f.prices.On("CurrentPrice", mock.Anything, "SOL").Return(decimal.Zero, false, nil)

	report, err := f.service.CalculateUnrealizedPnL(ctx, "alice", Filter{})
	require.NoError(t, err)

	require.Len(t, report.Lines, 2)
	eth := report.Lines[0]
	assert.Equal(t, "ETH", eth.Token)
	assert.True(t, eth.PriceAvailable)
	assert.True(t, decimal.NewFromInt(10000).Equal(eth.MarketValue))
	assert.True(t, decimal.NewFromInt(2500).Equal(eth.Amount))
	assert.True(t, decimal.RequireFromString("33.3333").Equal(eth.Percent), eth.Percent.String())

	sol := report.Lines[1]
	assert.False(t, sol.PriceAvailable)
	assert.True(t, sol.Amount.IsZero())

	assert.True(t, decimal.NewFromInt(2500).Equal(report.Total))
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "SOL", report.Errors[0].Item)
	assert.ErrorIs(t, report.Errors[0], domain.ErrPriceUnavailable)

	only, err := f.service.CalculateUnrealizedPnL(ctx, "alice", Filter{Token: "eth"})
	require.NoError(t, err)
	require.Len(t, only.Lines, 1)
	assert.Equal(t, "ETH", only.Lines[0].Token)
	assert.True(t, decimal.NewFromInt(2500).Equal(only.Total))
}

func TestCalculateUnrealizedPnL_PriceError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, "h1", "ETH", domain.KindBuy, "1", "1000", 0)
	_, err := f.ledger.RecomputeHoldings(ctx, "alice", "ETH", domain.MethodFIFO)
	require.NoError(t, err)

	f.prices.On("CurrentPrice", mock.Anything, "ETH").Return(decimal.Zero, false, errors.New("rate limited"))

	report, err := f.service.CalculateUnrealizedPnL(ctx, "alice", Filter{})
	require.NoError(t, err)
	assert.True(t, report.Total.IsZero())
	require.Len(t, report.Errors, 1)
	assert.ErrorIs(t, report.Errors[0], domain.ErrPriceUnavailable)
}

func TestCalculatePnLSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.scenario(t)
	f.add(t, "h5", "BTC", domain.KindSell, "1", "100", 0)

	f.prices.On("CurrentPrice", mock.Anything, "ETH").Return(decimal.NewFromInt(2000), true, nil)

	summary, err := f.service.CalculatePnLSummary(ctx, "alice", Filter{})
	require.NoError(t, err)

	require.Len(t, summary.Lines, 2)
	assert.Equal(t, "BTC", summary.Lines[0].Token)
	assert.True(t, decimal.NewFromInt(100).Equal(summary.Lines[0].Total))

	eth := summary.Lines[1]
	assert.True(t, decimal.RequireFromString("12499.99999995").Equal(eth.Realized), eth.Realized.String())
	assert.True(t, decimal.NewFromInt(2500).Equal(eth.Unrealized))
	assert.True(t, eth.Realized.Add(eth.Unrealized).Equal(eth.Total))

	// Portfolio totals are the exact sums of the lines
	realized, unrealized, total := decimal.Zero, decimal.Zero, decimal.Zero
	for _, l := range summary.Lines {
		realized = realized.Add(l.Realized)
		unrealized = unrealized.Add(l.Unrealized)
		total = total.Add(l.Total)
	}
	assert.True(t, realized.Equal(summary.Realized))
	assert.True(t, unrealized.Equal(summary.Unrealized))
	assert.True(t, total.Equal(summary.Total))
	assert.True(t, summary.Realized.Add(summary.Unrealized).Equal(summary.Total))
	assert.Empty(t, summary.Errors)
}

func TestCalculatePnL_RequiresOwner(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.CalculatePnLSummary(context.Background(), "", Filter{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
