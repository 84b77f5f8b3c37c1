package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/tokenledger-backend/internal/adapter/lock/memory"
	"github.com/simaogato/tokenledger-backend/internal/domain"
)

// MockTransactionRepository is a mock implementation of TransactionRepository for testing
type MockTransactionRepository struct {
	mock.Mock
}

func (m *MockTransactionRepository) Exists(ctx context.Context, ownerID, hash, walletAddress string) (bool, error) {
	args := m.Called(ctx, ownerID, hash, walletAddress)
	return args.Bool(0), args.Error(1)
}

func (m *MockTransactionRepository) CreateIfAbsent(ctx context.Context, tx *domain.Transaction) (bool, error) {
	args := m.Called(ctx, tx)
	return args.Bool(0), args.Error(1)
}

func (m *MockTransactionRepository) ListByToken(ctx context.Context, ownerID, token string, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	args := m.Called(ctx, ownerID, token, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) ListTokens(ctx context.Context, ownerID string) ([]string, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockTransactionRepository) ListWallets(ctx context.Context, ownerID, token string) ([]string, error) {
	args := m.Called(ctx, ownerID, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// MockHoldingRepository is a mock implementation of HoldingRepository for testing
type MockHoldingRepository struct {
	mock.Mock
}

func (m *MockHoldingRepository) Upsert(ctx context.Context, holding *domain.Holding) error {
	args := m.Called(ctx, holding)
	return args.Error(0)
}

func (m *MockHoldingRepository) Get(ctx context.Context, ownerID, walletScope, token string, method domain.CostBasisMethod) (*domain.Holding, error) {
	args := m.Called(ctx, ownerID, walletScope, token, method)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Holding), args.Error(1)
}

func (m *MockHoldingRepository) List(ctx context.Context, ownerID, walletScope string, method domain.CostBasisMethod) ([]*domain.Holding, error) {
	args := m.Called(ctx, ownerID, walletScope, method)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Holding), args.Error(1)
}

// MockRealizedPnLRepository is a mock implementation of RealizedPnLRepository for testing
type MockRealizedPnLRepository struct {
	mock.Mock
}

func (m *MockRealizedPnLRepository) Upsert(ctx context.Context, records []*domain.RealizedPnLRecord) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

func (m *MockRealizedPnLRepository) List(ctx context.Context, ownerID string, method domain.CostBasisMethod, filter domain.RealizedPnLFilter) ([]*domain.RealizedPnLRecord, error) {
	args := m.Called(ctx, ownerID, method, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.RealizedPnLRecord), args.Error(1)
}

// MockSettingsRepository is a mock implementation of SettingsRepository for testing
type MockSettingsRepository struct {
	mock.Mock
}

func (m *MockSettingsRepository) GetMethod(ctx context.Context, ownerID string) (domain.CostBasisMethod, error) {
	args := m.Called(ctx, ownerID)
	return args.Get(0).(domain.CostBasisMethod), args.Error(1)
}

func (m *MockSettingsRepository) SetMethod(ctx context.Context, ownerID string, method domain.CostBasisMethod) error {
	args := m.Called(ctx, ownerID, method)
	return args.Error(0)
}

type fixture struct {
	txRepo       *MockTransactionRepository
	holdingRepo  *MockHoldingRepository
	realizedRepo *MockRealizedPnLRepository
	settingsRepo *MockSettingsRepository
	service      *LedgerService
}

var (
	t0  = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
)

func newFixture() *fixture {
	f := &fixture{
		txRepo:       new(MockTransactionRepository),
		holdingRepo:  new(MockHoldingRepository),
		realizedRepo: new(MockRealizedPnLRepository),
		settingsRepo: new(MockSettingsRepository),
	}
	f.service = NewLedgerService(f.txRepo, f.holdingRepo, f.realizedRepo, f.settingsRepo,
		memory.NewLocker(), WithClock(func() time.Time { return now }))
	return f
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func tx(hash string, kind domain.TransactionKind, qty, price string, day int) *domain.Transaction {
	return &domain.Transaction{
		ID:            uuid.New(),
		OwnerID:       "alice",
		WalletAddress: "0xabc",
		Token:         "ETH",
		Kind:          kind,
		Quantity:      dec(qty),
		UnitPrice:     dec(price),
		Timestamp:     t0.AddDate(0, 0, day),
		Hash:          hash,
	}
}

// Buy 10@1000, buy 10@1500, sell 15@2000
func scenario() []*domain.Transaction {
	return []*domain.Transaction{
		tx("h1", domain.KindBuy, "10", "1000", 0),
		tx("h2", domain.KindBuy, "10", "1500", 1),
		tx("h3", domain.KindSell, "15", "2000", 2),
	}
}

func TestRecompute_FIFOScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.txRepo.On("ListByToken", ctx, "alice", "ETH", domain.TransactionFilter{}).Return(scenario(), nil)
	f.holdingRepo.On("Upsert", ctx, mock.Anything).Return(nil)
	f.realizedRepo.On("Upsert", ctx, mock.Anything).Return(nil)

	result, err := f.service.Recompute(ctx, "alice", "eth", domain.MethodFIFO)
	require.NoError(t, err)

	// Holding: 5 units left from the 1500 lot
	h := result.Holding
	assert.Equal(t, domain.WalletScopeAll, h.WalletScope)
	assert.Equal(t, "ETH", h.Token)
	assert.True(t, dec("5").Equal(h.Quantity))
	assert.True(t, dec("7500").Equal(h.CostBasis))
	assert.Equal(t, now, h.LastUpdated)

	// Realized: proceeds 30000, cost 15 * 1166.66666667
	require.Len(t, result.Records, 1)
	rec := result.Records[0]
	assert.Equal(t, domain.MethodFIFO, rec.Method)
	assert.True(t, dec("1166.66666667").Equal(rec.UnitCostBasis))
	assert.True(t, dec("30000").Equal(rec.Proceeds))
	assert.True(t, dec("17500.00000005").Equal(rec.Cost))
	assert.True(t, rec.Proceeds.Sub(rec.Cost).Sub(rec.Fees).Equal(rec.Amount))
	assert.True(t, dec("12500.00").Equal(rec.Amount.Round(2)))
	assert.Empty(t, result.Warnings)

	f.holdingRepo.AssertCalled(t, "Upsert", ctx, h)
	f.realizedRepo.AssertCalled(t, "Upsert", ctx, result.Records)
}

func TestRecompute_MethodsOnSameHistory(t *testing.T) {
	tests := []struct {
		method   domain.CostBasisMethod
		unitCost string
		quantity string
		basis    string
	}{
		{domain.MethodFIFO, "1166.66666667", "5", "7500"},
		{domain.MethodLIFO, "1333.33333333", "5", "5000"},
		{domain.MethodWeightedAverage, "1250", "5", "6250"},
	}

	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture()
			f.txRepo.On("ListByToken", ctx, "alice", "ETH", domain.TransactionFilter{}).Return(scenario(), nil)
			f.holdingRepo.On("Upsert", ctx, mock.Anything).Return(nil)
			f.realizedRepo.On("Upsert", ctx, mock.Anything).Return(nil)

			result, err := f.service.Recompute(ctx, "alice", "ETH", tt.method)
			require.NoError(t, err)
			assert.True(t, dec(tt.unitCost).Equal(result.Records[0].UnitCostBasis), result.Records[0].UnitCostBasis.String())
			assert.True(t, dec(tt.quantity).Equal(result.Holding.Quantity))
			assert.True(t, dec(tt.basis).Equal(result.Holding.CostBasis), result.Holding.CostBasis.String())
			assert.Equal(t, tt.method, result.Holding.Method)
		})
	}
}

func TestRecompute_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	history := scenario()

	f.txRepo.On("ListByToken", ctx, "alice", "ETH", domain.TransactionFilter{}).Return(history, nil)
	f.holdingRepo.On("Upsert", ctx, mock.Anything).Return(nil)
	f.realizedRepo.On("Upsert", ctx, mock.Anything).Return(nil)

	first, err := f.service.Recompute(ctx, "alice", "ETH", domain.MethodLIFO)
	require.NoError(t, err)
	second, err := f.service.Recompute(ctx, "alice", "ETH", domain.MethodLIFO)
	require.NoError(t, err)

	assert.Equal(t, first.Holding, second.Holding)
	assert.Equal(t, first.Records, second.Records)
	assert.Equal(t, first.Records[0].ID, second.Records[0].ID)
}

func TestRecompute_SellWithoutHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	sell := tx("h1", domain.KindSell, "2", "3000", 0)
	sell.FeeQuantity = dec("0.01")
	sell.FeeToken = "ETH"
	sell.FeeUnitPrice = dec("3000")

	f.txRepo.On("ListByToken", ctx, "alice", "ETH", domain.TransactionFilter{}).Return([]*domain.Transaction{sell}, nil)
	f.holdingRepo.On("Upsert", ctx, mock.Anything).Return(nil)
	f.realizedRepo.On("Upsert", ctx, mock.Anything).Return(nil)

	result, err := f.service.Recompute(ctx, "alice", "ETH", domain.MethodFIFO)
	require.NoError(t, err)

	assert.True(t, result.Holding.Quantity.IsZero())
	assert.True(t, result.Holding.CostBasis.IsZero())

	require.Len(t, result.Records, 1)
	rec := result.Records[0]
	assert.True(t, rec.Cost.IsZero())
	assert.True(t, dec("6000").Equal(rec.Proceeds))
	assert.True(t, dec("30").Equal(rec.Fees))
	assert.True(t, dec("5970").Equal(rec.Amount))

	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "h1", result.Warnings[0].Item)
	assert.ErrorIs(t, result.Warnings[0], domain.ErrInsufficientHistory)
}

func TestRecompute_Oversell(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.txRepo.On("ListByToken", ctx, "alice", "ETH", domain.TransactionFilter{}).Return([]*domain.Transaction{
		tx("h1", domain.KindBuy, "5", "100", 0),
		tx("h2", domain.KindSell, "8", "200", 1),
	}, nil)
	f.holdingRepo.On("Upsert", ctx, mock.Anything).Return(nil)
	f.realizedRepo.On("Upsert", ctx, mock.Anything).Return(nil)

	result, err := f.service.Recompute(ctx, "alice", "ETH", domain.MethodFIFO)
	require.NoError(t, err)

	// Holding never goes negative
	assert.True(t, result.Holding.Quantity.IsZero())
	// Only the covered 5 units carry cost
	assert.True(t, dec("500").Equal(result.Records[0].Cost), result.Records[0].Cost.String())
	require.Len(t, result.Warnings, 1)
	assert.ErrorIs(t, result.Warnings[0], domain.ErrInsufficientHistory)
}

func TestRecompute_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid method", func(t *testing.T) {
		f := newFixture()
		_, err := f.service.Recompute(ctx, "alice", "ETH", domain.CostBasisMethod("HIFO"))
		assert.ErrorIs(t, err, domain.ErrValidation)
		f.txRepo.AssertNotCalled(t, "ListByToken", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing token", func(t *testing.T) {
		f := newFixture()
		_, err := f.service.Recompute(ctx, "alice", " ", domain.MethodFIFO)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("store failure leaves nothing written", func(t *testing.T) {
		f := newFixture()
		f.txRepo.On("ListByToken", ctx, "alice", "ETH", domain.TransactionFilter{}).Return(nil, errors.New("connection reset"))
		_, err := f.service.Recompute(ctx, "alice", "ETH", domain.MethodFIFO)
		assert.Error(t, err)
		f.holdingRepo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
	})
}

func TestRecompute_UsesActiveMethod(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.settingsRepo.On("GetMethod", ctx, "alice").Return(domain.MethodLIFO, nil)
	f.txRepo.On("ListByToken", ctx, "alice", "ETH", domain.TransactionFilter{}).Return(scenario(), nil)
	f.holdingRepo.On("Upsert", ctx, mock.Anything).Return(nil)
	f.realizedRepo.On("Upsert", ctx, mock.Anything).Return(nil)

	holding, err := f.service.RecomputeHoldings(ctx, "alice", "ETH", "")
	require.NoError(t, err)
	assert.Equal(t, domain.MethodLIFO, holding.Method)
}

func TestRecompute_SamePairSerialized(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	var inFlight, maxInFlight int32
	f.txRepo.On("ListByToken", mock.Anything, "alice", "ETH", domain.TransactionFilter{}).
		Run(func(mock.Arguments) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				m := atomic.LoadInt32(&maxInFlight)
				if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
		}).
		Return(scenario(), nil)
	f.holdingRepo.On("Upsert", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { atomic.AddInt32(&inFlight, -1) }).
		Return(nil)
	f.realizedRepo.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Recompute(ctx, "alice", "ETH", domain.MethodFIFO)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
}

func TestRecomputeWalletHoldings(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	wallet := "0x52908400098527886E0F7030069857D2E4169EE7"
	f.txRepo.On("ListByToken", ctx, "alice", "ETH", domain.TransactionFilter{WalletAddress: wallet}).
		Return([]*domain.Transaction{tx("h1", domain.KindBuy, "2", "100", 0)}, nil)
	f.holdingRepo.On("Upsert", ctx, mock.Anything).Return(nil)

	holding, err := f.service.RecomputeWalletHoldings(ctx, "alice", "0x52908400098527886e0f7030069857d2e4169ee7", "ETH", domain.MethodFIFO)
	require.NoError(t, err)
	assert.Equal(t, wallet, holding.WalletScope)
	assert.True(t, dec("200").Equal(holding.CostBasis))
	f.realizedRepo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)

	_, err = f.service.RecomputeWalletHoldings(ctx, "alice", domain.WalletScopeAll, "ETH", domain.MethodFIFO)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestGetCostBasis(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	asOf := t0.AddDate(0, 0, 1)
	f.txRepo.On("ListByToken", ctx, "alice", "ETH", domain.TransactionFilter{Until: asOf}).
		Return(scenario()[:2], nil)

	result, err := f.service.GetCostBasis(ctx, "alice", "ETH", dec("15"), asOf, domain.MethodFIFO)
	require.NoError(t, err)
	assert.True(t, dec("1166.66666667").Equal(result.UnitCostBasis))
	assert.True(t, result.Unmatched.IsZero())

	// Nothing is persisted
	f.holdingRepo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)

	_, err = f.service.GetCostBasis(ctx, "alice", "ETH", dec("0"), asOf, domain.MethodFIFO)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestActiveMethod(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		stored  domain.CostBasisMethod
		err     error
		want    domain.CostBasisMethod
		wantErr bool
	}{
		{"stored", domain.MethodWeightedAverage, nil, domain.MethodWeightedAverage, false},
		{"unset falls back to default", "", domain.ErrNotFound, domain.MethodFIFO, false},
		{"store failure", "", errors.New("boom"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.settingsRepo.On("GetMethod", ctx, "alice").Return(tt.stored, tt.err)

			got, err := f.service.ActiveMethod(ctx, "alice")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetMethod_IsolatesTokenFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.settingsRepo.On("SetMethod", ctx, "alice", domain.MethodWeightedAverage).Return(nil)
	f.txRepo.On("ListTokens", ctx, "alice").Return([]string{"BTC", "ETH"}, nil)
	f.txRepo.On("ListByToken", ctx, "alice", "BTC", domain.TransactionFilter{}).Return(nil, errors.New("corrupt row"))
	f.txRepo.On("ListByToken", ctx, "alice", "ETH", domain.TransactionFilter{}).Return(scenario(), nil)
	f.txRepo.On("ListWallets", ctx, "alice", "ETH").Return([]string{"0xabc"}, nil)
	f.txRepo.On("ListByToken", ctx, "alice", "ETH", domain.TransactionFilter{WalletAddress: "0xabc"}).Return(scenario(), nil)
	f.holdingRepo.On("Upsert", ctx, mock.Anything).Return(nil)
	f.realizedRepo.On("Upsert", ctx, mock.Anything).Return(nil)

	change, err := f.service.SetMethod(ctx, "alice", domain.MethodWeightedAverage)
	require.NoError(t, err)

	assert.Equal(t, domain.MethodWeightedAverage, change.Method)
	require.Len(t, change.Holdings, 1)
	assert.Equal(t, "ETH", change.Holdings[0].Token)
	require.Len(t, change.Errors, 1)
	assert.Equal(t, "BTC", change.Errors[0].Item)

	f.settingsRepo.AssertExpectations(t)
	f.txRepo.AssertNotCalled(t, "ListWallets", ctx, "alice", "BTC")
}

func TestSetMethod_RecomputesWalletHoldings(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	walletA := "0xabc"
	walletB := "0xdef"
	f.settingsRepo.On("SetMethod", ctx, "alice", domain.MethodLIFO).Return(nil)
	f.txRepo.On("ListTokens", ctx, "alice").Return([]string{"ETH"}, nil)
	f.txRepo.On("ListByToken", ctx, "alice", "ETH", domain.TransactionFilter{}).Return(scenario(), nil)
	f.txRepo.On("ListWallets", ctx, "alice", "ETH").Return([]string{walletA, walletB}, nil)
	f.txRepo.On("ListByToken", ctx, "alice", "ETH", domain.TransactionFilter{WalletAddress: walletA}).Return(scenario(), nil)
	f.txRepo.On("ListByToken", ctx, "alice", "ETH", domain.TransactionFilter{WalletAddress: walletB}).Return(nil, errors.New("corrupt row"))
	f.holdingRepo.On("Upsert", ctx, mock.Anything).Return(nil)
	f.realizedRepo.On("Upsert", ctx, mock.Anything).Return(nil)

	change, err := f.service.SetMethod(ctx, "alice", domain.MethodLIFO)
	require.NoError(t, err)

	require.Len(t, change.Holdings, 1)
	assert.Equal(t, domain.WalletScopeAll, change.Holdings[0].WalletScope)

	require.Len(t, change.WalletHoldings, 1)
	wh := change.WalletHoldings[0]
	assert.Equal(t, walletA, wh.WalletScope)
	assert.Equal(t, domain.MethodLIFO, wh.Method)
	assert.True(t, dec("5").Equal(wh.Quantity))
	assert.True(t, dec("5000").Equal(wh.CostBasis))

	require.Len(t, change.Errors, 1)
	assert.Equal(t, "ETH@"+walletB, change.Errors[0].Item)

	f.holdingRepo.AssertCalled(t, "Upsert", ctx, mock.MatchedBy(func(h *domain.Holding) bool {
		return h.WalletScope == walletA && h.Method == domain.MethodLIFO
	}))
}

func TestRecompute_NoTransactionsStoresNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.txRepo.On("ListByToken", ctx, "alice", "DOGE", domain.TransactionFilter{}).Return([]*domain.Transaction{}, nil)
	f.txRepo.On("ListByToken", ctx, "alice", "DOGE", domain.TransactionFilter{WalletAddress: "0xabc"}).Return([]*domain.Transaction{}, nil)

	rec, err := f.service.Recompute(ctx, "alice", "doge", domain.MethodFIFO)
	require.NoError(t, err)
	assert.True(t, rec.Holding.Quantity.IsZero())
	assert.Empty(t, rec.Records)

	holding, err := f.service.RecomputeWalletHoldings(ctx, "alice", "0xabc", "doge", domain.MethodFIFO)
	require.NoError(t, err)
	assert.True(t, holding.Quantity.IsZero())

	f.holdingRepo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
	f.realizedRepo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestSetMethod_Invalid(t *testing.T) {
	f := newFixture()
	_, err := f.service.SetMethod(context.Background(), "alice", domain.CostBasisMethod("HIFO"))
	assert.ErrorIs(t, err, domain.ErrValidation)
	f.settingsRepo.AssertNotCalled(t, "SetMethod", mock.Anything, mock.Anything, mock.Anything)
}
