package costbasis

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/simaogato/tokenledger-backend/internal/domain"
)

// Disposal is the cost-basis outcome of one sell or swap-out
type Disposal struct {
	Transaction   *domain.Transaction
	UnitCostBasis decimal.Decimal
	Unmatched     decimal.Decimal
}

// Replay is the state of one token after folding its whole history
type Replay struct {
	Method    domain.CostBasisMethod
	Lots      []domain.Lot
	Quantity  decimal.Decimal
	CostBasis decimal.Decimal
	Disposals []Disposal
}

// ReplayTransactions folds a token's transactions under method, starting from no
// lots. Buys and swap-ins open lots, sells and swap-outs consume them, transfers
// and fees move quantity without any cost-basis effect and are skipped.
//
// The result depends only on txs and method, so replaying the same history under
// the same method always yields identical holdings.
func ReplayTransactions(txs []*domain.Transaction, method domain.CostBasisMethod) (*Replay, error) {
	if err := method.Validate(); err != nil {
		return nil, err
	}

	ordered := make([]*domain.Transaction, len(txs))
	copy(ordered, txs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	replay := &Replay{
		Method:    method,
		Lots:      []domain.Lot{},
		Disposals: []Disposal{},
	}

	for _, tx := range ordered {
		switch {
		case tx.IsAcquisition():
			replay.Lots = append(replay.Lots, domain.Lot{
				Quantity:  tx.Quantity,
				UnitPrice: tx.UnitPrice,
				Timestamp: tx.Timestamp,
			})
		case tx.IsDisposal():
			result, err := Compute(replay.Lots, tx.Quantity, method)
			if err != nil {
				return nil, err
			}
			replay.Lots = result.Lots
			replay.Disposals = append(replay.Disposals, Disposal{
				Transaction:   tx,
				UnitCostBasis: result.UnitCostBasis,
				Unmatched:     result.Unmatched,
			})
		}
	}

	replay.Quantity, replay.CostBasis = Position(replay.Lots)
	return replay, nil
}

// Holding materializes the replayed position for persistence
func (r *Replay) Holding(ownerID, walletScope, token string, now time.Time) *domain.Holding {
	return &domain.Holding{
		OwnerID:     ownerID,
		WalletScope: walletScope,
		Token:       token,
		Method:      r.Method,
		Quantity:    r.Quantity,
		CostBasis:   r.CostBasis,
		LastUpdated: now,
	}
}
