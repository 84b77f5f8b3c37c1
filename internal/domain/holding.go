package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/simaogato/tokenledger-backend/internal/fixedpoint"
)

// WalletScopeAll is the holding scope aggregating every wallet of an owner
const WalletScopeAll = "*"

// Lot is a purchased quantity consumed during cost-basis computation.
// Lots only live in memory while a holding is being replayed.
type Lot struct {
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	Timestamp time.Time
}

// Cost returns UnitPrice * Quantity, unrounded
func (l Lot) Cost() decimal.Decimal {
	return l.UnitPrice.Mul(l.Quantity)
}

// Holding is the replayed position of one (owner, wallet scope, token, method).
// It is a pure function of the transaction log and is only ever overwritten.
type Holding struct {
	OwnerID     string
	WalletScope string
	Token       string
	Method      CostBasisMethod
	Quantity    decimal.Decimal // never negative
	CostBasis   decimal.Decimal // never negative, reference currency
	LastUpdated time.Time
}

// AverageCost returns the cost basis per unit, or zero for an empty holding
func (h *Holding) AverageCost() decimal.Decimal {
	if h.Quantity.IsZero() {
		return decimal.Zero
	}
	return fixedpoint.MustDiv(h.CostBasis, h.Quantity, fixedpoint.ValuePlaces)
}

// Validate ensures quantity and cost basis are non-negative
func (h *Holding) Validate() error {
	if h.Quantity.IsNegative() {
		return NewValidationError("quantity", "holding quantity cannot be negative")
	}
	if h.CostBasis.IsNegative() {
		return NewValidationError("cost_basis", "holding cost basis cannot be negative")
	}
	return h.Method.Validate()
}
