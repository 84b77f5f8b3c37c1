package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RealizedPnLRecord is the realized profit/loss of one disposal under one method.
// Keyed by (OwnerID, TransactionID, Method); regeneration overwrites it.
type RealizedPnLRecord struct {
	ID            uuid.UUID
	OwnerID       string
	Token         string
	Method        CostBasisMethod
	TransactionID uuid.UUID
	Quantity      decimal.Decimal
	UnitCostBasis decimal.Decimal
	Proceeds      decimal.Decimal
	Cost          decimal.Decimal
	Fees          decimal.Decimal
	Amount        decimal.Decimal // Proceeds - Cost - Fees
	Timestamp     time.Time       // disposal time
	ComputedAt    time.Time
}

// DateRange bounds a query by disposal timestamp. Zero bounds are open.
type DateRange struct {
	From time.Time
	To   time.Time
}
