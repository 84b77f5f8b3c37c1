package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/simaogato/tokenledger-backend/internal/fixedpoint"
)

// TransactionKind represents the economic nature of a ledger event
type TransactionKind string

const (
	KindBuy      TransactionKind = "buy"
	KindSell     TransactionKind = "sell"
	KindSwap     TransactionKind = "swap"
	KindTransfer TransactionKind = "transfer"
	KindFee      TransactionKind = "fee"
)

// Direction tells whether the principal token enters or leaves the wallet
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Transaction is an immutable ledger fact.
// Unique on (OwnerID, Hash, WalletAddress); corrections are new transactions.
type Transaction struct {
	ID            uuid.UUID
	OwnerID       string
	WalletAddress string
	Chain         string
	Token         string
	Kind          TransactionKind
	Direction     Direction
	Quantity      decimal.Decimal // token units, 18 fractional digits
	UnitPrice     decimal.Decimal // reference currency, 8 fractional digits
	FeeQuantity   decimal.Decimal // zero when the event carries no fee
	FeeToken      string
	FeeUnitPrice  decimal.Decimal // reference-currency price of FeeToken at Timestamp
	Timestamp     time.Time
	Hash          string
	Source        string
	CreatedAt     time.Time
}

// ParseKind parses a kind hint, case-insensitively
func ParseKind(s string) (TransactionKind, error) {
	switch k := TransactionKind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindBuy, KindSell, KindSwap, KindTransfer, KindFee:
		return k, nil
	default:
		return "", NewValidationError("kind", "unknown transaction kind %q", s)
	}
}

// ParseDirection parses a direction hint. An empty hint is returned as-is.
func ParseDirection(s string) (Direction, error) {
	switch dir := Direction(strings.ToLower(strings.TrimSpace(s))); dir {
	case DirectionIn, DirectionOut, "":
		return dir, nil
	default:
		return "", NewValidationError("direction", "unknown direction %q", s)
	}
}

// EffectiveDirection returns the direction implied by the kind when none was given
func (t *Transaction) EffectiveDirection() Direction {
	switch t.Kind {
	case KindBuy:
		return DirectionIn
	case KindSell, KindFee:
		return DirectionOut
	default:
		return t.Direction
	}
}

// IsAcquisition reports whether the event adds a cost-basis lot (buy, swap-in)
func (t *Transaction) IsAcquisition() bool {
	return t.Kind == KindBuy || (t.Kind == KindSwap && t.Direction == DirectionIn)
}

// IsDisposal reports whether the event consumes cost-basis lots (sell, swap-out)
func (t *Transaction) IsDisposal() bool {
	return t.Kind == KindSell || (t.Kind == KindSwap && t.Direction == DirectionOut)
}

// HasFee reports whether the event carries a fee distinct from its principal
func (t *Transaction) HasFee() bool {
	return t.FeeQuantity.IsPositive()
}

// Validate ensures the transaction adheres to domain rules
// Returns a *ValidationError if validation fails
func (t *Transaction) Validate() error {
	if t.OwnerID == "" {
		return NewValidationError("owner", "owner cannot be empty")
	}
	if t.WalletAddress == "" {
		return NewValidationError("wallet", "wallet address cannot be empty")
	}
	if t.Token == "" {
		return NewValidationError("token", "token cannot be empty")
	}
	if t.Hash == "" {
		return NewValidationError("hash", "hash cannot be empty")
	}
	if t.Timestamp.IsZero() {
		return NewValidationError("timestamp", "timestamp cannot be empty")
	}

	if _, err := ParseKind(string(t.Kind)); err != nil {
		return err
	}
	if (t.Kind == KindSwap || t.Kind == KindTransfer) && t.Direction != DirectionIn && t.Direction != DirectionOut {
		return NewValidationError("direction", "%s requires an in or out direction", t.Kind)
	}

	// A fee-only event may carry its whole amount in the fee fields
	if t.Quantity.IsNegative() || (t.Kind != KindFee && !t.Quantity.IsPositive()) {
		return NewValidationError("quantity", "quantity must be positive")
	}
	if t.UnitPrice.IsNegative() {
		return NewValidationError("unit_price", "unit price cannot be negative")
	}
	if t.FeeQuantity.IsNegative() {
		return NewValidationError("fee_quantity", "fee quantity cannot be negative")
	}
	if t.FeeUnitPrice.IsNegative() {
		return NewValidationError("fee_unit_price", "fee unit price cannot be negative")
	}
	if t.HasFee() && t.FeeToken == "" {
		return NewValidationError("fee_token", "fee token is required when a fee is present")
	}

	for field, v := range map[string]decimal.Decimal{
		"quantity":       t.Quantity,
		"unit_price":     t.UnitPrice,
		"fee_quantity":   t.FeeQuantity,
		"fee_unit_price": t.FeeUnitPrice,
	} {
		if err := fixedpoint.CheckBounds(v); err != nil {
			return &ValidationError{Field: field, Message: err.Error(), Err: err}
		}
	}

	return nil
}
