// Package costbasis matches disposals against purchase lots under FIFO, LIFO and
// weighted-average accounting. It is pure: no I/O, no clocks, no shared state.
package costbasis

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/simaogato/tokenledger-backend/internal/domain"
	"github.com/simaogato/tokenledger-backend/internal/fixedpoint"
)

// Result is the outcome of matching one disposal against a lot set
type Result struct {
	// UnitCostBasis is ConsumedCost / disposal quantity, half-even at ValuePlaces
	UnitCostBasis decimal.Decimal
	// ConsumedCost is the acquisition cost of the quantity actually matched
	ConsumedCost decimal.Decimal
	// Lots is the surviving lot set in chronological order
	Lots []domain.Lot
	// Unmatched is the part of the disposal not covered by any lot
	Unmatched decimal.Decimal
}

// Compute matches a disposal of quantity against lots using method.
//
// With no lots the unit cost basis is zero and the whole quantity is unmatched;
// this is not an error, callers log it as a data-quality warning. A disposal
// larger than the lots is clamped: every lot is consumed and the uncovered
// remainder carries zero cost.
//
// The input slice is never modified.
func Compute(lots []domain.Lot, quantity decimal.Decimal, method domain.CostBasisMethod) (*Result, error) {
	if err := method.Validate(); err != nil {
		return nil, err
	}
	if !quantity.IsPositive() {
		return nil, domain.NewValidationError("quantity", "disposal quantity must be positive")
	}

	if len(lots) == 0 {
		return &Result{
			UnitCostBasis: decimal.Zero,
			ConsumedCost:  decimal.Zero,
			Lots:          []domain.Lot{},
			Unmatched:     quantity,
		}, nil
	}

	ordered := sortLots(lots)

	switch method {
	case domain.MethodFIFO:
		return consume(ordered, quantity, false)
	case domain.MethodLIFO:
		return consume(ordered, quantity, true)
	case domain.MethodWeightedAverage:
		return average(ordered, quantity)
	default:
		return nil, errors.New("unreachable cost basis method")
	}
}

// sortLots copies lots ordered by timestamp; equal timestamps keep insertion order
func sortLots(lots []domain.Lot) []domain.Lot {
	ordered := make([]domain.Lot, len(lots))
	copy(ordered, lots)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})
	return ordered
}

// consume walks the lots oldest-first (FIFO) or newest-first (LIFO)
func consume(ordered []domain.Lot, quantity decimal.Decimal, newestFirst bool) (*Result, error) {
	remaining := quantity
	consumed := decimal.Zero

	for step := 0; step < len(ordered) && remaining.IsPositive(); step++ {
		i := step
		if newestFirst {
			i = len(ordered) - 1 - step
		}

		take := fixedpoint.Min(ordered[i].Quantity, remaining)
		consumed = consumed.Add(ordered[i].UnitPrice.Mul(take))
		ordered[i].Quantity = ordered[i].Quantity.Sub(take)
		remaining = remaining.Sub(take)
	}

	survivors := make([]domain.Lot, 0, len(ordered))
	for _, lot := range ordered {
		if lot.Quantity.IsPositive() {
			survivors = append(survivors, lot)
		}
	}

	unit, err := fixedpoint.Div(consumed, quantity, fixedpoint.ValuePlaces)
	if err != nil {
		return nil, err
	}

	return &Result{
		UnitCostBasis: unit,
		ConsumedCost:  consumed,
		Lots:          survivors,
		Unmatched:     remaining,
	}, nil
}

// average prices the disposal at total cost / total quantity over all lots, then
// normalizes every surviving lot to that price and shrinks them proportionally
func average(ordered []domain.Lot, quantity decimal.Decimal) (*Result, error) {
	totalCost := decimal.Zero
	totalQty := decimal.Zero
	for _, lot := range ordered {
		totalCost = totalCost.Add(lot.Cost())
		totalQty = totalQty.Add(lot.Quantity)
	}

	if !totalQty.IsPositive() {
		return &Result{
			UnitCostBasis: decimal.Zero,
			ConsumedCost:  decimal.Zero,
			Lots:          []domain.Lot{},
			Unmatched:     quantity,
		}, nil
	}

	avg, err := fixedpoint.Div(totalCost, totalQty, fixedpoint.ValuePlaces)
	if err != nil {
		return nil, err
	}

	covered := fixedpoint.Min(quantity, totalQty)
	unmatched := quantity.Sub(covered)
	remainingQty := totalQty.Sub(covered)

	survivors := make([]domain.Lot, 0, len(ordered))
	if remainingQty.IsPositive() {
		allocated := decimal.Zero
		for i, lot := range ordered {
			var q decimal.Decimal
			if i == len(ordered)-1 {
				// The last lot absorbs the rounding so the survivors sum to remainingQty
				q = remainingQty.Sub(allocated)
			} else if q, err = fixedpoint.Div(lot.Quantity.Mul(remainingQty), totalQty, fixedpoint.QuantityPlaces); err != nil {
				return nil, err
			}
			allocated = allocated.Add(q)
			if !q.IsPositive() {
				continue
			}
			survivors = append(survivors, domain.Lot{
				Quantity:  q,
				UnitPrice: avg,
				Timestamp: lot.Timestamp,
			})
		}
	}

	consumed := avg.Mul(covered)
	unit := avg
	if unmatched.IsPositive() {
		if unit, err = fixedpoint.Div(consumed, quantity, fixedpoint.ValuePlaces); err != nil {
			return nil, err
		}
	}

	return &Result{
		UnitCostBasis: unit,
		ConsumedCost:  consumed,
		Lots:          survivors,
		Unmatched:     unmatched,
	}, nil
}

// Position sums quantity and cost basis (half-even at ValuePlaces) of a lot set
func Position(lots []domain.Lot) (quantity, costBasis decimal.Decimal) {
	quantity = decimal.Zero
	cost := decimal.Zero
	for _, lot := range lots {
		quantity = quantity.Add(lot.Quantity)
		cost = cost.Add(lot.Cost())
	}
	return quantity, fixedpoint.Value(cost)
}
