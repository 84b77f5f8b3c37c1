package domain

import "strings"

// CostBasisMethod selects the lot-matching algorithm used for cost basis.
// It is a closed set: FIFO, LIFO and weighted average.
type CostBasisMethod string

const (
	MethodFIFO            CostBasisMethod = "FIFO"
	MethodLIFO            CostBasisMethod = "LIFO"
	MethodWeightedAverage CostBasisMethod = "WEIGHTED_AVERAGE"
)

// CostBasisMethods lists every supported method
var CostBasisMethods = []CostBasisMethod{MethodFIFO, MethodLIFO, MethodWeightedAverage}

func (m CostBasisMethod) String() string {
	return string(m)
}

// Validate returns a *ValidationError for anything outside the closed set
func (m CostBasisMethod) Validate() error {
	switch m {
	case MethodFIFO, MethodLIFO, MethodWeightedAverage:
		return nil
	default:
		return NewValidationError("method", "unknown cost basis method %q", string(m))
	}
}

// ParseCostBasisMethod parses a method name. Accepts "fifo", "lifo", "weighted_average",
// "weighted-average", "average" and "wac" in any case.
func ParseCostBasisMethod(s string) (CostBasisMethod, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "FIFO":
		return MethodFIFO, nil
	case "LIFO":
		return MethodLIFO, nil
	case "WEIGHTED_AVERAGE", "AVERAGE", "WAC":
		return MethodWeightedAverage, nil
	default:
		return "", NewValidationError("method", "unknown cost basis method %q", s)
	}
}
