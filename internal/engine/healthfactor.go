package engine

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// HealthFactor is the risk-adjusted collateral-to-debt ratio of an
// account. It is either unconstrained (the account has no debt, so no
// amount of collateral movement can break it) or a 1e18 fixed-point
// ratio. The explicit sum type keeps comparisons unambiguous instead of
// leaning on a maximum-integer sentinel.
type HealthFactor struct {
	ratio *big.Int
}

// UnconstrainedHealth is the health factor of a debt-free account.
func UnconstrainedHealth() HealthFactor {
	return HealthFactor{}
}

// RatioHealth wraps a 1e18 fixed-point ratio.
func RatioHealth(ratio *big.Int) HealthFactor {
	return HealthFactor{ratio: new(big.Int).Set(ratio)}
}

// Unconstrained reports whether the account carries no debt.
func (h HealthFactor) Unconstrained() bool {
	return h.ratio == nil
}

// Ratio returns a copy of the fixed-point ratio, or nil when the factor
// is unconstrained.
func (h HealthFactor) Ratio() *big.Int {
	if h.ratio == nil {
		return nil
	}
	return new(big.Int).Set(h.ratio)
}

// Cmp orders health factors; an unconstrained factor compares above any
// ratio.
func (h HealthFactor) Cmp(other HealthFactor) int {
	switch {
	case h.ratio == nil && other.ratio == nil:
		return 0
	case h.ratio == nil:
		return 1
	case other.ratio == nil:
		return -1
	default:
		return h.ratio.Cmp(other.ratio)
	}
}

// Healthy reports whether the factor meets the minimum.
func (h HealthFactor) Healthy() bool {
	if h.ratio == nil {
		return true
	}
	return h.ratio.Cmp(minHealthFactor) >= 0
}

// Decimal renders the factor as a human-readable decimal; an
// unconstrained factor has no decimal form and reports false.
func (h HealthFactor) Decimal() (decimal.Decimal, bool) {
	if h.ratio == nil {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromBigInt(h.ratio, -18), true
}

func (h HealthFactor) String() string {
	if h.ratio == nil {
		return "unconstrained"
	}
	return decimal.NewFromBigInt(h.ratio, -18).String()
}
