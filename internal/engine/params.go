package engine

import "math/big"

// Protocol risk parameters. A position is healthy only while its
// collateral value is at least double its debt value; liquidators earn
// a 10% bounty on seized collateral.
const (
	// LiquidationThresholdPct is the share of raw collateral value
	// counted toward the health factor.
	LiquidationThresholdPct = 50
	// LiquidationBonusPct is the extra collateral share awarded to a
	// liquidator on top of the covered debt value.
	LiquidationBonusPct = 10

	thresholdScale = 100
)

var (
	// precision is the 1e18 fixed-point scale used for USD values and
	// health factors.
	precision = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	// minHealthFactor is exactly 1.0 in fixed point.
	minHealthFactor = new(big.Int).Set(precision)
)

// MinHealthFactor returns the minimum healthy factor (1e18).
func MinHealthFactor() *big.Int {
	return new(big.Int).Set(minHealthFactor)
}

// ComputeHealthFactor derives the health factor from an 18-decimal USD
// collateral value and an 18-decimal debt amount. Zero debt yields an
// unconstrained factor; division never observes a zero denominator.
func ComputeHealthFactor(collateralUSD, debt *big.Int) HealthFactor {
	if debt == nil || debt.Sign() == 0 {
		return UnconstrainedHealth()
	}
	num := new(big.Int).Mul(collateralUSD, big.NewInt(LiquidationThresholdPct))
	num.Mul(num, precision)
	den := new(big.Int).Mul(debt, big.NewInt(thresholdScale))
	return HealthFactor{ratio: num.Quo(num, den)}
}
