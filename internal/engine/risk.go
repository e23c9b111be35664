package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Valuer converts asset amounts to 18-decimal USD values and back using
// fresh guarded oracle quotes. It carries no mutable state and is safe
// to share between the engine and read-only consumers.
type Valuer struct {
	registry *Registry
}

// NewValuer builds a valuer over the registered assets.
func NewValuer(registry *Registry) *Valuer {
	return &Valuer{registry: registry}
}

// Registry exposes the underlying asset registry.
func (v *Valuer) Registry() *Registry {
	return v.registry
}

// Valuation prices amount raw units of asset in 18-decimal USD. The
// feed's own reported decimal precision normalizes the quote.
func (v *Valuer) Valuation(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error) {
	normalized, err := v.normalizedPrice(ctx, asset)
	if err != nil {
		return nil, err
	}
	value := new(big.Int).Mul(amount, normalized)
	return value.Quo(value, precision), nil
}

// TokenAmountForValue inverts Valuation: how many raw asset units the
// given 18-decimal USD value buys at the current guarded price.
func (v *Valuer) TokenAmountForValue(ctx context.Context, asset common.Address, usdValue *big.Int) (*big.Int, error) {
	normalized, err := v.normalizedPrice(ctx, asset)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int).Mul(usdValue, precision)
	return amount.Quo(amount, normalized), nil
}

func (v *Valuer) normalizedPrice(ctx context.Context, asset common.Address) (*big.Int, error) {
	if asset == (common.Address{}) || !v.registry.Supports(asset) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset.Hex())
	}
	round, err := v.registry.Guard(asset).Fresh(ctx)
	if err != nil {
		return nil, err
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(round.Decimals)), nil)
	normalized := new(big.Int).Mul(round.Price, precision)
	return normalized.Quo(normalized, scale), nil
}
