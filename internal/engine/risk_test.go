package engine

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"stablemint/internal/oracle"
)

func newTestValuer(t *testing.T, price *big.Int, decimals uint8) *Valuer {
	t.Helper()
	guard := oracle.NewGuard(&testFeed{price: price, decimals: decimals}, zerolog.Nop())
	registry, err := NewRegistry([]common.Address{wethAddr}, []*oracle.Guard{guard})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return NewValuer(registry)
}

func TestValuationNormalizesFeedDecimals(t *testing.T) {
	ctx := context.Background()

	// 8-decimal feed: 2000e8 per unit prices 10 units at 20000 USD.
	v := newTestValuer(t, big.NewInt(2000e8), 8)
	value, err := v.Valuation(ctx, wethAddr, e18(10))
	if err != nil {
		t.Fatalf("valuation: %v", err)
	}
	if value.Cmp(e18(20000)) != 0 {
		t.Fatalf("value = %s, want 20000e18", value)
	}

	// An 18-decimal feed reporting the same price agrees.
	v = newTestValuer(t, e18(2000), 18)
	value, err = v.Valuation(ctx, wethAddr, e18(10))
	if err != nil {
		t.Fatalf("valuation: %v", err)
	}
	if value.Cmp(e18(20000)) != 0 {
		t.Fatalf("18-decimal feed value = %s, want 20000e18", value)
	}
}

func TestTokenAmountForValueInverse(t *testing.T) {
	ctx := context.Background()
	v := newTestValuer(t, big.NewInt(2000e8), 8)

	amount, err := v.TokenAmountForValue(ctx, wethAddr, e18(100))
	if err != nil {
		t.Fatalf("token amount: %v", err)
	}
	// 100 USD at 2000 USD per unit.
	want, _ := new(big.Int).SetString("50000000000000000", 10)
	if amount.Cmp(want) != 0 {
		t.Fatalf("amount = %s, want %s", amount, want)
	}
}

func TestValuationRoundTrip(t *testing.T) {
	ctx := context.Background()
	v := newTestValuer(t, big.NewInt(1777e8), 8)

	amounts := []string{"1", "999999999999999999", "3141592653589793238", "10000000000000000000000"}
	for _, raw := range amounts {
		amount, _ := new(big.Int).SetString(raw, 10)
		value, err := v.Valuation(ctx, wethAddr, amount)
		if err != nil {
			t.Fatalf("valuation(%s): %v", raw, err)
		}
		back, err := v.TokenAmountForValue(ctx, wethAddr, value)
		if err != nil {
			t.Fatalf("inverse(%s): %v", raw, err)
		}
		diff := new(big.Int).Sub(amount, back)
		if diff.CmpAbs(big.NewInt(1)) > 0 {
			t.Fatalf("round trip drifted by %s units for %s", diff, raw)
		}
	}
}

func TestValuationUnsupportedAsset(t *testing.T) {
	ctx := context.Background()
	v := newTestValuer(t, big.NewInt(2000e8), 8)

	other := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	if _, err := v.Valuation(ctx, other, e18(1)); !errors.Is(err, ErrUnsupportedAsset) {
		t.Fatalf("unregistered asset: got %v", err)
	}
	if _, err := v.Valuation(ctx, common.Address{}, e18(1)); !errors.Is(err, ErrUnsupportedAsset) {
		t.Fatalf("zero asset: got %v", err)
	}
}

func TestValuationSurfacesStalePrice(t *testing.T) {
	ctx := context.Background()

	stale := &testFeed{price: big.NewInt(2000e8), decimals: 8}
	guard := oracle.NewGuard(&staleWrapper{inner: stale}, zerolog.Nop())
	registry, err := NewRegistry([]common.Address{wethAddr}, []*oracle.Guard{guard})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	v := NewValuer(registry)

	if _, err := v.Valuation(ctx, wethAddr, e18(1)); !errors.Is(err, oracle.ErrStalePrice) {
		t.Fatalf("expected stale price, got %v", err)
	}
}

// staleWrapper zeroes the update timestamp so the guard rejects it.
type staleWrapper struct {
	inner *testFeed
}

func (s *staleWrapper) LatestRoundData(ctx context.Context) (oracle.RoundData, error) {
	round, err := s.inner.LatestRoundData(ctx)
	if err != nil {
		return oracle.RoundData{}, err
	}
	round.UpdatedAt = big.NewInt(0)
	return round, nil
}

func TestComputeHealthFactorFormula(t *testing.T) {
	// 20000 USD collateral against 1000 debt: factor 10.
	hf := ComputeHealthFactor(e18(20000), e18(1000))
	if hf.Ratio().Cmp(e18(10)) != 0 {
		t.Fatalf("factor = %s, want 10e18", hf.Ratio())
	}

	hf = ComputeHealthFactor(e18(20000), big.NewInt(0))
	if !hf.Unconstrained() {
		t.Fatal("zero debt must be unconstrained")
	}

	// One wei of collateral against one wei of debt: 0.5 in fixed point.
	hf = ComputeHealthFactor(big.NewInt(1), big.NewInt(1))
	want, _ := new(big.Int).SetString("500000000000000000", 10)
	if hf.Ratio().Cmp(want) != 0 {
		t.Fatalf("factor = %s, want 0.5e18", hf.Ratio())
	}
}

func TestHealthFactorOrdering(t *testing.T) {
	unconstrained := UnconstrainedHealth()
	low := RatioHealth(big.NewInt(1))
	high := RatioHealth(e18(5))

	if unconstrained.Cmp(high) != 1 {
		t.Fatal("unconstrained must compare above any ratio")
	}
	if low.Cmp(high) != -1 || high.Cmp(low) != 1 {
		t.Fatal("ratio ordering broken")
	}
	if unconstrained.Cmp(UnconstrainedHealth()) != 0 {
		t.Fatal("two unconstrained factors must compare equal")
	}
	if !unconstrained.Healthy() {
		t.Fatal("unconstrained is always healthy")
	}
	if high.String() != "5" {
		t.Fatalf("String() = %q", high.String())
	}
}
