package app

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"stablemint/internal/engine"
	"stablemint/internal/oracle"
	"stablemint/internal/storage"
	"stablemint/internal/token"
)

// SimulateOptions parameterise the in-memory crash scenario.
type SimulateOptions struct {
	StartPrice decimal.Decimal
	CrashPrice decimal.Decimal
	Deposit    decimal.Decimal
	Mint       decimal.Decimal
}

// Simulate runs a deposit, mint, price crash, and liquidation against a
// fully in-memory ledger and prints the resulting account states. It
// touches neither the database nor the chain.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	var (
		custody    = common.HexToAddress("0x00000000000000000000000000000000000000c0")
		wethAddr   = common.HexToAddress("0x00000000000000000000000000000000000000e1")
		user       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
		liquidator = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	)

	feed := &staticFeed{price: opts.StartPrice.Shift(8).BigInt()}
	guard := oracle.NewGuard(feed, a.Logger)
	registry, err := engine.NewRegistry([]common.Address{wethAddr}, []*oracle.Guard{guard})
	if err != nil {
		return err
	}

	weth := token.NewMemory("WETH", custody)
	susd := token.NewMemory("SUSD", custody)
	weth.SetBalance(user, units(opts.Deposit))
	weth.SetBalance(liquidator, units(opts.Deposit))

	eng, err := engine.NewEngine(registry, map[common.Address]token.Asset{wethAddr: weth}, susd, custody, a.Logger)
	if err != nil {
		return err
	}

	// With a database configured the simulated operations land in the
	// journal like real ones, which makes them visible to show.
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store != nil {
		defer closeStore()
		eng.SetJournal(storage.NewJournal(store))
	}

	report := func(stage string) {
		hf, hfErr := eng.HealthFactor(ctx, user)
		health := "unavailable"
		if hfErr == nil {
			health = hf.String()
		}
		fmt.Fprintf(os.Stdout, "%-22s collateral=%s WETH debt=%s health=%s\n",
			stage,
			decimal.NewFromBigInt(eng.CollateralBalance(user, wethAddr), -18),
			decimal.NewFromBigInt(eng.DebtOf(user), -18),
			health,
		)
	}

	if err := eng.DepositAndMint(ctx, user, wethAddr, units(opts.Deposit), units(opts.Mint)); err != nil {
		return fmt.Errorf("open position: %w", err)
	}
	report("position opened:")

	feed.price = opts.CrashPrice.Shift(8).BigInt()
	report("after price crash:")

	// The liquidator funds the debt repayment with freshly minted tokens,
	// standing in for tokens bought on the market.
	susd.SetBalance(liquidator, units(opts.Mint))
	if err := eng.Liquidate(ctx, liquidator, user, wethAddr, units(opts.Mint)); err != nil {
		return fmt.Errorf("liquidate: %w", err)
	}
	report("after liquidation:")

	balance, _ := weth.BalanceOf(ctx, liquidator)
	seized := decimal.NewFromBigInt(new(big.Int).Sub(balance, units(opts.Deposit)), -18)
	fmt.Fprintf(os.Stdout, "liquidator seized %s WETH (bounty included)\n", seized)
	return nil
}

// units converts a whole-unit decimal into 18-decimal fixed point.
func units(d decimal.Decimal) *big.Int {
	return d.Shift(18).BigInt()
}

// staticFeed always answers fresh with a fixed price.
type staticFeed struct {
	price *big.Int
}

func (f *staticFeed) LatestRoundData(ctx context.Context) (oracle.RoundData, error) {
	now := big.NewInt(time.Now().Unix())
	return oracle.RoundData{
		RoundID:         big.NewInt(1),
		Price:           new(big.Int).Set(f.price),
		StartedAt:       now,
		UpdatedAt:       now,
		AnsweredInRound: big.NewInt(1),
		Decimals:        8,
	}, nil
}

var _ oracle.Feed = (*staticFeed)(nil)
