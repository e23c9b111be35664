package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Liquidate lets liquidator pay down debtToCover (18-decimal USD units)
// of user's debt in exchange for the equivalent collateral plus a 10%
// bounty. The whole sequence is atomic: eligibility check, seizure,
// debt settlement, improvement check, and the liquidator's own health
// check either all take effect or the ledgers are left untouched.
//
// When system-wide collateralization falls to or below 100% no
// bonus-bearing liquidation is incentive-compatible; that regime is a
// documented, unsupported edge case rather than something this method
// guards against.
func (e *Engine) Liquidate(ctx context.Context, liquidator, user, asset common.Address, debtToCover *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	if debtToCover == nil || debtToCover.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !e.registry.Supports(asset) {
		return fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset.Hex())
	}

	startingHF, err := e.healthFactor(ctx, user)
	if err != nil {
		return err
	}
	if startingHF.Healthy() {
		return ErrHealthFactorOk
	}
	if e.debt.balance(user).Cmp(debtToCover) < 0 {
		return ErrInsufficientDebt
	}

	// Convert the covered debt into collateral units and add the bounty.
	tokenAmount, err := e.valuer.TokenAmountForValue(ctx, asset, debtToCover)
	if err != nil {
		return err
	}
	bonus := new(big.Int).Mul(tokenAmount, big.NewInt(LiquidationBonusPct))
	bonus.Quo(bonus, big.NewInt(100))
	totalSeize := new(big.Int).Add(tokenAmount, bonus)

	if e.collateral.balance(user, asset).Cmp(totalSeize) < 0 {
		return ErrInsufficientCollateral
	}

	// Compensating actions, run in reverse when a later step fails.
	var undo []func()
	unwind := func(cause error) error {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		return cause
	}

	// Seize collateral from the target to the liquidator.
	e.collateral.debit(user, asset, totalSeize)
	undo = append(undo, func() { e.collateral.credit(user, asset, totalSeize) })
	if err := settle(e.assets[asset].Transfer(ctx, liquidator, totalSeize)); err != nil {
		return unwind(err)
	}
	undo = append(undo, func() {
		if err := settle(e.assets[asset].TransferFrom(ctx, liquidator, e.custody, totalSeize)); err != nil {
			e.logger.Error().Err(err).Msg("failed to reclaim seized collateral during unwind")
		}
	})

	// Settle debt: the liquidator's own debt tokens are consumed and the
	// target's recorded debt shrinks.
	e.debt.debit(user, debtToCover)
	undo = append(undo, func() { e.debt.credit(user, debtToCover) })
	if err := settle(e.debtToken.TransferFrom(ctx, liquidator, e.custody, debtToCover)); err != nil {
		return unwind(err)
	}
	undo = append(undo, func() {
		if err := settle(e.debtToken.Transfer(ctx, liquidator, debtToCover)); err != nil {
			e.logger.Error().Err(err).Msg("failed to return debt tokens during unwind")
		}
	})
	if err := e.debtToken.Burn(ctx, debtToCover); err != nil {
		return unwind(fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}
	undo = append(undo, func() {
		if err := settle(e.debtToken.Mint(ctx, e.custody, debtToCover)); err != nil {
			e.logger.Error().Err(err).Msg("failed to re-mint burned debt tokens during unwind")
		}
	})

	// A liquidation that does not measurably help the position is
	// rejected; it would only transfer bounty value.
	endingHF, err := e.healthFactor(ctx, user)
	if err != nil {
		return unwind(err)
	}
	if endingHF.Cmp(startingHF) <= 0 {
		return unwind(ErrHealthFactorNotImproved)
	}

	// Liquidating must not push the liquidator's own account under water.
	liquidatorHF, err := e.healthFactor(ctx, liquidator)
	if err != nil {
		return unwind(err)
	}
	if !liquidatorHF.Healthy() {
		return unwind(brokenHealth(liquidatorHF))
	}

	e.logger.Info().
		Str("liquidator", liquidator.Hex()).
		Str("user", user.Hex()).
		Str("asset", asset.Hex()).
		Str("debt_covered", debtToCover.String()).
		Str("collateral_seized", totalSeize.String()).
		Stringer("starting_hf", startingHF).
		Stringer("ending_hf", endingHF).
		Msg("position liquidated")

	if e.journal != nil {
		assetCopy := asset
		entry := JournalEntry{Kind: OpLiquidate, Account: user, Asset: &assetCopy, Amount: new(big.Int).Set(debtToCover), Health: endingHF}
		if err := e.journal.RecordOperation(ctx, entry); err != nil {
			e.logger.Error().Err(err).Msg("failed to journal liquidation")
		}
		if err := e.journal.RecordPosition(ctx, user, asset, e.collateral.balance(user, asset)); err != nil {
			e.logger.Error().Err(err).Msg("failed to journal position snapshot")
		}
		if err := e.journal.RecordDebt(ctx, user, e.debt.balance(user)); err != nil {
			e.logger.Error().Err(err).Msg("failed to journal debt snapshot")
		}
	}
	return nil
}
