package engine

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"stablemint/internal/token"
)

// Engine is the accounting and risk-management core: it owns the
// collateral and debt ledgers, enforces the minimum-health invariant on
// every state-changing call, and orchestrates liquidations. Each entry
// point executes as one atomic operation; the surrounding deployment is
// expected to serialize calls, and the engine itself only guards
// against re-entrant callbacks from collaborators.
type Engine struct {
	registry   *Registry
	valuer     *Valuer
	collateral *collateralLedger
	debt       *debtLedger
	assets     map[common.Address]token.Asset
	debtToken  token.DebtToken
	custody    common.Address
	journal    Journal
	logger     zerolog.Logger
	busy       atomic.Bool
}

// NewEngine wires the registry, per-asset transfer collaborators, and
// the debt token. Every registered asset must have a collaborator; the
// custody identity must be non-zero.
func NewEngine(registry *Registry, assets map[common.Address]token.Asset, debtToken token.DebtToken, custody common.Address, logger zerolog.Logger) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: nil registry", ErrConfiguration)
	}
	if debtToken == nil {
		return nil, fmt.Errorf("%w: nil debt token", ErrConfiguration)
	}
	if custody == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero custody address", ErrConfiguration)
	}
	for _, tok := range registry.Tokens() {
		if assets[tok] == nil {
			return nil, fmt.Errorf("%w: no transfer collaborator for asset %s", ErrConfiguration, tok.Hex())
		}
	}
	return &Engine{
		registry:   registry,
		valuer:     NewValuer(registry),
		collateral: newCollateralLedger(),
		debt:       newDebtLedger(),
		assets:     assets,
		debtToken:  debtToken,
		custody:    custody,
		logger:     logger.With().Str("component", "engine").Logger(),
	}, nil
}

// SetJournal attaches an optional audit journal. A nil journal disables
// recording.
func (e *Engine) SetJournal(journal Journal) {
	e.journal = journal
}

// enter flags an operation in progress; collaborator callbacks that
// re-enter the engine are rejected until exit clears the flag.
func (e *Engine) enter() error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

func (e *Engine) exit() {
	e.busy.Store(false)
}

// settle normalizes the two collaborator failure styles (ERC-20 boolean
// and returned error) into ErrTransferFailed, so the core never
// branches on collaborator-specific conventions.
func settle(ok bool, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if !ok {
		return ErrTransferFailed
	}
	return nil
}

// DepositCollateral locks amount raw units of asset for user, pulling
// the tokens into protocol custody.
func (e *Engine) DepositCollateral(ctx context.Context, user, asset common.Address, amount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	return e.depositCollateral(ctx, user, asset, amount)
}

func (e *Engine) depositCollateral(ctx context.Context, user, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !e.registry.Supports(asset) {
		return fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset.Hex())
	}

	e.collateral.credit(user, asset, amount)
	if err := settle(e.assets[asset].TransferFrom(ctx, user, e.custody, amount)); err != nil {
		e.collateral.debit(user, asset, amount)
		return err
	}

	e.logger.Info().Str("user", user.Hex()).Str("asset", asset.Hex()).Str("amount", amount.String()).Msg("collateral deposited")
	e.recordCollateralOp(ctx, OpDeposit, user, asset, amount)
	return nil
}

// MintDebt issues amount 18-decimal debt units to user, provided the
// resulting position stays healthy.
func (e *Engine) MintDebt(ctx context.Context, user common.Address, amount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	return e.mintDebt(ctx, user, amount)
}

func (e *Engine) mintDebt(ctx context.Context, user common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	e.debt.credit(user, amount)
	hf, err := e.healthFactor(ctx, user)
	if err != nil {
		e.debt.debit(user, amount)
		return err
	}
	if !hf.Healthy() {
		e.debt.debit(user, amount)
		return brokenHealth(hf)
	}
	if err := settle(e.debtToken.Mint(ctx, user, amount)); err != nil {
		e.debt.debit(user, amount)
		return err
	}

	e.logger.Info().Str("user", user.Hex()).Str("amount", amount.String()).Stringer("health_factor", hf).Msg("debt minted")
	e.recordDebtOp(ctx, OpMint, user, amount)
	return nil
}

// RedeemCollateral releases amount raw units of asset back to user,
// provided the remaining position stays healthy.
func (e *Engine) RedeemCollateral(ctx context.Context, user, asset common.Address, amount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	return e.redeemCollateral(ctx, user, asset, amount)
}

func (e *Engine) redeemCollateral(ctx context.Context, user, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !e.registry.Supports(asset) {
		return fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset.Hex())
	}
	if e.collateral.balance(user, asset).Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}

	e.collateral.debit(user, asset, amount)
	hf, err := e.healthFactor(ctx, user)
	if err != nil {
		e.collateral.credit(user, asset, amount)
		return err
	}
	if !hf.Healthy() {
		e.collateral.credit(user, asset, amount)
		return brokenHealth(hf)
	}
	if err := settle(e.assets[asset].Transfer(ctx, user, amount)); err != nil {
		e.collateral.credit(user, asset, amount)
		return err
	}

	e.logger.Info().Str("user", user.Hex()).Str("asset", asset.Hex()).Str("amount", amount.String()).Stringer("health_factor", hf).Msg("collateral redeemed")
	e.recordCollateralOp(ctx, OpRedeem, user, asset, amount)
	return nil
}

// BurnDebt retires amount of user's recorded debt, pulling the debt
// tokens from user and burning them. Burning only improves health, so
// no post-condition applies.
func (e *Engine) BurnDebt(ctx context.Context, user common.Address, amount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	return e.burnDebt(ctx, user, user, amount)
}

// burnDebt pulls amount of debt tokens from payer, burns them, and
// reduces onBehalf's recorded debt. Payer differs from onBehalf during
// liquidation.
func (e *Engine) burnDebt(ctx context.Context, onBehalf, payer common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if e.debt.balance(onBehalf).Cmp(amount) < 0 {
		return ErrInsufficientDebt
	}

	e.debt.debit(onBehalf, amount)
	if err := settle(e.debtToken.TransferFrom(ctx, payer, e.custody, amount)); err != nil {
		e.debt.credit(onBehalf, amount)
		return err
	}
	if err := e.debtToken.Burn(ctx, amount); err != nil {
		// Hand the pulled tokens back before surfacing the failure.
		if restoreErr := settle(e.debtToken.Transfer(ctx, payer, amount)); restoreErr != nil {
			e.logger.Error().Err(restoreErr).Str("payer", payer.Hex()).Msg("failed to return pulled debt tokens after burn failure")
		}
		e.debt.credit(onBehalf, amount)
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	e.logger.Info().Str("on_behalf", onBehalf.Hex()).Str("payer", payer.Hex()).Str("amount", amount.String()).Msg("debt burned")
	e.recordDebtOp(ctx, OpBurn, onBehalf, amount)
	return nil
}

// DepositAndMint composes DepositCollateral and MintDebt in one guarded
// operation; a mint failure unwinds the deposit.
func (e *Engine) DepositAndMint(ctx context.Context, user, asset common.Address, depositAmount, mintAmount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	if err := e.depositCollateral(ctx, user, asset, depositAmount); err != nil {
		return err
	}
	if err := e.mintDebt(ctx, user, mintAmount); err != nil {
		e.collateral.debit(user, asset, depositAmount)
		if restoreErr := settle(e.assets[asset].Transfer(ctx, user, depositAmount)); restoreErr != nil {
			e.logger.Error().Err(restoreErr).Str("user", user.Hex()).Msg("failed to return deposit after mint failure")
		}
		return err
	}
	return nil
}

// RedeemAndBurn composes BurnDebt and RedeemCollateral in one guarded
// operation: the debt is retired first so the redemption is judged
// against the reduced position.
func (e *Engine) RedeemAndBurn(ctx context.Context, user, asset common.Address, redeemAmount, burnAmount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	if err := e.burnDebt(ctx, user, user, burnAmount); err != nil {
		return err
	}
	if err := e.redeemCollateral(ctx, user, asset, redeemAmount); err != nil {
		// Re-issue the burned debt so the caller is left exactly as
		// before the call.
		e.debt.credit(user, burnAmount)
		if restoreErr := settle(e.debtToken.Mint(ctx, user, burnAmount)); restoreErr != nil {
			e.logger.Error().Err(restoreErr).Str("user", user.Hex()).Msg("failed to re-issue debt after redeem failure")
		}
		return err
	}
	return nil
}

// healthFactor values user's collateral with fresh guarded prices and
// derives the factor.
func (e *Engine) healthFactor(ctx context.Context, user common.Address) (HealthFactor, error) {
	debt := e.debt.balance(user)
	if debt.Sign() == 0 {
		return UnconstrainedHealth(), nil
	}
	collateralUSD, err := e.accountValue(ctx, user)
	if err != nil {
		return HealthFactor{}, err
	}
	return ComputeHealthFactor(collateralUSD, debt), nil
}

func (e *Engine) accountValue(ctx context.Context, user common.Address) (*big.Int, error) {
	total := big.NewInt(0)
	for _, asset := range e.registry.Tokens() {
		balance := e.collateral.balance(user, asset)
		if balance.Sign() == 0 {
			continue
		}
		value, err := e.valuer.Valuation(ctx, asset, balance)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}

// HealthFactor reports user's current health factor using fresh prices.
func (e *Engine) HealthFactor(ctx context.Context, user common.Address) (HealthFactor, error) {
	return e.healthFactor(ctx, user)
}

// AccountInformation reports user's recorded debt and the USD value of
// their collateral.
func (e *Engine) AccountInformation(ctx context.Context, user common.Address) (debt, collateralUSD *big.Int, err error) {
	collateralUSD, err = e.accountValue(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return new(big.Int).Set(e.debt.balance(user)), collateralUSD, nil
}

// CollateralBalance reports user's recorded balance of asset in raw
// units.
func (e *Engine) CollateralBalance(user, asset common.Address) *big.Int {
	return new(big.Int).Set(e.collateral.balance(user, asset))
}

// DebtOf reports user's recorded minted debt.
func (e *Engine) DebtOf(user common.Address) *big.Int {
	return new(big.Int).Set(e.debt.balance(user))
}

// RegisteredAssets lists the supported collateral assets.
func (e *Engine) RegisteredAssets() []common.Address {
	return e.registry.Tokens()
}

// Valuer exposes the engine's valuation component for read-only
// consumers.
func (e *Engine) Valuer() *Valuer {
	return e.valuer
}

// LiquidationBonus reports the liquidator bounty percentage.
func (e *Engine) LiquidationBonus() int64 { return LiquidationBonusPct }

// LiquidationThreshold reports the collateral share percentage counted
// toward the health factor.
func (e *Engine) LiquidationThreshold() int64 { return LiquidationThresholdPct }

// MinimumHealthFactor reports the fixed-point minimum healthy factor.
func (e *Engine) MinimumHealthFactor() *big.Int { return MinHealthFactor() }

func (e *Engine) recordCollateralOp(ctx context.Context, kind OperationKind, user, asset common.Address, amount *big.Int) {
	if e.journal == nil {
		return
	}
	hf, err := e.healthFactor(ctx, user)
	if err != nil {
		e.logger.Warn().Err(err).Msg("journal health factor unavailable")
		hf = HealthFactor{}
	}
	assetCopy := asset
	entry := JournalEntry{Kind: kind, Account: user, Asset: &assetCopy, Amount: new(big.Int).Set(amount), Health: hf}
	if err := e.journal.RecordOperation(ctx, entry); err != nil {
		e.logger.Error().Err(err).Str("kind", string(kind)).Msg("failed to journal operation")
	}
	if err := e.journal.RecordPosition(ctx, user, asset, e.collateral.balance(user, asset)); err != nil {
		e.logger.Error().Err(err).Msg("failed to journal position snapshot")
	}
}

func (e *Engine) recordDebtOp(ctx context.Context, kind OperationKind, user common.Address, amount *big.Int) {
	if e.journal == nil {
		return
	}
	hf, err := e.healthFactor(ctx, user)
	if err != nil {
		e.logger.Warn().Err(err).Msg("journal health factor unavailable")
		hf = HealthFactor{}
	}
	entry := JournalEntry{Kind: kind, Account: user, Amount: new(big.Int).Set(amount), Health: hf}
	if err := e.journal.RecordOperation(ctx, entry); err != nil {
		e.logger.Error().Err(err).Str("kind", string(kind)).Msg("failed to journal operation")
	}
	if err := e.journal.RecordDebt(ctx, user, e.debt.balance(user)); err != nil {
		e.logger.Error().Err(err).Msg("failed to journal debt snapshot")
	}
}
