package engine

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrInvalidAmount rejects zero or negative amounts.
	ErrInvalidAmount = errors.New("engine: amount must be positive")
	// ErrUnsupportedAsset rejects assets with no registered price feed.
	ErrUnsupportedAsset = errors.New("engine: asset has no registered price feed")
	// ErrConfiguration covers constructor-time wiring mistakes.
	ErrConfiguration = errors.New("engine: invalid configuration")
	// ErrTransferFailed indicates a collaborator transfer reported
	// failure; no ledger state was committed for the triggering call.
	ErrTransferFailed = errors.New("engine: token transfer failed")
	// ErrHealthFactorOk rejects liquidation of a healthy account.
	ErrHealthFactorOk = errors.New("engine: account health factor above minimum")
	// ErrHealthFactorNotImproved rejects a liquidation that would not
	// raise the target's health factor.
	ErrHealthFactorNotImproved = errors.New("engine: liquidation did not improve health factor")
	// ErrHealthFactorBroken is the sentinel matched by errors.Is for
	// HealthFactorError values.
	ErrHealthFactorBroken = errors.New("engine: health factor below minimum")
	// ErrInsufficientCollateral rejects withdrawals beyond the recorded
	// collateral balance.
	ErrInsufficientCollateral = errors.New("engine: insufficient collateral balance")
	// ErrInsufficientDebt rejects repayments beyond the recorded debt.
	ErrInsufficientDebt = errors.New("engine: amount exceeds recorded debt")
	// ErrReentrantCall rejects collaborator callbacks into the engine
	// while a state-mutating operation is in progress.
	ErrReentrantCall = errors.New("engine: reentrant call rejected")
)

// HealthFactorError reports the health factor that an operation would
// leave (or left) below the minimum.
type HealthFactorError struct {
	Factor *big.Int
}

func (e *HealthFactorError) Error() string {
	return fmt.Sprintf("engine: health factor %s below minimum", e.Factor)
}

// Unwrap lets errors.Is match ErrHealthFactorBroken.
func (e *HealthFactorError) Unwrap() error {
	return ErrHealthFactorBroken
}

func brokenHealth(hf HealthFactor) error {
	return &HealthFactorError{Factor: hf.Ratio()}
}
