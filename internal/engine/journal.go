package engine

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OperationKind labels journal entries.
type OperationKind string

const (
	OpDeposit   OperationKind = "deposit"
	OpMint      OperationKind = "mint"
	OpRedeem    OperationKind = "redeem"
	OpBurn      OperationKind = "burn"
	OpLiquidate OperationKind = "liquidate"
)

// JournalEntry records one successful state-changing operation.
type JournalEntry struct {
	Kind    OperationKind
	Account common.Address
	// Asset is set for collateral movements, nil for pure debt ops.
	Asset *common.Address
	// Amount is raw asset units for collateral ops, 18-decimal debt
	// units otherwise.
	Amount *big.Int
	// Health is the account's health factor after the operation.
	Health HealthFactor
}

// Journal receives an audit trail of engine state changes. A journal
// failure never fails the operation that produced it; implementations
// are best-effort sinks.
type Journal interface {
	RecordOperation(ctx context.Context, entry JournalEntry) error
	RecordPosition(ctx context.Context, account, asset common.Address, balance *big.Int) error
	RecordDebt(ctx context.Context, account common.Address, debt *big.Int) error
}
