package storage

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"stablemint/internal/engine"
)

// Journal adapts the Store to the engine's audit sink. Every write is
// best-effort from the engine's point of view; errors are returned so
// the caller can log them but never roll back ledger state.
type Journal struct {
	store *Store
}

// NewJournal wraps a store as an engine journal.
func NewJournal(store *Store) *Journal {
	return &Journal{store: store}
}

var _ engine.Journal = (*Journal)(nil)

// RecordOperation appends one operation to the journal table.
func (j *Journal) RecordOperation(ctx context.Context, entry engine.JournalEntry) error {
	op := OperationRecord{
		Kind:    string(entry.Kind),
		Account: entry.Account.Hex(),
		Amount:  units(entry.Amount),
	}
	if entry.Asset != nil {
		asset := entry.Asset.Hex()
		op.Asset = &asset
	}
	if hf, ok := entry.Health.Decimal(); ok {
		op.HealthFactor = &hf
	}
	_, err := j.store.InsertOperation(ctx, op)
	return err
}

// RecordPosition snapshots one collateral balance.
func (j *Journal) RecordPosition(ctx context.Context, account, asset common.Address, balance *big.Int) error {
	return j.store.UpsertPosition(ctx, PositionRow{
		Account: account.Hex(),
		Asset:   asset.Hex(),
		Amount:  units(balance),
	})
}

// RecordDebt snapshots one account's outstanding debt.
func (j *Journal) RecordDebt(ctx context.Context, account common.Address, debt *big.Int) error {
	return j.store.UpsertDebt(ctx, DebtRow{
		Account: account.Hex(),
		Amount:  units(debt),
	})
}

// units renders an 18-decimal fixed-point integer as a decimal value.
func units(amount *big.Int) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -18)
}
