package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// collateralLedger tracks per-user, per-asset deposited balances in raw
// asset units. It is owned exclusively by the Engine; entries only grow
// through deposits and only shrink through redemption or liquidation
// seizure, each paired 1:1 with an external transfer.
type collateralLedger struct {
	balances map[common.Address]map[common.Address]*big.Int
}

func newCollateralLedger() *collateralLedger {
	return &collateralLedger{balances: make(map[common.Address]map[common.Address]*big.Int)}
}

func (l *collateralLedger) balance(user, asset common.Address) *big.Int {
	if perAsset, ok := l.balances[user]; ok {
		if amount, ok := perAsset[asset]; ok {
			return amount
		}
	}
	return big.NewInt(0)
}

func (l *collateralLedger) credit(user, asset common.Address, amount *big.Int) {
	perAsset, ok := l.balances[user]
	if !ok {
		perAsset = make(map[common.Address]*big.Int)
		l.balances[user] = perAsset
	}
	perAsset[asset] = new(big.Int).Add(l.balance(user, asset), amount)
}

// debit decrements a balance. Decrementing below zero is a programming
// invariant violation: callers must pre-validate.
func (l *collateralLedger) debit(user, asset common.Address, amount *big.Int) {
	current := l.balance(user, asset)
	if current.Cmp(amount) < 0 {
		panic("engine: collateral ledger underflow")
	}
	l.balances[user][asset] = new(big.Int).Sub(current, amount)
}

// debtLedger tracks per-user minted debt in 18-decimal USD-pegged
// units. Owned exclusively by the Engine.
type debtLedger struct {
	minted map[common.Address]*big.Int
}

func newDebtLedger() *debtLedger {
	return &debtLedger{minted: make(map[common.Address]*big.Int)}
}

func (l *debtLedger) balance(user common.Address) *big.Int {
	if amount, ok := l.minted[user]; ok {
		return amount
	}
	return big.NewInt(0)
}

func (l *debtLedger) credit(user common.Address, amount *big.Int) {
	l.minted[user] = new(big.Int).Add(l.balance(user), amount)
}

func (l *debtLedger) debit(user common.Address, amount *big.Int) {
	current := l.balance(user)
	if current.Cmp(amount) < 0 {
		panic("engine: debt ledger underflow")
	}
	l.minted[user] = new(big.Int).Sub(current, amount)
}
