package token

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// TransferHook observes a pending balance movement before it is applied.
// Returning an error aborts the transfer with that error.
type TransferHook func(from, to common.Address, amount *big.Int) error

// Memory is an in-process fungible token keeping plain balance
// bookkeeping. Transfer and Burn act on the bound sender account, which
// is how the engine custody account spends its holdings. Insufficient
// balances surface through the ERC-20 false-return convention rather
// than an error.
type Memory struct {
	mu       sync.Mutex
	symbol   string
	sender   common.Address
	balances map[common.Address]*big.Int
	supply   *big.Int

	// BeforeTransfer, when set, runs ahead of every balance movement.
	BeforeTransfer TransferHook
}

// NewMemory constructs an in-memory token bound to the given sender
// account.
func NewMemory(symbol string, sender common.Address) *Memory {
	return &Memory{
		symbol:   symbol,
		sender:   sender,
		balances: make(map[common.Address]*big.Int),
		supply:   big.NewInt(0),
	}
}

// Symbol reports the token symbol.
func (m *Memory) Symbol() string { return m.symbol }

// SetBalance seeds an account balance, adjusting total supply.
func (m *Memory) SetBalance(owner common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.balanceLocked(owner)
	m.supply = new(big.Int).Sub(m.supply, prev)
	m.supply.Add(m.supply, amount)
	m.balances[owner] = new(big.Int).Set(amount)
}

// TotalSupply reports the current total supply.
func (m *Memory) TotalSupply() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.supply)
}

// BalanceOf reports the balance held by owner.
func (m *Memory) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.balanceLocked(owner)), nil
}

// Transfer moves amount from the bound sender account to the recipient.
func (m *Memory) Transfer(ctx context.Context, to common.Address, amount *big.Int) (bool, error) {
	return m.move(m.sender, to, amount)
}

// TransferFrom moves amount between two arbitrary accounts. The engine
// acts as a trusted operator here, so no allowance bookkeeping exists.
func (m *Memory) TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) (bool, error) {
	return m.move(from, to, amount)
}

// Mint credits amount to the recipient and grows total supply.
func (m *Memory) Mint(ctx context.Context, to common.Address, amount *big.Int) (bool, error) {
	if amount == nil || amount.Sign() < 0 {
		return false, errors.New("token: mint amount must not be negative")
	}
	if hook := m.BeforeTransfer; hook != nil {
		if err := hook(common.Address{}, to, amount); err != nil {
			return false, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[to] = new(big.Int).Add(m.balanceLocked(to), amount)
	m.supply = new(big.Int).Add(m.supply, amount)
	return true, nil
}

// Burn destroys amount from the bound sender account's balance.
func (m *Memory) Burn(ctx context.Context, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errors.New("token: burn amount must not be negative")
	}
	if hook := m.BeforeTransfer; hook != nil {
		if err := hook(m.sender, common.Address{}, amount); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	balance := m.balanceLocked(m.sender)
	if balance.Cmp(amount) < 0 {
		return errors.New("token: burn exceeds balance")
	}
	m.balances[m.sender] = new(big.Int).Sub(balance, amount)
	m.supply = new(big.Int).Sub(m.supply, amount)
	return nil
}

func (m *Memory) move(from, to common.Address, amount *big.Int) (bool, error) {
	if amount == nil || amount.Sign() < 0 {
		return false, errors.New("token: transfer amount must not be negative")
	}
	if hook := m.BeforeTransfer; hook != nil {
		if err := hook(from, to, amount); err != nil {
			return false, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	balance := m.balanceLocked(from)
	if balance.Cmp(amount) < 0 {
		return false, nil
	}
	m.balances[from] = new(big.Int).Sub(balance, amount)
	m.balances[to] = new(big.Int).Add(m.balanceLocked(to), amount)
	return true, nil
}

func (m *Memory) balanceLocked(owner common.Address) *big.Int {
	if balance, ok := m.balances[owner]; ok {
		return balance
	}
	return big.NewInt(0)
}

var _ DebtToken = (*Memory)(nil)
