package token

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Asset is the minimal fungible-asset surface the engine depends on.
// Transfer and Burn act on the balance of the account the implementation
// is bound to (the protocol custody account). Implementations may report
// failure either through the ERC-20 boolean convention or through an
// error; callers must treat both identically.
type Asset interface {
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (bool, error)
	TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) (bool, error)
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
}

// DebtToken extends Asset with owner-gated supply management. Only the
// engine holds minting rights; Burn consumes the bound account's own
// balance after an explicit pull.
type DebtToken interface {
	Asset
	Mint(ctx context.Context, to common.Address, amount *big.Int) (bool, error)
	Burn(ctx context.Context, amount *big.Int) error
}
