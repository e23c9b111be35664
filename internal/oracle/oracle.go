package oracle

import (
	"context"
	"math/big"
)

// RoundData is one ephemeral price observation from a feed. Values are
// fetched fresh on every valuation and never cached.
type RoundData struct {
	RoundID         *big.Int
	Price           *big.Int
	StartedAt       *big.Int
	UpdatedAt       *big.Int
	AnsweredInRound *big.Int
	Decimals        uint8
}

// Feed retrieves the latest round from a single price feed.
type Feed interface {
	LatestRoundData(ctx context.Context) (RoundData, error)
}
