package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"stablemint/internal/oracle"
)

// Registry is the immutable set of supported collateral assets and
// their guarded price feeds. It is constructed once and shared by
// reference; there is no runtime registration.
type Registry struct {
	tokens []common.Address
	guards map[common.Address]*oracle.Guard
}

// NewRegistry pairs collateral token identities with guarded feeds. The
// two slices are positional; mismatched lengths, duplicate tokens, the
// zero address, and nil guards are all rejected.
func NewRegistry(tokens []common.Address, guards []*oracle.Guard) (*Registry, error) {
	if len(tokens) != len(guards) {
		return nil, fmt.Errorf("%w: %d tokens but %d feeds", ErrConfiguration, len(tokens), len(guards))
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: at least one collateral asset is required", ErrConfiguration)
	}

	r := &Registry{
		tokens: make([]common.Address, 0, len(tokens)),
		guards: make(map[common.Address]*oracle.Guard, len(tokens)),
	}
	for i, tok := range tokens {
		if tok == (common.Address{}) {
			return nil, fmt.Errorf("%w: zero token address at index %d", ErrConfiguration, i)
		}
		if guards[i] == nil {
			return nil, fmt.Errorf("%w: nil price feed for token %s", ErrConfiguration, tok.Hex())
		}
		if _, dup := r.guards[tok]; dup {
			return nil, fmt.Errorf("%w: duplicate token %s", ErrConfiguration, tok.Hex())
		}
		r.tokens = append(r.tokens, tok)
		r.guards[tok] = guards[i]
	}
	return r, nil
}

// Supports reports whether the asset has a registered price feed.
func (r *Registry) Supports(asset common.Address) bool {
	_, ok := r.guards[asset]
	return ok
}

// Guard returns the price guard for the asset, or nil when unsupported.
func (r *Registry) Guard(asset common.Address) *oracle.Guard {
	return r.guards[asset]
}

// Tokens lists the registered collateral assets in construction order.
func (r *Registry) Tokens() []common.Address {
	out := make([]common.Address, len(r.tokens))
	copy(out, r.tokens)
	return out
}
