package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// StaleTimeout is the maximum tolerated age of a price quote. A round
// whose last update is older than this window is rejected outright.
const StaleTimeout = 3 * time.Hour

// ErrStalePrice indicates the guard rejected a feed reading. The caller
// must abort whatever valuation it was performing; retrying is a
// higher-level concern.
var ErrStalePrice = errors.New("oracle: stale price")

// Guard wraps a single price feed and fails closed: any doubt about the
// freshness or validity of a reading halts the caller rather than risk
// a mispriced valuation. An asset whose feed breaks becomes unusable
// until the feed recovers.
type Guard struct {
	feed   Feed
	logger zerolog.Logger
	now    func() time.Time
}

// NewGuard wraps a feed with the staleness checks.
func NewGuard(feed Feed, logger zerolog.Logger) *Guard {
	return &Guard{
		feed:   feed,
		logger: logger.With().Str("component", "oracle_guard").Logger(),
		now:    time.Now,
	}
}

// Timeout reports the staleness window enforced by the guard.
func (g *Guard) Timeout() time.Duration {
	return StaleTimeout
}

// Fresh fetches the latest round and validates it. It returns
// ErrStalePrice when the feed has never answered, carries a stale round
// forward, reports a non-positive price, or last updated outside the
// staleness window.
func (g *Guard) Fresh(ctx context.Context) (RoundData, error) {
	round, err := g.feed.LatestRoundData(ctx)
	if err != nil {
		return RoundData{}, err
	}

	if round.UpdatedAt == nil || round.UpdatedAt.Sign() == 0 {
		return RoundData{}, fmt.Errorf("%w: feed never answered", ErrStalePrice)
	}
	if round.RoundID != nil && round.AnsweredInRound != nil && round.AnsweredInRound.Cmp(round.RoundID) < 0 {
		return RoundData{}, fmt.Errorf("%w: answer carried forward from round %s", ErrStalePrice, round.AnsweredInRound)
	}
	if round.Price == nil || round.Price.Sign() <= 0 {
		return RoundData{}, fmt.Errorf("%w: non-positive answer", ErrStalePrice)
	}

	updated := time.Unix(round.UpdatedAt.Int64(), 0)
	age := g.now().Sub(updated)
	if age > StaleTimeout {
		g.logger.Warn().Dur("age", age).Msg("feed answer outside staleness window")
		return RoundData{}, fmt.Errorf("%w: answer is %s old", ErrStalePrice, age)
	}

	return round, nil
}
