package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type stubFeed struct {
	round RoundData
	err   error
}

func (s *stubFeed) LatestRoundData(ctx context.Context) (RoundData, error) {
	return s.round, s.err
}

func freshRound(updatedAt time.Time) RoundData {
	return RoundData{
		RoundID:         big.NewInt(7),
		Price:           big.NewInt(2000e8),
		StartedAt:       big.NewInt(updatedAt.Unix()),
		UpdatedAt:       big.NewInt(updatedAt.Unix()),
		AnsweredInRound: big.NewInt(7),
		Decimals:        8,
	}
}

func guardAt(feed Feed, now time.Time) *Guard {
	g := NewGuard(feed, zerolog.Nop())
	g.now = func() time.Time { return now }
	return g
}

func TestGuardAcceptsFreshRound(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := guardAt(&stubFeed{round: freshRound(now.Add(-time.Minute))}, now)

	round, err := g.Fresh(context.Background())
	if err != nil {
		t.Fatalf("fresh round rejected: %v", err)
	}
	if round.Price.Cmp(big.NewInt(2000e8)) != 0 {
		t.Fatalf("unexpected price %s", round.Price)
	}
}

func TestGuardStalenessBoundary(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	// Exactly at the boundary is still fresh.
	g := guardAt(&stubFeed{round: freshRound(now.Add(-StaleTimeout))}, now)
	if _, err := g.Fresh(context.Background()); err != nil {
		t.Fatalf("round exactly at boundary should pass: %v", err)
	}

	// One second beyond the window fails.
	g = guardAt(&stubFeed{round: freshRound(now.Add(-StaleTimeout - time.Second))}, now)
	if _, err := g.Fresh(context.Background()); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}
}

func TestGuardRejectsNeverAnswered(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	round := freshRound(now)
	round.UpdatedAt = big.NewInt(0)

	g := guardAt(&stubFeed{round: round}, now)
	if _, err := g.Fresh(context.Background()); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice for updatedAt=0, got %v", err)
	}
}

func TestGuardRejectsCarriedForwardRound(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	round := freshRound(now)
	round.AnsweredInRound = big.NewInt(6)

	g := guardAt(&stubFeed{round: round}, now)
	if _, err := g.Fresh(context.Background()); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice for stale round carry-over, got %v", err)
	}
}

func TestGuardRejectsNonPositivePrice(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	for _, price := range []int64{0, -1} {
		round := freshRound(now)
		round.Price = big.NewInt(price)
		g := guardAt(&stubFeed{round: round}, now)
		if _, err := g.Fresh(context.Background()); !errors.Is(err, ErrStalePrice) {
			t.Fatalf("expected ErrStalePrice for price %d, got %v", price, err)
		}
	}
}

func TestGuardPropagatesFeedError(t *testing.T) {
	feedErr := errors.New("rpc unavailable")
	g := guardAt(&stubFeed{err: feedErr}, time.Now())
	if _, err := g.Fresh(context.Background()); !errors.Is(err, feedErr) {
		t.Fatalf("expected feed error to surface, got %v", err)
	}
}

func TestGuardTimeoutAccessor(t *testing.T) {
	g := NewGuard(&stubFeed{}, zerolog.Nop())
	if g.Timeout() != 3*time.Hour {
		t.Fatalf("unexpected staleness window %s", g.Timeout())
	}
}
