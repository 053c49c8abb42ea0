package traders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuote(t *testing.T) {
	cfg := DefaultQuoterConfig()

	t.Run("centers on belief with flat inventory", func(t *testing.T) {
		bid, ask := cfg.Quote(0.5, 0.5, 0, 0)
		assert.Less(t, bid, 50)
		assert.Greater(t, ask, 50)
		assert.GreaterOrEqual(t, ask-bid, int(cfg.MinSpread))
	})

	t.Run("long inventory skews quotes down", func(t *testing.T) {
		flatBid, flatAsk := cfg.Quote(0.5, 0.2, 0, 0)
		longBid, longAsk := cfg.Quote(0.5, 0.2, 500, 0)
		assert.LessOrEqual(t, longBid, flatBid)
		assert.LessOrEqual(t, longAsk, flatAsk)
		assert.Less(t, longBid+longAsk, flatBid+flatAsk)
	})

	t.Run("short inventory skews quotes up", func(t *testing.T) {
		flatBid, flatAsk := cfg.Quote(0.5, 0.2, 0, 0)
		shortBid, shortAsk := cfg.Quote(0.5, 0.2, -500, 0)
		assert.Greater(t, shortBid+shortAsk, flatBid+flatAsk)
	})

	t.Run("high confidence tightens the inventory term", func(t *testing.T) {
		// With sigma near zero the skew term vanishes and the spread
		// floors at MinSpread.
		bid, ask := cfg.Quote(0.7, 1.0, 1000, 0)
		assert.Equal(t, int(cfg.MinSpread), ask-bid)
		assert.InDelta(t, 70, (bid+ask)/2, 1)
	})

	t.Run("clamps to the 1..99 band", func(t *testing.T) {
		bid, ask := cfg.Quote(0.01, 0.5, 0, 0)
		assert.GreaterOrEqual(t, bid, 1)
		assert.Less(t, bid, ask)

		bid, ask = cfg.Quote(0.99, 0.5, 0, 0)
		assert.LessOrEqual(t, ask, 99)
		assert.Less(t, bid, ask)
	})

	t.Run("never returns a crossed pair", func(t *testing.T) {
		for _, belief := range []float64{0.02, 0.25, 0.5, 0.75, 0.98} {
			for _, inv := range []int{-2000, -100, 0, 100, 2000} {
				bid, ask := cfg.Quote(belief, 0.9, inv, 30)
				assert.Less(t, bid, ask, "belief %.2f inv %d", belief, inv)
			}
		}
	})

	t.Run("elapsed time past the horizon decays the skew", func(t *testing.T) {
		early := QuoterConfig{
			RiskAversion: 0.003, LiquidityParam: 1.2,
			TerminalTime: 60, VolatilityBase: 3.5, MinSpread: 2,
		}
		bidEarly, askEarly := early.Quote(0.5, 0.0, 1000, 0)
		bidLate, askLate := early.Quote(0.5, 0.0, 1000, 120)
		// At the horizon the reservation price collapses back to the mid.
		assert.Greater(t, bidLate+askLate, bidEarly+askEarly)
		assert.InDelta(t, 50, (bidLate+askLate)/2, 2)
	})
}

func TestClampPrice(t *testing.T) {
	assert.Equal(t, 1, clampPrice(-10))
	assert.Equal(t, 1, clampPrice(0))
	assert.Equal(t, 1, clampPrice(1))
	assert.Equal(t, 50, clampPrice(50))
	assert.Equal(t, 99, clampPrice(99))
	assert.Equal(t, 99, clampPrice(150))
}
