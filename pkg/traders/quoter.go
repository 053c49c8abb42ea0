package traders

import "math"

// QuoterConfig holds the Avellaneda-Stoikov parameters, calibrated for a
// 0-100 cent prediction market.
type QuoterConfig struct {
	// RiskAversion (gamma) controls how hard inventory skews the quotes.
	RiskAversion float64
	// LiquidityParam (k) is the order arrival rate; higher means tighter
	// spreads.
	LiquidityParam float64
	// TerminalTime (T) is the quoting horizon in seconds.
	TerminalTime float64
	// VolatilityBase is sigma at zero confidence; actual sigma is
	// VolatilityBase * (1 - confidence).
	VolatilityBase float64
	// MinSpread is the spread floor in cents.
	MinSpread float64
}

// DefaultQuoterConfig mirrors the calibration used by the simulation.
func DefaultQuoterConfig() QuoterConfig {
	return QuoterConfig{
		RiskAversion:   0.003,
		LiquidityParam: 1.2,
		TerminalTime:   60.0,
		VolatilityBase: 3.5,
		MinSpread:      2,
	}
}

// Quote computes an inventory-skewed bid/ask pair around a belief.
//
//	mid = belief * 100
//	sigma = sigma_base * (1 - confidence)
//	r = mid - inventory * gamma * sigma^2 * (T - t)
//	spread = gamma * sigma^2 * (T - t) + (2/gamma) * ln(1 + gamma/k)
//
// Prices are clamped to [1,99] and uncrossed after rounding.
func (c QuoterConfig) Quote(belief, confidence float64, inventory int, elapsed float64) (bid, ask int) {
	t := math.Min(elapsed, c.TerminalTime)
	dt := c.TerminalTime - t

	mid := belief * 100.0
	sigma := c.VolatilityBase * (1.0 - confidence)

	reservation := mid - float64(inventory)*c.RiskAversion*sigma*sigma*dt

	spread := c.RiskAversion*sigma*sigma*dt +
		(2.0/c.RiskAversion)*math.Log(1.0+c.RiskAversion/c.LiquidityParam)
	spread = math.Max(spread, c.MinSpread)

	bid = clampPrice(int(math.Round(reservation - spread/2.0)))
	ask = clampPrice(int(math.Round(reservation + spread/2.0)))

	// rounding can cross the pair
	if bid >= ask {
		if bid > 1 {
			bid--
		}
		if ask < 99 {
			ask++
		}
	}
	return bid, ask
}

func clampPrice(p int) int {
	if p < 1 {
		return 1
	}
	if p > 99 {
		return 99
	}
	return p
}
