// Package sizing converts a combined signal plus portfolio equity into a
// share count, optionally tempered by a Kelly fraction.
package sizing

import "math"

// Config is the position-sizing configuration of one strategy.
type Config struct {
	MaxPositionPct  float64 `yaml:"maxPositionPct"`  // base fraction of equity per trade
	MaxPositionSize float64 `yaml:"maxPositionSize"` // dollar clamp per trade, 0 = off
	MinOrderValue   float64 `yaml:"minOrderValue"`   // below this the trade is skipped
	UseKelly        bool    `yaml:"useKelly"`
	KellyMultiplier float64 `yaml:"kellyMultiplier"` // global scale on the Kelly fraction
}

// Shares sizes one trade at the given entry price. A return of 0 means
// skip: the engine never sees a zero-size order.
//
// Base size is equity * MaxPositionPct. With Kelly enabled, confidence is
// taken as the win-probability proxy and the binary-contract payoff ratio
// at the entry price ((1-p)/p for a buy) feeds the Kelly fraction, scaled
// by KellyMultiplier; the smaller of base and Kelly dollars wins. The
// result is clamped to MaxPositionSize and converted to shares at price.
func Shares(cfg Config, equity, price, confidence float64) float64 {
	if equity <= 0 || price <= 0 || price >= 1 {
		return 0
	}

	dollars := equity * cfg.MaxPositionPct
	if cfg.UseKelly {
		kelly := KellyFraction(confidence, payoffRatio(price)) * cfg.KellyMultiplier
		if kelly < 0 {
			kelly = 0
		}
		kellyDollars := equity * kelly
		if kellyDollars < dollars {
			dollars = kellyDollars
		}
	}
	if cfg.MaxPositionSize > 0 && dollars > cfg.MaxPositionSize {
		dollars = cfg.MaxPositionSize
	}

	minValue := cfg.MinOrderValue
	if minValue <= 0 {
		minValue = 1.0
	}
	if dollars < minValue {
		return 0
	}
	return math.Floor(dollars/price*100) / 100
}

// KellyFraction is the classic bet fraction f* = (p*b - q) / b for win
// probability p and net payoff ratio b. Negative edges return 0.
func KellyFraction(winProb, payoff float64) float64 {
	if payoff <= 0 || winProb <= 0 {
		return 0
	}
	if winProb > 1 {
		winProb = 1
	}
	f := (winProb*payoff - (1 - winProb)) / payoff
	if f < 0 {
		return 0
	}
	return f
}

// payoffRatio of a binary contract bought at p: win pays (1-p), lose
// costs p.
func payoffRatio(price float64) float64 {
	return (1 - price) / price
}
