// Package risk holds the pure pre-trade checks the orchestrator consults
// before sizing and submitting an order.
package risk

// Limit names used to tag risk-triggered events.
const (
	LimitMaxOpenPositions = "maxOpenPositions"
	LimitMaxDailyLoss     = "maxDailyLoss"
	LimitMaxDrawdown      = "maxDrawdown"
)

// Limits is the per-strategy risk configuration. A threshold <= 0 disables
// the corresponding limit.
type Limits struct {
	MaxOpenPositions int     `yaml:"maxOpenPositions"`
	MaxDailyLoss     float64 `yaml:"maxDailyLoss"` // dollars
	MaxDrawdown      float64 `yaml:"maxDrawdown"`  // fraction of peak equity
}

// Snapshot is the portfolio view a check runs against.
type Snapshot struct {
	OpenPositions int
	DailyPnL      float64 // realized + unrealized since the UTC day baseline
	Equity        float64
	PeakEquity    float64
}

// Violation names the limit that blocked the trade.
type Violation struct {
	Limit     string
	Value     float64
	Threshold float64
}

// Check returns nil when the trade may proceed, otherwise the first
// violated limit. Pure: no state, no side effects.
func Check(limits Limits, snap Snapshot) *Violation {
	if limits.MaxOpenPositions > 0 && snap.OpenPositions >= limits.MaxOpenPositions {
		return &Violation{
			Limit:     LimitMaxOpenPositions,
			Value:     float64(snap.OpenPositions),
			Threshold: float64(limits.MaxOpenPositions),
		}
	}
	if limits.MaxDailyLoss > 0 && snap.DailyPnL <= -limits.MaxDailyLoss {
		return &Violation{
			Limit:     LimitMaxDailyLoss,
			Value:     snap.DailyPnL,
			Threshold: limits.MaxDailyLoss,
		}
	}
	if limits.MaxDrawdown > 0 {
		dd := Drawdown(snap.PeakEquity, snap.Equity)
		if dd > limits.MaxDrawdown {
			return &Violation{
				Limit:     LimitMaxDrawdown,
				Value:     dd,
				Threshold: limits.MaxDrawdown,
			}
		}
	}
	return nil
}

// Drawdown is the peak-to-current equity decline as a fraction of the peak.
func Drawdown(peak, equity float64) float64 {
	if peak <= 0 || equity >= peak {
		return 0
	}
	return (peak - equity) / peak
}
