package domain

import "time"

// Quote is a top-of-book snapshot for one contract.
type Quote struct {
	Bid       float64
	Ask       float64
	Last      float64
	BidDepth  float64 // shares at best bid, 0 when unknown
	AskDepth  float64 // shares at best ask, 0 when unknown
	Timestamp time.Time
}

// Mid returns the bid/ask midpoint, falling back to Last on a one-sided book.
func (q Quote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}

// Market describes one live prediction market and the attributes the
// orchestrator filters on.
type Market struct {
	ID        string
	Question  string
	Outcomes  []string
	TokenIDs  []string // exchange asset ids, parallel to Outcomes; may be empty
	Volume24h float64
	Liquidity float64
	EndDate   time.Time
	Active    bool
}

// DaysToExpiry returns the remaining lifetime of the market in days.
func (m *Market) DaysToExpiry(now time.Time) float64 {
	if m.EndDate.IsZero() {
		return 0
	}
	return m.EndDate.Sub(now).Hours() / 24
}

// PriceBar is one entry of the rolling per-market bar buffer.
type PriceBar struct {
	StartAt time.Time
	Open    float64
	High    float64
	Low     float64
	Close   float64
	Ticks   int
}
