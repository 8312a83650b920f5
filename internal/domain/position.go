package domain

import "time"

// Position is a long holding in one contract. Shorting is not modelled:
// size is always >= 0 and a position is removed from the ledger the moment
// a sell fill brings it to zero. Mutated only by the execution engine.
type Position struct {
	Key           Key
	Size          float64
	AvgEntryPrice float64 // strictly inside (0,1)
	CurrentPrice  float64
	RealizedPnL   float64

	OpenedAt  time.Time
	UpdatedAt time.Time
}

// MarketValue returns size * current price.
func (p *Position) MarketValue() float64 {
	return p.Size * p.CurrentPrice
}

// UnrealizedPnL returns the mark-to-market gain on the open size.
func (p *Position) UnrealizedPnL() float64 {
	return (p.CurrentPrice - p.AvgEntryPrice) * p.Size
}

// CostBasis returns size * average entry price.
func (p *Position) CostBasis() float64 {
	return p.Size * p.AvgEntryPrice
}
