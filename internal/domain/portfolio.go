package domain

import "time"

// PortfolioState is a derived snapshot of the ledger: recomputed on demand,
// never stored. Equity = cash + sum of position market values.
type PortfolioState struct {
	Cash          float64
	Equity        float64
	RealizedPnL   float64
	UnrealizedPnL float64
	Positions     []*Position
	OpenOrders    []*Order
	Timestamp     time.Time
}

// OpenPositionCount returns the number of open positions in the snapshot.
func (s *PortfolioState) OpenPositionCount() int {
	return len(s.Positions)
}

// TotalPnL returns realized plus unrealized P&L.
func (s *PortfolioState) TotalPnL() float64 {
	return s.RealizedPnL + s.UnrealizedPnL
}
