package domain

import "time"

// Fill is an immutable, append-only execution record. Fills are never
// mutated or deleted once recorded.
type Fill struct {
	ID        string
	OrderID   string
	Key       Key
	Side      Side
	Price     float64
	Size      float64
	Fee       float64
	Timestamp time.Time
}

// CashDelta returns the signed cash movement of the fill, fee included.
// Buys debit cash (negative), sells credit it (positive).
func (f *Fill) CashDelta() float64 {
	if f.Side == SideBuy {
		return -(f.Size*f.Price + f.Fee)
	}
	return f.Size*f.Price - f.Fee
}
