package domain

// Direction is the trade direction implied by a signal.
type Direction string

const (
	DirectionLong    Direction = "LONG"
	DirectionShort   Direction = "SHORT"
	DirectionNeutral Direction = "NEUTRAL"
)

// SignalOutput is the score one signal produces for one contract.
type SignalOutput struct {
	Name       string
	Direction  Direction
	Strength   float64 // [-1, 1]
	Confidence float64 // [0, 1]
}

// CombinedSignal is the single decision produced by merging all signal
// outputs for a contract. Price is the signal-implied entry price the
// sizer converts dollars to shares at.
type CombinedSignal struct {
	Direction  Direction
	Strength   float64 // [-1, 1]
	Confidence float64 // [0, 1]
	Price      float64
}

// Actionable reports whether the combined signal points at a trade at all.
func (s *CombinedSignal) Actionable() bool {
	return s != nil && s.Direction != DirectionNeutral && s.Direction != ""
}
