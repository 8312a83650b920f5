package domain

import "time"

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType selects the trigger/pricing rule used by the fill matcher.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

// OrderStatus is the order lifecycle state. Transitions are monotonic:
// once an order reaches filled/cancelled/rejected it never leaves it.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Key identifies one tradable contract: a market plus one of its outcomes.
type Key struct {
	MarketID string
	Outcome  string
}

func (k Key) String() string {
	return k.MarketID + ":" + k.Outcome
}

// Order is the order domain model. Created by the execution engine on
// submission and mutated only by it; terminal states are immutable.
type Order struct {
	ID         string
	Key        Key
	Type       OrderType
	Side       Side
	Size       float64 // requested shares
	LimitPrice float64 // 0 = not set
	StopPrice  float64 // 0 = not set

	Status       OrderStatus
	FilledSize   float64
	AvgFillPrice float64
	Reason       string // rejection reason, empty otherwise

	StrategyID string
	Seq        uint64 // submission sequence, drives FIFO matching

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt *time.Time // informational only, no sweep enforces it
}

// IsTerminal reports whether the order reached a final status.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusFilled ||
		o.Status == OrderStatusCancelled ||
		o.Status == OrderStatusRejected
}

// IsWorking reports whether the order still participates in fill matching.
func (o *Order) IsWorking() bool {
	return o.Status == OrderStatusOpen || o.Status == OrderStatusPartial
}

func (o *Order) IsFilled() bool {
	return o.Status == OrderStatusFilled
}

// RemainingSize returns the unfilled share count.
func (o *Order) RemainingSize() float64 {
	rem := o.Size - o.FilledSize
	if rem < 0 {
		return 0
	}
	return rem
}
