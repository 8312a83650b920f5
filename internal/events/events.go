package events

import (
	"time"

	"github.com/betbot/papertrade/internal/domain"
)

// OrderCreatedEvent fires when a submission is accepted and becomes open.
type OrderCreatedEvent struct {
	Order     *domain.Order
	Timestamp time.Time
}

// OrderFilledEvent fires after a fill is applied to the ledger.
type OrderFilledEvent struct {
	Order     *domain.Order
	Fill      *domain.Fill
	Timestamp time.Time
}

// OrderCancelledEvent fires on a successful cancellation.
type OrderCancelledEvent struct {
	Order     *domain.Order
	Timestamp time.Time
}

// OrderRejectedEvent fires when validation turns a submission into a
// terminal rejected order. Reason carries the business rule that failed.
type OrderRejectedEvent struct {
	Order     *domain.Order
	Reason    string
	Timestamp time.Time
}

// PositionOpenedEvent fires on the first buy fill for a contract.
type PositionOpenedEvent struct {
	Position  *domain.Position
	Timestamp time.Time
}

// PositionUpdatedEvent fires when a fill changes an existing position
// without closing it.
type PositionUpdatedEvent struct {
	Position  *domain.Position
	Timestamp time.Time
}

// PositionClosedEvent fires when a sell fill brings the position to zero.
// RealizedPnL is the profit realized by the closing fill.
type PositionClosedEvent struct {
	Position    *domain.Position
	RealizedPnL float64
	Timestamp   time.Time
}

// PortfolioUpdatedEvent fires after any ledger mutation.
type PortfolioUpdatedEvent struct {
	State     *domain.PortfolioState
	Timestamp time.Time
}

// StrategyStartedEvent fires when a registered strategy begins evaluating.
type StrategyStartedEvent struct {
	StrategyID string
	Timestamp  time.Time
}

// StrategyStoppedEvent fires when a running strategy is stopped.
type StrategyStoppedEvent struct {
	StrategyID string
	Timestamp  time.Time
}

// SignalGeneratedEvent fires when the combiner produces an actionable
// signal for a contract, before any gate is consulted.
type SignalGeneratedEvent struct {
	StrategyID string
	Key        domain.Key
	Signal     *domain.CombinedSignal
	Timestamp  time.Time
}

// TradeExecutedEvent fires when an orchestrator-submitted order is
// accepted or filled by the execution engine.
type TradeExecutedEvent struct {
	StrategyID string
	Order      *domain.Order
	Timestamp  time.Time
}

// TradeSkippedEvent fires when a qualifying signal does not result in an
// executed trade. Reason explains the skip (risk block, sizing, rejection).
type TradeSkippedEvent struct {
	StrategyID string
	Key        domain.Key
	Reason     string
	Status     domain.OrderStatus // set when an order was created and rejected
	Timestamp  time.Time
}

// RiskTriggeredEvent fires when the risk gate vetoes a trade.
// Limit names the violated limit ("maxOpenPositions", "maxDailyLoss",
// "maxDrawdown").
type RiskTriggeredEvent struct {
	StrategyID string
	Key        domain.Key
	Limit      string
	Value      float64
	Threshold  float64
	Timestamp  time.Time
}

// EvaluationErrorEvent fires when one strategy x market evaluation fails.
// The failure is isolated: remaining strategies and markets still run.
type EvaluationErrorEvent struct {
	StrategyID string
	Key        domain.Key
	Err        string
	Timestamp  time.Time
}
