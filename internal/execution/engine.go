// Package execution simulates order execution and owns the authoritative
// cash/position ledger. It is the single writer of ledger state; everything
// else observes it through PortfolioState and events.
package execution

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/papertrade/internal/domain"
	"github.com/betbot/papertrade/internal/events"
)

var engineLog = logrus.WithField("component", "execution_engine")

// Rejection reasons surfaced on rejected orders and events.
const (
	ReasonInvalidSize          = "invalid size"
	ReasonLimitPriceRequired   = "limit price required"
	ReasonStopPriceRequired    = "stop price required"
	ReasonPriceOutOfBounds     = "price out of bounds"
	ReasonInsufficientFunds    = "insufficient funds"
	ReasonInsufficientPosition = "insufficient position"
)

// Config is the closed execution configuration.
type Config struct {
	InitialCash float64        `yaml:"initialCash"`
	FeeRate     float64        `yaml:"feeRate"`
	Slippage    SlippageConfig `yaml:"slippage"`
}

// OrderRequest is what callers submit; the engine turns it into an Order.
type OrderRequest struct {
	Key        domain.Key
	Type       domain.OrderType
	Side       domain.Side
	Size       float64
	LimitPrice float64
	StopPrice  float64
	StrategyID string
	ExpiresAt  *time.Time
}

// Engine validates and tracks orders, matches them against feed quotes,
// applies slippage and fees, and mutates the ledger. All ledger access is
// serialized by one mutex; validation and commit happen under the same
// hold, so an earlier snapshot is never trusted at submission time.
type Engine struct {
	cfg Config
	bus *events.Bus

	mu        sync.Mutex
	cash      float64
	realized  float64
	seq       uint64
	orders    map[string]*domain.Order
	working   map[domain.Key][]*domain.Order // FIFO by submission seq
	positions map[domain.Key]*domain.Position
	fills     []*domain.Fill
	quotes    map[domain.Key]domain.Quote
}

func NewEngine(cfg Config, bus *events.Bus) *Engine {
	return &Engine{
		cfg:       cfg,
		bus:       bus,
		cash:      cfg.InitialCash,
		orders:    make(map[string]*domain.Order),
		working:   make(map[domain.Key][]*domain.Order),
		positions: make(map[domain.Key]*domain.Position),
		quotes:    make(map[domain.Key]domain.Quote),
	}
}

// SubmitOrder validates the request and returns the resulting order.
// It never fails: business-rule violations come back as a terminal
// rejected order plus a rejection event. Market orders get one immediate
// synchronous match attempt before the call returns.
func (e *Engine) SubmitOrder(req OrderRequest) *domain.Order {
	now := time.Now()
	var pending []any

	e.mu.Lock()
	e.seq++
	order := &domain.Order{
		ID:         uuid.NewString(),
		Key:        req.Key,
		Type:       req.Type,
		Side:       req.Side,
		Size:       req.Size,
		LimitPrice: req.LimitPrice,
		StopPrice:  req.StopPrice,
		Status:     domain.OrderStatusPending,
		StrategyID: req.StrategyID,
		Seq:        e.seq,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  req.ExpiresAt,
	}
	e.orders[order.ID] = order

	if reason := e.validateLocked(&req); reason != "" {
		order.Status = domain.OrderStatusRejected
		order.Reason = reason
		pending = append(pending, events.OrderRejectedEvent{Order: order, Reason: reason, Timestamp: now})
		e.mu.Unlock()

		engineLog.Debugf("order rejected: key=%s side=%s size=%.2f reason=%s",
			req.Key, req.Side, req.Size, reason)
		e.publish(pending)
		return order
	}

	order.Status = domain.OrderStatusOpen
	e.working[order.Key] = append(e.working[order.Key], order)
	pending = append(pending, events.OrderCreatedEvent{Order: order, Timestamp: now})

	if order.Type == domain.OrderTypeMarket {
		if quote, ok := e.quotes[order.Key]; ok {
			e.matchOrderLocked(order, quote, &pending)
		}
	}
	e.mu.Unlock()

	e.publish(pending)
	return order
}

// validateLocked applies the submission business rules. Empty string means
// the order is acceptable.
func (e *Engine) validateLocked(req *OrderRequest) string {
	if req.Size <= 0 {
		return ReasonInvalidSize
	}
	switch req.Type {
	case domain.OrderTypeLimit:
		if req.LimitPrice == 0 {
			return ReasonLimitPriceRequired
		}
	case domain.OrderTypeStop:
		if req.StopPrice == 0 {
			return ReasonStopPriceRequired
		}
	case domain.OrderTypeStopLimit:
		if req.StopPrice == 0 {
			return ReasonStopPriceRequired
		}
		if req.LimitPrice == 0 {
			return ReasonLimitPriceRequired
		}
	}
	if req.LimitPrice != 0 && (req.LimitPrice <= 0 || req.LimitPrice >= 1) {
		return ReasonPriceOutOfBounds
	}
	if req.StopPrice != 0 && (req.StopPrice <= 0 || req.StopPrice >= 1) {
		return ReasonPriceOutOfBounds
	}

	switch req.Side {
	case domain.SideBuy:
		est := req.LimitPrice
		if est == 0 {
			quote := e.quotes[req.Key]
			est = quote.Ask
			if est == 0 {
				est = quote.Last
			}
		}
		if est > 0 {
			cost := req.Size * est * (1 + e.cfg.FeeRate)
			if e.cash < cost {
				return ReasonInsufficientFunds
			}
		}
	case domain.SideSell:
		pos, ok := e.positions[req.Key]
		if !ok || pos.Size < req.Size {
			return ReasonInsufficientPosition
		}
	}
	return ""
}

// CancelOrder succeeds only for open/partial orders and is otherwise a
// failed no-op. Cancellation removes the order from the matching set; it
// does not unwind fills already applied.
func (e *Engine) CancelOrder(id string) bool {
	now := time.Now()
	var pending []any

	e.mu.Lock()
	order, ok := e.orders[id]
	if !ok || !order.IsWorking() {
		e.mu.Unlock()
		return false
	}
	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = now
	e.removeWorkingLocked(order)
	pending = append(pending, events.OrderCancelledEvent{Order: order, Timestamp: now})
	e.mu.Unlock()

	e.publish(pending)
	return true
}

// GetOrder returns the order by id.
func (e *Engine) GetOrder(id string) (*domain.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	return o, ok
}

// OnPriceTick records the latest quote for the contract and runs one
// deterministic matching pass over its working orders, oldest submission
// first.
func (e *Engine) OnPriceTick(key domain.Key, quote domain.Quote) {
	var pending []any

	e.mu.Lock()
	e.quotes[key] = quote
	if pos, ok := e.positions[key]; ok && quote.Last > 0 {
		pos.CurrentPrice = quote.Last
	}
	// Copy: fills mutate the working slice while we walk it.
	candidates := append([]*domain.Order(nil), e.working[key]...)
	for _, order := range candidates {
		if !order.IsWorking() {
			continue
		}
		e.matchOrderLocked(order, quote, &pending)
	}
	e.mu.Unlock()

	e.publish(pending)
}

// matchOrderLocked evaluates the order's trigger against the quote and,
// if it fires, applies a single-shot full fill.
func (e *Engine) matchOrderLocked(order *domain.Order, quote domain.Quote, pending *[]any) {
	price, ok := triggerPrice(order, quote)
	if !ok {
		return
	}
	price = applySlippage(e.cfg.Slippage, order.Side, price, order.RemainingSize(), quote)
	e.applyFillLocked(order, price, pending)
}

// triggerPrice implements the trigger table. The bool is false when the
// order does not fire on this quote (a stop-limit whose stop fired but
// whose limit did not stays armed for a future tick).
func triggerPrice(order *domain.Order, quote domain.Quote) (float64, bool) {
	switch order.Type {
	case domain.OrderTypeMarket:
		if order.Side == domain.SideBuy {
			return quote.Ask, quote.Ask > 0
		}
		return quote.Bid, quote.Bid > 0

	case domain.OrderTypeLimit:
		return limitTrigger(order, quote)

	case domain.OrderTypeStop:
		if !stopFired(order, quote) {
			return 0, false
		}
		if order.Side == domain.SideBuy {
			return quote.Ask, quote.Ask > 0
		}
		return quote.Bid, quote.Bid > 0

	case domain.OrderTypeStopLimit:
		if !stopFired(order, quote) {
			return 0, false
		}
		return limitTrigger(order, quote)
	}
	return 0, false
}

func stopFired(order *domain.Order, quote domain.Quote) bool {
	if quote.Last <= 0 {
		return false
	}
	if order.Side == domain.SideBuy {
		return quote.Last >= order.StopPrice
	}
	return quote.Last <= order.StopPrice
}

func limitTrigger(order *domain.Order, quote domain.Quote) (float64, bool) {
	if order.Side == domain.SideBuy {
		if quote.Ask > 0 && quote.Ask <= order.LimitPrice {
			return minf(quote.Ask, order.LimitPrice), true
		}
		return 0, false
	}
	if quote.Bid > 0 && quote.Bid >= order.LimitPrice {
		return maxf(quote.Bid, order.LimitPrice), true
	}
	return 0, false
}

// applyFillLocked commits one full fill: fee, cash, position, fill record,
// order terminal status. Affordability and position availability are
// re-validated here, under the same lock, because ledger state may have
// changed since submission.
func (e *Engine) applyFillLocked(order *domain.Order, price float64, pending *[]any) {
	now := time.Now()
	fillSize := order.RemainingSize()
	fee := fillSize * price * e.cfg.FeeRate

	switch order.Side {
	case domain.SideBuy:
		cost := fillSize*price + fee
		if e.cash < cost {
			e.rejectWorkingLocked(order, ReasonInsufficientFunds, now, pending)
			return
		}
		e.cash -= cost
		e.upsertPositionLocked(order.Key, fillSize, price, now, pending)

	case domain.SideSell:
		pos, ok := e.positions[order.Key]
		if !ok || pos.Size < fillSize {
			e.rejectWorkingLocked(order, ReasonInsufficientPosition, now, pending)
			return
		}
		e.cash += fillSize*price - fee
		realized := (price - pos.AvgEntryPrice) * fillSize
		pos.RealizedPnL += realized
		pos.Size -= fillSize
		pos.CurrentPrice = price
		pos.UpdatedAt = now
		e.realized += realized
		if pos.Size <= 1e-9 {
			delete(e.positions, order.Key)
			*pending = append(*pending, events.PositionClosedEvent{
				Position: pos, RealizedPnL: realized, Timestamp: now,
			})
		} else {
			*pending = append(*pending, events.PositionUpdatedEvent{Position: pos, Timestamp: now})
		}
	}

	fill := &domain.Fill{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		Key:       order.Key,
		Side:      order.Side,
		Price:     price,
		Size:      fillSize,
		Fee:       fee,
		Timestamp: now,
	}
	e.fills = append(e.fills, fill)

	order.AvgFillPrice = weightedAvg(order.AvgFillPrice, order.FilledSize, price, fillSize)
	order.FilledSize += fillSize
	order.Status = domain.OrderStatusFilled
	order.UpdatedAt = now
	e.removeWorkingLocked(order)

	*pending = append(*pending, events.OrderFilledEvent{Order: order, Fill: fill, Timestamp: now})
	*pending = append(*pending, events.PortfolioUpdatedEvent{State: e.portfolioLocked(now), Timestamp: now})

	engineLog.Debugf("fill: key=%s side=%s size=%.2f price=%.5f fee=%.5f cash=%.2f",
		order.Key, order.Side, fillSize, price, fee, e.cash)
}

func (e *Engine) upsertPositionLocked(key domain.Key, size, price float64, now time.Time, pending *[]any) {
	pos, ok := e.positions[key]
	if !ok {
		pos = &domain.Position{
			Key:           key,
			Size:          size,
			AvgEntryPrice: price,
			CurrentPrice:  price,
			OpenedAt:      now,
			UpdatedAt:     now,
		}
		e.positions[key] = pos
		*pending = append(*pending, events.PositionOpenedEvent{Position: pos, Timestamp: now})
		return
	}
	pos.AvgEntryPrice = weightedAvg(pos.AvgEntryPrice, pos.Size, price, size)
	pos.Size += size
	pos.CurrentPrice = price
	pos.UpdatedAt = now
	*pending = append(*pending, events.PositionUpdatedEvent{Position: pos, Timestamp: now})
}

func (e *Engine) rejectWorkingLocked(order *domain.Order, reason string, now time.Time, pending *[]any) {
	order.Status = domain.OrderStatusRejected
	order.Reason = reason
	order.UpdatedAt = now
	e.removeWorkingLocked(order)
	*pending = append(*pending, events.OrderRejectedEvent{Order: order, Reason: reason, Timestamp: now})
}

func (e *Engine) removeWorkingLocked(order *domain.Order) {
	list := e.working[order.Key]
	for i, o := range list {
		if o.ID == order.ID {
			e.working[order.Key] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// PortfolioState recomputes the derived snapshot from the ledger and the
// latest known quotes. Never cached across ticks.
func (e *Engine) PortfolioState() *domain.PortfolioState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.portfolioLocked(time.Now())
}

func (e *Engine) portfolioLocked(now time.Time) *domain.PortfolioState {
	state := &domain.PortfolioState{
		Cash:        e.cash,
		Equity:      e.cash,
		RealizedPnL: e.realized,
		Timestamp:   now,
	}
	for _, pos := range e.positions {
		if quote, ok := e.quotes[pos.Key]; ok && quote.Last > 0 {
			pos.CurrentPrice = quote.Last
		}
		cp := *pos
		state.Positions = append(state.Positions, &cp)
		state.Equity += cp.MarketValue()
		state.UnrealizedPnL += cp.UnrealizedPnL()
	}
	for _, list := range e.working {
		for _, o := range list {
			co := *o
			state.OpenOrders = append(state.OpenOrders, &co)
		}
	}
	sort.Slice(state.OpenOrders, func(i, j int) bool {
		return state.OpenOrders[i].Seq < state.OpenOrders[j].Seq
	})
	sort.Slice(state.Positions, func(i, j int) bool {
		return state.Positions[i].Key.String() < state.Positions[j].Key.String()
	})
	return state
}

// Fills returns a copy of the append-only fill history.
func (e *Engine) Fills() []*domain.Fill {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*domain.Fill(nil), e.fills...)
}

// Cash returns the current cash balance.
func (e *Engine) Cash() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cash
}

// publish emits collected events outside the ledger lock so subscribers
// can safely call back into the engine.
func (e *Engine) publish(pending []any) {
	for _, ev := range pending {
		e.bus.Publish(ev)
	}
}

func weightedAvg(oldPrice, oldSize, newPrice, newSize float64) float64 {
	total := oldSize + newSize
	if total <= 0 {
		return newPrice
	}
	return (oldPrice*oldSize + newPrice*newSize) / total
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
