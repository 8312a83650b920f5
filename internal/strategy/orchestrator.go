// Package strategy owns the periodic decision loop: it filters markets,
// builds signal context, combines signal output and turns it into
// risk-checked, sized order submissions against the execution engine.
package strategy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/papertrade/internal/domain"
	"github.com/betbot/papertrade/internal/events"
	"github.com/betbot/papertrade/internal/execution"
	"github.com/betbot/papertrade/internal/feed"
	"github.com/betbot/papertrade/internal/risk"
	"github.com/betbot/papertrade/internal/sizing"
	"github.com/betbot/papertrade/pkg/persistence"
)

var orchLog = logrus.WithField("component", "orchestrator")

// Skip reasons attached to trade-skipped events.
const (
	SkipReasonRiskBlocked = "risk limit"
	SkipReasonBelowMin    = "below minimum size"
	SkipReasonNoPosition  = "no position to reduce"
	SkipReasonRejected    = "order rejected"
)

// Orchestrator drives all registered strategies on one periodic
// evaluation tick. Overlapping ticks are skipped, not queued.
type Orchestrator struct {
	engine   *execution.Engine
	feed     feed.Feed
	bus      *events.Bus
	combiner Combiner
	interval time.Duration

	mu         sync.Mutex
	strategies map[string]*Runtime
	bars       map[string]map[domain.Key]*BarBuffer // strategy id -> contract -> buffer

	evaluating atomic.Bool
}

func NewOrchestrator(engine *execution.Engine, f feed.Feed, bus *events.Bus, combiner Combiner, interval time.Duration) *Orchestrator {
	if combiner == nil {
		combiner = WeightedCombiner{}
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Orchestrator{
		engine:     engine,
		feed:       f,
		bus:        bus,
		combiner:   combiner,
		interval:   interval,
		strategies: make(map[string]*Runtime),
		bars:       make(map[string]map[domain.Key]*BarBuffer),
	}
}

// Register creates the runtime for a strategy config together with the
// signals it evaluates. Signals belong to their strategy: a faulty signal
// can only hurt its owner. Registering an id twice is a logged no-op, not
// an error.
func (o *Orchestrator) Register(cfg Config, signals ...Signal) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.strategies[cfg.ID]; exists {
		orchLog.Warnf("strategy %s already registered, ignoring", cfg.ID)
		return nil
	}
	rt := NewRuntime(cfg)
	for _, s := range signals {
		if s != nil {
			rt.Signals = append(rt.Signals, s)
		}
	}
	o.strategies[cfg.ID] = rt
	o.bars[cfg.ID] = make(map[domain.Key]*BarBuffer)
	orchLog.Infof("strategy %s registered with %d signals", cfg.ID, len(rt.Signals))
	return nil
}

// AddSignal appends a signal to an already registered strategy.
func (o *Orchestrator) AddSignal(id string, s Signal) error {
	if s == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	rt, ok := o.strategies[id]
	if !ok {
		return fmt.Errorf("strategy %s not registered", id)
	}
	rt.Signals = append(rt.Signals, s)
	return nil
}

// Start marks the strategy running. Idempotent.
func (o *Orchestrator) Start(id string) error {
	o.mu.Lock()
	rt, ok := o.strategies[id]
	if ok && !rt.IsRunning {
		rt.IsRunning = true
	}
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("strategy %s not registered", id)
	}
	o.bus.Publish(events.StrategyStartedEvent{StrategyID: id, Timestamp: time.Now()})
	orchLog.Infof("strategy %s started", id)
	return nil
}

// Stop marks the strategy stopped. Idempotent.
func (o *Orchestrator) Stop(id string) error {
	o.mu.Lock()
	rt, ok := o.strategies[id]
	if ok && rt.IsRunning {
		rt.IsRunning = false
	}
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("strategy %s not registered", id)
	}
	o.bus.Publish(events.StrategyStoppedEvent{StrategyID: id, Timestamp: time.Now()})
	orchLog.Infof("strategy %s stopped", id)
	return nil
}

// Unregister discards the strategy runtime and its bar buffers. Terminal.
func (o *Orchestrator) Unregister(id string) {
	o.mu.Lock()
	delete(o.strategies, id)
	delete(o.bars, id)
	o.mu.Unlock()
	orchLog.Infof("strategy %s unregistered", id)
}

// Runtime returns the live runtime for inspection (tests, status).
func (o *Orchestrator) Runtime(id string) (*Runtime, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rt, ok := o.strategies[id]
	return rt, ok
}

// OnPriceTick folds a tick into each strategy's rolling bar buffer for
// the contract, at that strategy's own interval and capacity. Wired to
// the feed subscription alongside the engine's matching pass.
func (o *Orchestrator) OnPriceTick(key domain.Key, quote domain.Quote) {
	price := quote.Last
	if price <= 0 {
		price = quote.Mid()
	}
	if price <= 0 {
		return
	}

	o.mu.Lock()
	bufs := make([]*BarBuffer, 0, len(o.strategies))
	for id, rt := range o.strategies {
		byKey := o.bars[id]
		if byKey == nil {
			byKey = make(map[domain.Key]*BarBuffer)
			o.bars[id] = byKey
		}
		buf, ok := byKey[key]
		if !ok {
			buf = NewBarBuffer(rt.Config.BarInterval, rt.Config.BarCapacity)
			byKey[key] = buf
		}
		bufs = append(bufs, buf)
	}
	o.mu.Unlock()

	ts := quote.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	for _, buf := range bufs {
		buf.Update(price, ts)
	}
}

// Run drives EvaluateAll on the configured interval until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	orchLog.Infof("evaluation loop started, interval=%s", o.interval)

	for {
		select {
		case <-ctx.Done():
			orchLog.Info("evaluation loop stopped")
			return
		case <-ticker.C:
			o.EvaluateAll(ctx)
		}
	}
}

// EvaluateAll runs one evaluation tick across all running strategies and
// eligible markets. Guarded: a tick that arrives while another is still
// in flight is skipped rather than queued.
func (o *Orchestrator) EvaluateAll(ctx context.Context) {
	if !o.evaluating.CompareAndSwap(false, true) {
		orchLog.Debug("evaluation tick overlapped, skipping")
		return
	}
	defer o.evaluating.Store(false)

	markets, err := o.feed.GetAllMarkets(ctx)
	if err != nil {
		orchLog.Errorf("market discovery failed: %v", err)
		return
	}

	o.mu.Lock()
	running := make([]*Runtime, 0, len(o.strategies))
	for _, rt := range o.strategies {
		if rt.IsRunning {
			running = append(running, rt)
		}
	}
	o.mu.Unlock()

	now := time.Now()
	for _, rt := range running {
		state := o.engine.PortfolioState()
		rt.RolloverDay(now, state.TotalPnL())
		if state.Equity > rt.PeakEquity {
			rt.PeakEquity = state.Equity
		}

		for _, market := range markets {
			if !rt.Config.Filter.Matches(market, now) {
				continue
			}
			for _, outcome := range market.Outcomes {
				o.evaluateContract(ctx, rt, market, outcome, now)
			}
		}
	}
}

// evaluateContract runs one strategy against one contract. A panic here
// is contained to this strategy x market: it becomes an evaluation-error
// event and the loop moves on.
func (o *Orchestrator) evaluateContract(ctx context.Context, rt *Runtime, market *domain.Market, outcome string, now time.Time) {
	key := domain.Key{MarketID: market.ID, Outcome: outcome}
	defer func() {
		if r := recover(); r != nil {
			orchLog.Errorf("strategy %s panicked on %s: %v", rt.Config.ID, key, r)
			o.bus.Publish(events.EvaluationErrorEvent{
				StrategyID: rt.Config.ID,
				Key:        key,
				Err:        fmt.Sprintf("panic: %v", r),
				Timestamp:  now,
			})
		}
	}()

	if rt.InCooldown(market.ID, now) {
		return
	}
	quote, ok := o.feed.GetPrice(market.ID, outcome)
	if !ok {
		return
	}

	o.mu.Lock()
	signals := append([]Signal(nil), rt.Signals...)
	var buf *BarBuffer
	if byKey := o.bars[rt.Config.ID]; byKey != nil {
		buf = byKey[key]
	}
	o.mu.Unlock()
	var bars []domain.PriceBar
	if buf != nil {
		bars = buf.Bars()
	}

	sctx := &Context{
		Now:         now,
		Market:      market,
		Outcome:     outcome,
		Quote:       quote,
		Bars:        bars,
		RecentFills: o.recentFills(key, 20),
	}

	var outputs []*domain.SignalOutput
	for _, sig := range signals {
		out, err := sig.Compute(ctx, sctx)
		if err != nil {
			orchLog.Errorf("signal %s failed for %s on %s: %v", sig.Name(), rt.Config.ID, key, err)
			o.bus.Publish(events.EvaluationErrorEvent{
				StrategyID: rt.Config.ID,
				Key:        key,
				Err:        fmt.Sprintf("signal %s: %v", sig.Name(), err),
				Timestamp:  now,
			})
			return
		}
		if out != nil {
			outputs = append(outputs, out)
		}
	}
	if len(outputs) == 0 {
		return
	}

	combined := o.combiner.Combine(outputs)
	if combined == nil {
		return
	}
	combined.Price = impliedPrice(combined.Direction, quote)
	rt.LastSignalTime = now
	o.bus.Publish(events.SignalGeneratedEvent{
		StrategyID: rt.Config.ID,
		Key:        key,
		Signal:     combined,
		Timestamp:  now,
	})

	// execution gate
	if !combined.Actionable() ||
		abs(combined.Strength) < rt.Config.MinEdge ||
		combined.Confidence < rt.Config.MinConfidence {
		orchLog.Debugf("signal below gate for %s on %s: strength=%.3f conf=%.3f",
			rt.Config.ID, key, combined.Strength, combined.Confidence)
		return
	}

	state := o.engine.PortfolioState()
	if state.Equity > rt.PeakEquity {
		rt.PeakEquity = state.Equity
	}
	if v := risk.Check(rt.Config.Risk, risk.Snapshot{
		OpenPositions: state.OpenPositionCount(),
		DailyPnL:      rt.DailyPnL(state.TotalPnL()),
		Equity:        state.Equity,
		PeakEquity:    rt.PeakEquity,
	}); v != nil {
		o.bus.Publish(events.RiskTriggeredEvent{
			StrategyID: rt.Config.ID,
			Key:        key,
			Limit:      v.Limit,
			Value:      v.Value,
			Threshold:  v.Threshold,
			Timestamp:  now,
		})
		o.bus.Publish(events.TradeSkippedEvent{
			StrategyID: rt.Config.ID,
			Key:        key,
			Reason:     SkipReasonRiskBlocked + ": " + v.Limit,
			Timestamp:  now,
		})
		return
	}

	shares := sizing.Shares(rt.Config.Sizing, state.Equity, combined.Price, combined.Confidence)
	if shares <= 0 {
		o.bus.Publish(events.TradeSkippedEvent{
			StrategyID: rt.Config.ID,
			Key:        key,
			Reason:     SkipReasonBelowMin,
			Timestamp:  now,
		})
		return
	}

	side := domain.SideBuy
	if combined.Direction == domain.DirectionShort {
		// No shorting: a short signal reduces an existing long.
		side = domain.SideSell
		pos := findPosition(state, key)
		if pos == nil || pos.Size <= 0 {
			o.bus.Publish(events.TradeSkippedEvent{
				StrategyID: rt.Config.ID,
				Key:        key,
				Reason:     SkipReasonNoPosition,
				Timestamp:  now,
			})
			return
		}
		if shares > pos.Size {
			shares = pos.Size
		}
	}

	order := o.submitWithRetry(rt, key, side, shares, combined.Price)
	if order == nil || order.Status == domain.OrderStatusRejected {
		status := domain.OrderStatus("")
		reason := SkipReasonRejected
		if order != nil {
			status = order.Status
			reason = SkipReasonRejected + ": " + order.Reason
		}
		o.bus.Publish(events.TradeSkippedEvent{
			StrategyID: rt.Config.ID,
			Key:        key,
			Reason:     reason,
			Status:     status,
			Timestamp:  now,
		})
		return
	}

	rt.LastTradeTime = now
	rt.TradesToday++
	rt.Cooldowns[market.ID] = now
	o.bus.Publish(events.TradeExecutedEvent{
		StrategyID: rt.Config.ID,
		Order:      order,
		Timestamp:  now,
	})
	orchLog.Infof("trade executed: strategy=%s key=%s side=%s size=%.2f status=%s",
		rt.Config.ID, key, side, shares, order.Status)
}

// submitWithRetry places the order, shrinking a buy that bounces off the
// affordability check. MaxRetries bounds the extra attempts.
func (o *Orchestrator) submitWithRetry(rt *Runtime, key domain.Key, side domain.Side, shares, price float64) *domain.Order {
	req := execution.OrderRequest{
		Key:        key,
		Type:       rt.Config.OrderType,
		Side:       side,
		Size:       shares,
		StrategyID: rt.Config.ID,
	}
	if rt.Config.OrderType == domain.OrderTypeLimit {
		req.LimitPrice = price
	}

	order := o.engine.SubmitOrder(req)
	for attempt := 0; attempt < rt.Config.MaxRetries; attempt++ {
		if order.Status != domain.OrderStatusRejected ||
			order.Reason != execution.ReasonInsufficientFunds ||
			side != domain.SideBuy {
			break
		}
		req.Size /= 2
		if req.Size*price < rt.Config.Sizing.MinOrderValue {
			break
		}
		order = o.engine.SubmitOrder(req)
	}
	return order
}

// SaveState persists every runtime snapshot through the given service.
func (o *Orchestrator) SaveState(svc persistence.Service) {
	if svc == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, rt := range o.strategies {
		snap := rt.Export()
		if err := svc.NewStore("strategy", id, "runtime").Save(&snap); err != nil {
			orchLog.Warnf("save state for %s failed: %v", id, err)
		}
	}
}

// LoadState restores previously saved runtime snapshots. Missing state is
// not an error.
func (o *Orchestrator) LoadState(svc persistence.Service) {
	if svc == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, rt := range o.strategies {
		var snap Snapshot
		err := svc.NewStore("strategy", id, "runtime").Load(&snap)
		if err != nil {
			if err != persistence.ErrNotExists {
				orchLog.Warnf("load state for %s failed: %v", id, err)
			}
			continue
		}
		rt.Restore(snap)
	}
}

func (o *Orchestrator) recentFills(key domain.Key, limit int) []*domain.Fill {
	all := o.engine.Fills()
	var out []*domain.Fill
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if all[i].Key == key {
			out = append(out, all[i])
		}
	}
	return out
}

func impliedPrice(dir domain.Direction, quote domain.Quote) float64 {
	switch dir {
	case domain.DirectionLong:
		if quote.Ask > 0 {
			return quote.Ask
		}
	case domain.DirectionShort:
		if quote.Bid > 0 {
			return quote.Bid
		}
	}
	return quote.Mid()
}

func findPosition(state *domain.PortfolioState, key domain.Key) *domain.Position {
	for _, pos := range state.Positions {
		if pos.Key == key {
			return pos
		}
	}
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
