package strategy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/betbot/papertrade/internal/domain"
	"github.com/betbot/papertrade/internal/events"
	"github.com/betbot/papertrade/internal/execution"
	"github.com/betbot/papertrade/internal/feed"
	"github.com/betbot/papertrade/internal/risk"
	"github.com/betbot/papertrade/internal/sizing"
)

type busRecorder struct {
	mu     sync.Mutex
	events []any
}

func (r *busRecorder) record(ev any) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *busRecorder) all() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.events...)
}

func (r *busRecorder) countOf(match func(any) bool) int {
	n := 0
	for _, ev := range r.all() {
		if match(ev) {
			n++
		}
	}
	return n
}

func (r *busRecorder) trades() int {
	return r.countOf(func(ev any) bool { _, ok := ev.(events.TradeExecutedEvent); return ok })
}

type stubSignal struct {
	name string
	fn   func(sctx *Context) (*domain.SignalOutput, error)
}

func (s stubSignal) Name() string { return s.name }

func (s stubSignal) Compute(_ context.Context, sctx *Context) (*domain.SignalOutput, error) {
	return s.fn(sctx)
}

func longSignal(strength, confidence float64) stubSignal {
	return stubSignal{name: "stub_long", fn: func(*Context) (*domain.SignalOutput, error) {
		return &domain.SignalOutput{
			Name: "stub_long", Direction: domain.DirectionLong,
			Strength: strength, Confidence: confidence,
		}, nil
	}}
}

func testMarket(id string) *domain.Market {
	return &domain.Market{ID: id, Outcomes: []string{"YES"}, Active: true}
}

func testStrategyConfig() Config {
	return Config{
		ID:         "s1",
		Cooldown:   time.Hour,
		MaxRetries: 3,
		Sizing:     sizing.Config{MaxPositionPct: 0.05},
	}
}

type orchFixture struct {
	engine *execution.Engine
	feed   *feed.SimFeed
	orch   *Orchestrator
	rec    *busRecorder
}

func newOrchFixture(t *testing.T, engCfg execution.Config, cfg Config, markets ...*domain.Market) *orchFixture {
	t.Helper()

	rec := &busRecorder{}
	bus := events.NewBus()
	bus.Subscribe(rec.record)

	eng := execution.NewEngine(engCfg, bus)
	f := feed.NewSimFeed()
	orch := NewOrchestrator(eng, f, bus, nil, time.Second)
	for _, m := range markets {
		f.AddMarket(m)
		for _, outcome := range m.Outcomes {
			f.Subscribe(m.ID, outcome, eng.OnPriceTick)
			f.Subscribe(m.ID, outcome, orch.OnPriceTick)
		}
	}

	if err := orch.Register(cfg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := orch.Start(cfg.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	return &orchFixture{engine: eng, feed: f, orch: orch, rec: rec}
}

func (fx *orchFixture) addSignal(t *testing.T, id string, s Signal) {
	t.Helper()
	if err := fx.orch.AddSignal(id, s); err != nil {
		t.Fatalf("add signal to %s: %v", id, err)
	}
}

func TestEvaluateExecutesTrade(t *testing.T) {
	fx := newOrchFixture(t, execution.Config{InitialCash: 10000}, testStrategyConfig(), testMarket("m1"))
	fx.addSignal(t, "s1", longSignal(0.8, 0.8))
	fx.feed.Push("m1", "YES", domain.Quote{Bid: 0.48, Ask: 0.50, Last: 0.49})

	fx.orch.EvaluateAll(context.Background())

	if got := fx.rec.trades(); got != 1 {
		t.Fatalf("expected 1 trade, got %d", got)
	}
	state := fx.engine.PortfolioState()
	if len(state.Positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(state.Positions))
	}
	// 5% of 10000 equity at the 0.50 ask.
	if state.Positions[0].Size != 1000 {
		t.Fatalf("position size = %.2f, want 1000", state.Positions[0].Size)
	}

	rt, _ := fx.orch.Runtime("s1")
	if rt.TradesToday != 1 {
		t.Fatalf("trades today = %d, want 1", rt.TradesToday)
	}
	if rt.LastTradeTime.IsZero() {
		t.Fatal("last trade time not set")
	}
	if _, ok := rt.Cooldowns["m1"]; !ok {
		t.Fatal("cooldown not armed after an executed trade")
	}
}

func TestCooldownPreventsImmediateReentry(t *testing.T) {
	fx := newOrchFixture(t, execution.Config{InitialCash: 10000}, testStrategyConfig(), testMarket("m1"))
	fx.addSignal(t, "s1", longSignal(0.8, 0.8))
	fx.feed.Push("m1", "YES", domain.Quote{Bid: 0.48, Ask: 0.50, Last: 0.49})

	fx.orch.EvaluateAll(context.Background())
	fx.orch.EvaluateAll(context.Background())

	if got := fx.rec.trades(); got != 1 {
		t.Fatalf("two ticks inside the cooldown should yield 1 trade, got %d", got)
	}
	generated := fx.rec.countOf(func(ev any) bool { _, ok := ev.(events.SignalGeneratedEvent); return ok })
	if generated != 1 {
		t.Fatalf("cooled-down market must not even be signalled, got %d", generated)
	}
}

func TestSignalBelowGateDoesNotTrade(t *testing.T) {
	fx := newOrchFixture(t, execution.Config{InitialCash: 10000}, testStrategyConfig(), testMarket("m1"))
	fx.addSignal(t, "s1", longSignal(0.05, 0.8)) // below the 0.1 MinEdge default
	fx.feed.Push("m1", "YES", domain.Quote{Bid: 0.48, Ask: 0.50, Last: 0.49})

	fx.orch.EvaluateAll(context.Background())

	if got := fx.rec.trades(); got != 0 {
		t.Fatalf("sub-threshold signal traded %d times", got)
	}
	generated := fx.rec.countOf(func(ev any) bool { _, ok := ev.(events.SignalGeneratedEvent); return ok })
	if generated != 1 {
		t.Fatalf("signal should still be published, got %d", generated)
	}
}

func TestDailyLossLimitBlocksTrade(t *testing.T) {
	cfg := testStrategyConfig()
	cfg.Risk = risk.Limits{MaxDailyLoss: 50}
	fx := newOrchFixture(t, execution.Config{InitialCash: 10000}, cfg, testMarket("m1"))
	fx.addSignal(t, "s1", longSignal(0.8, 0.8))
	fx.feed.Push("m1", "YES", domain.Quote{Bid: 0.48, Ask: 0.50, Last: 0.49})

	// Seed today's baseline 60 above the current total PnL of 0.
	rt, _ := fx.orch.Runtime("s1")
	rt.DayKey = time.Now().UTC().Format("2006-01-02")
	rt.DayBaseline = 60

	fx.orch.EvaluateAll(context.Background())

	if got := fx.rec.trades(); got != 0 {
		t.Fatalf("risk-blocked strategy traded %d times", got)
	}
	triggered := 0
	for _, ev := range fx.rec.all() {
		if r, ok := ev.(events.RiskTriggeredEvent); ok {
			triggered++
			if r.Limit != risk.LimitMaxDailyLoss {
				t.Fatalf("limit = %q, want %q", r.Limit, risk.LimitMaxDailyLoss)
			}
		}
	}
	if triggered != 1 {
		t.Fatalf("expected 1 risk-triggered event, got %d", triggered)
	}
	skipped := fx.rec.countOf(func(ev any) bool { _, ok := ev.(events.TradeSkippedEvent); return ok })
	if skipped != 1 {
		t.Fatalf("expected 1 trade-skipped event, got %d", skipped)
	}
}

func TestShortWithoutPositionSkips(t *testing.T) {
	fx := newOrchFixture(t, execution.Config{InitialCash: 10000}, testStrategyConfig(), testMarket("m1"))
	fx.addSignal(t, "s1", stubSignal{name: "stub_short", fn: func(*Context) (*domain.SignalOutput, error) {
		return &domain.SignalOutput{
			Name: "stub_short", Direction: domain.DirectionShort,
			Strength: 0.8, Confidence: 0.8,
		}, nil
	}})
	fx.feed.Push("m1", "YES", domain.Quote{Bid: 0.48, Ask: 0.50, Last: 0.49})

	fx.orch.EvaluateAll(context.Background())

	if got := fx.rec.trades(); got != 0 {
		t.Fatalf("short without a long traded %d times", got)
	}
	found := false
	for _, ev := range fx.rec.all() {
		if s, ok := ev.(events.TradeSkippedEvent); ok && s.Reason == SkipReasonNoPosition {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a no-position skip event")
	}
}

func TestShortSignalReducesExistingLong(t *testing.T) {
	fx := newOrchFixture(t, execution.Config{InitialCash: 10000}, testStrategyConfig(), testMarket("m1"))
	fx.feed.Push("m1", "YES", domain.Quote{Bid: 0.48, Ask: 0.50, Last: 0.49})

	// Existing long from outside the strategy loop.
	key := domain.Key{MarketID: "m1", Outcome: "YES"}
	buy := fx.engine.SubmitOrder(execution.OrderRequest{
		Key: key, Type: domain.OrderTypeMarket, Side: domain.SideBuy, Size: 100,
	})
	if buy.Status != domain.OrderStatusFilled {
		t.Fatalf("setup buy failed: %s %q", buy.Status, buy.Reason)
	}

	fx.addSignal(t, "s1", stubSignal{name: "stub_short", fn: func(*Context) (*domain.SignalOutput, error) {
		return &domain.SignalOutput{
			Name: "stub_short", Direction: domain.DirectionShort,
			Strength: 0.9, Confidence: 0.9,
		}, nil
	}})
	fx.orch.EvaluateAll(context.Background())

	if got := fx.rec.trades(); got != 1 {
		t.Fatalf("expected 1 reducing trade, got %d", got)
	}
	// Sized shares exceed the 100-share long, so the sell clamps and closes it.
	state := fx.engine.PortfolioState()
	if len(state.Positions) != 0 {
		t.Fatalf("long should be fully closed, %d positions remain", len(state.Positions))
	}
}

func TestEvaluationErrorIsolatedPerContract(t *testing.T) {
	fx := newOrchFixture(t, execution.Config{InitialCash: 10000}, testStrategyConfig(),
		testMarket("m1"), testMarket("m2"))
	fx.addSignal(t, "s1", stubSignal{name: "flaky", fn: func(sctx *Context) (*domain.SignalOutput, error) {
		if sctx.Market.ID == "m1" {
			return nil, fmt.Errorf("upstream data gap")
		}
		return &domain.SignalOutput{
			Name: "flaky", Direction: domain.DirectionLong,
			Strength: 0.8, Confidence: 0.8,
		}, nil
	}})
	fx.feed.Push("m1", "YES", domain.Quote{Bid: 0.48, Ask: 0.50, Last: 0.49})
	fx.feed.Push("m2", "YES", domain.Quote{Bid: 0.38, Ask: 0.40, Last: 0.39})

	fx.orch.EvaluateAll(context.Background())

	if got := fx.rec.trades(); got != 1 {
		t.Fatalf("healthy market should still trade, got %d trades", got)
	}
	errs := 0
	for _, ev := range fx.rec.all() {
		if e, ok := ev.(events.EvaluationErrorEvent); ok {
			errs++
			if e.Key.MarketID != "m1" {
				t.Fatalf("error attributed to %s, want m1", e.Key.MarketID)
			}
		}
	}
	if errs != 1 {
		t.Fatalf("expected 1 evaluation error, got %d", errs)
	}
}

func TestSignalPanicIsContained(t *testing.T) {
	fx := newOrchFixture(t, execution.Config{InitialCash: 10000}, testStrategyConfig(),
		testMarket("m1"), testMarket("m2"))
	fx.addSignal(t, "s1", stubSignal{name: "bomb", fn: func(sctx *Context) (*domain.SignalOutput, error) {
		if sctx.Market.ID == "m1" {
			panic("index out of range")
		}
		return &domain.SignalOutput{
			Name: "bomb", Direction: domain.DirectionLong,
			Strength: 0.8, Confidence: 0.8,
		}, nil
	}})
	fx.feed.Push("m1", "YES", domain.Quote{Bid: 0.48, Ask: 0.50, Last: 0.49})
	fx.feed.Push("m2", "YES", domain.Quote{Bid: 0.38, Ask: 0.40, Last: 0.39})

	fx.orch.EvaluateAll(context.Background()) // must not panic

	if got := fx.rec.trades(); got != 1 {
		t.Fatalf("panic on m1 must not stop m2, got %d trades", got)
	}
	found := false
	for _, ev := range fx.rec.all() {
		if e, ok := ev.(events.EvaluationErrorEvent); ok && strings.Contains(e.Err, "panic") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a panic evaluation-error event")
	}
}

func TestSubmitRetryHalvesUnaffordableBuy(t *testing.T) {
	cfg := testStrategyConfig()
	cfg.Sizing = sizing.Config{MaxPositionPct: 1}
	fx := newOrchFixture(t, execution.Config{InitialCash: 100, FeeRate: 0.01}, cfg, testMarket("m1"))
	fx.addSignal(t, "s1", longSignal(0.8, 0.8))
	fx.feed.Push("m1", "YES", domain.Quote{Bid: 0.48, Ask: 0.50, Last: 0.49})

	fx.orch.EvaluateAll(context.Background())

	// Full equity sizing wants 200 shares (101 dollars with fee); the
	// halved retry at 100 shares clears.
	if got := fx.rec.trades(); got != 1 {
		t.Fatalf("expected the halved retry to execute, got %d trades", got)
	}
	fills := fx.engine.Fills()
	if len(fills) != 1 || fills[0].Size != 100 {
		t.Fatalf("fills = %+v, want one 100-share fill", fills)
	}
}

func TestRegisterDuplicateKeepsOriginalRuntime(t *testing.T) {
	fx := newOrchFixture(t, execution.Config{InitialCash: 10000}, testStrategyConfig(), testMarket("m1"))

	rt, _ := fx.orch.Runtime("s1")
	rt.TradesToday = 5

	if err := fx.orch.Register(testStrategyConfig()); err != nil {
		t.Fatalf("duplicate register should be a no-op, got %v", err)
	}
	rt2, _ := fx.orch.Runtime("s1")
	if rt2.TradesToday != 5 {
		t.Fatal("duplicate register replaced the live runtime")
	}
}

func TestStartUnknownStrategy(t *testing.T) {
	fx := newOrchFixture(t, execution.Config{InitialCash: 10000}, testStrategyConfig(), testMarket("m1"))
	if err := fx.orch.Start("nope"); err == nil {
		t.Fatal("starting an unregistered strategy must fail")
	}
}

func TestStoppedStrategyIsNotEvaluated(t *testing.T) {
	fx := newOrchFixture(t, execution.Config{InitialCash: 10000}, testStrategyConfig(), testMarket("m1"))
	fx.addSignal(t, "s1", longSignal(0.8, 0.8))
	fx.feed.Push("m1", "YES", domain.Quote{Bid: 0.48, Ask: 0.50, Last: 0.49})

	if err := fx.orch.Stop("s1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	fx.orch.EvaluateAll(context.Background())

	if got := fx.rec.trades(); got != 0 {
		t.Fatalf("stopped strategy traded %d times", got)
	}
}

func TestFaultySignalScopedToOwningStrategy(t *testing.T) {
	fx := newOrchFixture(t, execution.Config{InitialCash: 10000}, testStrategyConfig(), testMarket("m1"))
	fx.addSignal(t, "s1", longSignal(0.8, 0.8))

	bad := testStrategyConfig()
	bad.ID = "s2"
	if err := fx.orch.Register(bad, stubSignal{name: "bomb", fn: func(*Context) (*domain.SignalOutput, error) {
		panic("nil map write")
	}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := fx.orch.Start("s2"); err != nil {
		t.Fatalf("start: %v", err)
	}
	fx.feed.Push("m1", "YES", domain.Quote{Bid: 0.48, Ask: 0.50, Last: 0.49})

	fx.orch.EvaluateAll(context.Background())

	if got := fx.rec.trades(); got != 1 {
		t.Fatalf("healthy strategy must still trade on the shared market, got %d trades", got)
	}
	for _, ev := range fx.rec.all() {
		switch e := ev.(type) {
		case events.TradeExecutedEvent:
			if e.StrategyID != "s1" {
				t.Fatalf("trade attributed to %s, want s1", e.StrategyID)
			}
		case events.EvaluationErrorEvent:
			if e.StrategyID != "s2" {
				t.Fatalf("error attributed to %s, want s2", e.StrategyID)
			}
		}
	}
	errs := fx.rec.countOf(func(ev any) bool { _, ok := ev.(events.EvaluationErrorEvent); return ok })
	if errs != 1 {
		t.Fatalf("expected 1 evaluation error, got %d", errs)
	}
}

func TestOverlappingEvaluationTickSkipped(t *testing.T) {
	fx := newOrchFixture(t, execution.Config{InitialCash: 10000}, testStrategyConfig(), testMarket("m1"))

	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	fx.addSignal(t, "s1", stubSignal{name: "slow", fn: func(*Context) (*domain.SignalOutput, error) {
		if calls.Add(1) == 1 {
			entered <- struct{}{}
			<-release
		}
		return nil, nil
	}})
	fx.feed.Push("m1", "YES", domain.Quote{Bid: 0.48, Ask: 0.50, Last: 0.49})

	done := make(chan struct{})
	go func() {
		fx.orch.EvaluateAll(context.Background())
		close(done)
	}()
	<-entered

	// Second tick arrives while the first is still mid-signal.
	fx.orch.EvaluateAll(context.Background())

	close(release)
	<-done
	if got := calls.Load(); got != 1 {
		t.Fatalf("overlapping tick evaluated, signal ran %d times", got)
	}
}

func TestBarIntervalIsPerStrategy(t *testing.T) {
	fast := testStrategyConfig()
	fast.ID = "fast"
	fast.BarInterval = 10 * time.Second
	fx := newOrchFixture(t, execution.Config{InitialCash: 10000}, fast, testMarket("m1"))

	slow := testStrategyConfig()
	slow.ID = "slow"
	slow.BarInterval = time.Minute
	if err := fx.orch.Register(slow); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := fx.orch.Start("slow"); err != nil {
		t.Fatalf("start: %v", err)
	}

	fastBars, slowBars := -1, -1
	fx.addSignal(t, "fast", stubSignal{name: "count_fast", fn: func(sctx *Context) (*domain.SignalOutput, error) {
		fastBars = len(sctx.Bars)
		return nil, nil
	}})
	fx.addSignal(t, "slow", stubSignal{name: "count_slow", fn: func(sctx *Context) (*domain.SignalOutput, error) {
		slowBars = len(sctx.Bars)
		return nil, nil
	}})

	base := time.Now().Truncate(time.Minute)
	fx.feed.Push("m1", "YES", domain.Quote{Bid: 0.48, Ask: 0.50, Last: 0.49, Timestamp: base})
	fx.feed.Push("m1", "YES", domain.Quote{Bid: 0.49, Ask: 0.51, Last: 0.50, Timestamp: base.Add(30 * time.Second)})

	fx.orch.EvaluateAll(context.Background())

	// 30 seconds apart: two 10s bars for the fast strategy, one 1m bar
	// for the slow one.
	if fastBars != 2 {
		t.Fatalf("fast strategy saw %d bars, want 2", fastBars)
	}
	if slowBars != 1 {
		t.Fatalf("slow strategy saw %d bars, want 1", slowBars)
	}
}
