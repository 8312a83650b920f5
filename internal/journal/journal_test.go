package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/betbot/papertrade/internal/domain"
	"github.com/betbot/papertrade/internal/events"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalUpsertsOrderAcrossLifecycle(t *testing.T) {
	j := openTestJournal(t)
	now := time.Now()
	key := domain.Key{MarketID: "m1", Outcome: "YES"}

	order := &domain.Order{
		ID: "o1", Key: key, Type: domain.OrderTypeMarket, Side: domain.SideBuy,
		Size: 100, Status: domain.OrderStatusOpen, CreatedAt: now, UpdatedAt: now,
	}
	j.handle(events.OrderCreatedEvent{Order: order, Timestamp: now})

	order.Status = domain.OrderStatusFilled
	order.FilledSize = 100
	order.AvgFillPrice = 0.42
	fill := &domain.Fill{
		ID: "f1", OrderID: "o1", Key: key, Side: domain.SideBuy,
		Price: 0.42, Size: 100, Fee: 0.084, Timestamp: now,
	}
	j.handle(events.OrderFilledEvent{Order: order, Fill: fill, Timestamp: now})

	var n int
	if err := j.db.QueryRow("SELECT COUNT(*) FROM orders").Scan(&n); err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if n != 1 {
		t.Fatalf("orders = %d, want 1 (upsert, not insert)", n)
	}

	var status string
	var filled float64
	if err := j.db.QueryRow("SELECT status, filled_size FROM orders WHERE id = ?", "o1").
		Scan(&status, &filled); err != nil {
		t.Fatalf("select order: %v", err)
	}
	if status != "filled" || filled != 100 {
		t.Fatalf("order row = %s/%.2f, want filled/100", status, filled)
	}

	if err := j.db.QueryRow("SELECT COUNT(*) FROM fills").Scan(&n); err != nil {
		t.Fatalf("count fills: %v", err)
	}
	if n != 1 {
		t.Fatalf("fills = %d, want 1", n)
	}
}

func TestJournalRecordsStrategyEvents(t *testing.T) {
	j := openTestJournal(t)
	now := time.Now()
	key := domain.Key{MarketID: "m1", Outcome: "YES"}

	j.handle(events.TradeSkippedEvent{StrategyID: "s1", Key: key, Reason: "risk limit", Timestamp: now})
	j.handle(events.RiskTriggeredEvent{StrategyID: "s1", Key: key, Limit: "maxDailyLoss", Timestamp: now})
	j.handle(events.EvaluationErrorEvent{StrategyID: "s1", Key: key, Err: "boom", Timestamp: now})
	j.handle("not an event") // unknown payloads are ignored

	var n int
	if err := j.db.QueryRow("SELECT COUNT(*) FROM strategy_events").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("strategy events = %d, want 3", n)
	}

	var kind, detail string
	if err := j.db.QueryRow(
		"SELECT kind, detail FROM strategy_events WHERE kind = 'risk_triggered'").
		Scan(&kind, &detail); err != nil {
		t.Fatalf("select: %v", err)
	}
	if detail != "maxDailyLoss" {
		t.Fatalf("detail = %q, want maxDailyLoss", detail)
	}
}
