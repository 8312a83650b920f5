// Package journal persists the engine's event stream to SQLite. It is an
// ordinary event-bus subscriber: the core never depends on it.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/betbot/papertrade/internal/domain"
	"github.com/betbot/papertrade/internal/events"
)

var journalLog = logrus.WithField("component", "journal")

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id          TEXT PRIMARY KEY,
	market_id   TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	type        TEXT NOT NULL,
	side        TEXT NOT NULL,
	size        REAL NOT NULL,
	limit_price REAL,
	stop_price  REAL,
	status      TEXT NOT NULL,
	filled_size REAL NOT NULL,
	avg_price   REAL NOT NULL,
	reason      TEXT,
	strategy_id TEXT,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS fills (
	id        TEXT PRIMARY KEY,
	order_id  TEXT NOT NULL,
	market_id TEXT NOT NULL,
	outcome   TEXT NOT NULL,
	side      TEXT NOT NULL,
	price     REAL NOT NULL,
	size      REAL NOT NULL,
	fee       REAL NOT NULL,
	ts        TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS strategy_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy_id TEXT NOT NULL,
	kind        TEXT NOT NULL,
	market_id   TEXT,
	outcome     TEXT,
	detail      TEXT,
	ts          TIMESTAMP NOT NULL
);
`

// Journal writes orders, fills and strategy events as they happen.
type Journal struct {
	db *sql.DB
}

func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Attach subscribes the journal to the bus.
func (j *Journal) Attach(bus *events.Bus) {
	bus.Subscribe(j.handle)
}

func (j *Journal) handle(event any) {
	var err error
	switch ev := event.(type) {
	case events.OrderCreatedEvent:
		err = j.upsertOrder(ev.Order)
	case events.OrderRejectedEvent:
		err = j.upsertOrder(ev.Order)
	case events.OrderCancelledEvent:
		err = j.upsertOrder(ev.Order)
	case events.OrderFilledEvent:
		if err = j.upsertOrder(ev.Order); err == nil {
			err = j.insertFill(ev.Fill)
		}
	case events.TradeExecutedEvent:
		err = j.insertStrategyEvent(ev.StrategyID, "trade_executed", ev.Order.Key, ev.Order.ID, ev.Timestamp)
	case events.TradeSkippedEvent:
		err = j.insertStrategyEvent(ev.StrategyID, "trade_skipped", ev.Key, ev.Reason, ev.Timestamp)
	case events.RiskTriggeredEvent:
		err = j.insertStrategyEvent(ev.StrategyID, "risk_triggered", ev.Key, ev.Limit, ev.Timestamp)
	case events.EvaluationErrorEvent:
		err = j.insertStrategyEvent(ev.StrategyID, "evaluation_error", ev.Key, ev.Err, ev.Timestamp)
	}
	if err != nil {
		journalLog.Warnf("journal write failed: %v", err)
	}
}

func (j *Journal) upsertOrder(o *domain.Order) error {
	_, err := j.db.Exec(`
INSERT INTO orders (id, market_id, outcome, type, side, size, limit_price, stop_price,
	status, filled_size, avg_price, reason, strategy_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status = excluded.status,
	filled_size = excluded.filled_size,
	avg_price = excluded.avg_price,
	reason = excluded.reason,
	updated_at = excluded.updated_at`,
		o.ID, o.Key.MarketID, o.Key.Outcome, string(o.Type), string(o.Side),
		o.Size, o.LimitPrice, o.StopPrice, string(o.Status), o.FilledSize,
		o.AvgFillPrice, o.Reason, o.StrategyID, o.CreatedAt, o.UpdatedAt)
	return err
}

func (j *Journal) insertFill(f *domain.Fill) error {
	_, err := j.db.Exec(`
INSERT INTO fills (id, order_id, market_id, outcome, side, price, size, fee, ts)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.OrderID, f.Key.MarketID, f.Key.Outcome, string(f.Side),
		f.Price, f.Size, f.Fee, f.Timestamp)
	return err
}

func (j *Journal) insertStrategyEvent(strategyID, kind string, key domain.Key, detail string, ts time.Time) error {
	_, err := j.db.Exec(`
INSERT INTO strategy_events (strategy_id, kind, market_id, outcome, detail, ts)
VALUES (?, ?, ?, ?, ?, ?)`,
		strategyID, kind, key.MarketID, key.Outcome, detail, ts)
	return err
}
