package strategy

import (
	"fmt"
	"time"

	"github.com/betbot/papertrade/internal/domain"
	"github.com/betbot/papertrade/internal/risk"
	"github.com/betbot/papertrade/internal/sizing"
)

// MarketFilter is the declarative market eligibility filter of a strategy.
// Zero values disable the corresponding condition.
type MarketFilter struct {
	MinVolume       float64 `yaml:"minVolume"`
	MinLiquidity    float64 `yaml:"minLiquidity"`
	MinDaysToExpiry float64 `yaml:"minDaysToExpiry"`
	MaxDaysToExpiry float64 `yaml:"maxDaysToExpiry"`
}

// Matches reports whether the market passes the filter at the given time.
func (f MarketFilter) Matches(m *domain.Market, now time.Time) bool {
	if !m.Active {
		return false
	}
	if f.MinVolume > 0 && m.Volume24h < f.MinVolume {
		return false
	}
	if f.MinLiquidity > 0 && m.Liquidity < f.MinLiquidity {
		return false
	}
	days := m.DaysToExpiry(now)
	if f.MinDaysToExpiry > 0 && days < f.MinDaysToExpiry {
		return false
	}
	if f.MaxDaysToExpiry > 0 && days > f.MaxDaysToExpiry {
		return false
	}
	return true
}

// Config is the closed per-strategy configuration.
type Config struct {
	ID            string           `yaml:"id"`
	Filter        MarketFilter     `yaml:"filter"`
	OrderType     domain.OrderType `yaml:"orderType"`
	MinEdge       float64          `yaml:"minEdge"`       // |strength| floor
	MinConfidence float64          `yaml:"minConfidence"` // confidence floor
	Cooldown      time.Duration    `yaml:"cooldown"`      // per-market trade gap
	MaxRetries    int              `yaml:"maxRetries"`    // extra submit attempts
	BarInterval   time.Duration    `yaml:"barInterval"`   // tick coalescing window
	BarCapacity   int              `yaml:"barCapacity"`
	Risk          risk.Limits      `yaml:"risk"`
	Sizing        sizing.Config    `yaml:"sizing"`
}

// ApplyDefaults fills unset fields with sane defaults.
func (c *Config) ApplyDefaults() {
	if c.OrderType == "" {
		c.OrderType = domain.OrderTypeMarket
	}
	if c.MinEdge == 0 {
		c.MinEdge = 0.1
	}
	if c.MinConfidence == 0 {
		c.MinConfidence = 0.3
	}
	if c.Cooldown == 0 {
		c.Cooldown = 5 * time.Minute
	}
	if c.BarInterval == 0 {
		c.BarInterval = time.Minute
	}
	if c.BarCapacity == 0 {
		c.BarCapacity = 120
	}
	if c.Sizing.MaxPositionPct == 0 {
		c.Sizing.MaxPositionPct = 0.05
	}
	if c.Sizing.KellyMultiplier == 0 {
		c.Sizing.KellyMultiplier = 0.5
	}
}

// Validate rejects configs the orchestrator cannot run.
func (c *Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("strategy id is required")
	}
	switch c.OrderType {
	case domain.OrderTypeMarket, domain.OrderTypeLimit:
	default:
		return fmt.Errorf("strategy %s: unsupported entry order type %q", c.ID, c.OrderType)
	}
	if c.MinEdge < 0 || c.MinEdge > 1 {
		return fmt.Errorf("strategy %s: minEdge out of range", c.ID)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("strategy %s: minConfidence out of range", c.ID)
	}
	if c.Sizing.MaxPositionPct <= 0 || c.Sizing.MaxPositionPct > 1 {
		return fmt.Errorf("strategy %s: maxPositionPct out of range", c.ID)
	}
	return nil
}

// Runtime is the orchestrator-owned mutable bookkeeping of one registered
// strategy. Created on registration, destroyed on unregistration. The
// orchestrator never mutates the ledger through it.
type Runtime struct {
	Config    Config
	IsRunning bool

	// Signals owned by this strategy, wired at registration. Not part of
	// the persisted snapshot.
	Signals []Signal

	LastSignalTime time.Time
	LastTradeTime  time.Time

	// daily bookkeeping, reset on UTC date rollover
	DayKey       string  // "2006-01-02" in UTC
	DayBaseline  float64 // total PnL at day start
	TradesToday  int
	PeakEquity   float64

	// marketID -> time of the last executed trade (evaluations alone
	// never touch this)
	Cooldowns map[string]time.Time
}

func NewRuntime(cfg Config) *Runtime {
	return &Runtime{
		Config:    cfg,
		Cooldowns: make(map[string]time.Time),
	}
}

// RolloverDay resets the daily baseline when the UTC calendar date
// changed. An exact date-string boundary, not a rolling 24h window.
func (r *Runtime) RolloverDay(now time.Time, totalPnL float64) {
	key := now.UTC().Format("2006-01-02")
	if r.DayKey == key {
		return
	}
	r.DayKey = key
	r.DayBaseline = totalPnL
	r.TradesToday = 0
}

// DailyPnL is today's realized+unrealized P&L relative to the baseline.
func (r *Runtime) DailyPnL(totalPnL float64) float64 {
	return totalPnL - r.DayBaseline
}

// InCooldown reports whether the market traded within the cooldown window.
func (r *Runtime) InCooldown(marketID string, now time.Time) bool {
	last, ok := r.Cooldowns[marketID]
	if !ok {
		return false
	}
	return now.Sub(last) < r.Config.Cooldown
}

// Snapshot is the persisted subset of the runtime, saved across restarts.
type Snapshot struct {
	IsRunning      bool                 `json:"isRunning"`
	LastSignalTime time.Time            `json:"lastSignalTime"`
	LastTradeTime  time.Time            `json:"lastTradeTime"`
	DayKey         string               `json:"dayKey"`
	DayBaseline    float64              `json:"dayBaseline"`
	TradesToday    int                  `json:"tradesToday"`
	PeakEquity     float64              `json:"peakEquity"`
	Cooldowns      map[string]time.Time `json:"cooldowns"`
}

// Export captures the persisted subset.
func (r *Runtime) Export() Snapshot {
	cooldowns := make(map[string]time.Time, len(r.Cooldowns))
	for k, v := range r.Cooldowns {
		cooldowns[k] = v
	}
	return Snapshot{
		IsRunning:      r.IsRunning,
		LastSignalTime: r.LastSignalTime,
		LastTradeTime:  r.LastTradeTime,
		DayKey:         r.DayKey,
		DayBaseline:    r.DayBaseline,
		TradesToday:    r.TradesToday,
		PeakEquity:     r.PeakEquity,
		Cooldowns:      cooldowns,
	}
}

// Restore applies a previously exported snapshot.
func (r *Runtime) Restore(s Snapshot) {
	r.IsRunning = s.IsRunning
	r.LastSignalTime = s.LastSignalTime
	r.LastTradeTime = s.LastTradeTime
	r.DayKey = s.DayKey
	r.DayBaseline = s.DayBaseline
	r.TradesToday = s.TradesToday
	r.PeakEquity = s.PeakEquity
	if s.Cooldowns != nil {
		r.Cooldowns = s.Cooldowns
	}
}
