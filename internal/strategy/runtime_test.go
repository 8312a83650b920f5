package strategy

import (
	"testing"
	"time"
)

func TestRolloverDayResetsBaseline(t *testing.T) {
	rt := NewRuntime(Config{ID: "s1"})
	day1 := time.Date(2026, 3, 1, 23, 50, 0, 0, time.UTC)

	rt.RolloverDay(day1, 100)
	rt.TradesToday = 7
	if rt.DayBaseline != 100 {
		t.Fatalf("baseline = %.2f, want 100", rt.DayBaseline)
	}

	// Same UTC date: nothing changes.
	rt.RolloverDay(day1.Add(5*time.Minute), 140)
	if rt.DayBaseline != 100 || rt.TradesToday != 7 {
		t.Fatal("rollover fired within the same day")
	}

	// Crossing the date boundary resets.
	rt.RolloverDay(day1.Add(15*time.Minute), 140)
	if rt.DayBaseline != 140 {
		t.Fatalf("baseline = %.2f, want 140 after rollover", rt.DayBaseline)
	}
	if rt.TradesToday != 0 {
		t.Fatalf("trades today = %d, want 0 after rollover", rt.TradesToday)
	}
}

func TestDailyPnLRelativeToBaseline(t *testing.T) {
	rt := NewRuntime(Config{ID: "s1"})
	rt.RolloverDay(time.Now(), 50)
	if got := rt.DailyPnL(20); got != -30 {
		t.Fatalf("daily pnl = %.2f, want -30", got)
	}
}

func TestInCooldown(t *testing.T) {
	rt := NewRuntime(Config{ID: "s1", Cooldown: 10 * time.Minute})
	now := time.Now()

	if rt.InCooldown("m1", now) {
		t.Fatal("never traded: no cooldown")
	}
	rt.Cooldowns["m1"] = now
	if !rt.InCooldown("m1", now.Add(9*time.Minute)) {
		t.Fatal("inside the window should be cooling down")
	}
	if rt.InCooldown("m1", now.Add(11*time.Minute)) {
		t.Fatal("past the window should be clear")
	}
	if rt.InCooldown("m2", now) {
		t.Fatal("cooldown is per market")
	}
}

func TestRuntimeSnapshotRoundTrip(t *testing.T) {
	rt := NewRuntime(Config{ID: "s1"})
	rt.IsRunning = true
	rt.DayKey = "2026-03-01"
	rt.DayBaseline = 42
	rt.TradesToday = 3
	rt.PeakEquity = 11000
	rt.Cooldowns["m1"] = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	snap := rt.Export()
	restored := NewRuntime(Config{ID: "s1"})
	restored.Restore(snap)

	if !restored.IsRunning || restored.DayKey != "2026-03-01" ||
		restored.DayBaseline != 42 || restored.TradesToday != 3 ||
		restored.PeakEquity != 11000 {
		t.Fatalf("restored runtime mismatch: %+v", restored)
	}
	if !restored.Cooldowns["m1"].Equal(rt.Cooldowns["m1"]) {
		t.Fatal("cooldowns not restored")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing id must fail validation")
	}

	cfg = Config{ID: "s1", OrderType: "STOP"}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("stop entry orders are not a supported strategy order type")
	}

	cfg = Config{ID: "s1"}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaulted config should validate: %v", err)
	}
	if cfg.OrderType != "MARKET" || cfg.Cooldown != 5*time.Minute {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
