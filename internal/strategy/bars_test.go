package strategy

import (
	"testing"
	"time"
)

func TestBarBufferCoalescesWithinInterval(t *testing.T) {
	buf := NewBarBuffer(time.Minute, 10)
	start := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	buf.Update(0.40, start)
	buf.Update(0.45, start.Add(20*time.Second))
	buf.Update(0.38, start.Add(40*time.Second))

	bars := buf.Bars()
	if len(bars) != 1 {
		t.Fatalf("ticks inside one interval should form one bar, got %d", len(bars))
	}
	bar := bars[0]
	if bar.Open != 0.40 || bar.High != 0.45 || bar.Low != 0.38 || bar.Close != 0.38 {
		t.Fatalf("OHLC = %.2f/%.2f/%.2f/%.2f", bar.Open, bar.High, bar.Low, bar.Close)
	}
	if bar.Ticks != 3 {
		t.Fatalf("ticks = %d, want 3", bar.Ticks)
	}
}

func TestBarBufferRollsToNewBar(t *testing.T) {
	buf := NewBarBuffer(time.Minute, 10)
	start := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	buf.Update(0.40, start)
	buf.Update(0.50, start.Add(61*time.Second))

	bars := buf.Bars()
	if len(bars) != 2 {
		t.Fatalf("a tick past the interval should open a new bar, got %d", len(bars))
	}
	if bars[1].Open != 0.50 {
		t.Fatalf("new bar open = %.2f, want 0.50", bars[1].Open)
	}
}

func TestBarBufferEvictsPastCapacity(t *testing.T) {
	buf := NewBarBuffer(time.Minute, 3)
	start := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		buf.Update(0.40+float64(i)*0.01, start.Add(time.Duration(i)*2*time.Minute))
	}
	if buf.Len() != 3 {
		t.Fatalf("len = %d, want capacity 3", buf.Len())
	}
	bars := buf.Bars()
	if bars[0].Open != 0.42 {
		t.Fatalf("oldest surviving bar open = %.2f, want 0.42", bars[0].Open)
	}
}

func TestBarBufferIgnoresNonPositivePrices(t *testing.T) {
	buf := NewBarBuffer(time.Minute, 10)
	buf.Update(0, time.Now())
	buf.Update(-1, time.Now())
	if buf.Len() != 0 {
		t.Fatalf("non-positive prices must be dropped, got %d bars", buf.Len())
	}
}
