package strategy

import (
	"sync"
	"time"

	"github.com/betbot/papertrade/internal/domain"
)

// BarBuffer is the capped rolling price-bar buffer kept per contract.
// Ticks landing inside the coalescing window update the in-progress bar;
// later ticks start a new bar and the oldest is evicted past capacity.
type BarBuffer struct {
	mu       sync.Mutex
	interval time.Duration
	capacity int
	bars     []domain.PriceBar
}

func NewBarBuffer(interval time.Duration, capacity int) *BarBuffer {
	if interval <= 0 {
		interval = time.Minute
	}
	if capacity <= 0 {
		capacity = 100
	}
	return &BarBuffer{interval: interval, capacity: capacity}
}

// Update folds one tick into the buffer.
func (b *BarBuffer) Update(price float64, ts time.Time) {
	if price <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if n := len(b.bars); n > 0 && ts.Sub(b.bars[n-1].StartAt) < b.interval {
		bar := &b.bars[n-1]
		if price > bar.High {
			bar.High = price
		}
		if price < bar.Low {
			bar.Low = price
		}
		bar.Close = price
		bar.Ticks++
		return
	}

	b.bars = append(b.bars, domain.PriceBar{
		StartAt: ts,
		Open:    price,
		High:    price,
		Low:     price,
		Close:   price,
		Ticks:   1,
	})
	if len(b.bars) > b.capacity {
		b.bars = b.bars[len(b.bars)-b.capacity:]
	}
}

// Bars returns a copy of the buffer, oldest first.
func (b *BarBuffer) Bars() []domain.PriceBar {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.PriceBar(nil), b.bars...)
}

// Len returns the number of completed and in-progress bars.
func (b *BarBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bars)
}
