package feed

import (
	"context"
	"sync"
	"time"

	"github.com/betbot/papertrade/internal/domain"
)

// SimFeed is a scriptable in-memory feed. Tests and replay runs push
// quotes into it; subscribers are notified synchronously on the pushing
// goroutine, which keeps fill sequencing deterministic.
type SimFeed struct {
	mu       sync.RWMutex
	quotes   map[domain.Key]domain.Quote
	markets  []*domain.Market
	handlers map[domain.Key][]TickHandler
}

func NewSimFeed() *SimFeed {
	return &SimFeed{
		quotes:   make(map[domain.Key]domain.Quote),
		handlers: make(map[domain.Key][]TickHandler),
	}
}

// AddMarket registers a market returned by GetAllMarkets.
func (f *SimFeed) AddMarket(m *domain.Market) {
	f.mu.Lock()
	f.markets = append(f.markets, m)
	f.mu.Unlock()
}

// Push sets the contract's quote and notifies subscribers in order.
func (f *SimFeed) Push(marketID, outcome string, quote domain.Quote) {
	key := domain.Key{MarketID: marketID, Outcome: outcome}
	if quote.Timestamp.IsZero() {
		quote.Timestamp = time.Now()
	}

	f.mu.Lock()
	f.quotes[key] = quote
	handlers := append([]TickHandler(nil), f.handlers[key]...)
	f.mu.Unlock()

	for _, h := range handlers {
		h(key, quote)
	}
}

func (f *SimFeed) GetPrice(marketID, outcome string) (domain.Quote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.quotes[domain.Key{MarketID: marketID, Outcome: outcome}]
	return q, ok
}

func (f *SimFeed) Subscribe(marketID, outcome string, h TickHandler) {
	if h == nil {
		return
	}
	key := domain.Key{MarketID: marketID, Outcome: outcome}
	f.mu.Lock()
	f.handlers[key] = append(f.handlers[key], h)
	f.mu.Unlock()
}

func (f *SimFeed) GetAllMarkets(ctx context.Context) ([]*domain.Market, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*domain.Market, len(f.markets))
	copy(out, f.markets)
	return out, nil
}
