// Package feed provides the price-feed port the engine and orchestrator
// consume, plus its in-memory and live implementations.
package feed

import (
	"context"

	"github.com/betbot/papertrade/internal/domain"
)

// TickHandler receives every quote update for a subscribed contract.
type TickHandler func(key domain.Key, quote domain.Quote)

// Feed is the streaming source of quotes per market+outcome. It is a leaf
// dependency: nothing in the engine writes back through it.
type Feed interface {
	// GetPrice returns the latest quote for the contract, false when no
	// quote has been observed yet.
	GetPrice(marketID, outcome string) (domain.Quote, bool)

	// Subscribe registers a handler for quote updates on one contract.
	Subscribe(marketID, outcome string, h TickHandler)

	// GetAllMarkets lists the live markets the orchestrator may trade.
	GetAllMarkets(ctx context.Context) ([]*domain.Market, error)
}
