package strategy

import (
	"context"
	"time"

	"github.com/betbot/papertrade/internal/domain"
)

// Context is the evaluation context handed to every signal: current time,
// market info, the ordered price-bar history and recent executions for
// the contract under evaluation.
type Context struct {
	Now         time.Time
	Market      *domain.Market
	Outcome     string
	Quote       domain.Quote
	Bars        []domain.PriceBar
	RecentFills []*domain.Fill
}

func (c *Context) Key() domain.Key {
	return domain.Key{MarketID: c.Market.ID, Outcome: c.Outcome}
}

// Signal scores one contract. Returning (nil, nil) means "no opinion";
// an error aborts evaluation of this contract only.
type Signal interface {
	Name() string
	Compute(ctx context.Context, sctx *Context) (*domain.SignalOutput, error)
}

// Combiner merges the collected signal outputs into one decision, or nil
// when they do not add up to one.
type Combiner interface {
	Combine(outputs []*domain.SignalOutput) *domain.CombinedSignal
}

// WeightedCombiner is the default combiner: confidence-weighted mean
// strength, mean confidence, direction from the sign of the result.
type WeightedCombiner struct{}

func (WeightedCombiner) Combine(outputs []*domain.SignalOutput) *domain.CombinedSignal {
	var weightSum, strengthSum, confSum float64
	n := 0
	for _, out := range outputs {
		if out == nil || out.Confidence <= 0 {
			continue
		}
		w := out.Confidence
		s := out.Strength
		if out.Direction == domain.DirectionShort && s > 0 {
			s = -s
		}
		strengthSum += s * w
		weightSum += w
		confSum += out.Confidence
		n++
	}
	if n == 0 || weightSum == 0 {
		return nil
	}

	strength := strengthSum / weightSum
	dir := domain.DirectionNeutral
	if strength > 0 {
		dir = domain.DirectionLong
	} else if strength < 0 {
		dir = domain.DirectionShort
	}
	return &domain.CombinedSignal{
		Direction:  dir,
		Strength:   strength,
		Confidence: confSum / float64(n),
	}
}
