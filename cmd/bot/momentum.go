package main

import (
	"context"
	"math"

	"github.com/betbot/papertrade/internal/domain"
	"github.com/betbot/papertrade/internal/strategy"
)

// momentumSignal is the built-in bar-momentum signal: close-to-close
// return over the lookback window, scaled into [-1, 1]. It abstains until
// the bar buffer has warmed up.
type momentumSignal struct {
	Lookback int     // bars between the two closes
	Scale    float64 // return-to-strength multiplier
}

func newMomentumSignal() *momentumSignal {
	return &momentumSignal{Lookback: 5, Scale: 10}
}

func (s *momentumSignal) Name() string { return "bar_momentum" }

func (s *momentumSignal) Compute(_ context.Context, sctx *strategy.Context) (*domain.SignalOutput, error) {
	bars := sctx.Bars
	if len(bars) < s.Lookback+1 {
		return nil, nil
	}
	base := bars[len(bars)-1-s.Lookback].Close
	last := bars[len(bars)-1].Close
	if base <= 0 || last <= 0 {
		return nil, nil
	}

	ret := (last - base) / base
	strength := math.Max(-1, math.Min(1, ret*s.Scale))
	if strength == 0 {
		return nil, nil
	}

	dir := domain.DirectionLong
	if strength < 0 {
		dir = domain.DirectionShort
	}
	return &domain.SignalOutput{
		Name:       s.Name(),
		Direction:  dir,
		Strength:   strength,
		Confidence: math.Min(0.9, 0.4+math.Abs(strength)/2),
	}, nil
}
