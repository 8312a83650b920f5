package execution

import "github.com/betbot/papertrade/internal/domain"

// SlippageModel selects how simulated fills deviate from the quoted price.
type SlippageModel string

const (
	SlippageNone         SlippageModel = "none"
	SlippageFixed        SlippageModel = "fixed"
	SlippageProportional SlippageModel = "proportional"
	// SlippageBook scales with order size against quoted depth and
	// degrades to proportional when depth is unavailable.
	SlippageBook SlippageModel = "book"
)

// SlippageConfig holds the model plus its single parameter: an absolute
// price offset for fixed, a rate for proportional/book.
type SlippageConfig struct {
	Model  SlippageModel `yaml:"model"`
	Amount float64       `yaml:"amount"`
}

const priceTick = 0.0001

// applySlippage moves the reference price away from the trader: up for
// buys, down for sells. The result stays strictly inside (0,1).
func applySlippage(cfg SlippageConfig, side domain.Side, price, size float64, quote domain.Quote) float64 {
	var slip float64
	switch cfg.Model {
	case SlippageFixed:
		slip = cfg.Amount
	case SlippageProportional:
		slip = price * cfg.Amount
	case SlippageBook:
		depth := quote.AskDepth
		if side == domain.SideSell {
			depth = quote.BidDepth
		}
		if depth > 0 {
			slip = price * cfg.Amount * (1 + size/depth)
		} else {
			slip = price * cfg.Amount
		}
	default:
		return clampPrice(price)
	}

	if side == domain.SideBuy {
		price += slip
	} else {
		price -= slip
	}
	return clampPrice(price)
}

func clampPrice(p float64) float64 {
	if p < priceTick {
		return priceTick
	}
	if p > 1-priceTick {
		return 1 - priceTick
	}
	return p
}
