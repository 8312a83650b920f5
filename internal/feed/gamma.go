package feed

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/betbot/papertrade/internal/domain"
)

const defaultGammaURL = "https://gamma-api.polymarket.com"

// GammaClient lists live markets from the Gamma REST API. Read-only: the
// engine never places anything through it.
type GammaClient struct {
	client *resty.Client
}

func NewGammaClient(baseURL string) *GammaClient {
	if baseURL == "" {
		baseURL = defaultGammaURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	// resty picks up HTTP(S)_PROXY from the environment on its own.
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			if resp.StatusCode() == 429 {
				if ra := resp.Header().Get("Retry-After"); ra != "" {
					if d, err := time.ParseDuration(ra + "s"); err == nil {
						return d, nil
					}
				}
				return 10 * time.Second, nil
			}
			return 0, nil
		})

	return &GammaClient{client: client}
}

type gammaMarket struct {
	ID           string  `json:"id"`
	Question     string  `json:"question"`
	Outcomes     string  `json:"outcomes"`     // JSON-encoded string array
	ClobTokenIDs string  `json:"clobTokenIds"` // JSON-encoded string array
	Volume24Hr   float64 `json:"volume24hr"`
	LiquidityNum float64 `json:"liquidityNum"`
	EndDateISO   string  `json:"endDateIso"`
	Active       bool    `json:"active"`
	Closed       bool    `json:"closed"`
}

// Markets fetches active markets, mapped into the domain model.
func (c *GammaClient) Markets(ctx context.Context, limit int) ([]*domain.Market, error) {
	if limit <= 0 {
		limit = 100
	}

	var raw []gammaMarket
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("active", "true").
		SetQueryParam("closed", "false").
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&raw).
		Get("/markets")
	if err != nil {
		return nil, errors.Wrap(err, "gamma: fetch markets")
	}
	if resp.IsError() {
		return nil, errors.Errorf("gamma: fetch markets: status %d", resp.StatusCode())
	}

	out := make([]*domain.Market, 0, len(raw))
	for _, gm := range raw {
		if gm.Closed || !gm.Active {
			continue
		}
		m := &domain.Market{
			ID:        gm.ID,
			Question:  gm.Question,
			Volume24h: gm.Volume24Hr,
			Liquidity: gm.LiquidityNum,
			Active:    true,
		}
		// Gamma double-encodes outcomes as a JSON string, same as
		// clobTokenIds.
		if gm.Outcomes != "" {
			var names []string
			if err := json.Unmarshal([]byte(gm.Outcomes), &names); err == nil {
				m.Outcomes = names
			}
		}
		if gm.EndDateISO != "" {
			if t, err := time.Parse(time.RFC3339, gm.EndDateISO); err == nil {
				m.EndDate = t
			} else if t, err := time.Parse("2006-01-02", gm.EndDateISO); err == nil {
				m.EndDate = t
			}
		}
		if len(m.Outcomes) == 0 {
			m.Outcomes = []string{"YES", "NO"}
		}
		if gm.ClobTokenIDs != "" {
			var ids []string
			if err := json.Unmarshal([]byte(gm.ClobTokenIDs), &ids); err == nil {
				m.TokenIDs = ids
			}
		}
		out = append(out, m)
	}
	return out, nil
}
