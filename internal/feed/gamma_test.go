package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGammaMarketsMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("active") != "true" || r.URL.Query().Get("closed") != "false" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{
				"id": "m1",
				"question": "Will it rain tomorrow?",
				"outcomes": "[\"Yes\", \"No\"]",
				"clobTokenIds": "[\"tok-yes\", \"tok-no\"]",
				"volume24hr": 12345.5,
				"liquidityNum": 678.9,
				"endDateIso": "2026-09-15",
				"active": true,
				"closed": false
			},
			{
				"id": "m2",
				"question": "Already settled",
				"active": false,
				"closed": true
			}
		]`)
	}))
	defer srv.Close()

	c := NewGammaClient(srv.URL)
	markets, err := c.Markets(context.Background(), 10)
	if err != nil {
		t.Fatalf("markets: %v", err)
	}
	if len(markets) != 1 {
		t.Fatalf("closed market should be filtered, got %d markets", len(markets))
	}

	m := markets[0]
	if m.ID != "m1" || !m.Active {
		t.Fatalf("market = %+v", m)
	}
	if len(m.Outcomes) != 2 || m.Outcomes[0] != "Yes" {
		t.Fatalf("outcomes = %v", m.Outcomes)
	}
	if len(m.TokenIDs) != 2 || m.TokenIDs[0] != "tok-yes" {
		t.Fatalf("token ids = %v", m.TokenIDs)
	}
	if m.Volume24h != 12345.5 || m.Liquidity != 678.9 {
		t.Fatalf("volume/liquidity = %.2f/%.2f", m.Volume24h, m.Liquidity)
	}
	if m.EndDate.Year() != 2026 || m.EndDate.Month() != 9 {
		t.Fatalf("end date = %s", m.EndDate)
	}
}

func TestGammaMarketsDefaultsOutcomes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id": "m1", "question": "q", "active": true, "closed": false}]`)
	}))
	defer srv.Close()

	markets, err := NewGammaClient(srv.URL).Markets(context.Background(), 10)
	if err != nil {
		t.Fatalf("markets: %v", err)
	}
	if len(markets[0].Outcomes) != 2 || markets[0].Outcomes[0] != "YES" {
		t.Fatalf("missing outcomes should default to YES/NO, got %v", markets[0].Outcomes)
	}
}

func TestGammaMarketsMalformedOutcomesFallBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id": "m1", "question": "q", "outcomes": "not json", "active": true, "closed": false}]`)
	}))
	defer srv.Close()

	markets, err := NewGammaClient(srv.URL).Markets(context.Background(), 10)
	if err != nil {
		t.Fatalf("markets: %v", err)
	}
	if len(markets[0].Outcomes) != 2 || markets[0].Outcomes[0] != "YES" {
		t.Fatalf("undecodable outcomes should default to YES/NO, got %v", markets[0].Outcomes)
	}
}

func TestGammaMarketsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewGammaClient(srv.URL).Markets(context.Background(), 10); err == nil {
		t.Fatal("5xx must surface as an error")
	}
}
