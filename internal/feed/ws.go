package feed

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/betbot/papertrade/internal/domain"
)

var wsLog = logrus.WithField("component", "live_feed")

const (
	defaultMarketWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

	wsPingInterval       = 10 * time.Second
	wsPongTimeout        = 30 * time.Second
	wsMaxReconnects      = 10
	wsReconnectBaseDelay = time.Second
)

// LiveFeed implements Feed on top of the Polymarket market-data stream.
// It is read-only market data; order placement never goes through it.
//
// Contracts are tracked by (market, outcome) key mapped to the exchange
// asset id, because the wire protocol addresses books by asset id.
type LiveFeed struct {
	url         string
	gamma       *GammaClient
	marketLimit int

	conn   *websocket.Conn
	connMu sync.Mutex

	running   bool
	runningMu sync.Mutex

	mu       sync.RWMutex
	assets   map[string]domain.Key // asset id -> contract key
	tracked  map[domain.Key]string // contract key -> asset id
	quotes   map[domain.Key]domain.Quote
	handlers map[domain.Key][]TickHandler

	lastPong   time.Time
	lastPongMu sync.Mutex

	cancel context.CancelFunc
}

func NewLiveFeed(wsURL string, gamma *GammaClient) *LiveFeed {
	if wsURL == "" {
		wsURL = defaultMarketWSURL
	}
	if gamma == nil {
		gamma = NewGammaClient("")
	}
	return &LiveFeed{
		url:         wsURL,
		gamma:       gamma,
		marketLimit: 200,
		assets:      make(map[string]domain.Key),
		tracked:     make(map[domain.Key]string),
		quotes:      make(map[domain.Key]domain.Quote),
		handlers:    make(map[domain.Key][]TickHandler),
	}
}

// SetMarketLimit caps how many markets GetAllMarkets asks the REST API for.
func (f *LiveFeed) SetMarketLimit(n int) {
	if n > 0 {
		f.marketLimit = n
	}
}

// Track maps a contract to its exchange asset id. Must be called before
// Start for the contract to appear in the stream subscription.
func (f *LiveFeed) Track(marketID, outcome, assetID string) {
	key := domain.Key{MarketID: marketID, Outcome: outcome}
	f.mu.Lock()
	f.assets[assetID] = key
	f.tracked[key] = assetID
	f.mu.Unlock()
}

// Start connects and runs the read and ping loops until ctx is done.
func (f *LiveFeed) Start(ctx context.Context) error {
	f.runningMu.Lock()
	if f.running {
		f.runningMu.Unlock()
		return nil
	}
	f.running = true
	f.runningMu.Unlock()

	ctx, f.cancel = context.WithCancel(ctx)
	if err := f.connect(ctx); err != nil {
		f.runningMu.Lock()
		f.running = false
		f.runningMu.Unlock()
		return err
	}

	go f.readLoop(ctx)
	go f.pingLoop(ctx)
	wsLog.Infof("connected to %s", f.url)
	return nil
}

// Stop closes the connection and stops the loops.
func (f *LiveFeed) Stop() {
	f.runningMu.Lock()
	if !f.running {
		f.runningMu.Unlock()
		return
	}
	f.running = false
	f.runningMu.Unlock()

	if f.cancel != nil {
		f.cancel()
	}
	f.connMu.Lock()
	if f.conn != nil {
		_ = f.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = f.conn.Close()
		f.conn = nil
	}
	f.connMu.Unlock()
}

func (f *LiveFeed) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	conn.SetPongHandler(func(string) error {
		f.lastPongMu.Lock()
		f.lastPong = time.Now()
		f.lastPongMu.Unlock()
		return nil
	})

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	f.lastPongMu.Lock()
	f.lastPong = time.Now()
	f.lastPongMu.Unlock()

	return f.sendSubscription()
}

func (f *LiveFeed) sendSubscription() error {
	f.mu.RLock()
	ids := make([]string, 0, len(f.assets))
	for id := range f.assets {
		ids = append(ids, id)
	}
	f.mu.RUnlock()
	if len(ids) == 0 {
		return nil
	}

	sub := map[string]any{
		"type":       "market",
		"assets_ids": ids,
	}
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return nil
	}
	return f.conn.WriteJSON(sub)
}

func (f *LiveFeed) readLoop(ctx context.Context) {
	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			f.runningMu.Lock()
			running := f.running
			f.runningMu.Unlock()
			if !running {
				return
			}
			attempts++
			if attempts > wsMaxReconnects {
				wsLog.Errorf("giving up after %d reconnect attempts: %v", wsMaxReconnects, err)
				return
			}
			delay := wsReconnectBaseDelay * time.Duration(1<<uint(min(attempts-1, 5)))
			wsLog.Warnf("read error, reconnecting in %s (attempt %d): %v", delay, attempts, err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			if err := f.connect(ctx); err != nil {
				wsLog.Warnf("reconnect failed: %v", err)
			}
			continue
		}
		attempts = 0
		f.handleMessage(data)
	}
}

func (f *LiveFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.lastPongMu.Lock()
			stale := time.Since(f.lastPong) > wsPongTimeout
			f.lastPongMu.Unlock()
			if stale {
				// Force a read error so readLoop reconnects.
				f.connMu.Lock()
				if f.conn != nil {
					_ = f.conn.Close()
				}
				f.connMu.Unlock()
				continue
			}
			f.connMu.Lock()
			if f.conn != nil {
				_ = f.conn.WriteMessage(websocket.PingMessage, nil)
			}
			f.connMu.Unlock()
		}
	}
}

// wire formats of the market channel (one message may carry a batch)

type wsBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type wsMarketMsg struct {
	EventType string        `json:"event_type"`
	AssetID   string        `json:"asset_id"`
	Bids      []wsBookLevel `json:"bids"`
	Asks      []wsBookLevel `json:"asks"`
	Price     string        `json:"price"`
	BestBid   string        `json:"best_bid"`
	BestAsk   string        `json:"best_ask"`
}

func (f *LiveFeed) handleMessage(data []byte) {
	var batch []wsMarketMsg
	if err := json.Unmarshal(data, &batch); err != nil {
		var single wsMarketMsg
		if err := json.Unmarshal(data, &single); err != nil {
			return
		}
		batch = []wsMarketMsg{single}
	}
	for i := range batch {
		f.applyMessage(&batch[i])
	}
}

func (f *LiveFeed) applyMessage(msg *wsMarketMsg) {
	f.mu.RLock()
	key, ok := f.assets[msg.AssetID]
	f.mu.RUnlock()
	if !ok {
		return
	}

	f.mu.Lock()
	quote := f.quotes[key]
	switch msg.EventType {
	case "book":
		if len(msg.Bids) > 0 {
			lvl := msg.Bids[len(msg.Bids)-1]
			quote.Bid = parsePrice(lvl.Price)
			quote.BidDepth = parsePrice(lvl.Size)
		}
		if len(msg.Asks) > 0 {
			lvl := msg.Asks[len(msg.Asks)-1]
			quote.Ask = parsePrice(lvl.Price)
			quote.AskDepth = parsePrice(lvl.Size)
		}
	case "price_change":
		if msg.BestBid != "" {
			quote.Bid = parsePrice(msg.BestBid)
		}
		if msg.BestAsk != "" {
			quote.Ask = parsePrice(msg.BestAsk)
		}
	case "last_trade_price":
		quote.Last = parsePrice(msg.Price)
	default:
		f.mu.Unlock()
		return
	}
	quote.Timestamp = time.Now()
	f.quotes[key] = quote
	handlers := append([]TickHandler(nil), f.handlers[key]...)
	f.mu.Unlock()

	for _, h := range handlers {
		h(key, quote)
	}
}

func parsePrice(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func (f *LiveFeed) GetPrice(marketID, outcome string) (domain.Quote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.quotes[domain.Key{MarketID: marketID, Outcome: outcome}]
	return q, ok
}

func (f *LiveFeed) Subscribe(marketID, outcome string, h TickHandler) {
	if h == nil {
		return
	}
	key := domain.Key{MarketID: marketID, Outcome: outcome}
	f.mu.Lock()
	f.handlers[key] = append(f.handlers[key], h)
	f.mu.Unlock()
}

func (f *LiveFeed) GetAllMarkets(ctx context.Context) ([]*domain.Market, error) {
	return f.gamma.Markets(ctx, f.marketLimit)
}
