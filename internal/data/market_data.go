// Package data provides real-time market data services.
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/external"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceUpdate is one streamed price tick for a token id
// ("{address}-{canonicalBlockchainSuffix}", per external.MarketDataID).
type PriceUpdate struct {
	ID        string          `json:"id"`
	Price     decimal.Decimal `json:"price"`
	Volume24h decimal.Decimal `json:"volume24h"`
	Timestamp int64           `json:"timestamp"`
	Source    string          `json:"source"`
}

// OrderBookUpdate is a streamed order book snapshot for a token id.
type OrderBookUpdate struct {
	ID        string                 `json:"id"`
	Bids      []types.OrderBookLevel `json:"bids"`
	Asks      []types.OrderBookLevel `json:"asks"`
	Timestamp int64                  `json:"timestamp"`
}

// TradeUpdate is a streamed fill for a token id.
type TradeUpdate struct {
	ID        string          `json:"id"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Side      string          `json:"side"` // "buy" or "sell"
	Timestamp int64           `json:"timestamp"`
	TradeID   string          `json:"trade_id"`
}

// StreamingMarketData maintains a websocket subscription to a venue's
// aggregated token feed and serves external.MarketDataAPI out of the
// resulting in-memory cache, so RunRound never blocks on a per-round
// network round trip (§6 "MarketDataAPI").
type StreamingMarketData struct {
	logger *zap.Logger
	config StreamConfig

	conn   *websocket.Conn
	connMu sync.RWMutex

	subscriptions map[string]bool
	subMu         sync.RWMutex

	onPrice     func(PriceUpdate)
	onOrderBook func(OrderBookUpdate)
	onTrade     func(TradeUpdate)

	running bool
	ctx     context.Context
	cancel  context.CancelFunc

	priceCache map[string]PriceUpdate
	priceMu    sync.RWMutex
}

// StreamConfig configures a StreamingMarketData feed.
type StreamConfig struct {
	WSURL      string
	Ids        []string // initial subscriptions, canonical MarketDataID form
	StaleAfter time.Duration
}

// DefaultStreamConfig returns a conservative default configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		WSURL:      "wss://stream.example-dex-aggregator.io/ws",
		StaleAfter: 30 * time.Second,
	}
}

// NewStreamingMarketData constructs a StreamingMarketData feed.
func NewStreamingMarketData(logger *zap.Logger, config StreamConfig) *StreamingMarketData {
	if config.StaleAfter <= 0 {
		config.StaleAfter = 30 * time.Second
	}
	return &StreamingMarketData{
		logger:        logger.Named("data.stream"),
		config:        config,
		subscriptions: make(map[string]bool),
		priceCache:    make(map[string]PriceUpdate),
	}
}

var _ external.MarketDataAPI = (*StreamingMarketData)(nil)

// Start dials the feed, subscribes to the configured ids, and starts the
// read and reconnect loops.
func (s *StreamingMarketData) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	if err := s.connect(); err != nil {
		return fmt.Errorf("data: failed to connect to market feed: %w", err)
	}
	for _, id := range s.config.Ids {
		if err := s.Subscribe(id); err != nil {
			s.logger.Warn("data: initial subscribe failed", zap.String("id", id), zap.Error(err))
		}
	}

	go s.readLoop()
	go s.reconnectMonitor()

	s.logger.Info("market data stream started", zap.Int("ids", len(s.config.Ids)))
	return nil
}

// Stop tears down the feed connection.
func (s *StreamingMarketData) Stop() error {
	s.running = false
	if s.cancel != nil {
		s.cancel()
	}
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.connMu.Unlock()
	s.logger.Info("market data stream stopped")
	return nil
}

func (s *StreamingMarketData) connect() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	u, err := url.Parse(s.config.WSURL)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return err
	}
	s.conn = conn
	s.logger.Debug("connected to market feed")
	return nil
}

// Subscribe adds an id to the live feed subscription set.
func (s *StreamingMarketData) Subscribe(id string) error {
	s.subMu.Lock()
	if s.subscriptions[id] {
		s.subMu.Unlock()
		return nil
	}
	s.subscriptions[id] = true
	s.subMu.Unlock()

	msg := map[string]interface{}{"method": "subscribe", "channel": "ticker", "id": id}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("market feed not connected")
	}
	return s.conn.WriteJSON(msg)
}

// Unsubscribe removes an id from the live feed subscription set.
func (s *StreamingMarketData) Unsubscribe(id string) error {
	s.subMu.Lock()
	if !s.subscriptions[id] {
		s.subMu.Unlock()
		return nil
	}
	delete(s.subscriptions, id)
	s.subMu.Unlock()

	msg := map[string]interface{}{"method": "unsubscribe", "channel": "ticker", "id": id}
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		return s.conn.WriteJSON(msg)
	}
	return nil
}

func (s *StreamingMarketData) readLoop() {
	for s.running {
		s.connMu.RLock()
		conn := s.conn
		s.connMu.RUnlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.running {
				s.logger.Error("market feed read error", zap.Error(err))
			}
			continue
		}
		s.handleMessage(message)
	}
}

func (s *StreamingMarketData) handleMessage(data []byte) {
	var msg map[string]interface{}
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	channel, _ := msg["channel"].(string)
	switch channel {
	case "ticker":
		s.handleTicker(msg)
	case "trade":
		s.handleTrade(msg)
	case "depth":
		s.handleDepth(msg)
	}
}

func (s *StreamingMarketData) handleTicker(msg map[string]interface{}) {
	id, _ := msg["id"].(string)
	priceStr, _ := msg["price"].(string)
	volumeStr, _ := msg["volume24h"].(string)
	timestamp, _ := msg["timestamp"].(float64)

	price, _ := decimal.NewFromString(priceStr)
	volume, _ := decimal.NewFromString(volumeStr)

	update := PriceUpdate{ID: id, Price: price, Volume24h: volume, Timestamp: int64(timestamp), Source: "stream"}

	s.priceMu.Lock()
	s.priceCache[id] = update
	s.priceMu.Unlock()

	if s.onPrice != nil {
		s.onPrice(update)
	}
}

func (s *StreamingMarketData) handleTrade(msg map[string]interface{}) {
	id, _ := msg["id"].(string)
	priceStr, _ := msg["price"].(string)
	qtyStr, _ := msg["quantity"].(string)
	side, _ := msg["side"].(string)
	timestamp, _ := msg["timestamp"].(float64)
	tradeID, _ := msg["trade_id"].(string)

	price, _ := decimal.NewFromString(priceStr)
	qty, _ := decimal.NewFromString(qtyStr)

	update := TradeUpdate{ID: id, Price: price, Quantity: qty, Side: side, Timestamp: int64(timestamp), TradeID: tradeID}
	if s.onTrade != nil {
		s.onTrade(update)
	}
}

func (s *StreamingMarketData) handleDepth(msg map[string]interface{}) {
	id, _ := msg["id"].(string)
	timestamp, _ := msg["timestamp"].(float64)
	bidsRaw, _ := msg["bids"].([]interface{})
	asksRaw, _ := msg["asks"].([]interface{})

	update := OrderBookUpdate{
		ID: id, Bids: parseOrderBookLevels(bidsRaw), Asks: parseOrderBookLevels(asksRaw), Timestamp: int64(timestamp),
	}
	if s.onOrderBook != nil {
		s.onOrderBook(update)
	}
}

func (s *StreamingMarketData) reconnectMonitor() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.connMu.RLock()
			conn := s.conn
			s.connMu.RUnlock()
			if conn == nil && s.running {
				s.logger.Info("attempting to reconnect to market feed")
				if err := s.connect(); err != nil {
					s.logger.Error("reconnection failed", zap.Error(err))
					continue
				}
				s.subMu.RLock()
				ids := make([]string, 0, len(s.subscriptions))
				for id := range s.subscriptions {
					ids = append(ids, id)
				}
				s.subMu.RUnlock()
				for _, id := range ids {
					s.subMu.Lock()
					s.subscriptions[id] = false
					s.subMu.Unlock()
					_ = s.Subscribe(id)
				}
			}
		}
	}
}

// OnPrice sets the price update callback.
func (s *StreamingMarketData) OnPrice(fn func(PriceUpdate)) { s.onPrice = fn }

// OnOrderBook sets the order book update callback.
func (s *StreamingMarketData) OnOrderBook(fn func(OrderBookUpdate)) { s.onOrderBook = fn }

// OnTrade sets the trade update callback.
func (s *StreamingMarketData) OnTrade(fn func(TradeUpdate)) { s.onTrade = fn }

// GetPrices implements external.MarketDataAPI by reading the streamed
// cache. An id with no cached tick (never subscribed, or stale) is
// simply omitted from the result rather than erroring, matching
// MarketDataAPI's "best-effort batch" contract (§6).
func (s *StreamingMarketData) GetPrices(ctx context.Context, ids []string) (map[string]external.PriceQuote, error) {
	s.priceMu.RLock()
	defer s.priceMu.RUnlock()

	now := time.Now()
	out := make(map[string]external.PriceQuote, len(ids))
	for _, id := range ids {
		update, ok := s.priceCache[id]
		if !ok {
			continue
		}
		if now.Sub(time.UnixMilli(update.Timestamp)) > s.config.StaleAfter {
			continue
		}
		out[id] = external.PriceQuote{Price: update.Price, Volume24h: update.Volume24h}
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			_ = s.Subscribe(id)
		}
	}
	return out, nil
}

func parseOrderBookLevels(raw []interface{}) []types.OrderBookLevel {
	levels := make([]types.OrderBookLevel, 0, len(raw))
	for _, r := range raw {
		level, ok := r.([]interface{})
		if !ok || len(level) < 2 {
			continue
		}
		priceStr, _ := level[0].(string)
		qtyStr, _ := level[1].(string)
		price, _ := decimal.NewFromString(priceStr)
		qty, _ := decimal.NewFromString(qtyStr)
		levels = append(levels, types.OrderBookLevel{Price: price, Quantity: qty})
	}
	return levels
}
