package blockchain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SolanaClient is a thin JSON-RPC client for Solana, used by live mode to
// submit trades and read wallet balances. A WebSocket connection, when
// configured, is used only to keep a last-seen slot for staleness checks.
type SolanaClient struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	rpcURL     string
	wsURL      string
	httpClient *http.Client
	wsConn     *websocket.Conn

	currentSlot uint64

	connected bool
	stopChan  chan struct{}
}

// SolanaConfig holds Solana client configuration.
type SolanaConfig struct {
	RPCURL string
	WSURL  string
}

// NewSolanaClient creates a new Solana client.
func NewSolanaClient(logger *zap.Logger, config *SolanaConfig) *SolanaClient {
	return &SolanaClient{
		logger: logger,
		rpcURL: config.RPCURL,
		wsURL:  config.WSURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		stopChan: make(chan struct{}),
	}
}

// Connect establishes the WebSocket slot feed when a WS URL is configured,
// and otherwise leaves the client in HTTP-only mode.
func (c *SolanaClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.wsURL == "" {
		c.logger.Warn("no websocket URL configured, running in HTTP-only mode")
		c.connected = true
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("blockchain: connect to Solana WS: %w", err)
	}

	c.wsConn = conn
	c.connected = true

	if err := c.subscribeToSlots(); err != nil {
		c.wsConn.Close()
		c.connected = false
		return fmt.Errorf("blockchain: subscribe to slots: %w", err)
	}

	go c.handleMessages()

	c.logger.Info("connected to Solana", zap.String("url", c.wsURL))
	return nil
}

// Disconnect closes the WebSocket connection, if any.
func (c *SolanaClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	close(c.stopChan)

	if c.wsConn != nil {
		c.wsConn.Close()
		c.wsConn = nil
	}

	c.connected = false
	c.logger.Info("disconnected from Solana")
}

// IsConnected reports whether the client is usable for RPC calls.
func (c *SolanaClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// LatestSlot returns the last slot seen on the WebSocket feed, or zero if
// no WS feed is configured or no slot has been observed yet.
func (c *SolanaClient) LatestSlot() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentSlot
}

// GetBalance fetches the SOL balance for an address, in whole SOL.
func (c *SolanaClient) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "getBalance",
		"params":  []string{address},
	}

	resp, err := c.rpcCall(ctx, req)
	if err != nil {
		return decimal.Zero, err
	}

	result, ok := resp["result"].(map[string]interface{})
	if !ok {
		return decimal.Zero, fmt.Errorf("blockchain: getBalance: invalid response format")
	}

	value, ok := result["value"].(float64)
	if !ok {
		return decimal.Zero, fmt.Errorf("blockchain: getBalance: invalid balance value")
	}

	// lamports to SOL
	return decimal.NewFromFloat(value / 1e9), nil
}

// subscribeToSlots subscribes to slot updates over the WS feed.
func (c *SolanaClient) subscribeToSlots() error {
	msg := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "slotSubscribe",
	}

	return c.wsConn.WriteJSON(msg)
}

// handleMessages drains the WS feed, updating the last-seen slot.
func (c *SolanaClient) handleMessages() {
	for {
		select {
		case <-c.stopChan:
			return
		default:
			_, message, err := c.wsConn.ReadMessage()
			if err != nil {
				c.logger.Error("websocket read error", zap.Error(err))
				c.mu.Lock()
				c.connected = false
				c.mu.Unlock()
				return
			}

			c.processMessage(message)
		}
	}
}

// processMessage extracts the slot number from a slotNotification.
func (c *SolanaClient) processMessage(message []byte) {
	var msg map[string]interface{}
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Warn("failed to parse websocket message", zap.Error(err))
		return
	}

	method, ok := msg["method"].(string)
	if !ok || method != "slotNotification" {
		return
	}

	params, ok := msg["params"].(map[string]interface{})
	if !ok {
		return
	}

	result, ok := params["result"].(map[string]interface{})
	if !ok {
		return
	}

	slot, ok := result["slot"].(float64)
	if !ok {
		return
	}

	c.mu.Lock()
	c.currentSlot = uint64(slot)
	c.mu.Unlock()
}

// rpcCall makes a JSON-RPC call against the configured node.
func (c *SolanaClient) rpcCall(ctx context.Context, request interface{}) (map[string]interface{}, error) {
	reqBytes, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("blockchain: marshal Solana RPC request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL, &bytesReader{data: reqBytes})
	if err != nil {
		return nil, fmt.Errorf("blockchain: build Solana RPC request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("blockchain: Solana RPC request failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("blockchain: decode Solana RPC response: %w", err)
	}

	if errObj, ok := result["error"].(map[string]interface{}); ok {
		return nil, fmt.Errorf("blockchain: Solana RPC error: %v", errObj["message"])
	}

	return result, nil
}

// bytesReader wraps a []byte as an io.Reader.
type bytesReader struct {
	data []byte
	pos  int
}

func (r *bytesReader) Read(p []byte) (n int, err error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("EOF")
	}
	n = copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
