// Package blockchain provides EVM and Solana chain access for live mode:
// RPC trade submission, wallet balance lookups, and a best-effort block
// height feed used to detect a stalled RPC endpoint.
package blockchain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EVMChain identifies which EVM-compatible chain a client talks to.
type EVMChain string

const (
	ChainEthereum  EVMChain = "ethereum"
	ChainBSC       EVMChain = "bsc"
	ChainPolygon   EVMChain = "polygon"
	ChainArbitrum  EVMChain = "arbitrum"
	ChainOptimism  EVMChain = "optimism"
	ChainBase      EVMChain = "base"
	ChainAvalanche EVMChain = "avalanche"
)

// EVMClient is a thin JSON-RPC client for an EVM chain, used by live mode
// to submit trades and read wallet balances. A WebSocket connection, when
// configured, is used only to keep a last-seen block height for staleness
// checks; it is not a general event bus.
type EVMClient struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	chain      EVMChain
	rpcURL     string
	wsURL      string
	httpClient *http.Client
	wsConn     *websocket.Conn

	currentBlock uint64

	connected bool
	stopChan  chan struct{}
}

// EVMConfig holds EVM client configuration.
type EVMConfig struct {
	Chain  EVMChain
	RPCURL string
	WSURL  string
}

// NewEVMClient creates a new EVM client.
func NewEVMClient(logger *zap.Logger, config *EVMConfig) *EVMClient {
	return &EVMClient{
		logger: logger,
		chain:  config.Chain,
		rpcURL: config.RPCURL,
		wsURL:  config.WSURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		stopChan: make(chan struct{}),
	}
}

// Connect establishes the WebSocket block-height feed when a WS URL is
// configured, and otherwise leaves the client in HTTP-only mode.
func (c *EVMClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.wsURL == "" {
		c.logger.Warn("no websocket URL configured, running in HTTP-only mode",
			zap.String("chain", string(c.chain)))
		c.connected = true
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("blockchain: connect to EVM WS: %w", err)
	}

	c.wsConn = conn
	c.connected = true

	if err := c.subscribeToBlocks(); err != nil {
		c.wsConn.Close()
		c.connected = false
		return fmt.Errorf("blockchain: subscribe to new heads: %w", err)
	}

	go c.handleMessages()

	c.logger.Info("connected to EVM chain",
		zap.String("chain", string(c.chain)),
		zap.String("url", c.wsURL),
	)
	return nil
}

// Disconnect closes the WebSocket connection, if any.
func (c *EVMClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	close(c.stopChan)

	if c.wsConn != nil {
		c.wsConn.Close()
		c.wsConn = nil
	}

	c.connected = false
	c.logger.Info("disconnected from EVM chain", zap.String("chain", string(c.chain)))
}

// IsConnected reports whether the client is usable for RPC calls.
func (c *EVMClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// LatestBlock returns the last block number seen on the WebSocket feed, or
// zero if no WS feed is configured or no block has been observed yet.
func (c *EVMClient) LatestBlock() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentBlock
}

// GetBalance fetches the native-token balance for an address, in whole
// coin units (wei converted to ether).
func (c *EVMClient) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	resp, err := c.rpcCall(ctx, "eth_getBalance", []interface{}{address, "latest"})
	if err != nil {
		return decimal.Zero, err
	}

	result, ok := resp["result"].(string)
	if !ok {
		return decimal.Zero, fmt.Errorf("blockchain: eth_getBalance: invalid response format")
	}

	wei := hexToBigInt(result)
	weiDecimal := decimal.NewFromBigInt(wei, 0)
	return weiDecimal.Div(decimal.NewFromFloat(1e18)), nil
}

// subscribeToBlocks subscribes to new block headers over the WS feed.
func (c *EVMClient) subscribeToBlocks() error {
	msg := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_subscribe",
		"params":  []string{"newHeads"},
	}

	return c.wsConn.WriteJSON(msg)
}

// handleMessages drains the WS feed, updating the last-seen block height.
func (c *EVMClient) handleMessages() {
	for {
		select {
		case <-c.stopChan:
			return
		default:
			_, message, err := c.wsConn.ReadMessage()
			if err != nil {
				c.logger.Error("websocket read error", zap.Error(err), zap.String("chain", string(c.chain)))
				c.mu.Lock()
				c.connected = false
				c.mu.Unlock()
				return
			}

			c.processMessage(message)
		}
	}
}

// processMessage extracts the block number from a newHeads notification.
func (c *EVMClient) processMessage(message []byte) {
	var msg map[string]interface{}
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Warn("failed to parse websocket message", zap.Error(err))
		return
	}

	method, ok := msg["method"].(string)
	if !ok || method != "eth_subscription" {
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

	number, ok := result["number"].(string)
	if !ok {
		return
	}

	c.mu.Lock()
	c.currentBlock = hexToUint64(number)
	c.mu.Unlock()
}

// rpcCall makes a JSON-RPC call against the configured node.
func (c *EVMClient) rpcCall(ctx context.Context, method string, params interface{}) (map[string]interface{}, error) {
	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	}

	reqBytes, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("blockchain: marshal EVM RPC request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL,
		strings.NewReader(string(reqBytes)))
	if err != nil {
		return nil, fmt.Errorf("blockchain: build EVM RPC request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("blockchain: EVM RPC request failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("blockchain: decode EVM RPC response: %w", err)
	}

	if errObj, ok := result["error"].(map[string]interface{}); ok {
		return nil, fmt.Errorf("blockchain: EVM RPC error: %v", errObj["message"])
	}

	return result, nil
}

func hexToUint64(hex string) uint64 {
	hex = strings.TrimPrefix(hex, "0x")
	val, _ := new(big.Int).SetString(hex, 16)
	if val == nil {
		return 0
	}
	return val.Uint64()
}

func hexToBigInt(hex string) *big.Int {
	hex = strings.TrimPrefix(hex, "0x")
	val, _ := new(big.Int).SetString(hex, 16)
	if val == nil {
		return big.NewInt(0)
	}
	return val
}
