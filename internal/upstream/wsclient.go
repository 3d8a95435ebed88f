package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"multicallgofer/internal/jsonrpc"
)

type subscriptionHandler func(result json.RawMessage)

type subscriptionEntry struct {
	subType string
	handler subscriptionHandler
}

// WSClient owns a single WebSocket connection for an upstream.
// It carries eth_subscribe requests and their events, and resubscribes after reconnecting.
type WSClient struct {
	wsURL             string
	messageTimeout    time.Duration
	reconnectInterval time.Duration
	logger            zerolog.Logger

	conn    *websocket.Conn
	connMu  sync.RWMutex
	writeMu sync.Mutex

	pending   map[int64]chan *jsonrpc.Response
	pendingMu sync.Mutex
	reqID     atomic.Int64

	subs  map[string]subscriptionEntry
	subMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWSClient creates a new WebSocket client
func NewWSClient(wsURL string, messageTimeout time.Duration, reconnectInterval time.Duration, logger zerolog.Logger) *WSClient {
	ctx, cancel := context.WithCancel(context.Background())
	if messageTimeout <= 0 {
		messageTimeout = 60 * time.Second
	}
	return &WSClient{
		wsURL:             wsURL,
		messageTimeout:    messageTimeout,
		reconnectInterval: reconnectInterval,
		logger:            logger,
		pending:           make(map[int64]chan *jsonrpc.Response),
		subs:              make(map[string]subscriptionEntry),
		ctx:               ctx,
		cancel:            cancel,
	}
}

// Connect establishes the WebSocket connection and starts the reader goroutine
func (c *WSClient) Connect(ctx context.Context) error {
	c.connMu.Lock()
	if c.conn != nil {
		c.connMu.Unlock()
		return nil
	}
	c.connMu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect WebSocket: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.logger.Info().Msg("WebSocket connected")
	c.wg.Add(1)
	go c.readLoop()
	return nil
}

// Connected returns true if the WebSocket connection is established
func (c *WSClient) Connected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil
}

// Close closes the connection and stops the reader
func (c *WSClient) Close() {
	c.cancel()
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	c.failPending()
	c.wg.Wait()
	c.logger.Info().Msg("WebSocket disconnected")
}

// Subscribe sends eth_subscribe and registers a handler for its events
func (c *WSClient) Subscribe(ctx context.Context, subType string, onEvent subscriptionHandler) (string, error) {
	subID, err := c.subscribe(ctx, subType)
	if err != nil {
		return "", err
	}

	c.subMu.Lock()
	c.subs[subID] = subscriptionEntry{subType: subType, handler: onEvent}
	c.subMu.Unlock()
	return subID, nil
}

func (c *WSClient) subscribe(ctx context.Context, subType string) (string, error) {
	resp, err := c.send(ctx, "eth_subscribe", []interface{}{subType})
	if err != nil {
		return "", err
	}
	if resp.HasError() {
		return "", fmt.Errorf("subscription error: %s", resp.Error.Message)
	}

	var subID string
	if err := json.Unmarshal(resp.Result, &subID); err != nil {
		return "", fmt.Errorf("failed to parse subscription ID: %w", err)
	}
	return subID, nil
}

// send writes one request and waits for the matching response
func (c *WSClient) send(ctx context.Context, method string, params interface{}) (*jsonrpc.Response, error) {
	reqID := c.reqID.Add(1)
	req, err := jsonrpc.NewRequest(method, params, jsonrpc.NewIDInt(reqID))
	if err != nil {
		return nil, err
	}
	reqBytes, err := req.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	respChan := make(chan *jsonrpc.Response, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respChan
	c.pendingMu.Unlock()

	removePending := func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		removePending()
		return nil, ErrNotConnected
	}

	c.writeMu.Lock()
	writeErr := conn.WriteMessage(websocket.TextMessage, reqBytes)
	c.writeMu.Unlock()
	if writeErr != nil {
		removePending()
		return nil, fmt.Errorf("failed to send %s: %w", method, writeErr)
	}

	select {
	case resp := <-respChan:
		if resp == nil {
			return nil, fmt.Errorf("connection closed")
		}
		return resp, nil
	case <-ctx.Done():
		removePending()
		return nil, ctx.Err()
	}
}

func (c *WSClient) readLoop() {
	defer c.wg.Done()

	for {
		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(c.messageTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
				return
			default:
			}

			c.logger.Warn().Err(err).Msg("WebSocket connection lost, reconnecting")
			if c.reconnect() {
				continue
			}
			return
		}

		c.dispatchMessage(data)
	}
}

func (c *WSClient) dispatchMessage(data []byte) {
	var base struct {
		Method string          `json:"method"`
		ID     json.RawMessage `json:"id"`
		Params *struct {
			Subscription string          `json:"subscription"`
			Result       json.RawMessage `json:"result"`
		} `json:"params"`
	}

	if err := json.Unmarshal(data, &base); err != nil {
		c.logger.Warn().Err(err).Int("len", len(data)).Msg("ws message parse error")
		return
	}

	if base.Method == "eth_subscription" && base.Params != nil {
		c.subMu.Lock()
		entry, exists := c.subs[base.Params.Subscription]
		c.subMu.Unlock()

		if !exists {
			c.logger.Debug().
				Str("subscription", base.Params.Subscription).
				Msg("subscription notification, no handler")
			return
		}
		entry.handler(base.Params.Result)
		return
	}

	var reqID int64
	if err := json.Unmarshal(base.ID, &reqID); err != nil {
		return
	}

	var resp jsonrpc.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return
	}

	c.pendingMu.Lock()
	ch, exists := c.pending[reqID]
	delete(c.pending, reqID)
	c.pendingMu.Unlock()

	if exists {
		ch <- &resp
	}
}

func (c *WSClient) failPending() {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

// reconnect dials until it succeeds or the client is closed, then resubscribes.
// Returns false on shutdown.
func (c *WSClient) reconnect() bool {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
	c.failPending()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	interval := c.reconnectInterval
	if interval <= 0 {
		interval = time.Second
	}

	for {
		select {
		case <-c.ctx.Done():
			return false
		case <-time.After(interval):
		}

		ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
		conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
		cancel()
		if err != nil {
			c.logger.Warn().Err(err).Dur("nextRetry", interval).Msg("WebSocket reconnection failed, will retry")
			continue
		}

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()
		c.logger.Info().Msg("WebSocket reconnected")

		c.subMu.Lock()
		entries := make([]subscriptionEntry, 0, len(c.subs))
		for _, entry := range c.subs {
			entries = append(entries, entry)
		}
		c.subs = make(map[string]subscriptionEntry)
		c.subMu.Unlock()

		// The reader must be running before resubscribing so responses are delivered
		go c.resubscribe(entries)
		return true
	}
}

func (c *WSClient) resubscribe(entries []subscriptionEntry) {
	for _, entry := range entries {
		ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
		subID, err := c.subscribe(ctx, entry.subType)
		cancel()
		if err != nil {
			c.logger.Warn().Err(err).Str("subType", entry.subType).Msg("failed to re-subscribe")
			continue
		}

		c.subMu.Lock()
		c.subs[subID] = entry
		c.subMu.Unlock()
		c.logger.Info().Str("subType", entry.subType).Str("subID", subID).Msg("re-subscribed")
	}
}
