package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"

	"multicallgofer/internal/blockparam"
	"multicallgofer/internal/config"
	"multicallgofer/internal/jsonrpc"
	"multicallgofer/internal/metrics"
)

// Upstream represents a single upstream RPC endpoint
type Upstream struct {
	name   string
	rpcURL string
	wsURL  string
	weight int
	role   Role

	messageTimeout    time.Duration
	reconnectInterval time.Duration

	httpClient *http.Client
	status     *Status
	breaker    *CircuitBreaker
	metrics    metrics.Metricer
	logger     zerolog.Logger
	reqID      atomic.Int64

	wsClient *WSClient
}

// Config for creating a new Upstream
type Config struct {
	Name              string
	RPCURL            string
	WSURL             string
	Weight            int
	Role              Role
	RequestTimeout    time.Duration
	MessageTimeout    time.Duration
	ReconnectInterval time.Duration
	CircuitBreaker    CircuitBreakerConfig
	Metrics           metrics.Metricer
	Logger            zerolog.Logger
}

// NewUpstream creates a new Upstream instance
func NewUpstream(cfg Config) *Upstream {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   cfg.RequestTimeout,
	}

	m := cfg.Metrics
	if m == nil {
		m = metrics.NoopMetrics{}
	}
	weight := cfg.Weight
	if weight <= 0 {
		weight = 1
	}
	role := cfg.Role
	if role == "" {
		role = RoleMain
	}

	return &Upstream{
		name:              cfg.Name,
		rpcURL:            cfg.RPCURL,
		wsURL:             cfg.WSURL,
		weight:            weight,
		role:              role,
		messageTimeout:    cfg.MessageTimeout,
		reconnectInterval: cfg.ReconnectInterval,
		httpClient:        httpClient,
		status:            NewStatus(),
		breaker:           NewCircuitBreaker(cfg.CircuitBreaker),
		metrics:           m,
		logger:            cfg.Logger.With().Str("upstream", cfg.Name).Logger(),
	}
}

// NewUpstreamFromConfig creates an Upstream from config
func NewUpstreamFromConfig(cfg config.UpstreamConfig, globalCfg *config.Config, m metrics.Metricer, logger zerolog.Logger) *Upstream {
	return NewUpstream(Config{
		Name:              cfg.Name,
		RPCURL:            cfg.RPCURL,
		WSURL:             cfg.WSURL,
		Weight:            cfg.Weight,
		Role:              RoleFromConfig(cfg.Role),
		RequestTimeout:    globalCfg.GetRequestTimeoutDuration(),
		MessageTimeout:    globalCfg.GetUpstreamMessageTimeoutDuration(),
		ReconnectInterval: globalCfg.GetUpstreamReconnectIntervalDuration(),
		CircuitBreaker:    CircuitBreakerConfigFrom(globalCfg.CircuitBreaker),
		Metrics:           m,
		Logger:            logger,
	})
}

// Name returns the upstream name
func (u *Upstream) Name() string {
	return u.name
}

// Weight returns the weight for load balancing
func (u *Upstream) Weight() int {
	return u.weight
}

// Role returns the upstream role
func (u *Upstream) Role() Role {
	return u.role
}

// IsMain returns true if this is a main upstream
func (u *Upstream) IsMain() bool {
	return u.role == RoleMain
}

// IsFallback returns true if this is a fallback upstream
func (u *Upstream) IsFallback() bool {
	return u.role == RoleFallback
}

// IsHealthy returns the health status
func (u *Upstream) IsHealthy() bool {
	return u.status.IsHealthy()
}

// SetHealthy sets the health status
func (u *Upstream) SetHealthy(healthy bool) {
	u.status.SetHealthy(healthy)
}

// IsAvailable returns true if the upstream is healthy and its breaker admits a request
func (u *Upstream) IsAvailable() bool {
	return u.IsHealthy() && u.breaker.AllowRequest()
}

// BreakerState returns the circuit breaker state name
func (u *Upstream) BreakerState() string {
	return u.breaker.State()
}

// GetCurrentBlock returns the highest block seen from this upstream
func (u *Upstream) GetCurrentBlock() uint64 {
	return u.status.GetCurrentBlock()
}

// GetLastBlockTime returns the time of the last block update
func (u *Upstream) GetLastBlockTime() time.Time {
	return u.status.GetLastBlockTime()
}

// UpdateBlock updates the block if the new value is higher
func (u *Upstream) UpdateBlock(block uint64) bool {
	return u.status.UpdateBlock(block)
}

// HasWS returns true if WebSocket URL is configured
func (u *Upstream) HasWS() bool {
	return u.wsURL != ""
}

// ExecuteHTTP sends a JSON-RPC request via HTTP
func (u *Upstream) ExecuteHTTP(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if u.rpcURL == "" {
		return nil, fmt.Errorf("HTTP RPC URL not configured")
	}

	reqBytes, err := req.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.rpcURL, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := u.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(body))
	}

	rpcResp, err := jsonrpc.ParseResponse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return rpcResp, nil
}

// Call executes method and decodes the result into result.
// A JSON-RPC error answer is returned as *jsonrpc.Error.
func (u *Upstream) Call(ctx context.Context, method string, params interface{}, result interface{}) (err error) {
	onDone := u.metrics.RecordUpstreamRequest(u.name, method)
	defer func() {
		onDone(err)
		u.recordOutcome(err)
	}()

	req, err := jsonrpc.NewRequest(method, params, jsonrpc.NewIDInt(u.reqID.Add(1)))
	if err != nil {
		return err
	}

	resp, err := u.ExecuteHTTP(ctx, req)
	if err != nil {
		return err
	}

	if resp.HasError() {
		return resp.Error
	}

	if err := resp.GetResultAs(result); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// recordOutcome feeds the breaker. Final contract errors count as success:
// the upstream answered correctly.
func (u *Upstream) recordOutcome(err error) {
	var rpcErr *jsonrpc.Error
	switch {
	case err == nil:
		u.breaker.RecordSuccess()
	case errors.As(err, &rpcErr) && !rpcErr.IsRetryable():
		u.breaker.RecordSuccess()
	case errors.Is(err, context.Canceled):
	default:
		u.breaker.RecordFailure()
	}
}

// BlockNumber returns the upstream head via eth_blockNumber and records it
func (u *Upstream) BlockNumber(ctx context.Context) (uint64, error) {
	var hex string
	if err := u.Call(ctx, "eth_blockNumber", nil, &hex); err != nil {
		return 0, err
	}
	block, err := blockparam.ParseNumber(hex)
	if err != nil {
		return 0, err
	}
	u.UpdateBlock(block)
	return block, nil
}

// CallContract executes a read-only eth_call
func (u *Upstream) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	params, err := ethCallParams(msg, blockNumber)
	if err != nil {
		return nil, err
	}

	var result hexutil.Bytes
	if err := u.Call(ctx, "eth_call", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func ethCallParams(msg ethereum.CallMsg, blockNumber *big.Int) ([]interface{}, error) {
	if msg.To == nil {
		return nil, fmt.Errorf("eth_call requires a target address")
	}

	call := jsonrpc.CallObject{
		To:   msg.To.Hex(),
		Data: hexutil.Encode(msg.Data),
	}
	if msg.From != (common.Address{}) {
		call.From = msg.From.Hex()
	}
	return []interface{}{call, blockparam.Encode(blockNumber)}, nil
}

// StartWS establishes the WebSocket connection for this upstream
func (u *Upstream) StartWS(ctx context.Context) error {
	if u.wsURL == "" {
		return fmt.Errorf("WebSocket URL not configured")
	}
	if u.wsClient != nil {
		return nil
	}

	client := NewWSClient(u.wsURL, u.messageTimeout, u.reconnectInterval, u.logger)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	u.wsClient = client
	return nil
}

// SubscribeNewHeads subscribes to newHeads on the upstream WebSocket.
// Headers that fail to decode are logged and dropped.
func (u *Upstream) SubscribeNewHeads(ctx context.Context, onHead func(jsonrpc.BlockHeader)) (string, error) {
	if u.wsClient == nil {
		return "", ErrNotConnected
	}
	return u.wsClient.Subscribe(ctx, "newHeads", func(result json.RawMessage) {
		var header jsonrpc.BlockHeader
		if err := json.Unmarshal(result, &header); err != nil {
			u.logger.Warn().Err(err).Msg("failed to parse block header")
			return
		}
		onHead(header)
	})
}

// Close closes all connections
func (u *Upstream) Close() {
	if u.wsClient != nil {
		u.wsClient.Close()
		u.wsClient = nil
	}
	u.httpClient.CloseIdleConnections()
}
