package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"multicallgofer/internal/jsonrpc"
)

// rpcNode is a minimal JSON-RPC node answering from a handler
type rpcNode struct {
	server   *httptest.Server
	requests atomic.Int64
	mu       sync.Mutex
	methods  []string
	params   []json.RawMessage
}

func newRPCNode(t *testing.T, handle func(req *jsonrpc.Request) (interface{}, *jsonrpc.Error)) *rpcNode {
	node := &rpcNode{}
	node.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		node.requests.Add(1)
		var req jsonrpc.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		node.mu.Lock()
		node.methods = append(node.methods, req.Method)
		node.params = append(node.params, req.Params)
		node.mu.Unlock()

		result, rpcErr := handle(&req)
		var resp *jsonrpc.Response
		if rpcErr != nil {
			resp = jsonrpc.NewErrorResponse(req.ID, rpcErr)
		} else {
			var err error
			resp, err = jsonrpc.NewResponse(req.ID, result)
			require.NoError(t, err)
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(node.server.Close)
	return node
}

func blockNumberNode(t *testing.T, hex string) *rpcNode {
	return newRPCNode(t, func(req *jsonrpc.Request) (interface{}, *jsonrpc.Error) {
		return hex, nil
	})
}

func newTestUpstream(name, url string, role Role) *Upstream {
	return NewUpstream(Config{
		Name:           name,
		RPCURL:         url,
		Role:           role,
		RequestTimeout: 2 * time.Second,
		Logger:         zerolog.Nop(),
	})
}

func TestUpstream_BlockNumber(t *testing.T) {
	node := blockNumberNode(t, "0x1b4")
	u := newTestUpstream("a", node.server.URL, RoleMain)

	block, err := u.BlockNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(436), block)
	require.Equal(t, uint64(436), u.GetCurrentBlock())
	require.False(t, u.GetLastBlockTime().IsZero())
	require.Equal(t, []string{"eth_blockNumber"}, node.methods)
}

func TestUpstream_CallContract(t *testing.T) {
	target := common.HexToAddress("0x5ba1e12693dc8f9c48aad8770482f4739beed696")
	node := newRPCNode(t, func(req *jsonrpc.Request) (interface{}, *jsonrpc.Error) {
		return "0x0000000000000000000000000000000000000000000000000000000000000007", nil
	})
	u := newTestUpstream("a", node.server.URL, RoleMain)

	out, err := u.CallContract(context.Background(), ethereum.CallMsg{To: &target, Data: []byte{0x42, 0xcb, 0xb1, 0x5c}}, nil)
	require.NoError(t, err)
	require.Equal(t, common.LeftPadBytes([]byte{7}, 32), out)
	require.JSONEq(t, `[{"to":"`+target.Hex()+`","data":"0x42cbb15c"},"latest"]`, string(node.params[0]))

	_, err = u.CallContract(context.Background(), ethereum.CallMsg{To: &target}, big.NewInt(100))
	require.NoError(t, err)
	require.Contains(t, string(node.params[1]), `"0x64"`)

	_, err = u.CallContract(context.Background(), ethereum.CallMsg{}, nil)
	require.Error(t, err)
}

func TestUpstream_RPCError(t *testing.T) {
	node := newRPCNode(t, func(req *jsonrpc.Request) (interface{}, *jsonrpc.Error) {
		return nil, jsonrpc.NewError(3, "execution reverted")
	})
	u := newTestUpstream("a", node.server.URL, RoleMain)

	var out string
	err := u.Call(context.Background(), "eth_call", nil, &out)
	var rpcErr *jsonrpc.Error
	require.True(t, errors.As(err, &rpcErr))
	require.Equal(t, "execution reverted", rpcErr.Message)
}

func TestUpstream_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	u := newTestUpstream("a", server.URL, RoleMain)
	_, err := u.BlockNumber(context.Background())
	require.ErrorContains(t, err, "HTTP error 503")
}

func TestPool_FailsOverToFallback(t *testing.T) {
	broken := newRPCNode(t, func(req *jsonrpc.Request) (interface{}, *jsonrpc.Error) {
		return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, "internal error")
	})
	healthy := blockNumberNode(t, "0x10")

	pool := NewPool([]*Upstream{
		newTestUpstream("main", broken.server.URL, RoleMain),
		newTestUpstream("fallback", healthy.server.URL, RoleFallback),
	}, zerolog.Nop())

	block, err := pool.BlockNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(16), block)
	require.Equal(t, int64(1), broken.requests.Load())
	require.Equal(t, int64(1), healthy.requests.Load())
}

func TestPool_NonRetryableErrorStops(t *testing.T) {
	reverting := newRPCNode(t, func(req *jsonrpc.Request) (interface{}, *jsonrpc.Error) {
		return nil, jsonrpc.NewError(3, "execution reverted")
	})
	other := blockNumberNode(t, "0x10")

	pool := NewPool([]*Upstream{
		newTestUpstream("a", reverting.server.URL, RoleMain),
		newTestUpstream("b", other.server.URL, RoleMain),
	}, zerolog.Nop())

	target := common.HexToAddress("0x01")
	_, err := pool.CallContract(context.Background(), ethereum.CallMsg{To: &target}, nil)
	require.ErrorContains(t, err, "execution reverted")
	require.Zero(t, other.requests.Load())
}

func TestPool_AllFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	pool := NewPool([]*Upstream{
		newTestUpstream("a", server.URL, RoleMain),
		newTestUpstream("b", server.URL, RoleFallback),
	}, zerolog.Nop())

	_, err := pool.BlockNumber(context.Background())
	require.ErrorIs(t, err, ErrAllUpstreamsFailed)

	for _, u := range pool.GetAll() {
		u.SetHealthy(false)
	}
	_, err = pool.BlockNumber(context.Background())
	require.ErrorIs(t, err, ErrNoUpstreamsAvailable)
}

func TestPool_SkipsUpstreamsBehindPinnedBlock(t *testing.T) {
	behind := blockNumberNode(t, "0x0")
	ahead := blockNumberNode(t, "0x")

	lagging := newTestUpstream("lagging", behind.server.URL, RoleMain)
	current := newTestUpstream("current", ahead.server.URL, RoleMain)
	lagging.UpdateBlock(90)
	current.UpdateBlock(120)

	pool := NewPool([]*Upstream{lagging, current}, zerolog.Nop())
	target := common.HexToAddress("0x01")
	_, err := pool.CallContract(context.Background(), ethereum.CallMsg{To: &target}, big.NewInt(100))
	require.NoError(t, err)
	require.Zero(t, behind.requests.Load())
	require.Equal(t, int64(1), ahead.requests.Load())
	require.Equal(t, uint64(120), pool.GetMaxBlock())
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Enabled:             true,
		FailureThreshold:    2,
		RecoveryTimeout:     time.Minute,
		HalfOpenMaxRequests: 1,
	})
	cb.now = func() time.Time { return now }

	require.True(t, cb.AllowRequest())
	cb.RecordFailure()
	require.Equal(t, "closed", cb.State())
	cb.RecordFailure()
	require.Equal(t, "open", cb.State())
	require.False(t, cb.AllowRequest())

	now = now.Add(time.Minute)
	require.True(t, cb.AllowRequest())
	require.Equal(t, "half-open", cb.State())
	cb.RecordSuccess()
	require.Equal(t, "closed", cb.State())

	disabled := NewCircuitBreaker(CircuitBreakerConfig{})
	for i := 0; i < 10; i++ {
		disabled.RecordFailure()
	}
	require.True(t, disabled.AllowRequest())
}

func TestUpstream_BreakerExcludesFromPool(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	u := NewUpstream(Config{
		Name:           "flaky",
		RPCURL:         server.URL,
		RequestTimeout: time.Second,
		CircuitBreaker: CircuitBreakerConfig{Enabled: true, FailureThreshold: 1, RecoveryTimeout: time.Hour},
		Logger:         zerolog.Nop(),
	})
	pool := NewPool([]*Upstream{u}, zerolog.Nop())

	_, err := pool.BlockNumber(context.Background())
	require.ErrorIs(t, err, ErrAllUpstreamsFailed)
	require.Equal(t, "open", u.BreakerState())
	require.Empty(t, pool.GetForRequest())
}

func TestUpstream_DefaultsToMainRole(t *testing.T) {
	u := NewUpstream(Config{Name: "plain", Logger: zerolog.Nop()})
	require.True(t, u.IsMain())
	require.Equal(t, 1, u.Weight())
	require.Equal(t, []*Upstream{u}, NewPool([]*Upstream{u}, zerolog.Nop()).GetHealthyMain())
}

func TestUpstream_SubscribeNewHeads(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req jsonrpc.Request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		resp, _ := jsonrpc.NewResponse(req.ID, "0xsub1")
		if err := conn.WriteJSON(resp); err != nil {
			return
		}

		notification := jsonrpc.SubscriptionNotification{
			JSONRPC: jsonrpc.Version,
			Method:  "eth_subscription",
			Params: jsonrpc.SubscriptionParams{
				Subscription: "0xsub1",
				Result:       json.RawMessage(`{"hash":"0xabc","parentHash":"0xdef","number":"0x2a","timestamp":"0x1"}`),
			},
		}
		// the handler is registered after the subscribe response, so keep pushing heads
		for {
			if err := conn.WriteJSON(notification); err != nil {
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	}))
	defer server.Close()

	u := NewUpstream(Config{
		Name:   "ws",
		RPCURL: server.URL,
		WSURL:  "ws" + strings.TrimPrefix(server.URL, "http"),
		Logger: zerolog.Nop(),
	})
	defer u.Close()

	_, err := u.SubscribeNewHeads(context.Background(), func(jsonrpc.BlockHeader) {})
	require.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, u.StartWS(context.Background()))

	heads := make(chan jsonrpc.BlockHeader, 1)
	subID, err := u.SubscribeNewHeads(context.Background(), func(h jsonrpc.BlockHeader) {
		select {
		case heads <- h:
		default:
		}
	})
	require.NoError(t, err)
	require.Equal(t, "0xsub1", subID)

	select {
	case h := <-heads:
		require.Equal(t, "0x2a", h.Number)
		require.Equal(t, "0xabc", h.Hash)
	case <-time.After(5 * time.Second):
		t.Fatal("no header received")
	}
}
