package upstream

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"

	"multicallgofer/internal/blockparam"
	"multicallgofer/internal/config"
	"multicallgofer/internal/jsonrpc"
	"multicallgofer/internal/metrics"
)

// Pool is the set of upstreams a request can be sent to.
// Main upstreams are preferred; fallbacks serve only when no main is available.
type Pool struct {
	upstreams []*Upstream
	selector  Selector
	logger    zerolog.Logger
	mu        sync.RWMutex
}

// NewPool creates a Pool over upstreams
func NewPool(upstreams []*Upstream, logger zerolog.Logger) *Pool {
	return &Pool{
		upstreams: upstreams,
		logger:    logger.With().Str("component", "pool").Logger(),
	}
}

// NewPoolFromConfig creates a Pool with one Upstream per configured entry
func NewPoolFromConfig(cfg *config.Config, m metrics.Metricer, logger zerolog.Logger) *Pool {
	upstreams := make([]*Upstream, 0, len(cfg.Upstreams))
	for _, upCfg := range cfg.Upstreams {
		upstreams = append(upstreams, NewUpstreamFromConfig(upCfg, cfg, m, logger))
	}
	return NewPool(upstreams, logger)
}

// SetSelector sets the load balancing strategy. Without one the pool
// walks upstreams in configuration order.
func (p *Pool) SetSelector(s Selector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selector = s
}

// GetAll returns all upstreams
func (p *Pool) GetAll() []*Upstream {
	result := make([]*Upstream, len(p.upstreams))
	copy(result, p.upstreams)
	return result
}

// GetHealthyMain returns available main upstreams
func (p *Pool) GetHealthyMain() []*Upstream {
	return p.filter(func(u *Upstream) bool { return u.IsMain() && u.IsAvailable() })
}

// GetHealthyFallback returns available fallback upstreams
func (p *Pool) GetHealthyFallback() []*Upstream {
	return p.filter(func(u *Upstream) bool { return u.IsFallback() && u.IsAvailable() })
}

// GetForRequest returns main upstreams if any are available, otherwise fallback
func (p *Pool) GetForRequest() []*Upstream {
	main := p.GetHealthyMain()
	if len(main) > 0 {
		return main
	}
	return p.GetHealthyFallback()
}

// GetWithWS returns upstreams that have WebSocket configured
func (p *Pool) GetWithWS() []*Upstream {
	return p.filter(func(u *Upstream) bool { return u.HasWS() })
}

// GetMaxBlock returns the highest block seen across all upstreams
func (p *Pool) GetMaxBlock() uint64 {
	var maxBlock uint64
	for _, u := range p.upstreams {
		if block := u.GetCurrentBlock(); block > maxBlock {
			maxBlock = block
		}
	}
	return maxBlock
}

func (p *Pool) filter(keep func(*Upstream) bool) []*Upstream {
	result := make([]*Upstream, 0, len(p.upstreams))
	for _, u := range p.upstreams {
		if keep(u) {
			result = append(result, u)
		}
	}
	return result
}

func (p *Pool) next(exclude map[string]bool) *Upstream {
	p.mu.RLock()
	selector := p.selector
	p.mu.RUnlock()

	if selector != nil {
		return selector.Next(exclude)
	}

	for _, candidates := range [][]*Upstream{p.GetHealthyMain(), p.GetHealthyFallback()} {
		for _, u := range candidates {
			if !exclude[u.Name()] {
				return u
			}
		}
	}
	return nil
}

// Call sends method to one upstream after another until one answers.
// Non-retryable JSON-RPC errors are returned as soon as they are seen.
func (p *Pool) Call(ctx context.Context, method string, params interface{}, result interface{}) error {
	return p.call(ctx, method, params, result, nil)
}

func (p *Pool) call(ctx context.Context, method string, params interface{}, result interface{}, exclude map[string]bool) error {
	tried := make(map[string]bool, len(p.upstreams))
	for name := range exclude {
		tried[name] = true
	}

	var lastErr error
	usedFallback := false

	for attempt := 0; attempt < len(p.upstreams); attempt++ {
		u := p.next(tried)
		if u == nil {
			break
		}
		tried[u.Name()] = true

		if u.IsFallback() && !usedFallback {
			usedFallback = true
			p.logger.Warn().
				Str("method", method).
				Msg("no main upstream available, using fallback")
		}

		err := u.Call(ctx, method, params, result)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		var rpcErr *jsonrpc.Error
		if errors.As(err, &rpcErr) && !rpcErr.IsRetryable() {
			return err
		}

		lastErr = err
		p.logger.Warn().
			Err(err).
			Str("upstream", u.Name()).
			Str("method", method).
			Int("attempt", attempt+1).
			Bool("isFallback", u.IsFallback()).
			Msg("upstream request failed")
	}

	if lastErr == nil {
		return ErrNoUpstreamsAvailable
	}
	return fmt.Errorf("%w: %w", ErrAllUpstreamsFailed, lastErr)
}

// BlockNumber returns eth_blockNumber from the first upstream that answers
func (p *Pool) BlockNumber(ctx context.Context) (uint64, error) {
	var hex string
	if err := p.Call(ctx, "eth_blockNumber", nil, &hex); err != nil {
		return 0, err
	}
	return blockparam.ParseNumber(hex)
}

// CallContract executes eth_call with failover. A call pinned to a block skips
// upstreams that have not reached it yet.
func (p *Pool) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var exclude map[string]bool
	if requested, ok := blockparam.RequestedNumber(blockNumber); ok && requested > 0 {
		for _, u := range p.GetForRequest() {
			if current := u.GetCurrentBlock(); current > 0 && current < requested {
				if exclude == nil {
					exclude = make(map[string]bool)
				}
				exclude[u.Name()] = true
			}
		}
	}

	params, err := ethCallParams(msg, blockNumber)
	if err != nil {
		return nil, err
	}

	var result hexutil.Bytes
	if err := p.call(ctx, "eth_call", params, &result, exclude); err != nil {
		return nil, err
	}
	return result, nil
}

// Close closes all upstream connections
func (p *Pool) Close() {
	for _, u := range p.upstreams {
		u.Close()
	}
	p.logger.Info().Msg("pool closed")
}
