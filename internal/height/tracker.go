package height

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"multicallgofer/internal/blockparam"
	"multicallgofer/internal/jsonrpc"
	"multicallgofer/internal/multicall"
	"multicallgofer/internal/upstream"
)

// TrackerConfig configures a Tracker
type TrackerConfig struct {
	PollInterval      time.Duration
	BlockLagThreshold uint64
	DedupCacheSize    int
}

// Tracker follows the chain head across all upstreams.
// Upstreams with a WebSocket URL push newHeads; the rest are polled.
// Upstreams lagging the highest head by more than the threshold are marked unhealthy.
type Tracker struct {
	upstreams    []*upstream.Upstream
	pollInterval time.Duration
	lagThreshold uint64
	logger       zerolog.Logger

	// block number -> hash of the header last seen at that height
	heads  *lru.Cache[uint64, string]
	reorgs atomic.Uint64

	mu       sync.RWMutex
	maxBlock uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTracker creates a Tracker over upstreams
func NewTracker(upstreams []*upstream.Upstream, cfg TrackerConfig, logger zerolog.Logger) (*Tracker, error) {
	size := cfg.DedupCacheSize
	if size <= 0 {
		size = 1024
	}
	heads, err := lru.New[uint64, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		upstreams:    upstreams,
		pollInterval: cfg.PollInterval,
		lagThreshold: cfg.BlockLagThreshold,
		logger:       logger.With().Str("component", "height").Logger(),
		heads:        heads,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start fetches the initial heads, then follows new heads until Stop
func (t *Tracker) Start(ctx context.Context) {
	t.fetchAll(ctx)

	for _, u := range t.upstreams {
		if u.HasWS() && t.subscribe(ctx, u) {
			continue
		}
		if t.pollInterval > 0 {
			t.wg.Add(1)
			go t.monitorWithPolling(u)
		}
	}

	t.logger.Info().
		Uint64("maxBlock", t.GetMaxBlock()).
		Int("upstreams", len(t.upstreams)).
		Msg("head tracker started")
}

// Stop stops polling; WebSocket connections are closed with the upstreams
func (t *Tracker) Stop() {
	t.cancel()
	t.wg.Wait()
}

// CurrentHeight implements batcher.HeightSource. Before any head has been
// seen it polls all upstreams once.
func (t *Tracker) CurrentHeight(ctx context.Context) (uint64, error) {
	if height := t.GetMaxBlock(); height > 0 {
		return height, nil
	}

	t.fetchAll(ctx)
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if height := t.GetMaxBlock(); height > 0 {
		return height, nil
	}
	return 0, fmt.Errorf("%w: no upstream reported a head", multicall.ErrTransportFailure)
}

// GetMaxBlock returns the highest head seen
func (t *Tracker) GetMaxBlock() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxBlock
}

// Reorgs returns how many heads replaced an already seen header at the same height
func (t *Tracker) Reorgs() uint64 {
	return t.reorgs.Load()
}

// OnHead records a newHeads header pushed by u
func (t *Tracker) OnHead(u *upstream.Upstream, header jsonrpc.BlockHeader) {
	block, err := blockparam.ParseNumber(header.Number)
	if err != nil {
		t.logger.Warn().Err(err).Str("upstream", u.Name()).Msg("failed to parse block number")
		return
	}

	if header.Hash != "" {
		if previous, ok := t.heads.Peek(block); ok && previous != header.Hash {
			t.reorgs.Add(1)
			t.logger.Warn().
				Uint64("block", block).
				Str("previous", previous).
				Str("hash", header.Hash).
				Str("upstream", u.Name()).
				Msg("head replaced at same height")
		}
		t.heads.Add(block, header.Hash)
	}

	t.record(u, block)
}

// fetchAll polls every upstream concurrently; individual failures mark the upstream unhealthy
func (t *Tracker) fetchAll(ctx context.Context) {
	var g errgroup.Group
	for _, u := range t.upstreams {
		g.Go(func() error {
			t.poll(ctx, u)
			return nil
		})
	}
	_ = g.Wait()
}

func (t *Tracker) subscribe(ctx context.Context, u *upstream.Upstream) bool {
	if err := u.StartWS(ctx); err != nil {
		t.logger.Warn().Err(err).Str("upstream", u.Name()).Msg("failed to connect WebSocket, falling back to polling")
		return false
	}
	_, err := u.SubscribeNewHeads(ctx, func(header jsonrpc.BlockHeader) {
		t.OnHead(u, header)
	})
	if err != nil {
		t.logger.Warn().Err(err).Str("upstream", u.Name()).Msg("failed to subscribe to newHeads, falling back to polling")
		return false
	}
	t.logger.Info().Str("upstream", u.Name()).Msg("subscribed to newHeads")
	return true
}

// monitorWithPolling polls an upstream with eth_blockNumber until Stop
func (t *Tracker) monitorWithPolling(u *upstream.Upstream) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.poll(t.ctx, u)
		}
	}
}

func (t *Tracker) poll(ctx context.Context, u *upstream.Upstream) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	block, err := u.BlockNumber(ctx)
	if err != nil {
		if ctx.Err() == nil {
			t.logger.Warn().Err(err).Str("upstream", u.Name()).Msg("failed to get block number")
			u.SetHealthy(false)
		}
		return
	}
	t.record(u, block)
}

func (t *Tracker) record(u *upstream.Upstream, block uint64) {
	u.UpdateBlock(block)
	if t.updateMaxBlock(block) {
		t.logger.Debug().
			Str("upstream", u.Name()).
			Uint64("block", block).
			Msg("new head")
		t.markLagging(block)
	}
	t.checkLag(u, t.GetMaxBlock())
}

// updateMaxBlock returns true if block is a new maximum
func (t *Tracker) updateMaxBlock(block uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if block > t.maxBlock {
		t.maxBlock = block
		return true
	}
	return false
}

// markLagging marks upstreams too far behind a new maximum as unhealthy
func (t *Tracker) markLagging(maxBlock uint64) {
	for _, u := range t.upstreams {
		current := u.GetCurrentBlock()
		if current == 0 || lag(maxBlock, current) <= t.lagThreshold {
			continue
		}
		if u.IsHealthy() {
			t.logger.Warn().
				Str("upstream", u.Name()).
				Uint64("currentBlock", current).
				Uint64("maxBlock", maxBlock).
				Msg("upstream lagging, marking unhealthy")
		}
		u.SetHealthy(false)
	}
}

// checkLag sets u's health from its distance to maxBlock
func (t *Tracker) checkLag(u *upstream.Upstream, maxBlock uint64) {
	current := u.GetCurrentBlock()
	if current == 0 {
		return
	}
	healthy := lag(maxBlock, current) <= t.lagThreshold
	if healthy != u.IsHealthy() {
		t.logger.Info().
			Str("upstream", u.Name()).
			Uint64("currentBlock", current).
			Uint64("maxBlock", maxBlock).
			Bool("healthy", healthy).
			Msg("upstream health changed")
	}
	u.SetHealthy(healthy)
}

func lag(maxBlock, current uint64) uint64 {
	if current >= maxBlock {
		return 0
	}
	return maxBlock - current
}
