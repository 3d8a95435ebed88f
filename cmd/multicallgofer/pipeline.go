package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"multicallgofer/internal/balancer"
	"multicallgofer/internal/balances"
	"multicallgofer/internal/batcher"
	"multicallgofer/internal/config"
	"multicallgofer/internal/height"
	"multicallgofer/internal/metrics"
	"multicallgofer/internal/multicall"
	"multicallgofer/internal/pairs"
	"multicallgofer/internal/query"
	"multicallgofer/internal/retry"
	"multicallgofer/internal/server"
	"multicallgofer/internal/tokens"
	"multicallgofer/internal/upstream"
)

// pipeline wires upstreams, the head tracker and the aggregator to the consumers
type pipeline struct {
	cfg        *config.Config
	metrics    metrics.Metricer
	registry   *prometheus.Registry
	pool       *upstream.Pool
	tracker    *height.Tracker
	aggregator *batcher.Aggregator
	caller     *query.Multicaller
	balances   *balances.Resolver
	pairs      *pairs.Resolver
	tokens     []tokens.Token
}

func newPipeline(cfg *config.Config, logger zerolog.Logger) (*pipeline, error) {
	p := &pipeline{cfg: cfg, metrics: metrics.NoopMetrics{}}
	if cfg.IsMetricsEnabled() {
		m := metrics.NewMetrics("default")
		m.RecordInfo(Version)
		p.metrics = m
		p.registry = m.Registry()
	}

	p.pool = upstream.NewPoolFromConfig(cfg, p.metrics, logger)
	p.pool.SetSelector(balancer.NewWeightedRoundRobin(p.pool))

	tracker, err := height.NewTracker(p.pool.GetAll(), height.TrackerConfig{
		PollInterval:      cfg.GetHeadPollIntervalDuration(),
		BlockLagThreshold: cfg.BlockLagThreshold,
		DedupCacheSize:    cfg.HeadDedupCacheSize,
	}, logger)
	if err != nil {
		p.pool.Close()
		return nil, err
	}
	p.tracker = tracker

	multicallAddress := common.HexToAddress(cfg.MulticallAddress)
	source := headSource(cfg, p.pool, tracker, multicallAddress)

	endpoint, err := multicall.NewContractEndpoint(p.pool, multicallAddress, multicall.Mode(cfg.MulticallMode))
	if err != nil {
		p.pool.Close()
		return nil, err
	}

	p.aggregator = batcher.NewAggregator(
		multicall.NewFetcher(endpoint, logger),
		source,
		logger,
		batcher.WithSafetyMargin(cfg.GetHeightSafetyMargin()),
		batcher.WithMetrics(p.metrics),
	)
	p.caller = query.NewMulticaller(p.aggregator, logger)
	p.balances = balances.NewResolver(p.caller, multicallAddress, tokens.Native(cfg.ChainID))

	if cfg.IsPairsEnabled() {
		p.pairs = pairs.NewResolver(p.caller, common.HexToAddress(cfg.Pairs.Factory), common.HexToHash(cfg.Pairs.InitCodeHash))
	}
	for _, t := range cfg.Tokens {
		p.tokens = append(p.tokens, tokens.NewToken(cfg.ChainID, common.HexToAddress(t.Address), t.Decimals, t.Symbol, t.Name))
	}

	logger.Info().
		Str("multicall", multicallAddress.Hex()).
		Str("mode", string(endpoint.Mode())).
		Str("heightSource", string(cfg.HeightSource)).
		Uint64("safetyMargin", cfg.GetHeightSafetyMargin()).
		Bool("pairs", p.pairs != nil).
		Int("tokens", len(p.tokens)).
		Msg("pipeline ready")

	return p, nil
}

// headSource picks the aggregator's height source. The tracker runs in every
// mode since it also drives upstream health.
func headSource(cfg *config.Config, pool *upstream.Pool, tracker *height.Tracker, multicallAddress common.Address) batcher.HeightSource {
	switch cfg.HeightSource {
	case config.HeightSourcePolling:
		return height.NewPolling(pool)
	case config.HeightSourceContract:
		return height.NewContract(pool, multicallAddress)
	}
	return tracker
}

func (p *pipeline) service(logger zerolog.Logger) (*server.Service, error) {
	service, err := server.NewService(server.ServiceConfig{
		ChainID:  p.cfg.ChainID,
		Caller:   p.caller,
		Heights:  p.aggregator,
		Balances: p.balances,
		Pairs:    p.pairs,
		Tokens:   p.tokens,
		Retry:    retry.NewPolicyFromConfig(p.cfg, logger),
		Metrics:  p.metrics,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return service, nil
}

// Close stops head tracking and closes upstream connections
func (p *pipeline) Close() {
	p.tracker.Stop()
	p.pool.Close()
}
