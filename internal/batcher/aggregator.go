package batcher

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"multicallgofer/internal/callkey"
	"multicallgofer/internal/metrics"
	"multicallgofer/internal/multicall"
	"multicallgofer/internal/optional"
)

// BatchFetcher executes one deduplicated batch
type BatchFetcher interface {
	Fetch(ctx context.Context, calls []callkey.Call, minHeight uint64) (*multicall.Batch, error)
}

// Aggregator maps ordered optional calls onto raw results with one remote batch
type Aggregator struct {
	fetcher BatchFetcher
	source  HeightSource
	margin  uint64
	metrics metrics.Metricer
	logger  zerolog.Logger
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithSafetyMargin overrides DefaultSafetyMargin
func WithSafetyMargin(margin uint64) Option {
	return func(a *Aggregator) {
		a.margin = margin
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m metrics.Metricer) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// NewAggregator creates a new Aggregator
func NewAggregator(fetcher BatchFetcher, source HeightSource, logger zerolog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		fetcher: fetcher,
		source:  source,
		margin:  DefaultSafetyMargin,
		metrics: metrics.NoopMetrics{},
		logger:  logger.With().Str("component", "batcher").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// LatestHeight returns the current height minus the safety margin, saturating at 0
func (a *Aggregator) LatestHeight(ctx context.Context) (uint64, error) {
	height, err := a.source.CurrentHeight(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, fmt.Errorf("failed to get current height: %w", err)
	}

	if height <= a.margin {
		return 0, nil
	}
	latest := height - a.margin
	a.metrics.RecordHeight(latest)
	return latest, nil
}

// Resolve returns one result per input call, in input order.
// Stale, transport and cancellation errors fail the whole resolution.
func (a *Aggregator) Resolve(ctx context.Context, calls []optional.Value[callkey.Call]) ([]RawResult, error) {
	results := make([]RawResult, len(calls))
	keys := make([]callkey.Key, len(calls))
	sent := make([]bool, len(calls))

	index := make(map[callkey.Key]int)
	unique := make([]callkey.Call, 0, len(calls))

	for i, entry := range calls {
		c, ok := entry.Get()
		if !ok {
			continue
		}
		key, err := callkey.Encode(c)
		if err != nil {
			a.logger.Debug().
				Err(err).
				Int("index", i).
				Msg("skipping malformed call")
			continue
		}
		keys[i] = key
		sent[i] = true
		if _, exists := index[key]; !exists {
			index[key] = len(unique)
			unique = append(unique, c)
		}
	}

	a.metrics.RecordResolve(len(calls), len(unique))

	if len(unique) == 0 {
		return results, nil
	}

	minHeight, err := a.LatestHeight(ctx)
	if err != nil {
		return nil, err
	}

	onDone := a.metrics.RecordFetch(len(unique))
	batch, err := a.fetcher.Fetch(ctx, unique, minHeight)
	onDone(err)
	if err != nil {
		return nil, err
	}
	if len(batch.Results) != len(unique) {
		return nil, fmt.Errorf("%w: got %d results for %d calls", multicall.ErrTransportFailure, len(batch.Results), len(unique))
	}

	byKey := make(map[callkey.Key][]byte, len(unique))
	for key, pos := range index {
		byKey[key] = batch.Results[pos]
	}

	for i := range calls {
		if !sent[i] {
			continue
		}
		data := byKey[keys[i]]
		if len(data) == 0 {
			data = nil
		}
		results[i] = RawResult{Valid: true, Data: data, Height: batch.Height}
	}

	a.logger.Debug().
		Int("calls", len(calls)).
		Int("unique", len(unique)).
		Uint64("height", batch.Height).
		Uint64("minHeight", minHeight).
		Msg("resolved batch")

	return results, nil
}
