package multicall

import (
	"context"

	"github.com/rs/zerolog"

	"multicallgofer/internal/callkey"
)

// Endpoint executes an ordered list of calls in one remote request.
// results[i] must answer calls[i]; an empty slice means the call returned nothing.
type Endpoint interface {
	Aggregate(ctx context.Context, calls []callkey.Call) (height uint64, results [][]byte, err error)
}

// Batch is one answered batch
type Batch struct {
	Results [][]byte
	Height  uint64
}

// Fetcher is a one-shot batch transport with a freshness floor.
// It neither deduplicates nor validates calls and never retries.
type Fetcher struct {
	endpoint Endpoint
	logger   zerolog.Logger
}

// NewFetcher creates a new Fetcher
func NewFetcher(endpoint Endpoint, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		endpoint: endpoint,
		logger:   logger.With().Str("component", "fetcher").Logger(),
	}
}

// Fetch issues exactly one aggregated request for calls and rejects answers
// below minHeight with a StaleResponseError
func (f *Fetcher) Fetch(ctx context.Context, calls []callkey.Call, minHeight uint64) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	height, results, err := f.endpoint.Aggregate(ctx, calls)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		f.logger.Warn().
			Err(err).
			Int("calls", len(calls)).
			Msg("batch request failed")
		return nil, transportError("aggregate %d calls: %w", len(calls), err)
	}

	if len(results) != len(calls) {
		return nil, transportError("endpoint returned %d results for %d calls", len(results), len(calls))
	}

	if height < minHeight {
		f.logger.Debug().
			Uint64("height", height).
			Uint64("minHeight", minHeight).
			Msg("stale batch response")
		return nil, &StaleResponseError{Height: height, MinHeight: minHeight}
	}

	f.logger.Debug().
		Int("calls", len(calls)).
		Uint64("height", height).
		Msg("batch answered")

	return &Batch{Results: results, Height: height}, nil
}
