package batcher

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"multicallgofer/internal/callkey"
	"multicallgofer/internal/multicall"
	"multicallgofer/internal/optional"
)

type fakeFetcher struct {
	height    uint64
	answers   map[string][]byte
	err       error
	requests  [][]callkey.Call
	minHeight []uint64
}

func (f *fakeFetcher) Fetch(_ context.Context, calls []callkey.Call, minHeight uint64) (*multicall.Batch, error) {
	f.requests = append(f.requests, calls)
	f.minHeight = append(f.minHeight, minHeight)
	if f.err != nil {
		return nil, f.err
	}
	results := make([][]byte, len(calls))
	for i, c := range calls {
		results[i] = f.answers[c.Address]
	}
	return &multicall.Batch{Results: results, Height: f.height}, nil
}

type fakeHeight struct {
	height uint64
	err    error
	calls  int
}

func (h *fakeHeight) CurrentHeight(context.Context) (uint64, error) {
	h.calls++
	return h.height, h.err
}

var (
	callA = callkey.Call{Address: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", CallData: "0x0902f1ac"}
	callB = callkey.Call{Address: "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", CallData: "0x0902f1ac"}
)

func newTestAggregator(fetcher *fakeFetcher, height *fakeHeight) *Aggregator {
	return NewAggregator(fetcher, height, zerolog.Nop())
}

func TestResolve_PreservesOrder(t *testing.T) {
	fetcher := &fakeFetcher{height: 120, answers: map[string][]byte{
		callA.Address: {0x01},
		callB.Address: {0x02},
	}}
	agg := newTestAggregator(fetcher, &fakeHeight{height: 125})

	results, err := agg.Resolve(context.Background(), []optional.Value[callkey.Call]{
		optional.Some(callA),
		optional.None[callkey.Call](),
		optional.Some(callB),
	})
	require.NoError(t, err)
	require.Equal(t, []RawResult{
		{Valid: true, Data: []byte{0x01}, Height: 120},
		InvalidResult,
		{Valid: true, Data: []byte{0x02}, Height: 120},
	}, results)

	require.Len(t, fetcher.requests, 1)
	require.Equal(t, []callkey.Call{callA, callB}, fetcher.requests[0])
	require.Equal(t, uint64(115), fetcher.minHeight[0])
}

func TestResolve_Deduplicates(t *testing.T) {
	fetcher := &fakeFetcher{height: 50, answers: map[string][]byte{callA.Address: {0x0a}}}
	agg := newTestAggregator(fetcher, &fakeHeight{height: 50})

	results, err := agg.Resolve(context.Background(), optional.All([]callkey.Call{callA, callA}))
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, results[0], results[1])
	require.Equal(t, []callkey.Call{callA}, fetcher.requests[0])
}

func TestResolve_EmptyDataIsValid(t *testing.T) {
	fetcher := &fakeFetcher{height: 9, answers: map[string][]byte{callB.Address: {}}}
	agg := newTestAggregator(fetcher, &fakeHeight{height: 9})

	results, err := agg.Resolve(context.Background(), optional.All([]callkey.Call{callA, callB}))
	require.NoError(t, err)
	for _, r := range results {
		require.True(t, r.Valid)
		require.Nil(t, r.Data)
		require.Equal(t, uint64(9), r.Height)
	}
}

func TestResolve_MalformedCallIsAbsent(t *testing.T) {
	fetcher := &fakeFetcher{height: 30, answers: map[string][]byte{callA.Address: {0x01}}}
	agg := newTestAggregator(fetcher, &fakeHeight{height: 30})

	upper := callkey.Call{Address: callB.Address, CallData: "0x0902F1AC"}
	results, err := agg.Resolve(context.Background(), optional.All([]callkey.Call{upper, callA}))
	require.NoError(t, err)
	require.Equal(t, InvalidResult, results[0])
	require.True(t, results[1].Valid)
	require.Equal(t, []callkey.Call{callA}, fetcher.requests[0])
}

func TestResolve_NoPresentCalls(t *testing.T) {
	fetcher := &fakeFetcher{}
	height := &fakeHeight{height: 100}
	agg := newTestAggregator(fetcher, height)

	results, err := agg.Resolve(context.Background(), []optional.Value[callkey.Call]{
		optional.None[callkey.Call](),
		optional.Some(callkey.Call{Address: "0x01", CallData: "0x"}),
	})
	require.NoError(t, err)
	require.Equal(t, []RawResult{InvalidResult, InvalidResult}, results)
	require.Empty(t, fetcher.requests)
	require.Zero(t, height.calls)

	results, err = agg.Resolve(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestResolve_PropagatesBatchFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"stale", &multicall.StaleResponseError{Height: 40, MinHeight: 50}},
		{"transport", fmt.Errorf("%w: refused", multicall.ErrTransportFailure)},
		{"canceled", context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &fakeFetcher{err: tt.err}
			agg := newTestAggregator(fetcher, &fakeHeight{height: 60})

			results, err := agg.Resolve(context.Background(), optional.All([]callkey.Call{callA}))
			require.ErrorIs(t, err, tt.err)
			require.Nil(t, results)
			require.Len(t, fetcher.requests, 1)
		})
	}
}

func TestResolve_HeightSourceFailure(t *testing.T) {
	cause := fmt.Errorf("%w: unreachable", multicall.ErrTransportFailure)
	fetcher := &fakeFetcher{}
	agg := newTestAggregator(fetcher, &fakeHeight{err: cause})

	_, err := agg.Resolve(context.Background(), optional.All([]callkey.Call{callA}))
	require.ErrorIs(t, err, multicall.ErrTransportFailure)
	require.Empty(t, fetcher.requests)
}

func TestLatestHeight_Margin(t *testing.T) {
	tests := []struct {
		height uint64
		margin uint64
		want   uint64
	}{
		{100, DefaultSafetyMargin, 90},
		{10, DefaultSafetyMargin, 0},
		{3, DefaultSafetyMargin, 0},
		{100, 0, 100},
	}

	for _, tt := range tests {
		agg := NewAggregator(&fakeFetcher{}, &fakeHeight{height: tt.height}, zerolog.Nop(), WithSafetyMargin(tt.margin))
		got, err := agg.LatestHeight(context.Background())
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}
}

func TestLatestHeight_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	agg := newTestAggregator(&fakeFetcher{}, &fakeHeight{err: errors.New("dial failed")})
	_, err := agg.LatestHeight(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
