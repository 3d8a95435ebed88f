package pairs

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"multicallgofer/internal/batcher"
	"multicallgofer/internal/multicall"
	"multicallgofer/internal/multicall/multicalltest"
	"multicallgofer/internal/optional"
	"multicallgofer/internal/query"
	"multicallgofer/internal/tokens"
)

var (
	uniswapFactory  = common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	uniswapInitCode = common.HexToHash("0x96e8ac4277198ff8b6f785478aa9a39f403cb768dd02cbee326c3e7da348845f")

	usdc = tokens.NewToken(1, common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), 6, "USDC", "USD Coin")
	weth = tokens.NewToken(1, common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), 18, "WETH", "Wrapped Ether")
	dai  = tokens.NewToken(1, common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), 18, "DAI", "Dai Stablecoin")
)

func newResolver(endpoint *multicalltest.Endpoint, height uint64) *Resolver {
	fetcher := multicall.NewFetcher(endpoint, zerolog.Nop())
	agg := batcher.NewAggregator(fetcher, multicalltest.StaticHeight(height), zerolog.Nop())
	return NewResolver(query.NewMulticaller(agg, zerolog.Nop()), uniswapFactory, uniswapInitCode)
}

func TestPairAddress_UniswapV2(t *testing.T) {
	want := common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")

	require.Equal(t, want, PairAddress(uniswapFactory, uniswapInitCode, usdc.Address, weth.Address))
	require.Equal(t, want, PairAddress(uniswapFactory, uniswapInitCode, weth.Address, usdc.Address))
}

func TestSortTokens(t *testing.T) {
	a, b := SortTokens(weth.Address, usdc.Address)
	require.Equal(t, usdc.Address, a)
	require.Equal(t, weth.Address, b)

	a, b = SortTokens(usdc.Address, weth.Address)
	require.Equal(t, usdc.Address, a)
	require.Equal(t, weth.Address, b)
}

func TestPairs(t *testing.T) {
	usdcWeth := PairAddress(uniswapFactory, uniswapInitCode, usdc.Address, weth.Address)

	endpoint := multicalltest.NewEndpoint(500)
	endpoint.Return(usdcWeth, GetReservesSignature, big.NewInt(3_000_000_000), big.NewInt(1_000_000_000_000_000_000), uint32(1))
	r := newResolver(endpoint, 500)

	results, err := r.Pairs(context.Background(), [][2]optional.Value[tokens.Token]{
		{optional.Some(weth), optional.Some(usdc)},
		{optional.Some(dai), optional.Some(weth)},
		{optional.Some(usdc), optional.Some(usdc)},
		{optional.None[tokens.Token](), optional.Some(usdc)},
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	require.Equal(t, StateExists, results[0].State)
	require.Equal(t, usdcWeth, results[0].Pair.Address)
	require.Equal(t, usdc, results[0].Pair.Reserve0.Token)
	require.Equal(t, "3000", results[0].Pair.Reserve0.String())
	require.Equal(t, "1", results[0].Pair.Reserve1.String())

	require.Equal(t, StateNotExists, results[1].State)
	require.Nil(t, results[1].Pair)
	require.Equal(t, StateInvalid, results[2].State)
	require.Equal(t, StateInvalid, results[3].State)

	batches := endpoint.Batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
}

func TestPair_Loading(t *testing.T) {
	endpoint := multicalltest.NewEndpoint(5)
	// height within the safety margin leaves no latest height to judge against
	r := newResolver(endpoint, 5)

	result, err := r.Pair(context.Background(), optional.Some(usdc), optional.Some(weth))
	require.NoError(t, err)
	require.Equal(t, StateLoading, result.State)
}

func TestPair_MidPrice(t *testing.T) {
	p := &Pair{
		Reserve0: tokens.NewAmount(usdc, big.NewInt(3_000_000_000)),
		Reserve1: tokens.NewAmount(weth, big.NewInt(1_000_000_000_000_000_000)),
	}
	price, ok := p.MidPrice()
	require.True(t, ok)
	require.Equal(t, "0.0003333333333333", price)

	empty := &Pair{Reserve0: tokens.NewAmount(usdc, big.NewInt(0)), Reserve1: p.Reserve1}
	_, ok = empty.MidPrice()
	require.False(t, ok)
}
