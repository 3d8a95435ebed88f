package balances

import (
	"context"
	"errors"
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
	multicallAddress = common.HexToAddress("0x5ba1e12693dc8f9c48aad8770482f4739beed696")
	alice            = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob              = common.HexToAddress("0x2222222222222222222222222222222222222222")

	native = tokens.Native(1)
	usdc   = tokens.NewToken(1, common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), 6, "USDC", "USD Coin")
	dai    = tokens.NewToken(1, common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), 18, "DAI", "Dai Stablecoin")
)

func newResolver(endpoint *multicalltest.Endpoint, height uint64) *Resolver {
	fetcher := multicall.NewFetcher(endpoint, zerolog.Nop())
	agg := batcher.NewAggregator(fetcher, multicalltest.StaticHeight(height), zerolog.Nop())
	return NewResolver(query.NewMulticaller(agg, zerolog.Nop()), multicallAddress, native)
}

func ethBalanceHandler(balances map[common.Address]*big.Int) multicalltest.Handler {
	return func(args []any) ([]any, error) {
		balance, ok := balances[args[0].(common.Address)]
		if !ok {
			return nil, errors.New("revert")
		}
		return []any{balance}, nil
	}
}

func TestETHBalances(t *testing.T) {
	endpoint := multicalltest.NewEndpoint(100)
	endpoint.Handle(multicallAddress, multicall.EthBalanceSignature, ethBalanceHandler(map[common.Address]*big.Int{
		alice: big.NewInt(1_500_000_000_000_000_000),
		bob:   big.NewInt(0),
	}))
	r := newResolver(endpoint, 100)

	balances, err := r.ETHBalances(context.Background(), []string{
		bob.Hex(),
		"not-an-address",
		alice.Hex(),
		"0x1111111111111111111111111111111111111111",
	})
	require.NoError(t, err)
	require.Len(t, balances, 2)
	require.Equal(t, "1.5", balances[alice].String())
	require.Equal(t, "0", balances[bob].String())
	require.Equal(t, native, balances[alice].Token)

	batches := endpoint.Batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	for _, c := range batches[0] {
		require.Equal(t, multicallAddress, c.Target())
	}

	require.Contains(t, batches[0][0].CallData, common.Bytes2Hex(common.LeftPadBytes(alice.Bytes(), 32)))
}

func TestETHBalances_NoValidAddresses(t *testing.T) {
	endpoint := multicalltest.NewEndpoint(100)
	r := newResolver(endpoint, 100)

	balances, err := r.ETHBalances(context.Background(), []string{"0x12", ""})
	require.NoError(t, err)
	require.Empty(t, balances)
	require.Empty(t, endpoint.Batches())
}

func TestTokenBalancesWithLoading(t *testing.T) {
	endpoint := multicalltest.NewEndpoint(100)
	endpoint.Return(usdc.Address, tokens.BalanceOfSignature, big.NewInt(2_500_000))
	r := newResolver(endpoint, 100)

	balances, loading, err := r.TokenBalancesWithLoading(context.Background(), optional.Some(alice), []tokens.Token{usdc, dai, native})
	require.NoError(t, err)
	require.False(t, loading)
	require.Len(t, balances, 1)
	require.Equal(t, "2.5", balances[usdc.Address].String())
	require.Len(t, endpoint.Batches()[0], 2)
}

func TestTokenBalancesWithLoading_Loading(t *testing.T) {
	endpoint := multicalltest.NewEndpoint(5)
	endpoint.Return(usdc.Address, tokens.BalanceOfSignature, big.NewInt(1))
	r := newResolver(endpoint, 5)

	balances, loading, err := r.TokenBalancesWithLoading(context.Background(), optional.Some(alice), []tokens.Token{usdc})
	require.NoError(t, err)
	require.True(t, loading)
	require.Empty(t, balances)
}

func TestTokenBalances_NoAccount(t *testing.T) {
	endpoint := multicalltest.NewEndpoint(100)
	r := newResolver(endpoint, 100)

	balances, err := r.TokenBalances(context.Background(), optional.None[common.Address](), []tokens.Token{usdc})
	require.NoError(t, err)
	require.Empty(t, balances)
	require.Empty(t, endpoint.Batches())
}

func TestTokenBalance(t *testing.T) {
	endpoint := multicalltest.NewEndpoint(100)
	endpoint.Return(dai.Address, tokens.BalanceOfSignature, new(big.Int).Mul(big.NewInt(3), big.NewInt(1_000_000_000_000_000_000)))
	r := newResolver(endpoint, 100)

	balance, err := r.TokenBalance(context.Background(), optional.Some(bob), optional.Some(dai))
	require.NoError(t, err)
	amount, ok := balance.Get()
	require.True(t, ok)
	require.Equal(t, "3", amount.String())

	balance, err = r.TokenBalance(context.Background(), optional.Some(bob), optional.None[tokens.Token]())
	require.NoError(t, err)
	require.False(t, balance.IsPresent())
}

func TestCurrencyBalances(t *testing.T) {
	endpoint := multicalltest.NewEndpoint(100)
	endpoint.Return(usdc.Address, tokens.BalanceOfSignature, big.NewInt(7_000_000))
	endpoint.Handle(multicallAddress, multicall.EthBalanceSignature, ethBalanceHandler(map[common.Address]*big.Int{
		alice: big.NewInt(250_000_000_000_000_000),
	}))
	r := newResolver(endpoint, 100)

	result, err := r.CurrencyBalances(context.Background(), optional.Some(alice), []optional.Value[tokens.Token]{
		optional.Some(usdc),
		optional.None[tokens.Token](),
		optional.Some(native),
		optional.Some(dai),
	})
	require.NoError(t, err)
	require.Len(t, result, 4)

	usdcAmount, ok := result[0].Get()
	require.True(t, ok)
	require.Equal(t, "7", usdcAmount.String())
	require.False(t, result[1].IsPresent())
	nativeAmount, ok := result[2].Get()
	require.True(t, ok)
	require.Equal(t, "0.25", nativeAmount.String())
	require.False(t, result[3].IsPresent())
	require.Len(t, endpoint.Batches(), 2)
}

func TestETHBalances_TransportFailure(t *testing.T) {
	endpoint := multicalltest.NewEndpoint(100)
	endpoint.Fail(errors.New("connection reset"))
	r := newResolver(endpoint, 100)

	_, err := r.ETHBalances(context.Background(), []string{alice.Hex()})
	require.ErrorIs(t, err, multicall.ErrTransportFailure)
}
