package multicall

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"multicallgofer/internal/callkey"
)

// fakeMulticall decodes the packed request and answers it with canned return data
type fakeMulticall struct {
	t       *testing.T
	abi     abi.ABI
	height  int64
	answers map[common.Address][]byte
	lastTo  common.Address
	err     error
}

func newFakeMulticall(t *testing.T, height int64, answers map[common.Address][]byte) *fakeMulticall {
	parsed, err := abi.JSON(strings.NewReader(multicallABI))
	require.NoError(t, err)
	return &fakeMulticall{t: t, abi: parsed, height: height, answers: answers}
}

func (m *fakeMulticall) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.lastTo = *msg.To

	method, err := m.abi.MethodById(msg.Data[:4])
	require.NoError(m.t, err)

	args, err := method.Inputs.Unpack(msg.Data[4:])
	require.NoError(m.t, err)

	var calls []contractCall
	switch method.Name {
	case "aggregate":
		calls = *abi.ConvertType(args[0], new([]contractCall)).(*[]contractCall)
		returnData := make([][]byte, len(calls))
		for i, c := range calls {
			returnData[i] = m.answers[c.Target]
		}
		return method.Outputs.Pack(big.NewInt(m.height), returnData)

	case "tryBlockAndAggregate":
		require.Equal(m.t, false, args[0])
		calls = *abi.ConvertType(args[1], new([]contractCall)).(*[]contractCall)
		results := make([]contractResult, len(calls))
		for i, c := range calls {
			data, ok := m.answers[c.Target]
			results[i] = contractResult{Success: ok, ReturnData: data}
		}
		return method.Outputs.Pack(big.NewInt(m.height), [32]byte{}, results)
	}

	m.t.Fatalf("unexpected method %s", method.Name)
	return nil, nil
}

var (
	multicallAddress = common.HexToAddress("0x5ba1e12693dc8f9c48aad8770482f4739beed696")
	targetA          = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	targetB          = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func TestContractEndpoint_TryBlockAndAggregate(t *testing.T) {
	caller := newFakeMulticall(t, 200, map[common.Address][]byte{
		targetA: common.LeftPadBytes([]byte{1}, 32),
	})
	endpoint, err := NewContractEndpoint(caller, multicallAddress, ModeTryBlockAndAggregate)
	require.NoError(t, err)

	height, results, err := endpoint.Aggregate(context.Background(), []callkey.Call{
		callkey.NewCall(targetA, []byte{0x70, 0xa0, 0x82, 0x31}),
		callkey.NewCall(targetB, []byte{0x70, 0xa0, 0x82, 0x31}),
	})
	require.NoError(t, err)
	require.Equal(t, uint64(200), height)
	require.Len(t, results, 2)
	require.Equal(t, common.LeftPadBytes([]byte{1}, 32), results[0])
	require.Empty(t, results[1])
	require.Equal(t, multicallAddress, caller.lastTo)
}

func TestContractEndpoint_Aggregate(t *testing.T) {
	caller := newFakeMulticall(t, 77, map[common.Address][]byte{
		targetA: {0x01},
		targetB: {0x02},
	})
	endpoint, err := NewContractEndpoint(caller, multicallAddress, ModeAggregate)
	require.NoError(t, err)

	height, results, err := endpoint.Aggregate(context.Background(), []callkey.Call{
		callkey.NewCall(targetB, nil),
		callkey.NewCall(targetA, nil),
	})
	require.NoError(t, err)
	require.Equal(t, uint64(77), height)
	require.Equal(t, [][]byte{{0x02}, {0x01}}, results)
}

func TestContractEndpoint_DefaultMode(t *testing.T) {
	endpoint, err := NewContractEndpoint(nil, multicallAddress, "")
	require.NoError(t, err)
	require.Equal(t, ModeTryBlockAndAggregate, endpoint.Mode())

	_, err = NewContractEndpoint(nil, multicallAddress, "tryAggregate3")
	require.Error(t, err)
}

func TestContractEndpoint_CallerError(t *testing.T) {
	caller := newFakeMulticall(t, 1, nil)
	caller.err = errors.New("execution reverted")
	endpoint, err := NewContractEndpoint(caller, multicallAddress, ModeAggregate)
	require.NoError(t, err)

	_, _, err = endpoint.Aggregate(context.Background(), []callkey.Call{callkey.NewCall(targetA, nil)})
	require.ErrorIs(t, err, caller.err)
}

func TestSignatures(t *testing.T) {
	require.Equal(t, "getEthBalance(address)", EthBalanceSignature.String())
	require.Equal(t, "getBlockNumber()", BlockNumberSignature.String())
}
