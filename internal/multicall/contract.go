package multicall

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"multicallgofer/internal/callkey"
	"multicallgofer/internal/signature"
)

// Mode selects the multicall contract method used for a batch
type Mode string

const (
	// ModeAggregate uses aggregate(); any reverting call fails the whole batch
	ModeAggregate Mode = "aggregate"
	// ModeTryBlockAndAggregate uses tryBlockAndAggregate(false, ...); reverting calls answer empty bytes
	ModeTryBlockAndAggregate Mode = "tryBlockAndAggregate"
)

// multicallABI covers the Multicall2 read surface, which is a superset of Multicall v1
const multicallABI = `[
  {"inputs":[{"components":[{"internalType":"address","name":"target","type":"address"},{"internalType":"bytes","name":"callData","type":"bytes"}],"internalType":"struct Multicall2.Call[]","name":"calls","type":"tuple[]"}],"name":"aggregate","outputs":[{"internalType":"uint256","name":"blockNumber","type":"uint256"},{"internalType":"bytes[]","name":"returnData","type":"bytes[]"}],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"bool","name":"requireSuccess","type":"bool"},{"components":[{"internalType":"address","name":"target","type":"address"},{"internalType":"bytes","name":"callData","type":"bytes"}],"internalType":"struct Multicall2.Call[]","name":"calls","type":"tuple[]"}],"name":"tryBlockAndAggregate","outputs":[{"internalType":"uint256","name":"blockNumber","type":"uint256"},{"internalType":"bytes32","name":"blockHash","type":"bytes32"},{"components":[{"internalType":"bool","name":"success","type":"bool"},{"internalType":"bytes","name":"returnData","type":"bytes"}],"internalType":"struct Multicall2.Result[]","name":"returnData","type":"tuple[]"}],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"address","name":"addr","type":"address"}],"name":"getEthBalance","outputs":[{"internalType":"uint256","name":"balance","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getBlockNumber","outputs":[{"internalType":"uint256","name":"blockNumber","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var (
	// EthBalanceSignature reads the native balance of an account through the multicall contract
	EthBalanceSignature = signature.MustParse("getEthBalance(address addr) returns (uint256 balance)")
	// BlockNumberSignature reads the current block number through the multicall contract
	BlockNumberSignature = signature.MustParse("getBlockNumber() returns (uint256 blockNumber)")
)

// ContractCaller executes a read-only contract call.
// Satisfied by ethclient.Client and upstream.Client.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type contractCall struct {
	Target   common.Address
	CallData []byte
}

type contractResult struct {
	Success    bool
	ReturnData []byte
}

// ContractEndpoint implements Endpoint on top of a deployed multicall contract
type ContractEndpoint struct {
	caller  ContractCaller
	address common.Address
	mode    Mode
	abi     abi.ABI
}

// NewContractEndpoint creates an endpoint for the multicall contract at address
func NewContractEndpoint(caller ContractCaller, address common.Address, mode Mode) (*ContractEndpoint, error) {
	switch mode {
	case "":
		mode = ModeTryBlockAndAggregate
	case ModeAggregate, ModeTryBlockAndAggregate:
	default:
		return nil, fmt.Errorf("unknown multicall mode %q", mode)
	}

	parsed, err := abi.JSON(strings.NewReader(multicallABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse multicall ABI: %w", err)
	}

	return &ContractEndpoint{
		caller:  caller,
		address: address,
		mode:    mode,
		abi:     parsed,
	}, nil
}

// Address returns the multicall contract address
func (e *ContractEndpoint) Address() common.Address {
	return e.address
}

// Mode returns the contract method used for batches
func (e *ContractEndpoint) Mode() Mode {
	return e.mode
}

// Aggregate packs calls into one multicall request and unpacks the per-call results
func (e *ContractEndpoint) Aggregate(ctx context.Context, calls []callkey.Call) (uint64, [][]byte, error) {
	packedCalls := make([]contractCall, len(calls))
	for i, c := range calls {
		packedCalls[i] = contractCall{Target: c.Target(), CallData: c.Data()}
	}

	var (
		input []byte
		err   error
	)
	if e.mode == ModeAggregate {
		input, err = e.abi.Pack(string(ModeAggregate), packedCalls)
	} else {
		input, err = e.abi.Pack(string(ModeTryBlockAndAggregate), false, packedCalls)
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to pack %s: %w", e.mode, err)
	}

	to := e.address
	output, err := e.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return 0, nil, err
	}

	if e.mode == ModeAggregate {
		return e.unpackAggregate(output)
	}
	return e.unpackTryBlockAndAggregate(output)
}

func (e *ContractEndpoint) unpackAggregate(output []byte) (uint64, [][]byte, error) {
	out, err := e.abi.Unpack(string(ModeAggregate), output)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to unpack aggregate: %w", err)
	}
	if len(out) != 2 {
		return 0, nil, fmt.Errorf("aggregate returned %d values", len(out))
	}

	height, err := blockNumber(out[0])
	if err != nil {
		return 0, nil, err
	}
	results := *abi.ConvertType(out[1], new([][]byte)).(*[][]byte)
	return height, results, nil
}

func (e *ContractEndpoint) unpackTryBlockAndAggregate(output []byte) (uint64, [][]byte, error) {
	out, err := e.abi.Unpack(string(ModeTryBlockAndAggregate), output)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to unpack tryBlockAndAggregate: %w", err)
	}
	if len(out) != 3 {
		return 0, nil, fmt.Errorf("tryBlockAndAggregate returned %d values", len(out))
	}

	height, err := blockNumber(out[0])
	if err != nil {
		return 0, nil, err
	}

	decoded := *abi.ConvertType(out[2], new([]contractResult)).(*[]contractResult)
	results := make([][]byte, len(decoded))
	for i, r := range decoded {
		if r.Success {
			results[i] = r.ReturnData
		}
	}
	return height, results, nil
}

func blockNumber(v any) (uint64, error) {
	n, ok := v.(*big.Int)
	if !ok || n == nil {
		return 0, fmt.Errorf("unexpected block number type %T", v)
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("block number %s out of range", n)
	}
	return n.Uint64(), nil
}
