// Package height provides chain head sources for the aggregator's freshness floor.
package height

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"multicallgofer/internal/multicall"
)

// BlockNumberer reads the current chain head
type BlockNumberer interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Polling asks the client for the head on every call
type Polling struct {
	client BlockNumberer
}

// NewPolling creates a Polling source
func NewPolling(client BlockNumberer) *Polling {
	return &Polling{client: client}
}

// CurrentHeight implements batcher.HeightSource
func (p *Polling) CurrentHeight(ctx context.Context) (uint64, error) {
	height, err := p.client.BlockNumber(ctx)
	if err != nil {
		return 0, sourceError(ctx, err)
	}
	return height, nil
}

// Contract reads the head through the multicall contract's getBlockNumber
type Contract struct {
	caller  multicall.ContractCaller
	address common.Address
}

// NewContract creates a Contract source for the multicall deployment at address
func NewContract(caller multicall.ContractCaller, address common.Address) *Contract {
	return &Contract{caller: caller, address: address}
}

// CurrentHeight implements batcher.HeightSource
func (c *Contract) CurrentHeight(ctx context.Context) (uint64, error) {
	input, err := multicall.BlockNumberSignature.Encode()
	if err != nil {
		return 0, err
	}

	to := c.address
	output, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return 0, sourceError(ctx, err)
	}

	values, err := multicall.BlockNumberSignature.Decode(output)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", multicall.ErrTransportFailure, err)
	}
	n, ok := values[0].(*big.Int)
	if !ok || !n.IsUint64() {
		return 0, fmt.Errorf("%w: unexpected getBlockNumber result %v", multicall.ErrTransportFailure, values[0])
	}
	return n.Uint64(), nil
}

func sourceError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %w", multicall.ErrTransportFailure, err)
}
