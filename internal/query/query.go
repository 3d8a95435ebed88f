package query

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"multicallgofer/internal/batcher"
	"multicallgofer/internal/callkey"
	"multicallgofer/internal/callstate"
	"multicallgofer/internal/optional"
	"multicallgofer/internal/signature"
)

// Resolver resolves optional calls to raw results and reports the latest height
type Resolver interface {
	Resolve(ctx context.Context, calls []optional.Value[callkey.Call]) ([]batcher.RawResult, error)
	LatestHeight(ctx context.Context) (uint64, error)
}

// Multicaller builds call lists in the three supported shapes and derives their states
type Multicaller struct {
	resolver Resolver
	logger   zerolog.Logger
}

// NewMulticaller creates a new Multicaller
func NewMulticaller(resolver Resolver, logger zerolog.Logger) *Multicaller {
	return &Multicaller{
		resolver: resolver,
		logger:   logger.With().Str("component", "query").Logger(),
	}
}

// SingleContractMultipleData calls sig on target once per argument set
func (m *Multicaller) SingleContractMultipleData(ctx context.Context, target common.Address, sig *signature.Signature, argSets [][]signature.Arg) ([]callstate.State, error) {
	if len(argSets) == 0 {
		return []callstate.State{}, nil
	}

	calls := make([]optional.Value[callkey.Call], len(argSets))
	for i, args := range argSets {
		data, err := sig.Encode(args...)
		if err != nil {
			return nil, err
		}
		calls[i] = optional.Some(callkey.NewCall(target, data))
	}

	return m.run(ctx, calls, sig)
}

// MultipleContractSingleData calls sig with the same arguments on every present target.
// Absent targets yield callstate.Invalid at their position.
func (m *Multicaller) MultipleContractSingleData(ctx context.Context, targets []optional.Value[common.Address], sig *signature.Signature, args ...signature.Arg) ([]callstate.State, error) {
	if len(targets) == 0 {
		return []callstate.State{}, nil
	}

	data, err := sig.Encode(args...)
	if err != nil {
		return nil, err
	}

	calls := make([]optional.Value[callkey.Call], len(targets))
	for i, target := range targets {
		calls[i] = optional.Map(target, func(addr common.Address) callkey.Call {
			return callkey.NewCall(addr, data)
		})
	}

	return m.run(ctx, calls, sig)
}

// SingleCallResult calls sig on one optional target
func (m *Multicaller) SingleCallResult(ctx context.Context, target optional.Value[common.Address], sig *signature.Signature, args ...signature.Arg) (callstate.State, error) {
	addr, ok := target.Get()
	if !ok {
		return callstate.Invalid, nil
	}

	states, err := m.SingleContractMultipleData(ctx, addr, sig, [][]signature.Arg{args})
	if err != nil {
		return callstate.State{}, err
	}
	return states[0], nil
}

func (m *Multicaller) run(ctx context.Context, calls []optional.Value[callkey.Call], sig *signature.Signature) ([]callstate.State, error) {
	raw, err := m.resolver.Resolve(ctx, calls)
	if err != nil {
		return nil, err
	}

	var latest uint64
	if anyValid(raw) {
		latest, err = m.resolver.LatestHeight(ctx)
		if err != nil {
			return nil, err
		}
	}

	states := callstate.DeriveAll(raw, sig, latest)

	m.logger.Debug().
		Str("method", sig.String()).
		Int("calls", len(calls)).
		Uint64("latest", latest).
		Msg("derived call states")

	return states, nil
}

func anyValid(raw []batcher.RawResult) bool {
	for _, r := range raw {
		if r.Valid {
			return true
		}
	}
	return false
}
