package tokens

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"multicallgofer/internal/callstate"
	"multicallgofer/internal/optional"
	"multicallgofer/internal/signature"
)

var (
	NameSignature        = signature.MustParse("name() returns (string)")
	SymbolSignature      = signature.MustParse("symbol() returns (string)")
	DecimalsSignature    = signature.MustParse("decimals() returns (uint8)")
	TotalSupplySignature = signature.MustParse("totalSupply() returns (uint256)")
	BalanceOfSignature   = signature.MustParse("balanceOf(address account) returns (uint256)")
	AllowanceSignature   = signature.MustParse("allowance(address owner, address spender) returns (uint256)")
)

// SingleCaller performs one contract call through the multicall pipeline
type SingleCaller interface {
	SingleCallResult(ctx context.Context, target optional.Value[common.Address], sig *signature.Signature, args ...signature.Arg) (callstate.State, error)
}

// ApprovalState describes whether an allowance covers an amount
type ApprovalState int

const (
	ApprovalUnknown ApprovalState = iota
	ApprovalNotApproved
	ApprovalPending
	ApprovalApproved
)

func (s ApprovalState) String() string {
	switch s {
	case ApprovalNotApproved:
		return "not_approved"
	case ApprovalPending:
		return "pending"
	case ApprovalApproved:
		return "approved"
	default:
		return "unknown"
	}
}

// ERC20 reads one token contract
type ERC20 struct {
	caller SingleCaller
	token  Token
}

// NewERC20 creates a reader for token
func NewERC20(caller SingleCaller, token Token) *ERC20 {
	return &ERC20{caller: caller, token: token}
}

// Token returns the token being read
func (e *ERC20) Token() Token {
	return e.token
}

// Allowance returns the amount spender may move for owner, absent while loading or on error
func (e *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (optional.Value[Amount], error) {
	state, err := e.call(ctx, AllowanceSignature, signature.Address(owner), signature.Address(spender))
	if err != nil {
		return optional.None[Amount](), err
	}
	raw, ok := state.BigInt(0)
	if !ok {
		return optional.None[Amount](), nil
	}
	return optional.Some(NewAmount(e.token, raw)), nil
}

// Decimals reads the token decimals
func (e *ERC20) Decimals(ctx context.Context) (optional.Value[uint8], error) {
	state, err := e.call(ctx, DecimalsSignature)
	if err != nil {
		return optional.None[uint8](), err
	}
	n, ok := state.BigInt(0)
	if !ok || !n.IsUint64() || n.Uint64() > 255 {
		return optional.None[uint8](), nil
	}
	return optional.Some(uint8(n.Uint64())), nil
}

// TotalSupply reads the total supply scaled by the on-chain decimals
func (e *ERC20) TotalSupply(ctx context.Context) (optional.Value[decimal.Decimal], error) {
	var (
		supply   callstate.State
		decimals optional.Value[uint8]
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		supply, err = e.call(gctx, TotalSupplySignature)
		return err
	})
	g.Go(func() error {
		var err error
		decimals, err = e.Decimals(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return optional.None[decimal.Decimal](), err
	}

	raw, ok := supply.BigInt(0)
	d, present := decimals.Get()
	if !ok || !present {
		return optional.None[decimal.Decimal](), nil
	}
	return optional.Some(decimal.NewFromBigInt(raw, -int32(d))), nil
}

// Info reads name, symbol and decimals of the token contract.
// Name and symbol that could not be read keep the values already known.
// The token is absent while decimals are loading or unreadable.
func (e *ERC20) Info(ctx context.Context) (optional.Value[Token], error) {
	var name, symbol, decimals callstate.State

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		name, err = e.call(gctx, NameSignature)
		return err
	})
	g.Go(func() (err error) {
		symbol, err = e.call(gctx, SymbolSignature)
		return err
	})
	g.Go(func() (err error) {
		decimals, err = e.call(gctx, DecimalsSignature)
		return err
	})
	if err := g.Wait(); err != nil {
		return optional.None[Token](), fmt.Errorf("failed to read token info for %s: %w", e.token.Address.Hex(), err)
	}
	return tokenFromStates(e.token, name, symbol, decimals), nil
}

// MultiCaller calls one signature on many contracts through the multicall pipeline
type MultiCaller interface {
	MultipleContractSingleData(ctx context.Context, targets []optional.Value[common.Address], sig *signature.Signature, args ...signature.Arg) ([]callstate.State, error)
}

// Infos reads name, symbol and decimals of every address with one batch per field.
// Results follow the input order; a token is absent while its decimals are loading or unreadable.
func Infos(ctx context.Context, caller MultiCaller, chainID uint64, addresses []common.Address) ([]optional.Value[Token], error) {
	if len(addresses) == 0 {
		return []optional.Value[Token]{}, nil
	}

	targets := optional.All(addresses)
	var names, symbols, decimals []callstate.State

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		names, err = caller.MultipleContractSingleData(gctx, targets, NameSignature)
		return err
	})
	g.Go(func() (err error) {
		symbols, err = caller.MultipleContractSingleData(gctx, targets, SymbolSignature)
		return err
	})
	g.Go(func() (err error) {
		decimals, err = caller.MultipleContractSingleData(gctx, targets, DecimalsSignature)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to read token info: %w", err)
	}

	out := make([]optional.Value[Token], len(addresses))
	for i, address := range addresses {
		out[i] = tokenFromStates(Token{ChainID: chainID, Address: address}, names[i], symbols[i], decimals[i])
	}
	return out, nil
}

func tokenFromStates(known Token, name, symbol, decimals callstate.State) optional.Value[Token] {
	d, ok := decimals.BigInt(0)
	if !ok || !d.IsUint64() || d.Uint64() > 255 {
		return optional.None[Token]()
	}

	info := known
	info.Decimals = uint8(d.Uint64())
	if v, ok := name.Text(0); ok {
		info.Name = v
	}
	if v, ok := symbol.Text(0); ok {
		info.Symbol = v
	}
	return optional.Some(info)
}

// ApprovalStateFor compares an allowance against the amount to spend.
// The native currency needs no approval.
func ApprovalStateFor(amount Amount, allowance optional.Value[Amount]) ApprovalState {
	if amount.Token.Address == (common.Address{}) {
		return ApprovalApproved
	}
	current, ok := allowance.Get()
	if !ok {
		return ApprovalUnknown
	}
	if current.LessThan(amount) {
		return ApprovalNotApproved
	}
	return ApprovalApproved
}

func (e *ERC20) call(ctx context.Context, sig *signature.Signature, args ...signature.Arg) (callstate.State, error) {
	return e.caller.SingleCallResult(ctx, optional.Some(e.token.Address), sig, args...)
}
