package tokens

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"multicallgofer/internal/callstate"
	"multicallgofer/internal/optional"
	"multicallgofer/internal/signature"
)

var (
	TokenOfOwnerByIndexSignature = signature.MustParse("tokenOfOwnerByIndex(address owner, uint256 index) returns (uint256)")
	TokenByIndexSignature        = signature.MustParse("tokenByIndex(uint256 index) returns (uint256)")
	OwnerOfSignature             = signature.MustParse("ownerOf(uint256 tokenId) returns (address)")
	GetApprovedSignature         = signature.MustParse("getApproved(uint256 tokenId) returns (address)")
	IsApprovedForAllSignature    = signature.MustParse("isApprovedForAll(address owner, address operator) returns (bool)")
	TokenURISignature            = signature.MustParse("tokenURI(uint256 tokenId) returns (string)")
	SupportsInterfaceSignature   = signature.MustParse("supportsInterface(bytes4 interfaceId) returns (bool)")
	OwnerSignature               = signature.MustParse("owner() returns (address)")
	AdminSignature               = signature.MustParse("admin() returns (address)")
)

// InterfaceIDERC721 is the ERC-165 identifier of ERC-721
var InterfaceIDERC721 = [4]byte{0x80, 0xac, 0x58, 0xcd}

// Caller performs batched and single contract calls through the multicall pipeline
type Caller interface {
	SingleCaller
	SingleContractMultipleData(ctx context.Context, target common.Address, sig *signature.Signature, argSets [][]signature.Arg) ([]callstate.State, error)
}

// TokenIDOwner is one enumerated NFT
type TokenIDOwner struct {
	Contract common.Address `json:"contract"`
	Owner    common.Address `json:"owner"`
	TokenID  *big.Int       `json:"tokenId"`
}

// ERC721 reads one enumerable NFT contract
type ERC721 struct {
	caller  Caller
	address common.Address
}

// NewERC721 creates a reader for the contract at address
func NewERC721(caller Caller, address common.Address) *ERC721 {
	return &ERC721{caller: caller, address: address}
}

// BalanceOf returns how many tokens owner holds
func (e *ERC721) BalanceOf(ctx context.Context, owner common.Address) (optional.Value[*big.Int], error) {
	return readInt(ctx, e.caller, e.address, BalanceOfSignature, signature.Address(owner))
}

// AllTokensOfOwner enumerates the first total tokens of owner in one batch.
// Indexes that did not answer are skipped.
func (e *ERC721) AllTokensOfOwner(ctx context.Context, owner common.Address, total uint64) ([]TokenIDOwner, error) {
	argSets := make([][]signature.Arg, total)
	for i := range argSets {
		argSets[i] = []signature.Arg{signature.Address(owner), signature.Uint64(uint64(i))}
	}

	states, err := e.caller.SingleContractMultipleData(ctx, e.address, TokenOfOwnerByIndexSignature, argSets)
	if err != nil {
		return nil, err
	}

	owned := make([]TokenIDOwner, 0, len(states))
	for _, id := range settledInts(states) {
		owned = append(owned, TokenIDOwner{Contract: e.address, Owner: owner, TokenID: id})
	}
	return owned, nil
}

// AllTokens enumerates the first total tokens of the contract and their owners.
// Token ids and owners are resolved in two batches.
func (e *ERC721) AllTokens(ctx context.Context, total uint64) ([]TokenIDOwner, error) {
	argSets := make([][]signature.Arg, total)
	for i := range argSets {
		argSets[i] = []signature.Arg{signature.Uint64(uint64(i))}
	}

	idStates, err := e.caller.SingleContractMultipleData(ctx, e.address, TokenByIndexSignature, argSets)
	if err != nil {
		return nil, err
	}
	ids := settledInts(idStates)

	ownerArgs := make([][]signature.Arg, len(ids))
	for i, id := range ids {
		ownerArgs[i] = []signature.Arg{signature.Uint(id)}
	}
	ownerStates, err := e.caller.SingleContractMultipleData(ctx, e.address, OwnerOfSignature, ownerArgs)
	if err != nil {
		return nil, err
	}

	all := make([]TokenIDOwner, 0, len(ids))
	for i, state := range ownerStates {
		owner, ok := state.Address(0)
		if !ok {
			continue
		}
		all = append(all, TokenIDOwner{Contract: e.address, Owner: owner, TokenID: ids[i]})
	}
	return all, nil
}

// GetApproved returns the approved operator of tokenID
func (e *ERC721) GetApproved(ctx context.Context, tokenID *big.Int) (optional.Value[common.Address], error) {
	return readAddress(ctx, e.caller, e.address, GetApprovedSignature, signature.Uint(tokenID))
}

// IsApproved reports whether operator is the approved address of tokenID
func (e *ERC721) IsApproved(ctx context.Context, tokenID *big.Int, operator common.Address) (bool, error) {
	approved, err := e.GetApproved(ctx, tokenID)
	if err != nil {
		return false, err
	}
	addr, ok := approved.Get()
	return ok && addr == operator, nil
}

// IsApprovedForAll reports whether operator manages all tokens of owner
func (e *ERC721) IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error) {
	state, err := e.single(ctx, IsApprovedForAllSignature, signature.Address(owner), signature.Address(operator))
	if err != nil {
		return false, err
	}
	approved, _ := state.Bool(0)
	return approved, nil
}

// Name reads the collection name
func (e *ERC721) Name(ctx context.Context) (optional.Value[string], error) {
	return readText(ctx, e.caller, e.address, NameSignature)
}

// Symbol reads the collection symbol
func (e *ERC721) Symbol(ctx context.Context) (optional.Value[string], error) {
	return readText(ctx, e.caller, e.address, SymbolSignature)
}

// TokenURI reads the metadata URI of tokenID
func (e *ERC721) TokenURI(ctx context.Context, tokenID *big.Int) (optional.Value[string], error) {
	return readText(ctx, e.caller, e.address, TokenURISignature, signature.Uint(tokenID))
}

// TotalSupply reads how many tokens the contract tracks
func (e *ERC721) TotalSupply(ctx context.Context) (optional.Value[*big.Int], error) {
	return readInt(ctx, e.caller, e.address, TotalSupplySignature)
}

// OwnerOf returns the holder of tokenID
func (e *ERC721) OwnerOf(ctx context.Context, tokenID *big.Int) (optional.Value[common.Address], error) {
	return readAddress(ctx, e.caller, e.address, OwnerOfSignature, signature.Uint(tokenID))
}

// TokenByIndex returns the token id at index of the whole collection
func (e *ERC721) TokenByIndex(ctx context.Context, index uint64) (optional.Value[*big.Int], error) {
	return readInt(ctx, e.caller, e.address, TokenByIndexSignature, signature.Uint64(index))
}

// TokenOfOwnerByIndex returns the token id at index of owner's tokens
func (e *ERC721) TokenOfOwnerByIndex(ctx context.Context, owner common.Address, index uint64) (optional.Value[*big.Int], error) {
	return readInt(ctx, e.caller, e.address, TokenOfOwnerByIndexSignature, signature.Address(owner), signature.Uint64(index))
}

// SupportsInterface reports the ERC-165 answer for interfaceID, absent while loading or on error
func (e *ERC721) SupportsInterface(ctx context.Context, interfaceID [4]byte) (optional.Value[bool], error) {
	state, err := e.single(ctx, SupportsInterfaceSignature, signature.Bytes(interfaceID[:]))
	if err != nil {
		return optional.None[bool](), err
	}
	v, ok := state.Bool(0)
	if !ok {
		return optional.None[bool](), nil
	}
	return optional.Some(v), nil
}

// Owner reads the contract owner
func (e *ERC721) Owner(ctx context.Context) (optional.Value[common.Address], error) {
	return readAddress(ctx, e.caller, e.address, OwnerSignature)
}

// Admin reads the contract administrator
func (e *ERC721) Admin(ctx context.Context) (optional.Value[common.Address], error) {
	return readAddress(ctx, e.caller, e.address, AdminSignature)
}

func (e *ERC721) single(ctx context.Context, sig *signature.Signature, args ...signature.Arg) (callstate.State, error) {
	return e.caller.SingleCallResult(ctx, optional.Some(e.address), sig, args...)
}

func readAddress(ctx context.Context, caller SingleCaller, target common.Address, sig *signature.Signature, args ...signature.Arg) (optional.Value[common.Address], error) {
	state, err := caller.SingleCallResult(ctx, optional.Some(target), sig, args...)
	if err != nil {
		return optional.None[common.Address](), err
	}
	addr, ok := state.Address(0)
	if !ok {
		return optional.None[common.Address](), nil
	}
	return optional.Some(addr), nil
}

func readInt(ctx context.Context, caller SingleCaller, target common.Address, sig *signature.Signature, args ...signature.Arg) (optional.Value[*big.Int], error) {
	state, err := caller.SingleCallResult(ctx, optional.Some(target), sig, args...)
	if err != nil {
		return optional.None[*big.Int](), err
	}
	n, ok := state.BigInt(0)
	if !ok {
		return optional.None[*big.Int](), nil
	}
	return optional.Some(n), nil
}

func readText(ctx context.Context, caller SingleCaller, target common.Address, sig *signature.Signature, args ...signature.Arg) (optional.Value[string], error) {
	state, err := caller.SingleCallResult(ctx, optional.Some(target), sig, args...)
	if err != nil {
		return optional.None[string](), err
	}
	v, ok := state.Text(0)
	if !ok {
		return optional.None[string](), nil
	}
	return optional.Some(v), nil
}

// settledInts collects the integer results of settled successful states, in order
func settledInts(states []callstate.State) []*big.Int {
	ids := make([]*big.Int, 0, len(states))
	for _, state := range states {
		if !state.IsSettled() || len(state.Result) != 1 {
			continue
		}
		if id, ok := state.BigInt(0); ok {
			ids = append(ids, id)
		}
	}
	return ids
}
