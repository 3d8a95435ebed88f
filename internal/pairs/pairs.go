package pairs

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"multicallgofer/internal/callstate"
	"multicallgofer/internal/optional"
	"multicallgofer/internal/signature"
	"multicallgofer/internal/tokens"
)

// GetReservesSignature reads the reserves of a constant-product pair
var GetReservesSignature = signature.MustParse("getReserves() returns (uint112 reserve0, uint112 reserve1, uint32 blockTimestampLast)")

// State is the outcome of a pair lookup
type State int

const (
	StateLoading State = iota
	StateNotExists
	StateExists
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateNotExists:
		return "not_exists"
	case StateExists:
		return "exists"
	default:
		return "invalid"
	}
}

// Pair holds the reserves of a pair, token0 sorting before token1
type Pair struct {
	Address  common.Address `json:"address"`
	Reserve0 tokens.Amount  `json:"reserve0"`
	Reserve1 tokens.Amount  `json:"reserve1"`
}

// Result is one pair lookup; Pair is set only for StateExists
type Result struct {
	State State `json:"state"`
	Pair  *Pair `json:"pair,omitempty"`
}

// ManyCaller calls one signature on many contracts through the multicall pipeline
type ManyCaller interface {
	MultipleContractSingleData(ctx context.Context, targets []optional.Value[common.Address], sig *signature.Signature, args ...signature.Arg) ([]callstate.State, error)
}

// Resolver looks up pairs of a factory deployed with CREATE2
type Resolver struct {
	caller       ManyCaller
	factory      common.Address
	initCodeHash common.Hash
}

// NewResolver creates a Resolver
func NewResolver(caller ManyCaller, factory common.Address, initCodeHash common.Hash) *Resolver {
	return &Resolver{
		caller:       caller,
		factory:      factory,
		initCodeHash: initCodeHash,
	}
}

// SortTokens orders two token addresses the way the factory does
func SortTokens(a, b common.Address) (common.Address, common.Address) {
	if (tokens.Token{Address: a}).SortsBefore(tokens.Token{Address: b}) {
		return a, b
	}
	return b, a
}

// PairAddress derives the CREATE2 address of the pair for tokens a and b
func PairAddress(factory common.Address, initCodeHash common.Hash, a, b common.Address) common.Address {
	token0, token1 := SortTokens(a, b)
	salt := crypto.Keccak256Hash(token0.Bytes(), token1.Bytes())
	return crypto.CreateAddress2(factory, salt, initCodeHash.Bytes())
}

// Pairs looks up every token pair in one batch.
// A pair with an absent token or the same token twice is StateInvalid.
func (r *Resolver) Pairs(ctx context.Context, tokenPairs [][2]optional.Value[tokens.Token]) ([]Result, error) {
	addresses := make([]optional.Value[common.Address], len(tokenPairs))
	for i, tp := range tokenPairs {
		if a, b, ok := valid(tp); ok {
			addresses[i] = optional.Some(PairAddress(r.factory, r.initCodeHash, a.Address, b.Address))
		}
	}

	states, err := r.caller.MultipleContractSingleData(ctx, addresses, GetReservesSignature)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(tokenPairs))
	for i, state := range states {
		results[i] = r.toResult(tokenPairs[i], addresses[i], state)
	}
	return results, nil
}

// Pair looks up a single pair
func (r *Resolver) Pair(ctx context.Context, a, b optional.Value[tokens.Token]) (Result, error) {
	results, err := r.Pairs(ctx, [][2]optional.Value[tokens.Token]{{a, b}})
	if err != nil {
		return Result{}, err
	}
	return results[0], nil
}

func (r *Resolver) toResult(tp [2]optional.Value[tokens.Token], address optional.Value[common.Address], state callstate.State) Result {
	if state.Loading {
		return Result{State: StateLoading}
	}
	a, b, ok := valid(tp)
	if !ok {
		return Result{State: StateInvalid}
	}

	reserve0, ok0 := state.BigInt(0)
	reserve1, ok1 := state.BigInt(1)
	if !ok0 || !ok1 {
		return Result{State: StateNotExists}
	}

	token0, token1 := a, b
	if !a.SortsBefore(b) {
		token0, token1 = b, a
	}
	addr, _ := address.Get()
	return Result{
		State: StateExists,
		Pair: &Pair{
			Address:  addr,
			Reserve0: tokens.NewAmount(token0, reserve0),
			Reserve1: tokens.NewAmount(token1, reserve1),
		},
	}
}

func valid(tp [2]optional.Value[tokens.Token]) (tokens.Token, tokens.Token, bool) {
	a, okA := tp[0].Get()
	b, okB := tp[1].Get()
	if !okA || !okB || a.Equals(b) {
		return tokens.Token{}, tokens.Token{}, false
	}
	return a, b, true
}

// MidPrice returns reserve1 per reserve0 unit for an existing pair, scaled by decimals
func (p *Pair) MidPrice() (string, bool) {
	r0 := p.Reserve0.Decimal()
	if r0.IsZero() {
		return "", false
	}
	return p.Reserve1.Decimal().Div(r0).String(), true
}
