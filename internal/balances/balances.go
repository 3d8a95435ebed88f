package balances

import (
	"bytes"
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"multicallgofer/internal/callstate"
	"multicallgofer/internal/multicall"
	"multicallgofer/internal/optional"
	"multicallgofer/internal/signature"
	"multicallgofer/internal/tokens"
)

// Caller runs the multicall query shapes used for balance lookups
type Caller interface {
	SingleContractMultipleData(ctx context.Context, target common.Address, sig *signature.Signature, argSets [][]signature.Arg) ([]callstate.State, error)
	MultipleContractSingleData(ctx context.Context, targets []optional.Value[common.Address], sig *signature.Signature, args ...signature.Arg) ([]callstate.State, error)
}

// Resolver reads native and token balances
type Resolver struct {
	caller    Caller
	multicall common.Address
	native    tokens.Token
}

// NewResolver creates a Resolver. Native balances are read through getEthBalance
// on the multicall contract at multicallAddress.
func NewResolver(caller Caller, multicallAddress common.Address, native tokens.Token) *Resolver {
	return &Resolver{
		caller:    caller,
		multicall: multicallAddress,
		native:    native,
	}
}

// ETHBalances returns the native balance of every valid address.
// Invalid addresses are dropped; the rest are sorted and deduplicated.
// Addresses without a settled balance are missing from the map.
func (r *Resolver) ETHBalances(ctx context.Context, uncheckedAddresses []string) (map[common.Address]tokens.Amount, error) {
	addresses := sortedAddresses(uncheckedAddresses)
	balances := make(map[common.Address]tokens.Amount, len(addresses))
	if len(addresses) == 0 {
		return balances, nil
	}

	argSets := make([][]signature.Arg, len(addresses))
	for i, addr := range addresses {
		argSets[i] = []signature.Arg{signature.Address(addr)}
	}

	states, err := r.caller.SingleContractMultipleData(ctx, r.multicall, multicall.EthBalanceSignature, argSets)
	if err != nil {
		return nil, err
	}

	for i, addr := range addresses {
		if value, ok := states[i].BigInt(0); ok {
			balances[addr] = tokens.NewAmount(r.native, value)
		}
	}
	return balances, nil
}

// TokenBalancesWithLoading returns the balances of account for every token
// with a contract address, plus whether any lookup is still loading
func (r *Resolver) TokenBalancesWithLoading(ctx context.Context, account optional.Value[common.Address], tokenList []tokens.Token) (map[common.Address]tokens.Amount, bool, error) {
	balances := make(map[common.Address]tokens.Amount)

	validated := make([]tokens.Token, 0, len(tokenList))
	for _, t := range tokenList {
		if t.Address != (common.Address{}) {
			validated = append(validated, t)
		}
	}

	owner, ok := account.Get()
	if !ok || len(validated) == 0 {
		return balances, false, nil
	}

	targets := make([]optional.Value[common.Address], len(validated))
	for i, t := range validated {
		targets[i] = optional.Some(t.Address)
	}

	states, err := r.caller.MultipleContractSingleData(ctx, targets, tokens.BalanceOfSignature, signature.Address(owner))
	if err != nil {
		return nil, false, err
	}

	anyLoading := false
	for i, t := range validated {
		if states[i].Loading {
			anyLoading = true
		}
		if value, ok := states[i].BigInt(0); ok {
			balances[t.Address] = tokens.NewAmount(t, value)
		}
	}
	return balances, anyLoading, nil
}

// TokenBalances is TokenBalancesWithLoading without the loading flag
func (r *Resolver) TokenBalances(ctx context.Context, account optional.Value[common.Address], tokenList []tokens.Token) (map[common.Address]tokens.Amount, error) {
	balances, _, err := r.TokenBalancesWithLoading(ctx, account, tokenList)
	return balances, err
}

// TokenBalance returns the balance of a single token for account
func (r *Resolver) TokenBalance(ctx context.Context, account optional.Value[common.Address], token optional.Value[tokens.Token]) (optional.Value[tokens.Amount], error) {
	t, ok := token.Get()
	if !ok {
		return optional.None[tokens.Amount](), nil
	}
	balances, err := r.TokenBalances(ctx, account, []tokens.Token{t})
	if err != nil {
		return optional.None[tokens.Amount](), err
	}
	amount, ok := balances[t.Address]
	if !ok {
		return optional.None[tokens.Amount](), nil
	}
	return optional.Some(amount), nil
}

// CurrencyBalances returns one balance per currency for account, reading
// tokens and the native currency in at most two batches. A currency without
// a contract address is the native currency.
func (r *Resolver) CurrencyBalances(ctx context.Context, account optional.Value[common.Address], currencies []optional.Value[tokens.Token]) ([]optional.Value[tokens.Amount], error) {
	result := make([]optional.Value[tokens.Amount], len(currencies))
	owner, ok := account.Get()
	if !ok {
		return result, nil
	}

	var tokenList []tokens.Token
	containsNative := false
	for _, c := range currencies {
		t, ok := c.Get()
		if !ok {
			continue
		}
		if t.Address == (common.Address{}) {
			containsNative = true
		} else {
			tokenList = append(tokenList, t)
		}
	}

	tokenBalances, err := r.TokenBalances(ctx, account, tokenList)
	if err != nil {
		return nil, err
	}

	var nativeBalances map[common.Address]tokens.Amount
	if containsNative {
		nativeBalances, err = r.ETHBalances(ctx, []string{owner.Hex()})
		if err != nil {
			return nil, err
		}
	}

	for i, c := range currencies {
		t, ok := c.Get()
		if !ok {
			continue
		}
		var (
			amount tokens.Amount
			found  bool
		)
		if t.Address == (common.Address{}) {
			amount, found = nativeBalances[owner]
		} else {
			amount, found = tokenBalances[t.Address]
		}
		if found {
			result[i] = optional.Some(amount)
		}
	}
	return result, nil
}

func sortedAddresses(unchecked []string) []common.Address {
	seen := make(map[common.Address]bool, len(unchecked))
	addresses := make([]common.Address, 0, len(unchecked))
	for _, s := range unchecked {
		if !common.IsHexAddress(s) {
			continue
		}
		addr := common.HexToAddress(s)
		if seen[addr] {
			continue
		}
		seen[addr] = true
		addresses = append(addresses, addr)
	}
	sort.Slice(addresses, func(i, j int) bool {
		return bytes.Compare(addresses[i].Bytes(), addresses[j].Bytes()) < 0
	})
	return addresses
}
