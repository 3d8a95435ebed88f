package server

import (
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"multicallgofer/internal/callstate"
	"multicallgofer/internal/pairs"
	"multicallgofer/internal/tokens"
)

// callResult is the wire form of a callstate.State
type callResult struct {
	State   string `json:"state"`
	Syncing bool   `json:"syncing,omitempty"`
	Result  []any  `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

func newCallResult(s callstate.State) callResult {
	switch {
	case !s.Valid:
		return callResult{State: "invalid"}
	case s.Loading:
		return callResult{State: "loading", Syncing: s.Syncing}
	case s.Error:
		r := callResult{State: "error", Syncing: s.Syncing}
		if s.Err != nil {
			r.Error = s.Err.Error()
		}
		return r
	}

	values := make([]any, len(s.Result))
	for i, v := range s.Result {
		values[i] = formatValue(v)
	}
	return callResult{State: "success", Syncing: s.Syncing, Result: values}
}

// formatValue renders decoded ABI values as JSON friendly values:
// integers as decimal strings, byte strings as hex.
func formatValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case *big.Int:
		return x.String()
	case common.Address:
		return x.Hex()
	case common.Hash:
		return x.Hex()
	case []byte:
		return hexutil.Encode(x)
	case string, bool:
		return x
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return hexutil.Encode(b)
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = formatValue(rv.Index(i).Interface())
		}
		return out
	case reflect.Struct:
		out := make(map[string]any, rv.NumField())
		for i := 0; i < rv.NumField(); i++ {
			field := rv.Type().Field(i)
			if !field.IsExported() {
				continue
			}
			out[field.Name] = formatValue(rv.Field(i).Interface())
		}
		return out
	}
	return v
}

type amountResult struct {
	Token     tokens.Token `json:"token"`
	Raw       string       `json:"raw"`
	Formatted string       `json:"formatted"`
}

func newAmountResult(a tokens.Amount) amountResult {
	raw := "0"
	if a.Raw != nil {
		raw = a.Raw.String()
	}
	return amountResult{Token: a.Token, Raw: raw, Formatted: a.String()}
}

func newAmountsResult(amounts map[common.Address]tokens.Amount) map[string]amountResult {
	out := make(map[string]amountResult, len(amounts))
	for address, amount := range amounts {
		out[address.Hex()] = newAmountResult(amount)
	}
	return out
}

type tokenBalancesResult struct {
	Loading    bool                    `json:"loading"`
	Balances   map[string]amountResult `json:"balances"`
	Unresolved []string                `json:"unresolved,omitempty"`
}

type pairResult struct {
	State    string        `json:"state"`
	Address  string        `json:"address,omitempty"`
	Reserve0 *amountResult `json:"reserve0,omitempty"`
	Reserve1 *amountResult `json:"reserve1,omitempty"`
	MidPrice string        `json:"midPrice,omitempty"`
}

func newPairResult(r pairs.Result) pairResult {
	out := pairResult{State: r.State.String()}
	if r.Pair == nil {
		return out
	}
	reserve0 := newAmountResult(r.Pair.Reserve0)
	reserve1 := newAmountResult(r.Pair.Reserve1)
	out.Address = r.Pair.Address.Hex()
	out.Reserve0 = &reserve0
	out.Reserve1 = &reserve1
	if price, ok := r.Pair.MidPrice(); ok {
		out.MidPrice = price
	}
	return out
}
