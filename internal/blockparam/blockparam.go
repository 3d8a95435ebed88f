// Package blockparam encodes and parses the block parameter of state-reading JSON-RPC methods.
package blockparam

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Latest is the block tag used when no block number is pinned
const Latest = "latest"

// DynamicBlockTags contains block tags that do not name a fixed block
var DynamicBlockTags = map[string]bool{
	"latest":    true,
	"pending":   true,
	"earliest":  true,
	"safe":      true,
	"finalized": true,
}

// Encode returns the block parameter for number, or "latest" when number is nil
func Encode(number *big.Int) string {
	if number == nil {
		return Latest
	}
	return hexutil.EncodeBig(number)
}

// EncodeUint64 returns the hex quantity of number
func EncodeUint64(number uint64) string {
	return hexutil.EncodeUint64(number)
}

// IsDynamic reports whether param is a block tag instead of a number
func IsDynamic(param string) bool {
	return DynamicBlockTags[strings.ToLower(param)]
}

// ParseNumber parses a hex quantity such as an eth_blockNumber result
func ParseNumber(param string) (uint64, error) {
	if IsDynamic(param) {
		return 0, fmt.Errorf("block tag %q is not a number", param)
	}
	n, err := hexutil.DecodeUint64(param)
	if err != nil {
		return 0, fmt.Errorf("invalid block number %q: %w", param, err)
	}
	return n, nil
}

// RequestedNumber returns the concrete block a call is pinned to.
// Returns (0, false) for nil and for numbers beyond uint64.
func RequestedNumber(number *big.Int) (uint64, bool) {
	if number == nil || number.Sign() < 0 || !number.IsUint64() {
		return 0, false
	}
	return number.Uint64(), true
}
