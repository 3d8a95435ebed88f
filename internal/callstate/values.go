package callstate

import (
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/common"
)

// Value returns decoded output i of a settled success
func (s State) Value(i int) (any, bool) {
	if s.Error || i < 0 || i >= len(s.Result) {
		return nil, false
	}
	return s.Result[i], true
}

// BigInt returns decoded integer output i, widening sized integer types
func (s State) BigInt(i int) (*big.Int, bool) {
	v, ok := s.Value(i)
	if !ok {
		return nil, false
	}
	if n, ok := v.(*big.Int); ok {
		if n == nil {
			return nil, false
		}
		return new(big.Int).Set(n), true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return new(big.Int).SetUint64(rv.Uint()), true
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return big.NewInt(rv.Int()), true
	}
	return nil, false
}

// Address returns decoded address output i
func (s State) Address(i int) (common.Address, bool) {
	v, ok := s.Value(i)
	if !ok {
		return common.Address{}, false
	}
	addr, ok := v.(common.Address)
	return addr, ok
}

// Bool returns decoded bool output i
func (s State) Bool(i int) (bool, bool) {
	v, ok := s.Value(i)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Text returns decoded string output i
func (s State) Text(i int) (string, bool) {
	v, ok := s.Value(i)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}
