package signature

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type argKind int

const (
	kindAddress argKind = iota
	kindNumber
	kindBool
	kindBytes
	kindString
	kindList
)

func (k argKind) String() string {
	switch k {
	case kindAddress:
		return "address"
	case kindNumber:
		return "number"
	case kindBool:
		return "bool"
	case kindBytes:
		return "bytes"
	case kindString:
		return "string"
	case kindList:
		return "list"
	default:
		return "unknown"
	}
}

// Arg is one call argument. The set of variants is closed; build values with
// Address, Uint, Uint64, Int, Bool, Bytes, String and List.
type Arg struct {
	kind  argKind
	addr  common.Address
	num   *big.Int
	flag  bool
	bytes []byte
	str   string
	elems []Arg
}

// Address returns an address argument
func Address(a common.Address) Arg {
	return Arg{kind: kindAddress, addr: a}
}

// Uint returns an unsigned integer argument
func Uint(v *big.Int) Arg {
	return Arg{kind: kindNumber, num: copyInt(v)}
}

// Uint64 returns an unsigned integer argument
func Uint64(v uint64) Arg {
	return Arg{kind: kindNumber, num: new(big.Int).SetUint64(v)}
}

// Int returns a signed integer argument
func Int(v *big.Int) Arg {
	return Arg{kind: kindNumber, num: copyInt(v)}
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// Bool returns a boolean argument
func Bool(v bool) Arg {
	return Arg{kind: kindBool, flag: v}
}

// Bytes returns a byte string argument, used for bytes and bytesN inputs
func Bytes(v []byte) Arg {
	return Arg{kind: kindBytes, bytes: common.CopyBytes(v)}
}

// String returns a string argument
func String(v string) Arg {
	return Arg{kind: kindString, str: v}
}

// List returns an argument for array, slice and tuple inputs
func List(elems ...Arg) Arg {
	return Arg{kind: kindList, elems: elems}
}

var bigIntType = reflect.TypeOf(&big.Int{})

// value converts the argument into the Go value the ABI packer expects for t
func (a Arg) value(t abi.Type) (reflect.Value, error) {
	switch t.T {
	case abi.AddressTy:
		if err := a.expect(kindAddress); err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(a.addr), nil

	case abi.UintTy, abi.IntTy:
		if err := a.expect(kindNumber); err != nil {
			return reflect.Value{}, err
		}
		return numberValue(a.num, t)

	case abi.BoolTy:
		if err := a.expect(kindBool); err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(a.flag), nil

	case abi.StringTy:
		if err := a.expect(kindString); err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(a.str), nil

	case abi.BytesTy:
		if err := a.expect(kindBytes); err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(a.bytes), nil

	case abi.FixedBytesTy:
		if err := a.expect(kindBytes); err != nil {
			return reflect.Value{}, err
		}
		if len(a.bytes) != t.Size {
			return reflect.Value{}, fmt.Errorf("%s needs %d bytes, got %d", t.String(), t.Size, len(a.bytes))
		}
		v := reflect.New(t.GetType()).Elem()
		reflect.Copy(v, reflect.ValueOf(a.bytes))
		return v, nil

	case abi.SliceTy:
		if err := a.expect(kindList); err != nil {
			return reflect.Value{}, err
		}
		v := reflect.MakeSlice(t.GetType(), len(a.elems), len(a.elems))
		for i, elem := range a.elems {
			ev, err := elem.value(*t.Elem)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			v.Index(i).Set(ev)
		}
		return v, nil

	case abi.ArrayTy:
		if err := a.expect(kindList); err != nil {
			return reflect.Value{}, err
		}
		if len(a.elems) != t.Size {
			return reflect.Value{}, fmt.Errorf("%s needs %d elements, got %d", t.String(), t.Size, len(a.elems))
		}
		v := reflect.New(t.GetType()).Elem()
		for i, elem := range a.elems {
			ev, err := elem.value(*t.Elem)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			v.Index(i).Set(ev)
		}
		return v, nil

	case abi.TupleTy:
		if err := a.expect(kindList); err != nil {
			return reflect.Value{}, err
		}
		if len(a.elems) != len(t.TupleElems) {
			return reflect.Value{}, fmt.Errorf("%s needs %d fields, got %d", t.String(), len(t.TupleElems), len(a.elems))
		}
		v := reflect.New(t.GetType()).Elem()
		for i, elem := range a.elems {
			ev, err := elem.value(*t.TupleElems[i])
			if err != nil {
				return reflect.Value{}, fmt.Errorf("field %d: %w", i, err)
			}
			v.Field(i).Set(ev)
		}
		return v, nil
	}

	return reflect.Value{}, fmt.Errorf("unsupported input type %s", t.String())
}

func (a Arg) expect(kind argKind) error {
	if a.kind != kind {
		return fmt.Errorf("expected %s argument, got %s", kind, a.kind)
	}
	return nil
}

// numberValue range-checks n against t and converts it to uintN/intN or *big.Int
func numberValue(n *big.Int, t abi.Type) (reflect.Value, error) {
	if n == nil {
		return reflect.Value{}, fmt.Errorf("nil number")
	}

	if t.T == abi.UintTy {
		if n.Sign() < 0 {
			return reflect.Value{}, fmt.Errorf("negative value %s for %s", n, t.String())
		}
		if n.BitLen() > t.Size {
			return reflect.Value{}, fmt.Errorf("value %s overflows %s", n, t.String())
		}
	} else {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
		minimum := new(big.Int).Neg(limit)
		if n.Cmp(minimum) < 0 || n.Cmp(limit) >= 0 {
			return reflect.Value{}, fmt.Errorf("value %s overflows %s", n, t.String())
		}
	}

	goType := t.GetType()
	if goType == bigIntType {
		return reflect.ValueOf(new(big.Int).Set(n)), nil
	}
	if t.T == abi.UintTy {
		return reflect.ValueOf(n.Uint64()).Convert(goType), nil
	}
	return reflect.ValueOf(n.Int64()).Convert(goType), nil
}

// ParseArg converts a decoded JSON value (string, json.Number, float64, bool or []any)
// into an argument for an input of type t
func ParseArg(t abi.Type, v any) (Arg, error) {
	switch t.T {
	case abi.AddressTy:
		s, ok := v.(string)
		if !ok || !common.IsHexAddress(s) {
			return Arg{}, fmt.Errorf("%w: %v is not an address", ErrInvalidArguments, v)
		}
		return Address(common.HexToAddress(s)), nil

	case abi.UintTy, abi.IntTy:
		n, err := parseNumber(v)
		if err != nil {
			return Arg{}, err
		}
		return Arg{kind: kindNumber, num: n}, nil

	case abi.BoolTy:
		switch b := v.(type) {
		case bool:
			return Bool(b), nil
		case string:
			switch strings.ToLower(b) {
			case "true":
				return Bool(true), nil
			case "false":
				return Bool(false), nil
			}
		}
		return Arg{}, fmt.Errorf("%w: %v is not a bool", ErrInvalidArguments, v)

	case abi.StringTy:
		s, ok := v.(string)
		if !ok {
			return Arg{}, fmt.Errorf("%w: %v is not a string", ErrInvalidArguments, v)
		}
		return String(s), nil

	case abi.BytesTy, abi.FixedBytesTy:
		s, ok := v.(string)
		if !ok {
			return Arg{}, fmt.Errorf("%w: %v is not a hex string", ErrInvalidArguments, v)
		}
		b, err := hexutil.Decode(s)
		if err != nil {
			return Arg{}, fmt.Errorf("%w: %q: %v", ErrInvalidArguments, s, err)
		}
		return Bytes(b), nil

	case abi.SliceTy, abi.ArrayTy:
		items, ok := v.([]any)
		if !ok {
			return Arg{}, fmt.Errorf("%w: %v is not a list", ErrInvalidArguments, v)
		}
		elems := make([]Arg, len(items))
		for i, item := range items {
			elem, err := ParseArg(*t.Elem, item)
			if err != nil {
				return Arg{}, err
			}
			elems[i] = elem
		}
		return List(elems...), nil

	case abi.TupleTy:
		items, ok := v.([]any)
		if !ok || len(items) != len(t.TupleElems) {
			return Arg{}, fmt.Errorf("%w: %v does not match %s", ErrInvalidArguments, v, t.String())
		}
		elems := make([]Arg, len(items))
		for i, item := range items {
			elem, err := ParseArg(*t.TupleElems[i], item)
			if err != nil {
				return Arg{}, err
			}
			elems[i] = elem
		}
		return List(elems...), nil
	}

	return Arg{}, fmt.Errorf("%w: unsupported type %s", ErrInvalidArguments, t.String())
}

// ParseArgs converts a JSON argument list for all inputs of sig
func ParseArgs(sig *Signature, values []any) ([]Arg, error) {
	inputs := sig.Inputs()
	if len(values) != len(inputs) {
		return nil, fmt.Errorf("%w: %s expects %d arguments, got %d", ErrInvalidArguments, sig.String(), len(inputs), len(values))
	}
	args := make([]Arg, len(values))
	for i, v := range values {
		arg, err := ParseArg(inputs[i].Type, v)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = arg
	}
	return args, nil
}

func parseNumber(v any) (*big.Int, error) {
	switch n := v.(type) {
	case string:
		parsed, ok := new(big.Int).SetString(n, 0)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a number", ErrInvalidArguments, n)
		}
		return parsed, nil
	case json.Number:
		parsed, ok := new(big.Int).SetString(n.String(), 10)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not an integer", ErrInvalidArguments, n)
		}
		return parsed, nil
	case float64:
		if n != math.Trunc(n) || math.Abs(n) >= 1<<53 {
			return nil, fmt.Errorf("%w: %v is not an integer", ErrInvalidArguments, n)
		}
		return big.NewInt(int64(n)), nil
	}
	return nil, fmt.Errorf("%w: %v is not a number", ErrInvalidArguments, v)
}
