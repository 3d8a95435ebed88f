package signature

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var (
	// ErrInvalidSignature is returned when a function signature cannot be parsed
	ErrInvalidSignature = errors.New("invalid function signature")
	// ErrInvalidArguments is returned when arguments do not fit the signature inputs
	ErrInvalidArguments = errors.New("invalid arguments")
)

// Signature is the decode rule for one contract function: it encodes calldata
// from typed arguments and decodes return data into values.
type Signature struct {
	method abi.Method
}

// New wraps an already parsed ABI method
func New(method abi.Method) *Signature {
	return &Signature{method: method}
}

// FromJSON looks up a method in a JSON ABI definition
func FromJSON(abiJSON string, method string) (*Signature, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	m, ok := parsed.Methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: method %q not found in ABI", ErrInvalidSignature, method)
	}
	return New(m), nil
}

// Parse reads a human-readable signature such as
//
//	balanceOf(address) returns (uint256)
//	function getReserves() view returns (uint112 reserve0, uint112 reserve1, uint32 blockTimestampLast)
//
// Tuple parameters are written in parentheses, e.g. "(address,bytes)[]".
func Parse(sig string) (*Signature, error) {
	s := strings.TrimSpace(sig)
	s = strings.TrimPrefix(s, "function ")

	open := strings.Index(s, "(")
	if open <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSignature, sig)
	}
	name := strings.TrimSpace(s[:open])
	if !isIdentifier(name) {
		return nil, fmt.Errorf("%w: bad function name %q", ErrInvalidSignature, name)
	}

	end := matchingParen(s, open)
	if end < 0 {
		return nil, fmt.Errorf("%w: unbalanced parentheses in %q", ErrInvalidSignature, sig)
	}

	inputs, err := parseArguments(s[open+1:end], "arg")
	if err != nil {
		return nil, fmt.Errorf("%w: inputs of %q: %v", ErrInvalidSignature, sig, err)
	}

	var outputs abi.Arguments
	rest := s[end+1:]
	if idx := strings.Index(rest, "returns"); idx >= 0 {
		ret := strings.TrimSpace(rest[idx+len("returns"):])
		if !strings.HasPrefix(ret, "(") {
			return nil, fmt.Errorf("%w: returns clause must be parenthesized in %q", ErrInvalidSignature, sig)
		}
		retEnd := matchingParen(ret, 0)
		if retEnd < 0 {
			return nil, fmt.Errorf("%w: unbalanced returns clause in %q", ErrInvalidSignature, sig)
		}
		outputs, err = parseArguments(ret[1:retEnd], "out")
		if err != nil {
			return nil, fmt.Errorf("%w: outputs of %q: %v", ErrInvalidSignature, sig, err)
		}
	}

	method := abi.NewMethod(name, name, abi.Function, "view", true, false, inputs, outputs)
	return New(method), nil
}

// MustParse is like Parse but panics on error. Intended for package-level signatures.
func MustParse(sig string) *Signature {
	s, err := Parse(sig)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the function name
func (s *Signature) Name() string {
	return s.method.RawName
}

// String returns the canonical signature, e.g. "balanceOf(address)"
func (s *Signature) String() string {
	return s.method.Sig
}

// Selector returns the 4-byte function selector
func (s *Signature) Selector() []byte {
	return s.method.ID
}

// Inputs returns the input arguments
func (s *Signature) Inputs() abi.Arguments {
	return s.method.Inputs
}

// Outputs returns the output arguments
func (s *Signature) Outputs() abi.Arguments {
	return s.method.Outputs
}

// Encode builds calldata: selector followed by the packed arguments.
// Arguments are checked against the input types before packing.
func (s *Signature) Encode(args ...Arg) ([]byte, error) {
	inputs := s.method.Inputs
	if len(args) != len(inputs) {
		return nil, fmt.Errorf("%w: %s expects %d arguments, got %d", ErrInvalidArguments, s.method.Sig, len(inputs), len(args))
	}

	values := make([]interface{}, len(args))
	for i, arg := range args {
		v, err := arg.value(inputs[i].Type)
		if err != nil {
			return nil, fmt.Errorf("%w: %s argument %d: %v", ErrInvalidArguments, s.method.Sig, i, err)
		}
		values[i] = v.Interface()
	}

	packed, err := inputs.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, s.method.Sig, err)
	}

	data := make([]byte, 0, len(s.method.ID)+len(packed))
	data = append(data, s.method.ID...)
	return append(data, packed...), nil
}

// Decode unpacks return data into one value per output
func (s *Signature) Decode(data []byte) ([]any, error) {
	return s.method.Outputs.Unpack(data)
}

// parseArguments parses a comma separated parameter list
func parseArguments(list string, prefix string) (abi.Arguments, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return abi.Arguments{}, nil
	}

	params := splitTopLevel(list)
	args := make(abi.Arguments, 0, len(params))
	for i, p := range params {
		typ, name := splitParam(p)
		if typ == "" {
			return nil, fmt.Errorf("empty parameter at position %d", i)
		}
		if name == "" {
			name = fmt.Sprintf("%s%d", prefix, i)
		}

		marshaling, err := toMarshaling(name, typ)
		if err != nil {
			return nil, err
		}
		t, err := abi.NewType(marshaling.Type, "", marshaling.Components)
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i, err)
		}
		args = append(args, abi.Argument{Name: name, Type: t})
	}
	return args, nil
}

// toMarshaling converts a type string into the form abi.NewType expects,
// expanding parenthesized tuples into components
func toMarshaling(name, typ string) (abi.ArgumentMarshaling, error) {
	typ = strings.TrimSpace(typ)
	if !strings.HasPrefix(typ, "(") {
		return abi.ArgumentMarshaling{Name: name, Type: typ}, nil
	}

	end := matchingParen(typ, 0)
	if end < 0 {
		return abi.ArgumentMarshaling{}, fmt.Errorf("unbalanced tuple %q", typ)
	}

	parts := splitTopLevel(typ[1:end])
	components := make([]abi.ArgumentMarshaling, 0, len(parts))
	for i, p := range parts {
		componentType, componentName := splitParam(p)
		if componentName == "" {
			componentName = fmt.Sprintf("field%d", i)
		}
		c, err := toMarshaling(componentName, componentType)
		if err != nil {
			return abi.ArgumentMarshaling{}, err
		}
		components = append(components, c)
	}

	return abi.ArgumentMarshaling{
		Name:       name,
		Type:       "tuple" + typ[end+1:],
		Components: components,
	}, nil
}

// splitParam separates "uint256 amount" into type and name, skipping data location keywords
func splitParam(p string) (string, string) {
	p = strings.TrimSpace(p)
	var typ, rest string
	if strings.HasPrefix(p, "(") {
		end := matchingParen(p, 0)
		if end < 0 {
			return p, ""
		}
		j := end + 1
		for j < len(p) && p[j] != ' ' {
			j++
		}
		typ, rest = p[:j], p[j:]
	} else {
		fields := strings.Fields(p)
		if len(fields) == 0 {
			return "", ""
		}
		typ, rest = fields[0], strings.Join(fields[1:], " ")
	}

	name := ""
	for _, f := range strings.Fields(rest) {
		switch f {
		case "memory", "calldata", "storage", "indexed", "payable":
			continue
		}
		name = f
	}
	return typ, name
}

// splitTopLevel splits on commas that are not nested in parentheses
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(parts, strings.TrimSpace(s[start:]))
}

// matchingParen returns the index of the parenthesis closing the one at open, or -1
func matchingParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
