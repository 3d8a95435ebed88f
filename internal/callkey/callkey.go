package callkey

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Separator joins the address and calldata segments of a Key.
// Neither a hex address nor lowercase hex calldata can contain it.
const Separator = "-"

var (
	// ErrInvalidAddress is returned when a call target is not a 20-byte hex address
	ErrInvalidAddress = errors.New("invalid address")
	// ErrInvalidPayload is returned when call data is not lowercase, even-length hex
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrMalformedKey is returned when a key does not split into address and calldata
	ErrMalformedKey = errors.New("malformed call key")
)

var (
	addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	payloadPattern = regexp.MustCompile(`^0x([a-f0-9]{2})*$`)
)

// Call is a single read request against a contract
type Call struct {
	Address  string `json:"address"`
	CallData string `json:"callData"`
}

// Key is the canonical string form of a Call
type Key string

// NewCall builds a Call from typed values. The address is checksummed and the
// payload lowercase, so the result always encodes.
func NewCall(target common.Address, data []byte) Call {
	return Call{
		Address:  target.Hex(),
		CallData: hexutil.Encode(data),
	}
}

// Validate checks the address and calldata formats
func (c Call) Validate() error {
	if !addressPattern.MatchString(c.Address) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, c.Address)
	}
	if !payloadPattern.MatchString(c.CallData) {
		return fmt.Errorf("%w: %q", ErrInvalidPayload, c.CallData)
	}
	return nil
}

// Target returns the call address
func (c Call) Target() common.Address {
	return common.HexToAddress(c.Address)
}

// Data returns the decoded calldata, or nil if it is not valid hex
func (c Call) Data() []byte {
	data, err := hexutil.Decode(c.CallData)
	if err != nil {
		return nil
	}
	return data
}

// Encode returns the key for a call, rejecting calls with malformed fields
func Encode(c Call) (Key, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	return Key(c.Address + Separator + c.CallData), nil
}

// Decode splits a key back into its call
func Decode(k Key) (Call, error) {
	parts := strings.Split(string(k), Separator)
	if len(parts) != 2 {
		return Call{}, fmt.Errorf("%w: %q", ErrMalformedKey, k)
	}
	return Call{Address: parts[0], CallData: parts[1]}, nil
}

// String returns the key as a string
func (k Key) String() string {
	return string(k)
}
