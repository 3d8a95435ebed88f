package jsonrpc

import (
	"encoding/json"
	"strings"
)

// Response represents a JSON-RPC response
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      ID              `json:"id"`
}

// HasError returns true if the response contains an error
func (r *Response) HasError() bool {
	return r.Error != nil
}

// NewResponse creates a successful response
func NewResponse(id ID, result interface{}) (*Response, error) {
	resp := &Response{
		JSONRPC: Version,
		ID:      id,
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	resp.Result = resultBytes

	return resp, nil
}

// NewErrorResponse creates an error response
func NewErrorResponse(id ID, err *Error) *Response {
	return &Response{
		JSONRPC: Version,
		Error:   err,
		ID:      id,
	}
}

// ParseResponse parses a JSON-RPC response from bytes
func ParseResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Bytes returns the response as JSON bytes
func (r *Response) Bytes() ([]byte, error) {
	return json.Marshal(r)
}

// MarshalBatchResponse marshals multiple responses as a JSON array
func MarshalBatchResponse(responses []*Response) ([]byte, error) {
	return json.Marshal(responses)
}

// GetResultAs unmarshals the result into the provided type
func (r *Response) GetResultAs(v interface{}) error {
	if r.Result == nil {
		return nil
	}
	return json.Unmarshal(r.Result, v)
}

// IsRetryable reports whether another upstream could answer differently.
// Client errors and contract execution errors are final.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case CodeParseError, CodeInvalidRequest, CodeInvalidParams:
		return false
	}

	message := strings.ToLower(e.Message)
	switch {
	case strings.Contains(message, "execution reverted"):
		return false
	case strings.Contains(message, "invalid opcode"):
		return false
	case strings.Contains(message, "out of gas"):
		return false
	}

	return true
}
