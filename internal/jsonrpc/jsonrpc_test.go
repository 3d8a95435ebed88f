package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBatchRequest(t *testing.T) {
	requests, isBatch, err := ParseBatchRequest([]byte(`  {"jsonrpc":"2.0","method":"mc_blockNumber","id":7}`))
	require.NoError(t, err)
	require.False(t, isBatch)
	require.Len(t, requests, 1)
	require.NoError(t, requests[0].Validate())
	require.Equal(t, float64(7), requests[0].ID.Value())

	requests, isBatch, err = ParseBatchRequest([]byte(`[{"jsonrpc":"2.0","method":"a","id":1},{"jsonrpc":"2.0","method":"b","id":"x"}]`))
	require.NoError(t, err)
	require.True(t, isBatch)
	require.Len(t, requests, 2)
	require.Equal(t, "x", requests[1].ID.Value())

	_, _, err = ParseBatchRequest([]byte(`[]`))
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, _, err = ParseBatchRequest([]byte(" \n"))
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRequest_Validate(t *testing.T) {
	require.Error(t, (&Request{JSONRPC: "1.0", Method: "x"}).Validate())
	require.Error(t, (&Request{JSONRPC: Version}).Validate())
	require.True(t, (&Request{JSONRPC: Version, Method: "x"}).IsNotification())
}

func TestRequest_ParamsArray(t *testing.T) {
	req, err := NewRequest("eth_call", []interface{}{CallObject{To: "0x01", Data: "0x02"}, "latest"}, NewIDInt(1))
	require.NoError(t, err)
	require.JSONEq(t, `[{"to":"0x01","data":"0x02"},"latest"]`, string(req.Params))

	params, err := req.ParamsArray()
	require.NoError(t, err)
	require.Len(t, params, 2)

	empty := &Request{JSONRPC: Version, Method: "x"}
	params, err = empty.ParamsArray()
	require.NoError(t, err)
	require.Empty(t, params)

	object := &Request{JSONRPC: Version, Method: "x", Params: json.RawMessage(`{"a":1}`)}
	_, err = object.ParamsArray()
	require.Error(t, err)
}

func TestResponse(t *testing.T) {
	resp, err := NewResponse(NewIDInt(3), "0x10")
	require.NoError(t, err)
	data, err := resp.Bytes()
	require.NoError(t, err)
	require.JSONEq(t, `{"jsonrpc":"2.0","result":"0x10","id":3}`, string(data))

	parsed, err := ParseResponse(data)
	require.NoError(t, err)
	require.False(t, parsed.HasError())
	var result string
	require.NoError(t, parsed.GetResultAs(&result))
	require.Equal(t, "0x10", result)

	errResp := NewErrorResponse(NewIDString("a"), NewErrorWithData(CodeStaleResponse, "stale response", map[string]uint64{"height": 4}))
	data, err = errResp.Bytes()
	require.NoError(t, err)
	require.JSONEq(t, `{"jsonrpc":"2.0","error":{"code":-32001,"message":"stale response","data":{"height":4}},"id":"a"}`, string(data))
}

func TestError_IsRetryable(t *testing.T) {
	tests := []struct {
		err  *Error
		want bool
	}{
		{NewError(CodeInternalError, "internal error"), true},
		{NewError(CodeServerError, "header not found"), true},
		{NewError(CodeMethodNotFound, "the method does not exist"), true},
		{NewError(CodeInvalidParams, "invalid argument 0"), false},
		{NewError(CodeParseError, "parse error"), false},
		{NewError(3, "Execution Reverted: Multicall aggregate: call failed"), false},
		{NewError(CodeServerError, "out of gas"), false},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, tt.err.IsRetryable(), tt.err.Message)
	}
}
