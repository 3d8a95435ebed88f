package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"multicallgofer/internal/balances"
	"multicallgofer/internal/callstate"
	"multicallgofer/internal/jsonrpc"
	"multicallgofer/internal/metrics"
	"multicallgofer/internal/multicall"
	"multicallgofer/internal/optional"
	"multicallgofer/internal/pairs"
	"multicallgofer/internal/retry"
	"multicallgofer/internal/signature"
	"multicallgofer/internal/tokens"
)

const signatureCacheSize = 256

var errInvalidParams = errors.New("invalid params")

// Caller is the multicall query surface exposed over JSON-RPC
type Caller interface {
	tokens.SingleCaller
	tokens.MultiCaller
	SingleContractMultipleData(ctx context.Context, target common.Address, sig *signature.Signature, argSets [][]signature.Arg) ([]callstate.State, error)
}

// HeightReader reports the height results are expected to be fresh at
type HeightReader interface {
	LatestHeight(ctx context.Context) (uint64, error)
}

// ServiceConfig holds the collaborators of a Service.
// Pairs may be nil, in which case mc_pairs is not served.
type ServiceConfig struct {
	ChainID  uint64
	Caller   Caller
	Heights  HeightReader
	Balances *balances.Resolver
	Pairs    *pairs.Resolver
	Tokens   []tokens.Token
	Retry    *retry.Policy
	Metrics  metrics.Metricer
}

type methodFunc func(ctx context.Context, params []json.RawMessage) (interface{}, error)

// Service executes mc_* JSON-RPC methods
type Service struct {
	chainID  uint64
	caller   Caller
	heights  HeightReader
	balances *balances.Resolver
	pairs    *pairs.Resolver
	known    map[common.Address]tokens.Token
	sigs     *lru.Cache[string, *signature.Signature]
	retry    *retry.Policy
	metrics  metrics.Metricer
	methods  map[string]methodFunc
	logger   zerolog.Logger
}

// NewService creates a new Service
func NewService(cfg ServiceConfig, logger zerolog.Logger) (*Service, error) {
	sigs, err := lru.New[string, *signature.Signature](signatureCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create signature cache: %w", err)
	}

	logger = logger.With().Str("component", "service").Logger()

	s := &Service{
		chainID:  cfg.ChainID,
		caller:   cfg.Caller,
		heights:  cfg.Heights,
		balances: cfg.Balances,
		pairs:    cfg.Pairs,
		known:    make(map[common.Address]tokens.Token, len(cfg.Tokens)),
		sigs:     sigs,
		retry:    cfg.Retry,
		metrics:  cfg.Metrics,
		logger:   logger,
	}
	if s.retry == nil {
		s.retry = retry.NewPolicy(1, 0, logger)
	}
	if s.metrics == nil {
		s.metrics = metrics.NoopMetrics{}
	}
	for _, t := range cfg.Tokens {
		s.known[t.Address] = t
	}

	s.methods = map[string]methodFunc{
		"mc_call":          s.call,
		"mc_ethBalances":   s.ethBalances,
		"mc_tokenBalances": s.tokenBalances,
		"mc_tokenInfo":     s.tokenInfo,
		"mc_blockNumber":   s.blockNumber,
	}
	if s.pairs != nil {
		s.methods["mc_pairs"] = s.pairsMethod
	}
	return s, nil
}

// Methods returns the names of the served methods
func (s *Service) Methods() []string {
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	return names
}

// Execute runs one request. Retryable batch failures are retried per the retry policy.
func (s *Service) Execute(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	fn, ok := s.methods[req.Method]
	if !ok {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrMethodNotFound)
	}

	params, err := req.ParamsArray()
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInvalidParams, err.Error()))
	}

	onDone := s.metrics.RecordServerRequest(req.Method)
	result, err := retry.DoValue(ctx, s.retry, req.Method, func(ctx context.Context) (interface{}, error) {
		return fn(ctx, params)
	})
	onDone(err)

	if err != nil {
		rpcErr := toRPCError(err)
		s.logger.Debug().
			Err(err).
			Str("method", req.Method).
			Int("code", rpcErr.Code).
			Msg("request failed")
		return jsonrpc.NewErrorResponse(req.ID, rpcErr)
	}

	resp, err := jsonrpc.NewResponse(req.ID, result)
	if err != nil {
		s.logger.Error().Err(err).Str("method", req.Method).Msg("failed to marshal result")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrInternal)
	}
	return resp
}

// toRPCError maps resolution failures onto JSON-RPC error codes
func toRPCError(err error) *jsonrpc.Error {
	var rpcErr *jsonrpc.Error
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, errInvalidParams),
		errors.Is(err, signature.ErrInvalidArguments),
		errors.Is(err, signature.ErrInvalidSignature):
		return jsonrpc.NewError(jsonrpc.CodeInvalidParams, err.Error())
	case errors.Is(err, multicall.ErrStaleResponse):
		return jsonrpc.NewError(jsonrpc.CodeStaleResponse, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return jsonrpc.NewError(jsonrpc.CodeServerError, "request timed out")
	case errors.Is(err, context.Canceled):
		return jsonrpc.NewError(jsonrpc.CodeServerError, "request canceled")
	case errors.Is(err, multicall.ErrTransportFailure):
		return jsonrpc.NewError(jsonrpc.CodeTransportFailure, err.Error())
	}
	return jsonrpc.ErrInternal
}

// mc_call: [to, signature, argSets?]
func (s *Service) call(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	if len(params) < 2 || len(params) > 3 {
		return nil, fmt.Errorf("%w: expected [to, signature, argSets]", errInvalidParams)
	}

	var to, text string
	if err := unmarshalParam(params[0], &to); err != nil {
		return nil, err
	}
	if !common.IsHexAddress(to) {
		return nil, fmt.Errorf("%w: %q is not an address", errInvalidParams, to)
	}
	if err := unmarshalParam(params[1], &text); err != nil {
		return nil, err
	}
	sig, err := s.signature(text)
	if err != nil {
		return nil, err
	}

	rawSets := [][]any{{}}
	if len(params) == 3 {
		if err := unmarshalParam(params[2], &rawSets); err != nil {
			return nil, err
		}
	}
	argSets := make([][]signature.Arg, len(rawSets))
	for i, raw := range rawSets {
		args, err := signature.ParseArgs(sig, raw)
		if err != nil {
			return nil, fmt.Errorf("argument set %d: %w", i, err)
		}
		argSets[i] = args
	}

	states, err := s.caller.SingleContractMultipleData(ctx, common.HexToAddress(to), sig, argSets)
	if err != nil {
		return nil, err
	}
	results := make([]callResult, len(states))
	for i, state := range states {
		results[i] = newCallResult(state)
	}
	return results, nil
}

// mc_ethBalances: [addresses]
func (s *Service) ethBalances(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("%w: expected [addresses]", errInvalidParams)
	}
	var addresses []string
	if err := unmarshalParam(params[0], &addresses); err != nil {
		return nil, err
	}

	amounts, err := s.balances.ETHBalances(ctx, addresses)
	if err != nil {
		return nil, err
	}
	return newAmountsResult(amounts), nil
}

// mc_tokenBalances: [account, tokenAddresses]
func (s *Service) tokenBalances(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	if len(params) != 2 {
		return nil, fmt.Errorf("%w: expected [account, tokens]", errInvalidParams)
	}
	var account string
	var tokenAddresses []string
	if err := unmarshalParam(params[0], &account); err != nil {
		return nil, err
	}
	if err := unmarshalParam(params[1], &tokenAddresses); err != nil {
		return nil, err
	}

	addresses := make([]common.Address, len(tokenAddresses))
	for i, a := range tokenAddresses {
		if !common.IsHexAddress(a) {
			return nil, fmt.Errorf("%w: %q is not a token address", errInvalidParams, a)
		}
		addresses[i] = common.HexToAddress(a)
	}
	resolved, err := s.resolveTokens(ctx, addresses)
	if err != nil {
		return nil, err
	}
	tokenList := make([]tokens.Token, 0, len(resolved))
	var unresolved []string
	for i, r := range resolved {
		if t, ok := r.Get(); ok {
			tokenList = append(tokenList, t)
		} else {
			unresolved = append(unresolved, addresses[i].Hex())
		}
	}

	amounts, loading, err := s.balances.TokenBalancesWithLoading(ctx, parseAddress(account), tokenList)
	if err != nil {
		return nil, err
	}
	return tokenBalancesResult{Loading: loading, Balances: newAmountsResult(amounts), Unresolved: unresolved}, nil
}

// mc_pairs: [[[tokenA, tokenB], ...]]
func (s *Service) pairsMethod(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("%w: expected [pairs]", errInvalidParams)
	}
	var rawPairs [][2]string
	if err := unmarshalParam(params[0], &rawPairs); err != nil {
		return nil, err
	}

	var unique []common.Address
	seen := make(map[common.Address]bool)
	for _, rp := range rawPairs {
		for _, a := range rp {
			if addr, ok := parseAddress(a).Get(); ok && !seen[addr] {
				seen[addr] = true
				unique = append(unique, addr)
			}
		}
	}
	resolved, err := s.resolveTokens(ctx, unique)
	if err != nil {
		return nil, err
	}
	byAddress := make(map[common.Address]tokens.Token, len(resolved))
	for _, r := range resolved {
		if t, ok := r.Get(); ok {
			byAddress[t.Address] = t
		}
	}

	tokenPairs := make([][2]optional.Value[tokens.Token], len(rawPairs))
	for i, rp := range rawPairs {
		for j, a := range rp {
			if addr, ok := parseAddress(a).Get(); ok {
				if t, known := byAddress[addr]; known {
					tokenPairs[i][j] = optional.Some(t)
					continue
				}
			}
			tokenPairs[i][j] = optional.None[tokens.Token]()
		}
	}

	results, err := s.pairs.Pairs(ctx, tokenPairs)
	if err != nil {
		return nil, err
	}
	out := make([]pairResult, len(results))
	for i, r := range results {
		out[i] = newPairResult(r)
	}
	return out, nil
}

// mc_tokenInfo: [token]
func (s *Service) tokenInfo(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("%w: expected [token]", errInvalidParams)
	}
	var address string
	if err := unmarshalParam(params[0], &address); err != nil {
		return nil, err
	}
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: %q is not a token address", errInvalidParams, address)
	}
	resolved, err := s.resolveTokens(ctx, []common.Address{common.HexToAddress(address)})
	if err != nil {
		return nil, err
	}
	if t, ok := resolved[0].Get(); ok {
		return t, nil
	}
	return nil, nil
}

// mc_blockNumber: []
func (s *Service) blockNumber(ctx context.Context, _ []json.RawMessage) (interface{}, error) {
	height, err := s.heights.LatestHeight(ctx)
	if err != nil {
		return nil, err
	}
	return hexutil.EncodeUint64(height), nil
}

func (s *Service) signature(text string) (*signature.Signature, error) {
	if sig, ok := s.sigs.Get(text); ok {
		return sig, nil
	}
	sig, err := signature.Parse(text)
	if err != nil {
		return nil, err
	}
	s.sigs.Add(text, sig)
	return sig, nil
}

// resolveTokens returns configured tokens as they are and reads the metadata of
// the others from the chain in one batch per field. The zero address is the
// native currency. A token is absent while its decimals are unknown.
func (s *Service) resolveTokens(ctx context.Context, addresses []common.Address) ([]optional.Value[tokens.Token], error) {
	out := make([]optional.Value[tokens.Token], len(addresses))
	var unknown []common.Address
	var positions []int
	for i, address := range addresses {
		if t, ok := s.known[address]; ok {
			out[i] = optional.Some(t)
			continue
		}
		if address == (common.Address{}) {
			out[i] = optional.Some(tokens.Native(s.chainID))
			continue
		}
		unknown = append(unknown, address)
		positions = append(positions, i)
	}
	if len(unknown) == 0 {
		return out, nil
	}

	infos, err := tokens.Infos(ctx, s.caller, s.chainID, unknown)
	if err != nil {
		return nil, err
	}
	for j, info := range infos {
		out[positions[j]] = info
	}
	return out, nil
}

// unmarshalParam decodes numbers as json.Number so large integer arguments keep every digit
func unmarshalParam(raw json.RawMessage, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	return nil
}

func parseAddress(s string) optional.Value[common.Address] {
	if !common.IsHexAddress(s) {
		return optional.None[common.Address]()
	}
	return optional.Some(common.HexToAddress(s))
}
