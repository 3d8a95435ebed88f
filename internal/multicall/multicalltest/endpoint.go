// Package multicalltest provides an in-memory multicall Endpoint for tests.
package multicalltest

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"multicallgofer/internal/callkey"
	"multicallgofer/internal/signature"
)

// Handler answers one decoded call. Returning an error makes the call revert.
type Handler func(args []any) ([]any, error)

type route struct {
	sig     *signature.Signature
	handler Handler
}

// Endpoint answers batches from registered handlers at a fixed height.
// Calls without a handler revert.
type Endpoint struct {
	mu      sync.Mutex
	height  uint64
	routes  map[common.Address]map[string]route
	batches [][]callkey.Call
	err     error
}

// NewEndpoint creates an Endpoint answering at height
func NewEndpoint(height uint64) *Endpoint {
	return &Endpoint{
		height: height,
		routes: make(map[common.Address]map[string]route),
	}
}

// Handle registers h for calls of sig on target
func (e *Endpoint) Handle(target common.Address, sig *signature.Signature, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.routes[target] == nil {
		e.routes[target] = make(map[string]route)
	}
	e.routes[target][string(sig.Selector())] = route{sig: sig, handler: h}
}

// Return registers a handler that always answers values
func (e *Endpoint) Return(target common.Address, sig *signature.Signature, values ...any) {
	e.Handle(target, sig, func([]any) ([]any, error) {
		return values, nil
	})
}

// SetHeight changes the answering height
func (e *Endpoint) SetHeight(height uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.height = height
}

// Fail makes every following batch fail with err
func (e *Endpoint) Fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Batches returns the batches received so far
func (e *Endpoint) Batches() [][]callkey.Call {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([][]callkey.Call, len(e.batches))
	copy(out, e.batches)
	return out
}

// Aggregate implements multicall.Endpoint
func (e *Endpoint) Aggregate(ctx context.Context, calls []callkey.Call) (uint64, [][]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.batches = append(e.batches, calls)
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	if e.err != nil {
		return 0, nil, e.err
	}

	results := make([][]byte, len(calls))
	for i, c := range calls {
		results[i] = e.answer(c)
	}
	return e.height, results, nil
}

func (e *Endpoint) answer(c callkey.Call) []byte {
	data := c.Data()
	if len(data) < 4 {
		return nil
	}
	r, ok := e.routes[c.Target()][string(data[:4])]
	if !ok {
		return nil
	}

	args, err := r.sig.Inputs().Unpack(data[4:])
	if err != nil {
		return nil
	}
	values, err := r.handler(args)
	if err != nil {
		return nil
	}
	out, err := r.sig.Outputs().Pack(values...)
	if err != nil {
		return nil
	}
	return out
}

// StaticHeight is a HeightSource reporting a fixed height
type StaticHeight uint64

// CurrentHeight implements batcher.HeightSource
func (h StaticHeight) CurrentHeight(context.Context) (uint64, error) {
	return uint64(h), nil
}
