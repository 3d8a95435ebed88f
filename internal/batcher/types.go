package batcher

import (
	"context"
)

// DefaultSafetyMargin is the number of most recent heights not trusted as canonical
const DefaultSafetyMargin uint64 = 10

// HeightSource reports the current chain height
type HeightSource interface {
	CurrentHeight(ctx context.Context) (uint64, error)
}

// RawResult is the undecoded answer for one input call.
// Valid=false means the call was never sent. Height 0 means the call was
// sent but not answered yet. A valid result with empty Data executed but
// returned nothing, typically a revert.
type RawResult struct {
	Valid  bool
	Data   []byte
	Height uint64
}

// InvalidResult is the result of an absent or malformed call
var InvalidResult = RawResult{}

// IsPending returns true if the call was sent but has no answer yet
func (r RawResult) IsPending() bool {
	return r.Valid && r.Height == 0
}
