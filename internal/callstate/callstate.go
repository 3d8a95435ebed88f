package callstate

import (
	"errors"
	"fmt"

	"multicallgofer/internal/batcher"
)

// ErrDecodeFailure marks a response that was present but could not be decoded
var ErrDecodeFailure = errors.New("decode failure")

// ErrEmptyResponse marks a call that executed but returned no data
var ErrEmptyResponse = errors.New("empty response")

// Decoder decodes return data into one value per output
type Decoder interface {
	Decode(data []byte) ([]any, error)
}

// State is the observable state of one call.
// Exactly one holds: invalid, loading, settled error or settled success.
type State struct {
	Valid   bool
	Loading bool
	Syncing bool
	Error   bool
	Result  []any
	Err     error
}

var (
	// Invalid is the state of a call that was never sent
	Invalid = State{}
	// Loading is the state of a call without an answer yet. An unanswered
	// call is never at the latest height, so it reports Syncing too.
	Loading = State{Valid: true, Loading: true, Syncing: true}
)

// IsSettled returns true once a response was received and decoding attempted
func (s State) IsSettled() bool {
	return s.Valid && !s.Loading
}

// Derive computes the state of raw against rule at the given latest height.
// A nil rule or a zero latest height cannot judge freshness and yields Loading.
// Decode failures are absorbed into a settled error state.
func Derive(raw *batcher.RawResult, rule Decoder, latest uint64) State {
	if raw == nil || !raw.Valid {
		return Invalid
	}
	if raw.Height == 0 {
		return Loading
	}
	if rule == nil || latest == 0 {
		return Loading
	}

	syncing := raw.Height < latest

	if len(raw.Data) == 0 {
		return State{
			Valid:   true,
			Syncing: syncing,
			Error:   true,
			Err:     ErrEmptyResponse,
		}
	}

	result, err := rule.Decode(raw.Data)
	if err != nil {
		return State{
			Valid:   true,
			Syncing: syncing,
			Error:   true,
			Err:     fmt.Errorf("%w: %v", ErrDecodeFailure, err),
		}
	}

	return State{
		Valid:   true,
		Syncing: syncing,
		Result:  result,
	}
}

// DeriveAll derives one state per raw result
func DeriveAll(raw []batcher.RawResult, rule Decoder, latest uint64) []State {
	states := make([]State, len(raw))
	for i := range raw {
		states[i] = Derive(&raw[i], rule, latest)
	}
	return states
}
