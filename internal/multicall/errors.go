package multicall

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleResponse is matched by StaleResponseError
	ErrStaleResponse = errors.New("stale response")
	// ErrTransportFailure is returned when the batched remote call cannot be completed
	ErrTransportFailure = errors.New("transport failure")
)

// StaleResponseError is returned when a batch was answered below the requested freshness floor
type StaleResponseError struct {
	Height    uint64
	MinHeight uint64
}

func (e *StaleResponseError) Error() string {
	return fmt.Sprintf("stale response: answered at height %d, need at least %d", e.Height, e.MinHeight)
}

// Is reports whether target is ErrStaleResponse
func (e *StaleResponseError) Is(target error) bool {
	return target == ErrStaleResponse
}

// transportError wraps an endpoint failure so that both ErrTransportFailure
// and the underlying cause match with errors.Is / errors.As
func transportError(format string, args ...any) error {
	return fmt.Errorf("%w: %w", ErrTransportFailure, fmt.Errorf(format, args...))
}
