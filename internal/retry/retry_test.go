package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"multicallgofer/internal/multicall"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"stale", &multicall.StaleResponseError{Height: 1, MinHeight: 2}, true},
		{"transport", fmt.Errorf("%w: refused", multicall.ErrTransportFailure), true},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("%w: %w", multicall.ErrTransportFailure, context.DeadlineExceeded), false},
		{"other", errors.New("invalid config"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestDoValue_RetriesUntilSuccess(t *testing.T) {
	p := NewPolicy(3, time.Millisecond, zerolog.Nop())

	attempts := 0
	got, err := DoValue(context.Background(), p, "test", func(context.Context) (int, error) {
		attempts++
		if attempts < 3 {
			return 0, &multicall.StaleResponseError{Height: 9, MinHeight: 10}
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, got)
	require.Equal(t, 3, attempts)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	p := NewPolicy(2, 0, zerolog.Nop())
	cause := fmt.Errorf("%w: refused", multicall.ErrTransportFailure)

	attempts := 0
	err := p.Do(context.Background(), "test", func(context.Context) error {
		attempts++
		return cause
	})
	require.ErrorIs(t, err, cause)
	require.Equal(t, 2, attempts)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	p := NewPolicy(5, 0, zerolog.Nop())
	cause := errors.New("bad request")

	attempts := 0
	err := p.Do(context.Background(), "test", func(context.Context) error {
		attempts++
		return cause
	})
	require.ErrorIs(t, err, cause)
	require.Equal(t, 1, attempts)
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	p := NewPolicy(3, time.Hour, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := p.Do(ctx, "test", func(context.Context) error {
		attempts++
		cancel()
		return multicall.ErrTransportFailure
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, attempts)
}

func TestNewPolicy_AtLeastOneAttempt(t *testing.T) {
	require.Equal(t, 1, NewPolicy(0, 0, zerolog.Nop()).MaxAttempts)
}
