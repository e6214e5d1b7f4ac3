package utils_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewarden/gatewarden/pkg/utils"
)

var errUnavailable = errors.New("service unavailable")

func fastRetryOptions() utils.RetryOptions {
	return utils.RetryOptions{
		MaxElapsedTime:  100 * time.Millisecond,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		MaxRetries:      3,
	}
}

func TestWithRetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		operation     func() (string, error)
		expectedCalls int
		expectedErr   error
		expectedRes   string
	}{
		{
			name: "succeeds first try",
			operation: func() (string, error) {
				return "ok", nil
			},
			expectedCalls: 1,
			expectedRes:   "ok",
		},
		{
			name: "succeeds after retries",
			operation: func() func() (string, error) {
				count := 0
				return func() (string, error) {
					count++
					if count < 3 {
						return "", errUnavailable
					}
					return "recovered", nil
				}
			}(),
			expectedCalls: 3,
			expectedRes:   "recovered",
		},
		{
			name: "fails all retries",
			operation: func() (string, error) {
				return "", errUnavailable
			},
			expectedCalls: 4, // Initial + 3 retries
			expectedErr:   errUnavailable,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			calls := 0
			wrappedOp := func() (string, error) {
				calls++
				return tt.operation()
			}

			result, err := utils.WithRetry(context.Background(), wrappedOp, fastRetryOptions())

			if tt.expectedErr != nil {
				require.Error(t, err)
				assert.Equal(t, tt.expectedErr.Error(), err.Error())
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, tt.expectedRes, result)
			assert.Equal(t, tt.expectedCalls, calls)
		})
	}
}

func TestWithRetryVoid(t *testing.T) {
	t.Parallel()

	calls := 0
	err := utils.WithRetryVoid(context.Background(), func() error {
		calls++
		if calls < 2 {
			return errUnavailable
		}
		return nil
	}, fastRetryOptions())

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetryContext(t *testing.T) {
	t.Parallel()

	t.Run("respects context cancellation", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		calls := 0

		operation := func() (string, error) {
			calls++
			return "", errUnavailable
		}

		opts := utils.RetryOptions{
			MaxElapsedTime:  1 * time.Second,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     200 * time.Millisecond,
			MaxRetries:      5,
		}

		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		result, err := utils.WithRetry(ctx, operation, opts)

		require.Error(t, err)
		assert.Equal(t, context.Canceled, err)
		assert.Empty(t, result)
		assert.Less(t, calls, 5) // Should not have completed all retries
	})
}
