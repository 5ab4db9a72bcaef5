package circuitbreaker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbagent/core/internal/circuitbreaker"
)

func TestCircuitTripsAfterConsecutiveFailures(t *testing.T) {
	cb := circuitbreaker.New(&circuitbreaker.Config{
		Name:        "test",
		MaxRequests: 1,
		Timeout:     10 * time.Millisecond,
		ReadyToTrip: func(c circuitbreaker.Counts) bool {
			return c.ConsecutiveFailures >= 2
		},
	})

	boom := errors.New("boom")
	fail := func(ctx context.Context) error { return boom }

	assert.ErrorIs(t, cb.ExecuteContext(context.Background(), fail), boom)
	assert.ErrorIs(t, cb.ExecuteContext(context.Background(), fail), boom)
	assert.Equal(t, circuitbreaker.StateOpen, cb.State())

	err := cb.ExecuteContext(context.Background(), fail)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
}

func TestCircuitHalfOpensAfterTimeoutAndCloses(t *testing.T) {
	cb := circuitbreaker.New(&circuitbreaker.Config{
		Name:        "test",
		MaxRequests: 1,
		Timeout:     5 * time.Millisecond,
		ReadyToTrip: func(c circuitbreaker.Counts) bool {
			return c.ConsecutiveFailures >= 1
		},
	})

	boom := errors.New("boom")
	require.ErrorIs(t, cb.ExecuteContext(context.Background(), func(ctx context.Context) error { return boom }), boom)
	require.Equal(t, circuitbreaker.StateOpen, cb.State())

	time.Sleep(10 * time.Millisecond)

	err := cb.ExecuteContext(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateClosed, cb.State())
}
