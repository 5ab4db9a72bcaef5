package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbagent/core/internal/broker"
	"github.com/orbagent/core/internal/port"
)

func TestCellLifecycleTransitions(t *testing.T) {
	cell := broker.NewCell[int]()
	assert.Equal(t, broker.Vacant, cell.State())
	assert.False(t, cell.IsInitialized())

	p := port.New[int](1)
	require.NoError(t, cell.Enable(nil, p))
	assert.True(t, cell.IsEnabled())

	ok, err := cell.TryEnable(nil, p)
	require.NoError(t, err)
	assert.False(t, ok, "TryEnable on an already-enabled cell is a no-op")

	cell.Disable()
	assert.Equal(t, broker.Disabled, cell.State())
	assert.True(t, cell.IsInitialized())
}

func TestFenceDiscardsStaleOutput(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	fence := broker.NewFence()
	assert.False(t, fence.Admits(past))
	assert.True(t, fence.Admits(time.Now().Add(time.Hour)))
}

func TestPollCellDispatchesInOrderAndRespectsFence(t *testing.T) {
	cell := broker.NewCell[int]()
	p := port.New[int](4)
	require.NoError(t, cell.Enable(nil, p))
	require.NoError(t, p.TrySend(port.NewEnvelope(1)))
	require.NoError(t, p.TrySend(port.NewEnvelope(2)))

	var dispatched []int
	flow, err := broker.PollCell(cell, broker.NewFence(), func(v int) (broker.Flow, error) {
		dispatched = append(dispatched, v)
		return broker.Continue, nil
	})
	require.NoError(t, err)
	assert.Equal(t, broker.Continue, flow)
	assert.Equal(t, []int{1, 2}, dispatched)
}

func TestPollCellDiscardsOutputBeforeFence(t *testing.T) {
	cell := broker.NewCell[int]()
	p := port.New[int](4)
	require.NoError(t, cell.Enable(nil, p))
	require.NoError(t, p.TrySend(port.NewEnvelope(1)))

	time.Sleep(time.Millisecond)
	fence := broker.NewFence() // cutoff is after the envelope above was issued

	var dispatched []int
	flow, err := broker.PollCell(cell, fence, func(v int) (broker.Flow, error) {
		dispatched = append(dispatched, v)
		return broker.Continue, nil
	})
	require.NoError(t, err)
	assert.Equal(t, broker.Continue, flow)
	assert.Empty(t, dispatched, "envelope issued before the fence must be discarded")
}

func TestBrokerRunStopsOnBreak(t *testing.T) {
	calls := 0
	b := broker.New([]broker.Entry{
		{
			Name: "counter",
			Poll: func(fence broker.Fence) (broker.Flow, error) {
				calls++
				if calls >= 3 {
					return broker.Break, nil
				}
				return broker.Continue, nil
			},
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := b.Run(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, calls, 3)
}

func TestBrokerRunStopsWhenExtraBreaks(t *testing.T) {
	b := broker.New([]broker.Entry{
		{
			Name: "flaky",
			Poll: func(fence broker.Fence) (broker.Flow, error) {
				return broker.Continue, nil
			},
		},
	})
	b.Extra = func(fence broker.Fence) (broker.Flow, error) {
		return broker.Break, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.Run(ctx))
}
