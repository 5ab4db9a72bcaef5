package port_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbagent/core/internal/port"
)

func TestTrySendRespectsCapacity(t *testing.T) {
	p := port.New[int](2)
	require.NoError(t, p.TrySend(port.NewEnvelope(1)))
	require.NoError(t, p.TrySend(port.NewEnvelope(2)))
	assert.ErrorIs(t, p.TrySend(port.NewEnvelope(3)), port.ErrFull)
}

func TestTryNextFIFOOrder(t *testing.T) {
	p := port.New[string](4)
	require.NoError(t, p.TrySend(port.NewEnvelope("a")))
	require.NoError(t, p.TrySend(port.NewEnvelope("b")))

	env, ok := p.TryNext()
	require.True(t, ok)
	assert.Equal(t, "a", env.Value)

	env, ok = p.TryNext()
	require.True(t, ok)
	assert.Equal(t, "b", env.Value)

	_, ok = p.TryNext()
	assert.False(t, ok)
}

func TestCloseUnblocksSend(t *testing.T) {
	p := port.New[int](1)
	require.NoError(t, p.TrySend(port.NewEnvelope(1)))

	done := make(chan error, 1)
	go func() {
		done <- p.Send(port.NewEnvelope(2))
	}()

	time.Sleep(10 * time.Millisecond)
	p.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, port.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Send did not unblock after Close")
	}
}

func TestDerivePropagatesChainID(t *testing.T) {
	parent := port.NewEnvelope("seed")
	child := port.Derive("next", parent.Chain())
	assert.Equal(t, parent.Chain(), child.Chain())
}

func TestTrySendAfterCloseErrors(t *testing.T) {
	p := port.New[int](1)
	p.Close()
	assert.ErrorIs(t, p.TrySend(port.NewEnvelope(1)), port.ErrClosed)
}
