package shm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbagent/core/internal/shm"
)

func TestWriteReadRoundTrip(t *testing.T) {
	r, err := shm.New("test-region", 4096)
	require.NoError(t, err)
	defer r.Close()

	payload := []byte("hello orb")
	require.NoError(t, r.Write(payload))

	got, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestWriteOverflowFailsSynchronously(t *testing.T) {
	r, err := shm.New("small-region", 16)
	require.NoError(t, err)
	defer r.Close()

	err = r.Write(make([]byte, 64))
	assert.ErrorIs(t, err, shm.ErrOverflow)

	// A failed write must not have mutated the region's contents.
	got, readErr := r.Read()
	require.NoError(t, readErr)
	assert.Empty(t, got)
}

func TestEventFDSignalsOnWrite(t *testing.T) {
	r, err := shm.New("signal-region", 4096)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Write([]byte("x")))

	count, err := r.Wait()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestCloseIsIdempotent(t *testing.T) {
	r, err := shm.New("close-region", 4096)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.NoError(t, r.Close())
}
