package agent_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbagent/core/internal/agent"
	"github.com/orbagent/core/internal/shm"
	"github.com/orbagent/core/internal/subprocess"
)

// TestProcessStrategyRestartReattachesSharedMemory exercises the scenario a
// maintainer review called out as entirely untested: crashing a process
// agent N times in a row must result in N transparent restarts, each new
// child attached to the same shared-memory region the first one was, with
// the original init payload intact. The shm.Region is owned by this test
// (the parent), not by processStrategy, so it is never recreated across
// restarts; only the child is relaunched.
func TestProcessStrategyRestartReattachesSharedMemory(t *testing.T) {
	initRegion, err := shm.New("test-init", shm.InitRegionSize)
	require.NoError(t, err)
	defer initRegion.Close()

	const initPayload = "agent-init-payload-v1"
	require.NoError(t, initRegion.Write([]byte(initPayload)))

	spec := subprocess.Spec{
		Path:    "/bin/sh",
		Args:    []string{"-c", "exit 1"},
		Title:   "test-agent",
		Regions: []*shm.Region{initRegion},
	}
	strategy := agent.NewProcessStrategy(spec, agent.ExitRestart)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const crashes = 3
	for i := 0; i < crashes; i++ {
		require.NoError(t, strategy.Start(ctx))

		var ev agent.ExitEvent
		select {
		case ev = <-strategy.Exited():
			require.Error(t, ev.Err, "exit 1 must be reported as a non-nil error")
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for child to exit")
		}

		restarted, err := agent.HandleExit(ctx, strategy, ev)
		require.NoError(t, err)
		assert.True(t, restarted)

		payload, err := initRegion.Read()
		require.NoError(t, err)
		assert.Equal(t, initPayload, string(payload), "the init payload must survive every restart unchanged")
	}
}
