package plan_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbagent/core/internal/plan"
)

func TestCapturePlanBreaksOnPipelineResult(t *testing.T) {
	p := plan.NewCapturePlan(time.Second, []string{"iris"})

	flow, err := p.HandleMirror(plan.MirrorOutput{X: 1, Y: 2})
	require.NoError(t, err)
	assert.Equal(t, plan.Continue, flow)

	flow, err = p.HandleCamera(plan.CameraFrame{Agent: "iris", Data: []byte("frame")})
	require.NoError(t, err)
	assert.Equal(t, plan.Continue, flow)

	var gotFrames map[string][]byte
	p.OnComplete = func(frames map[string][]byte, result plan.PipelineResult) error {
		gotFrames = frames
		return nil
	}

	flow, err = p.HandlePipeline(plan.PipelineResult{Accepted: true})
	require.NoError(t, err)
	assert.Equal(t, plan.Break, flow)
	assert.Equal(t, []byte("frame"), gotFrames["iris"])
}

func TestCapturePlanDropsFramesBeforeMirrorAimed(t *testing.T) {
	p := plan.NewCapturePlan(time.Second, []string{"iris"})
	_, err := p.HandleCamera(plan.CameraFrame{Agent: "iris", Data: []byte("stale")})
	require.NoError(t, err)

	var gotFrames map[string][]byte
	p.OnComplete = func(frames map[string][]byte, result plan.PipelineResult) error {
		gotFrames = frames
		return nil
	}
	_, err = p.HandlePipeline(plan.PipelineResult{Accepted: false})
	require.NoError(t, err)
	assert.NotContains(t, gotFrames, "iris")
}

func TestCapturePlanTimesOut(t *testing.T) {
	p := plan.NewCapturePlan(time.Millisecond, []string{"iris"})
	_, _ = p.PollExtra(context.Background())
	time.Sleep(5 * time.Millisecond)
	flow, err := p.PollExtra(context.Background())
	assert.Equal(t, plan.Break, flow)
	assert.Error(t, err)
}

func TestSelfCustodyUploadPlanSealsAndUploads(t *testing.T) {
	var sealedBytes, uploadedBytes []byte
	var uploadedID string

	p := &plan.SelfCustodyUploadPlan{
		SignupID: "signup-1",
		OrbID:    "orb-1",
		Images:   map[string][]byte{"left_ir.png": []byte("iris-bytes")},
		Seal: func(plaintext []byte) ([]byte, error) {
			sealedBytes = append([]byte("sealed:"), plaintext...)
			return sealedBytes, nil
		},
		Upload: func(ctx context.Context, signupID string, sealed []byte) error {
			uploadedID = signupID
			uploadedBytes = sealed
			return nil
		},
	}

	flow, err := p.PollExtra(context.Background())
	require.NoError(t, err)
	assert.Equal(t, plan.Break, flow)
	assert.Equal(t, "signup-1", uploadedID)
	assert.Equal(t, sealedBytes, uploadedBytes)

	// A second call must not re-run the upload.
	flow, err = p.PollExtra(context.Background())
	require.NoError(t, err)
	assert.Equal(t, plan.Break, flow)
}

func TestCalibrationPlanTracksMirrorAndMoves(t *testing.T) {
	var moved []plan.MirrorStep
	p := plan.NewCalibrationPlan(func(dx, dy int32) error {
		moved = append(moved, plan.MirrorStep{DX: dx, DY: dy})
		return nil
	})

	_, err := p.HandleMirror(plan.MirrorOutput{X: 10, Y: 20})
	require.NoError(t, err)

	go func() { p.Step <- plan.MirrorStep{DX: 1, DY: -1} }()
	// PollExtra never blocks, so let the sender reach its send on Step first.
	time.Sleep(10 * time.Millisecond)
	flow, err := p.PollExtra(context.Background())
	require.NoError(t, err)
	assert.Equal(t, plan.Continue, flow)
	require.Len(t, moved, 1)
	assert.Equal(t, int32(1), moved[0].DX)

	var finalX, finalY int32
	p.OnDone = func(x, y int32) error {
		finalX, finalY = x, y
		return nil
	}
	close(p.Done)
	flow, err = p.PollExtra(context.Background())
	require.NoError(t, err)
	assert.Equal(t, plan.Break, flow)
	assert.Equal(t, int32(10), finalX)
	assert.Equal(t, int32(20), finalY)
}

func TestStoreTracksActivePlanPerSession(t *testing.T) {
	s := plan.NewStore()
	s.Enter("session-1", "CapturePlan")
	name, ok := s.Active("session-1")
	require.True(t, ok)
	assert.Equal(t, "CapturePlan", name)

	s.Leave("session-1")
	_, ok = s.Active("session-1")
	assert.False(t, ok)
}
