package plan

import (
	"context"
	"fmt"
	"time"
)

// CapturePlan drives one enrollment attempt: aim the mirror, collect frames
// from every camera agent, wait for the pipeline's verdict, and assemble a
// signup bundle for upload. It overrides only HandleMirror, HandleCamera,
// and HandlePipeline; QR scanning and upload belong to sibling plans.
type CapturePlan struct {
	BasePlan

	SessionTimeout time.Duration // overall wall-clock budget for the attempt

	deadline time.Time
	started  bool

	mirrorAimed  bool
	frames       map[string][]byte
	wantCameras  []string
	result       *PipelineResult

	OnComplete func(frames map[string][]byte, result PipelineResult) error
}

// NewCapturePlan builds a CapturePlan expecting frames from wantCameras
// before it asks the pipeline for a verdict.
func NewCapturePlan(sessionTimeout time.Duration, wantCameras []string) *CapturePlan {
	return &CapturePlan{
		SessionTimeout: sessionTimeout,
		wantCameras:    wantCameras,
		frames:         make(map[string][]byte, len(wantCameras)),
	}
}

func (p *CapturePlan) HandleMirror(out MirrorOutput) (Flow, error) {
	p.mirrorAimed = true
	return Continue, nil
}

func (p *CapturePlan) HandleCamera(frame CameraFrame) (Flow, error) {
	if !p.mirrorAimed {
		// A frame that arrived before the mirror settled belongs to the
		// previous session; the broker's fence should have caught this,
		// but a plan-level check costs nothing and documents the intent.
		return Continue, nil
	}
	p.frames[frame.Agent] = frame.Data
	return Continue, nil
}

func (p *CapturePlan) HandlePipeline(result PipelineResult) (Flow, error) {
	p.result = &result
	if p.OnComplete != nil {
		if err := p.OnComplete(p.frames, result); err != nil {
			return Continue, fmt.Errorf("plan: capture complete callback: %w", err)
		}
	}
	return Break, nil
}

func (p *CapturePlan) PollExtra(ctx context.Context) (Flow, error) {
	if !p.started {
		p.started = true
		p.deadline = time.Now().Add(p.SessionTimeout)
	}
	if time.Now().After(p.deadline) {
		return Break, fmt.Errorf("plan: capture session timed out after %s", p.SessionTimeout)
	}
	if p.haveAllFrames() && p.result == nil {
		// Frames are in; the pipeline agent is expected to emit its result
		// asynchronously, so there is nothing further to do here but wait.
		return Continue, nil
	}
	return Continue, nil
}

func (p *CapturePlan) haveAllFrames() bool {
	for _, name := range p.wantCameras {
		if _, ok := p.frames[name]; !ok {
			return false
		}
	}
	return true
}
