package plan

import (
	"context"
	"sync/atomic"
)

// Sequencer is itself a Plan that delegates every handler to whichever plan
// is currently active, and swaps back to its idle plan whenever the active
// one returns Break. This is what lets the broker run for the kiosk's whole
// lifetime while individual capture sessions come and go underneath it:
// only a true top-level shutdown ends the broker's Run loop, via ctx
// cancellation, never a session finishing.
type Sequencer struct {
	idle    Plan
	current atomic.Pointer[Plan]
}

// NewSequencer returns a Sequencer starting on idle. idle is restored
// automatically whenever the active plan (idle itself, or one installed via
// Set) returns Break.
func NewSequencer(idle Plan) *Sequencer {
	s := &Sequencer{idle: idle}
	s.current.Store(&idle)
	return s
}

// Set installs p as the active plan, replacing whatever was running.
// Typically called from within a handler (e.g. an idle plan's HandleQRScan)
// to start a capture session.
func (s *Sequencer) Set(p Plan) {
	s.current.Store(&p)
}

// Active returns the plan currently handling dispatch.
func (s *Sequencer) Active() Plan {
	return *s.current.Load()
}

// Reset restores the idle plan.
func (s *Sequencer) Reset() {
	idle := s.idle
	s.current.Store(&idle)
}

func (s *Sequencer) resolve(flow Flow) Flow {
	if flow == Break {
		s.Reset()
		return Continue
	}
	return Continue
}

func (s *Sequencer) HandleMirror(out MirrorOutput) (Flow, error) {
	flow, err := s.Active().HandleMirror(out)
	if err != nil {
		return Continue, err
	}
	return s.resolve(flow), nil
}

func (s *Sequencer) HandleCamera(f CameraFrame) (Flow, error) {
	flow, err := s.Active().HandleCamera(f)
	if err != nil {
		return Continue, err
	}
	return s.resolve(flow), nil
}

func (s *Sequencer) HandlePipeline(r PipelineResult) (Flow, error) {
	flow, err := s.Active().HandlePipeline(r)
	if err != nil {
		return Continue, err
	}
	return s.resolve(flow), nil
}

func (s *Sequencer) HandleQRScan(r QRScanResult) (Flow, error) {
	flow, err := s.Active().HandleQRScan(r)
	if err != nil {
		return Continue, err
	}
	return s.resolve(flow), nil
}

func (s *Sequencer) HandleUpload(r UploadResult) (Flow, error) {
	flow, err := s.Active().HandleUpload(r)
	if err != nil {
		return Continue, err
	}
	return s.resolve(flow), nil
}

func (s *Sequencer) PollExtra(ctx context.Context) (Flow, error) {
	flow, err := s.Active().PollExtra(ctx)
	if err != nil {
		return Continue, err
	}
	return s.resolve(flow), nil
}
