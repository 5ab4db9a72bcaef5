// Package plan implements the cooperative state machines a Broker drives:
// per-agent output handlers with Continue/Break defaults, and composition of
// sub-plans into higher-level multi-phase behaviors.
package plan

import (
	"context"
	"time"

	"github.com/orbagent/core/internal/broker"
)

// Flow is the plan-level control signal, identical to broker.Flow: Continue
// keeps the owning broker's poll loop running, Break ends it and returns
// control to whatever called Run.
type Flow = broker.Flow

const (
	Continue = broker.Continue
	Break    = broker.Break
)

// MirrorOutput reports the mirror's current aim, in motor microsteps.
type MirrorOutput struct {
	X, Y     int32
	IssuedAt time.Time
	ChainID  uint64
}

// CameraFrame is one frame emitted by an IR eye, IR face, RGB, or thermal
// camera agent.
type CameraFrame struct {
	Agent    string
	Data     []byte
	IssuedAt time.Time
	ChainID  uint64
}

// PipelineResult is the inference pipeline's verdict on a capture attempt.
type PipelineResult struct {
	Accepted bool
	Reason   string
	IssuedAt time.Time
	ChainID  uint64
}

// QRScanResult is a decoded QR payload from the QR scanner agent.
type QRScanResult struct {
	Payload  string
	IssuedAt time.Time
	ChainID  uint64
}

// UploadResult reports the uploader agent's outcome for a signup bundle.
type UploadResult struct {
	SignupID string
	Err      error
	IssuedAt time.Time
	ChainID  uint64
}

// Plan is a state machine a Broker drives: one handler per agent kind, plus
// PollExtra for timers and external events not tied to any single agent.
// Every handler defaults to Continue via BasePlan, so a concrete plan
// overrides only the agents it cares about.
type Plan interface {
	HandleMirror(MirrorOutput) (Flow, error)
	HandleCamera(CameraFrame) (Flow, error)
	HandlePipeline(PipelineResult) (Flow, error)
	HandleQRScan(QRScanResult) (Flow, error)
	HandleUpload(UploadResult) (Flow, error)
	PollExtra(ctx context.Context) (Flow, error)
}

// BasePlan implements every Plan method as a Continue no-op. Concrete plans
// embed it and override only the handlers their phase needs.
type BasePlan struct{}

func (BasePlan) HandleMirror(MirrorOutput) (Flow, error)          { return Continue, nil }
func (BasePlan) HandleCamera(CameraFrame) (Flow, error)           { return Continue, nil }
func (BasePlan) HandlePipeline(PipelineResult) (Flow, error)      { return Continue, nil }
func (BasePlan) HandleQRScan(QRScanResult) (Flow, error)          { return Continue, nil }
func (BasePlan) HandleUpload(UploadResult) (Flow, error)          { return Continue, nil }
func (BasePlan) PollExtra(context.Context) (Flow, error)          { return Continue, nil }

// Run delegates to sub until it returns Break or an error. Composition is
// plain Go recursion: an outer plan's handler calls Run(ctx, subPlan) and
// resumes its own logic once the sub-plan is done, with no separate runtime
// needed since the call stack already tracks the nesting.
func Run(ctx context.Context, tick func(context.Context, Plan) (Flow, error), sub Plan) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		flow, err := tick(ctx, sub)
		if err != nil {
			return err
		}
		if flow == Break {
			return nil
		}
	}
}
