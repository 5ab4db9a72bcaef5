package plan

import (
	"context"
	"fmt"
)

// MirrorStep is an operator's keyboard-driven nudge during manual mirror
// calibration, in motor microsteps along one axis.
type MirrorStep struct {
	DX, DY int32
}

// CalibrationPlan drives the interactive mirror-calibration CLI: it tracks
// the mirror's last reported position and lets an operator issue relative
// moves through the Step channel until they signal done, at which point it
// reports the final aim via OnDone.
type CalibrationPlan struct {
	BasePlan

	Step chan MirrorStep
	Done chan struct{}
	move func(dx, dy int32) error

	OnDone func(finalX, finalY int32) error

	lastX, lastY int32
}

// NewCalibrationPlan wires a CalibrationPlan to move, the function that
// issues a relative mirror move request to the mirror agent's port.
func NewCalibrationPlan(move func(dx, dy int32) error) *CalibrationPlan {
	return &CalibrationPlan{
		Step: make(chan MirrorStep),
		Done: make(chan struct{}),
		move: move,
	}
}

func (p *CalibrationPlan) HandleMirror(out MirrorOutput) (Flow, error) {
	p.lastX, p.lastY = out.X, out.Y
	return Continue, nil
}

// Move queues a relative mirror nudge for the plan's poll loop to apply, so
// that callers outside the broker goroutine (e.g. the admin API) can drive
// calibration without reaching into the agent port directly.
func (p *CalibrationPlan) Move(dx, dy int32) error {
	p.Step <- MirrorStep{DX: dx, DY: dy}
	return nil
}

func (p *CalibrationPlan) PollExtra(ctx context.Context) (Flow, error) {
	select {
	case step := <-p.Step:
		if err := p.move(step.DX, step.DY); err != nil {
			return Continue, fmt.Errorf("plan: calibration move: %w", err)
		}
		return Continue, nil
	case <-p.Done:
		if p.OnDone != nil {
			if err := p.OnDone(p.lastX, p.lastY); err != nil {
				return Break, fmt.Errorf("plan: calibration done callback: %w", err)
			}
		}
		return Break, nil
	case <-ctx.Done():
		return Break, ctx.Err()
	default:
		return Continue, nil
	}
}
