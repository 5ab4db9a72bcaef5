package agent

import (
	"context"

	"github.com/orbagent/core/internal/subprocess"
)

// processStrategy runs an agent as a subprocess, communicating over shared
// memory regions attached by internal/shm and supervised by
// internal/subprocess.
type processStrategy struct {
	spec   subprocess.Spec
	policy ExitPolicy
	handle *subprocess.Handle
	exited chan ExitEvent
}

// NewProcessStrategy launches spec as a subprocess. This is the most
// isolated and most expensive strategy: use it for agents that can crash
// independently of the broker (camera pipelines, ML inference) without
// taking the whole Orb runtime down with them.
func NewProcessStrategy(spec subprocess.Spec, policy ExitPolicy) Strategy {
	return &processStrategy{spec: spec, policy: policy, exited: make(chan ExitEvent, 1)}
}

// Start launches a fresh subprocess from p.spec. p.spec (and in particular
// p.spec.Regions) is unchanged across repeated calls, so a restart after a
// crash re-attaches the new child to the exact shared-memory regions, init
// payload included, that the previous child used.
func (p *processStrategy) Start(ctx context.Context) error {
	h, err := subprocess.Launch(ctx, p.spec)
	if err != nil {
		return err
	}
	p.handle = h
	p.exited = make(chan ExitEvent, 1)
	exited := p.exited
	go func() {
		err := <-h.Exited()
		exited <- ExitEvent{Err: err}
		close(exited)
	}()
	return nil
}

func (p *processStrategy) Exited() <-chan ExitEvent { return p.exited }

func (p *processStrategy) Stop(ctx context.Context) error {
	if p.handle == nil {
		return nil
	}
	return p.handle.Stop()
}

func (p *processStrategy) Policy() ExitPolicy { return p.policy }

// PID exposes the subprocess's PID once started, or 0 if not yet launched.
func (p *processStrategy) PID() int {
	if p.handle == nil {
		return 0
	}
	return p.handle.PID()
}
